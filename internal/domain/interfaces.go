package domain

import (
	"context"
)

// PatientReader provides read access to patient and encounter records
type PatientReader interface {
	// GetPatientContext resolves a patient business id to the full read-only
	// patient picture. Returns ErrNotFound for unknown ids.
	GetPatientContext(ctx context.Context, patientID string) (*PatientContext, error)

	// GetEncounterTranscript returns the most recently recorded transcript for
	// an encounter. Returns ErrNotFound when the encounter does not exist or
	// has no transcript.
	GetEncounterTranscript(ctx context.Context, patientRowID int64, encounterID string) (string, error)

	// ResolveEncounterRowID maps an encounter business id to its internal row
	// id. Returns ErrNotFound for unknown encounters.
	ResolveEncounterRowID(ctx context.Context, patientRowID int64, encounterID string) (int64, error)
}

// EncounterWriter provides the write operations the persistence stage performs.
// Each method is an independently committed step; there is no cross-step
// transaction.
type EncounterWriter interface {
	// UpsertEncounterFields updates the encounter row's diagnosis, treatment
	// and SOAP columns.
	UpsertEncounterFields(ctx context.Context, encounterRowID int64, fields EncounterFields) error

	// InsertCondition records the finalized diagnosis as a condition row.
	InsertCondition(ctx context.Context, patientRowID, encounterRowID int64, code, description string) error

	// ReplaceDifferentialDiagnoses deletes all differential rows for the
	// encounter and inserts the given ranked list.
	ReplaceDifferentialDiagnoses(ctx context.Context, patientRowID, encounterRowID int64, rows []DifferentialDiagnosis) error
}

// ReasoningClient issues structured prompts to the external LLM service. The
// service is assumed to be rate limited and occasionally slow or malformed;
// callers own the fallback policy for bad responses.
type ReasoningClient interface {
	// Complete sends a prompt and returns the raw response text. shapeHint
	// describes the expected response shape ("json_object", "json_array",
	// "text") and is advisory only.
	Complete(ctx context.Context, prompt string, shapeHint string) (string, error)
}

// GuidelineClient searches clinical guideline content used as supplementary
// prompt context. Failures are tolerated by all callers.
type GuidelineClient interface {
	Search(ctx context.Context, query string, maxResults int) ([]GuidelineEntry, error)
}

// GuidelineEntry is one retrieved guideline fragment
type GuidelineEntry struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// TrialClient searches for clinical trials relevant to a diagnosis
type TrialClient interface {
	Search(ctx context.Context, diagnosis string, maxResults int) ([]ClinicalTrialMatch, error)
}
