package domain

import (
	"time"
)

// Core Enums and Types

// Likelihood represents the qualitative likelihood of a differential diagnosis
type Likelihood string

const (
	LikelihoodCertain Likelihood = "Certain"
	LikelihoodHigh    Likelihood = "High"
	LikelihoodMedium  Likelihood = "Medium"
	LikelihoodLow     Likelihood = "Low"
	LikelihoodVeryLow Likelihood = "Very Low"
)

// likelihoodOrder maps qualitative likelihoods to their sort precedence.
// Lower value sorts first.
var likelihoodOrder = map[Likelihood]int{
	LikelihoodCertain: 0,
	LikelihoodHigh:    1,
	LikelihoodMedium:  2,
	LikelihoodLow:     3,
	LikelihoodVeryLow: 4,
}

// Rank returns the sort precedence for a likelihood. Unknown values sort last
// so malformed model output never displaces a recognized likelihood.
func (l Likelihood) Rank() int {
	if r, ok := likelihoodOrder[l]; ok {
		return r
	}
	return len(likelihoodOrder)
}

// String returns the string representation of the likelihood
func (l Likelihood) String() string {
	return string(l)
}

// PipelineState represents the orchestrator's progress through a run
type PipelineState string

const (
	StateCreated                PipelineState = "Created"
	StateDifferentialsGenerated PipelineState = "DifferentialsGenerated"
	StateDiagnosisFinalized     PipelineState = "DiagnosisFinalized"
	StateFieldsExtracted        PipelineState = "FieldsExtracted"
	StateNoteComposed           PipelineState = "NoteComposed"
	StatePersisted              PipelineState = "Persisted"
	StateCompleted              PipelineState = "Completed"
	StateFailed                 PipelineState = "Failed"
)

// FallbackDiagnosisName is the sentinel diagnosis used when the reasoning
// service's finalizer output cannot be parsed. Its presence on a result is the
// documented signal that the run completed in degraded mode.
const FallbackDiagnosisName = "Clinical evaluation pending"

// FallbackConfidence is the confidence attached to the sentinel diagnosis.
const FallbackConfidence = 0.5

// Patient and Encounter Models

// PatientContext carries the read-only patient picture fed into prompts.
// It is owned by the repository and never mutated by the pipeline.
type PatientContext struct {
	PatientRowID int64        `json:"-"`
	PatientID    string       `json:"patient_id"`
	Gender       string       `json:"gender,omitempty"`
	BirthDate    string       `json:"birth_date,omitempty"`
	Race         string       `json:"race,omitempty"`
	Conditions   []Condition  `json:"conditions,omitempty"`
	Medications  []Medication `json:"medications,omitempty"`
	RecentLabs   []LabResult  `json:"recent_labs,omitempty"`
}

// Condition represents an active or historical diagnosed condition
type Condition struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Medication represents a currently prescribed medication
type Medication struct {
	Name   string `json:"name"`
	Dosage string `json:"dosage,omitempty"`
	Status string `json:"status,omitempty"`
}

// LabResult represents a single laboratory measurement
type LabResult struct {
	Name     string    `json:"name"`
	Value    float64   `json:"value"`
	Units    string    `json:"units,omitempty"`
	DateTime time.Time `json:"date_time"`
}

// Pipeline Artifact Models

// DifferentialDiagnosis is one ranked candidate diagnosis. Rows are generated
// fresh per pipeline run; the persistence writer supersedes all prior rows for
// the encounter.
type DifferentialDiagnosis struct {
	Name                 string     `json:"name"`
	QualitativeRisk      Likelihood `json:"qualitative_risk"`
	LikelihoodPercentage float64    `json:"likelihood_percentage"`
	KeyFactors           string     `json:"key_factors,omitempty"`
	Rank                 int        `json:"rank"`
}

// DiagnosticResult is the finalized diagnosis for a run. A new run overwrites
// the encounter's stored diagnosis fields; results are not versioned.
type DiagnosticResult struct {
	DiagnosisName         string               `json:"diagnosis_name"`
	DiagnosisCode         string               `json:"diagnosis_code,omitempty"`
	Confidence            float64              `json:"confidence"`
	SupportingEvidence    []string             `json:"supporting_evidence"`
	RecommendedTests      []string             `json:"recommended_tests"`
	RecommendedTreatments []string             `json:"recommended_treatments"`
	ClinicalTrialMatches  []ClinicalTrialMatch `json:"clinical_trial_matches,omitempty"`
}

// IsFallback reports whether this result is the sentinel produced when the
// finalizer could not parse the reasoning service's output.
func (r *DiagnosticResult) IsFallback() bool {
	return r.DiagnosisName == FallbackDiagnosisName
}

// ClinicalTrialMatch represents a clinical trial potentially relevant to the
// finalized diagnosis
type ClinicalTrialMatch struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Phase       string `json:"phase,omitempty"`
	Location    string `json:"location,omitempty"`
	Contact     string `json:"contact,omitempty"`
	Eligibility string `json:"eligibility,omitempty"`
}

// ExtractedFields are the four independently derived short fields produced by
// the extraction stage. Each field defaults to empty when its own call fails.
type ExtractedFields struct {
	ConditionDescription string `json:"condition_description"`
	ClassificationCode   string `json:"classification_code"`
	ReasonCode           string `json:"reason_code"`
	ReasonText           string `json:"reason_text"`
}

// SoapNote is the structured clinical note. Assessment always references the
// finalized diagnosis as "<Name> (<Code>)"; downstream UI greps for that
// pattern.
type SoapNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// RunWarning records a non-fatal fault attached to a completed run
type RunWarning struct {
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// PipelineRunResult is the aggregate returned to the caller. It is not
// persisted verbatim; the persistence writer decomposes its fields into the
// respective tables.
type PipelineRunResult struct {
	RequestID        string                  `json:"request_id"`
	PatientID        string                  `json:"patient_id"`
	EncounterID      string                  `json:"encounter_id"`
	Differentials    []DifferentialDiagnosis `json:"differentials"`
	DiagnosticResult DiagnosticResult        `json:"diagnostic_result"`
	ExtractedFields  ExtractedFields         `json:"extracted_fields"`
	SoapNote         SoapNote                `json:"soap_note"`
	State            PipelineState           `json:"state"`
	Warnings         []RunWarning            `json:"warnings,omitempty"`
	StartedAt        time.Time               `json:"started_at"`
	CompletedAt      time.Time               `json:"completed_at"`
}

// Degraded reports whether the run fell back anywhere a caller can observe:
// the sentinel diagnosis or at least one attached warning.
func (r *PipelineRunResult) Degraded() bool {
	return r.DiagnosticResult.IsFallback() || len(r.Warnings) > 0
}

// Post-Diagnosis Documents

// ProviderInfo identifies the referring or requesting provider on a generated
// document
type ProviderInfo struct {
	Name         string `json:"name"`
	NPI          string `json:"npi"`
	Facility     string `json:"facility"`
	ContactPhone string `json:"contact_phone,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
}

// PriorAuthorization is an insurance prior authorization request generated
// after a diagnosis is finalized
type PriorAuthorization struct {
	PatientID               string       `json:"patient_id"`
	BirthDate               string       `json:"birth_date,omitempty"`
	Gender                  string       `json:"gender,omitempty"`
	InsuranceID             string       `json:"insurance_id"`
	Provider                ProviderInfo `json:"provider"`
	Diagnosis               string       `json:"diagnosis"`
	DiagnosisCode           string       `json:"diagnosis_code,omitempty"`
	RequestedService        string       `json:"requested_service"`
	ServiceCode             string       `json:"service_code"`
	StartDate               string       `json:"start_date"`
	Duration                string       `json:"duration"`
	Frequency               string       `json:"frequency"`
	ClinicalJustification   string       `json:"clinical_justification"`
	SupportingDocumentation []string     `json:"supporting_documentation"`
}

// FlaggedLab is a lab result annotated with an H, L or N reference-range flag
type FlaggedLab struct {
	LabResult
	Flag string `json:"flag"`
}

// SpecialistReferral is a referral letter generated after a diagnosis is
// finalized
type SpecialistReferral struct {
	Date                string       `json:"date"`
	ReferringProvider   ProviderInfo `json:"referring_provider"`
	SpecialistType      string       `json:"specialist_type"`
	SpecialistFacility  string       `json:"specialist_facility"`
	PatientID           string       `json:"patient_id"`
	BirthDate           string       `json:"birth_date,omitempty"`
	Gender              string       `json:"gender,omitempty"`
	Diagnosis           string       `json:"diagnosis"`
	DiagnosisCode       string       `json:"diagnosis_code,omitempty"`
	ReferralReason      string       `json:"referral_reason"`
	PresentIllness      string       `json:"history_of_present_illness"`
	PastMedicalHistory  []string     `json:"past_medical_history"`
	CurrentMedications  []string     `json:"current_medications"`
	RecentLabs          []FlaggedLab `json:"recent_lab_results,omitempty"`
	RequestedEvaluation []string     `json:"requested_evaluation"`
}

// EncounterFields are the encounter-row columns the persistence writer updates
// after a run
type EncounterFields struct {
	Diagnosis         string `json:"diagnosis"`
	DiagnosisCode     string `json:"diagnosis_code"`
	Treatments        string `json:"treatments"`
	SoapSubjective    string `json:"soap_subjective"`
	SoapObjective     string `json:"soap_objective"`
	SoapAssessment    string `json:"soap_assessment"`
	SoapPlan          string `json:"soap_plan"`
	ReasonCode        string `json:"reason_code"`
	ReasonDisplayText string `json:"reason_display_text"`
}
