package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
)

// maxRecentLabs bounds how much lab history is folded into prompt context.
const maxRecentLabs = 20

// PatientRepository handles patient and encounter reads
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

// GetPatientContext resolves a patient business id to the full read-only
// patient picture: demographics, conditions, medications and recent labs.
func (r *PatientRepository) GetPatientContext(ctx context.Context, patientID string) (*domain.PatientContext, error) {
	pc := &domain.PatientContext{PatientID: patientID}

	query := `
		SELECT id, gender, birth_date, race
		FROM patients
		WHERE patient_id = $1`

	err := r.db.QueryRow(ctx, query, patientID).Scan(
		&pc.PatientRowID,
		&pc.Gender,
		&pc.BirthDate,
		&pc.Race,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("patient %s: %w", patientID, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to resolve patient")
		return nil, fmt.Errorf("resolving patient: %w", err)
	}

	if pc.Conditions, err = r.listConditions(ctx, pc.PatientRowID); err != nil {
		return nil, err
	}
	if pc.Medications, err = r.listMedications(ctx, pc.PatientRowID); err != nil {
		return nil, err
	}
	if pc.RecentLabs, err = r.listRecentLabs(ctx, pc.PatientRowID); err != nil {
		return nil, err
	}

	return pc, nil
}

func (r *PatientRepository) listConditions(ctx context.Context, patientRowID int64) ([]domain.Condition, error) {
	query := `
		SELECT code, description
		FROM conditions
		WHERE patient_row_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, patientRowID)
	if err != nil {
		return nil, fmt.Errorf("listing conditions: %w", err)
	}
	defer rows.Close()

	var conditions []domain.Condition
	for rows.Next() {
		var c domain.Condition
		if err := rows.Scan(&c.Code, &c.Description); err != nil {
			return nil, fmt.Errorf("scanning condition row: %w", err)
		}
		conditions = append(conditions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating condition rows: %w", err)
	}
	return conditions, nil
}

func (r *PatientRepository) listMedications(ctx context.Context, patientRowID int64) ([]domain.Medication, error) {
	query := `
		SELECT name, dosage, status
		FROM medications
		WHERE patient_row_id = $1 AND status = 'active'
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, patientRowID)
	if err != nil {
		return nil, fmt.Errorf("listing medications: %w", err)
	}
	defer rows.Close()

	var medications []domain.Medication
	for rows.Next() {
		var m domain.Medication
		if err := rows.Scan(&m.Name, &m.Dosage, &m.Status); err != nil {
			return nil, fmt.Errorf("scanning medication row: %w", err)
		}
		medications = append(medications, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating medication rows: %w", err)
	}
	return medications, nil
}

func (r *PatientRepository) listRecentLabs(ctx context.Context, patientRowID int64) ([]domain.LabResult, error) {
	query := `
		SELECT name, value, units, recorded_at
		FROM lab_results
		WHERE patient_row_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, patientRowID, maxRecentLabs)
	if err != nil {
		return nil, fmt.Errorf("listing lab results: %w", err)
	}
	defer rows.Close()

	var labs []domain.LabResult
	for rows.Next() {
		var l domain.LabResult
		if err := rows.Scan(&l.Name, &l.Value, &l.Units, &l.DateTime); err != nil {
			return nil, fmt.Errorf("scanning lab result row: %w", err)
		}
		labs = append(labs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lab result rows: %w", err)
	}
	return labs, nil
}

// GetEncounterTranscript returns the most recently recorded transcript for an
// encounter
func (r *PatientRepository) GetEncounterTranscript(ctx context.Context, patientRowID int64, encounterID string) (string, error) {
	query := `
		SELECT transcript
		FROM encounters
		WHERE patient_row_id = $1 AND encounter_id = $2
		ORDER BY transcript_recorded_at DESC NULLS LAST
		LIMIT 1`

	var transcript string
	err := r.db.QueryRow(ctx, query, patientRowID, encounterID).Scan(&transcript)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("encounter %s: %w", encounterID, domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"encounter_id": encounterID,
			"error":        err,
		}).Error("Failed to fetch encounter transcript")
		return "", fmt.Errorf("fetching encounter transcript: %w", err)
	}
	if transcript == "" {
		return "", fmt.Errorf("encounter %s has no recorded transcript: %w", encounterID, domain.ErrNotFound)
	}
	return transcript, nil
}

// ResolveEncounterRowID maps an encounter business id to its internal row id
func (r *PatientRepository) ResolveEncounterRowID(ctx context.Context, patientRowID int64, encounterID string) (int64, error) {
	query := `
		SELECT id
		FROM encounters
		WHERE patient_row_id = $1 AND encounter_id = $2`

	var rowID int64
	err := r.db.QueryRow(ctx, query, patientRowID, encounterID).Scan(&rowID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("encounter %s: %w", encounterID, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("resolving encounter: %w", err)
	}
	return rowID, nil
}
