package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
)

// EncounterRepository handles the write side of a pipeline run. Each method
// commits independently; there is no cross-method transaction, so callers must
// treat partial completion as a degraded-but-valid state.
type EncounterRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewEncounterRepository creates a new encounter repository
func NewEncounterRepository(db *pgxpool.Pool, logger *logrus.Logger) *EncounterRepository {
	return &EncounterRepository{
		db:  db,
		log: logger,
	}
}

// UpsertEncounterFields updates the encounter row's diagnosis, treatment and
// SOAP columns
func (r *EncounterRepository) UpsertEncounterFields(ctx context.Context, encounterRowID int64, fields domain.EncounterFields) error {
	query := `
		UPDATE encounters
		SET diagnosis = $2, diagnosis_code = $3, treatments = $4,
			soap_subjective = $5, soap_objective = $6, soap_assessment = $7, soap_plan = $8,
			reason_code = $9, reason_display_text = $10, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		encounterRowID,
		fields.Diagnosis,
		fields.DiagnosisCode,
		fields.Treatments,
		fields.SoapSubjective,
		fields.SoapObjective,
		fields.SoapAssessment,
		fields.SoapPlan,
		fields.ReasonCode,
		fields.ReasonDisplayText,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"encounter_row_id": encounterRowID,
			"error":            err,
		}).Error("Failed to update encounter fields")
		return fmt.Errorf("updating encounter fields: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("encounter row %d: %w", encounterRowID, domain.ErrNotFound)
	}

	r.log.WithFields(logrus.Fields{
		"encounter_row_id": encounterRowID,
		"diagnosis":        fields.Diagnosis,
		"diagnosis_code":   fields.DiagnosisCode,
	}).Info("Encounter fields updated")

	return nil
}

// InsertCondition records the finalized diagnosis as a condition row
func (r *EncounterRepository) InsertCondition(ctx context.Context, patientRowID, encounterRowID int64, code, description string) error {
	query := `
		INSERT INTO conditions (patient_row_id, encounter_row_id, code, description)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query, patientRowID, encounterRowID, code, description)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_row_id":   patientRowID,
			"encounter_row_id": encounterRowID,
			"code":             code,
			"error":            err,
		}).Error("Failed to insert condition")
		return fmt.Errorf("inserting condition: %w", err)
	}

	return nil
}

// ReplaceDifferentialDiagnoses deletes all differential rows for the encounter
// and inserts the given ranked list. Delete and insert run inside a single
// transaction where the store supports it, so readers never observe a mix of
// two runs' rows.
func (r *EncounterRepository) ReplaceDifferentialDiagnoses(ctx context.Context, patientRowID, encounterRowID int64, diagnoses []domain.DifferentialDiagnosis) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning differential replace transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM differential_diagnoses WHERE encounter_row_id = $1`,
		encounterRowID,
	); err != nil {
		return fmt.Errorf("deleting prior differential rows: %w", err)
	}

	for _, d := range diagnoses {
		if _, err := tx.Exec(ctx, `
			INSERT INTO differential_diagnoses
				(patient_row_id, encounter_row_id, name, qualitative_risk, likelihood_percentage, key_factors, rank_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			patientRowID,
			encounterRowID,
			d.Name,
			string(d.QualitativeRisk),
			d.LikelihoodPercentage,
			d.KeyFactors,
			d.Rank,
		); err != nil {
			return fmt.Errorf("inserting differential row %d: %w", d.Rank, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing differential replace: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"encounter_row_id": encounterRowID,
		"row_count":        len(diagnoses),
	}).Info("Differential diagnoses replaced")

	return nil
}

// ListDifferentialDiagnoses returns the stored differential rows for an
// encounter ordered by rank
func (r *EncounterRepository) ListDifferentialDiagnoses(ctx context.Context, encounterRowID int64) ([]domain.DifferentialDiagnosis, error) {
	query := `
		SELECT name, qualitative_risk, likelihood_percentage, key_factors, rank_order
		FROM differential_diagnoses
		WHERE encounter_row_id = $1
		ORDER BY rank_order ASC`

	rows, err := r.db.Query(ctx, query, encounterRowID)
	if err != nil {
		return nil, fmt.Errorf("listing differential rows: %w", err)
	}
	defer rows.Close()

	var diagnoses []domain.DifferentialDiagnosis
	for rows.Next() {
		var d domain.DifferentialDiagnosis
		var risk string
		if err := rows.Scan(&d.Name, &risk, &d.LikelihoodPercentage, &d.KeyFactors, &d.Rank); err != nil {
			return nil, fmt.Errorf("scanning differential row: %w", err)
		}
		d.QualitativeRisk = domain.Likelihood(risk)
		diagnoses = append(diagnoses, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating differential rows: %w", err)
	}
	return diagnoses, nil
}
