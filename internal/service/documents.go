package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
)

const maxReferralLabs = 10

// defaultProvider identifies the clinic on generated documents until provider
// records are modeled.
var defaultProvider = domain.ProviderInfo{
	Name:         "Dr. Primary Care",
	NPI:          "1234567890",
	Facility:     "Primary Care Clinic",
	ContactPhone: "555-123-4567",
	ContactEmail: "provider@clinic.example",
}

// DocumentService generates post-diagnosis documents: prior authorization
// requests and specialist referral letters. Generation is deterministic and
// template driven; patient data comes from the same reader the pipeline uses.
type DocumentService struct {
	patients domain.PatientReader
	logger   *logrus.Logger
}

// NewDocumentService creates a new document generator service
func NewDocumentService(patients domain.PatientReader, logger *logrus.Logger) *DocumentService {
	return &DocumentService{
		patients: patients,
		logger:   logger,
	}
}

// PriorAuthParams are the inputs for a prior authorization request
type PriorAuthParams struct {
	PatientID     string `json:"patient_id"`
	Diagnosis     string `json:"diagnosis"`
	DiagnosisCode string `json:"diagnosis_code,omitempty"`
	Treatment     string `json:"treatment"`
}

// PriorAuthorization builds an insurance prior authorization request for a
// treatment of a finalized diagnosis
func (s *DocumentService) PriorAuthorization(ctx context.Context, params PriorAuthParams) (*domain.PriorAuthorization, error) {
	if strings.TrimSpace(params.Diagnosis) == "" {
		return nil, domain.NewMissingInputError("diagnosis", "diagnosis is required for prior authorization")
	}
	if strings.TrimSpace(params.Treatment) == "" {
		return nil, domain.NewMissingInputError("treatment", "treatment is required for prior authorization")
	}

	pc, err := s.patients.GetPatientContext(ctx, params.PatientID)
	if err != nil {
		return nil, fmt.Errorf("loading patient %s: %w", params.PatientID, err)
	}

	auth := &domain.PriorAuthorization{
		PatientID:        pc.PatientID,
		BirthDate:        pc.BirthDate,
		Gender:           pc.Gender,
		InsuranceID:      insuranceID(pc.PatientID),
		Provider:         defaultProvider,
		Diagnosis:        params.Diagnosis,
		DiagnosisCode:    params.DiagnosisCode,
		RequestedService: params.Treatment,
		ServiceCode:      serviceCode(params.Treatment),
		StartDate:        time.Now().UTC().Format("2006-01-02"),
		Duration:         "3 months",
		Frequency:        treatmentFrequency(params.Treatment),
		ClinicalJustification: fmt.Sprintf(
			"Patient presents with %s confirmed by clinical evaluation and laboratory testing. "+
				"Standard first-line therapies have been ineffective or contraindicated. "+
				"The requested treatment (%s) is medically necessary according to current clinical guidelines "+
				"and is expected to improve patient outcomes and quality of life.",
			params.Diagnosis, params.Treatment),
		SupportingDocumentation: []string{
			"Clinical notes from patient encounter",
			"Relevant laboratory results",
			"Imaging reports if applicable",
		},
	}

	s.logger.WithFields(logrus.Fields{
		"patient_id": pc.PatientID,
		"diagnosis":  params.Diagnosis,
		"treatment":  params.Treatment,
	}).Info("Prior authorization generated")

	return auth, nil
}

// ReferralParams are the inputs for a specialist referral letter
type ReferralParams struct {
	PatientID      string `json:"patient_id"`
	Diagnosis      string `json:"diagnosis"`
	DiagnosisCode  string `json:"diagnosis_code,omitempty"`
	SpecialistType string `json:"specialist_type"`
}

// SpecialistReferral builds a referral letter for a finalized diagnosis. The
// clinical sections are assembled from the stored patient context; lab values
// carry reference-range flags.
func (s *DocumentService) SpecialistReferral(ctx context.Context, params ReferralParams) (*domain.SpecialistReferral, error) {
	if strings.TrimSpace(params.Diagnosis) == "" {
		return nil, domain.NewMissingInputError("diagnosis", "diagnosis is required for a referral")
	}
	if strings.TrimSpace(params.SpecialistType) == "" {
		return nil, domain.NewMissingInputError("specialist_type", "specialist type is required for a referral")
	}

	pc, err := s.patients.GetPatientContext(ctx, params.PatientID)
	if err != nil {
		return nil, fmt.Errorf("loading patient %s: %w", params.PatientID, err)
	}

	referral := &domain.SpecialistReferral{
		Date:               time.Now().UTC().Format("2006-01-02"),
		ReferringProvider:  defaultProvider,
		SpecialistType:     params.SpecialistType,
		SpecialistFacility: params.SpecialistType + " Specialty Center",
		PatientID:          pc.PatientID,
		BirthDate:          pc.BirthDate,
		Gender:             pc.Gender,
		Diagnosis:          params.Diagnosis,
		DiagnosisCode:      params.DiagnosisCode,
		ReferralReason:     referralReason(params.Diagnosis, params.SpecialistType),
		PresentIllness: fmt.Sprintf(
			"Patient presents with symptoms consistent with %s. Detailed evaluation was performed "+
				"in the primary care setting, and findings warrant specialist assessment.",
			params.Diagnosis),
		PastMedicalHistory:  conditionHistory(pc.Conditions),
		CurrentMedications:  medicationLines(pc.Medications),
		RecentLabs:          flagRecentLabs(pc.RecentLabs),
		RequestedEvaluation: requestedEvaluation(params.Diagnosis, params.SpecialistType),
	}

	s.logger.WithFields(logrus.Fields{
		"patient_id": pc.PatientID,
		"diagnosis":  params.Diagnosis,
		"specialist": params.SpecialistType,
	}).Info("Specialist referral generated")

	return referral, nil
}

// insuranceID derives a stable pseudo insurance id from the patient business
// id until coverage records are modeled.
func insuranceID(patientID string) string {
	id := patientID
	if len(id) > 8 {
		id = id[:8]
	}
	return "INS" + strings.ToUpper(id)
}

func serviceCode(treatment string) string {
	lower := strings.ToLower(treatment)
	switch {
	case strings.Contains(lower, "methotrexate"):
		return "J8610"
	case strings.Contains(lower, "physical therapy"):
		return "97110"
	case strings.Contains(lower, "infusion"):
		return "96365"
	default:
		return "99070"
	}
}

func treatmentFrequency(treatment string) string {
	lower := strings.ToLower(treatment)
	switch {
	case strings.Contains(lower, "methotrexate"):
		return "Weekly"
	case strings.Contains(lower, "daily"):
		return "Daily"
	case strings.Contains(lower, "monthly"):
		return "Monthly"
	default:
		return "As directed"
	}
}

func referralReason(diagnosis, specialistType string) string {
	switch {
	case specialistType == "Rheumatology" && strings.Contains(diagnosis, "Rheumatoid Arthritis"):
		return "Evaluation and management of newly diagnosed rheumatoid arthritis"
	case specialistType == "Hematology-Oncology" && strings.Contains(diagnosis, "Leukemia"):
		return "Urgent evaluation and management of suspected leukemia"
	default:
		return "Evaluation and management of " + diagnosis
	}
}

func requestedEvaluation(diagnosis, specialistType string) []string {
	switch {
	case specialistType == "Rheumatology" && strings.Contains(diagnosis, "Rheumatoid Arthritis"):
		return []string{
			"Comprehensive rheumatologic evaluation",
			"Assessment of disease activity and prognosis",
			"Development of treatment plan",
			"Consideration of DMARD therapy",
		}
	case specialistType == "Hematology-Oncology" && strings.Contains(diagnosis, "Leukemia"):
		return []string{
			"Urgent comprehensive hematologic evaluation",
			"Bone marrow biopsy and cytogenetic analysis",
			"Staging and risk stratification",
			"Development of treatment plan",
		}
	default:
		return []string{
			"Comprehensive evaluation for " + diagnosis,
			"Development of specialist-guided treatment plan",
			"Recommendations for ongoing management",
		}
	}
}

func conditionHistory(conditions []domain.Condition) []string {
	history := make([]string, 0, len(conditions))
	for _, c := range conditions {
		entry := c.Description
		if entry == "" {
			entry = c.Code
		}
		if entry != "" {
			history = append(history, entry)
		}
	}
	return history
}

func medicationLines(medications []domain.Medication) []string {
	lines := make([]string, 0, len(medications))
	for _, m := range medications {
		line := m.Name
		if m.Dosage != "" {
			line += " " + m.Dosage
		}
		lines = append(lines, line)
	}
	return lines
}

// Reference-range thresholds for the lab flags on referral letters.
var (
	labHighThresholds = map[string]float64{
		"METABOLIC: GLUCOSE":          100,
		"CBC: WHITE BLOOD CELLS":      10.5,
		"METABOLIC: CREATININE":       1.2,
		"URINALYSIS: RED BLOOD CELLS": 2,
		"ESR":                         20,
		"CRP":                         1.0,
	}
	labLowThresholds = map[string]float64{
		"METABOLIC: GLUCOSE":   70,
		"CBC: HEMOGLOBIN":      12,
		"CBC: PLATELETS":       150,
		"METABOLIC: POTASSIUM": 3.5,
		"METABOLIC: SODIUM":    135,
	}
)

func labFlag(name string, value float64) string {
	if threshold, ok := labHighThresholds[name]; ok && value > threshold {
		return "H"
	}
	if threshold, ok := labLowThresholds[name]; ok && value < threshold {
		return "L"
	}
	return "N"
}

// flagRecentLabs returns up to maxReferralLabs results, newest first, each
// annotated with its reference-range flag.
func flagRecentLabs(labs []domain.LabResult) []domain.FlaggedLab {
	sorted := append([]domain.LabResult(nil), labs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DateTime.After(sorted[j].DateTime)
	})
	if len(sorted) > maxReferralLabs {
		sorted = sorted[:maxReferralLabs]
	}

	flagged := make([]domain.FlaggedLab, 0, len(sorted))
	for _, lab := range sorted {
		flagged = append(flagged, domain.FlaggedLab{
			LabResult: lab,
			Flag:      labFlag(lab.Name, lab.Value),
		})
	}
	return flagged
}
