// Package prompts builds the structured prompts sent to the reasoning service.
// Each prompt maps to exactly one structured field or object in the pipeline.
package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinical-pipeline-server/internal/domain"
)

// maxTranscriptChars bounds how much transcript is embedded in a prompt.
const maxTranscriptChars = 12000

// PatientContextBlock renders the read-only patient picture as an indented
// JSON block for prompt embedding.
func PatientContextBlock(pc *domain.PatientContext) string {
	if pc == nil {
		return "PATIENT CONTEXT: none available"
	}
	data, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return "PATIENT CONTEXT: none available"
	}
	return "PATIENT CONTEXT:\n" + string(data)
}

// Differential builds the prompt for the differential generator
func Differential(pc *domain.PatientContext, transcript string, symptoms []string, guidelines []domain.GuidelineEntry) string {
	var b strings.Builder

	b.WriteString("Based on the patient context and encounter transcript below, produce a ranked differential diagnosis.\n\n")
	b.WriteString(PatientContextBlock(pc))
	b.WriteString("\n\n")

	if len(symptoms) > 0 {
		fmt.Fprintf(&b, "IDENTIFIED SYMPTOMS: %s\n\n", strings.Join(symptoms, ", "))
	}

	b.WriteString("ENCOUNTER TRANSCRIPT:\n")
	b.WriteString(clampTranscript(transcript))
	b.WriteString("\n\n")

	if len(guidelines) > 0 {
		b.WriteString("RELEVANT GUIDELINE EXCERPTS:\n")
		for _, g := range guidelines {
			fmt.Fprintf(&b, "- %s: %s\n", g.Title, g.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString(`Respond with a JSON array of 2 to 5 candidate diagnoses ordered from most to least likely. Each element must have:
  "name": string,
  "qualitativeRisk": one of "Certain", "High", "Medium", "Low", "Very Low",
  "likelihoodPercentage": number between 0 and 100,
  "keyFactors": string summarizing the findings driving this candidate`)

	return b.String()
}

// Finalizer builds the prompt for the diagnosis finalizer
func Finalizer(pc *domain.PatientContext, transcript string, differentials []domain.DifferentialDiagnosis) string {
	var b strings.Builder

	b.WriteString("Select the single best diagnosis for this encounter.\n\n")
	b.WriteString(PatientContextBlock(pc))
	b.WriteString("\n\n")

	if len(differentials) > 0 {
		b.WriteString("RANKED DIFFERENTIAL:\n")
		for _, d := range differentials {
			fmt.Fprintf(&b, "%d. %s (%s, %.0f%%) - %s\n", d.Rank, d.Name, d.QualitativeRisk, d.LikelihoodPercentage, d.KeyFactors)
		}
	} else {
		b.WriteString("RANKED DIFFERENTIAL: none established; reason from the transcript alone.\n")
	}
	b.WriteString("\n")

	b.WriteString("ENCOUNTER TRANSCRIPT:\n")
	b.WriteString(clampTranscript(transcript))
	b.WriteString("\n\n")

	b.WriteString(`Respond with a single JSON object:
  "diagnosisName": string (required),
  "diagnosisCode": ICD-10 code string,
  "confidence": number between 0 and 1 (required),
  "supportingEvidence": array of strings,
  "recommendedTests": array of strings,
  "recommendedTreatments": array of strings (required)`)

	return b.String()
}

// Extraction field identifiers. Each corresponds to one narrow single-field
// call; single-field extraction is more reliable than one multi-field call.
const (
	FieldConditionDescription = "condition_description"
	FieldClassificationCode   = "classification_code"
	FieldReasonCode           = "reason_code"
	FieldReasonText           = "reason_text"
)

// ExtractionField builds the narrow single-field prompt for one extracted field
func ExtractionField(field string, diagnosisName string, transcript string) string {
	excerpt := clampTranscript(transcript)
	switch field {
	case FieldConditionDescription:
		return fmt.Sprintf("Provide a concise clinical description (one sentence, no preamble) of the condition %q as it presents in this encounter:\n\n%s", diagnosisName, excerpt)
	case FieldClassificationCode:
		return fmt.Sprintf("Provide the single most appropriate ICD-10 code for the diagnosis %q. Respond with the code only, nothing else.", diagnosisName)
	case FieldReasonCode:
		return fmt.Sprintf("Provide the single most appropriate encounter reason code (ICD-10 or SNOMED CT) for a visit where the finalized diagnosis is %q and the transcript begins:\n\n%s\n\nRespond with the code only.", diagnosisName, excerpt)
	case FieldReasonText:
		return fmt.Sprintf("In one short phrase suitable for an encounter record, state the reason for this visit:\n\n%s\n\nRespond with the phrase only, no punctuation at the end.", excerpt)
	default:
		return fmt.Sprintf("Extract the field %q for diagnosis %q from:\n\n%s", field, diagnosisName, excerpt)
	}
}

// Soap builds the prompt for the SOAP note composer. The assessment section
// contract ("<Name> (<Code>)") is restated to the model and enforced by the
// composer afterwards regardless.
func Soap(transcript string, result *domain.DiagnosticResult) string {
	var b strings.Builder

	b.WriteString("Compose a SOAP note for this encounter.\n\n")
	b.WriteString("ENCOUNTER TRANSCRIPT:\n")
	b.WriteString(clampTranscript(transcript))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "FINALIZED DIAGNOSIS: %s", result.DiagnosisName)
	if result.DiagnosisCode != "" {
		fmt.Fprintf(&b, " (%s)", result.DiagnosisCode)
	}
	b.WriteString("\n")
	if len(result.RecommendedTreatments) > 0 {
		fmt.Fprintf(&b, "RECOMMENDED TREATMENTS: %s\n", strings.Join(result.RecommendedTreatments, "; "))
	}
	if len(result.RecommendedTests) > 0 {
		fmt.Fprintf(&b, "RECOMMENDED TESTS: %s\n", strings.Join(result.RecommendedTests, "; "))
	}
	b.WriteString("\n")

	b.WriteString(`Respond with a single JSON object with keys "subjective", "objective", "assessment", "plan", each a free-text block.
The assessment must reference the diagnosis as "Name (Code)". The plan must enumerate the recommended treatments.`)

	return b.String()
}

func clampTranscript(transcript string) string {
	t := strings.TrimSpace(transcript)
	if len(t) > maxTranscriptChars {
		return t[:maxTranscriptChars] + "\n[transcript truncated]"
	}
	return t
}
