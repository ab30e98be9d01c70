package service

import (
	"sort"
	"strings"
)

// symptomVocabulary maps transcript keywords to canonical symptom names.
// Keywords match the lowercased transcript on word boundaries.
var symptomVocabulary = map[string]string{
	"fever":               "fever",
	"febrile":             "fever",
	"chills":              "chills",
	"cough":               "cough",
	"coughing":            "cough",
	"sore throat":         "sore throat",
	"runny nose":          "rhinorrhea",
	"rhinorrhea":          "rhinorrhea",
	"congestion":          "nasal congestion",
	"shortness of breath": "dyspnea",
	"dyspnea":             "dyspnea",
	"wheezing":            "wheezing",
	"chest pain":          "chest pain",
	"chest tightness":     "chest tightness",
	"palpitations":        "palpitations",
	"headache":            "headache",
	"dizziness":           "dizziness",
	"dizzy":               "dizziness",
	"fatigue":             "fatigue",
	"tired":               "fatigue",
	"malaise":             "malaise",
	"body aches":          "myalgia",
	"muscle aches":        "myalgia",
	"myalgia":             "myalgia",
	"joint pain":          "arthralgia",
	"nausea":              "nausea",
	"vomiting":            "vomiting",
	"diarrhea":            "diarrhea",
	"constipation":        "constipation",
	"abdominal pain":      "abdominal pain",
	"stomach pain":        "abdominal pain",
	"back pain":           "back pain",
	"rash":                "rash",
	"itching":             "pruritus",
	"swelling":            "edema",
	"numbness":            "numbness",
	"tingling":            "paresthesia",
	"blurred vision":      "blurred vision",
	"loss of appetite":    "anorexia",
	"weight loss":         "weight loss",
	"night sweats":        "night sweats",
	"insomnia":            "insomnia",
	"anxiety":             "anxiety",
	"depressed":           "depressed mood",
	"confusion":           "confusion",
	"frequent urination":  "polyuria",
	"burning urination":   "dysuria",
	"dysuria":             "dysuria",
	"excessive thirst":    "polydipsia",
}

// ExtractSymptoms scans a transcript for known symptom keywords and returns
// the canonical symptom names found, deduplicated and sorted for stable prompt
// text. Purely lexical; it never calls the reasoning service.
func ExtractSymptoms(transcript string) []string {
	lower := strings.ToLower(transcript)
	seen := map[string]bool{}
	for keyword, canonical := range symptomVocabulary {
		if containsWord(lower, keyword) {
			seen[canonical] = true
		}
	}

	symptoms := make([]string, 0, len(seen))
	for s := range seen {
		symptoms = append(symptoms, s)
	}
	sort.Strings(symptoms)
	return symptoms
}

// containsWord reports whether keyword occurs in text on word boundaries, so
// "tired" does not fire inside "retired". Both arguments are lowercase.
func containsWord(text, keyword string) bool {
	for start := 0; ; {
		idx := strings.Index(text[start:], keyword)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(keyword)
		if (idx == 0 || !isWordChar(text[idx-1])) && (end == len(text) || !isWordChar(text[end])) {
			return true
		}
		start = idx + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
