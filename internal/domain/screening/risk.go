package screening

import "strings"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusReviewed  Status = "reviewed"
)

type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Assessment is derived on every read and never stored. Risk is nil when
// there is nothing to grade yet.
type Assessment struct {
	Status Status `json:"status"`
	Risk   *Risk  `json:"risk"`
}

func riskPtr(r Risk) *Risk { return &r }

// Classify dispatches on the patient's program.
func Classify(p *Patient) Assessment {
	if p.ScreeningType == Oroscan {
		return ClassifyOroscan(len(p.Images), p.Diagnoses)
	}
	return ClassifyMedtech(p.Responses)
}

// ClassifyOroscan grades from the most recent diagnosis confidence.
func ClassifyOroscan(imageCount int, diagnoses []*Diagnosis) Assessment {
	latest := latestDiagnosis(diagnoses)
	switch {
	case latest != nil:
		return Assessment{Status: StatusReviewed, Risk: riskPtr(OroscanRisk(latest.Confidence))}
	case imageCount > 0:
		return Assessment{Status: StatusCompleted}
	}
	return Assessment{Status: StatusPending}
}

// OroscanRisk maps a diagnosis confidence onto a risk band.
func OroscanRisk(confidence float64) Risk {
	switch {
	case confidence >= 0.7:
		return RiskHigh
	case confidence >= 0.4:
		return RiskMedium
	}
	return RiskLow
}

// ClassifyMedtech grades a response set with MedtechRiskScore.
func ClassifyMedtech(responses []*PatientResponse) Assessment {
	if len(responses) == 0 {
		return Assessment{Status: StatusPending}
	}
	return Assessment{Status: StatusCompleted, Risk: riskPtr(MedtechRisk(MedtechRiskScore(responses)))}
}

type scoreRule struct {
	keyword string
	matches func(answer string) bool
	delta   int
}

func equals(want string) func(string) bool {
	return func(answer string) bool { return answer == want }
}

var medtechRules = []scoreRule{
	{"tired", IsAffirmative, 2},
	{"dizzy", IsAffirmative, 2},
	{"diagnosed with anemia", IsAffirmative, 3},
	{"bleeding", IsAffirmative, 2},
	{"weight loss", IsAffirmative, 2},
	{"chronic", IsAffirmative, 2},
	{"iron-rich", IsAffirmative, -1},
	{"fruits and vegetables", equals("daily"), -1},
	{"physical activity", IsAffirmative, -1},
	{"energy", equals("high"), -1},
	{"energy", equals("low"), 2},
}

// MedtechRiskScore sums keyword weights over question text. Every matching
// rule contributes, so one response can score more than once.
func MedtechRiskScore(responses []*PatientResponse) int {
	score := 0
	for _, r := range responses {
		text := strings.ToLower(r.QuestionText)
		answer := strings.ToLower(strings.TrimSpace(r.Answer))
		for _, rule := range medtechRules {
			if strings.Contains(text, rule.keyword) && rule.matches(answer) {
				score += rule.delta
			}
		}
	}
	return score
}

// MedtechRisk maps a score: up to 2 is low, 3 to 5 is medium, above is high.
func MedtechRisk(score int) Risk {
	switch {
	case score <= 2:
		return RiskLow
	case score <= 5:
		return RiskMedium
	}
	return RiskHigh
}
