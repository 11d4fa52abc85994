package screening

import (
	"reflect"
	"testing"
	"time"
)

func medtechResponse(id, answer string) *PatientResponse {
	q, ok := LookupQuestion(Medtech, id)
	if !ok {
		panic("unknown medtech question " + id)
	}
	return &PatientResponse{QuestionID: q.ID, Category: q.Category, QuestionText: q.Text, Answer: answer}
}

func TestMedtechRisk_Thresholds(t *testing.T) {
	tests := []struct {
		score int
		want  Risk
	}{
		{-3, RiskLow},
		{0, RiskLow},
		{2, RiskLow},
		{3, RiskMedium},
		{5, RiskMedium},
		{6, RiskHigh},
		{12, RiskHigh},
	}
	for _, tt := range tests {
		if got := MedtechRisk(tt.score); got != tt.want {
			t.Errorf("MedtechRisk(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestMedtechRiskScore(t *testing.T) {
	tests := []struct {
		name      string
		responses []*PatientResponse
		score     int
		risk      Risk
	}{
		{
			name: "tired dizzy bleeding",
			responses: []*PatientResponse{
				medtechResponse("feelsTiredOrWeak", "yes"),
				medtechResponse("feelsDizzyOrHeadaches", "yes"),
				medtechResponse("bleedingPast7Days", "yes"),
			},
			score: 6,
			risk:  RiskHigh,
		},
		{
			name: "tired dizzy anemia",
			responses: []*PatientResponse{
				medtechResponse("feelsTiredOrWeak", "yes"),
				medtechResponse("feelsDizzyOrHeadaches", "yes"),
				medtechResponse("diagnosedWithAnemia", "yes"),
			},
			score: 7,
			risk:  RiskHigh,
		},
		{
			name: "healthy habits",
			responses: []*PatientResponse{
				medtechResponse("fruitsVegetablesFrequency", "Daily"),
				medtechResponse("consumesIronRichFoods", "yes"),
				medtechResponse("regularPhysicalActivity", "yes"),
				medtechResponse("energyLevels", "High"),
			},
			score: -4,
			risk:  RiskLow,
		},
		{
			name: "low energy and weight loss",
			responses: []*PatientResponse{
				medtechResponse("energyLevels", "Low"),
				medtechResponse("unexplainedWeightLoss", "yes"),
			},
			score: 4,
			risk:  RiskMedium,
		},
		{
			name: "localized affirmative",
			responses: []*PatientResponse{
				medtechResponse("chronicHealthConditions", "হ্যাঁ"),
			},
			score: 2,
			risk:  RiskLow,
		},
		{
			name: "negative answers score nothing",
			responses: []*PatientResponse{
				medtechResponse("feelsTiredOrWeak", "no"),
				medtechResponse("diagnosedWithAnemia", "no"),
			},
			score: 0,
			risk:  RiskLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MedtechRiskScore(tt.responses); got != tt.score {
				t.Errorf("score = %d, want %d", got, tt.score)
			}
			a := ClassifyMedtech(tt.responses)
			if a.Status != StatusCompleted || a.Risk == nil || *a.Risk != tt.risk {
				t.Errorf("assessment = %+v, want completed/%s", a, tt.risk)
			}
		})
	}
}

func TestClassifyMedtech_NoResponsesPending(t *testing.T) {
	a := ClassifyMedtech(nil)
	if a.Status != StatusPending || a.Risk != nil {
		t.Errorf("expected pending with no risk, got %+v", a)
	}
}

func TestClassifyOroscan(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		images    int
		diagnoses []*Diagnosis
		status    Status
		risk      Risk
	}{
		{"nothing yet", 0, nil, StatusPending, ""},
		{"images only", 2, nil, StatusCompleted, ""},
		{"high", 1, []*Diagnosis{{Confidence: 0.7, CreatedAt: t0}}, StatusReviewed, RiskHigh},
		{"medium lower bound", 1, []*Diagnosis{{Confidence: 0.4, CreatedAt: t0}}, StatusReviewed, RiskMedium},
		{"low", 1, []*Diagnosis{{Confidence: 0.39, CreatedAt: t0}}, StatusReviewed, RiskLow},
		{"diagnosis without images", 0, []*Diagnosis{{Confidence: 0.1, CreatedAt: t0}}, StatusReviewed, RiskLow},
		{"latest wins", 1, []*Diagnosis{
			{Confidence: 0.9, CreatedAt: t0},
			{Confidence: 0.2, CreatedAt: t0.Add(time.Hour)},
		}, StatusReviewed, RiskLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ClassifyOroscan(tt.images, tt.diagnoses)
			if a.Status != tt.status {
				t.Errorf("status = %s, want %s", a.Status, tt.status)
			}
			switch {
			case tt.risk == "" && a.Risk != nil:
				t.Errorf("expected no risk, got %s", *a.Risk)
			case tt.risk != "" && (a.Risk == nil || *a.Risk != tt.risk):
				t.Errorf("risk = %v, want %s", a.Risk, tt.risk)
			}
		})
	}
}

func TestClassify_UsesLatestDiagnosis(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	p := &Patient{
		ScreeningType: Oroscan,
		Diagnoses: []*Diagnosis{
			{Result: "benign", Confidence: 0.1, CreatedAt: t0.Add(2 * time.Hour)},
			{Result: "suspicious", Confidence: 0.8, CreatedAt: t0},
		},
	}
	latest := p.LatestDiagnosis()
	if latest == nil || latest.Result != "benign" {
		t.Fatalf("expected the newest diagnosis, got %+v", latest)
	}
	a := Classify(p)
	if a.Risk == nil || *a.Risk != OroscanRisk(latest.Confidence) {
		t.Errorf("risk %v does not follow the latest diagnosis", a.Risk)
	}
}

func TestClassify_Pure(t *testing.T) {
	p := &Patient{
		ScreeningType: Medtech,
		Responses: []*PatientResponse{
			medtechResponse("feelsTiredOrWeak", "yes"),
			medtechResponse("energyLevels", "Low"),
		},
	}
	snapshot := *p.Responses[0]

	first := Classify(p)
	second := Classify(p)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Classify is not deterministic: %+v vs %+v", first, second)
	}
	if *p.Responses[0] != snapshot || len(p.Responses) != 2 {
		t.Error("Classify modified its input")
	}

	o := &Patient{ScreeningType: Oroscan, Images: []*PatientImage{{BlobID: "b"}}}
	if Classify(o).Status != StatusCompleted {
		t.Error("expected oroscan dispatch")
	}
}
