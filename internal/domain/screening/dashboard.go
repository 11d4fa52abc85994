package screening

import (
	"math"
	"sort"
	"time"
)

const (
	recentLimit = 10
	trendMonths = 6
)

// PatientSummary is a list row with its derived assessment.
type PatientSummary struct {
	ScreeningNumber string    `json:"screening_number"`
	Name            string    `json:"name"`
	Age             string    `json:"age"`
	Gender          string    `json:"gender"`
	Phone           string    `json:"phone"`
	HealthAssistant string    `json:"health_assistant"`
	ScreeningType   Program   `json:"screening_type"`
	Status          Status    `json:"status"`
	Risk            *Risk     `json:"risk"`
	Diagnosis       string    `json:"diagnosis,omitempty"`
	Confidence      *float64  `json:"confidence,omitempty"`
	ImagesCount     int       `json:"images_count"`
	ResponsesCount  int       `json:"responses_count"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

// Summarize builds a list row for p.
func Summarize(p *Patient) PatientSummary {
	a := Classify(p)
	s := PatientSummary{
		ScreeningNumber: p.ScreeningNumber,
		Name:            p.Name,
		Age:             p.Age,
		Gender:          p.Gender,
		Phone:           p.Phone,
		HealthAssistant: p.HealthAssistant,
		ScreeningType:   p.ScreeningType,
		Status:          a.Status,
		Risk:            a.Risk,
		ImagesCount:     len(p.Images),
		ResponsesCount:  len(p.Responses),
		CreatedBy:       p.CreatedByName,
		CreatedAt:       p.CreatedAt,
	}
	if d := p.LatestDiagnosis(); d != nil {
		s.Diagnosis = d.Result
		c := d.Confidence
		s.Confidence = &c
	}
	return s
}

type DashboardStats struct {
	Total          int      `json:"total"`
	Today          int      `json:"today"`
	Completed      int      `json:"completed"`
	Pending        int      `json:"pending"`
	LowRisk        int      `json:"low_risk"`
	MediumRisk     int      `json:"medium_risk"`
	HighRisk       int      `json:"high_risk"`
	CompletionRate float64  `json:"completion_rate"`
	AvgConfidence  *float64 `json:"avg_confidence,omitempty"`
}

type MonthTrend struct {
	Month     string `json:"month"`
	Completed int    `json:"completed"`
	Pending   int    `json:"pending"`
}

type Dashboard struct {
	Program Program          `json:"program"`
	Stats   DashboardStats   `json:"stats"`
	Recent  []PatientSummary `json:"recent_patients"`
	Trends  []MonthTrend     `json:"trends"`
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// MonthStarts returns the first instant of each of the last n months,
// oldest first, ending with the month containing now.
func MonthStarts(now time.Time, n int) []time.Time {
	y, m, _ := now.Date()
	current := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = current.AddDate(0, i-(n-1), 0)
	}
	return out
}

// MonthLabel is the short month name used in trend series.
func MonthLabel(t time.Time) string {
	return t.Month().String()[:3]
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// BuildDashboard summarizes one user's patients of a program. Status and
// risk come from Classify so rows and counts always agree.
func BuildDashboard(program Program, patients []*Patient, now time.Time) Dashboard {
	today := StartOfDay(now)
	months := MonthStarts(now, trendMonths)
	trends := make([]MonthTrend, trendMonths)
	for i, m := range months {
		trends[i].Month = MonthLabel(m)
	}

	var stats DashboardStats
	var confSum float64
	var confCount int

	for _, p := range patients {
		stats.Total++
		if !p.CreatedAt.Before(today) {
			stats.Today++
		}

		a := Classify(p)
		pending := a.Status == StatusPending
		if pending {
			stats.Pending++
		} else {
			stats.Completed++
		}
		if a.Risk != nil {
			switch *a.Risk {
			case RiskLow:
				stats.LowRisk++
			case RiskMedium:
				stats.MediumRisk++
			case RiskHigh:
				stats.HighRisk++
			}
		}

		if i := monthIndex(months, p.CreatedAt); i >= 0 {
			if pending {
				trends[i].Pending++
			} else {
				trends[i].Completed++
			}
		}

		for _, d := range p.Diagnoses {
			confSum += d.Confidence
			confCount++
		}
	}

	if stats.Total > 0 {
		stats.CompletionRate = round1(float64(stats.Completed) / float64(stats.Total) * 100)
	}
	if program == Oroscan {
		avg := 0.0
		if confCount > 0 {
			avg = round1(confSum / float64(confCount) * 100)
		}
		stats.AvgConfidence = &avg
	}

	sorted := make([]*Patient, len(patients))
	copy(sorted, patients)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	if len(sorted) > recentLimit {
		sorted = sorted[:recentLimit]
	}
	recent := make([]PatientSummary, 0, len(sorted))
	for _, p := range sorted {
		recent = append(recent, Summarize(p))
	}

	return Dashboard{Program: program, Stats: stats, Recent: recent, Trends: trends}
}

// monthIndex returns the bucket of months containing t, or -1 when t is
// older than the first month.
func monthIndex(months []time.Time, t time.Time) int {
	for i := len(months) - 1; i >= 0; i-- {
		if !t.Before(months[i]) {
			return i
		}
	}
	return -1
}
