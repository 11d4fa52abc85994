package admin

import (
	"sort"
	"strings"
	"time"

	"github.com/Ishan03-25/healthScreening/internal/domain/screening"
)

const (
	recentScreenings = 5
	topAssistants    = 5
	growthMonths     = 6
	activityDays     = 7
)

// buildStats aggregates the admin overview. patients must be sorted newest
// first.
func buildStats(users []*User, patients []PatientActivity, now time.Time) *Stats {
	today := screening.StartOfDay(now)
	weekStart := today.AddDate(0, 0, -(activityDays - 1))

	s := &Stats{
		LastWeek:      make([]DayActivity, activityDays),
		Recent:        []PatientActivity{},
		TopAssistants: []AssistantCount{},
	}
	dayIndex := make(map[string]int, activityDays)
	for i := range s.LastWeek {
		day := weekStart.AddDate(0, 0, i)
		s.LastWeek[i] = DayActivity{Date: day.Format("2006-01-02"), Day: day.Weekday().String()[:3]}
		dayIndex[s.LastWeek[i].Date] = i
	}

	s.Totals.Users = len(users)
	assistants := make(map[string]int)
	for _, p := range patients {
		count(&s.Totals, p.ScreeningType)
		if !p.CreatedAt.Before(today) {
			count(&s.Today, p.ScreeningType)
		}
		if p.ScreeningType == screening.Oroscan && !p.Diagnosed {
			s.PendingReviews++
		}
		if i, ok := dayIndex[p.CreatedAt.In(now.Location()).Format("2006-01-02")]; ok {
			if p.ScreeningType == screening.Oroscan {
				s.LastWeek[i].Oroscan++
			} else {
				s.LastWeek[i].Medtech++
			}
		}
		if name := strings.TrimSpace(p.HealthAssistant); name != "" {
			assistants[name]++
		}
		if len(s.Recent) < recentScreenings {
			s.Recent = append(s.Recent, p)
		}
	}
	for _, u := range users {
		if !u.CreatedAt.Before(today) {
			s.Today.Users++
		}
	}

	months := screening.MonthStarts(now, growthMonths)
	s.UserGrowth = make([]MonthCount, growthMonths)
	for i, m := range months {
		s.UserGrowth[i].Month = screening.MonthLabel(m)
	}
	for _, u := range users {
		for i := len(months) - 1; i >= 0; i-- {
			if !u.CreatedAt.Before(months[i]) {
				s.UserGrowth[i].Count++
				break
			}
		}
	}

	for name, n := range assistants {
		s.TopAssistants = append(s.TopAssistants, AssistantCount{Name: name, Screenings: n})
	}
	sort.Slice(s.TopAssistants, func(i, j int) bool {
		a, b := s.TopAssistants[i], s.TopAssistants[j]
		if a.Screenings != b.Screenings {
			return a.Screenings > b.Screenings
		}
		return a.Name < b.Name
	})
	if len(s.TopAssistants) > topAssistants {
		s.TopAssistants = s.TopAssistants[:topAssistants]
	}
	return s
}

func count(t *Totals, p screening.Program) {
	t.Patients++
	switch p {
	case screening.Oroscan:
		t.Oroscan++
	case screening.Medtech:
		t.Medtech++
	}
}
