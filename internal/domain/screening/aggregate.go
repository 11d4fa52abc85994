package screening

import (
	"fmt"
	"strings"
	"time"

	"github.com/Ishan03-25/healthScreening/internal/platform/export"
)

// MissingCell fills export cells for questions a patient did not answer.
const MissingCell = "-"

// CategoryGroup is the responses of one category in display order.
type CategoryGroup struct {
	Category  string             `json:"category"`
	Responses []*PatientResponse `json:"responses"`
}

// GroupByCategory groups responses by category. Categories appear in the
// order they are first seen; responses keep their input order.
func GroupByCategory(responses []*PatientResponse) []CategoryGroup {
	var groups []CategoryGroup
	index := make(map[string]int)
	for _, r := range responses {
		i, ok := index[r.Category]
		if !ok {
			i = len(groups)
			index[r.Category] = i
			groups = append(groups, CategoryGroup{Category: r.Category})
		}
		groups[i].Responses = append(groups[i].Responses, r)
	}
	return groups
}

var identityColumns = []string{
	"Screening Number",
	"Name",
	"Age",
	"Gender",
	"Phone",
	"Address",
	"Health Assistant",
	"Created At",
	"Created By",
}

const imageColumn = "Image URLs"

// FormatAnswer renders an answer with its duration, if any.
func FormatAnswer(r *PatientResponse) string {
	if r.Duration != nil && *r.Duration != "" {
		return fmt.Sprintf("%s (Duration: %s)", r.Answer, *r.Duration)
	}
	return r.Answer
}

// BuildExportTable flattens patients into one row each. Question columns are
// the union of question texts in first-seen order across patients.
func BuildExportTable(patients []*Patient, program Program) export.Table {
	var questions []string
	seen := make(map[string]bool)
	for _, p := range patients {
		for _, r := range p.Responses {
			if !seen[r.QuestionText] {
				seen[r.QuestionText] = true
				questions = append(questions, r.QuestionText)
			}
		}
	}

	columns := make([]string, 0, len(identityColumns)+len(questions)+1)
	columns = append(columns, identityColumns...)
	columns = append(columns, questions...)
	columns = append(columns, imageColumn)

	rows := make([][]string, 0, len(patients))
	for _, p := range patients {
		answers := make(map[string]string, len(p.Responses))
		for _, r := range p.Responses {
			answers[r.QuestionText] = FormatAnswer(r)
		}

		row := []string{
			p.ScreeningNumber,
			p.Name,
			p.Age,
			p.Gender,
			p.Phone,
			orMissing(p.Address),
			orMissing(p.HealthAssistant),
			p.CreatedAt.Format("2006-01-02 15:04"),
			orMissing(p.CreatedByName),
		}
		for _, q := range questions {
			if a, ok := answers[q]; ok {
				row = append(row, a)
			} else {
				row = append(row, MissingCell)
			}
		}

		urls := make([]string, 0, len(p.Images))
		for _, img := range p.Images {
			urls = append(urls, img.URL)
		}
		row = append(row, orMissing(strings.Join(urls, ", ")))
		rows = append(rows, row)
	}

	return export.Table{Sheet: program.Title(), Columns: columns, Rows: rows}
}

func orMissing(s string) string {
	if strings.TrimSpace(s) == "" {
		return MissingCell
	}
	return s
}

// ExportFileName names an export download, e.g. oral_cancer_patients_2024-05-01.xlsx.
func ExportFileName(program Program, ext string, now time.Time) string {
	prefix := "anaemia_patients"
	if program == Oroscan {
		prefix = "oral_cancer_patients"
	}
	return fmt.Sprintf("%s_%s.%s", prefix, now.Format("2006-01-02"), ext)
}

// PatientReport builds the two sheets of a single-patient workbook.
func PatientReport(p *Patient) []export.Table {
	a := Classify(p)
	risk := MissingCell
	if a.Risk != nil {
		risk = string(*a.Risk)
	}
	info := export.Table{
		Sheet:   "Patient Info",
		Columns: []string{"Field", "Value"},
		Rows: [][]string{
			{"Screening Number", p.ScreeningNumber},
			{"Screening Type", p.ScreeningType.Title()},
			{"Name", p.Name},
			{"Age", p.Age},
			{"Gender", p.Gender},
			{"Phone", p.Phone},
			{"Address", orMissing(p.Address)},
			{"Health Assistant", orMissing(p.HealthAssistant)},
			{"Created At", p.CreatedAt.Format("2006-01-02 15:04")},
			{"Created By", orMissing(p.CreatedByName)},
			{"Status", string(a.Status)},
			{"Risk", risk},
		},
	}
	if d := p.LatestDiagnosis(); d != nil {
		info.Rows = append(info.Rows,
			[]string{"Diagnosis", d.Result},
			[]string{"Confidence", fmt.Sprintf("%.0f%%", d.Confidence*100)},
		)
	}

	responses := export.Table{Sheet: "Responses", Columns: []string{"Category", "Question", "Answer"}}
	for _, g := range GroupByCategory(p.Responses) {
		for _, r := range g.Responses {
			responses.Rows = append(responses.Rows, []string{g.Category, r.QuestionText, FormatAnswer(r)})
		}
	}
	for _, img := range p.Images {
		responses.Rows = append(responses.Rows, []string{"image:" + img.Category, "Image", img.URL})
	}
	return []export.Table{info, responses}
}
