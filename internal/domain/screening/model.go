package screening

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound    = errors.New("patient not found")
	ErrDraftNotFound      = errors.New("draft not found")
	ErrUnknownProgram     = errors.New("unknown screening program")
	ErrActionNotAllowed   = errors.New("action cannot be sent by clients")
	ErrNumberSpace        = errors.New("could not allocate a free screening number")
	ErrSubmissionFailed   = errors.New("screening submission failed")
	ErrInvalidPatientEdit = errors.New("invalid patient edit")
	ErrInvalidDiagnosis   = errors.New("invalid diagnosis")
	ErrUnknownFormat      = errors.New("unknown export format")
)

// Program identifies a screening program.
type Program string

const (
	Oroscan Program = "OROSCAN"
	Medtech Program = "MEDTECH"
)

// ParseProgram accepts the canonical upper-case name or the lower-case slug.
func ParseProgram(s string) (Program, error) {
	switch Program(strings.ToUpper(strings.TrimSpace(s))) {
	case Oroscan:
		return Oroscan, nil
	case Medtech:
		return Medtech, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProgram, s)
}

// Slug is the lower-case form used in URLs and file names.
func (p Program) Slug() string { return strings.ToLower(string(p)) }

// Title is the human-facing program name.
func (p Program) Title() string {
	switch p {
	case Oroscan:
		return "Oral Cancer Screening"
	case Medtech:
		return "Anaemia Screening"
	}
	return string(p)
}

// Identity is the patient demographic block collected on the first step.
type Identity struct {
	Name            string `json:"name"`
	Age             string `json:"age"`
	Gender          string `json:"gender"`
	Phone           string `json:"phone"`
	HealthAssistant string `json:"health_assistant,omitempty"`
	Address         string `json:"address"`
}

// IdentityPatch carries a partial identity update; nil fields are untouched.
type IdentityPatch struct {
	Name            *string `json:"name,omitempty"`
	Age             *string `json:"age,omitempty"`
	Gender          *string `json:"gender,omitempty"`
	Phone           *string `json:"phone,omitempty"`
	HealthAssistant *string `json:"health_assistant,omitempty"`
	Address         *string `json:"address,omitempty"`
}

// Response is one answered question inside a draft.
type Response struct {
	QuestionID string  `json:"question_id"`
	Answer     string  `json:"answer"`
	Duration   *string `json:"duration,omitempty"`
}

// ImageRef points at an uploaded image in the blob store.
type ImageRef struct {
	BlobID      string `json:"blob_id"`
	Category    string `json:"category"`
	ContentType string `json:"content_type,omitempty"`
}

// Draft is the in-progress state of one screening session.
type Draft struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	SubmissionToken string     `json:"submission_token"`
	Step            Step       `json:"step"`
	Preselected     bool       `json:"preselected"`
	ScreeningType   Program    `json:"screening_type,omitempty"`
	Identity        Identity   `json:"identity"`
	Responses       []Response `json:"responses"`
	Images          []ImageRef `json:"images"`
	Submitting      bool       `json:"submitting"`
	Problem         string     `json:"problem,omitempty"`
	ScreeningNumber string     `json:"screening_number,omitempty"`
}

// NewDraft returns an empty draft at the patient information step.
func NewDraft(id, ownerID, token string) Draft {
	return Draft{
		ID:              id,
		OwnerID:         ownerID,
		SubmissionToken: token,
		Step:            StepPatientInfo,
		Responses:       []Response{},
		Images:          []ImageRef{},
	}
}

// Response returns the draft's answer for questionID.
func (d Draft) Response(questionID string) (Response, bool) {
	for _, r := range d.Responses {
		if r.QuestionID == questionID {
			return r, true
		}
	}
	return Response{}, false
}

// Patient is a submitted screening record keyed by its screening number.
type Patient struct {
	ScreeningNumber string     `json:"screening_number"`
	SubmissionToken uuid.UUID  `json:"-"`
	Name            string     `json:"name"`
	Age             string     `json:"age"`
	Gender          string     `json:"gender"`
	Phone           string     `json:"phone"`
	HealthAssistant string     `json:"health_assistant"`
	Address         string     `json:"address"`
	Height          *string    `json:"height,omitempty"`
	Weight          *string    `json:"weight,omitempty"`
	ScreeningType   Program    `json:"screening_type"`
	CreatedBy       *uuid.UUID `json:"created_by,omitempty"`
	CreatedByName   string     `json:"created_by_name,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Responses []*PatientResponse `json:"responses"`
	Images    []*PatientImage    `json:"images"`
	Diagnoses []*Diagnosis       `json:"diagnoses"`
}

type PatientResponse struct {
	ID           uuid.UUID `json:"id"`
	Position     int       `json:"position"`
	QuestionID   string    `json:"question_id"`
	Category     string    `json:"category"`
	QuestionText string    `json:"question_text"`
	Answer       string    `json:"answer"`
	Duration     *string   `json:"duration,omitempty"`
}

type PatientImage struct {
	ID          uuid.UUID `json:"id"`
	Category    string    `json:"category"`
	BlobID      string    `json:"blob_id"`
	ContentType string    `json:"content_type"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Diagnosis is an Oroscan review outcome. Confidence is in [0, 1].
type Diagnosis struct {
	ID         uuid.UUID              `json:"id"`
	Result     string                 `json:"result"`
	Confidence float64                `json:"confidence"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedBy  *uuid.UUID             `json:"created_by,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// LatestDiagnosis returns the most recent diagnosis, or nil.
func (p *Patient) LatestDiagnosis() *Diagnosis {
	return latestDiagnosis(p.Diagnoses)
}

func latestDiagnosis(diagnoses []*Diagnosis) *Diagnosis {
	var latest *Diagnosis
	for _, d := range diagnoses {
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) {
			latest = d
		}
	}
	return latest
}

// ListFilter narrows patient listings.
type ListFilter struct {
	Program   Program
	CreatedBy *uuid.UUID
	Search    string
}

// PatientUpdate is an admin edit. Nil identity fields are left unchanged.
type PatientUpdate struct {
	Name            *string        `json:"name,omitempty"`
	Age             *string        `json:"age,omitempty"`
	Gender          *string        `json:"gender,omitempty"`
	Phone           *string        `json:"phone,omitempty"`
	Address         *string        `json:"address,omitempty"`
	HealthAssistant *string        `json:"health_assistant,omitempty"`
	Responses       []ResponseEdit `json:"responses,omitempty"`
	DeleteImageIDs  []uuid.UUID    `json:"delete_image_ids,omitempty"`
}

type ResponseEdit struct {
	ID       uuid.UUID `json:"id"`
	Answer   string    `json:"answer"`
	Duration *string   `json:"duration,omitempty"`
}

// NewScreeningNumber returns a random 5-digit decimal string in
// [10000, 99999].
func NewScreeningNumber() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(90000))
	if err != nil {
		return "", fmt.Errorf("generate screening number: %w", err)
	}
	return fmt.Sprintf("%d", 10000+n.Int64()), nil
}

// ValidScreeningNumber reports whether s looks like a screening number.
func ValidScreeningNumber(s string) bool {
	if len(s) != 5 || s[0] == '0' {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
