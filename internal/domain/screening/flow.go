package screening

import (
	"fmt"
	"strings"
)

// ActionType names a flow transition.
type ActionType string

const (
	ActionUpdateIdentity  ActionType = "update-identity"
	ActionNext            ActionType = "next"
	ActionBack            ActionType = "back"
	ActionSelectType      ActionType = "select-type"
	ActionAnswer          ActionType = "answer"
	ActionAttachImage     ActionType = "attach-image"
	ActionDetachImage     ActionType = "detach-image"
	ActionSubmitStarted   ActionType = "submit-started"
	ActionSubmitSucceeded ActionType = "submit-succeeded"
	ActionSubmitFailed    ActionType = "submit-failed"
	ActionNewScreening    ActionType = "new-screening"
)

// Action is one input to Reduce. Only the fields relevant to Type are read.
type Action struct {
	Type            ActionType     `json:"type"`
	Identity        *IdentityPatch `json:"identity,omitempty"`
	ScreeningType   Program        `json:"screening_type,omitempty"`
	QuestionID      string         `json:"question_id,omitempty"`
	Answer          string         `json:"answer,omitempty"`
	Duration        *string        `json:"duration,omitempty"`
	Image           *ImageRef      `json:"image,omitempty"`
	BlobID          string         `json:"blob_id,omitempty"`
	ScreeningNumber string         `json:"-"`
	Message         string         `json:"-"`
	SubmissionToken string         `json:"-"`
}

// ClientAction reports whether clients may send t directly. Submission
// outcomes, the reset token and image attachments are produced by the
// service; an attachment always refers to a blob uploaded for this draft.
func (t ActionType) ClientAction() bool {
	switch t {
	case ActionSubmitStarted, ActionSubmitSucceeded, ActionSubmitFailed, ActionAttachImage:
		return false
	}
	return true
}

// Reduce applies a to d and returns the next draft. It never mutates d. A
// rejected action returns d unchanged apart from Problem.
func Reduce(d Draft, a Action) Draft {
	d = d.clone()
	if d.Step == StepSuccess && a.Type != ActionNewScreening {
		return d.reject("screening already submitted; start a new screening")
	}
	if d.Submitting && a.Type != ActionSubmitSucceeded && a.Type != ActionSubmitFailed {
		return d.reject("submission in progress")
	}

	switch a.Type {
	case ActionUpdateIdentity:
		return updateIdentity(d, a)
	case ActionNext:
		return next(d)
	case ActionBack:
		return back(d)
	case ActionSelectType:
		return selectType(d, a.ScreeningType)
	case ActionAnswer:
		return answer(d, a)
	case ActionAttachImage:
		return attachImage(d, a.Image)
	case ActionDetachImage:
		return detachImage(d, a.BlobID)
	case ActionSubmitStarted:
		return submitStarted(d)
	case ActionSubmitSucceeded:
		return submitSucceeded(d, a.ScreeningNumber)
	case ActionSubmitFailed:
		return submitFailed(d, a.Message)
	case ActionNewScreening:
		return newScreening(d, a.SubmissionToken)
	}
	return d.reject(fmt.Sprintf("unknown action %q", a.Type))
}

// Preselect applies a caller-chosen program. A draft holding another
// program's data is reset first; identity is kept only when the draft had no
// program yet.
func Preselect(d Draft, p Program, token string) Draft {
	d = d.clone()
	switch d.ScreeningType {
	case p, "":
		if d.Step == StepSelectType {
			d.Step = FirstStep(p)
		}
	default:
		d = NewDraft(d.ID, d.OwnerID, token)
	}
	d.ScreeningType = p
	d.Preselected = true
	d.Problem = ""
	return d
}

func (d Draft) clone() Draft {
	out := d
	out.Responses = make([]Response, len(d.Responses))
	for i, r := range d.Responses {
		if r.Duration != nil {
			v := *r.Duration
			r.Duration = &v
		}
		out.Responses[i] = r
	}
	out.Images = make([]ImageRef, len(d.Images))
	copy(out.Images, d.Images)
	return out
}

func (d Draft) reject(problem string) Draft {
	d.Problem = problem
	return d
}

func (d Draft) ok() Draft {
	d.Problem = ""
	return d
}

func updateIdentity(d Draft, a Action) Draft {
	if d.Step != StepPatientInfo {
		return d.reject("patient details can only be edited on the first step")
	}
	if a.Identity == nil {
		return d.reject("identity fields are required")
	}
	p := a.Identity
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&d.Identity.Name, p.Name)
	set(&d.Identity.Age, p.Age)
	set(&d.Identity.Gender, p.Gender)
	set(&d.Identity.Phone, p.Phone)
	set(&d.Identity.HealthAssistant, p.HealthAssistant)
	set(&d.Identity.Address, p.Address)
	return d.ok()
}

// MissingIdentity lists the required identity fields that are empty.
func MissingIdentity(id Identity) []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", id.Name},
		{"age", id.Age},
		{"gender", id.Gender},
		{"phone", id.Phone},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// MissingAnswers lists required questions of step without an answer.
func MissingAnswers(d Draft, step Step) []string {
	var missing []string
	for _, q := range StepQuestions(d.ScreeningType, step) {
		if !q.Required {
			continue
		}
		if _, ok := d.Response(q.ID); !ok {
			missing = append(missing, q.ID)
		}
	}
	return missing
}

func stepIndex(seq []Step, s Step) int {
	for i, x := range seq {
		if x == s {
			return i
		}
	}
	return -1
}

func next(d Draft) Draft {
	switch d.Step {
	case StepPatientInfo:
		if missing := MissingIdentity(d.Identity); len(missing) > 0 {
			return d.reject("required: " + strings.Join(missing, ", "))
		}
	case StepSelectType:
		if d.ScreeningType == "" {
			return d.reject("select a screening type")
		}
	default:
		if missing := MissingAnswers(d, d.Step); len(missing) > 0 {
			return d.reject("please answer: " + strings.Join(missing, ", "))
		}
	}

	if d.Step == CaptureStep(d.ScreeningType) {
		return d.reject("this is the last step; submit the screening")
	}

	seq := Sequence(d.ScreeningType, d.Preselected)
	i := stepIndex(seq, d.Step)
	if i < 0 || i+1 >= len(seq) {
		return d.reject("no further step")
	}
	d.Step = seq[i+1]
	return d.ok()
}

func back(d Draft) Draft {
	if d.Step == StepPatientInfo {
		return d.reject("already at the first step")
	}
	seq := Sequence(d.ScreeningType, d.Preselected)
	i := stepIndex(seq, d.Step)
	if i <= 0 {
		return d.reject("no previous step")
	}
	d.Step = seq[i-1]
	return d.ok()
}

func selectType(d Draft, p Program) Draft {
	if d.Step != StepSelectType {
		return d.reject("screening type can only be chosen on the selection step")
	}
	if p != Oroscan && p != Medtech {
		return d.reject("unknown screening type")
	}
	if d.ScreeningType != "" && d.ScreeningType != p {
		d.Responses = []Response{}
		d.Images = []ImageRef{}
	}
	d.ScreeningType = p
	d.Step = FirstStep(p)
	return d.ok()
}

func answer(d Draft, a Action) Draft {
	q, found := LookupQuestion(d.ScreeningType, a.QuestionID)
	if !found || q.Step != d.Step {
		return d.reject(fmt.Sprintf("question %q is not asked on this step", a.QuestionID))
	}
	value, valid := q.Normalize(a.Answer)
	if !valid {
		return d.reject(fmt.Sprintf("invalid answer for %s", q.ID))
	}

	var duration *string
	if a.Duration != nil && strings.TrimSpace(*a.Duration) != "" {
		if !q.AcceptsDuration {
			return d.reject(fmt.Sprintf("%s does not take a duration", q.ID))
		}
		v := strings.TrimSpace(*a.Duration)
		if !ValidDuration(v) {
			return d.reject(fmt.Sprintf("invalid duration %q", v))
		}
		duration = &v
	}

	i := -1
	for j, r := range d.Responses {
		if r.QuestionID == q.ID {
			i = j
			break
		}
	}

	if q.AcceptsDuration && IsAffirmative(value) && a.Duration == nil && i >= 0 {
		duration = d.Responses[i].Duration
	}
	if !IsAffirmative(value) {
		duration = nil
	}

	r := Response{QuestionID: q.ID, Answer: value, Duration: duration}
	if i >= 0 {
		d.Responses[i] = r
	} else {
		d.Responses = append(d.Responses, r)
	}
	return d.ok()
}

func attachImage(d Draft, img *ImageRef) Draft {
	if d.ScreeningType == "" || d.Step != CaptureStep(d.ScreeningType) {
		return d.reject("images can only be attached on the capture step")
	}
	if img == nil || img.BlobID == "" {
		return d.reject("image reference is required")
	}
	for _, existing := range d.Images {
		if existing.BlobID == img.BlobID {
			return d.ok()
		}
	}
	d.Images = append(d.Images, *img)
	return d.ok()
}

func detachImage(d Draft, blobID string) Draft {
	if d.ScreeningType == "" || d.Step != CaptureStep(d.ScreeningType) {
		return d.reject("images can only be removed on the capture step")
	}
	for i, img := range d.Images {
		if img.BlobID == blobID {
			d.Images = append(d.Images[:i], d.Images[i+1:]...)
			return d.ok()
		}
	}
	return d.reject("image not attached")
}

func submitStarted(d Draft) Draft {
	if d.ScreeningType == "" || d.Step != CaptureStep(d.ScreeningType) {
		return d.reject("submit is only possible from the last step")
	}
	if missing := MissingIdentity(d.Identity); len(missing) > 0 {
		return d.reject("required: " + strings.Join(missing, ", "))
	}
	for _, step := range Sequence(d.ScreeningType, d.Preselected) {
		if missing := MissingAnswers(d, step); len(missing) > 0 {
			return d.reject("please answer: " + strings.Join(missing, ", "))
		}
	}
	d.Submitting = true
	return d.ok()
}

func submitSucceeded(d Draft, number string) Draft {
	if !d.Submitting {
		return d.reject("no submission in progress")
	}
	d.Submitting = false
	d.ScreeningNumber = number
	d.Step = StepSuccess
	return d.ok()
}

func submitFailed(d Draft, message string) Draft {
	if !d.Submitting {
		return d.reject("no submission in progress")
	}
	d.Submitting = false
	if message == "" {
		message = "submission failed; please try again"
	}
	return d.reject(message)
}

func newScreening(d Draft, token string) Draft {
	if d.Step != StepSuccess {
		return d.reject("a new screening can only be started after submission")
	}
	if token == "" {
		return d.reject("a fresh submission token is required")
	}
	return NewDraft(d.ID, d.OwnerID, token)
}

// Completed returns the draft as stored after a successful submission:
// collected data is dropped and only the outcome remains.
func Completed(d Draft) Draft {
	out := NewDraft(d.ID, d.OwnerID, d.SubmissionToken)
	out.Step = StepSuccess
	out.ScreeningType = d.ScreeningType
	out.Preselected = d.Preselected
	out.ScreeningNumber = d.ScreeningNumber
	return out
}
