package screening

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ishan03-25/healthScreening/internal/platform/blobstore"
	"github.com/Ishan03-25/healthScreening/internal/platform/draftstore"
	"github.com/Ishan03-25/healthScreening/internal/platform/events"
)

// -- Mock Repository --

type mockPatientRepo struct {
	mu        sync.Mutex
	patients  map[string]*Patient
	next      int
	submitErr error
}

func newMockPatientRepo() *mockPatientRepo {
	return &mockPatientRepo{patients: make(map[string]*Patient), next: 10000}
}

func (m *mockPatientRepo) Submit(_ context.Context, p *Patient) (*Patient, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, false, m.submitErr
	}
	for _, existing := range m.patients {
		if existing.SubmissionToken == p.SubmissionToken {
			return existing, false, nil
		}
	}
	m.next++
	p.ScreeningNumber = fmt.Sprintf("%d", m.next)
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	for _, r := range p.Responses {
		r.ID = uuid.New()
	}
	for _, img := range p.Images {
		img.ID = uuid.New()
		img.URL = blobstore.ImagePath(img.BlobID)
	}
	m.patients[p.ScreeningNumber] = p
	return p, true, nil
}

func (m *mockPatientRepo) Get(_ context.Context, number string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[number]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, number)
	}
	return p, nil
}

func (m *mockPatientRepo) matching(f ListFilter) []*Patient {
	var out []*Patient
	for _, p := range m.patients {
		if f.Program != "" && p.ScreeningType != f.Program {
			continue
		}
		if f.CreatedBy != nil && (p.CreatedBy == nil || *p.CreatedBy != *f.CreatedBy) {
			continue
		}
		if f.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Search)) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (m *mockPatientRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Patient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.matching(f)
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockPatientRepo) ListAll(_ context.Context, f ListFilter) ([]*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matching(f), nil
}

func (m *mockPatientRepo) Update(_ context.Context, number string, upd PatientUpdate) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[number]
	if !ok {
		return nil, ErrPatientNotFound
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	for _, edit := range upd.Responses {
		for _, r := range p.Responses {
			if r.ID == edit.ID {
				r.Answer = edit.Answer
				r.Duration = edit.Duration
			}
		}
	}
	var removed []string
	kept := p.Images[:0]
	for _, img := range p.Images {
		drop := false
		for _, id := range upd.DeleteImageIDs {
			if img.ID == id {
				drop = true
			}
		}
		if drop {
			removed = append(removed, img.BlobID)
		} else {
			kept = append(kept, img)
		}
	}
	p.Images = kept
	return removed, nil
}

func (m *mockPatientRepo) Delete(_ context.Context, number string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[number]
	if !ok {
		return nil, ErrPatientNotFound
	}
	delete(m.patients, number)
	var ids []string
	for _, img := range p.Images {
		ids = append(ids, img.BlobID)
	}
	return ids, nil
}

func (m *mockPatientRepo) AddDiagnosis(_ context.Context, number string, d *Diagnosis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[number]
	if !ok || p.ScreeningType != Oroscan {
		return ErrPatientNotFound
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	p.Diagnoses = append(p.Diagnoses, d)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

type testEnv struct {
	svc   *Service
	repo  *mockPatientRepo
	blobs *blobstore.InMemoryBlobStore
	pub   *recordingPublisher
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:  newMockPatientRepo(),
		blobs: blobstore.NewInMemoryBlobStore(),
		pub:   &recordingPublisher{},
	}
	env.svc = NewService(env.repo, draftstore.NewMemoryStore(), env.blobs, env.pub, zerolog.Nop(), time.Hour)
	return env
}

var testOwner = uuid.MustParse("6f1f7a3e-0c4b-4e59-9d7a-1b2c3d4e5f60")

func (env *testEnv) dispatch(t *testing.T, id string, a Action) Draft {
	t.Helper()
	d, err := env.svc.Dispatch(context.Background(), testOwner.String(), id, a)
	if err != nil {
		t.Fatalf("Dispatch(%s): %v", a.Type, err)
	}
	if d.Problem != "" {
		t.Fatalf("Dispatch(%s) rejected: %s", a.Type, d.Problem)
	}
	return d
}

// walk drives a preselected draft to the program's capture step.
func (env *testEnv) walk(t *testing.T, program Program) Draft {
	t.Helper()
	d, err := env.svc.StartDraft(context.Background(), testOwner.String(), program)
	if err != nil {
		t.Fatalf("StartDraft: %v", err)
	}
	d = env.dispatch(t, d.ID, Action{Type: ActionUpdateIdentity, Identity: fullIdentity()})
	d = env.dispatch(t, d.ID, Action{Type: ActionNext})
	for d.Step != CaptureStep(program) {
		for _, q := range StepQuestions(program, d.Step) {
			a := Action{Type: ActionAnswer, QuestionID: q.ID, Answer: passingAnswer(q)}
			if q.ID == "tobacco" {
				a.Answer, a.Duration = "yes", strPtr("more-than-10-years")
			}
			d = env.dispatch(t, d.ID, a)
		}
		d = env.dispatch(t, d.ID, Action{Type: ActionNext})
	}
	return d
}

func (env *testEnv) upload(t *testing.T, id string) Draft {
	t.Helper()
	d, err := env.svc.AttachImage(context.Background(), testOwner.String(), id,
		blobstore.BlobMetadata{FileName: "mouth.jpg", ContentType: "image/jpeg", Category: "oral-cavity"},
		strings.NewReader("jpeg-bytes"))
	if err != nil {
		t.Fatalf("AttachImage: %v", err)
	}
	return d
}

func TestService_StartDraft(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	d, err := env.svc.StartDraft(ctx, testOwner.String(), "")
	if err != nil {
		t.Fatalf("StartDraft() error: %v", err)
	}
	if d.Step != StepPatientInfo || d.ID == "" || d.SubmissionToken == "" {
		t.Fatalf("unexpected fresh draft: %+v", d)
	}

	d = env.dispatch(t, d.ID, Action{Type: ActionUpdateIdentity, Identity: fullIdentity()})
	resumed, err := env.svc.StartDraft(ctx, testOwner.String(), "")
	if err != nil {
		t.Fatal(err)
	}
	if resumed.ID != d.ID || resumed.Identity.Name != "Asha Devi" {
		t.Errorf("expected saved draft to resume, got %+v", resumed)
	}
}

func TestService_StartDraft_PreselectOtherTypeResets(t *testing.T) {
	env := newTestEnv()
	d := env.walk(t, Oroscan)

	got, err := env.svc.StartDraft(context.Background(), testOwner.String(), Medtech)
	if err != nil {
		t.Fatal(err)
	}
	if got.ScreeningType != Medtech || got.Step != StepPatientInfo || len(got.Responses) != 0 {
		t.Errorf("expected a fresh medtech draft, got %s at %s", got.ScreeningType, got.Step)
	}
	if got.SubmissionToken == d.SubmissionToken {
		t.Error("reset draft must carry a new submission token")
	}

	again, _ := env.svc.StartDraft(context.Background(), testOwner.String(), Medtech)
	if again.ID != got.ID || again.SubmissionToken != got.SubmissionToken {
		t.Error("same preselection must resume")
	}
}

func TestService_GetDraft_ColdStart(t *testing.T) {
	env := newTestEnv()
	d, err := env.svc.GetDraft(context.Background(), testOwner.String(), "lost-draft")
	if err != nil {
		t.Fatalf("GetDraft() error: %v", err)
	}
	if d.ID != "lost-draft" || d.Step != StepPatientInfo || d.Problem != "" {
		t.Errorf("expected empty draft, got %+v", d)
	}
}

func TestService_Dispatch_RejectsServerActions(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.Dispatch(context.Background(), testOwner.String(), "d1", Action{Type: ActionSubmitSucceeded, ScreeningNumber: "12345"})
	if !errors.Is(err, ErrActionNotAllowed) {
		t.Errorf("expected ErrActionNotAllowed, got %v", err)
	}
}

func TestService_Dispatch_InlineProblem(t *testing.T) {
	env := newTestEnv()
	d, err := env.svc.Dispatch(context.Background(), testOwner.String(), "d1", Action{Type: ActionNext})
	if err != nil {
		t.Fatalf("validation must not be an error: %v", err)
	}
	if d.Problem == "" || d.Step != StepPatientInfo {
		t.Errorf("expected inline problem on first step, got %+v", d)
	}
}

func TestService_OroscanSubmit(t *testing.T) {
	env := newTestEnv()
	d := env.walk(t, Oroscan)
	d = env.upload(t, d.ID)
	if len(d.Images) != 1 || env.blobs.Len() != 1 {
		t.Fatalf("expected one stored image, got %d/%d", len(d.Images), env.blobs.Len())
	}

	done, err := env.svc.Submit(context.Background(), testOwner.String(), d.ID)
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if done.Step != StepSuccess || !ValidScreeningNumber(done.ScreeningNumber) {
		t.Fatalf("expected success with a screening number, got %+v", done)
	}
	if len(done.Responses) != 0 {
		t.Error("completed draft must not keep responses")
	}

	p, err := env.repo.Get(context.Background(), done.ScreeningNumber)
	if err != nil {
		t.Fatal(err)
	}
	if p.CreatedBy == nil || *p.CreatedBy != testOwner {
		t.Errorf("created_by = %v", p.CreatedBy)
	}
	if len(p.Images) != 1 || p.Images[0].Category != "oral-cavity" {
		t.Errorf("images = %+v", p.Images)
	}
	if len(p.Responses) != len(Catalog(Oroscan)) {
		t.Errorf("expected %d responses, got %d", len(Catalog(Oroscan)), len(p.Responses))
	}
	for i, r := range p.Responses {
		if r.Position != i {
			t.Errorf("response %s at position %d, want %d", r.QuestionID, r.Position, i)
		}
		if r.QuestionID == "tobacco" && (r.Duration == nil || *r.Duration != "more-than-10-years") {
			t.Errorf("tobacco duration = %v", r.Duration)
		}
	}

	if len(env.pub.events) != 1 || env.pub.events[0].Type != events.TypeScreeningSubmitted {
		t.Errorf("expected one submitted event, got %+v", env.pub.events)
	}
}

func TestService_Submit_Idempotent(t *testing.T) {
	env := newTestEnv()
	d := env.walk(t, Medtech)

	first, err := env.svc.Submit(context.Background(), testOwner.String(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.svc.Submit(context.Background(), testOwner.String(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.ScreeningNumber != second.ScreeningNumber {
		t.Errorf("retry produced %s, want %s", second.ScreeningNumber, first.ScreeningNumber)
	}
	if len(env.repo.patients) != 1 {
		t.Errorf("expected one patient, got %d", len(env.repo.patients))
	}
	if len(env.pub.events) != 1 {
		t.Errorf("expected one event, got %d", len(env.pub.events))
	}
}

func TestService_Submit_SameTokenReturnsExisting(t *testing.T) {
	env := newTestEnv()
	token := uuid.New()
	p1 := &Patient{SubmissionToken: token, Name: "A", ScreeningType: Medtech}
	stored, created, _ := env.repo.Submit(context.Background(), p1)
	if !created {
		t.Fatal("first submit must create")
	}
	again, created, err := env.repo.Submit(context.Background(), &Patient{SubmissionToken: token, Name: "A", ScreeningType: Medtech})
	if err != nil || created || again.ScreeningNumber != stored.ScreeningNumber {
		t.Errorf("expected existing %s, got %v created=%v err=%v", stored.ScreeningNumber, again, created, err)
	}
}

func TestService_Submit_Failure(t *testing.T) {
	env := newTestEnv()
	env.repo.submitErr = errors.New("connection refused")
	d := env.walk(t, Medtech)

	got, err := env.svc.Submit(context.Background(), testOwner.String(), d.ID)
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	if got.Step != StepMedtechDevice || got.Problem == "" || got.Submitting {
		t.Errorf("expected retained draft with problem, got step=%s problem=%q", got.Step, got.Problem)
	}

	reloaded, _ := env.svc.GetDraft(context.Background(), testOwner.String(), d.ID)
	if len(reloaded.Responses) != len(d.Responses) || reloaded.Identity.Name != "Asha Devi" {
		t.Error("failed submission must keep the stored draft")
	}

	env.repo.submitErr = nil
	done, err := env.svc.Submit(context.Background(), testOwner.String(), d.ID)
	if err != nil || done.Step != StepSuccess {
		t.Errorf("retry after failure: %v %+v", err, done)
	}
}

func TestService_Submit_Incomplete(t *testing.T) {
	env := newTestEnv()
	d, _ := env.svc.StartDraft(context.Background(), testOwner.String(), Oroscan)
	got, err := env.svc.Submit(context.Background(), testOwner.String(), d.ID)
	if err != nil {
		t.Fatalf("rejection must be inline: %v", err)
	}
	if got.Problem == "" || len(env.repo.patients) != 0 {
		t.Error("incomplete draft must not be persisted")
	}
}

func TestService_Submit_PublishFailureIgnored(t *testing.T) {
	env := newTestEnv()
	env.pub.err = errors.New("broker down")
	d := env.walk(t, Medtech)
	if _, err := env.svc.Submit(context.Background(), testOwner.String(), d.ID); err != nil {
		t.Errorf("publish failure must not fail submission: %v", err)
	}
}

func TestService_MedtechHeightWeight(t *testing.T) {
	env := newTestEnv()
	d := env.walk(t, Medtech)
	d = env.dispatch(t, d.ID, Action{Type: ActionAnswer, QuestionID: "height", Answer: "158"})
	d = env.dispatch(t, d.ID, Action{Type: ActionAnswer, QuestionID: "weight", Answer: "52.5"})

	done, err := env.svc.Submit(context.Background(), testOwner.String(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := env.repo.Get(context.Background(), done.ScreeningNumber)
	if p.Height == nil || *p.Height != "158" || p.Weight == nil || *p.Weight != "52.5" {
		t.Errorf("height/weight = %v/%v", p.Height, p.Weight)
	}
}

func TestService_NewScreeningAfterSuccess(t *testing.T) {
	env := newTestEnv()
	d := env.walk(t, Medtech)
	done, _ := env.svc.Submit(context.Background(), testOwner.String(), d.ID)

	fresh := env.dispatch(t, done.ID, Action{Type: ActionNewScreening})
	if fresh.Step != StepPatientInfo || fresh.SubmissionToken == d.SubmissionToken || fresh.SubmissionToken == "" {
		t.Errorf("expected fresh draft with new token, got %+v", fresh)
	}
}

func TestService_AttachImage_WrongStepStoresNothing(t *testing.T) {
	env := newTestEnv()
	d, _ := env.svc.StartDraft(context.Background(), testOwner.String(), Oroscan)
	got := env.upload(t, d.ID)
	if got.Problem == "" {
		t.Error("expected inline problem")
	}
	if env.blobs.Len() != 0 {
		t.Errorf("expected no stored blobs, got %d", env.blobs.Len())
	}
}

func TestService_AttachImage_InvalidType(t *testing.T) {
	env := newTestEnv()
	d := env.walk(t, Oroscan)
	_, err := env.svc.AttachImage(context.Background(), testOwner.String(), d.ID,
		blobstore.BlobMetadata{FileName: "notes.pdf", ContentType: "application/pdf"}, strings.NewReader("x"))
	if !errors.Is(err, blobstore.ErrInvalidContentType) {
		t.Errorf("expected ErrInvalidContentType, got %v", err)
	}
}

func submitOroscan(t *testing.T, env *testEnv) *Patient {
	t.Helper()
	d := env.walk(t, Oroscan)
	d = env.upload(t, d.ID)
	done, err := env.svc.Submit(context.Background(), testOwner.String(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := env.repo.Get(context.Background(), done.ScreeningNumber)
	return p
}

func TestService_PatientDetail_Access(t *testing.T) {
	env := newTestEnv()
	p := submitOroscan(t, env)
	ctx := context.Background()

	detail, err := env.svc.PatientDetail(ctx, p.ScreeningNumber, testOwner, false)
	if err != nil {
		t.Fatalf("owner must see own patient: %v", err)
	}
	if detail.Assessment.Status != StatusCompleted || len(detail.Groups) != 3 {
		t.Errorf("unexpected detail: %+v groups=%d", detail.Assessment, len(detail.Groups))
	}

	if _, err := env.svc.PatientDetail(ctx, p.ScreeningNumber, uuid.New(), false); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected not found for other user, got %v", err)
	}
	if _, err := env.svc.PatientDetail(ctx, p.ScreeningNumber, uuid.New(), true); err != nil {
		t.Errorf("admin must see every patient: %v", err)
	}
}

func TestService_Dashboard(t *testing.T) {
	env := newTestEnv()
	submitOroscan(t, env)
	dash, err := env.svc.Dashboard(context.Background(), testOwner, Oroscan)
	if err != nil {
		t.Fatal(err)
	}
	if dash.Stats.Total != 1 || dash.Stats.Completed != 1 || dash.Stats.Today != 1 {
		t.Errorf("unexpected stats: %+v", dash.Stats)
	}
	other, _ := env.svc.Dashboard(context.Background(), uuid.New(), Oroscan)
	if other.Stats.Total != 0 {
		t.Error("dashboards are per user")
	}
}

func TestService_UpdatePatient(t *testing.T) {
	env := newTestEnv()
	p := submitOroscan(t, env)
	ctx := context.Background()

	var tobacco *PatientResponse
	for _, r := range p.Responses {
		if r.QuestionID == "tobacco" {
			tobacco = r
		}
	}
	name := "Asha D."
	detail, err := env.svc.UpdatePatient(ctx, p.ScreeningNumber, PatientUpdate{
		Name:           &name,
		Responses:      []ResponseEdit{{ID: tobacco.ID, Answer: "No", Duration: strPtr("1-2-years")}},
		DeleteImageIDs: []uuid.UUID{p.Images[0].ID},
	})
	if err != nil {
		t.Fatalf("UpdatePatient() error: %v", err)
	}
	if detail.Name != name {
		t.Errorf("name = %s", detail.Name)
	}
	if tobacco.Answer != "no" || tobacco.Duration != nil {
		t.Errorf("tobacco = %s %v, want no without duration", tobacco.Answer, tobacco.Duration)
	}
	if len(detail.Images) != 0 || env.blobs.Len() != 0 {
		t.Errorf("expected image and blob removed, got %d/%d", len(detail.Images), env.blobs.Len())
	}
}

func TestService_UpdatePatient_Invalid(t *testing.T) {
	env := newTestEnv()
	p := submitOroscan(t, env)
	ctx := context.Background()

	var hiv *PatientResponse
	for _, r := range p.Responses {
		if r.QuestionID == "hiv" {
			hiv = r
		}
	}
	tests := []struct {
		name string
		edit ResponseEdit
	}{
		{"unknown response", ResponseEdit{ID: uuid.New(), Answer: "yes"}},
		{"invalid answer", ResponseEdit{ID: hiv.ID, Answer: "perhaps"}},
		{"duration on non-habit", ResponseEdit{ID: hiv.ID, Answer: "yes", Duration: strPtr("1-2-years")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.UpdatePatient(ctx, p.ScreeningNumber, PatientUpdate{Responses: []ResponseEdit{tt.edit}})
			if !errors.Is(err, ErrInvalidPatientEdit) {
				t.Errorf("expected ErrInvalidPatientEdit, got %v", err)
			}
		})
	}
}

func TestService_DeletePatient(t *testing.T) {
	env := newTestEnv()
	p := submitOroscan(t, env)
	if err := env.svc.DeletePatient(context.Background(), p.ScreeningNumber); err != nil {
		t.Fatal(err)
	}
	if env.blobs.Len() != 0 {
		t.Error("expected images removed with the patient")
	}
	if err := env.svc.DeletePatient(context.Background(), p.ScreeningNumber); !errors.Is(err, ErrPatientNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestService_RecordDiagnosis(t *testing.T) {
	env := newTestEnv()
	p := submitOroscan(t, env)
	ctx := context.Background()

	if err := env.svc.RecordDiagnosis(ctx, p.ScreeningNumber, &Diagnosis{Result: "x", Confidence: 1.5}); !errors.Is(err, ErrInvalidDiagnosis) {
		t.Errorf("expected ErrInvalidDiagnosis, got %v", err)
	}
	if err := env.svc.RecordDiagnosis(ctx, p.ScreeningNumber, &Diagnosis{Result: " ", Confidence: 0.5}); !errors.Is(err, ErrInvalidDiagnosis) {
		t.Errorf("expected ErrInvalidDiagnosis, got %v", err)
	}
	if err := env.svc.RecordDiagnosis(ctx, p.ScreeningNumber, &Diagnosis{Result: "oral submucous fibrosis", Confidence: 0.82}); err != nil {
		t.Fatal(err)
	}

	detail, _ := env.svc.PatientDetail(ctx, p.ScreeningNumber, testOwner, true)
	if detail.Assessment.Status != StatusReviewed || detail.Assessment.Risk == nil || *detail.Assessment.Risk != RiskHigh {
		t.Errorf("unexpected assessment: %+v", detail.Assessment)
	}
}

func TestService_Export(t *testing.T) {
	env := newTestEnv()
	submitOroscan(t, env)
	env.svc.now = func() time.Time { return time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC) }

	var buf bytes.Buffer
	name, contentType, err := env.svc.Export(context.Background(), Oroscan, "csv", &buf)
	if err != nil {
		t.Fatal(err)
	}
	if name != "oral_cancer_patients_2024-08-01.csv" || !strings.HasPrefix(contentType, "text/csv") {
		t.Errorf("name=%s type=%s", name, contentType)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "Screening Number,Name") {
		t.Errorf("unexpected csv: %q", buf.String())
	}

	if _, _, err := env.svc.Export(context.Background(), Oroscan, "pdf", &buf); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}

	buf.Reset()
	name, _, err = env.svc.Export(context.Background(), Medtech, FormatExcel, &buf)
	if err != nil || name != "anaemia_patients_2024-08-01.xlsx" || buf.Len() == 0 {
		t.Errorf("excel export: %s %d %v", name, buf.Len(), err)
	}
}

func TestService_Dispatch_RejectsClientAttach(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	first := submitOroscan(t, env)
	blobID := first.Images[0].BlobID

	d := env.walk(t, Oroscan)
	_, err := env.svc.Dispatch(ctx, testOwner.String(), d.ID, Action{
		Type:  ActionAttachImage,
		Image: &ImageRef{BlobID: blobID, Category: "oral-cavity"},
	})
	if !errors.Is(err, ErrActionNotAllowed) {
		t.Fatalf("expected ErrActionNotAllowed, got %v", err)
	}

	second := submitOroscanFrom(t, env, env.upload(t, d.ID))
	if err := env.svc.DeletePatient(ctx, second.ScreeningNumber); err != nil {
		t.Fatal(err)
	}
	if _, err := env.blobs.GetMetadata(ctx, blobID); err != nil {
		t.Errorf("patient %s lost its image: %v", first.ScreeningNumber, err)
	}
}

func submitOroscanFrom(t *testing.T, env *testEnv, d Draft) *Patient {
	t.Helper()
	done, err := env.svc.Submit(context.Background(), testOwner.String(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := env.repo.Get(context.Background(), done.ScreeningNumber)
	return p
}

func TestService_GetDraft_OtherIDKeepsLiveDraft(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	d := env.walk(t, Oroscan)

	if _, err := env.svc.GetDraft(ctx, testOwner.String(), "stale-tab-id"); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound, got %v", err)
	}
	if _, err := env.svc.Dispatch(ctx, testOwner.String(), "stale-tab-id", Action{Type: ActionBack}); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound from Dispatch, got %v", err)
	}

	resumed, err := env.svc.StartDraft(ctx, testOwner.String(), Oroscan)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.ID != d.ID || resumed.Step != d.Step || len(resumed.Responses) != len(d.Responses) {
		t.Errorf("live draft was replaced: got %s at %s with %d responses", resumed.ID, resumed.Step, len(resumed.Responses))
	}
}

func TestService_Dispatch_DetachRemovesBlob(t *testing.T) {
	env := newTestEnv()
	d := env.walk(t, Oroscan)
	d = env.upload(t, d.ID)
	if env.blobs.Len() != 1 {
		t.Fatalf("expected one stored blob, got %d", env.blobs.Len())
	}

	d = env.dispatch(t, d.ID, Action{Type: ActionDetachImage, BlobID: d.Images[0].BlobID})
	if len(d.Images) != 0 {
		t.Errorf("expected image detached, got %d", len(d.Images))
	}
	if env.blobs.Len() != 0 {
		t.Errorf("expected detached blob deleted, %d left", env.blobs.Len())
	}
}

func TestService_StartDraft_OtherTypeReleasesImages(t *testing.T) {
	env := newTestEnv()
	d := env.walk(t, Oroscan)
	env.upload(t, d.ID)

	if _, err := env.svc.StartDraft(context.Background(), testOwner.String(), Medtech); err != nil {
		t.Fatal(err)
	}
	if env.blobs.Len() != 0 {
		t.Errorf("expected discarded images deleted, %d left", env.blobs.Len())
	}
}

func TestService_DiscardDraft(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	d := env.walk(t, Oroscan)
	env.upload(t, d.ID)

	if err := env.svc.DiscardDraft(ctx, testOwner.String(), "other"); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("expected ErrDraftNotFound, got %v", err)
	}
	if err := env.svc.DiscardDraft(ctx, testOwner.String(), d.ID); err != nil {
		t.Fatalf("DiscardDraft() error: %v", err)
	}
	if env.blobs.Len() != 0 {
		t.Errorf("expected draft images deleted, %d left", env.blobs.Len())
	}

	fresh, err := env.svc.StartDraft(ctx, testOwner.String(), "")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ID == d.ID || fresh.Step != StepPatientInfo {
		t.Errorf("expected a new draft, got %s at %s", fresh.ID, fresh.Step)
	}
}
