package screening

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ishan03-25/healthScreening/internal/platform/blobstore"
	"github.com/Ishan03-25/healthScreening/internal/platform/draftstore"
	"github.com/Ishan03-25/healthScreening/internal/platform/events"
	"github.com/Ishan03-25/healthScreening/internal/platform/export"
)

// DefaultDraftTTL is how long an untouched draft survives.
const DefaultDraftTTL = 24 * time.Hour

// Export formats accepted by Service.Export.
const (
	FormatCSV   = "csv"
	FormatExcel = "excel"
)

type Service struct {
	patients PatientRepository
	drafts   draftstore.Store
	blobs    blobstore.BlobStore
	events   events.Publisher
	logger   zerolog.Logger
	draftTTL time.Duration

	now   func() time.Time
	newID func() string
}

func NewService(patients PatientRepository, drafts draftstore.Store, blobs blobstore.BlobStore, publisher events.Publisher, logger zerolog.Logger, draftTTL time.Duration) *Service {
	if draftTTL <= 0 {
		draftTTL = DefaultDraftTTL
	}
	if publisher == nil {
		publisher = events.NewLogPublisher(logger)
	}
	return &Service{
		patients: patients,
		drafts:   drafts,
		blobs:    blobs,
		events:   publisher,
		logger:   logger.With().Str("component", "screening").Logger(),
		draftTTL: draftTTL,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
}

// Each user has one live draft at a time.
func draftKey(owner string) string { return "user:" + owner }

func (s *Service) loadDraft(ctx context.Context, owner string) (Draft, bool, error) {
	var d Draft
	err := s.drafts.Load(ctx, draftKey(owner), &d)
	if errors.Is(err, draftstore.ErrDraftNotFound) {
		return Draft{}, false, nil
	}
	if err != nil {
		return Draft{}, false, fmt.Errorf("load draft: %w", err)
	}
	return d, true, nil
}

func (s *Service) saveDraft(ctx context.Context, d Draft) error {
	if err := s.drafts.Save(ctx, draftKey(d.OwnerID), d, s.draftTTL); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (s *Service) freshDraft(owner string) Draft {
	return NewDraft(s.newID(), owner, s.newID())
}

// StartDraft resumes the owner's draft or starts a new one. A finished draft
// is never resumed. When program is set it is applied as a preselection,
// which discards a saved draft of another program.
func (s *Service) StartDraft(ctx context.Context, owner string, program Program) (Draft, error) {
	d, found, err := s.loadDraft(ctx, owner)
	if err != nil {
		return Draft{}, err
	}
	if !found || d.Step == StepSuccess {
		d = s.freshDraft(owner)
	}
	saved := d
	if program != "" {
		d = Preselect(d, program, s.newID())
	}
	if err := s.saveDraft(ctx, d); err != nil {
		return Draft{}, err
	}
	s.removeBlobs(ctx, droppedImages(saved, d))
	return d, nil
}

// GetDraft returns the owner's draft with the given ID. When nothing is
// stored (never started or expired) an empty draft is started under id. A
// live draft with another ID is left alone and ErrDraftNotFound returned.
func (s *Service) GetDraft(ctx context.Context, owner, id string) (Draft, error) {
	d, found, err := s.loadDraft(ctx, owner)
	if err != nil {
		return Draft{}, err
	}
	if found {
		if d.ID != id {
			return Draft{}, fmt.Errorf("%w: %s", ErrDraftNotFound, id)
		}
		return d, nil
	}
	d = NewDraft(id, owner, s.newID())
	if err := s.saveDraft(ctx, d); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// DiscardDraft abandons the owner's draft and deletes its uploaded images.
func (s *Service) DiscardDraft(ctx context.Context, owner, id string) error {
	d, found, err := s.loadDraft(ctx, owner)
	if err != nil {
		return err
	}
	if !found || d.ID != id {
		return fmt.Errorf("%w: %s", ErrDraftNotFound, id)
	}
	if err := s.drafts.Delete(ctx, draftKey(owner)); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	s.removeBlobs(ctx, droppedImages(d, Draft{}))
	return nil
}

// droppedImages lists blobs attached to before but no longer to after.
func droppedImages(before, after Draft) []string {
	kept := make(map[string]bool, len(after.Images))
	for _, img := range after.Images {
		kept[img.BlobID] = true
	}
	var out []string
	for _, img := range before.Images {
		if !kept[img.BlobID] {
			out = append(out, img.BlobID)
		}
	}
	return out
}

// Dispatch applies one client action to the draft and stores the result.
func (s *Service) Dispatch(ctx context.Context, owner, id string, a Action) (Draft, error) {
	if !a.Type.ClientAction() {
		return Draft{}, fmt.Errorf("%w: %s", ErrActionNotAllowed, a.Type)
	}
	d, err := s.GetDraft(ctx, owner, id)
	if err != nil {
		return Draft{}, err
	}
	a.ScreeningNumber, a.Message, a.SubmissionToken = "", "", ""
	if a.Type == ActionNewScreening {
		a.SubmissionToken = s.newID()
	}
	next := Reduce(d, a)
	if err := s.saveDraft(ctx, next); err != nil {
		return Draft{}, err
	}
	// Detaching or switching program releases uploaded images.
	s.removeBlobs(ctx, droppedImages(d, next))
	return next, nil
}

// AttachImage stores an uploaded image and attaches it to the draft. The
// blob is removed again when the draft rejects it.
func (s *Service) AttachImage(ctx context.Context, owner, id string, meta blobstore.BlobMetadata, content io.Reader) (Draft, error) {
	d, err := s.GetDraft(ctx, owner, id)
	if err != nil {
		return Draft{}, err
	}
	if d.ScreeningType == "" || d.Step != CaptureStep(d.ScreeningType) {
		return Reduce(d, Action{Type: ActionAttachImage}), nil
	}

	if meta.Category == "" {
		meta.Category = blobstore.DefaultCategory
	}
	meta.CreatedBy = owner
	stored, err := s.blobs.Upload(ctx, meta, content)
	if err != nil {
		return Draft{}, err
	}

	next := Reduce(d, Action{Type: ActionAttachImage, Image: &ImageRef{
		BlobID:      stored.ID,
		Category:    stored.Category,
		ContentType: stored.ContentType,
	}})
	if next.Problem != "" {
		s.removeBlobs(ctx, []string{stored.ID})
		return next, nil
	}
	if err := s.saveDraft(ctx, next); err != nil {
		s.removeBlobs(ctx, []string{stored.ID})
		return Draft{}, err
	}
	return next, nil
}

// Submit persists the draft as a patient record. A rejected draft comes back
// with Problem set and a nil error. A persistence failure returns the
// retained draft together with an error wrapping ErrSubmissionFailed.
func (s *Service) Submit(ctx context.Context, owner, id string) (Draft, error) {
	d, err := s.GetDraft(ctx, owner, id)
	if err != nil {
		return Draft{}, err
	}
	if d.Step == StepSuccess {
		return d, nil
	}

	d = Reduce(d, Action{Type: ActionSubmitStarted})
	if d.Problem != "" {
		return d, s.saveDraft(ctx, d)
	}

	patient, err := s.buildPatient(d)
	if err != nil {
		return s.failSubmission(ctx, d, err)
	}
	stored, created, err := s.patients.Submit(ctx, patient)
	if err != nil {
		return s.failSubmission(ctx, d, err)
	}

	d = Completed(Reduce(d, Action{Type: ActionSubmitSucceeded, ScreeningNumber: stored.ScreeningNumber}))
	if err := s.saveDraft(ctx, d); err != nil {
		s.logger.Warn().Err(err).Str("screening_number", stored.ScreeningNumber).Msg("could not store completed draft")
	}

	if created {
		s.publishSubmitted(ctx, stored)
	}
	s.logger.Info().
		Str("screening_number", stored.ScreeningNumber).
		Str("screening_type", string(stored.ScreeningType)).
		Bool("created", created).
		Msg("screening submitted")
	return d, nil
}

func (s *Service) failSubmission(ctx context.Context, d Draft, cause error) (Draft, error) {
	s.logger.Error().Err(cause).Str("draft_id", d.ID).Msg("screening submission failed")
	d = Reduce(d, Action{Type: ActionSubmitFailed, Message: "could not save the screening; please try again"})
	if err := s.saveDraft(ctx, d); err != nil {
		s.logger.Warn().Err(err).Str("draft_id", d.ID).Msg("could not store failed draft")
	}
	return d, fmt.Errorf("%w: %v", ErrSubmissionFailed, cause)
}

// buildPatient packages a draft for persistence. Responses are ordered by
// catalog position and carry the catalog's category and text.
func (s *Service) buildPatient(d Draft) (*Patient, error) {
	token, err := uuid.Parse(d.SubmissionToken)
	if err != nil {
		return nil, fmt.Errorf("invalid submission token: %w", err)
	}
	p := &Patient{
		SubmissionToken: token,
		Name:            d.Identity.Name,
		Age:             d.Identity.Age,
		Gender:          d.Identity.Gender,
		Phone:           d.Identity.Phone,
		HealthAssistant: d.Identity.HealthAssistant,
		Address:         d.Identity.Address,
		ScreeningType:   d.ScreeningType,
	}
	if owner, err := uuid.Parse(d.OwnerID); err == nil {
		p.CreatedBy = &owner
	}

	responses := make([]Response, len(d.Responses))
	copy(responses, d.Responses)
	sort.SliceStable(responses, func(i, j int) bool {
		return CatalogPosition(d.ScreeningType, responses[i].QuestionID) < CatalogPosition(d.ScreeningType, responses[j].QuestionID)
	})
	for _, r := range responses {
		q, ok := LookupQuestion(d.ScreeningType, r.QuestionID)
		if !ok {
			continue
		}
		p.Responses = append(p.Responses, &PatientResponse{
			Position:     CatalogPosition(d.ScreeningType, q.ID),
			QuestionID:   q.ID,
			Category:     q.Category,
			QuestionText: q.Text,
			Answer:       r.Answer,
			Duration:     r.Duration,
		})
		if d.ScreeningType == Medtech {
			v := r.Answer
			switch q.ID {
			case "height":
				p.Height = &v
			case "weight":
				p.Weight = &v
			}
		}
	}
	for _, img := range d.Images {
		p.Images = append(p.Images, &PatientImage{BlobID: img.BlobID, Category: img.Category, ContentType: img.ContentType})
	}
	return p, nil
}

func (s *Service) publishSubmitted(ctx context.Context, p *Patient) {
	evt := events.Event{
		ID:         s.newID(),
		Type:       events.TypeScreeningSubmitted,
		OccurredAt: s.now().UTC(),
		Data: map[string]interface{}{
			"screening_number":   p.ScreeningNumber,
			"screening_type":     p.ScreeningType,
			"image_count":        len(p.Images),
			"awaiting_diagnosis": p.ScreeningType == Oroscan,
		},
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("screening_number", p.ScreeningNumber).Msg("publish screening.submitted failed")
	}
}

// Dashboard summarizes the owner's patients of a program.
func (s *Service) Dashboard(ctx context.Context, owner uuid.UUID, program Program) (Dashboard, error) {
	patients, err := s.patients.ListAll(ctx, ownerFilter(owner, program))
	if err != nil {
		return Dashboard{}, err
	}
	return BuildDashboard(program, patients, s.now()), nil
}

// PatientDetail is a patient with its responses grouped for display.
type PatientDetail struct {
	*Patient
	Groups     []CategoryGroup `json:"response_groups"`
	Assessment Assessment      `json:"assessment"`
	Diagnosis  *Diagnosis      `json:"latest_diagnosis,omitempty"`
}

func newPatientDetail(p *Patient) *PatientDetail {
	return &PatientDetail{
		Patient:    p,
		Groups:     GroupByCategory(p.Responses),
		Assessment: Classify(p),
		Diagnosis:  p.LatestDiagnosis(),
	}
}

// PatientDetail loads one patient. Callers that are not admins only see
// their own patients; anything else reports ErrPatientNotFound.
func (s *Service) PatientDetail(ctx context.Context, number string, viewer uuid.UUID, admin bool) (*PatientDetail, error) {
	p, err := s.patients.Get(ctx, number)
	if err != nil {
		return nil, err
	}
	if !admin && (p.CreatedBy == nil || *p.CreatedBy != viewer) {
		return nil, fmt.Errorf("%w: %s", ErrPatientNotFound, number)
	}
	return newPatientDetail(p), nil
}

func summarizeAll(patients []*Patient) []PatientSummary {
	out := make([]PatientSummary, 0, len(patients))
	for _, p := range patients {
		out = append(out, Summarize(p))
	}
	return out
}

func (s *Service) ListPatients(ctx context.Context, filter ListFilter, limit, offset int) ([]PatientSummary, int, error) {
	patients, total, err := s.patients.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return summarizeAll(patients), total, nil
}

// AllPatients lists every matching patient with its derived assessment.
func (s *Service) AllPatients(ctx context.Context, filter ListFilter) ([]PatientSummary, error) {
	patients, err := s.patients.ListAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	return summarizeAll(patients), nil
}

// UpdatePatient applies an admin edit. Response edits follow the same answer
// and duration rules as the screening flow.
func (s *Service) UpdatePatient(ctx context.Context, number string, upd PatientUpdate) (*PatientDetail, error) {
	p, err := s.patients.Get(ctx, number)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*PatientResponse, len(p.Responses))
	for _, r := range p.Responses {
		byID[r.ID] = r
	}
	for i, edit := range upd.Responses {
		current, ok := byID[edit.ID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown response %s", ErrInvalidPatientEdit, edit.ID)
		}
		fixed, err := normalizeEdit(p.ScreeningType, current, edit)
		if err != nil {
			return nil, err
		}
		upd.Responses[i] = fixed
	}

	removed, err := s.patients.Update(ctx, number, upd)
	if err != nil {
		return nil, err
	}
	s.removeBlobs(ctx, removed)

	p, err = s.patients.Get(ctx, number)
	if err != nil {
		return nil, err
	}
	return newPatientDetail(p), nil
}

func normalizeEdit(program Program, current *PatientResponse, edit ResponseEdit) (ResponseEdit, error) {
	answer := strings.TrimSpace(edit.Answer)
	q, known := LookupQuestion(program, current.QuestionID)
	if known {
		v, ok := q.Normalize(answer)
		if !ok {
			return edit, fmt.Errorf("%w: invalid answer for %s", ErrInvalidPatientEdit, q.ID)
		}
		answer = v
	} else if answer == "" {
		return edit, fmt.Errorf("%w: empty answer", ErrInvalidPatientEdit)
	}
	edit.Answer = answer

	if edit.Duration != nil {
		v := strings.TrimSpace(*edit.Duration)
		switch {
		case v == "":
			edit.Duration = nil
		case !known || !q.AcceptsDuration:
			return edit, fmt.Errorf("%w: %s does not take a duration", ErrInvalidPatientEdit, current.QuestionID)
		case !ValidDuration(v):
			return edit, fmt.Errorf("%w: invalid duration %q", ErrInvalidPatientEdit, v)
		default:
			edit.Duration = &v
		}
	} else if known && q.AcceptsDuration {
		edit.Duration = current.Duration
	}
	if !IsAffirmative(answer) {
		edit.Duration = nil
	}
	return edit, nil
}

// DeletePatient removes a patient and, best effort, its stored images.
func (s *Service) DeletePatient(ctx context.Context, number string) error {
	blobIDs, err := s.patients.Delete(ctx, number)
	if err != nil {
		return err
	}
	s.removeBlobs(ctx, blobIDs)
	s.logger.Info().Str("screening_number", number).Int("images", len(blobIDs)).Msg("patient deleted")
	return nil
}

func (s *Service) removeBlobs(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := s.blobs.Delete(ctx, id); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
			s.logger.Warn().Err(err).Str("blob_id", id).Msg("could not delete image")
		}
	}
}

// RecordDiagnosis attaches a review outcome to an Oroscan patient.
func (s *Service) RecordDiagnosis(ctx context.Context, number string, d *Diagnosis) error {
	d.Result = strings.TrimSpace(d.Result)
	if d.Result == "" {
		return fmt.Errorf("%w: result is required", ErrInvalidDiagnosis)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidDiagnosis)
	}
	return s.patients.AddDiagnosis(ctx, number, d)
}

// Export writes every patient of program to w and returns the download
// file name and content type.
func (s *Service) Export(ctx context.Context, program Program, format string, w io.Writer) (string, string, error) {
	var ext, contentType string
	switch strings.ToLower(format) {
	case FormatCSV:
		ext, contentType = "csv", export.ContentTypeCSV
	case FormatExcel, "xlsx":
		ext, contentType = "xlsx", export.ContentTypeXLSX
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	patients, err := s.patients.ListAll(ctx, ListFilter{Program: program})
	if err != nil {
		return "", "", err
	}
	table := BuildExportTable(patients, program)
	if ext == "csv" {
		err = export.WriteCSV(w, table)
	} else {
		err = export.WriteXLSX(w, table)
	}
	if err != nil {
		return "", "", fmt.Errorf("write export: %w", err)
	}
	return ExportFileName(program, ext, s.now()), contentType, nil
}

// Report writes a single-patient workbook to w and returns its file name.
func (s *Service) Report(ctx context.Context, number string, w io.Writer) (string, error) {
	p, err := s.patients.Get(ctx, number)
	if err != nil {
		return "", err
	}
	if err := export.WriteXLSX(w, PatientReport(p)...); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return fmt.Sprintf("patient_%s_%s.xlsx", p.ScreeningNumber, s.now().Format("2006-01-02")), nil
}
