package screening

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ishan03-25/healthScreening/internal/platform/auth"
	"github.com/Ishan03-25/healthScreening/internal/platform/blobstore"
	"github.com/Ishan03-25/healthScreening/internal/platform/export"
	"github.com/Ishan03-25/healthScreening/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Screening flow and dashboards: any signed-in user
	user := api.Group("", auth.RequireRole(auth.RoleUser))
	user.POST("/screening/drafts", h.StartDraft)
	user.GET("/screening/drafts/:id", h.GetDraft)
	user.DELETE("/screening/drafts/:id", h.DiscardDraft)
	user.POST("/screening/drafts/:id/actions", h.Dispatch)
	user.POST("/screening/drafts/:id/images", h.UploadImage)
	user.POST("/screening/drafts/:id/submit", h.Submit)
	user.GET("/screening/catalog/:program", h.GetCatalog)
	user.GET("/dashboard/patients/:id", h.GetPatient)
	user.GET("/dashboard/:program", h.GetDashboard)

	// Patient administration
	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/screenings", h.ListScreenings)
	admin.GET("/patients", h.ListPatients)
	admin.GET("/patients/export", h.ExportPatients)
	admin.GET("/patients/:id", h.GetPatientAdmin)
	admin.GET("/patients/:id/report", h.PatientReport)
	admin.PATCH("/patients/:id", h.UpdatePatient)
	admin.DELETE("/patients/:id", h.DeletePatient)
	admin.POST("/patients/:id/diagnoses", h.RecordDiagnosis)
}

func owner(c echo.Context) (string, error) {
	id := auth.UserIDFromContext(c.Request().Context())
	if id == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func programParam(c echo.Context, name string) (Program, error) {
	p, err := ParseProgram(c.Param(name))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return p, nil
}

// -- Drafts --

func (h *Handler) StartDraft(c echo.Context) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	var program Program
	if t := c.QueryParam("type"); t != "" {
		if program, err = ParseProgram(t); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	d, err := h.svc.StartDraft(c.Request().Context(), uid, program)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetDraft(c echo.Context) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDraft(c.Request().Context(), uid, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DiscardDraft(c echo.Context) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	if err := h.svc.DiscardDraft(c.Request().Context(), uid, c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Dispatch(c echo.Context) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	var a Action
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if a.Type == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action type is required")
	}
	d, err := h.svc.Dispatch(c.Request().Context(), uid, c.Param("id"), a)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UploadImage(c echo.Context) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("image")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "image file is required")
	}
	if fh.Size > blobstore.MaxFileSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, blobstore.ErrFileTooLarge.Error())
	}
	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read image")
	}
	defer src.Close()

	meta := blobstore.BlobMetadata{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Category:    c.FormValue("category"),
	}
	d, err := h.svc.AttachImage(c.Request().Context(), uid, c.Param("id"), meta, src)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Submit(c echo.Context) error {
	uid, err := owner(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Submit(c.Request().Context(), uid, c.Param("id"))
	if errors.Is(err, ErrSubmissionFailed) {
		return c.JSON(http.StatusBadGateway, d)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetCatalog(c echo.Context) error {
	p, err := programParam(c, "program")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"program":          p,
		"title":            p.Title(),
		"steps":            Sequence(p, true),
		"questions":        Catalog(p),
		"duration_options": DurationOptions,
	})
}

// -- Dashboards --

func viewer(c echo.Context) (uuid.UUID, error) {
	uid, err := owner(c)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(uid)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid user id")
	}
	return id, nil
}

func (h *Handler) GetDashboard(c echo.Context) error {
	p, err := programParam(c, "program")
	if err != nil {
		return err
	}
	uid, err := viewer(c)
	if err != nil {
		return err
	}
	dash, err := h.svc.Dashboard(c.Request().Context(), uid, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, dash)
}

func (h *Handler) GetPatient(c echo.Context) error {
	uid, err := viewer(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	detail, err := h.svc.PatientDetail(ctx, c.Param("id"), uid, auth.IsAdmin(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

// -- Admin --

func listFilter(c echo.Context) (ListFilter, error) {
	f := ListFilter{Search: c.QueryParam("search")}
	if t := c.QueryParam("type"); t != "" {
		p, err := ParseProgram(t)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		f.Program = p
	}
	return f, nil
}

func (h *Handler) ListScreenings(c echo.Context) error {
	f, err := listFilter(c)
	if err != nil {
		return err
	}
	rows, err := h.svc.AllPatients(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"screenings": rows, "total": len(rows)})
}

func (h *Handler) ListPatients(c echo.Context) error {
	f, err := listFilter(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	rows, total, err := h.svc.ListPatients(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(rows, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetPatientAdmin(c echo.Context) error {
	detail, err := h.svc.PatientDetail(c.Request().Context(), c.Param("id"), uuid.Nil, true)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var upd PatientUpdate
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	detail, err := h.svc.UpdatePatient(c.Request().Context(), c.Param("id"), upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	if err := h.svc.DeletePatient(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type diagnosisRequest struct {
	Result     string                 `json:"result" validate:"required"`
	Confidence *float64               `json:"confidence" validate:"required,gte=0,lte=1"`
	Metadata   map[string]interface{} `json:"metadata"`
}

func (h *Handler) RecordDiagnosis(c echo.Context) error {
	var req diagnosisRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	d := &Diagnosis{Result: req.Result, Confidence: *req.Confidence, Metadata: req.Metadata}
	if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
		d.CreatedBy = &uid
	}
	if err := h.svc.RecordDiagnosis(c.Request().Context(), c.Param("id"), d); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ExportPatients(c echo.Context) error {
	p, err := ParseProgram(c.QueryParam("type"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	format := c.QueryParam("format")
	if format == "" {
		format = FormatExcel
	}
	var buf bytes.Buffer
	name, contentType, err := h.svc.Export(c.Request().Context(), p, format, &buf)
	if err != nil {
		return httpError(err)
	}
	return attachment(c, name, contentType, buf.Bytes())
}

func (h *Handler) PatientReport(c echo.Context) error {
	var buf bytes.Buffer
	name, err := h.svc.Report(c.Request().Context(), c.Param("id"), &buf)
	if err != nil {
		return httpError(err)
	}
	return attachment(c, name, export.ContentTypeXLSX, buf.Bytes())
}

func attachment(c echo.Context, name, contentType string, body []byte) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Blob(http.StatusOK, contentType, body)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrPatientNotFound), errors.Is(err, ErrDraftNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrUnknownProgram),
		errors.Is(err, ErrActionNotAllowed),
		errors.Is(err, ErrInvalidPatientEdit),
		errors.Is(err, ErrInvalidDiagnosis),
		errors.Is(err, ErrUnknownFormat):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNumberSpace):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	if status := blobstore.StatusFor(err); status != http.StatusInternalServerError {
		return echo.NewHTTPError(status, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return echo.NewHTTPError(http.StatusRequestTimeout, "request canceled")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
