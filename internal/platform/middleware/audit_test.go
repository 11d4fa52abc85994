package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Ishan03-25/healthScreening/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func auditRequest(t *testing.T, rec AuditRecorder, method, path string, status int) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "user-1")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"admin"})
	req = req.WithContext(ctx)
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-123")

	_ = Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return c.NoContent(status)
	})(c)
}

func TestAudit_RecordsPatientAccess(t *testing.T) {
	rec := &mockRecorder{}
	auditRequest(t, rec, http.MethodPatch, "/api/v1/admin/patients/48213", http.StatusOK)

	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	got := rec.entries[0]
	if got.ScreeningNumber != "48213" {
		t.Errorf("expected screening number 48213, got %q", got.ScreeningNumber)
	}
	if got.Action != "update" {
		t.Errorf("expected update, got %q", got.Action)
	}
	if got.Resource != "admin/patients" {
		t.Errorf("expected admin/patients, got %q", got.Resource)
	}
	if got.UserID != "user-1" || got.RequestID != "req-123" {
		t.Errorf("unexpected identity fields: %+v", got)
	}
}

func TestAudit_ExportAction(t *testing.T) {
	rec := &mockRecorder{}
	auditRequest(t, rec, http.MethodGet, "/api/v1/admin/patients/export", http.StatusOK)
	if rec.entries[0].Action != "export" {
		t.Errorf("expected export action, got %q", rec.entries[0].Action)
	}
	if rec.entries[0].ScreeningNumber != "" {
		t.Errorf("expected no screening number, got %q", rec.entries[0].ScreeningNumber)
	}
}

func TestAudit_SkipsOtherPaths(t *testing.T) {
	rec := &mockRecorder{}
	auditRequest(t, rec, http.MethodGet, "/health", http.StatusOK)
	auditRequest(t, rec, http.MethodPost, "/api/v1/auth/login", http.StatusOK)
	if rec.count() != 0 {
		t.Errorf("expected no entries, got %d", rec.count())
	}
}

func TestAudit_RecorderErrorDoesNotFailRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/patients/12345", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("expected recorder error to be swallowed, got %v", err)
	}
}

func TestExtractResource(t *testing.T) {
	tests := map[string]string{
		"/api/v1/dashboard/oroscan":    "dashboard",
		"/api/v1/admin/users":          "admin/users",
		"/api/v1/screening/drafts/abc": "screening",
		"/api/v1/":                     "unknown",
	}
	for path, want := range tests {
		if got := extractResource(path); got != want {
			t.Errorf("extractResource(%q) = %q, want %q", path, got, want)
		}
	}
}
