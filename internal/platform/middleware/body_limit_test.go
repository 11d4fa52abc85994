package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1M", 1 << 20},
		{"10MB", 10 << 20},
		{"512K", 512 << 10},
		{"1G", 1 << 30},
		{"1024", 1024},
		{"", 1 << 20},
		{"invalid", 1 << 20},
		{"-5", 1 << 20},
	}

	for _, tt := range tests {
		if got := parseLimit(tt.input); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func runBodyLimit(t *testing.T, req *http.Request) error {
	t.Helper()
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	return BodyLimit("1K", "4K")(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.NoContent(http.StatusOK)
	})(c)
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/screening/drafts", strings.NewReader(`{"type":"OROSCAN"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if err := runBodyLimit(t, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBodyLimit_RejectsLargeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/screening/drafts", bytes.NewReader(make([]byte, 2048)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := runBodyLimit(t, req)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
}

func TestBodyLimit_MultipartGetsUploadLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/screening/drafts/x/images", bytes.NewReader(make([]byte, 2048)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEMultipartForm+"; boundary=abc")
	if err := runBodyLimit(t, req); err != nil {
		t.Fatalf("expected 2K multipart body under 4K upload limit, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/screening/drafts/x/images", bytes.NewReader(make([]byte, 8192)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEMultipartForm+"; boundary=abc")
	if err := runBodyLimit(t, req); err == nil {
		t.Fatal("expected 8K multipart body to be rejected")
	}
}

func TestBodyLimit_MissingContentLength(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/users", bytes.NewReader(make([]byte, 2048)))
	req.ContentLength = -1
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := runBodyLimit(t, req)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected streaming limit to return 413, got %v", err)
	}
}

func TestBodyLimit_GetWithoutBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/oroscan", nil)
	if err := runBodyLimit(t, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
