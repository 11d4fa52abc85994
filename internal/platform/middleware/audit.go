package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/Ishan03-25/healthScreening/internal/platform/auth"
)

// AuditEntry records one access to patient data.
type AuditEntry struct {
	UserID          string
	UserRoles       []string
	Resource        string
	ScreeningNumber string
	Action          string // read, create, update, delete, export
	IPAddress       string
	UserAgent       string
	Path            string
	Method          string
	Timestamp       time.Time
	RequestID       string
	StatusCode      int
}

// AuditRecorder persists audit entries somewhere other than the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// auditedPrefixes are the route groups that expose patient records.
var auditedPrefixes = []string{
	"/api/v1/admin/patients",
	"/api/v1/admin/screenings",
	"/api/v1/dashboard/",
	"/api/v1/screening/",
}

var screeningNumberPattern = regexp.MustCompile(`/patients/(\d{5})(?:/|$)`)

// Audit logs every request touching patient data after the handler runs,
// and forwards the entry to the optional recorder.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}

			ctx := req.Context()
			entry := AuditEntry{
				UserID:          auth.UserIDFromContext(ctx),
				UserRoles:       auth.RolesFromContext(ctx),
				Resource:        extractResource(path),
				ScreeningNumber: extractScreeningNumber(path),
				Action:          auditAction(req.Method, path),
				IPAddress:       c.RealIP(),
				UserAgent:       req.UserAgent(),
				Path:            path,
				Method:          req.Method,
				Timestamp:       time.Now().UTC(),
				RequestID:       requestID(c),
				StatusCode:      status,
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("screening_number", entry.ScreeningNumber).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("patient_data_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	for _, p := range auditedPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func auditAction(method, path string) string {
	if strings.HasSuffix(path, "/export") || strings.HasSuffix(path, "/report") {
		return "export"
	}
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource returns the first path segment after /api/v1/, or the
// first two for the admin group (admin/patients).
func extractResource(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	segments := strings.Split(rest, "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown"
	}
	if segments[0] == "admin" && len(segments) > 1 {
		return "admin/" + segments[1]
	}
	return segments[0]
}

func extractScreeningNumber(path string) string {
	m := screeningNumberPattern.FindStringSubmatch(path)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
