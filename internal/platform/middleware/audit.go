package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mccd/mccd/internal/platform/auth"
)

const certificatesPrefix = "/api/v1/certificates/"

// AuditEntry describes one access to a certificate resource.
type AuditEntry struct {
	UserID        string
	UserRoles     []string
	CertificateID uuid.UUID
	Action        string // viewed, pdf_generated
	IPAddress     string
	UserAgent     string
	Path          string
	Method        string
	Timestamp     time.Time
	RequestID     string
	StatusCode    int
}

// AuditRecorder persists access events that are not a side effect of a save.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit emits a structured access log line for every /api/v1 request and
// hands successful certificate reads and PDF-generation callbacks to the
// recorder. A recorder failure is logged and never changes the response.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !strings.HasPrefix(path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
			}
			ctx := req.Context()
			entry.UserID = auth.UserIDFromContext(ctx)
			entry.UserRoles = auth.RolesFromContext(ctx)
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			entry.CertificateID, entry.Action = certificateAccess(req.Method, path)

			if recorder != nil && entry.Action != "" && err == nil && entry.StatusCode < http.StatusBadRequest {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Str("certificate_id", entry.CertificateID.String()).
						Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("api_access")

			return err
		}
	}
}

// certificateAccess classifies a request against a single certificate:
//   - GET  /api/v1/certificates/<id>               -> viewed
//   - POST /api/v1/certificates/<id>/pdf-generated -> pdf_generated
func certificateAccess(method, path string) (uuid.UUID, string) {
	if !strings.HasPrefix(path, certificatesPrefix) {
		return uuid.Nil, ""
	}
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, certificatesPrefix), "/"), "/")
	id, err := uuid.Parse(segments[0])
	if err != nil {
		return uuid.Nil, ""
	}

	switch {
	case method == http.MethodGet && len(segments) == 1:
		return id, "viewed"
	case method == http.MethodPost && len(segments) == 2 && segments[1] == "pdf-generated":
		return id, "pdf_generated"
	}
	return uuid.Nil, ""
}
