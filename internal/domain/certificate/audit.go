package certificate

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mccd/mccd/internal/platform/middleware"
)

type clientKey struct{}

// ClientInfo describes the caller's client for audit entries.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

// WithClient attaches the caller's client details to ctx.
func WithClient(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientKey{}, info)
}

func clientFromContext(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientKey{}).(ClientInfo)
	return info
}

// writeAudit appends an entry after a successful primary write. Failures
// are logged and counted, never returned.
func (s *Service) writeAudit(ctx context.Context, e *AuditEntry) {
	client := clientFromContext(ctx)
	e.UserAgent = client.UserAgent
	e.IPAddress = client.IPAddress
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if err := s.audit.Append(ctx, e); err != nil {
		if s.metrics != nil {
			s.metrics.AuditFailures.Inc()
		}
		s.logger.Error().Err(err).
			Str("certificate_id", e.CertificateID.String()).
			Str("action", e.Action).
			Msg("audit log write failed")
	}
}

// RecordAccess stores a viewed or pdf_generated entry for a request that
// already succeeded. It satisfies middleware.AuditRecorder.
func (s *Service) RecordAccess(entry middleware.AuditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e := &AuditEntry{
		CertificateID: entry.CertificateID,
		Action:        entry.Action,
		IPAddress:     entry.IPAddress,
		UserAgent:     entry.UserAgent,
		CreatedAt:     entry.Timestamp,
	}
	if uid, err := uuid.Parse(entry.UserID); err == nil {
		e.UserID = &uid
	}
	if entry.RequestID != "" {
		e.Changes = map[string]any{"request_id": entry.RequestID}
	}
	return s.audit.Append(ctx, e)
}

// AuditTrail returns the entries of one certificate, oldest first.
func (s *Service) AuditTrail(ctx context.Context, id uuid.UUID) ([]*AuditEntry, error) {
	return s.audit.ListByCertificate(ctx, id)
}
