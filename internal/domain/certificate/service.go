package certificate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mccd/mccd/internal/domain/facility"
	"github.com/mccd/mccd/internal/platform/auth"
	"github.com/mccd/mccd/internal/platform/metrics"
	"github.com/mccd/mccd/internal/platform/tracing"
)

// User is the acting user of a save.
type User struct {
	ID   uuid.UUID
	Name string
}

// UserResolver returns the acting user, or nil when there is none.
type UserResolver interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// ContextUserResolver reads the identity placed on the request context by
// the auth middleware.
type ContextUserResolver struct{}

func (ContextUserResolver) CurrentUser(ctx context.Context) (*User, error) {
	raw := auth.UserIDFromContext(ctx)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, nil
	}
	return &User{ID: id, Name: auth.UserNameFromContext(ctx)}, nil
}

// ProfileLookup resolves the creator's placement; facility.ErrNotFound means
// the user has none on file.
type ProfileLookup interface {
	ProfileByUserID(ctx context.Context, userID uuid.UUID) (*facility.UserProfile, error)
}

// SaveOptions selects the target status and whether an existing
// certificate is updated.
type SaveOptions struct {
	Status        Status     `json:"status"`
	IsEditMode    bool       `json:"is_edit_mode"`
	CertificateID *uuid.UUID `json:"certificate_id,omitempty"`
}

// ErrorKind classifies a failed save.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindValidation     ErrorKind = "validation"
	KindForbidden      ErrorKind = "forbidden"
	KindNotFound       ErrorKind = "not_found"
	KindLocked         ErrorKind = "locked"
	KindPersistence    ErrorKind = "persistence"
)

// SaveResult is the outcome of Save. Failures are values, not errors.
type SaveResult struct {
	Success       bool         `json:"success"`
	CertificateID *uuid.UUID   `json:"certificate_id,omitempty"`
	SerialNumber  string       `json:"serial_number,omitempty"`
	Action        string       `json:"action,omitempty"`
	Error         string       `json:"error,omitempty"`
	Kind          ErrorKind    `json:"kind,omitempty"`
	Fields        []FieldError `json:"fields,omitempty"`
}

func failure(kind ErrorKind, msg string) SaveResult {
	return SaveResult{Kind: kind, Error: msg}
}

func invalid(errs []FieldError) SaveResult {
	return SaveResult{Kind: KindValidation, Error: errs[0].Message, Fields: errs}
}

type Service struct {
	repo          Repository
	audit         AuditRepository
	profiles      ProfileLookup
	users         UserResolver
	metrics       *metrics.Metrics
	logger        zerolog.Logger
	now           func() time.Time
	defaultRegion string
	drafts        DraftSerials
}

func NewService(repo Repository, audit AuditRepository, profiles ProfileLookup, logger zerolog.Logger) *Service {
	return &Service{
		repo:          repo,
		audit:         audit,
		profiles:      profiles,
		users:         ContextUserResolver{},
		logger:        logger.With().Str("component", "certificate").Logger(),
		now:           time.Now,
		defaultRegion: DefaultRegionCode,
	}
}

// SetMetrics attaches optional Prometheus collectors.
func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetClock replaces the clock used for timestamps and the edit window.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetUserResolver replaces the default context-based resolver.
func (s *Service) SetUserResolver(u UserResolver) { s.users = u }

// SetDefaultRegion sets the region code used when the creator has none.
func (s *Service) SetDefaultRegion(code string) {
	if code != "" {
		s.defaultRegion = code
	}
}

// Now is the service clock in UTC at the storage precision.
func (s *Service) Now() time.Time { return s.now().UTC().Truncate(time.Microsecond) }

// Save is the only write path for certificates. It inserts a new
// certificate or updates an existing one, allocates serial numbers, stamps
// submission times and appends an audit entry. The audit write is
// best-effort and never changes the result. Save runs to completion even if
// ctx is cancelled.
func (s *Service) Save(ctx context.Context, rec Record, opts SaveOptions) SaveResult {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	ctx, span := tracing.Tracer().Start(ctx, "certificate.save", trace.WithAttributes(
		attribute.String("certificate.status", string(opts.Status)),
		attribute.Bool("certificate.edit_mode", opts.IsEditMode),
	))
	defer span.End()

	res := s.save(ctx, rec, opts)

	outcome := metrics.OutcomeSuccess
	if !res.Success {
		outcome = metrics.OutcomeFailure
		span.SetStatus(codes.Error, res.Error)
		span.SetAttributes(attribute.String("certificate.error_kind", string(res.Kind)))
		s.logger.Warn().
			Str("kind", string(res.Kind)).
			Str("status", string(opts.Status)).
			Bool("edit_mode", opts.IsEditMode).
			Msg(res.Error)
	} else {
		span.SetAttributes(
			attribute.String("certificate.id", res.CertificateID.String()),
			attribute.String("certificate.action", res.Action),
		)
		s.logger.Info().
			Str("certificate_id", res.CertificateID.String()).
			Str("action", res.Action).
			Msg("certificate saved")
	}
	if s.metrics != nil {
		action := res.Action
		if action == "" {
			action = "none"
		}
		s.metrics.SavesTotal.WithLabelValues(string(opts.Status), action, outcome).Inc()
		s.metrics.SaveDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}
	return res
}

func (s *Service) save(ctx context.Context, rec Record, opts SaveOptions) SaveResult {
	user, err := s.resolveUser(ctx)
	if err != nil || user == nil {
		return failure(KindAuthentication, "not authenticated")
	}
	if !opts.Status.Valid() {
		return failure(KindValidation, "status must be draft or submitted")
	}

	payload, errs := s.prepare(ctx, rec, opts.Status, s.Now())
	if len(errs) > 0 {
		return invalid(errs)
	}

	if opts.IsEditMode && opts.CertificateID != nil {
		return s.update(ctx, user, *opts.CertificateID, payload, opts.Status)
	}
	return s.insert(ctx, user, payload, opts.Status)
}

func (s *Service) resolveUser(ctx context.Context) (*User, error) {
	_, span := tracing.Tracer().Start(ctx, "certificate.resolve_user")
	defer span.End()
	return s.users.CurrentUser(ctx)
}

// prepare filters and coerces the record, then applies the chain rule on
// every save and the submission rules when submitting. Nothing here touches
// the datastore.
func (s *Service) prepare(ctx context.Context, rec Record, status Status, now time.Time) (Record, []FieldError) {
	_, span := tracing.Tracer().Start(ctx, "certificate.prepare")
	defer span.End()

	payload, errs := Prepare(rec)
	if len(errs) > 0 {
		return nil, errs
	}
	if errs := ValidateChain(payload); len(errs) > 0 {
		return nil, errs
	}
	if status == StatusSubmitted {
		if errs := ValidateSubmission(payload, now); len(errs) > 0 {
			return nil, errs
		}
	}
	span.SetAttributes(attribute.Int("certificate.fields", len(payload)))
	return payload, nil
}

func (s *Service) profile(ctx context.Context, userID uuid.UUID) (*facility.UserProfile, error) {
	if s.profiles == nil {
		return nil, nil
	}
	p, err := s.profiles.ProfileByUserID(ctx, userID)
	if errors.Is(err, facility.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// allocateSerial asks the datastore for a final serial and falls back to a
// locally composed one when that fails.
func (s *Service) allocateSerial(ctx context.Context, p *facility.UserProfile, now time.Time) string {
	ctx, span := tracing.Tracer().Start(ctx, "certificate.allocate_serial")
	defer span.End()

	region, facilityCode := s.defaultRegion, ""
	if p != nil {
		if p.RegionCode != "" {
			region = p.RegionCode
		}
		facilityCode = p.FacilityCode
	}
	serial, err := s.repo.NextSerial(ctx, region, facilityCode)
	if err == nil && serial != "" {
		return serial
	}
	serial = FallbackSerial(region, now)
	span.SetAttributes(attribute.Bool("certificate.serial_fallback", true))
	s.logger.Warn().Err(err).Str("region", region).Str("serial", serial).Msg("serial allocation unavailable, using fallback")
	return serial
}

func (s *Service) insert(ctx context.Context, user *User, payload Record, status Status) SaveResult {
	now := s.Now()
	p, err := s.profile(ctx, user.ID)
	if err != nil {
		return failure(KindPersistence, "load user profile: "+err.Error())
	}

	params := InsertParams{
		ID:          uuid.New(),
		Status:      status,
		CreatedByID: user.ID,
		Content:     payload,
		Now:         now,
	}
	if p != nil {
		params.RegionID, params.DistrictID, params.FacilityID = p.RegionID, p.DistrictID, p.FacilityID
	}

	action := ActionCreated
	if status == StatusSubmitted {
		action = ActionSubmitted
		params.SerialNumber = s.allocateSerial(ctx, p, now)
		expires := WindowExpiry(now)
		params.SubmittedAt, params.EditWindowExpiresAt = &now, &expires
	} else {
		params.SerialNumber = s.drafts.Next(now)
	}

	if err := s.write(ctx, func(ctx context.Context) error { return s.repo.Insert(ctx, params) }); err != nil {
		return failure(KindPersistence, err.Error())
	}

	s.writeAudit(ctx, &AuditEntry{
		CertificateID: params.ID,
		UserID:        &user.ID,
		Action:        action,
		Changes:       map[string]any{"status": string(status), "fields": payload.Keys()},
	})
	return SaveResult{Success: true, CertificateID: &params.ID, SerialNumber: params.SerialNumber, Action: action}
}

func (s *Service) update(ctx context.Context, user *User, id uuid.UUID, payload Record, status Status) SaveResult {
	now := s.Now()
	existing, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return failure(KindNotFound, ErrNotFound.Error())
	}
	if err != nil {
		return failure(KindPersistence, err.Error())
	}
	if existing.CreatedByID != user.ID {
		return failure(KindForbidden, ErrForbidden.Error())
	}
	if !IsEditable(existing.Status, existing.EditWindowExpiresAt, now) {
		return failure(KindLocked, ErrLocked.Error())
	}
	if status == StatusSubmitted || existing.Status == StatusSubmitted {
		// the stored row stays submitted, so the result must still pass
		if errs := s.validateMerged(existing, payload, now); len(errs) > 0 {
			return invalid(errs)
		}
	}

	params := UpdateParams{ID: id, OwnerID: user.ID, Status: status, Content: payload, Now: now}
	action := ActionUpdated
	serial := existing.SerialNumber
	if status == StatusSubmitted && existing.Status == StatusDraft {
		action = ActionSubmitted
		if IsPlaceholderSerial(existing.SerialNumber) {
			p, err := s.profile(ctx, user.ID)
			if err != nil {
				return failure(KindPersistence, "load user profile: "+err.Error())
			}
			params.Serial = s.allocateSerial(ctx, p, now)
			serial = params.Serial
		}
	}

	err = s.write(ctx, func(ctx context.Context) error { return s.repo.Update(ctx, params) })
	if errors.Is(err, ErrLocked) {
		return failure(KindLocked, ErrLocked.Error())
	}
	if err != nil {
		return failure(KindPersistence, err.Error())
	}

	s.writeAudit(ctx, &AuditEntry{
		CertificateID: id,
		UserID:        &user.ID,
		Action:        action,
		Changes:       map[string]any{"status": string(status), "fields": payload.Keys()},
	})
	return SaveResult{Success: true, CertificateID: &id, SerialNumber: serial, Action: action}
}

// validateMerged applies the submission rules to the stored content with
// payload laid over it.
func (s *Service) validateMerged(existing *Certificate, payload Record, now time.Time) []FieldError {
	merged := existing.Record()
	merged.Merge(payload)
	merged, errs := Prepare(merged)
	if len(errs) > 0 {
		return errs
	}
	return ValidateSubmission(merged, now)
}

func (s *Service) write(ctx context.Context, fn func(context.Context) error) error {
	ctx, span := tracing.Tracer().Start(ctx, "certificate.write")
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Get returns a certificate with its edit-window fields filled in.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.ApplyPolicy(s.Now())
	return c, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Certificate, int, error) {
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	now := s.Now()
	for _, c := range items {
		c.ApplyPolicy(now)
	}
	return items, total, nil
}
