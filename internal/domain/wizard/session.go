package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mccd/mccd/internal/domain/certificate"
	"github.com/mccd/mccd/internal/platform/metrics"
)

var (
	ErrSaveInProgress   = errors.New("a save is already in progress")
	ErrSessionNotFound  = errors.New("wizard session not found")
	ErrInvalidStep      = errors.New("invalid step")
	ErrUnknownSlotGroup = errors.New("unknown slot group")
)

// Backend is the certificate service as seen by the wizard.
type Backend interface {
	Save(ctx context.Context, rec certificate.Record, opts certificate.SaveOptions) certificate.SaveResult
	Get(ctx context.Context, id uuid.UUID) (*certificate.Certificate, error)
}

// LockedView is what an edit attempt on a read-only certificate gets
// instead of a session.
type LockedView struct {
	CertificateID       uuid.UUID          `json:"certificate_id"`
	SerialNumber        string             `json:"serial_number"`
	Status              certificate.Status `json:"status"`
	SubmittedAt         *time.Time         `json:"submitted_at"`
	EditWindowExpiresAt *time.Time         `json:"edit_window_expires_at"`
	Message             string             `json:"message"`
}

// Session is one certificate being created or edited. Its methods are safe
// for concurrent use; saves are additionally limited to one at a time.
type Session struct {
	ID      uuid.UUID
	OwnerID uuid.UUID

	backend Backend
	saving  atomic.Bool

	mu            sync.Mutex
	state         *State
	causes        *SlotGroup
	contributing  *SlotGroup
	guard         *Guard
	controllers   []*StepController
	certificateID *uuid.UUID
	serial        string
	status        certificate.Status
	lastUsed      time.Time
	clock         func() time.Time
}

func newSession(owner uuid.UUID, backend Backend, cert *certificate.Certificate, clock func() time.Time) *Session {
	var seed certificate.Record
	if cert != nil {
		seed = cert.Record()
	}
	state := NewState(seed)
	s := &Session{
		ID:           uuid.New(),
		OwnerID:      owner,
		backend:      backend,
		state:        state,
		causes:       NewCauseSlots(state),
		contributing: NewContributingSlots(state),
		guard:        NewGuard(state),
		lastUsed:     clock(),
		clock:        clock,
	}
	if cert != nil {
		id := cert.ID
		s.certificateID = &id
		s.serial = cert.SerialNumber
		s.status = cert.Status
	}
	for _, step := range Steps {
		c := NewStepController(step, state, s.group(step.Group))
		c.now = clock
		s.controllers = append(s.controllers, c)
	}
	return s
}

func (s *Session) group(name string) *SlotGroup {
	switch name {
	case GroupCauses:
		return s.causes
	case GroupContributing:
		return s.contributing
	}
	return nil
}

func (s *Session) controller(n int) (*StepController, error) {
	if n < 1 || n > len(s.controllers) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStep, n)
	}
	return s.controllers[n-1], nil
}

// SubmitStep validates and merges step n. Field errors leave the session
// unchanged.
func (s *Session) SubmitStep(n int, values certificate.Record) ([]certificate.FieldError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.controller(n)
	if err != nil {
		return nil, err
	}
	return c.Submit(values), nil
}

func (s *Session) ClearStep(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.controller(n)
	if err != nil {
		return err
	}
	c.Clear()
	return nil
}

// SetStep moves to step n without validation, for back navigation.
func (s *Session) SetStep(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.controller(n); err != nil {
		return err
	}
	s.state.SetStep(n)
	return nil
}

func (s *Session) AddSlot(group string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.group(group)
	if g == nil {
		return "", false, ErrUnknownSlotGroup
	}
	key, ok := g.Add()
	return key, ok, nil
}

func (s *Session) RemoveSlot(group, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.group(group)
	if g == nil {
		return nil, ErrUnknownSlotGroup
	}
	return g.Remove(key), nil
}

// Navigate asks the guard whether the wizard may be left for target.
func (s *Session) Navigate(target string) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guard.Intercept(target)
}

// ResolveNavigation answers a pending prompt. A discard also resets the
// slot groups to the restored data.
func (s *Session) ResolveNavigation(choice Choice) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, proceed, err := s.guard.Resolve(choice)
	if err == nil && choice == ChoiceDiscard {
		s.causes.Sync()
		s.contributing.Sync()
	}
	return target, proceed, err
}

// SaveDraft stages the in-progress values of step without validating them
// and saves the whole record as a draft.
func (s *Session) SaveDraft(ctx context.Context, step int, inProgress certificate.Record) (certificate.SaveResult, error) {
	if !s.saving.CompareAndSwap(false, true) {
		return certificate.SaveResult{}, ErrSaveInProgress
	}
	defer s.saving.Store(false)

	s.mu.Lock()
	c, err := s.controller(step)
	if err != nil {
		s.mu.Unlock()
		return certificate.SaveResult{}, err
	}
	c.Stage(inProgress)
	s.mu.Unlock()

	return s.save(ctx, certificate.StatusDraft), nil
}

// Submit validates the accumulated record and saves it as submitted. On
// validation failure the first error is reported and nothing is saved.
func (s *Session) Submit(ctx context.Context) (certificate.SaveResult, error) {
	if !s.saving.CompareAndSwap(false, true) {
		return certificate.SaveResult{}, ErrSaveInProgress
	}
	defer s.saving.Store(false)

	s.mu.Lock()
	errs := ReviewRecord(s.outgoing(), s.clock().UTC())
	s.mu.Unlock()
	if len(errs) > 0 {
		return certificate.SaveResult{Kind: certificate.KindValidation, Error: errs[0].Message, Fields: errs}, nil
	}
	return s.save(ctx, certificate.StatusSubmitted), nil
}

// save runs without holding mu so reads are not blocked by the datastore.
func (s *Session) save(ctx context.Context, status certificate.Status) certificate.SaveResult {
	s.mu.Lock()
	rec := s.outgoing()
	rev := s.state.Revision()
	opts := certificate.SaveOptions{Status: status, IsEditMode: s.certificateID != nil, CertificateID: s.certificateID}
	s.mu.Unlock()

	res := s.backend.Save(ctx, rec, opts)
	if !res.Success {
		return res
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.certificateID = res.CertificateID
	if res.SerialNumber != "" {
		s.serial = res.SerialNumber
	}
	if status == certificate.StatusSubmitted || s.status == "" {
		s.status = status
	}
	s.state.MarkSaved(rev)
	s.guard.AllowNext()
	return res
}

// outgoing is the form data with hidden slots cleared.
func (s *Session) outgoing() certificate.Record {
	rec := s.state.Data()
	s.causes.ForceClear(rec)
	s.contributing.ForceClear(rec)
	return rec
}

// View is the client-facing snapshot of a session.
type View struct {
	ID                uuid.UUID           `json:"id"`
	CertificateID     *uuid.UUID          `json:"certificate_id,omitempty"`
	SerialNumber      string              `json:"serial_number,omitempty"`
	Status            certificate.Status  `json:"status,omitempty"`
	CurrentStep       int                 `json:"current_step"`
	TotalSteps        int                 `json:"total_steps"`
	IsDirty           bool                `json:"is_dirty"`
	BeforeUnload      bool                `json:"before_unload"`
	PendingNavigation string              `json:"pending_navigation,omitempty"`
	FormData          certificate.Record  `json:"form_data"`
	Slots             map[string][]string `json:"slots"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:                s.ID,
		CertificateID:     s.certificateID,
		SerialNumber:      s.serial,
		Status:            s.status,
		CurrentStep:       s.state.Step(),
		TotalSteps:        StepCount,
		IsDirty:           s.state.Dirty(),
		BeforeUnload:      s.guard.BeforeUnload(),
		PendingNavigation: s.guard.Pending(),
		FormData:          s.state.Data(),
		Slots: map[string][]string{
			GroupCauses:       s.causes.Visible(),
			GroupContributing: s.contributing.Visible(),
		},
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Sessions keeps open wizard sessions in memory, scoped to their owner.
// Idle sessions expire after the TTL.
type Sessions struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu    sync.Mutex
	items map[uuid.UUID]*Session
}

func NewSessions(backend Backend, ttl time.Duration, logger zerolog.Logger) *Sessions {
	return &Sessions{
		backend: backend,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.With().Str("component", "wizard").Logger(),
		items:   make(map[uuid.UUID]*Session),
	}
}

func (m *Sessions) SetMetrics(mt *metrics.Metrics) { m.metrics = mt }

func (m *Sessions) SetClock(now func() time.Time) { m.now = now }

// Open starts a session for a new certificate, or for certificateID when
// given. A certificate outside its edit window yields a LockedView and
// certificate.ErrLocked; one created by another user yields
// certificate.ErrForbidden.
func (m *Sessions) Open(ctx context.Context, owner uuid.UUID, certificateID *uuid.UUID) (*Session, *LockedView, error) {
	var cert *certificate.Certificate
	if certificateID != nil {
		c, err := m.backend.Get(ctx, *certificateID)
		if err != nil {
			return nil, nil, err
		}
		if c.CreatedByID != owner {
			return nil, nil, certificate.ErrForbidden
		}
		if !c.Editable {
			return nil, &LockedView{
				CertificateID:       c.ID,
				SerialNumber:        c.SerialNumber,
				Status:              c.Status,
				SubmittedAt:         c.SubmittedAt,
				EditWindowExpiresAt: c.EditWindowExpiresAt,
				Message:             "The edit window for this certificate has closed",
			}, certificate.ErrLocked
		}
		cert = c
	}

	s := newSession(owner, m.backend, cert, m.now)
	m.mu.Lock()
	m.items[s.ID] = s
	m.updateGauge()
	m.mu.Unlock()

	ev := m.logger.Debug().Str("session_id", s.ID.String()).Str("owner", owner.String())
	if certificateID != nil {
		ev = ev.Str("certificate_id", certificateID.String())
	}
	ev.Msg("wizard session opened")
	return s, nil, nil
}

// Get returns the owner's session and refreshes its idle timer.
func (m *Sessions) Get(owner, id uuid.UUID) (*Session, error) {
	now := m.now()
	m.mu.Lock()
	s, ok := m.items[id]
	if ok && now.Sub(s.idleSince()) > m.ttl {
		delete(m.items, id)
		m.updateGauge()
		ok = false
	}
	m.mu.Unlock()
	if !ok || s.OwnerID != owner {
		return nil, ErrSessionNotFound
	}
	s.touch(now)
	return s, nil
}

func (m *Sessions) Close(owner, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok || s.OwnerID != owner {
		return ErrSessionNotFound
	}
	delete(m.items, id)
	m.updateGauge()
	return nil
}

// Sweep drops idle sessions and returns how many were removed.
func (m *Sessions) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.items {
		if now.Sub(s.idleSince()) > m.ttl {
			delete(m.items, id)
			n++
		}
	}
	if n > 0 {
		m.updateGauge()
		m.logger.Debug().Int("expired", n).Msg("wizard sessions swept")
	}
	return n
}

// Run sweeps on every tick until ctx is done.
func (m *Sessions) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Sessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// updateGauge must be called with mu held.
func (m *Sessions) updateGauge() {
	if m.metrics != nil {
		m.metrics.SessionsActive.Set(float64(len(m.items)))
	}
}
