package wizard

import (
	"github.com/mccd/mccd/internal/domain/certificate"
)

// DefaultRecord is the form data a new certificate starts from.
func DefaultRecord() certificate.Record {
	return certificate.Record{
		"manner_of_death":       "",
		"is_fetal_infant_death": false,
	}
}

// State holds the accumulated form data of one wizard session, the active
// step and whether there are unsaved changes. It is not safe for concurrent
// use; Session serialises access.
type State struct {
	data    certificate.Record
	initial certificate.Record
	step    int
	dirty   bool
	rev     uint64
}

// NewState returns a state seeded from initial, or from DefaultRecord when
// initial is nil.
func NewState(initial certificate.Record) *State {
	s := &State{}
	s.Initialize(initial)
	return s
}

// Initialize seeds the form data, moves to step 1 and clears the dirty flag.
// The seed is what Reset returns to.
func (s *State) Initialize(initial certificate.Record) {
	if initial == nil {
		initial = DefaultRecord()
	}
	s.initial = initial.Clone()
	s.data = initial.Clone()
	s.step = 1
	s.dirty = false
	s.rev++
}

// Merge copies partial over the form data and marks the state dirty. Keys
// not in partial are kept.
func (s *State) Merge(partial certificate.Record) {
	s.data.Merge(partial)
	s.dirty = true
	s.rev++
}

// SetStep moves the active step. Callers validate before moving forward.
func (s *State) SetStep(n int) {
	s.step = n
}

// Reset restores the seed data, step 1 and a clean state.
func (s *State) Reset() {
	s.data = s.initial.Clone()
	s.step = 1
	s.dirty = false
	s.rev++
}

// Clear puts the default value back into each named field, or null when
// it has no default. Nulls are kept so an update overwrites stored values.
func (s *State) Clear(names []string) {
	defaults := DefaultRecord()
	for _, name := range names {
		s.data[name] = defaults[name]
	}
	s.dirty = true
	s.rev++
}

// Data returns a copy of the form data.
func (s *State) Data() certificate.Record { return s.data.Clone() }

func (s *State) Value(name string) any { return s.data[name] }

func (s *State) Step() int { return s.step }

func (s *State) Dirty() bool { return s.dirty }

// Revision changes on every mutation of the form data.
func (s *State) Revision() uint64 { return s.rev }

// MarkSaved clears the dirty flag if nothing changed since rev was read.
func (s *State) MarkSaved(rev uint64) {
	if s.rev == rev {
		s.dirty = false
	}
}
