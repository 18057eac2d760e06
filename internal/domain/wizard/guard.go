package wizard

import (
	"errors"
	"strings"
)

var ErrNoPendingNavigation = errors.New("no navigation is awaiting a decision")

// Decision is the guard's answer to a navigation attempt.
type Decision string

const (
	DecisionAllow  Decision = "allow"
	DecisionPrompt Decision = "prompt"
)

// Choice is the user's answer to a prompt.
type Choice string

const (
	ChoiceDiscard Choice = "discard"
	ChoiceCancel  Choice = "cancel"
)

// Guard holds back in-app navigation while the wizard has unsaved changes.
type Guard struct {
	state     *State
	pending   string
	allowNext bool
}

func NewGuard(state *State) *Guard {
	return &Guard{state: state}
}

// Intercept decides whether navigation to target may proceed. Only
// internal paths are held back; the target is kept until Resolve.
func (g *Guard) Intercept(target string) Decision {
	if g.allowNext {
		g.allowNext = false
		return DecisionAllow
	}
	if !g.state.Dirty() || !isInternal(target) {
		return DecisionAllow
	}
	g.pending = target
	return DecisionPrompt
}

// Resolve applies the user's choice to the pending navigation. Discard
// resets the state and returns the target to continue to; cancel drops it.
func (g *Guard) Resolve(choice Choice) (string, bool, error) {
	if g.pending == "" {
		return "", false, ErrNoPendingNavigation
	}
	target := g.pending
	g.pending = ""
	switch choice {
	case ChoiceDiscard:
		g.state.Reset()
		return target, true, nil
	case ChoiceCancel:
		return "", false, nil
	}
	g.pending = target
	return "", false, errors.New("choice must be discard or cancel")
}

// Pending returns the navigation target awaiting a decision.
func (g *Guard) Pending() string { return g.pending }

// BeforeUnload reports whether closing or reloading the page should warn.
func (g *Guard) BeforeUnload() bool {
	return g.state.Dirty() && !g.allowNext
}

// AllowNext lets the next navigation through unconditionally. Called after
// a successful save, which navigates away.
func (g *Guard) AllowNext() {
	g.allowNext = true
	g.pending = ""
}

func isInternal(target string) bool {
	return strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//")
}
