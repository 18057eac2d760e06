package wizard

import (
	"strconv"

	"github.com/mccd/mccd/internal/domain/certificate"
)

// Slot group names as used in routes.
const (
	GroupCauses       = "causes"
	GroupContributing = "contributing"
)

// SlotGroup tracks which optional entries of a repeating group are shown.
// Visible slots always form a prefix of the slot order, so there are no
// gaps.
type SlotGroup struct {
	name    string
	keys    []string
	fields  func(key string) []string
	state   *State
	visible int
}

// NewCauseSlots manages the optional cause positions b, c and d. Position a
// is always shown and is not part of the group.
func NewCauseSlots(state *State) *SlotGroup {
	g := &SlotGroup{
		name: GroupCauses,
		keys: certificate.CausePositions[1:],
		fields: func(key string) []string {
			out := make([]string, 0, len(certificate.CauseParts))
			for _, part := range certificate.CauseParts {
				out = append(out, certificate.CauseField(key, part))
			}
			return out
		},
		state: state,
	}
	g.Sync()
	return g
}

// NewContributingSlots manages contributing conditions 1 to 4, all
// optional.
func NewContributingSlots(state *State) *SlotGroup {
	keys := make([]string, certificate.MaxContributing)
	for i := range keys {
		keys[i] = strconv.Itoa(i + 1)
	}
	g := &SlotGroup{
		name: GroupContributing,
		keys: keys,
		fields: func(key string) []string {
			n, _ := strconv.Atoi(key)
			out := make([]string, 0, len(certificate.ContributingParts))
			for _, part := range certificate.ContributingParts {
				out = append(out, certificate.ContributingField(n, part))
			}
			return out
		},
		state: state,
	}
	g.Sync()
	return g
}

func (g *SlotGroup) Name() string { return g.name }

// Sync recomputes visibility from the form data: every slot up to the last
// one with a description is shown.
func (g *SlotGroup) Sync() {
	g.visible = 0
	for i, key := range g.keys {
		if !blank(g.state.Value(g.fields(key)[0])) {
			g.visible = i + 1
		}
	}
}

// Visible returns the shown slot keys in order.
func (g *SlotGroup) Visible() []string {
	return append([]string(nil), g.keys[:g.visible]...)
}

// Add shows the next unused slot. It reports false when all are shown.
func (g *SlotGroup) Add() (string, bool) {
	if g.visible == len(g.keys) {
		return "", false
	}
	g.visible++
	return g.keys[g.visible-1], true
}

// Remove hides key and every slot after it and clears their fields. It
// returns the removed keys; an unknown or hidden key removes nothing.
func (g *SlotGroup) Remove(key string) []string {
	idx := g.index(key)
	if idx < 0 || idx >= g.visible {
		return nil
	}
	removed := append([]string(nil), g.keys[idx:g.visible]...)
	var names []string
	for _, k := range removed {
		names = append(names, g.fields(k)...)
	}
	g.state.Clear(names)
	g.visible = idx
	return removed
}

// HiddenFields lists the fields of every slot that is not shown.
func (g *SlotGroup) HiddenFields() []string {
	var names []string
	for _, k := range g.keys[g.visible:] {
		names = append(names, g.fields(k)...)
	}
	return names
}

// ForceClear nulls the fields of hidden slots in rec so stale values never
// leave the wizard.
func (g *SlotGroup) ForceClear(rec certificate.Record) {
	for _, name := range g.HiddenFields() {
		rec[name] = nil
	}
}

func (g *SlotGroup) index(key string) int {
	for i, k := range g.keys {
		if k == key {
			return i
		}
	}
	return -1
}

func blank(v any) bool {
	return certificate.Record{"v": v}.Blank("v")
}
