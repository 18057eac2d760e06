package certificate

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the certificate lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
)

func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusSubmitted
}

// Audit actions.
const (
	ActionCreated      = "created"
	ActionUpdated      = "updated"
	ActionSubmitted    = "submitted"
	ActionViewed       = "viewed"
	ActionPDFGenerated = "pdf_generated"
)

var (
	ErrNotFound  = errors.New("certificate not found")
	ErrLocked    = errors.New("certificate is locked")
	ErrForbidden = errors.New("certificate belongs to another user")
)

// CauseEntry is one link of the cause-of-death chain.
type CauseEntry struct {
	Position    string `json:"position"`
	Description string `json:"description,omitempty"`
	ICDCode     string `json:"icd_code,omitempty"`
	Interval    string `json:"interval,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

// ConditionEntry is one contributing condition.
type ConditionEntry struct {
	Slot        int    `json:"slot"`
	Description string `json:"description,omitempty"`
	ICDCode     string `json:"icd_code,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

// Certificate is the read model of a death certificate. Fields carries the
// content columns outside the cause chain and contributing conditions.
type Certificate struct {
	ID                  uuid.UUID        `json:"id"`
	SerialNumber        string           `json:"serial_number"`
	Status              Status           `json:"status"`
	CreatedByID         uuid.UUID        `json:"created_by_id"`
	RegionID            *uuid.UUID       `json:"region_id,omitempty"`
	DistrictID          *uuid.UUID       `json:"district_id,omitempty"`
	FacilityID          *uuid.UUID       `json:"facility_id,omitempty"`
	SubmittedAt         *time.Time       `json:"submitted_at"`
	EditWindowExpiresAt *time.Time       `json:"edit_window_expires_at"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	Fields              Record           `json:"fields"`
	CauseChain          []CauseEntry     `json:"cause_chain"`
	Contributing        []ConditionEntry `json:"contributing_conditions"`
	Editable            bool             `json:"editable"`
	DaysRemaining       *int             `json:"days_remaining"`
}

// SetContent splits a flat content record into the chain, the contributing
// conditions and the remaining fields.
func (c *Certificate) SetContent(rec Record) {
	c.Fields = Record{}
	c.CauseChain = nil
	c.Contributing = nil

	slotted := make(map[string]bool)
	for _, pos := range CausePositions {
		e := CauseEntry{
			Position:    pos,
			Description: rec.String(CauseField(pos, "description")),
			ICDCode:     rec.String(CauseField(pos, "icd_code")),
			Interval:    rec.String(CauseField(pos, "interval")),
			Comment:     rec.String(CauseField(pos, "comment")),
		}
		for _, part := range CauseParts {
			slotted[CauseField(pos, part)] = true
		}
		if e.Description != "" || e.ICDCode != "" || e.Interval != "" || e.Comment != "" {
			c.CauseChain = append(c.CauseChain, e)
		}
	}
	for n := 1; n <= MaxContributing; n++ {
		e := ConditionEntry{
			Slot:        n,
			Description: rec.String(ContributingField(n, "")),
			ICDCode:     rec.String(ContributingField(n, "icd_code")),
			Comment:     rec.String(ContributingField(n, "comment")),
		}
		for _, part := range ContributingParts {
			slotted[ContributingField(n, part)] = true
		}
		if e.Description != "" || e.ICDCode != "" || e.Comment != "" {
			c.Contributing = append(c.Contributing, e)
		}
	}

	for k, v := range rec {
		if !slotted[k] && v != nil {
			c.Fields[k] = v
		}
	}
}

// Record flattens the certificate content back into column form. Absent
// values are omitted, so a stored null reloads as an empty field.
func (c *Certificate) Record() Record {
	rec := c.Fields.Clone()
	set := func(k, v string) {
		if v != "" {
			rec[k] = v
		}
	}
	for _, e := range c.CauseChain {
		set(CauseField(e.Position, "description"), e.Description)
		set(CauseField(e.Position, "icd_code"), e.ICDCode)
		set(CauseField(e.Position, "interval"), e.Interval)
		set(CauseField(e.Position, "comment"), e.Comment)
	}
	for _, e := range c.Contributing {
		set(ContributingField(e.Slot, ""), e.Description)
		set(ContributingField(e.Slot, "icd_code"), e.ICDCode)
		set(ContributingField(e.Slot, "comment"), e.Comment)
	}
	return rec
}

// ApplyPolicy fills the derived Editable and DaysRemaining fields at now.
func (c *Certificate) ApplyPolicy(now time.Time) {
	c.Editable = IsEditable(c.Status, c.EditWindowExpiresAt, now)
	c.DaysRemaining = DaysRemaining(c.Status, c.EditWindowExpiresAt, now)
}

// AuditEntry is an append-only record of an action on a certificate.
type AuditEntry struct {
	ID            uuid.UUID      `json:"id"`
	CertificateID uuid.UUID      `json:"certificate_id"`
	UserID        *uuid.UUID     `json:"user_id,omitempty"`
	Action        string         `json:"action"`
	Changes       map[string]any `json:"changes,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
