package certificate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertParams is a new certificate row.
type InsertParams struct {
	ID                  uuid.UUID
	SerialNumber        string
	Status              Status
	CreatedByID         uuid.UUID
	RegionID            *uuid.UUID
	DistrictID          *uuid.UUID
	FacilityID          *uuid.UUID
	SubmittedAt         *time.Time
	EditWindowExpiresAt *time.Time
	Content             Record
	Now                 time.Time
}

// UpdateParams is a guarded content update. Implementations must:
//   - match only rows owned by OwnerID that are still editable at Now
//     (draft, or submitted with edit_window_expires_at > Now) and return
//     ErrLocked when nothing matched
//   - never move status from submitted back to draft
//   - set submitted_at and edit_window_expires_at only when still null
//   - replace serial_number with Serial only when Serial is set and the
//     stored serial is a placeholder
type UpdateParams struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	Status  Status
	Serial  string
	Content Record
	Now     time.Time
}

// ListFilter narrows a certificate listing. Zero values match everything.
type ListFilter struct {
	CreatedBy *uuid.UUID
	Status    Status
	Limit     int
	Offset    int
}

type Repository interface {
	Insert(ctx context.Context, p InsertParams) error
	Update(ctx context.Context, p UpdateParams) error
	GetByID(ctx context.Context, id uuid.UUID) (*Certificate, error)
	List(ctx context.Context, f ListFilter) ([]*Certificate, int, error)
	// NextSerial allocates a final serial atomically in the datastore.
	NextSerial(ctx context.Context, regionCode, facilityCode string) (string, error)
}

type AuditRepository interface {
	Append(ctx context.Context, e *AuditEntry) error
	ListByCertificate(ctx context.Context, certificateID uuid.UUID) ([]*AuditEntry, error)
}

const (
	certificateTable = "death_certificates"
	auditTable       = "certificate_audit_log"
)

var metaColumns = []string{
	"id", "serial_number", "status", "created_by_id",
	"region_id", "district_id", "facility_id",
	"submitted_at", "edit_window_expires_at", "created_at", "updated_at",
}

// selectColumns is every column read back into a Certificate.
var selectColumns = append(append([]string{}, metaColumns...), ColumnNames()...)

// insertColumns returns the column/value pairs of an insert, meta columns
// first and content in sorted key order.
func insertColumns(p InsertParams) ([]string, []any) {
	cols := append([]string{}, metaColumns...)
	vals := []any{
		p.ID, p.SerialNumber, string(p.Status), p.CreatedByID,
		p.RegionID, p.DistrictID, p.FacilityID,
		p.SubmittedAt, p.EditWindowExpiresAt, p.Now, p.Now,
	}
	for _, k := range p.Content.Keys() {
		if !IsColumn(k) {
			continue
		}
		cols = append(cols, k)
		vals = append(vals, p.Content[k])
	}
	return cols, vals
}

// certificateFromColumns builds a Certificate from a column map as returned
// by either driver.
func certificateFromColumns(m map[string]any) (*Certificate, error) {
	c := &Certificate{}
	var err error
	if c.ID, err = asUUID(m["id"]); err != nil {
		return nil, err
	}
	if c.CreatedByID, err = asUUID(m["created_by_id"]); err != nil {
		return nil, err
	}
	c.SerialNumber = asString(m["serial_number"])
	c.Status = Status(asString(m["status"]))
	for col, dst := range map[string]**uuid.UUID{
		"region_id":   &c.RegionID,
		"district_id": &c.DistrictID,
		"facility_id": &c.FacilityID,
	} {
		if m[col] == nil {
			continue
		}
		id, err := asUUID(m[col])
		if err != nil {
			return nil, err
		}
		*dst = &id
	}
	if c.CreatedAt, err = asTime(m["created_at"]); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = asTime(m["updated_at"]); err != nil {
		return nil, err
	}
	if c.SubmittedAt, err = asTimePtr(m["submitted_at"]); err != nil {
		return nil, err
	}
	if c.EditWindowExpiresAt, err = asTimePtr(m["edit_window_expires_at"]); err != nil {
		return nil, err
	}

	content := make(Record)
	for _, def := range Fields {
		v, err := Coerce(def, m[def.Name])
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", def.Name, err)
		}
		if v != nil {
			content[def.Name] = v
		}
	}
	c.SetContent(content)
	return c, nil
}
