package facility

import (
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Region maps to the regions table. Code is the three-letter prefix used in
// certificate serial numbers.
type Region struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Code string    `db:"code" json:"code"`
	Name string    `db:"name" json:"name"`
}

type District struct {
	ID       uuid.UUID `db:"id" json:"id"`
	Code     string    `db:"code" json:"code"`
	Name     string    `db:"name" json:"name"`
	RegionID uuid.UUID `db:"region_id" json:"region_id"`
}

type Facility struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Code       string    `db:"code" json:"code"`
	Name       string    `db:"name" json:"name"`
	DistrictID uuid.UUID `db:"district_id" json:"district_id"`
	RegionID   uuid.UUID `db:"region_id" json:"region_id"`
}

// UserProfile is a certifying user's placement. RegionCode and FacilityCode
// are resolved from the referenced rows and are empty when unset.
type UserProfile struct {
	UserID       uuid.UUID  `db:"id" json:"user_id"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         string     `db:"role" json:"role"`
	RegionID     *uuid.UUID `db:"region_id" json:"region_id,omitempty"`
	DistrictID   *uuid.UUID `db:"district_id" json:"district_id,omitempty"`
	FacilityID   *uuid.UUID `db:"facility_id" json:"facility_id,omitempty"`
	RegionCode   string     `db:"region_code" json:"region_code,omitempty"`
	FacilityCode string     `db:"facility_code" json:"facility_code,omitempty"`
}
