package facility

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores the placement catalogue and user profiles. Upserts are
// keyed on code (regions, facilities), on (region, code) for districts and
// on id for users; they fill in the stored ID.
type Repository interface {
	ListRegions(ctx context.Context) ([]*Region, error)
	ListDistricts(ctx context.Context, regionID uuid.UUID) ([]*District, error)
	ListFacilities(ctx context.Context, districtID uuid.UUID) ([]*Facility, error)
	UpsertRegion(ctx context.Context, r *Region) error
	UpsertDistrict(ctx context.Context, d *District) error
	UpsertFacility(ctx context.Context, f *Facility) error
	GetProfile(ctx context.Context, userID uuid.UUID) (*UserProfile, error)
	UpsertProfile(ctx context.Context, p *UserProfile) error
}
