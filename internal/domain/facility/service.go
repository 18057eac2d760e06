package facility

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "facility").Logger()}
}

func (s *Service) ListRegions(ctx context.Context) ([]*Region, error) {
	return s.repo.ListRegions(ctx)
}

func (s *Service) ListDistricts(ctx context.Context, regionID uuid.UUID) ([]*District, error) {
	return s.repo.ListDistricts(ctx, regionID)
}

func (s *Service) ListFacilities(ctx context.Context, districtID uuid.UUID) ([]*Facility, error) {
	return s.repo.ListFacilities(ctx, districtID)
}

// ProfileByUserID returns the placement of a certifying user, or ErrNotFound.
func (s *Service) ProfileByUserID(ctx context.Context, userID uuid.UUID) (*UserProfile, error) {
	return s.repo.GetProfile(ctx, userID)
}

// ImportResult counts the rows written by Import.
type ImportResult struct {
	Regions    int
	Districts  int
	Facilities int
	Users      int
}

// Import upserts a validated catalogue, parents before children.
func (s *Service) Import(ctx context.Context, cat *Catalog) (ImportResult, error) {
	var res ImportResult
	regionIDs := make(map[string]uuid.UUID)
	districtIDs := make(map[string]map[string]uuid.UUID)
	facilityIDs := make(map[string]*Facility)

	for _, cr := range cat.Regions {
		reg := &Region{Code: cr.Code, Name: cr.Name}
		if err := s.repo.UpsertRegion(ctx, reg); err != nil {
			return res, fmt.Errorf("upsert region %s: %w", cr.Code, err)
		}
		res.Regions++
		regionIDs[cr.Code] = reg.ID
		districtIDs[cr.Code] = make(map[string]uuid.UUID)

		for _, cd := range cr.Districts {
			d := &District{Code: cd.Code, Name: cd.Name, RegionID: reg.ID}
			if err := s.repo.UpsertDistrict(ctx, d); err != nil {
				return res, fmt.Errorf("upsert district %s: %w", cd.Code, err)
			}
			res.Districts++
			districtIDs[cr.Code][cd.Code] = d.ID

			for _, cf := range cd.Facilities {
				f := &Facility{Code: cf.Code, Name: cf.Name, DistrictID: d.ID, RegionID: reg.ID}
				if err := s.repo.UpsertFacility(ctx, f); err != nil {
					return res, fmt.Errorf("upsert facility %s: %w", cf.Code, err)
				}
				res.Facilities++
				facilityIDs[cf.Code] = f
			}
		}
	}

	for _, cu := range cat.Users {
		p := &UserProfile{UserID: uuid.MustParse(cu.ID), FullName: cu.FullName, Role: cu.Role}
		if id, ok := regionIDs[cu.Region]; ok {
			p.RegionID = &id
			if did, ok := districtIDs[cu.Region][cu.District]; ok {
				p.DistrictID = &did
			}
		}
		if f, ok := facilityIDs[cu.Facility]; ok {
			fid := f.ID
			p.FacilityID = &fid
		}
		if err := s.repo.UpsertProfile(ctx, p); err != nil {
			return res, fmt.Errorf("upsert user %s: %w", cu.ID, err)
		}
		res.Users++
	}

	s.logger.Info().
		Int("regions", res.Regions).
		Int("districts", res.Districts).
		Int("facilities", res.Facilities).
		Int("users", res.Users).
		Msg("catalog imported")
	return res, nil
}
