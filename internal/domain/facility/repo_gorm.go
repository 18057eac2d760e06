package facility

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type regionModel struct {
	ID   string `gorm:"column:id;primaryKey"`
	Code string `gorm:"column:code;uniqueIndex;not null"`
	Name string `gorm:"column:name;not null"`
}

func (regionModel) TableName() string { return "regions" }

type districtModel struct {
	ID       string `gorm:"column:id;primaryKey"`
	Code     string `gorm:"column:code;uniqueIndex:idx_districts_region_code;not null"`
	Name     string `gorm:"column:name;not null"`
	RegionID string `gorm:"column:region_id;uniqueIndex:idx_districts_region_code;not null"`
}

func (districtModel) TableName() string { return "districts" }

type facilityModel struct {
	ID         string `gorm:"column:id;primaryKey"`
	Code       string `gorm:"column:code;uniqueIndex;not null"`
	Name       string `gorm:"column:name;not null"`
	DistrictID string `gorm:"column:district_id;index;not null"`
	RegionID   string `gorm:"column:region_id;index;not null"`
}

func (facilityModel) TableName() string { return "facilities" }

type userModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	FullName   string    `gorm:"column:full_name;not null"`
	Role       string    `gorm:"column:role;not null"`
	RegionID   *string   `gorm:"column:region_id"`
	DistrictID *string   `gorm:"column:district_id"`
	FacilityID *string   `gorm:"column:facility_id"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (userModel) TableName() string { return "users" }

// Models lists the gorm models of this package for db.OpenSQLite.
func Models() []interface{} {
	return []interface{}{&regionModel{}, &districtModel{}, &facilityModel{}, &userModel{}}
}

type repoGorm struct{ db *gorm.DB }

func NewRepoGorm(db *gorm.DB) Repository {
	return &repoGorm{db: db}
}

func mustUUID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

func uuidPtr(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}

func stringPtr(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func (r *repoGorm) ListRegions(ctx context.Context) ([]*Region, error) {
	var rows []regionModel
	if err := r.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Region, 0, len(rows))
	for _, m := range rows {
		out = append(out, &Region{ID: mustUUID(m.ID), Code: m.Code, Name: m.Name})
	}
	return out, nil
}

func (r *repoGorm) ListDistricts(ctx context.Context, regionID uuid.UUID) ([]*District, error) {
	var rows []districtModel
	if err := r.db.WithContext(ctx).Where("region_id = ?", regionID.String()).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*District, 0, len(rows))
	for _, m := range rows {
		out = append(out, &District{ID: mustUUID(m.ID), Code: m.Code, Name: m.Name, RegionID: mustUUID(m.RegionID)})
	}
	return out, nil
}

func (r *repoGorm) ListFacilities(ctx context.Context, districtID uuid.UUID) ([]*Facility, error) {
	var rows []facilityModel
	if err := r.db.WithContext(ctx).Where("district_id = ?", districtID.String()).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*Facility, 0, len(rows))
	for _, m := range rows {
		out = append(out, &Facility{
			ID: mustUUID(m.ID), Code: m.Code, Name: m.Name,
			DistrictID: mustUUID(m.DistrictID), RegionID: mustUUID(m.RegionID),
		})
	}
	return out, nil
}

func (r *repoGorm) UpsertRegion(ctx context.Context, reg *Region) error {
	var existing regionModel
	err := r.db.WithContext(ctx).Where("code = ?", reg.Code).Take(&existing).Error
	switch {
	case err == nil:
		reg.ID = mustUUID(existing.ID)
		return r.db.WithContext(ctx).Model(&existing).Update("name", reg.Name).Error
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(&regionModel{ID: reg.ID.String(), Code: reg.Code, Name: reg.Name}).Error
}

func (r *repoGorm) UpsertDistrict(ctx context.Context, d *District) error {
	var existing districtModel
	err := r.db.WithContext(ctx).Where("region_id = ? AND code = ?", d.RegionID.String(), d.Code).Take(&existing).Error
	switch {
	case err == nil:
		d.ID = mustUUID(existing.ID)
		return r.db.WithContext(ctx).Model(&existing).Update("name", d.Name).Error
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(&districtModel{
		ID: d.ID.String(), Code: d.Code, Name: d.Name, RegionID: d.RegionID.String(),
	}).Error
}

func (r *repoGorm) UpsertFacility(ctx context.Context, f *Facility) error {
	var existing facilityModel
	err := r.db.WithContext(ctx).Where("code = ?", f.Code).Take(&existing).Error
	switch {
	case err == nil:
		f.ID = mustUUID(existing.ID)
		return r.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
			"name":        f.Name,
			"district_id": f.DistrictID.String(),
			"region_id":   f.RegionID.String(),
		}).Error
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(&facilityModel{
		ID: f.ID.String(), Code: f.Code, Name: f.Name,
		DistrictID: f.DistrictID.String(), RegionID: f.RegionID.String(),
	}).Error
}

type profileRow struct {
	ID           string
	FullName     string
	Role         string
	RegionID     *string
	DistrictID   *string
	FacilityID   *string
	RegionCode   string
	FacilityCode string
}

func (r *repoGorm) GetProfile(ctx context.Context, userID uuid.UUID) (*UserProfile, error) {
	var rows []profileRow
	err := r.db.WithContext(ctx).Raw(`
		SELECT u.id, u.full_name, u.role, u.region_id, u.district_id, u.facility_id,
			COALESCE(rg.code, '') AS region_code, COALESCE(f.code, '') AS facility_code
		FROM users u
		LEFT JOIN regions rg ON rg.id = u.region_id
		LEFT JOIN facilities f ON f.id = u.facility_id
		WHERE u.id = ?`, userID.String()).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	row := rows[0]
	return &UserProfile{
		UserID:       mustUUID(row.ID),
		FullName:     row.FullName,
		Role:         row.Role,
		RegionID:     uuidPtr(row.RegionID),
		DistrictID:   uuidPtr(row.DistrictID),
		FacilityID:   uuidPtr(row.FacilityID),
		RegionCode:   row.RegionCode,
		FacilityCode: row.FacilityCode,
	}, nil
}

func (r *repoGorm) UpsertProfile(ctx context.Context, p *UserProfile) error {
	m := userModel{
		ID:         p.UserID.String(),
		FullName:   p.FullName,
		Role:       p.Role,
		RegionID:   stringPtr(p.RegionID),
		DistrictID: stringPtr(p.DistrictID),
		FacilityID: stringPtr(p.FacilityID),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "role", "region_id", "district_id", "facility_id", "updated_at"}),
	}).Create(&m).Error
}
