package facility

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mccd/mccd/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *repoPG) ListRegions(ctx context.Context) ([]*Region, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, code, name FROM regions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Region])
}

func (r *repoPG) ListDistricts(ctx context.Context, regionID uuid.UUID) ([]*District, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, code, name, region_id FROM districts WHERE region_id = $1 ORDER BY name`, regionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[District])
}

func (r *repoPG) ListFacilities(ctx context.Context, districtID uuid.UUID) ([]*Facility, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, code, name, district_id, region_id FROM facilities WHERE district_id = $1 ORDER BY name`, districtID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Facility])
}

func (r *repoPG) UpsertRegion(ctx context.Context, reg *Region) error {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO regions (id, code, name) VALUES ($1, $2, $3)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		reg.ID, reg.Code, reg.Name).Scan(&reg.ID)
}

func (r *repoPG) UpsertDistrict(ctx context.Context, d *District) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO districts (id, code, name, region_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (region_id, code) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		d.ID, d.Code, d.Name, d.RegionID).Scan(&d.ID)
}

func (r *repoPG) UpsertFacility(ctx context.Context, f *Facility) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO facilities (id, code, name, district_id, region_id) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name,
			district_id = EXCLUDED.district_id, region_id = EXCLUDED.region_id
		RETURNING id`,
		f.ID, f.Code, f.Name, f.DistrictID, f.RegionID).Scan(&f.ID)
}

func (r *repoPG) GetProfile(ctx context.Context, userID uuid.UUID) (*UserProfile, error) {
	var p UserProfile
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT u.id, u.full_name, u.role, u.region_id, u.district_id, u.facility_id,
			COALESCE(rg.code, ''), COALESCE(f.code, '')
		FROM users u
		LEFT JOIN regions rg ON rg.id = u.region_id
		LEFT JOIN facilities f ON f.id = u.facility_id
		WHERE u.id = $1`, userID).
		Scan(&p.UserID, &p.FullName, &p.Role, &p.RegionID, &p.DistrictID, &p.FacilityID, &p.RegionCode, &p.FacilityCode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) UpsertProfile(ctx context.Context, p *UserProfile) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO users (id, full_name, role, region_id, district_id, facility_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, role = EXCLUDED.role,
			region_id = EXCLUDED.region_id, district_id = EXCLUDED.district_id,
			facility_id = EXCLUDED.facility_id, updated_at = NOW()`,
		p.UserID, p.FullName, p.Role, p.RegionID, p.DistrictID, p.FacilityID)
	return err
}
