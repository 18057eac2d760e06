package certificate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// certificateModel declares the SQLite table for AutoMigrate. Reads and
// writes go through column maps so both drivers share one conversion path.
type certificateModel struct {
	ID                  string     `gorm:"column:id;primaryKey"`
	SerialNumber        string     `gorm:"column:serial_number;uniqueIndex;not null"`
	Status              string     `gorm:"column:status;index;not null"`
	CreatedByID         string     `gorm:"column:created_by_id;index;not null"`
	RegionID            *string    `gorm:"column:region_id"`
	DistrictID          *string    `gorm:"column:district_id"`
	FacilityID          *string    `gorm:"column:facility_id"`
	SubmittedAt         *time.Time `gorm:"column:submitted_at"`
	EditWindowExpiresAt *time.Time `gorm:"column:edit_window_expires_at"`
	CreatedAt           time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;not null"`

	// content
	FolderNumber                   *string `gorm:"column:folder_number"`
	CodCertificateNumber           *string `gorm:"column:cod_certificate_number"`
	FacilityCode                   *string `gorm:"column:facility_code"`
	FacilitySN                     *string `gorm:"column:facility_sn"`
	FacilityD                      *string `gorm:"column:facility_d"`
	DeceasedFullName               *string `gorm:"column:deceased_full_name"`
	DateOfBirth                    *string `gorm:"column:date_of_birth"`
	Gender                         *string `gorm:"column:gender"`
	NationalRegisterNumber         *string `gorm:"column:national_register_number"`
	NationalIDNumber               *string `gorm:"column:national_id_number"`
	DateOfDeath                    *string `gorm:"column:date_of_death"`
	CauseADescription              *string `gorm:"column:cause_a_description"`
	CauseAICDCode                  *string `gorm:"column:cause_a_icd_code"`
	CauseAInterval                 *string `gorm:"column:cause_a_interval"`
	CauseAComment                  *string `gorm:"column:cause_a_comment"`
	CauseBDescription              *string `gorm:"column:cause_b_description"`
	CauseBICDCode                  *string `gorm:"column:cause_b_icd_code"`
	CauseBInterval                 *string `gorm:"column:cause_b_interval"`
	CauseBComment                  *string `gorm:"column:cause_b_comment"`
	CauseCDescription              *string `gorm:"column:cause_c_description"`
	CauseCICDCode                  *string `gorm:"column:cause_c_icd_code"`
	CauseCInterval                 *string `gorm:"column:cause_c_interval"`
	CauseCComment                  *string `gorm:"column:cause_c_comment"`
	CauseDDescription              *string `gorm:"column:cause_d_description"`
	CauseDICDCode                  *string `gorm:"column:cause_d_icd_code"`
	CauseDInterval                 *string `gorm:"column:cause_d_interval"`
	CauseDComment                  *string `gorm:"column:cause_d_comment"`
	ContributingConditions         *string `gorm:"column:contributing_conditions"`
	ContributingConditionsICDCode  *string `gorm:"column:contributing_conditions_icd_code"`
	ContributingConditionsComment  *string `gorm:"column:contributing_conditions_comment"`
	ContributingConditions2        *string `gorm:"column:contributing_conditions_2"`
	ContributingConditions2ICDCode *string `gorm:"column:contributing_conditions_2_icd_code"`
	ContributingConditions2Comment *string `gorm:"column:contributing_conditions_2_comment"`
	ContributingConditions3        *string `gorm:"column:contributing_conditions_3"`
	ContributingConditions3ICDCode *string `gorm:"column:contributing_conditions_3_icd_code"`
	ContributingConditions3Comment *string `gorm:"column:contributing_conditions_3_comment"`
	ContributingConditions4        *string `gorm:"column:contributing_conditions_4"`
	ContributingConditions4ICDCode *string `gorm:"column:contributing_conditions_4_icd_code"`
	ContributingConditions4Comment *string `gorm:"column:contributing_conditions_4_comment"`
	SurgeryWithin4Weeks            *string `gorm:"column:surgery_within_4_weeks"`
	SurgeryDate                    *string `gorm:"column:surgery_date"`
	SurgeryReason                  *string `gorm:"column:surgery_reason"`
	AutopsyRequested               *string `gorm:"column:autopsy_requested"`
	AutopsyFindingsUsed            *string `gorm:"column:autopsy_findings_used"`
	MannerOfDeath                  *string `gorm:"column:manner_of_death"`
	ExternalCauseDate              *string `gorm:"column:external_cause_date"`
	ExternalCauseDescription       *string `gorm:"column:external_cause_description"`
	PoisoningAgent                 *string `gorm:"column:poisoning_agent"`
	DeathLocation                  *string `gorm:"column:death_location"`
	DeathLocationOther             *string `gorm:"column:death_location_other"`
	IsFetalInfantDeath             *bool   `gorm:"column:is_fetal_infant_death"`
	Stillbirth                     *string `gorm:"column:stillbirth"`
	MultiplePregnancy              *bool   `gorm:"column:multiple_pregnancy"`
	HoursIfDeathWithin24H          *int    `gorm:"column:hours_if_death_within_24h"`
	BirthWeightGrams               *int    `gorm:"column:birth_weight_grams"`
	WasServiced                    *bool   `gorm:"column:was_serviced"`
	CompletedWeeksPregnancy        *int    `gorm:"column:completed_weeks_pregnancy"`
	MotherAgeYears                 *int    `gorm:"column:mother_age_years"`
	MaternalConditions             *string `gorm:"column:maternal_conditions"`
	WasDeceasedPregnant            *string `gorm:"column:was_deceased_pregnant"`
	PregnancyTiming                *string `gorm:"column:pregnancy_timing"`
	PregnancyContributedToDeath    *string `gorm:"column:pregnancy_contributed_to_death"`
	IssuedToFullName               *string `gorm:"column:issued_to_full_name"`
	IssuedToMobile                 *string `gorm:"column:issued_to_mobile"`
	IssuedToContactDetails         *string `gorm:"column:issued_to_contact_details"`
	RelationToDeceased             *string `gorm:"column:relation_to_deceased"`
	WitnessToDeceased              *string `gorm:"column:witness_to_deceased"`
	WitnessDate                    *string `gorm:"column:witness_date"`
}

func (certificateModel) TableName() string { return certificateTable }

type auditModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	CertificateID string    `gorm:"column:certificate_id;index;not null"`
	UserID        *string   `gorm:"column:user_id"`
	Action        string    `gorm:"column:action;not null"`
	Changes       *string   `gorm:"column:changes"`
	IPAddress     *string   `gorm:"column:ip_address"`
	UserAgent     *string   `gorm:"column:user_agent"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

func (auditModel) TableName() string { return auditTable }

type serialCounterModel struct {
	RegionCode string `gorm:"column:region_code;primaryKey"`
	SerialDate string `gorm:"column:serial_date;primaryKey"`
	LastValue  int    `gorm:"column:last_value;not null"`
}

func (serialCounterModel) TableName() string { return "certificate_serial_counters" }

// Models lists the gorm models of this package for db.OpenSQLite.
func Models() []interface{} {
	return []interface{}{&certificateModel{}, &auditModel{}, &serialCounterModel{}}
}

type certificateRepoGorm struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepoGorm returns the SQLite-backed repository used when DB_DRIVER=sqlite.
func NewRepoGorm(db *gorm.DB) Repository {
	return &certificateRepoGorm{db: db, now: time.Now}
}

func (r *certificateRepoGorm) Insert(ctx context.Context, p InsertParams) error {
	cols, vals := insertColumns(p)
	row := make(map[string]interface{}, len(cols))
	for i, col := range cols {
		row[col] = vals[i]
	}
	return r.db.WithContext(ctx).Model(&certificateModel{}).Create(row).Error
}

func (r *certificateRepoGorm) Update(ctx context.Context, p UpdateParams) error {
	expires := WindowExpiry(p.Now)
	status := string(p.Status)
	updates := map[string]interface{}{
		"status": gorm.Expr("CASE WHEN status = 'submitted' THEN 'submitted' ELSE ? END", status),
		"submitted_at": gorm.Expr("CASE WHEN ? = 'submitted' THEN COALESCE(submitted_at, ?) ELSE submitted_at END",
			status, p.Now),
		"edit_window_expires_at": gorm.Expr("CASE WHEN ? = 'submitted' THEN COALESCE(edit_window_expires_at, ?) ELSE edit_window_expires_at END",
			status, expires),
		"serial_number": gorm.Expr("CASE WHEN ? <> '' AND serial_number LIKE 'DRAFT-%' THEN ? ELSE serial_number END",
			p.Serial, p.Serial),
		"updated_at": p.Now,
	}
	for k, v := range p.Content {
		if IsColumn(k) {
			updates[k] = v
		}
	}

	res := r.db.WithContext(ctx).Model(&certificateModel{}).
		Where("id = ? AND created_by_id = ?", p.ID.String(), p.OwnerID.String()).
		Where("status = 'draft' OR edit_window_expires_at > ?", p.Now).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLocked
	}
	return nil
}

func (r *certificateRepoGorm) GetByID(ctx context.Context, id uuid.UUID) (*Certificate, error) {
	m := map[string]interface{}{}
	err := r.db.WithContext(ctx).Table(certificateTable).
		Select(selectColumns).Where("id = ?", id.String()).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && len(m) == 0) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return certificateFromColumns(m)
}

func (r *certificateRepoGorm) filtered(ctx context.Context, f ListFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Table(certificateTable)
	if f.CreatedBy != nil {
		q = q.Where("created_by_id = ?", f.CreatedBy.String())
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	return q
}

func (r *certificateRepoGorm) List(ctx context.Context, f ListFilter) ([]*Certificate, int, error) {
	var total int64
	if err := r.filtered(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []map[string]interface{}
	err := r.filtered(ctx, f).Select(selectColumns).
		Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	items := make([]*Certificate, 0, len(rows))
	for _, m := range rows {
		c, err := certificateFromColumns(m)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, int(total), nil
}

// NextSerial increments the per-region daily counter inside a transaction.
// SQLite serialises writers, which makes the increment atomic. facilityCode
// is accepted for parity with the PostgreSQL function and not used.
func (r *certificateRepoGorm) NextSerial(ctx context.Context, regionCode, _ string) (string, error) {
	region := strings.ToUpper(regionCode)
	day := r.now().UTC().Format("20060102")
	var serial string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Exec(`INSERT INTO certificate_serial_counters (region_code, serial_date, last_value)
			VALUES (?, ?, 1)
			ON CONFLICT (region_code, serial_date) DO UPDATE SET last_value = last_value + 1`,
			region, day).Error
		if err != nil {
			return err
		}
		var counter serialCounterModel
		if err := tx.Where("region_code = ? AND serial_date = ?", region, day).Take(&counter).Error; err != nil {
			return err
		}
		serial = fmt.Sprintf("%s-%s-%04d", region, day, counter.LastValue)
		return nil
	})
	return serial, err
}

type auditRepoGorm struct{ db *gorm.DB }

func NewAuditRepoGorm(db *gorm.DB) AuditRepository {
	return &auditRepoGorm{db: db}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *auditRepoGorm) Append(ctx context.Context, e *AuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m := auditModel{
		ID:            e.ID.String(),
		CertificateID: e.CertificateID.String(),
		Action:        e.Action,
		IPAddress:     optional(e.IPAddress),
		UserAgent:     optional(e.UserAgent),
		CreatedAt:     e.CreatedAt,
	}
	if e.UserID != nil {
		m.UserID = optional(e.UserID.String())
	}
	if e.Changes != nil {
		b, err := json.Marshal(e.Changes)
		if err != nil {
			return fmt.Errorf("encode audit changes: %w", err)
		}
		m.Changes = optional(string(b))
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *auditRepoGorm) ListByCertificate(ctx context.Context, certificateID uuid.UUID) ([]*AuditEntry, error) {
	var rows []auditModel
	err := r.db.WithContext(ctx).
		Where("certificate_id = ?", certificateID.String()).
		Order("created_at").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	items := make([]*AuditEntry, 0, len(rows))
	for _, m := range rows {
		e := &AuditEntry{
			Action:    m.Action,
			CreatedAt: m.CreatedAt.UTC(),
		}
		var err error
		if e.ID, err = uuid.Parse(m.ID); err != nil {
			return nil, err
		}
		if e.CertificateID, err = uuid.Parse(m.CertificateID); err != nil {
			return nil, err
		}
		if m.UserID != nil {
			uid, err := uuid.Parse(*m.UserID)
			if err != nil {
				return nil, err
			}
			e.UserID = &uid
		}
		if m.IPAddress != nil {
			e.IPAddress = *m.IPAddress
		}
		if m.UserAgent != nil {
			e.UserAgent = *m.UserAgent
		}
		if m.Changes != nil {
			if err := json.Unmarshal([]byte(*m.Changes), &e.Changes); err != nil {
				return nil, fmt.Errorf("decode audit changes: %w", err)
			}
		}
		items = append(items, e)
	}
	return items, nil
}
