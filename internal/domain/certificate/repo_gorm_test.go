package certificate

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mccd/mccd/internal/platform/db"
)

func newGormRepos(t *testing.T) (*certificateRepoGorm, AuditRepository) {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "mccd.db"), Models()...)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewRepoGorm(gdb).(*certificateRepoGorm), NewAuditRepoGorm(gdb)
}

func mustPrepare(t *testing.T, rec Record) Record {
	t.Helper()
	out, errs := Prepare(rec)
	if len(errs) > 0 {
		t.Fatalf("prepare: %v", errs)
	}
	return out
}

func insertDraft(t *testing.T, repo Repository, owner uuid.UUID, now time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	var drafts DraftSerials
	err := repo.Insert(context.Background(), InsertParams{
		ID:           id,
		SerialNumber: drafts.Next(now),
		Status:       StatusDraft,
		CreatedByID:  owner,
		Content:      mustPrepare(t, validSubmission()),
		Now:          now,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return id
}

func TestRepoGorm_InsertAndGet(t *testing.T) {
	repo, _ := newGormRepos(t)
	ctx := context.Background()
	owner := uuid.New()
	region := uuid.New()
	now := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	content := mustPrepare(t, Record{
		"deceased_full_name":    "Abena Mensah",
		"date_of_birth":         "1961-07-14",
		"gender":                "female",
		"is_fetal_infant_death": true,
		"birth_weight_grams":    "2400",
		"folder_number":         "",
	})
	id := uuid.New()
	err := repo.Insert(ctx, InsertParams{
		ID: id, SerialNumber: "DRAFT-1", Status: StatusDraft, CreatedByID: owner,
		RegionID: &region, Content: content, Now: now,
	})
	if err != nil {
		t.Fatal(err)
	}

	c, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if c.CreatedByID != owner || c.RegionID == nil || *c.RegionID != region {
		t.Errorf("unexpected ownership %+v", c)
	}
	if !c.CreatedAt.Equal(now) {
		t.Errorf("expected created_at %v, got %v", now, c.CreatedAt)
	}
	rec := c.Record()
	if rec["date_of_birth"] != "1961-07-14" {
		t.Errorf("expected date round trip, got %#v", rec["date_of_birth"])
	}
	if rec["is_fetal_infant_death"] != true {
		t.Errorf("expected bool round trip, got %#v", rec["is_fetal_infant_death"])
	}
	if rec["birth_weight_grams"] != 2400 {
		t.Errorf("expected int round trip, got %#v", rec["birth_weight_grams"])
	}
	if _, ok := rec["folder_number"]; ok {
		t.Error("expected null column absent")
	}
}

func TestRepoGorm_GetMissing(t *testing.T) {
	repo, _ := newGormRepos(t)
	if _, err := repo.GetByID(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRepoGorm_UpdateSubmitsOnce(t *testing.T) {
	repo, _ := newGormRepos(t)
	ctx := context.Background()
	owner := uuid.New()
	t0 := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	id := insertDraft(t, repo, owner, t0)

	t1 := t0.Add(time.Hour)
	err := repo.Update(ctx, UpdateParams{ID: id, OwnerID: owner, Status: StatusSubmitted, Serial: "ASR-20240302-0001", Content: Record{}, Now: t1})
	if err != nil {
		t.Fatal(err)
	}
	c, _ := repo.GetByID(ctx, id)
	if c.Status != StatusSubmitted || c.SerialNumber != "ASR-20240302-0001" {
		t.Fatalf("unexpected state %s %s", c.Status, c.SerialNumber)
	}
	if c.SubmittedAt == nil || !c.SubmittedAt.Equal(t1) {
		t.Errorf("expected submitted_at %v, got %v", t1, c.SubmittedAt)
	}
	if c.EditWindowExpiresAt == nil || !c.EditWindowExpiresAt.Equal(t1.Add(EditWindow)) {
		t.Errorf("expected expiry %v, got %v", t1.Add(EditWindow), c.EditWindowExpiresAt)
	}

	// re-submitting inside the window keeps serial and timestamps
	t2 := t1.Add(24 * time.Hour)
	err = repo.Update(ctx, UpdateParams{ID: id, OwnerID: owner, Status: StatusSubmitted, Serial: "ASR-20240303-0009",
		Content: Record{"folder_number": "F-1"}, Now: t2})
	if err != nil {
		t.Fatal(err)
	}
	c, _ = repo.GetByID(ctx, id)
	if c.SerialNumber != "ASR-20240302-0001" {
		t.Errorf("expected final serial kept, got %s", c.SerialNumber)
	}
	if !c.SubmittedAt.Equal(t1) {
		t.Errorf("expected submitted_at kept, got %v", c.SubmittedAt)
	}
	if !c.UpdatedAt.Equal(t2) {
		t.Errorf("expected updated_at %v, got %v", t2, c.UpdatedAt)
	}
	if c.Fields["folder_number"] != "F-1" {
		t.Errorf("expected content updated, got %v", c.Fields["folder_number"])
	}

	// a draft save never demotes
	err = repo.Update(ctx, UpdateParams{ID: id, OwnerID: owner, Status: StatusDraft, Content: Record{}, Now: t2})
	if err != nil {
		t.Fatal(err)
	}
	if c, _ = repo.GetByID(ctx, id); c.Status != StatusSubmitted {
		t.Errorf("expected status kept, got %s", c.Status)
	}
}

func TestRepoGorm_UpdateGuard(t *testing.T) {
	repo, _ := newGormRepos(t)
	ctx := context.Background()
	owner := uuid.New()
	t0 := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	id := insertDraft(t, repo, owner, t0)

	err := repo.Update(ctx, UpdateParams{ID: id, OwnerID: uuid.New(), Status: StatusDraft, Content: Record{}, Now: t0})
	if !errors.Is(err, ErrLocked) {
		t.Errorf("other owner: expected ErrLocked, got %v", err)
	}

	if err := repo.Update(ctx, UpdateParams{ID: id, OwnerID: owner, Status: StatusSubmitted, Content: Record{}, Now: t0}); err != nil {
		t.Fatal(err)
	}
	late := t0.Add(EditWindow + time.Second)
	err = repo.Update(ctx, UpdateParams{ID: id, OwnerID: owner, Status: StatusSubmitted, Content: Record{"folder_number": "late"}, Now: late})
	if !errors.Is(err, ErrLocked) {
		t.Errorf("after window: expected ErrLocked, got %v", err)
	}
	c, _ := repo.GetByID(ctx, id)
	if _, ok := c.Fields["folder_number"]; ok {
		t.Error("expected locked update to change nothing")
	}
}

func TestRepoGorm_List(t *testing.T) {
	repo, _ := newGormRepos(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	t0 := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	a1 := insertDraft(t, repo, alice, t0)
	insertDraft(t, repo, alice, t0.Add(time.Minute))
	insertDraft(t, repo, bob, t0.Add(2*time.Minute))
	repo.Update(ctx, UpdateParams{ID: a1, OwnerID: alice, Status: StatusSubmitted, Content: Record{}, Now: t0.Add(time.Hour)})

	items, total, err := repo.List(ctx, ListFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(items) != 2 {
		t.Errorf("expected 3 total and 2 items, got %d %d", total, len(items))
	}
	if items[0].CreatedByID != bob {
		t.Error("expected newest first")
	}

	_, total, _ = repo.List(ctx, ListFilter{CreatedBy: &alice, Limit: 10})
	if total != 2 {
		t.Errorf("expected 2 for alice, got %d", total)
	}
	items, total, _ = repo.List(ctx, ListFilter{CreatedBy: &alice, Status: StatusSubmitted, Limit: 10})
	if total != 1 || items[0].ID != a1 {
		t.Errorf("expected the submitted certificate, got %d", total)
	}
}

func TestRepoGorm_NextSerial(t *testing.T) {
	repo, _ := newGormRepos(t)
	ctx := context.Background()
	repo.now = func() time.Time { return time.Date(2024, 3, 2, 23, 59, 0, 0, time.UTC) }

	want := []string{"GAR-20240302-0001", "GAR-20240302-0002"}
	for _, w := range want {
		got, err := repo.NextSerial(ctx, "gar", "")
		if err != nil {
			t.Fatal(err)
		}
		if got != w {
			t.Errorf("expected %s, got %s", w, got)
		}
	}
	if got, _ := repo.NextSerial(ctx, "ASR", "F-001"); got != "ASR-20240302-0001" {
		t.Errorf("expected an independent counter per region, got %s", got)
	}

	repo.now = func() time.Time { return time.Date(2024, 3, 3, 0, 0, 1, 0, time.UTC) }
	if got, _ := repo.NextSerial(ctx, "GAR", ""); got != "GAR-20240303-0001" {
		t.Errorf("expected the counter to restart daily, got %s", got)
	}
}

func TestAuditRepoGorm_AppendAndList(t *testing.T) {
	_, audit := newGormRepos(t)
	ctx := context.Background()
	certID, userID := uuid.New(), uuid.New()
	t0 := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	entries := []*AuditEntry{
		{CertificateID: certID, UserID: &userID, Action: ActionCreated, Changes: map[string]any{"status": "draft"}, CreatedAt: t0},
		{CertificateID: certID, Action: ActionViewed, IPAddress: "10.1.1.1", CreatedAt: t0.Add(time.Minute)},
		{CertificateID: uuid.New(), Action: ActionViewed, CreatedAt: t0},
	}
	for _, e := range entries {
		if err := audit.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := audit.ListByCertificate(ctx, certID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Action != ActionCreated || got[0].UserID == nil || *got[0].UserID != userID {
		t.Errorf("unexpected first entry %+v", got[0])
	}
	if got[0].Changes["status"] != "draft" {
		t.Errorf("expected changes decoded, got %v", got[0].Changes)
	}
	if got[1].UserID != nil || got[1].IPAddress != "10.1.1.1" {
		t.Errorf("unexpected second entry %+v", got[1])
	}
}

func TestService_WithGormRepos(t *testing.T) {
	repo, audit := newGormRepos(t)
	f := newFixture(t)
	svc := NewService(repo, audit, nil, f.svc.logger)
	svc.SetClock(func() time.Time { return f.now })
	repo.now = svc.Now

	res := svc.Save(f.ctx(), validSubmission(), SaveOptions{Status: StatusDraft})
	if !res.Success {
		t.Fatalf("draft: %+v", res)
	}
	f.now = f.now.Add(time.Minute)
	res = svc.Save(f.ctx(), validSubmission(), SaveOptions{Status: StatusSubmitted, IsEditMode: true, CertificateID: res.CertificateID})
	if !res.Success {
		t.Fatalf("submit: %+v", res)
	}
	if res.SerialNumber != "GAR-20240302-0001" {
		t.Errorf("expected first GAR serial, got %s", res.SerialNumber)
	}
	trail, _ := svc.AuditTrail(context.Background(), *res.CertificateID)
	if len(trail) != 2 || trail[1].Action != ActionSubmitted {
		t.Errorf("unexpected trail %+v", trail)
	}
}

func TestService_GormDraftOutOfRange(t *testing.T) {
	repo, audit := newGormRepos(t)
	f := newFixture(t)
	svc := NewService(repo, audit, nil, f.svc.logger)
	svc.SetClock(func() time.Time { return f.now })
	repo.now = svc.Now

	for _, rec := range []Record{
		{"is_fetal_infant_death": true, "mother_age_years": 5},
		{"is_fetal_infant_death": true, "hours_if_death_within_24h": 30},
		{"is_fetal_infant_death": true, "birth_weight_grams": -10},
	} {
		res := svc.Save(f.ctx(), rec, SaveOptions{Status: StatusDraft})
		if res.Success || res.Kind != KindValidation || len(res.Fields) != 1 {
			t.Errorf("%v: expected one field error, got %+v", rec, res)
		}
	}
	_, total, err := repo.List(context.Background(), ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("expected nothing stored, got %d", total)
	}
}
