package service

import (
	"context"
	"errors"
	"testing"

	"gorm.io/datatypes"

	"pricegov/internal/models"
)

type stubSettingsRepo struct {
	items  map[string]*models.Setting
	getErr error
	writes int
}

func newStubSettingsRepo() *stubSettingsRepo {
	return &stubSettingsRepo{items: map[string]*models.Setting{}}
}

func (r *stubSettingsRepo) GetSetting(_ context.Context, key string) (*models.Setting, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	item, ok := r.items[key]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (r *stubSettingsRepo) UpsertSetting(_ context.Context, item *models.Setting) error {
	cp := *item
	r.items[item.Key] = &cp
	r.writes++
	return nil
}

func (r *stubSettingsRepo) ListSettings(context.Context) ([]models.Setting, error) {
	out := make([]models.Setting, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, *item)
	}
	return out, nil
}

func TestEnsureDefaultsInsertsMissingKeys(t *testing.T) {
	repo := newStubSettingsRepo()
	repo.items[SettingMaxDelta] = &models.Setting{Key: SettingMaxDelta, Value: datatypes.JSON([]byte("0.05"))}
	svc := &SettingsService{Repo: repo}
	if err := svc.EnsureDefaults(context.Background()); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(repo.items) != 3 {
		t.Fatalf("items=%d want=3", len(repo.items))
	}
	if string(repo.items[SettingMaxDelta].Value) != "0.05" {
		t.Fatalf("existing value overwritten: %s", repo.items[SettingMaxDelta].Value)
	}
	if string(repo.items[SettingAutoApply].Value) != "false" {
		t.Fatalf("auto_apply=%s want=false", repo.items[SettingAutoApply].Value)
	}
}

func TestGuardrailsSelfHealsCorruptValue(t *testing.T) {
	repo := newStubSettingsRepo()
	repo.items[SettingMinMargin] = &models.Setting{Key: SettingMinMargin, Value: datatypes.JSON([]byte(`"lots"`))}
	repo.items[SettingAutoApply] = &models.Setting{Key: SettingAutoApply, Value: datatypes.JSON([]byte("true"))}
	svc := &SettingsService{Repo: repo}
	g, err := svc.Guardrails(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !g.AutoApply || g.MinMargin != 0.12 || g.MaxDelta != 0.10 {
		t.Fatalf("guardrails=%+v", g)
	}
	if string(repo.items[SettingMinMargin].Value) != "0.12" {
		t.Fatalf("min_margin not restored: %s", repo.items[SettingMinMargin].Value)
	}
	if _, ok := repo.items[SettingMaxDelta]; !ok {
		t.Fatalf("max_delta not inserted")
	}
}

func TestGuardrailsReadErrorFallsBackToDefaults(t *testing.T) {
	repo := newStubSettingsRepo()
	repo.getErr = errors.New("db down")
	svc := &SettingsService{Repo: repo}
	g, err := svc.Guardrails(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if g != DefaultGuardrails() {
		t.Fatalf("guardrails=%+v want defaults", g)
	}
	if repo.writes != 0 {
		t.Fatalf("must not write on read error")
	}
}

func TestSetValidates(t *testing.T) {
	repo := newStubSettingsRepo()
	svc := &SettingsService{Repo: repo}
	ctx := context.Background()
	if err := svc.Set(ctx, SettingAutoApply, true); err != nil {
		t.Fatalf("err=%v", err)
	}
	if err := svc.Set(ctx, SettingMaxDelta, "wide"); err == nil {
		t.Fatalf("expected type error")
	}
	if err := svc.Set(ctx, SettingMaxDelta, 1.5); err == nil {
		t.Fatalf("expected range error")
	}
	if err := svc.Set(ctx, "colour", 1); err == nil {
		t.Fatalf("expected unknown key error")
	}
	on, err := svc.Bool(ctx, SettingAutoApply)
	if err != nil || !on {
		t.Fatalf("auto_apply=%v err=%v", on, err)
	}
}

func TestNilServiceReturnsDefaults(t *testing.T) {
	var svc *SettingsService
	g, err := svc.Guardrails(context.Background())
	if err != nil || g != DefaultGuardrails() {
		t.Fatalf("g=%+v err=%v", g, err)
	}
}
