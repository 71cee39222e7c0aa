package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"pricegov/internal/models"
	"pricegov/internal/repository"
)

const (
	SettingAutoApply = "auto_apply"
	SettingMinMargin = "min_margin"
	SettingMaxDelta  = "max_delta"
)

type settingDefault struct {
	value       any
	description string
}

var guardrailDefaults = map[string]settingDefault{
	SettingAutoApply: {false, "apply accepted proposals to the ledger without manual approval"},
	SettingMinMargin: {0.12, "minimum margin over cost the optimizer may propose"},
	SettingMaxDelta:  {0.10, "largest relative price move governance accepts"},
}

// Guardrails is a snapshot of the settings governance and the optimizer read.
type Guardrails struct {
	AutoApply bool    `json:"auto_apply"`
	MinMargin float64 `json:"min_margin"`
	MaxDelta  float64 `json:"max_delta"`
}

func DefaultGuardrails() Guardrails {
	return Guardrails{AutoApply: false, MinMargin: 0.12, MaxDelta: 0.10}
}

// SettingsService reads and writes guardrails. Missing or unreadable keys are
// rewritten with their defaults on read.
type SettingsService struct {
	Repo   repository.SettingsRepository
	Logger *zap.Logger
}

func IsGuardrailKey(key string) bool {
	_, ok := guardrailDefaults[key]
	return ok
}

func (s *SettingsService) EnsureDefaults(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	for key, def := range guardrailDefaults {
		existing, err := s.Repo.GetSetting(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil && validValue(key, existing.Value) {
			continue
		}
		if err := s.write(ctx, key, def.value); err != nil {
			return err
		}
	}
	return nil
}

// Guardrails loads all recognized keys. A read error falls back to defaults
// for the affected key and is returned alongside the snapshot.
func (s *SettingsService) Guardrails(ctx context.Context) (Guardrails, error) {
	g := DefaultGuardrails()
	if s == nil || s.Repo == nil {
		return g, nil
	}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	var err error
	g.AutoApply, err = s.Bool(ctx, SettingAutoApply)
	keep(err)
	g.MinMargin, err = s.Float(ctx, SettingMinMargin)
	keep(err)
	g.MaxDelta, err = s.Float(ctx, SettingMaxDelta)
	keep(err)
	return g, firstErr
}

func (s *SettingsService) Bool(ctx context.Context, key string) (bool, error) {
	def, _ := guardrailDefaults[key].value.(bool)
	raw, err := s.load(ctx, key)
	if err != nil || raw == nil {
		return def, err
	}
	var out bool
	if err := json.Unmarshal(raw, &out); err != nil {
		return def, nil
	}
	return out, nil
}

func (s *SettingsService) Float(ctx context.Context, key string) (float64, error) {
	def, _ := guardrailDefaults[key].value.(float64)
	raw, err := s.load(ctx, key)
	if err != nil || raw == nil {
		return def, err
	}
	var out float64
	if err := json.Unmarshal(raw, &out); err != nil {
		return def, nil
	}
	return out, nil
}

// Set validates value against the key's type and stores it.
func (s *SettingsService) Set(ctx context.Context, key string, value any) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	def, ok := guardrailDefaults[key]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if !validValue(key, raw) {
		return fmt.Errorf("invalid value for %s: want %T", key, def.value)
	}
	return s.write(ctx, key, value)
}

func (s *SettingsService) load(ctx context.Context, key string) (datatypes.JSON, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	item, err := s.Repo.GetSetting(ctx, key)
	if err != nil {
		return nil, err
	}
	if item != nil && validValue(key, item.Value) {
		return item.Value, nil
	}
	def, ok := guardrailDefaults[key]
	if !ok {
		return nil, nil
	}
	if err := s.write(ctx, key, def.value); err != nil {
		s.logger().Warn("settings: self-heal failed", zap.String("key", key), zap.Error(err))
	} else {
		s.logger().Info("settings: restored default", zap.String("key", key), zap.Any("value", def.value))
	}
	return nil, nil
}

func (s *SettingsService) write(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Repo.UpsertSetting(ctx, &models.Setting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: guardrailDefaults[key].description,
		UpdatedAt:   time.Now().UTC(),
	})
}

func (s *SettingsService) logger() *zap.Logger {
	if s == nil || s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func validValue(key string, raw datatypes.JSON) bool {
	if len(raw) == 0 {
		return false
	}
	switch guardrailDefaults[key].value.(type) {
	case bool:
		var b bool
		return json.Unmarshal(raw, &b) == nil
	case float64:
		var f float64
		if json.Unmarshal(raw, &f) != nil {
			return false
		}
		return f >= 0 && f < 1
	default:
		return true
	}
}
