package governor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kilnworks/companykernel/internal/store"
)

// Service reads and writes the versioned governor config document.
type Service struct {
	store *store.Store
}

// NewService builds a Service backed by s.
func NewService(s *store.Store) *Service {
	return &Service{store: s}
}

// GetConfig reads kernel_settings['governor_config']; on a missing row or
// malformed JSON it returns the built-in default without error.
func (svc *Service) GetConfig(ctx context.Context) (Config, error) {
	var raw []byte
	row := svc.store.Pool.QueryRow(ctx, `SELECT value_json FROM kernel_settings WHERE key = $1`, SettingsKey)
	err := row.Scan(&raw)
	if err == pgx.ErrNoRows {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading governor config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Default(), nil
	}
	return mergeWithDefaults(cfg, Default()), nil
}

// SetConfig merges c with defaults per-field and persists the result. It
// does not check the values of c; the HTTP handler only rejects malformed
// JSON and unknown fields before calling it.
func (svc *Service) SetConfig(ctx context.Context, c Config) (Config, error) {
	merged := mergeWithDefaults(c, Default())

	raw, err := json.Marshal(merged)
	if err != nil {
		return Config{}, fmt.Errorf("marshalling governor config: %w", err)
	}

	_, err = svc.store.Pool.Exec(ctx, `
		INSERT INTO kernel_settings (key, value_json, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value_json = EXCLUDED.value_json, updated_at = EXCLUDED.updated_at
	`, SettingsKey, raw, time.Now().UTC())
	if err != nil {
		return Config{}, fmt.Errorf("writing governor config: %w", err)
	}

	return merged, nil
}
