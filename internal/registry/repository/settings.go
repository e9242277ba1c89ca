package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SettingAllowedHosts lists the caller addresses permitted to use the
// mutating registration endpoints.
const SettingAllowedHosts = "registration_allowed_hosts"

// ErrSettingNotFound is returned when a setting has never been written.
var ErrSettingNotFound = errors.New("setting not found")

// SettingsRepository stores JSON-encoded application settings.
type SettingsRepository struct {
	db *pgxpool.Pool
}

// NewSettingsRepository creates a new SettingsRepository.
func NewSettingsRepository(db *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// StringSlice reads a setting holding a JSON array of strings.
func (r *SettingsRepository) StringSlice(ctx context.Context, name string) ([]string, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `SELECT value FROM settings WHERE name = $1`, name).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSettingNotFound
		}
		return nil, fmt.Errorf("get setting %s: %w", name, err)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode setting %s: %w", name, err)
	}
	return out, nil
}

// SetStringSlice upserts a setting holding a JSON array of strings.
func (r *SettingsRepository) SetStringSlice(ctx context.Context, name string, value []string) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", name, err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO settings (name, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		name, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", name, err)
	}
	return nil
}
