package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"hearth/internal/types"
)

// SettingsRepository stores settings documents as JSONB keyed by kind.
// Callers own the schema of each document.
type SettingsRepository struct {
	db DBTX
}

// NewSettingsRepository creates a SettingsRepository.
func NewSettingsRepository(db DBTX) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the raw document for key, or nil when none is stored.
func (r *SettingsRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read settings", err)
	}
	return raw, nil
}

// Put replaces the document for key.
func (r *SettingsRepository) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, string(value),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save settings", err)
	}
	return nil
}
