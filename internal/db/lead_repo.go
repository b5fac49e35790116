package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"hearth/internal/types"
)

// LeadRepository stores form submissions from the public site.
type LeadRepository struct {
	db DBTX
}

// NewLeadRepository creates a LeadRepository.
func NewLeadRepository(db DBTX) *LeadRepository {
	return &LeadRepository{db: db}
}

const leadColumns = `id, kind, status, name, email, phone, payload, created_at, updated_at`

func scanLead(row pgx.Row) (*types.Lead, error) {
	var l types.Lead
	var phone *string
	if err := row.Scan(&l.ID, &l.Kind, &l.Status, &l.Name, &l.Email, &phone, &l.Payload, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	l.Phone = derefString(phone)
	if l.Payload == nil {
		l.Payload = map[string]any{}
	}
	return &l, nil
}

// Create inserts a lead. ID and timestamps must already be set.
func (r *LeadRepository) Create(ctx context.Context, l *types.Lead) error {
	payload := l.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO leads (id, kind, status, name, email, phone, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		l.ID, l.Kind, l.Status, l.Name, types.NormalizeEmail(l.Email), nilIfEmpty(l.Phone), payload, l.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save submission", err)
	}
	return nil
}

// List returns leads newest first.
func (r *LeadRepository) List(ctx context.Context, f types.LeadFilter) ([]types.Lead, error) {
	var where []string
	var args []any
	if f.Kind != "" {
		args = append(args, f.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, max(f.Offset, 0))

	rows, err := r.db.Query(ctx,
		`SELECT `+leadColumns+` FROM leads`+clause+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list submissions", err)
	}
	defer rows.Close()

	leads := []types.Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan submission", err)
		}
		leads = append(leads, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate submissions", err)
	}
	return leads, nil
}

// UpdateStatus sets a lead's status and returns the updated row.
func (r *LeadRepository) UpdateStatus(ctx context.Context, id string, status types.LeadStatus, now time.Time) (*types.Lead, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE leads SET status = $2, updated_at = $3 WHERE id = $1 RETURNING `+leadColumns,
		id, status, now,
	)
	l, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundLead, "submission not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update submission", err)
	}
	return l, nil
}
