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

// ClientRepository is the client registry: subscribers with their
// subscription and suppression state. Emails are stored lowercased.
type ClientRepository struct {
	db DBTX
}

// NewClientRepository creates a ClientRepository.
func NewClientRepository(db DBTX) *ClientRepository {
	return &ClientRepository{db: db}
}

// clientColumns is kept in scanClient order.
const clientColumns = `id, email, name, unsubscribed, unsubscribed_at, unsubscribe_token,
	suppressed, suppressed_reason, suppressed_at, created_at`

func scanClient(row pgx.Row) (*types.Client, error) {
	var c types.Client
	var name, token, reason *string
	err := row.Scan(
		&c.ID,
		&c.Email,
		&name,
		&c.Unsubscribed,
		&c.UnsubscribedAt,
		&token,
		&c.Suppressed,
		&reason,
		&c.SuppressedAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Name = derefString(name)
	c.UnsubscribeToken = derefString(token)
	c.SuppressedReason = derefString(reason)
	return &c, nil
}

// FindByEmail returns the client with the normalized email, or nil, nil.
func (r *ClientRepository) FindByEmail(ctx context.Context, email string) (*types.Client, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE email = $1`,
		types.NormalizeEmail(email),
	)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up client", err)
	}
	return c, nil
}

// FindByToken returns the client owning an unsubscribe token, or nil, nil.
func (r *ClientRepository) FindByToken(ctx context.Context, token string) (*types.Client, error) {
	if token == "" {
		return nil, nil
	}
	row := r.db.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE unsubscribe_token = $1`,
		token,
	)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up unsubscribe token", err)
	}
	return c, nil
}

// FindByID returns the client or a not_found_client error.
func (r *ClientRepository) FindByID(ctx context.Context, id string) (*types.Client, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE id = $1`,
		id,
	)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundClient, "client not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve client", err)
	}
	return c, nil
}

// UpsertSubscription inserts a subscriber or re-opts-in an existing one.
// On conflict the unsubscribed flag is reset and the name is replaced only
// when a new one is given. Timestamps and suppression fields are left alone.
// Repeated calls converge on the same single row.
func (r *ClientRepository) UpsertSubscription(ctx context.Context, email, name string) (*types.Client, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO clients (email, name)
		 VALUES ($1, $2)
		 ON CONFLICT (email) DO UPDATE SET
		     unsubscribed = FALSE,
		     name = COALESCE(NULLIF(EXCLUDED.name, ''), clients.name)
		 RETURNING `+clientColumns,
		types.NormalizeEmail(email),
		nilIfEmpty(strings.TrimSpace(name)),
	)
	c, err := scanClient(row)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to save subscription", err)
	}
	return c, nil
}

// AddClient inserts a new subscriber. A duplicate email is reported as
// conflict_email_exists.
func (r *ClientRepository) AddClient(ctx context.Context, name, email string) (*types.Client, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO clients (email, name) VALUES ($1, $2)
		 RETURNING `+clientColumns,
		types.NormalizeEmail(email),
		nilIfEmpty(strings.TrimSpace(name)),
	)
	c, err := scanClient(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, types.NewAppError(types.ErrCodeConflictEmail, "a client with this email already exists", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to add client", err)
	}
	return c, nil
}

// UpdateByID writes the non-nil fields of patch. Callers keep paired fields
// consistent; see types.ResubscribePatch and types.ManualUnsubscribePatch.
func (r *ClientRepository) UpdateByID(ctx context.Context, id string, patch types.ClientPatch) (*types.Client, error) {
	if patch.IsEmpty() {
		return r.FindByID(ctx, id)
	}

	var sets []string
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if patch.Name != nil {
		add("name", nilIfEmpty(strings.TrimSpace(*patch.Name)))
	}
	if patch.Unsubscribed != nil {
		add("unsubscribed", *patch.Unsubscribed)
	}
	switch {
	case patch.ClearUnsubAt:
		sets = append(sets, "unsubscribed_at = NULL")
	case patch.UnsubscribedAt != nil:
		add("unsubscribed_at", *patch.UnsubscribedAt)
	}
	if patch.Suppressed != nil {
		add("suppressed", *patch.Suppressed)
	}
	switch {
	case patch.ClearSuppAt:
		sets = append(sets, "suppressed_at = NULL")
	case patch.SuppressedAt != nil:
		add("suppressed_at", *patch.SuppressedAt)
	}
	switch {
	case patch.ClearReason:
		sets = append(sets, "suppressed_reason = NULL")
	case patch.SuppressedReason != nil:
		add("suppressed_reason", *patch.SuppressedReason)
	}

	row := r.db.QueryRow(ctx,
		`UPDATE clients SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING `+clientColumns,
		args...,
	)
	c, err := scanClient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundClient, "client not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to update client", err)
	}
	return c, nil
}

// ListBlastRecipients returns eligible recipients, newest first, capped at
// types.MaxBlastRecipients. Eligible means unsubscribed = false, plus
// suppressed = false when the filter asks for it.
func (r *ClientRepository) ListBlastRecipients(ctx context.Context, f types.RecipientFilter) ([]types.BlastRecipient, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, email, name, unsubscribe_token
		 FROM clients
		 WHERE `+eligibilityClause(f)+`
		 ORDER BY created_at DESC
		 LIMIT $1`,
		types.MaxBlastRecipients,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load recipients", err)
	}
	defer rows.Close()

	var out []types.BlastRecipient
	for rows.Next() {
		var rc types.BlastRecipient
		var name, token *string
		if err := rows.Scan(&rc.ID, &rc.Email, &name, &token); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan recipient", err)
		}
		rc.Name = derefString(name)
		rc.UnsubscribeToken = derefString(token)
		out = append(out, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate recipients", err)
	}
	return out, nil
}

// CountEligibleRecipients counts what ListBlastRecipients would return,
// before the cap.
func (r *ClientRepository) CountEligibleRecipients(ctx context.Context, f types.RecipientFilter) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM clients WHERE `+eligibilityClause(f),
	).Scan(&n)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count recipients", err)
	}
	return n, nil
}

func eligibilityClause(f types.RecipientFilter) string {
	if f.SkipSuppressed {
		return "unsubscribed = FALSE AND suppressed = FALSE"
	}
	return "unsubscribed = FALSE"
}

// EnsureUnsubscribeToken stores candidate as the client's token unless one
// is already set, and returns whichever token is stored afterwards.
// Concurrent callers therefore converge on a single token.
func (r *ClientRepository) EnsureUnsubscribeToken(ctx context.Context, id, candidate string) (string, error) {
	var stored string
	err := r.db.QueryRow(ctx,
		`UPDATE clients SET unsubscribe_token = $2
		 WHERE id = $1 AND unsubscribe_token IS NULL
		 RETURNING unsubscribe_token`,
		id, candidate,
	).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to store unsubscribe token", err)
	}

	// Either the client is gone or another writer set the token first.
	var existing *string
	err = r.db.QueryRow(ctx,
		`SELECT unsubscribe_token FROM clients WHERE id = $1`,
		id,
	).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", types.NewAppError(types.ErrCodeNotFoundClient, "client not found", nil)
		}
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to read unsubscribe token", err)
	}
	if existing == nil || *existing == "" {
		return "", types.NewAppError(types.ErrCodeInternalDB, "unsubscribe token was not stored", nil)
	}
	return *existing, nil
}

// Unsubscribe opts a client out. It reports false when the client was
// already unsubscribed, in which case nothing is written.
func (r *ClientRepository) Unsubscribe(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE clients
		 SET unsubscribed = TRUE, unsubscribed_at = $2
		 WHERE id = $1 AND unsubscribed = FALSE`,
		id, now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to unsubscribe client", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ApplySuppression marks the client with this email as suppressed and, for
// complaints, unsubscribed. Timestamps are only written on the false to true
// transition, so replaying an event leaves the row unchanged apart from the
// reason. It reports whether a client matched.
func (r *ClientRepository) ApplySuppression(ctx context.Context, email string, u types.SuppressionUpdate) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE clients SET
		     suppressed = TRUE,
		     suppressed_reason = $2,
		     suppressed_at = CASE WHEN suppressed THEN COALESCE(suppressed_at, $3) ELSE $3 END,
		     unsubscribed = unsubscribed OR $4::boolean,
		     unsubscribed_at = CASE WHEN $4::boolean AND NOT unsubscribed THEN $3 ELSE unsubscribed_at END
		 WHERE email = $1`,
		types.NormalizeEmail(email),
		u.Reason,
		u.At,
		u.Unsubscribe,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to apply suppression", err)
	}
	return tag.RowsAffected() > 0, nil
}

// List returns one page of clients for the admin screen plus the total
// matching count.
func (r *ClientRepository) List(ctx context.Context, f types.ClientListFilter) ([]types.Client, int, error) {
	var where []string
	var args []any
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+strings.ToLower(s)+"%")
		where = append(where, fmt.Sprintf("(email LIKE $%d OR lower(coalesce(name, '')) LIKE $%d)", len(args), len(args)))
	}
	switch f.Status {
	case "subscribed":
		where = append(where, "unsubscribed = FALSE")
	case "unsubscribed":
		where = append(where, "unsubscribed = TRUE")
	case "suppressed":
		where = append(where, "suppressed = TRUE")
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM clients`+clause, args...).Scan(&total); err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count clients", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, max(f.Offset, 0))
	rows, err := r.db.Query(ctx,
		`SELECT `+clientColumns+` FROM clients`+clause+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to list clients", err)
	}
	defer rows.Close()

	clients := make([]types.Client, 0, limit)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to scan client", err)
		}
		clients = append(clients, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate clients", err)
	}
	return clients, total, nil
}
