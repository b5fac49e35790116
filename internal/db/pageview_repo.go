package db

import (
	"context"
	"time"

	"hearth/internal/types"
)

// PageViewRepository stores analytics pixel hits.
type PageViewRepository struct {
	db DBTX
}

// NewPageViewRepository creates a PageViewRepository.
func NewPageViewRepository(db DBTX) *PageViewRepository {
	return &PageViewRepository{db: db}
}

// Insert records one hit.
func (r *PageViewRepository) Insert(ctx context.Context, v types.PageView) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO page_views (path, referrer_host, visitor_hash, device_class, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		v.Path, nilIfEmpty(v.ReferrerHost), v.VisitorHash, v.DeviceClass, v.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record page view", err)
	}
	return nil
}

// Summary aggregates views and unique visitors per path since a point in
// time, busiest paths first.
func (r *PageViewRepository) Summary(ctx context.Context, since time.Time, limit int) ([]types.PathStats, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT path, COUNT(*) AS views, COUNT(DISTINCT visitor_hash) AS visitors
		 FROM page_views
		 WHERE created_at >= $1
		 GROUP BY path
		 ORDER BY views DESC, path
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to summarize page views", err)
	}
	defer rows.Close()

	out := []types.PathStats{}
	for rows.Next() {
		var s types.PathStats
		if err := rows.Scan(&s.Path, &s.Views, &s.UniqueVisitors); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan page view summary", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate page view summary", err)
	}
	return out, nil
}
