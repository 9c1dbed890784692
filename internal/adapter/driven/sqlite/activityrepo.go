package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ActivityStore = (*ActivityRepo)(nil)

// DefaultActivityLimit caps ListRecent when the caller passes a non-positive limit.
const DefaultActivityLimit = 100

// ActivityRepo is the SQLite implementation of driven.ActivityStore.
type ActivityRepo struct {
	db *DB
}

// NewActivityRepo creates an ActivityRepo backed by db.
func NewActivityRepo(db *DB) *ActivityRepo {
	return &ActivityRepo{db: db}
}

// Record appends one activity row. A zero CreatedAt is stamped with the current time.
func (r *ActivityRepo) Record(ctx context.Context, a model.Activity) error {
	const query = `INSERT INTO activity (account, action, subject, detail, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		a.Account, string(a.Action), a.Subject, a.Detail, a.Success, createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record %s activity for %s: %w", a.Action, a.Account, err)
	}
	return nil
}

// ListRecent returns up to limit rows, newest first. An empty account lists all.
func (r *ActivityRepo) ListRecent(ctx context.Context, account string, limit int) ([]model.Activity, error) {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}

	const columns = `SELECT id, account, action, subject, detail, success, created_at FROM activity`
	query := columns + ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args := []any{limit}
	if account != "" {
		query = columns + ` WHERE account = ? ORDER BY created_at DESC, id DESC LIMIT ?`
		args = []any{account, limit}
	}

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		var (
			a         model.Activity
			action    string
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.Account, &action, &a.Subject, &a.Detail, &a.Success, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Action = model.ActivityAction(action)
		a.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return out, nil
}
