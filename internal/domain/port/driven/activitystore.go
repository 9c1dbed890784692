package driven

import (
	"context"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
)

// ActivityStore persists the account audit trail.
type ActivityStore interface {
	// Record appends one activity row.
	Record(ctx context.Context, activity model.Activity) error

	// ListRecent returns up to limit rows, newest first. An empty account
	// lists every account.
	ListRecent(ctx context.Context, account string, limit int) ([]model.Activity, error)
}
