package driven

import (
	"context"
	"time"
)

// TimeSource fetches the authoritative remote time used to align codes.
type TimeSource interface {
	ServerTime(ctx context.Context) (time.Time, error)
}
