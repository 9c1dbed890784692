package driven

import (
	"context"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
)

// ReleaseChecker looks up the latest published release.
type ReleaseChecker interface {
	LatestRelease(ctx context.Context) (model.Release, error)
}
