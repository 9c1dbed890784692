package application

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// UpdateService compares the running version with the latest release.
type UpdateService struct {
	checker driven.ReleaseChecker
	current string
}

// NewUpdateService creates an UpdateService for the given running version.
func NewUpdateService(checker driven.ReleaseChecker, current string) *UpdateService {
	return &UpdateService{checker: checker, current: current}
}

// Check fetches the latest release. A running version that is not valid
// semver (a development build) never reports an update.
func (s *UpdateService) Check(ctx context.Context) (model.UpdateInfo, error) {
	rel, err := s.checker.LatestRelease(ctx)
	if err != nil {
		return model.UpdateInfo{}, err
	}

	info := model.UpdateInfo{
		CurrentVersion: s.current,
		LatestVersion:  rel.Tag,
		URL:            rel.URL,
	}
	if rel.DownloadURL != "" {
		info.URL = rel.DownloadURL
	}

	latest, err := semver.NewVersion(rel.Tag)
	if err != nil {
		return model.UpdateInfo{}, fmt.Errorf("parse release tag %q: %w", rel.Tag, err)
	}
	current, err := semver.NewVersion(s.current)
	if err != nil {
		return info, nil
	}

	info.Available = latest.GreaterThan(current)
	return info, nil
}
