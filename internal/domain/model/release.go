package model

import "time"

// Release describes the newest published build of the application.
type Release struct {
	Tag         string
	URL         string
	DownloadURL string
	PublishedAt time.Time
}

// UpdateInfo is the outcome of comparing the running version to a Release.
type UpdateInfo struct {
	CurrentVersion string
	LatestVersion  string
	Available      bool
	URL            string
}
