// Package github checks GitHub releases for newer versions of the application.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ReleaseChecker = (*Client)(nil)

// Client looks up the latest release of one repository.
type Client struct {
	gh    *gh.Client
	owner string
	repo  string
}

// NewClient builds a Client with the transport stack
//  1. httpcache (ETag revalidation, so repeated checks are cheap)
//  2. go-github-ratelimit (sleeps through secondary rate limits)
//  3. go-github
//
// token may be empty; anonymous requests work for public repositories.
func NewClient(repoFullName, token string) (*Client, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	rateLimited := github_ratelimit.NewClient(httpcache.NewMemoryCacheTransport())
	client := gh.NewClient(rateLimited)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	return &Client{gh: client, owner: owner, repo: repo}, nil
}

// NewClientWithHTTPClient creates a Client against baseURL. Tests use it to
// point at an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, repoFullName string) (*Client, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client := gh.NewClient(httpClient)
	client.BaseURL = u

	return &Client{gh: client, owner: owner, repo: repo}, nil
}

// LatestRelease returns the newest published, non-prerelease release.
func (c *Client) LatestRelease(ctx context.Context) (model.Release, error) {
	rel, resp, err := c.gh.Repositories.GetLatestRelease(ctx, c.owner, c.repo)
	if err != nil {
		return model.Release{}, fmt.Errorf("latest release for %s/%s: %w", c.owner, c.repo, err)
	}
	logRateLimit(resp, c.owner+"/"+c.repo)

	out := model.Release{
		Tag:         rel.GetTagName(),
		URL:         rel.GetHTMLURL(),
		PublishedAt: rel.GetPublishedAt().Time,
	}
	for _, asset := range rel.Assets {
		if strings.HasSuffix(strings.ToLower(asset.GetName()), ".zip") {
			out.DownloadURL = asset.GetBrowserDownloadURL()
			break
		}
	}
	return out, nil
}

func logRateLimit(resp *gh.Response, repo string) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"repo", repo,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 5 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
