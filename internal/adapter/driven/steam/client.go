// Package steam implements the Steam Guard credential provider and the
// Steam time source over the public Web API and mobile confirmation endpoints.
package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// Public endpoints used in production.
const (
	DefaultAPIURL       = "https://api.steampowered.com"
	DefaultCommunityURL = "https://steamcommunity.com"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.TimeSource      = (*Client)(nil)
	_ driven.ProviderFactory = (*Client)(nil)
)

// Client carries the transport shared by every Steam account and the time
// source. It is safe for concurrent use.
type Client struct {
	http         *http.Client
	apiURL       string
	communityURL string
	sanitizer    *bluemonday.Policy
}

// NewClient creates a Client. Empty URLs fall back to the public endpoints;
// tests point them at an httptest server.
func NewClient(httpClient *http.Client, apiURL, communityURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if communityURL == "" {
		communityURL = DefaultCommunityURL
	}

	return &Client{
		http:         httpClient,
		apiURL:       strings.TrimRight(apiURL, "/"),
		communityURL: strings.TrimRight(communityURL, "/"),
		sanitizer:    bluemonday.StrictPolicy(),
	}
}

// NewProvider builds a Steam Guard account from a manifest entry.
func (c *Client) NewProvider(entry model.AccountEntry, clock driven.Clock) (driven.CredentialProvider, error) {
	return NewAccount(c, entry, clock)
}

type queryTimeResponse struct {
	Response struct {
		ServerTime json.Number `json:"server_time"`
	} `json:"response"`
}

// ServerTime asks Steam for its current time.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	var out queryTimeResponse
	form := url.Values{"steamid": {"0"}}
	if err := c.postForm(ctx, c.apiURL+"/ITwoFactorService/QueryTime/v0001", form, &out); err != nil {
		return time.Time{}, fmt.Errorf("query steam time: %w", err)
	}

	secs, err := out.Response.ServerTime.Int64()
	if err != nil || secs <= 0 {
		return time.Time{}, fmt.Errorf("query steam time: malformed server_time %q", out.Response.ServerTime)
	}
	return time.Unix(secs, 0), nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, cookies []*http.Cookie, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	return c.do(req, out)
}

// do sends req and decodes a JSON body into out. 401 and 403 mean the
// session behind the request is no longer accepted.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "okhttp/3.12.12")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, driven.ErrSessionInvalid)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
