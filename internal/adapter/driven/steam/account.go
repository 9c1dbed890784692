package steam

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialProvider = (*Account)(nil)

// maFile is the subset of the Steam Guard account document this package
// reads and updates. Unknown fields survive Export untouched.
type maFile struct {
	SharedSecret   string   `json:"shared_secret"`
	IdentitySecret string   `json:"identity_secret"`
	RevocationCode string   `json:"revocation_code"`
	AccountName    string   `json:"account_name"`
	DeviceID       string   `json:"device_id"`
	Session        *session `json:"Session,omitempty"`
}

type session struct {
	SteamID      uint64 `json:"SteamID"`
	AccessToken  string `json:"AccessToken"`
	RefreshToken string `json:"RefreshToken"`
	SessionID    string `json:"SessionID"`
}

// Account is the Steam Guard CredentialProvider for one account.
type Account struct {
	client *Client
	clock  driven.Clock
	name   string

	sharedSecret   []byte
	identitySecret []byte

	mu    sync.Mutex
	file  maFile
	extra map[string]json.RawMessage
}

// NewAccount parses entry.Payload as a Steam Guard account document.
func NewAccount(client *Client, entry model.AccountEntry, clock driven.Clock) (*Account, error) {
	var file maFile
	if err := json.Unmarshal(entry.Payload, &file); err != nil {
		return nil, fmt.Errorf("parse steam account %q: %w", entry.Name, err)
	}
	var extra map[string]json.RawMessage
	if err := json.Unmarshal(entry.Payload, &extra); err != nil {
		return nil, fmt.Errorf("parse steam account %q: %w", entry.Name, err)
	}

	shared, err := base64.StdEncoding.DecodeString(file.SharedSecret)
	if err != nil || len(shared) == 0 {
		return nil, fmt.Errorf("steam account %q: invalid shared_secret", entry.Name)
	}
	identity, err := base64.StdEncoding.DecodeString(file.IdentitySecret)
	if err != nil {
		return nil, fmt.Errorf("steam account %q: invalid identity_secret", entry.Name)
	}

	return &Account{
		client:         client,
		clock:          clock,
		name:           entry.Name,
		sharedSecret:   shared,
		identitySecret: identity,
		file:           file,
		extra:          extra,
	}, nil
}

// AccountName returns the manifest key of this account.
func (a *Account) AccountName() string { return a.name }

// Kind returns model.KindSteam.
func (a *Account) Kind() string { return model.KindSteam }

// GenerateCode returns the five-character Steam Guard code for t.
func (a *Account) GenerateCode(t time.Time) (string, error) {
	return generateCode(a.sharedSecret, t), nil
}

// Export serializes the account document including the current session.
func (a *Account) Export() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	known, err := json.Marshal(a.file)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage, len(a.extra)+len(fields))
	for k, v := range a.extra {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	if a.file.Session == nil {
		delete(merged, "Session")
	}
	return json.Marshal(merged)
}

func (a *Account) currentSession() (session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file.Session == nil || a.file.Session.SteamID == 0 {
		return session{}, fmt.Errorf("steam account %q has no session: %w", a.name, driven.ErrSessionInvalid)
	}
	return *a.file.Session, nil
}

type accessTokenResponse struct {
	Response struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	} `json:"response"`
}

// RefreshSession exchanges the stored refresh token for a new access token.
func (a *Account) RefreshSession(ctx context.Context) error {
	sess, err := a.currentSession()
	if err != nil {
		return err
	}
	if sess.RefreshToken == "" {
		return fmt.Errorf("steam account %q has no refresh token: %w", a.name, driven.ErrSessionInvalid)
	}

	form := url.Values{
		"refresh_token": {sess.RefreshToken},
		"steamid":       {strconv.FormatUint(sess.SteamID, 10)},
		"renewal_type":  {"0"},
	}
	var out accessTokenResponse
	endpoint := a.client.apiURL + "/IAuthenticationService/GenerateAccessTokenForApp/v1/"
	if err := a.client.postForm(ctx, endpoint, form, &out); err != nil {
		return fmt.Errorf("refresh session for %q: %w", a.name, err)
	}
	if out.Response.AccessToken == "" {
		return fmt.Errorf("refresh session for %q: empty access token: %w", a.name, driven.ErrSessionInvalid)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file.Session != nil {
		a.file.Session.AccessToken = out.Response.AccessToken
		if out.Response.RefreshToken != "" {
			a.file.Session.RefreshToken = out.Response.RefreshToken
		}
	}
	return nil
}

func (a *Account) sessionCookies(sess session) []*http.Cookie {
	steamID := strconv.FormatUint(sess.SteamID, 10)
	return []*http.Cookie{
		{Name: "steamLoginSecure", Value: steamID + "%7C%7C" + sess.AccessToken},
		{Name: "sessionid", Value: sess.SessionID},
		{Name: "mobileClient", Value: "android"},
		{Name: "mobileClientVersion", Value: "777777-3.6.4"},
	}
}

// confirmationQuery builds the signed query shared by the mobileconf endpoints.
func (a *Account) confirmationQuery(sess session, tag string) url.Values {
	now := a.clock.Now()
	return url.Values{
		"p":   {a.file.DeviceID},
		"a":   {strconv.FormatUint(sess.SteamID, 10)},
		"k":   {confirmationKey(a.identitySecret, now, tag)},
		"t":   {strconv.FormatInt(now.Unix(), 10)},
		"m":   {"react"},
		"tag": {tag},
	}
}

type confirmationListResponse struct {
	Success  bool   `json:"success"`
	NeedAuth bool   `json:"needauth"`
	Message  string `json:"message"`
	Conf     []struct {
		ID           string   `json:"id"`
		Nonce        string   `json:"nonce"`
		TypeName     string   `json:"type_name"`
		Headline     string   `json:"headline"`
		Summary      []string `json:"summary"`
		CreationTime int64    `json:"creation_time"`
	} `json:"conf"`
}

// FetchConfirmations lists pending mobile confirmations.
func (a *Account) FetchConfirmations(ctx context.Context) ([]model.Confirmation, error) {
	sess, err := a.currentSession()
	if err != nil {
		return nil, err
	}

	var out confirmationListResponse
	endpoint := a.client.communityURL + "/mobileconf/getlist"
	if err := a.client.getJSON(ctx, endpoint, a.confirmationQuery(sess, "conf"), a.sessionCookies(sess), &out); err != nil {
		return nil, fmt.Errorf("fetch confirmations for %q: %w", a.name, err)
	}
	if out.NeedAuth || !out.Success {
		return nil, fmt.Errorf("fetch confirmations for %q: %s: %w", a.name, out.Message, driven.ErrSessionInvalid)
	}

	confs := make([]model.Confirmation, 0, len(out.Conf))
	for _, c := range out.Conf {
		confs = append(confs, model.Confirmation{
			ID:          c.ID,
			Nonce:       c.Nonce,
			Type:        c.TypeName,
			Description: a.describe(c.Headline, c.Summary),
			Account:     a.name,
			CreatedAt:   time.Unix(c.CreationTime, 0),
		})
	}
	return confs, nil
}

// describe flattens the headline and summary lines into plain text.
func (a *Account) describe(headline string, summary []string) string {
	parts := make([]string, 0, len(summary)+1)
	for _, s := range append([]string{headline}, summary...) {
		s = strings.TrimSpace(html.UnescapeString(a.client.sanitizer.Sanitize(s)))
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " - ")
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RespondToConfirmation accepts or cancels one confirmation.
func (a *Account) RespondToConfirmation(ctx context.Context, conf model.Confirmation, resp model.Response) error {
	sess, err := a.currentSession()
	if err != nil {
		return err
	}

	op := "allow"
	if resp == model.ResponseDeny {
		op = "cancel"
	}

	query := a.confirmationQuery(sess, op)
	query.Set("op", op)
	query.Set("cid", conf.ID)
	query.Set("ck", conf.Nonce)

	var out successResponse
	endpoint := a.client.communityURL + "/mobileconf/ajaxop"
	if err := a.client.getJSON(ctx, endpoint, query, a.sessionCookies(sess), &out); err != nil {
		return fmt.Errorf("%s confirmation %s for %q: %w", op, conf.ID, a.name, err)
	}
	if !out.Success {
		return fmt.Errorf("%s confirmation %s for %q: rejected: %s", op, conf.ID, a.name, out.Message)
	}
	return nil
}

type removeAuthenticatorResponse struct {
	Response struct {
		Success           bool `json:"success"`
		AttemptsRemaining int  `json:"revocation_attempts_remaining"`
	} `json:"response"`
}

// Deactivate removes the authenticator from the Steam account.
func (a *Account) Deactivate(ctx context.Context, scheme model.DeactivationScheme) error {
	if scheme == model.DeactivateNone || !scheme.Valid() {
		return errors.New("deactivate: a removal scheme is required")
	}
	sess, err := a.currentSession()
	if err != nil {
		return err
	}

	form := url.Values{
		"steamid":           {strconv.FormatUint(sess.SteamID, 10)},
		"revocation_code":   {a.file.RevocationCode},
		"revocation_reason": {"1"},
		"steamguard_scheme": {strconv.Itoa(int(scheme))},
	}
	endpoint := a.client.apiURL + "/ITwoFactorService/RemoveAuthenticator/v1/?access_token=" + url.QueryEscape(sess.AccessToken)

	var out removeAuthenticatorResponse
	if err := a.client.postForm(ctx, endpoint, form, &out); err != nil {
		return fmt.Errorf("deactivate %q: %w", a.name, err)
	}
	if !out.Response.Success {
		return fmt.Errorf("deactivate %q: rejected, %d revocation attempts remaining", a.name, out.Response.AttemptsRemaining)
	}
	return nil
}
