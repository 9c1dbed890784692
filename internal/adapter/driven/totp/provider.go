// Package totp implements a generic RFC 6238 credential provider. It has no
// remote session or confirmation surface.
package totp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.CredentialProvider = (*Provider)(nil)
	_ driven.CodePeriodProvider = (*Provider)(nil)
)

type payload struct {
	URI string `json:"uri"`
}

// Provider generates codes from an otpauth:// key URI.
type Provider struct {
	name    string
	raw     []byte
	secret  string
	options totp.ValidateOpts
}

// Factory is a driven.ProviderFactory for KindTOTP entries.
var Factory = driven.ProviderFactoryFunc(func(entry model.AccountEntry, _ driven.Clock) (driven.CredentialProvider, error) {
	return New(entry)
})

// New parses entry.Payload, a JSON document holding the key URI.
func New(entry model.AccountEntry) (*Provider, error) {
	var p payload
	if err := json.Unmarshal(entry.Payload, &p); err != nil {
		return nil, fmt.Errorf("parse totp account %q: %w", entry.Name, err)
	}

	key, err := otp.NewKeyFromURL(p.URI)
	if err != nil {
		return nil, fmt.Errorf("parse totp account %q: %w", entry.Name, err)
	}
	if key.Type() != "totp" || key.Secret() == "" {
		return nil, fmt.Errorf("totp account %q: not a totp key uri", entry.Name)
	}

	period := uint(key.Period())
	if period == 0 {
		period = 30
	}

	return &Provider{
		name:   entry.Name,
		raw:    append([]byte(nil), entry.Payload...),
		secret: key.Secret(),
		options: totp.ValidateOpts{
			Period:    period,
			Digits:    key.Digits(),
			Algorithm: key.Algorithm(),
		},
	}, nil
}

// AccountName returns the manifest name of the account.
func (p *Provider) AccountName() string { return p.name }

// Kind returns model.KindTOTP.
func (p *Provider) Kind() string { return model.KindTOTP }

// CodePeriod returns the key's period, 30 seconds unless the URI says otherwise.
func (p *Provider) CodePeriod() time.Duration {
	return time.Duration(p.options.Period) * time.Second
}

// GenerateCode returns the code for the key's own period containing t.
func (p *Provider) GenerateCode(t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(p.secret, t, p.options)
	if err != nil {
		return "", fmt.Errorf("generate totp code for %q: %w", p.name, err)
	}
	return code, nil
}

// RefreshSession is a no-op: there is no remote session to renew.
func (p *Provider) RefreshSession(context.Context) error { return nil }

// FetchConfirmations always returns an empty list.
func (p *Provider) FetchConfirmations(context.Context) ([]model.Confirmation, error) {
	return nil, nil
}

// RespondToConfirmation returns ErrNotSupported.
func (p *Provider) RespondToConfirmation(context.Context, model.Confirmation, model.Response) error {
	return fmt.Errorf("respond for %q: %w", p.name, driven.ErrNotSupported)
}

// Deactivate returns ErrNotSupported; removing a TOTP key is purely local.
func (p *Provider) Deactivate(context.Context, model.DeactivationScheme) error {
	return fmt.Errorf("deactivate %q: %w", p.name, driven.ErrNotSupported)
}

// Export returns the payload exactly as it was imported.
func (p *Provider) Export() ([]byte, error) {
	return append([]byte(nil), p.raw...), nil
}
