package model

import "time"

// Confirmation is one pending remote action awaiting accept or deny. Nonce is
// the proof the provider must echo back when responding.
type Confirmation struct {
	ID          string
	Nonce       string
	Type        string
	Description string
	Account     string
	CreatedAt   time.Time
}

// ConfirmationBatch is the aggregated result of a single poll cycle. It is
// delivered to the notification surface as one event.
type ConfirmationBatch struct {
	ID            string
	Confirmations []Confirmation
	CreatedAt     time.Time
}

// Response is the user's decision on a confirmation.
type Response string

const (
	ResponseAccept Response = "accept"
	ResponseDeny   Response = "deny"
)

// DeactivationScheme selects how a remote authenticator is removed.
type DeactivationScheme int

const (
	// DeactivateNone leaves the remote authenticator untouched.
	DeactivateNone DeactivationScheme = 0
	// DeactivateToEmail falls back to email-delivered codes.
	DeactivateToEmail DeactivationScheme = 1
	// DeactivateRemoveAll removes two-factor protection entirely.
	DeactivateRemoveAll DeactivationScheme = 2
)

// Valid reports whether s is one of the known schemes.
func (s DeactivationScheme) Valid() bool {
	return s >= DeactivateNone && s <= DeactivateRemoveAll
}
