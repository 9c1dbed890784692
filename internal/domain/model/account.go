// Package model holds the domain types shared by adapters and services.
package model

import "time"

// Account kinds understood by the provider registry.
const (
	KindSteam = "steam"
	KindTOTP  = "totp"
)

// AccountEntry is one authenticator identity held in the manifest. Name is
// the unique key, Kind selects the credential provider variant, and Payload
// is the provider-owned credential document in plaintext.
type AccountEntry struct {
	Name    string
	Kind    string
	Payload []byte
}

// AccountStatus is the per-account failure state tracked while the process runs.
type AccountStatus struct {
	Account       string
	SessionValid  bool
	LastError     string
	LastErrorAt   time.Time
	LastRefreshAt time.Time
}
