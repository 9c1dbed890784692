package driven

import (
	"context"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
)

// ManifestStore defines the driven port for the durable, ordered and
// optionally encrypted account manifest. Every mutating method persists
// before returning.
type ManifestStore interface {
	// Load reads the persisted manifest. Returns ErrCorruptManifest when the
	// file exists but cannot be used. Entry payloads stay sealed.
	Load(ctx context.Context) (model.Manifest, error)

	// Unlock decrypts every entry or none. Returns ErrWrongPasskey when the
	// passkey fails verification. The passkey is ignored for plaintext manifests.
	Unlock(ctx context.Context, passkey string) ([]model.AccountEntry, error)

	// Add appends entry. Returns ErrDuplicateAccount if the name exists.
	Add(ctx context.Context, entry model.AccountEntry) error

	// Update replaces the payload of an existing entry.
	Update(ctx context.Context, entry model.AccountEntry) error

	// Remove deletes the named entry. Returns ErrAccountNotFound if absent.
	Remove(ctx context.Context, name string) error

	// Move relocates the entry at index from to index to. Out-of-range
	// indices are a no-op and report false.
	Move(ctx context.Context, from, to int) (bool, error)

	// Rekey re-encrypts every entry under newPasskey, or decrypts them all
	// when newPasskey is empty. Either every entry changes or none does.
	Rekey(ctx context.Context, oldPasskey, newPasskey string) error

	// SaveSettings persists the settings section.
	SaveSettings(ctx context.Context, settings model.Settings) error

	// ReloadSettings re-reads only the settings section from durable storage,
	// leaving the in-memory entries untouched.
	ReloadSettings(ctx context.Context) (model.Settings, error)
}
