// Package driven defines secondary port interfaces for external adapters.
package driven

import "errors"

// Sentinel errors shared by adapters and the application layer. Adapters wrap
// them with context; callers match with errors.Is.
var (
	// ErrSessionInvalid marks an invalid or expired remote session. It is
	// always scoped to one account and never aborts a multi-account batch.
	ErrSessionInvalid = errors.New("session invalid or expired")

	// ErrNotSupported is returned by provider variants lacking an operation.
	ErrNotSupported = errors.New("operation not supported by this account kind")

	// ErrWrongPasskey is returned when a passkey fails the manifest check value.
	ErrWrongPasskey = errors.New("wrong passkey")

	// ErrPasskeyMismatch is returned when a new passkey and its confirmation differ.
	ErrPasskeyMismatch = errors.New("passkeys do not match")

	// ErrLocked is returned when an encrypted manifest is written before unlock.
	ErrLocked = errors.New("manifest is locked")

	// ErrCorruptManifest is returned when the manifest file cannot be parsed
	// or violates its invariants. It is fatal to startup.
	ErrCorruptManifest = errors.New("manifest file is corrupt")

	// ErrAccountNotFound is returned for names absent from the manifest.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateAccount is returned when adding a name that already exists.
	ErrDuplicateAccount = errors.New("account already exists")

	// ErrCodeMismatch is returned when a typed confirmation code is wrong.
	ErrCodeMismatch = errors.New("confirmation code does not match")

	// ErrConfirmationNotFound is returned when responding to a confirmation
	// that is not part of the pending batch.
	ErrConfirmationNotFound = errors.New("confirmation not found")

	// ErrUnknownKind is returned for account kinds with no registered factory.
	ErrUnknownKind = errors.New("unknown account kind")
)
