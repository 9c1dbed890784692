package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
)

// Clock supplies the process-wide aligned time. Providers that sign requests
// read it instead of the local wall clock.
type Clock interface {
	Now() time.Time
}

// CredentialProvider is the driven port for one account's authentication,
// session and confirmation protocol. Implementations own their in-memory
// session state; Export serializes it back for the manifest store.
type CredentialProvider interface {
	AccountName() string
	Kind() string

	// GenerateCode derives the one-time code for the window containing t.
	GenerateCode(t time.Time) (string, error)

	// RefreshSession renews the remote session. Returns ErrSessionInvalid
	// when the stored credentials can no longer be used.
	RefreshSession(ctx context.Context) error

	// FetchConfirmations lists the pending confirmations for this account.
	FetchConfirmations(ctx context.Context) ([]model.Confirmation, error)

	// RespondToConfirmation accepts or denies conf, using conf.Nonce as proof.
	RespondToConfirmation(ctx context.Context, conf model.Confirmation, resp model.Response) error

	// Deactivate removes the remote authenticator using the given scheme.
	Deactivate(ctx context.Context, scheme model.DeactivationScheme) error

	// Export returns the current credential payload including session tokens.
	Export() ([]byte, error)
}

// CodePeriodProvider is implemented by providers whose codes do not roll
// over every model.CodePeriod.
type CodePeriodProvider interface {
	CodePeriod() time.Duration
}

// ProviderFactory builds a CredentialProvider from a decrypted entry.
type ProviderFactory interface {
	NewProvider(entry model.AccountEntry, clock Clock) (CredentialProvider, error)
}

// ProviderFactoryFunc adapts a function to ProviderFactory.
type ProviderFactoryFunc func(entry model.AccountEntry, clock Clock) (CredentialProvider, error)

// NewProvider calls f.
func (f ProviderFactoryFunc) NewProvider(entry model.AccountEntry, clock Clock) (CredentialProvider, error) {
	return f(entry, clock)
}
