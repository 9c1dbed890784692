package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// AccountService is the single mutual-exclusion boundary around the manifest
// store and the live providers. Periodic tasks only copy a Snapshot under the
// read lock; every mutation takes the write lock and persists before returning.
type AccountService struct {
	store    driven.ManifestStore
	registry *ProviderRegistry
	clock    driven.Clock
	activity driven.ActivityStore

	mu        sync.RWMutex
	manifest  model.Manifest
	unlocked  bool
	providers map[string]driven.CredentialProvider

	subsMu sync.Mutex
	subs   []func(names []string)
}

// NewAccountService creates an AccountService. activity may be nil.
func NewAccountService(
	store driven.ManifestStore,
	registry *ProviderRegistry,
	clock driven.Clock,
	activity driven.ActivityStore,
) *AccountService {
	return &AccountService{
		store:     store,
		registry:  registry,
		clock:     clock,
		activity:  activity,
		providers: make(map[string]driven.CredentialProvider),
	}
}

// OnNamesChanged registers fn to receive the ordered account names after
// every change. fn runs outside the lock.
func (s *AccountService) OnNamesChanged(fn func(names []string)) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *AccountService) notify(names []string) {
	s.subsMu.Lock()
	subs := slices.Clone(s.subs)
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(slices.Clone(names))
	}
}

// Open loads the manifest and unlocks it when possible. An encrypted
// manifest with no passkey stays locked until Unlock is called. A wrong
// passkey also leaves it locked and returns ErrWrongPasskey; the names are
// published either way.
func (s *AccountService) Open(ctx context.Context, passkey string) error {
	m, err := s.store.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.manifest = m
	s.unlocked = false
	s.providers = make(map[string]driven.CredentialProvider)
	s.mu.Unlock()

	if m.Encrypted && passkey == "" {
		slog.Info("manifest is encrypted, waiting for passkey", "accounts", len(m.Names))
		s.notify(m.Names)
		return nil
	}
	if err := s.Unlock(ctx, passkey); err != nil {
		s.notify(m.Names)
		return err
	}
	return nil
}

// Unlock decrypts every entry and builds its provider. Entries whose payload
// cannot be parsed are logged and left without a provider.
func (s *AccountService) Unlock(ctx context.Context, passkey string) error {
	s.mu.Lock()
	entries, err := s.store.Unlock(ctx, passkey)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	providers := make(map[string]driven.CredentialProvider, len(entries))
	for _, entry := range entries {
		p, err := s.registry.Build(entry, s.clock)
		if err != nil {
			slog.Error("account could not be loaded", "account", entry.Name, "kind", entry.Kind, "error", err)
			continue
		}
		providers[entry.Name] = p
	}
	s.providers = providers
	s.unlocked = true
	names := slices.Clone(s.manifest.Names)
	s.mu.Unlock()

	slog.Info("manifest unlocked", "accounts", len(names), "loaded", len(providers))
	s.notify(names)
	return nil
}

// Locked reports whether entries are still sealed.
func (s *AccountService) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.unlocked
}

// Manifest returns the current names, encryption flag and settings.
func (s *AccountService) Manifest() model.Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.manifest
	m.Names = slices.Clone(m.Names)
	return m
}

// Settings returns the current settings.
func (s *AccountService) Settings() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest.Settings
}

// Snapshot copies the providers in manifest order. Callers may use the
// result without holding any lock.
func (s *AccountService) Snapshot() []driven.CredentialProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]driven.CredentialProvider, 0, len(s.providers))
	for _, name := range s.manifest.Names {
		if p, ok := s.providers[name]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Provider returns the live provider for name.
func (s *AccountService) Provider(name string) (driven.CredentialProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.unlocked {
		return nil, driven.ErrLocked
	}
	p, ok := s.providers[name]
	if !ok {
		return nil, fmt.Errorf("account %q: %w", name, driven.ErrAccountNotFound)
	}
	return p, nil
}

// Add imports a new account. The payload is validated by building its
// provider before anything is written.
func (s *AccountService) Add(ctx context.Context, entry model.AccountEntry) error {
	entry.Name = strings.TrimSpace(entry.Name)
	if entry.Name == "" {
		return errors.New("account name is required")
	}

	s.mu.Lock()
	if !s.unlocked {
		s.mu.Unlock()
		return driven.ErrLocked
	}
	p, err := s.registry.Build(entry, s.clock)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.store.Add(ctx, entry); err != nil {
		s.mu.Unlock()
		return err
	}
	s.providers[entry.Name] = p
	s.manifest.Names = append(s.manifest.Names, entry.Name)
	names := slices.Clone(s.manifest.Names)
	s.mu.Unlock()

	slog.Info("account added", "account", entry.Name, "kind", entry.Kind)
	recordActivity(ctx, s.activity, model.Activity{Account: entry.Name, Action: model.ActivityAdded, Detail: entry.Kind, Success: true})
	s.notify(names)
	return nil
}

// VerifyDeactivation checks that entered matches the account's current code,
// ignoring case. Callers use it to confirm intent before a remote deactivation.
func (s *AccountService) VerifyDeactivation(name, entered string) error {
	p, err := s.Provider(name)
	if err != nil {
		return err
	}
	code, err := p.GenerateCode(s.clock.Now())
	if err != nil {
		return err
	}
	if !strings.EqualFold(strings.TrimSpace(entered), code) {
		return driven.ErrCodeMismatch
	}
	return nil
}

// Remove deletes name from the manifest. With a scheme other than
// DeactivateNone the remote authenticator is removed first, and the local
// entry is kept if that fails. A plain removal needs no provider, so it works
// while locked and for entries that could not be loaded.
func (s *AccountService) Remove(ctx context.Context, name string, scheme model.DeactivationScheme) error {
	if !scheme.Valid() {
		return fmt.Errorf("unknown deactivation scheme %d", scheme)
	}

	// The remote call runs without the lock so the ticks keep going.
	if scheme != model.DeactivateNone {
		p, err := s.Provider(name)
		if err != nil {
			return err
		}
		err = p.Deactivate(ctx, scheme)
		recordActivity(ctx, s.activity, model.Activity{
			Account: name,
			Action:  model.ActivityDeactivated,
			Detail:  fmt.Sprintf("scheme %d", scheme),
			Success: err == nil,
		})
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	if err := s.store.Remove(ctx, name); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.providers, name)
	s.manifest.Names = slices.DeleteFunc(s.manifest.Names, func(n string) bool { return n == name })
	names := slices.Clone(s.manifest.Names)
	s.mu.Unlock()

	slog.Info("account removed", "account", name, "deactivated", scheme != model.DeactivateNone)
	recordActivity(ctx, s.activity, model.Activity{Account: name, Action: model.ActivityRemoved, Success: true})
	s.notify(names)
	return nil
}

// Move relocates the account at index from to index to. Out-of-range indices
// are a no-op and report false.
func (s *AccountService) Move(ctx context.Context, from, to int) (bool, error) {
	s.mu.Lock()
	moved, err := s.store.Move(ctx, from, to)
	if err != nil || !moved {
		s.mu.Unlock()
		return false, err
	}
	name := s.manifest.Names[from]
	s.manifest.Names = slices.Insert(slices.Delete(s.manifest.Names, from, from+1), to, name)
	names := slices.Clone(s.manifest.Names)
	s.mu.Unlock()

	s.notify(names)
	return true, nil
}

// IndexOf returns the manifest position of name, or -1.
func (s *AccountService) IndexOf(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Index(s.manifest.Names, name)
}

// ChangePasskey re-encrypts the manifest. newPasskey and confirm must match;
// an empty newPasskey removes encryption.
func (s *AccountService) ChangePasskey(ctx context.Context, oldPasskey, newPasskey, confirm string) error {
	if newPasskey != confirm {
		return driven.ErrPasskeyMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Rekey(ctx, oldPasskey, newPasskey); err != nil {
		return err
	}
	s.manifest.Encrypted = newPasskey != ""
	slog.Info("manifest passkey changed", "encrypted", s.manifest.Encrypted)
	return nil
}

// SaveSession writes the provider's current credential document back to the
// manifest, typically after a session refresh.
func (s *AccountService) SaveSession(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.providers[name]
	if !ok {
		return fmt.Errorf("save session for %q: %w", name, driven.ErrAccountNotFound)
	}
	payload, err := p.Export()
	if err != nil {
		return fmt.Errorf("export %q: %w", name, err)
	}
	return s.store.Update(ctx, model.AccountEntry{Name: name, Kind: p.Kind(), Payload: payload})
}

// UpdateSettings persists settings and returns the normalized values.
func (s *AccountService) UpdateSettings(ctx context.Context, settings model.Settings) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings = settings.Normalize()
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return model.Settings{}, err
	}
	s.manifest.Settings = settings
	return settings, nil
}

// ReloadSettings re-reads only the settings section from storage.
func (s *AccountService) ReloadSettings(ctx context.Context) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.store.ReloadSettings(ctx)
	if err != nil {
		return model.Settings{}, err
	}
	s.manifest.Settings = settings
	return settings, nil
}

// MarkFirstRunDone clears the first-run flag once the application has started.
func (s *AccountService) MarkFirstRunDone(ctx context.Context) error {
	settings := s.Settings()
	if !settings.FirstRun {
		return nil
	}
	settings.FirstRun = false
	_, err := s.UpdateSettings(ctx, settings)
	return err
}

// recordActivity appends to the audit trail. Failures are logged and never
// returned, so the log cannot block account operations.
func recordActivity(ctx context.Context, store driven.ActivityStore, a model.Activity) {
	if store == nil {
		return
	}
	if err := store.Record(ctx, a); err != nil {
		slog.Warn("record activity failed", "account", a.Account, "action", a.Action, "error", err)
	}
}
