package application_test

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ericfisherdev/guardpanel/internal/application"
	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// --- Mock implementations ---

type mockProvider struct {
	name string

	refreshErr    error
	refreshCalls  atomic.Int32
	fetch         func(ctx context.Context) ([]model.Confirmation, error)
	fetchCalls    atomic.Int32
	respondErr    error
	deactivateErr error

	mu          sync.Mutex
	responses   []model.Response
	deactivated []model.DeactivationScheme
	exported    string
}

func newMockProvider(name string) *mockProvider {
	return &mockProvider{name: name, exported: `{"name":"` + name + `"}`}
}

func (m *mockProvider) AccountName() string { return m.name }
func (m *mockProvider) Kind() string        { return "mock" }

// GenerateCode returns a code derived from the window so tests can predict it.
func (m *mockProvider) GenerateCode(t time.Time) (string, error) {
	return fmt.Sprintf("C%d", model.CodeWindow(t)), nil
}

func (m *mockProvider) RefreshSession(context.Context) error {
	m.refreshCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshErr == nil {
		m.exported = `{"name":"` + m.name + `","refreshed":true}`
	}
	return m.refreshErr
}

func (m *mockProvider) setRefreshErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshErr = err
}

func (m *mockProvider) FetchConfirmations(ctx context.Context) ([]model.Confirmation, error) {
	m.fetchCalls.Add(1)
	if m.fetch == nil {
		return nil, nil
	}
	return m.fetch(ctx)
}

func (m *mockProvider) RespondToConfirmation(_ context.Context, _ model.Confirmation, resp model.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m.respondErr
}

func (m *mockProvider) Deactivate(_ context.Context, scheme model.DeactivationScheme) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated = append(m.deactivated, scheme)
	return m.deactivateErr
}

func (m *mockProvider) Export() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []byte(m.exported), nil
}

func confirmationsFor(account string, ids ...string) func(context.Context) ([]model.Confirmation, error) {
	return func(context.Context) ([]model.Confirmation, error) {
		out := make([]model.Confirmation, 0, len(ids))
		for _, id := range ids {
			out = append(out, model.Confirmation{ID: id, Nonce: "n" + id, Account: account, Type: "Trade Offer"})
		}
		return out, nil
	}
}

// mockStore is an in-memory ManifestStore.
type mockStore struct {
	mu        sync.Mutex
	encrypted bool
	passkey   string
	entries   []model.AccountEntry
	settings  model.Settings
	updates   []model.AccountEntry
	removeErr error
}

func newMockStore(names ...string) *mockStore {
	s := &mockStore{settings: model.DefaultSettings()}
	for _, n := range names {
		s.entries = append(s.entries, model.AccountEntry{Name: n, Kind: "mock", Payload: []byte(n)})
	}
	return s
}

func (s *mockStore) names() []string {
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Name)
	}
	return out
}

func (s *mockStore) indexOf(name string) int {
	return slices.IndexFunc(s.entries, func(e model.AccountEntry) bool { return e.Name == name })
}

func (s *mockStore) Load(context.Context) (model.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Manifest{Encrypted: s.encrypted, Names: s.names(), Settings: s.settings}, nil
}

func (s *mockStore) Unlock(_ context.Context, passkey string) ([]model.AccountEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encrypted && passkey != s.passkey {
		return nil, driven.ErrWrongPasskey
	}
	return slices.Clone(s.entries), nil
}

func (s *mockStore) Add(_ context.Context, entry model.AccountEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexOf(entry.Name) >= 0 {
		return driven.ErrDuplicateAccount
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *mockStore) Update(_ context.Context, entry model.AccountEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(entry.Name)
	if i < 0 {
		return driven.ErrAccountNotFound
	}
	s.entries[i] = entry
	s.updates = append(s.updates, entry)
	return nil
}

func (s *mockStore) Remove(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	i := s.indexOf(name)
	if i < 0 {
		return driven.ErrAccountNotFound
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	return nil
}

func (s *mockStore) Move(_ context.Context, from, to int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return false, nil
	}
	e := s.entries[from]
	s.entries = slices.Insert(slices.Delete(s.entries, from, from+1), to, e)
	return true, nil
}

func (s *mockStore) Rekey(_ context.Context, oldPasskey, newPasskey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.encrypted && oldPasskey != s.passkey {
		return driven.ErrWrongPasskey
	}
	s.encrypted = newPasskey != ""
	s.passkey = newPasskey
	return nil
}

func (s *mockStore) SaveSettings(_ context.Context, settings model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings.Normalize()
	return nil
}

func (s *mockStore) ReloadSettings(context.Context) (model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *mockStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

// mockActivity records activity rows in memory.
type mockActivity struct {
	mu   sync.Mutex
	rows []model.Activity
}

func (m *mockActivity) Record(_ context.Context, a model.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, a)
	return nil
}

func (m *mockActivity) ListRecent(_ context.Context, _ string, _ int) ([]model.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rows), nil
}

func (m *mockActivity) actions() []model.ActivityAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ActivityAction, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r.Action)
	}
	return out
}

// mockTimeSource returns server time or an error, counting calls.
type mockTimeSource struct {
	mu     sync.Mutex
	server time.Time
	err    error
	calls  int
	gate   chan struct{}
}

func (m *mockTimeSource) ServerTime(ctx context.Context) (time.Time, error) {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.server, m.err
}

func (m *mockTimeSource) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Helpers ---

// providerSet registers a factory that hands out the given mock providers by name.
func providerSet(providers ...*mockProvider) *application.ProviderRegistry {
	byName := make(map[string]*mockProvider, len(providers))
	for _, p := range providers {
		byName[p.name] = p
	}

	registry := application.NewProviderRegistry()
	registry.Register("mock", driven.ProviderFactoryFunc(func(entry model.AccountEntry, _ driven.Clock) (driven.CredentialProvider, error) {
		p, ok := byName[entry.Name]
		if !ok {
			p = newMockProvider(entry.Name)
		}
		return p, nil
	}))
	return registry
}

// fixedClock is a driven.Clock frozen at one instant.
type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }
