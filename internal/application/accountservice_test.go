package application_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/guardpanel/internal/application"
	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

var testNow = time.Unix(1700000000, 0)

func newAccountService(t *testing.T, store *mockStore, providers ...*mockProvider) (*application.AccountService, *mockActivity) {
	t.Helper()
	activity := &mockActivity{}
	svc := application.NewAccountService(store, providerSet(providers...), fixedClock(testNow), activity)
	return svc, activity
}

func snapshotNames(svc *application.AccountService) []string {
	var names []string
	for _, p := range svc.Snapshot() {
		names = append(names, p.AccountName())
	}
	return names
}

func TestAccountService_OpenPlaintext(t *testing.T) {
	svc, _ := newAccountService(t, newMockStore("alice", "bob"))

	var notified []string
	svc.OnNamesChanged(func(names []string) { notified = names })

	require.NoError(t, svc.Open(context.Background(), ""))
	assert.False(t, svc.Locked())
	assert.Equal(t, []string{"alice", "bob"}, snapshotNames(svc))
	assert.Equal(t, []string{"alice", "bob"}, notified)
}

func TestAccountService_OpenEncryptedWaitsForPasskey(t *testing.T) {
	store := newMockStore("alice")
	store.encrypted, store.passkey = true, "hunter2"
	svc, _ := newAccountService(t, store)
	ctx := context.Background()

	require.NoError(t, svc.Open(ctx, ""))
	assert.True(t, svc.Locked())
	assert.Empty(t, svc.Snapshot())
	assert.Equal(t, []string{"alice"}, svc.Manifest().Names)

	_, err := svc.Provider("alice")
	assert.ErrorIs(t, err, driven.ErrLocked)

	err = svc.Unlock(ctx, "wrong")
	assert.ErrorIs(t, err, driven.ErrWrongPasskey)
	assert.True(t, svc.Locked())

	require.NoError(t, svc.Unlock(ctx, "hunter2"))
	assert.False(t, svc.Locked())
	assert.Equal(t, []string{"alice"}, snapshotNames(svc))
}

func TestAccountService_OpenWrongPasskeyStaysLocked(t *testing.T) {
	store := newMockStore("alice", "bob")
	store.encrypted, store.passkey = true, "hunter2"
	svc, _ := newAccountService(t, store)
	ctx := context.Background()

	var notified []string
	svc.OnNamesChanged(func(names []string) { notified = names })

	err := svc.Open(ctx, "wrong")
	assert.ErrorIs(t, err, driven.ErrWrongPasskey)
	assert.True(t, svc.Locked())
	assert.Equal(t, []string{"alice", "bob"}, notified)

	require.NoError(t, svc.Unlock(ctx, "hunter2"))
	assert.Equal(t, []string{"alice", "bob"}, snapshotNames(svc))
}

func TestAccountService_Add(t *testing.T) {
	svc, activity := newAccountService(t, newMockStore("alice"))
	ctx := context.Background()
	require.NoError(t, svc.Open(ctx, ""))

	require.NoError(t, svc.Add(ctx, model.AccountEntry{Name: " bob ", Kind: "mock"}))
	assert.Equal(t, []string{"alice", "bob"}, snapshotNames(svc))

	err := svc.Add(ctx, model.AccountEntry{Name: "bob", Kind: "mock"})
	assert.ErrorIs(t, err, driven.ErrDuplicateAccount)

	err = svc.Add(ctx, model.AccountEntry{Name: "carol", Kind: "nope"})
	assert.ErrorIs(t, err, driven.ErrUnknownKind)

	assert.Equal(t, []model.ActivityAction{model.ActivityAdded}, activity.actions())
}

func TestAccountService_AddWhileLocked(t *testing.T) {
	store := newMockStore()
	store.encrypted, store.passkey = true, "k"
	svc, _ := newAccountService(t, store)
	require.NoError(t, svc.Open(context.Background(), ""))

	err := svc.Add(context.Background(), model.AccountEntry{Name: "bob", Kind: "mock"})
	assert.ErrorIs(t, err, driven.ErrLocked)
}

func TestAccountService_RemoveWithDeactivation(t *testing.T) {
	alice := newMockProvider("alice")
	alice.deactivateErr = errors.New("revocation code rejected")
	bob := newMockProvider("bob")
	store := newMockStore("alice", "bob")
	svc, activity := newAccountService(t, store, alice, bob)
	ctx := context.Background()
	require.NoError(t, svc.Open(ctx, ""))

	err := svc.Remove(ctx, "alice", model.DeactivateToEmail)
	require.Error(t, err)
	assert.Equal(t, []string{"alice", "bob"}, snapshotNames(svc), "failed deactivation keeps the entry")

	require.NoError(t, svc.Remove(ctx, "bob", model.DeactivateRemoveAll))
	assert.Equal(t, []model.DeactivationScheme{model.DeactivateRemoveAll}, bob.deactivated)
	assert.Equal(t, []string{"alice"}, snapshotNames(svc))

	require.NoError(t, svc.Remove(ctx, "alice", model.DeactivateNone))
	assert.Empty(t, svc.Snapshot())
	assert.Len(t, alice.deactivated, 1, "no remote call without a scheme")

	assert.Equal(t, []model.ActivityAction{
		model.ActivityDeactivated,
		model.ActivityDeactivated,
		model.ActivityRemoved,
		model.ActivityRemoved,
	}, activity.actions())

	assert.ErrorIs(t, svc.Remove(ctx, "ghost", model.DeactivateNone), driven.ErrAccountNotFound)
	assert.Error(t, svc.Remove(ctx, "ghost", model.DeactivationScheme(9)))
}

func TestAccountService_RemoveWithoutProvider(t *testing.T) {
	registry := application.NewProviderRegistry()
	registry.Register("mock", driven.ProviderFactoryFunc(func(entry model.AccountEntry, _ driven.Clock) (driven.CredentialProvider, error) {
		if entry.Name == "broken" {
			return nil, errors.New("malformed payload")
		}
		return newMockProvider(entry.Name), nil
	}))
	store := newMockStore("good", "broken")
	svc := application.NewAccountService(store, registry, fixedClock(testNow), nil)
	ctx := context.Background()
	require.NoError(t, svc.Open(ctx, ""))
	require.Equal(t, []string{"good"}, snapshotNames(svc))

	err := svc.Remove(ctx, "broken", model.DeactivateToEmail)
	assert.ErrorIs(t, err, driven.ErrAccountNotFound, "remote deactivation needs a provider")

	require.NoError(t, svc.Remove(ctx, "broken", model.DeactivateNone))
	assert.Equal(t, []string{"good"}, svc.Manifest().Names)
	assert.Equal(t, []string{"good"}, store.names())
}

func TestAccountService_RemoveWhileLocked(t *testing.T) {
	store := newMockStore("alice", "bob")
	store.encrypted, store.passkey = true, "k"
	svc, _ := newAccountService(t, store)
	ctx := context.Background()
	require.NoError(t, svc.Open(ctx, ""))

	assert.ErrorIs(t, svc.Remove(ctx, "alice", model.DeactivateRemoveAll), driven.ErrLocked)

	require.NoError(t, svc.Remove(ctx, "alice", model.DeactivateNone))
	assert.True(t, svc.Locked())
	assert.Equal(t, []string{"bob"}, svc.Manifest().Names)
}

func TestAccountService_VerifyDeactivation(t *testing.T) {
	svc, _ := newAccountService(t, newMockStore("alice"))
	require.NoError(t, svc.Open(context.Background(), ""))

	code, err := newMockProvider("alice").GenerateCode(testNow)
	require.NoError(t, err)

	assert.NoError(t, svc.VerifyDeactivation("alice", code))
	assert.NoError(t, svc.VerifyDeactivation("alice", " "+strings.ToLower(code)+" "))
	assert.ErrorIs(t, svc.VerifyDeactivation("alice", "XXXXX"), driven.ErrCodeMismatch)
	assert.ErrorIs(t, svc.VerifyDeactivation("ghost", code), driven.ErrAccountNotFound)
}

func TestAccountService_Move(t *testing.T) {
	svc, _ := newAccountService(t, newMockStore("a", "b", "c"))
	ctx := context.Background()
	require.NoError(t, svc.Open(ctx, ""))

	moved, err := svc.Move(ctx, 2, 0)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"c", "a", "b"}, snapshotNames(svc))
	assert.Equal(t, 0, svc.IndexOf("c"))

	moved, err = svc.Move(ctx, 0, 3)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, []string{"c", "a", "b"}, snapshotNames(svc))
}

func TestAccountService_ChangePasskey(t *testing.T) {
	store := newMockStore("alice")
	svc, _ := newAccountService(t, store)
	ctx := context.Background()
	require.NoError(t, svc.Open(ctx, ""))

	err := svc.ChangePasskey(ctx, "", "new", "typo")
	assert.ErrorIs(t, err, driven.ErrPasskeyMismatch)
	assert.False(t, svc.Manifest().Encrypted)

	require.NoError(t, svc.ChangePasskey(ctx, "", "new", "new"))
	assert.True(t, svc.Manifest().Encrypted)

	err = svc.ChangePasskey(ctx, "old", "newer", "newer")
	assert.ErrorIs(t, err, driven.ErrWrongPasskey)
	assert.True(t, svc.Manifest().Encrypted)

	require.NoError(t, svc.ChangePasskey(ctx, "new", "", ""))
	assert.False(t, svc.Manifest().Encrypted)
}

func TestAccountService_SaveSession(t *testing.T) {
	alice := newMockProvider("alice")
	store := newMockStore("alice")
	svc, _ := newAccountService(t, store, alice)
	ctx := context.Background()
	require.NoError(t, svc.Open(ctx, ""))

	require.NoError(t, alice.RefreshSession(ctx))
	require.NoError(t, svc.SaveSession(ctx, "alice"))

	require.Len(t, store.updates, 1)
	assert.Equal(t, "mock", store.updates[0].Kind)
	assert.Contains(t, string(store.updates[0].Payload), `"refreshed":true`)

	assert.ErrorIs(t, svc.SaveSession(ctx, "ghost"), driven.ErrAccountNotFound)
}

func TestAccountService_Settings(t *testing.T) {
	store := newMockStore("alice")
	svc, _ := newAccountService(t, store)
	ctx := context.Background()
	require.NoError(t, svc.Open(ctx, ""))
	assert.True(t, svc.Settings().FirstRun)

	require.NoError(t, svc.MarkFirstRunDone(ctx))
	assert.False(t, svc.Settings().FirstRun)
	assert.False(t, store.settings.FirstRun)

	saved, err := svc.UpdateSettings(ctx, model.Settings{PeriodicChecking: true, PeriodicCheckingInterval: -1})
	require.NoError(t, err)
	assert.Equal(t, model.DefaultCheckingInterval, saved.PeriodicCheckingInterval)
	assert.Equal(t, model.DefaultLanguage, saved.Language)

	store.mu.Lock()
	store.settings.CheckAllAccounts = true
	store.mu.Unlock()

	reloaded, err := svc.ReloadSettings(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded.CheckAllAccounts)
	assert.True(t, svc.Settings().CheckAllAccounts)
}
