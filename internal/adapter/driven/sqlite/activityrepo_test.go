package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/guardpanel/internal/domain/model"
)

func TestActivityRepo_RecordAndListNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewActivityRepo(db)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Record(ctx, model.Activity{Account: "alice", Action: model.ActivityAdded, Success: true, CreatedAt: base}))
	require.NoError(t, repo.Record(ctx, model.Activity{Account: "bob", Action: model.ActivityAdded, Success: true, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, repo.Record(ctx, model.Activity{
		Account:   "alice",
		Action:    model.ActivityAccepted,
		Subject:   "11",
		Detail:    "Trade Offer",
		Success:   false,
		CreatedAt: base.Add(2 * time.Minute),
	}))

	all, err := repo.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, model.ActivityAccepted, all[0].Action)
	assert.Equal(t, "11", all[0].Subject)
	assert.Equal(t, "Trade Offer", all[0].Detail)
	assert.False(t, all[0].Success)
	assert.True(t, all[0].CreatedAt.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, "bob", all[1].Account)
	assert.NotZero(t, all[2].ID)
}

func TestActivityRepo_ListFiltersByAccount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewActivityRepo(db)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "alice"} {
		require.NoError(t, repo.Record(ctx, model.Activity{Account: name, Action: model.ActivitySessionRefresh, Success: true}))
	}

	rows, err := repo.ListRecent(ctx, "alice", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "alice", r.Account)
	}

	none, err := repo.ListRecent(ctx, "carol", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestActivityRepo_ListHonorsLimit(t *testing.T) {
	db := setupTestDB(t)
	repo := NewActivityRepo(db)
	ctx := context.Background()

	for range 5 {
		require.NoError(t, repo.Record(ctx, model.Activity{Account: "alice", Action: model.ActivityDenied}))
	}

	rows, err := repo.ListRecent(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = repo.ListRecent(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestOpen_CreatesFileAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "guardpanel.db")

	db, err := Open(context.Background(), path)
	require.NoError(t, err)

	repo := NewActivityRepo(db)
	require.NoError(t, repo.Record(context.Background(), model.Activity{Account: "alice", Action: model.ActivityRemoved}))
	require.NoError(t, db.Close())

	reopened, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	rows, err := NewActivityRepo(reopened).ListRecent(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
