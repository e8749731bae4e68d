package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state", "ledger.yaml"))

	snap, err := store.LoadLedger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)
}

func TestFileStoreSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledger.yaml")
	store := NewFileStore(path)
	ctx := context.Background()

	want := Snapshot{Date: "2026-10-16", Alerted: []string{"160216", "501018"}}
	require.NoError(t, store.SaveLedger(ctx, want))

	got, err := store.LoadLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("date: [unterminated"), 0o644))

	_, err := NewFileStore(path).LoadLedger(context.Background())
	assert.Error(t, err)
}

func TestRedisStoreLoad(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, "test:ledger", time.Hour)

	mock.ExpectGet("test:ledger:date").SetVal("2026-10-16")
	mock.ExpectSMembers("test:ledger:2026-10-16").SetVal([]string{"160216"})

	snap, err := store.LoadLedger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Date: "2026-10-16", Alerted: []string{"160216"}}, snap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreLoadEmpty(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, "test:ledger", time.Hour)

	mock.ExpectGet("test:ledger:date").RedisNil()

	snap, err := store.LoadLedger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreSave(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, "test:ledger", time.Hour)

	mock.ExpectTxPipeline()
	mock.ExpectDel("test:ledger:2026-10-16").SetVal(0)
	mock.ExpectSAdd("test:ledger:2026-10-16", "160216").SetVal(1)
	mock.ExpectExpire("test:ledger:2026-10-16", time.Hour).SetVal(true)
	mock.ExpectSet("test:ledger:date", "2026-10-16", time.Hour).SetVal("OK")
	mock.ExpectTxPipelineExec()

	err := store.SaveLedger(context.Background(), Snapshot{Date: "2026-10-16", Alerted: []string{"160216"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreClaim(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, "test:ledger", time.Hour)

	for _, added := range []int64{1, 0} {
		mock.ExpectTxPipeline()
		mock.ExpectSAdd("test:ledger:2026-10-16", "160216").SetVal(added)
		mock.ExpectExpire("test:ledger:2026-10-16", time.Hour).SetVal(true)
		mock.ExpectSet("test:ledger:date", "2026-10-16", time.Hour).SetVal("OK")
		mock.ExpectTxPipelineExec()
	}

	won, err := store.ClaimAlert(context.Background(), "2026-10-16", "160216")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.ClaimAlert(context.Background(), "2026-10-16", "160216")
	require.NoError(t, err)
	assert.False(t, won, "a present member is not a new claim")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreUnclaim(t *testing.T) {
	client, mock := redismock.NewClientMock()
	store := NewRedisStore(client, "test:ledger", time.Hour)

	mock.ExpectSRem("test:ledger:2026-10-16", "160216").SetVal(1)

	require.NoError(t, store.UnclaimAlert(context.Background(), "2026-10-16", "160216"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileStoreClaimReplacesStaleDay(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "ledger.yaml"))
	ctx := context.Background()
	require.NoError(t, store.SaveLedger(ctx, Snapshot{Date: "2026-10-15", Alerted: []string{"old"}}))

	won, err := store.ClaimAlert(ctx, "2026-10-16", "160216")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.ClaimAlert(ctx, "2026-10-16", "160216")
	require.NoError(t, err)
	assert.False(t, won)

	require.NoError(t, store.UnclaimAlert(ctx, "2026-10-16", "160216"))
	snap, err := store.LoadLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-16", snap.Date)
	assert.Empty(t, snap.Alerted)
}
