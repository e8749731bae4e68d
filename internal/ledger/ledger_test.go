package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memStore struct {
	snap    Snapshot
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) LoadLedger(ctx context.Context) (Snapshot, error) {
	return m.snap, m.loadErr
}

func (m *memStore) SaveLedger(ctx context.Context, snap Snapshot) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snap = snap
	return nil
}

func newTestLedger(store Store) (*Ledger, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)}
	l := New(Options{Location: time.UTC, Now: clock.Now}, store, zerolog.Nop())
	return l, clock
}

func TestMarkThenAlertedForRestOfDay(t *testing.T) {
	l, clock := newTestLedger(nil)
	ctx := context.Background()

	assert.False(t, l.IsAlerted("160216"))
	assert.True(t, l.MarkAlerted(ctx, "160216"))
	assert.True(t, l.IsAlerted("160216"))

	clock.Advance(14 * time.Hour)
	assert.True(t, l.IsAlerted("160216"))
	assert.False(t, l.MarkAlerted(ctx, "160216"), "second mark must not insert again")
	assert.Equal(t, []string{"160216"}, l.Snapshot().Alerted)
}

func TestRolloverClearsAlerted(t *testing.T) {
	l, clock := newTestLedger(nil)
	l.MarkAlerted(context.Background(), "501018")

	clock.Advance(15 * time.Hour)
	assert.False(t, l.IsAlerted("501018"))
	assert.Equal(t, "2026-10-17", l.Snapshot().Date)
	assert.Empty(t, l.Snapshot().Alerted)
}

func TestReconcileIdempotent(t *testing.T) {
	l, _ := newTestLedger(nil)
	next := time.Date(2026, 10, 17, 0, 0, 1, 0, time.UTC)

	assert.True(t, l.Reconcile(next))
	assert.False(t, l.Reconcile(next))
	assert.False(t, l.Reconcile(next.Add(time.Hour)))
}

func TestReconcileUsesLocation(t *testing.T) {
	shanghai := time.FixedZone("CST", 8*3600)
	clock := &fakeClock{now: time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)}
	l := New(Options{Location: shanghai, Now: clock.Now}, nil, zerolog.Nop())

	assert.Equal(t, "2026-10-16", l.Snapshot().Date)
	clock.Advance(time.Hour)
	assert.Equal(t, "2026-10-17", l.Snapshot().Date, "16:00 UTC is midnight in UTC+8")
}

func TestClaimLifecycle(t *testing.T) {
	l, _ := newTestLedger(nil)
	ctx := context.Background()

	claim, err := l.Acquire(ctx, "161725")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "161725")
	assert.ErrorIs(t, err, ErrClaimed)

	claim.Release(ctx)
	assert.False(t, l.IsAlerted("161725"))

	claim, err = l.Acquire(ctx, "161725")
	require.NoError(t, err)
	assert.True(t, claim.Commit(ctx))
	assert.True(t, l.IsAlerted("161725"))

	claim.Release(ctx)
	assert.True(t, l.IsAlerted("161725"), "release after commit is a no-op")

	_, err = l.Acquire(ctx, "161725")
	assert.ErrorIs(t, err, ErrAlerted)
}

func TestClaimCommitAfterRolloverIsDropped(t *testing.T) {
	l, clock := newTestLedger(nil)
	ctx := context.Background()

	claim, err := l.Acquire(ctx, "160723")
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	assert.False(t, claim.Commit(ctx))
	assert.False(t, l.IsAlerted("160723"))
}

func TestAcquireConcurrentSingleWinner(t *testing.T) {
	l, _ := newTestLedger(nil)
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := l.Acquire(ctx, "164906")
			if err != nil {
				return
			}
			winners.Add(1)
			claim.Commit(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	assert.True(t, l.IsAlerted("164906"))
}

func TestLoadRestoresToday(t *testing.T) {
	store := &memStore{snap: Snapshot{Date: "2026-10-16", Alerted: []string{"a", "b"}}}
	l, _ := newTestLedger(store)

	l.Load(context.Background())
	assert.True(t, l.IsAlerted("a"))
	assert.True(t, l.IsAlerted("b"))
}

func TestLoadStaleOrBrokenStartsEmpty(t *testing.T) {
	stale := &memStore{snap: Snapshot{Date: "2026-10-15", Alerted: []string{"a"}}}
	l, _ := newTestLedger(stale)
	l.Load(context.Background())
	assert.False(t, l.IsAlerted("a"))

	broken := &memStore{loadErr: errors.New("corrupt")}
	l, _ = newTestLedger(broken)
	l.Load(context.Background())
	assert.False(t, l.IsAlerted("a"))
	assert.Equal(t, "2026-10-16", l.Snapshot().Date)
}

func TestSaveFailureDegradesToMemory(t *testing.T) {
	store := &memStore{saveErr: errors.New("disk full")}
	l, _ := newTestLedger(store)
	ctx := context.Background()

	assert.True(t, l.MarkAlerted(ctx, "a"))
	assert.False(t, l.Persistent())
	assert.True(t, l.IsAlerted("a"))

	l.MarkAlerted(ctx, "b")
	assert.Equal(t, 1, store.saves, "no further writes once degraded")
}

func TestResetPersists(t *testing.T) {
	store := &memStore{}
	l, _ := newTestLedger(store)
	ctx := context.Background()

	l.MarkAlerted(ctx, "a")
	require.Equal(t, []string{"a"}, store.snap.Alerted)

	l.Reset(ctx)
	assert.False(t, l.IsAlerted("a"))
	assert.Empty(t, store.snap.Alerted)
	assert.Equal(t, "2026-10-16", store.snap.Date)
}

func TestSharedStoreReplicasAlertOnce(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "ledger.yaml"))
	a, _ := newTestLedger(store)
	b, _ := newTestLedger(store)
	ctx := context.Background()
	a.Load(ctx)
	b.Load(ctx)

	claim, err := a.Acquire(ctx, "160216")
	require.NoError(t, err)
	require.True(t, claim.Commit(ctx))

	_, err = b.Acquire(ctx, "160216")
	assert.ErrorIs(t, err, ErrAlerted, "the other replica already notified")

	assert.True(t, b.MarkAlerted(ctx, "501018"))
	snap, err := store.LoadLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"160216", "501018"}, snap.Alerted, "marks from both replicas survive")

	a.Refresh(ctx)
	assert.True(t, a.IsAlerted("501018"))
}

func TestSharedStoreReleaseAndReset(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "ledger.yaml"))
	a, _ := newTestLedger(store)
	b, _ := newTestLedger(store)
	ctx := context.Background()

	claim, err := a.Acquire(ctx, "161725")
	require.NoError(t, err)
	_, err = b.Acquire(ctx, "161725")
	assert.ErrorIs(t, err, ErrAlerted, "a claim held elsewhere blocks this replica")

	claim.Release(ctx)
	b.Refresh(ctx)
	claim, err = b.Acquire(ctx, "161725")
	require.NoError(t, err, "released claims can be retried")
	require.True(t, claim.Commit(ctx))

	a.Refresh(ctx)
	require.True(t, a.IsAlerted("161725"))

	// reset from another process, e.g. the ledger reset command
	ops, _ := newTestLedger(store)
	ops.Reset(ctx)
	a.Refresh(ctx)
	assert.False(t, a.IsAlerted("161725"))
}

func TestRefreshKeepsOpenClaims(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "ledger.yaml"))
	l, _ := newTestLedger(store)
	ctx := context.Background()

	claim, err := l.Acquire(ctx, "160216")
	require.NoError(t, err)
	l.Refresh(ctx)
	assert.False(t, l.IsAlerted("160216"), "an open claim is not a mark")

	claim.Release(ctx)
	l.Refresh(ctx)
	_, err = l.Acquire(ctx, "160216")
	assert.NoError(t, err)
}
