package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DateLayout is the calendar-day key format used by the ledger and its stores.
const DateLayout = "2006-01-02"

var (
	// ErrClaimed indicates another caller holds an unfinished claim for the instrument.
	ErrClaimed = errors.New("ledger: instrument claim already held")
	// ErrAlerted indicates the instrument was already alerted today.
	ErrAlerted = errors.New("ledger: instrument already alerted today")
)

// Snapshot is the persisted form of the ledger.
type Snapshot struct {
	Date    string   `json:"date" yaml:"date"`
	Alerted []string `json:"alerted" yaml:"alerted"`
}

// Store persists ledger snapshots. A missing snapshot is reported as a zero Snapshot and nil error.
type Store interface {
	LoadLedger(ctx context.Context) (Snapshot, error)
	SaveLedger(ctx context.Context, snap Snapshot) error
}

// SharedStore is a Store that other processes write concurrently. Marks go
// through it one instrument at a time instead of rewriting the snapshot, so
// replicas never erase each other's marks.
type SharedStore interface {
	Store
	// ClaimAlert adds id to day's set and reports whether it was absent.
	ClaimAlert(ctx context.Context, day, id string) (bool, error)
	// UnclaimAlert removes id from day's set.
	UnclaimAlert(ctx context.Context, day, id string) error
}

// Options tune ledger behaviour.
type Options struct {
	Location *time.Location
	Now      func() time.Time
}

// Ledger tracks which instruments were alerted on the current calendar day.
type Ledger struct {
	mu       sync.Mutex
	saveMu   sync.Mutex
	date     string
	alerted  map[string]struct{}
	inflight map[string]struct{}

	store  Store
	shared SharedStore
	loc    *time.Location
	now    func() time.Time
	logger zerolog.Logger
}

// New builds an empty ledger for the current day. store may be nil for memory-only operation.
func New(opts Options, store Store, logger zerolog.Logger) *Ledger {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	l := &Ledger{
		alerted:  make(map[string]struct{}),
		inflight: make(map[string]struct{}),
		store:    store,
		loc:      loc,
		now:      now,
		logger:   logger.With().Str("component", "alert_ledger").Logger(),
	}
	l.shared, _ = store.(SharedStore)
	l.date = l.dayOf(now())
	return l
}

// Load restores persisted state. Unreadable or stale state leaves an empty ledger for today.
func (l *Ledger) Load(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil {
		return
	}

	snap, err := l.store.LoadLedger(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("failed to load alert ledger, starting empty")
		return
	}

	today := l.dayOf(l.now())
	l.date = today
	l.alerted = make(map[string]struct{})
	if snap.Date != today {
		if snap.Date != "" {
			l.logger.Info().Str("stored_date", snap.Date).Str("today", today).Msg("stored alert ledger is stale, starting empty")
		}
		return
	}
	for _, id := range snap.Alerted {
		l.alerted[id] = struct{}{}
	}
	l.logger.Info().Str("date", today).Int("alerted", len(l.alerted)).Msg("alert ledger restored")
}

// Refresh re-reads today's set from a shared store, picking up marks and
// resets made by other processes. Open claims keep their local state.
// It is a no-op for memory-only ledgers and unshared stores.
func (l *Ledger) Refresh(ctx context.Context) {
	l.mu.Lock()
	shared := l.shared
	l.mu.Unlock()
	if shared == nil {
		return
	}

	snap, err := shared.LoadLedger(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("failed to refresh alert ledger, keeping local state")
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.reconcileLocked(l.now())
	alerted := make(map[string]struct{})
	if snap.Date == l.date {
		for _, id := range snap.Alerted {
			if _, open := l.inflight[id]; !open {
				alerted[id] = struct{}{}
			}
		}
	}
	l.alerted = alerted
}

// Reconcile rolls the ledger over when now falls on a different day. It reports whether a reset happened.
func (l *Ledger) Reconcile(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reconcileLocked(now)
}

func (l *Ledger) reconcileLocked(now time.Time) bool {
	day := l.dayOf(now)
	if day == l.date {
		return false
	}
	l.logger.Info().Str("from", l.date).Str("to", day).Int("cleared", len(l.alerted)).Msg("alert ledger rolled over")
	l.date = day
	l.alerted = make(map[string]struct{})
	return true
}

// IsAlerted reports whether id was already alerted today.
func (l *Ledger) IsAlerted(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reconcileLocked(l.now())
	_, ok := l.alerted[id]
	return ok
}

// MarkAlerted records id for today. It reports whether id was newly inserted.
func (l *Ledger) MarkAlerted(ctx context.Context, id string) bool {
	l.mu.Lock()
	l.reconcileLocked(l.now())
	day := l.date
	inserted := l.insertLocked(id)
	shared := l.shared
	l.mu.Unlock()

	if shared != nil {
		added, err := shared.ClaimAlert(ctx, day, id)
		if err != nil {
			l.degrade(err)
			return inserted
		}
		return added
	}
	if inserted {
		l.persist(ctx)
	}
	return inserted
}

// Acquire starts an exclusive check-notify-mark sequence for id.
// It fails with ErrAlerted when id is already marked today and with ErrClaimed
// when another claim for id is still open. With a shared store the claim is
// taken in the store as well, so only one process can hold it.
func (l *Ledger) Acquire(ctx context.Context, id string) (*Claim, error) {
	l.mu.Lock()
	l.reconcileLocked(l.now())
	if _, ok := l.alerted[id]; ok {
		l.mu.Unlock()
		return nil, ErrAlerted
	}
	if _, ok := l.inflight[id]; ok {
		l.mu.Unlock()
		return nil, ErrClaimed
	}
	l.inflight[id] = struct{}{}
	claim := &Claim{ledger: l, id: id, date: l.date}
	shared := l.shared
	l.mu.Unlock()

	if shared == nil {
		return claim, nil
	}

	added, err := shared.ClaimAlert(ctx, claim.date, id)
	if err != nil {
		l.degrade(err)
		return claim, nil
	}
	if !added {
		l.mu.Lock()
		delete(l.inflight, id)
		if l.date == claim.date {
			l.alerted[id] = struct{}{}
		}
		l.mu.Unlock()
		return nil, ErrAlerted
	}
	claim.shared = shared
	return claim, nil
}

// Snapshot returns today's state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reconcileLocked(l.now())
	return l.snapshotLocked()
}

// Reset clears today's alerted set.
func (l *Ledger) Reset(ctx context.Context) {
	l.mu.Lock()
	l.date = l.dayOf(l.now())
	l.alerted = make(map[string]struct{})
	l.mu.Unlock()

	l.persist(ctx)
}

// Persistent reports whether the ledger still writes through to its store.
func (l *Ledger) Persistent() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store != nil
}

func (l *Ledger) insertLocked(id string) bool {
	if _, ok := l.alerted[id]; ok {
		return false
	}
	l.alerted[id] = struct{}{}
	return true
}

func (l *Ledger) snapshotLocked() Snapshot {
	ids := make([]string, 0, len(l.alerted))
	for id := range l.alerted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Snapshot{Date: l.date, Alerted: ids}
}

// degrade drops the ledger to memory-only after a store failure.
func (l *Ledger) degrade(err error) {
	l.logger.Warn().Err(err).Msg("failed to persist alert ledger, continuing in memory only")
	l.mu.Lock()
	l.store = nil
	l.shared = nil
	l.mu.Unlock()
}

// persist saves the current state best effort; the first failure drops the ledger to memory-only.
func (l *Ledger) persist(ctx context.Context) {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	l.mu.Lock()
	store := l.store
	snap := l.snapshotLocked()
	l.mu.Unlock()
	if store == nil {
		return
	}

	if err := store.SaveLedger(ctx, snap); err != nil {
		l.degrade(err)
	}
}

func (l *Ledger) dayOf(t time.Time) string {
	return t.In(l.loc).Format(DateLayout)
}

// Claim is an open check-notify-mark sequence for one instrument.
type Claim struct {
	ledger *Ledger
	id     string
	date   string
	done   bool
	// shared is set when the claim is also held in a shared store.
	shared SharedStore
}

// Commit marks the instrument as alerted and closes the claim. When the day
// rolled over since Acquire the mark is dropped; Commit then returns false.
func (c *Claim) Commit(ctx context.Context) bool {
	l := c.ledger
	l.mu.Lock()
	if c.done {
		l.mu.Unlock()
		return false
	}
	c.done = true
	delete(l.inflight, c.id)

	l.reconcileLocked(l.now())
	if l.date != c.date {
		l.mu.Unlock()
		return false
	}
	inserted := l.insertLocked(c.id)
	l.mu.Unlock()

	// a shared claim is already recorded in the store
	if inserted && c.shared == nil {
		l.persist(ctx)
	}
	return inserted
}

// Release abandons the claim without marking. It is a no-op after Commit.
func (c *Claim) Release(ctx context.Context) {
	l := c.ledger
	l.mu.Lock()
	if c.done {
		l.mu.Unlock()
		return
	}
	c.done = true
	delete(l.inflight, c.id)
	l.mu.Unlock()

	if c.shared == nil {
		return
	}
	if err := c.shared.UnclaimAlert(ctx, c.date, c.id); err != nil {
		l.logger.Warn().Err(err).Str("instrument", c.id).Msg("failed to release shared claim, instrument stays marked for the day")
	}
}
