package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore keeps the ledger in a small YAML state file. Claims are
// serialized within one process; the file is not locked against other
// processes, so replicas should share a Redis or Postgres ledger instead.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// LoadLedger reads the state file; a missing file yields an empty snapshot.
func (f *FileStore) LoadLedger(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *FileStore) load() (Snapshot, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read ledger file: %w", err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode ledger file: %w", err)
	}
	return snap, nil
}

// SaveLedger replaces the state file atomically.
func (f *FileStore) SaveLedger(ctx context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(snap)
}

// ClaimAlert adds id to day's set, replacing a stale day.
func (f *FileStore) ClaimAlert(ctx context.Context, day, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := f.load()
	if err != nil {
		return false, err
	}
	if snap.Date != day {
		snap = Snapshot{Date: day}
	}
	if slices.Contains(snap.Alerted, id) {
		return false, nil
	}
	snap.Alerted = append(snap.Alerted, id)
	slices.Sort(snap.Alerted)
	return true, f.save(snap)
}

// UnclaimAlert removes id from day's set.
func (f *FileStore) UnclaimAlert(ctx context.Context, day, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap, err := f.load()
	if err != nil {
		return err
	}
	if snap.Date != day || !slices.Contains(snap.Alerted, id) {
		return nil
	}
	snap.Alerted = slices.DeleteFunc(snap.Alerted, func(s string) bool { return s == id })
	return f.save(snap)
}

func (f *FileStore) save(snap Snapshot) error {
	raw, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".ledger-*.yaml")
	if err != nil {
		return fmt.Errorf("create ledger temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close ledger temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}

var _ SharedStore = (*FileStore)(nil)
