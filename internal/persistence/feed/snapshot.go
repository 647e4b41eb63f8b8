package feedpersist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"coinwatch/pkg/reconcile"
)

// SnapshotStore keeps the last reconciled snapshot in a local JSON file so
// a restart can seed state even when both Postgres and Redis are down.
// Writes go through a temp file and rename, so a crash mid-write never
// leaves a truncated snapshot behind.
type SnapshotStore struct {
	path        string
	historyPath string
	maxAge      time.Duration
}

// NewSnapshotStore builds a store rooted at the given paths.
func NewSnapshotStore(path, historyPath string, maxAge time.Duration) *SnapshotStore {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &SnapshotStore{path: path, historyPath: historyPath, maxAge: maxAge}
}

// Save writes the snapshot to disk.
func (s *SnapshotStore) Save(snapshot reconcile.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return atomicWrite(s.path, data)
}

// Load reads the snapshot back. Snapshots older than maxAge are ignored:
// a day-old price is worse than an honest cold start.
func (s *SnapshotStore) Load() (reconcile.Snapshot, error) {
	var snapshot reconcile.Snapshot
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return snapshot, nil
		}
		return snapshot, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return reconcile.Snapshot{}, fmt.Errorf("unmarshal snapshot %s: %w", s.path, err)
	}
	if snapshot.Timestamp > 0 {
		age := time.Since(time.UnixMilli(snapshot.Timestamp))
		if age > s.maxAge {
			return reconcile.Snapshot{}, nil
		}
	}
	return snapshot, nil
}

// SaveHistory writes the full per-symbol history table as msgpack. The
// blob is an order of magnitude smaller than the JSON equivalent, which
// matters at one write every few seconds.
func (s *SnapshotStore) SaveHistory(history map[string][]reconcile.HistoryEntry) error {
	if s.historyPath == "" {
		return nil
	}
	data, err := msgpack.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return atomicWrite(s.historyPath, data)
}

// LoadHistory reads the history table back, nil when absent.
func (s *SnapshotStore) LoadHistory() (map[string][]reconcile.HistoryEntry, error) {
	if s.historyPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history %s: %w", s.historyPath, err)
	}
	var history map[string][]reconcile.HistoryEntry
	if err := msgpack.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("unmarshal history %s: %w", s.historyPath, err)
	}
	return history, nil
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot %s: %w", path, err)
	}
	return nil
}
