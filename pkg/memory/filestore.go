package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const snapshotFile = "snapshot.json"

// tierFiles are human-readable mirrors of the snapshot, one file per tier.
// They are write-only conveniences; Load reads snapshot.json alone.
var tierFiles = []struct {
	name    string
	extract func(*Snapshot) interface{}
}{
	{"stm.json", func(s *Snapshot) interface{} { return s.ShortTermMemory }},
	{"ltm.json", func(s *Snapshot) interface{} { return s.LongTermMemory }},
	{"wm.json", func(s *Snapshot) interface{} { return s.WorkingMemory }},
}

// FileStore persists snapshots as JSON under a data directory. Writes go
// through a temporary file and an atomic rename so a crash mid-write never
// leaves a truncated snapshot behind.
type FileStore struct {
	dir string
}

// NewFileStore creates the data directory if needed and returns a store
// rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("memory: init data directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Load implements Store.
func (fs *FileStore) Load(_ context.Context) (*Snapshot, error) {
	path := filepath.Join(fs.dir, snapshotFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("memory: read snapshot %s: %w", path, err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("memory: parse snapshot %s: %w", path, err)
	}
	snapshot.Normalize()

	return &snapshot, nil
}

// Save implements Store.
func (fs *FileStore) Save(_ context.Context, snapshot *Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: marshal snapshot: %w", err)
	}
	if err := fs.writeAtomic(snapshotFile, data); err != nil {
		return err
	}

	// Mirror files are best-effort; the snapshot is the source of truth.
	for _, tier := range tierFiles {
		data, err := json.MarshalIndent(tier.extract(snapshot), "", "  ")
		if err != nil {
			continue
		}
		_ = fs.writeAtomic(tier.name, data)
	}

	return nil
}

func (fs *FileStore) writeAtomic(name string, data []byte) error {
	path := filepath.Join(fs.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("memory: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp) // best-effort cleanup
		return fmt.Errorf("memory: atomic rename %s: %w", path, err)
	}
	return nil
}
