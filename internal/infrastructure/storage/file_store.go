package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"ChannelMonitor/internal/domain"
	"ChannelMonitor/internal/ports"
)

type stateFile struct {
	LastIDs map[string]int64 `json:"last_ids"`
}

// FileStore keeps cursors in a JSON document on local disk.
type FileStore struct {
	path string
}

var _ ports.StateStore = (*FileStore)(nil)

// NewFileStore points the store at path; the file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file is an empty state.
func (s *FileStore) Load(ctx context.Context) (map[domain.ChannelID]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[domain.ChannelID]int64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", s.path, err)
	}

	var doc stateFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", s.path, err)
	}

	out := make(map[domain.ChannelID]int64, len(doc.LastIDs))
	for ch, id := range doc.LastIDs {
		if id < 0 {
			continue
		}
		out[domain.ChannelID(ch)] = id
	}
	return out, nil
}

// Save replaces the snapshot through a temp file and rename.
func (s *FileStore) Save(ctx context.Context, cursors map[domain.ChannelID]int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc := stateFile{LastIDs: make(map[string]int64, len(cursors))}
	for ch, id := range cursors {
		doc.LastIDs[string(ch)] = id
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state %s: %w", s.path, err)
	}
	return nil
}
