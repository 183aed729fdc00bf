package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilePersister keeps the ledger document in a single JSON file. Writes go to
// a temporary file in the same directory that is then renamed over the
// target, so a crash never leaves a partially written ledger behind.
type FilePersister struct {
	path string
}

// NewFilePersister creates the parent directory of path if needed.
func NewFilePersister(path string) (*FilePersister, error) {
	if path == "" {
		return nil, errors.New("ledger file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &FilePersister{path: path}, nil
}

// Load returns an empty document when the file does not exist yet.
func (p *FilePersister) Load(_ context.Context) (Document, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{RestartCounts: map[string]map[string]int{}}, nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read ledger file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode ledger file %s: %w", p.path, err)
	}
	return doc, nil
}

func (p *FilePersister) Save(_ context.Context, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".ledger-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}

// Ping verifies the ledger directory is still reachable.
func (p *FilePersister) Ping(_ context.Context) error {
	info, err := os.Stat(filepath.Dir(p.path))
	if err != nil {
		return fmt.Errorf("ledger directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("ledger directory %s is not a directory", filepath.Dir(p.path))
	}
	return nil
}

var _ Persister = (*FilePersister)(nil)
