package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// defaultFileCapacity mirrors the ~5 MB quota of the browser storage the
// widget originally persisted into.
const defaultFileCapacity = 5 << 20

// FileBackend stores the snapshot as a single JSON file on disk.
type FileBackend struct {
	path     string
	capacity int64
}

// NewFileBackend creates a FileBackend writing to path. capacity bounds the
// record size; when non-positive the default (~5 MB) applies. The parent
// directory is created on demand.
func NewFileBackend(path string, capacity int64) (*FileBackend, error) {
	if capacity <= 0 {
		capacity = defaultFileCapacity
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("snapshot file: create directory: %w", err)
	}
	return &FileBackend{path: path, capacity: capacity}, nil
}

func (b *FileBackend) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot file: read: %w", err)
	}
	return data, nil
}

func (b *FileBackend) Write(_ context.Context, data []byte) error {
	if int64(len(data)) > b.capacity {
		return ErrQuotaExceeded
	}
	// Write-and-rename keeps the previous snapshot intact if the process
	// dies mid-write. Session files hold conversation history, so 0600.
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("snapshot file: write: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot file: rename: %w", err)
	}
	return nil
}

func (b *FileBackend) Delete(_ context.Context) error {
	err := os.Remove(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (b *FileBackend) Usage(_ context.Context) (Usage, error) {
	var used int64
	if info, err := os.Stat(b.path); err == nil {
		used = info.Size()
	}
	avail := b.capacity - used
	if avail < 0 {
		avail = 0
	}
	pct := 0.0
	if b.capacity > 0 {
		pct = float64(used) / float64(b.capacity) * 100
	}
	return Usage{UsedBytes: used, AvailableBytes: avail, Percentage: pct}, nil
}

var _ Backend = (*FileBackend)(nil)
