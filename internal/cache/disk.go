package cache

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// diskStore persists one gzip file per cache key under dir. Writes are
// staged to a temp file and renamed into place so a reader never observes
// a partially-written file (same atomic create-then-rename discipline
// spec.md §5 requires).
type diskStore struct {
	dir string
}

func newDiskStore(dir string) (*diskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create disk dir: %w", err)
	}
	return &diskStore{dir: dir}, nil
}

func (d *diskStore) path(key string) string {
	return filepath.Join(d.dir, key+".gz")
}

func (d *diskStore) write(key string, body []byte) error {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(body); err != nil {
		gw.Close()
		return fmt.Errorf("cache: gzip write: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("cache: gzip close: %w", err)
	}

	tmpPath := filepath.Join(d.dir, key+"."+uuid.New().String()+".tmp")
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("cache: write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, d.path(key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("cache: rename into place: %w", err)
	}
	return nil
}

func (d *diskStore) read(key string) ([]byte, error) {
	f, err := os.Open(d.path(key))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("cache: gzip reader: %w", err)
	}
	defer gr.Close()

	return io.ReadAll(gr)
}

func (d *diskStore) delete(key string) error {
	err := os.Remove(d.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
