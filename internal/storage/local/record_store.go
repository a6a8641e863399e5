// Package local implements the JSON file record store.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/vinmonopol-crawler/internal/product"
)

// Config captures the parameters for the record store.
type Config struct {
	// Path is the JSON file holding the record array.
	Path string `mapstructure:"path" yaml:"path"`
}

// RecordStore keeps the working set of records in memory and rewrites the
// whole file on every checkpoint. Records keep the slot of their first
// insertion; a later Put with the same code replaces the record in place.
type RecordStore struct {
	path string

	mu      sync.RWMutex
	records []product.Record
	index   map[string]int

	// rename is swapped in tests to simulate a failing final step.
	rename func(oldpath, newpath string) error
}

// New creates a record store writing to cfg.Path. The parent directory is
// created when missing.
func New(cfg Config) (*RecordStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("store path %s is a directory", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &RecordStore{
		path:    path,
		records: []product.Record{},
		index:   make(map[string]int),
		rename:  os.Rename,
	}, nil
}

// Path returns the store file location.
func (s *RecordStore) Path() string {
	return s.path
}

// Load reads the store file into the working set, replacing its contents,
// and returns the loaded records in file order. A missing or empty file
// yields an empty set. Older record schema versions are upgraded.
func (s *RecordStore) Load(ctx context.Context) ([]product.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.reset(nil)
		return []product.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		s.reset(nil)
		return []product.Record{}, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode store %s: %w", s.path, err)
	}
	loaded := make([]product.Record, 0, len(raw))
	for i, item := range raw {
		rec, err := product.Decode(item)
		if err != nil {
			return nil, fmt.Errorf("decode store %s record %d: %w", s.path, i, err)
		}
		loaded = append(loaded, rec)
	}
	s.reset(loaded)
	return s.Records(), nil
}

// Reset empties the working set. The file keeps its contents until the next
// Checkpoint.
func (s *RecordStore) Reset() {
	s.reset(nil)
}

func (s *RecordStore) reset(records []product.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make([]product.Record, 0, len(records))
	s.index = make(map[string]int, len(records))
	for _, rec := range records {
		s.putLocked(rec)
	}
}

// Put inserts rec into the working set or replaces the record with the same
// code. It does not touch the file.
func (s *RecordStore) Put(rec product.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(rec.Clone())
}

func (s *RecordStore) putLocked(rec product.Record) {
	if i, ok := s.index[rec.Code]; ok {
		s.records[i] = rec
		return
	}
	s.index[rec.Code] = len(s.records)
	s.records = append(s.records, rec)
}

// Records returns a copy of the working set in store order.
func (s *RecordStore) Records() []product.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]product.Record, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Clone()
	}
	return out
}

// Len returns the size of the working set.
func (s *RecordStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Checkpoint serializes the full working set and atomically replaces the
// store file. On failure the previous file content is left untouched.
func (s *RecordStore) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	s.mu.RLock()
	data, err := Encode(s.records)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return s.writeAtomic(data)
}

// Encode renders records in the store file format: a JSON array with
// two-space indentation and non-ASCII text kept literal.
func Encode(records []product.Record) ([]byte, error) {
	if records == nil {
		records = []product.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *RecordStore) writeAtomic(data []byte) (err error) {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = s.rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
