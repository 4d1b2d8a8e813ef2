// Package store persists JSON documents on the local filesystem under a
// content root. Writes are atomic (temp file + rename) and serialized per
// document with a file advisory lock, so concurrent readers always observe
// a whole document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// backupTimeFormat is the UTC timestamp embedded in backup filenames,
// e.g. world.20260301T154502.123456789Z.json. Fractional seconds keep
// rapid successive backups from colliding and preserve lexical ordering.
const backupTimeFormat = "20060102T150405.000000000Z"

// DocumentStore reads and writes JSON documents below a single root
// directory. All paths passed to its methods are relative to that root.
type DocumentStore struct {
	root string

	// Per-document flocks, created lazily. The flock file lives next to the
	// document (path + ".lock") so external processes can honor it too.
	mu    sync.Mutex
	locks map[string]*flock.Flock
}

// NewDocumentStore creates a store rooted at dir, creating it if needed.
func NewDocumentStore(dir string) (*DocumentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create content root: %w", err)
	}
	return &DocumentStore{
		root:  dir,
		locks: make(map[string]*flock.Flock),
	}, nil
}

// Root returns the absolute content root directory.
func (s *DocumentStore) Root() string { return s.root }

func (s *DocumentStore) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// fileLock returns the advisory lock guarding the given document.
func (s *DocumentStore) fileLock(rel string) *flock.Flock {
	s.mu.Lock()
	defer s.mu.Unlock()
	fl, ok := s.locks[rel]
	if !ok {
		fl = flock.New(s.abs(rel) + ".lock")
		s.locks[rel] = fl
	}
	return fl
}

// Read loads and unmarshals the document at rel.
func (s *DocumentStore) Read(rel string) (map[string]any, error) {
	data, err := os.ReadFile(s.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", rel, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", rel, err)
	}
	return doc, nil
}

// Write marshals doc and atomically replaces the document at rel.
// The advisory lock is held for the duration of the write.
func (s *DocumentStore) Write(rel string, doc map[string]any) error {
	// The lock file lives next to the document, so the parent directory
	// must exist before the flock can be opened.
	if err := os.MkdirAll(filepath.Dir(s.abs(rel)), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", rel, err)
	}

	fl := s.fileLock(rel)
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", rel, err)
	}
	defer func() { _ = fl.Unlock() }()

	return s.writeLocked(rel, doc)
}

// writeLocked performs the temp-file + rename dance. Callers must hold the
// document's flock.
func (s *DocumentStore) writeLocked(rel string, doc map[string]any) error {
	abs := s.abs(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent dir for %s: %w", rel, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+filepath.Base(abs)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", rel, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp for %s: %w", rel, err)
	}
	return nil
}

// Exists reports whether the document at rel exists.
func (s *DocumentStore) Exists(rel string) bool {
	_, err := os.Stat(s.abs(rel))
	return err == nil
}

// Delete removes the document at rel. Missing documents are not an error.
func (s *DocumentStore) Delete(rel string) error {
	err := os.Remove(s.abs(rel))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}

// DeleteTree removes a whole directory subtree below the root.
func (s *DocumentStore) DeleteTree(rel string) error {
	return os.RemoveAll(s.abs(rel))
}

// List returns the names of regular files directly under the given
// directory, sorted lexically. A missing directory yields an empty list.
func (s *DocumentStore) List(rel string) ([]string, error) {
	entries, err := os.ReadDir(s.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ListDirs returns the names of directories directly under rel.
func (s *DocumentStore) ListDirs(rel string) ([]string, error) {
	entries, err := os.ReadDir(s.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadRaw returns the raw bytes of a file below the root. Used for
// immutable content (templates) that is not JSON.
func (s *DocumentStore) ReadRaw(rel string) ([]byte, error) {
	data, err := os.ReadFile(s.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", rel, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, nil
}

// Backup copies the document at rel to a timestamped sibling and prunes
// older backups beyond keep. Returns the backup filename (basename only).
// Backups for world.json look like world.<UTC-timestamp>.json.
func (s *DocumentStore) Backup(rel string, keep int) (string, error) {
	data, err := os.ReadFile(s.abs(rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", rel, ErrNotFound)
		}
		return "", fmt.Errorf("read %s for backup: %w", rel, err)
	}

	dir := filepath.Dir(rel)
	base := filepath.Base(rel)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	name := fmt.Sprintf("%s.%s%s", stem, time.Now().UTC().Format(backupTimeFormat), ext)
	backupRel := filepath.ToSlash(filepath.Join(dir, name))
	abs := s.abs(backupRel)
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup %s: %w", backupRel, err)
	}

	if err := s.pruneBackups(dir, stem, ext, keep); err != nil {
		return "", err
	}
	return name, nil
}

// pruneBackups deletes the oldest backups of stem beyond keep. Backup names
// sort chronologically because the embedded timestamp is fixed-width UTC.
func (s *DocumentStore) pruneBackups(dir, stem, ext string, keep int) error {
	names, err := s.List(dir)
	if err != nil {
		return err
	}
	var backups []string
	prefix := stem + "."
	for _, n := range names {
		if !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, ext) {
			continue
		}
		middle := strings.TrimSuffix(strings.TrimPrefix(n, prefix), ext)
		if _, err := time.Parse(backupTimeFormat, middle); err != nil {
			continue // not a backup (e.g. world.template.json)
		}
		backups = append(backups, n)
	}
	if len(backups) <= keep {
		return nil
	}
	for _, n := range backups[:len(backups)-keep] {
		if err := s.Delete(filepath.ToSlash(filepath.Join(dir, n))); err != nil {
			return err
		}
	}
	return nil
}
