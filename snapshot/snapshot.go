// Package snapshot implements optional on-disk persistence of a task's
// merged metadata document to metadata_<server_ip_port>_<db>.json,
// guarded by an exclusive file lock so two processes never corrupt the
// same file.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateIdentifier rejects anything that is not a strict
// [A-Za-z0-9_]+ identifier. Save and Load check both filename
// components with it before building a path, so no separator or dot
// can reach the file name whatever the caller passes.
func ValidateIdentifier(s string) error {
	if !identifierPattern.MatchString(s) {
		return fmt.Errorf("snapshot: %q is not a valid identifier", s)
	}
	return nil
}

// Store persists and reloads task documents under a base directory.
type Store struct {
	Dir string
}

// New creates a Store rooted at dir. dir is created if absent.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: creating %q: %w", dir, err)
	}
	return &Store{Dir: dir}, nil
}

// path returns the snapshot file path for a server_ip_port/db pair,
// validating both components first.
func (s *Store) path(serverIPPort, db string) (string, error) {
	if err := ValidateIdentifier(serverIPPort); err != nil {
		return "", err
	}
	if err := ValidateIdentifier(db); err != nil {
		return "", err
	}
	name := fmt.Sprintf("metadata_%s_%s.json", serverIPPort, db)
	return filepath.Join(s.Dir, name), nil
}

// Save writes data (the raw merged task document, already marshaled)
// to the snapshot file, under an exclusive lock.
func (s *Store) Save(serverIPPort, db string, data []byte) error {
	path, err := s.path(serverIPPort, db)
	if err != nil {
		return err
	}
	lock, err := lockFile(path, true)
	if err != nil {
		return err
	}
	defer lock.unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot: writing %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot: renaming %q to %q: %w", tmp, path, err)
	}
	return nil
}

// SaveJSON marshals v and saves it, for callers holding a Go value
// rather than a pre-encoded payload.
func (s *Store) SaveJSON(serverIPPort, db string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshot: marshaling payload: %w", err)
	}
	return s.Save(serverIPPort, db, data)
}

// Load reads the snapshot file under a shared lock. It returns
// os.ErrNotExist (wrapped) if no snapshot has been saved yet.
func (s *Store) Load(serverIPPort, db string) ([]byte, error) {
	path, err := s.path(serverIPPort, db)
	if err != nil {
		return nil, err
	}
	lock, err := lockFile(path, false)
	if err != nil {
		return nil, err
	}
	defer lock.unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: reading %q: %w", path, err)
	}
	return data, nil
}

// LoadJSON reads and unmarshals the snapshot file into v.
func (s *Store) LoadJSON(serverIPPort, db string, v any) error {
	data, err := s.Load(serverIPPort, db)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
