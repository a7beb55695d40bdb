// Package storage is the file storage boundary: it accepts raw uploaded
// bytes and returns an opaque reference. The workflow core only ever
// persists the reference.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store is a content-addressed blob store rooted in the workspace.
type Store struct {
	Root string
}

// New returns a store under root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("storage root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{Root: root}, nil
}

// Save writes data and returns its reference. Identical content maps to
// the same reference.
func (s *Store) Save(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])
	path, err := s.path(ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return ref, nil
}

// Open returns a reader for a stored reference.
func (s *Store) Open(ref string) (io.ReadCloser, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s not found", ref)
		}
		return nil, err
	}
	return f, nil
}

func (s *Store) path(ref string) (string, error) {
	if len(ref) < 3 || strings.ContainsAny(ref, "/\\.") {
		return "", fmt.Errorf("invalid blob reference %q", ref)
	}
	return filepath.Join(s.Root, ref[:2], ref[2:]), nil
}
