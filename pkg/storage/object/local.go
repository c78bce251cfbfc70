// Package object provides the local filesystem object store.
package object

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/callflow/callflow/pkg/errors"
)

// LocalStorage stores objects as files under a root directory.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a store rooted at root, creating the directory.
func NewLocalStorage(root string) (*LocalStorage, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to resolve root path").WithContext("root", root)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to create root directory").WithContext("root", absRoot)
	}
	return &LocalStorage{root: absRoot}, nil
}

// Root returns the absolute root directory.
func (s *LocalStorage) Root() string {
	return s.root
}

// Scheme returns "file".
func (s *LocalStorage) Scheme() string {
	return "file"
}

// Put writes data to key atomically (temp file, then rename).
func (s *LocalStorage) Put(ctx context.Context, key string, data io.Reader) error {
	fullPath := s.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "failed to create directory").WithContext("key", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".put-*")
	if err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "failed to create file").WithContext("key", key)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.CodeStoreFailed, "failed to write data").WithContext("key", key)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "failed to close file").WithContext("key", key)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return errors.Wrap(err, errors.CodeStoreFailed, "failed to rename file").WithContext("key", key)
	}
	return nil
}

// Get returns a reader for the object. The reader is an *os.File.
func (s *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.fullPath(key))
	if os.IsNotExist(err) {
		return nil, errors.NotFound("object", key)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to open file").WithContext("key", key)
	}
	return f, nil
}

// Exists checks if an object exists.
func (s *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.fullPath(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.CodeStoreFailed, "failed to stat file").WithContext("key", key)
	}
	return true, nil
}

// List returns the keys of regular files under prefix, sorted.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStoreFailed, "failed to list objects").WithContext("prefix", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalStorage) fullPath(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}
