// Package storage resolves archive locations to local or S3 object stores.
package storage

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/storage/object"
	"github.com/callflow/callflow/pkg/storage/s3"
)

// ObjectStore is the subset of object storage callflow needs. Keys are
// slash-separated and relative to the store's root.
type ObjectStore interface {
	// Get returns a reader for key. A missing key yields a CodeNotFound error.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Put writes data to key, replacing any existing object.
	Put(ctx context.Context, key string, data io.Reader) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Scheme returns the storage scheme (file, s3).
	Scheme() string
}

// Open returns the store for location and the key prefix inside it.
// "s3://bucket/some/prefix" opens an S3 store on bucket using base for
// region, endpoint and credentials; anything else is a local directory.
func Open(ctx context.Context, location string, base s3.Config) (ObjectStore, string, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		store, err := object.NewLocalStorage(location)
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	}

	switch u.Scheme {
	case "file":
		store, err := object.NewLocalStorage(u.Path)
		if err != nil {
			return nil, "", err
		}
		return store, "", nil
	case "s3":
		cfg := base
		cfg.Bucket = u.Host
		client, err := s3.NewClient(ctx, cfg)
		if err != nil {
			return nil, "", err
		}
		return client, strings.TrimPrefix(u.Path, "/"), nil
	default:
		return nil, "", errors.InvalidConfig("archive.location", location, "unsupported storage scheme")
	}
}

// Join joins a prefix and a key with a single slash.
func Join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + strings.TrimPrefix(key, "/")
}
