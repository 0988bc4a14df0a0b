// Package blob stores file contents under opaque keys.
package blob

//go:generate mockgen -source=store.go -destination=mock_store.go -package=blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrNotFound = errors.New("blob not found")

	// ErrStoreFull is returned when a blob exceeds the size limit or the
	// backend ran out of space.
	ErrStoreFull = errors.New("blob store is full")

	ErrClosed = errors.New("blob store is closed")

	// Keys are never overwritten.
	ErrKeyExists = errors.New("blob key already exists")

	// ErrInvalidKey is a kind of ErrNotFound: no blob can exist under a
	// malformed key.
	ErrInvalidKey = fmt.Errorf("%w: invalid key", ErrNotFound)
)

type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

type Store interface {
	// Put stores the contents of reader under a new key.
	Put(ctx context.Context, reader io.Reader) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Remove deletes the blob. Removing a missing blob is not an error.
	Remove(ctx context.Context, key string) error
	List(ctx context.Context) ([]ObjectInfo, error)
	Close() error
}

type limitReader struct {
	reader    io.Reader
	remaining int64
}

func newLimitReader(reader io.Reader, limit int64) io.Reader {
	if limit <= 0 {
		return reader
	}
	return &limitReader{reader: reader, remaining: limit}
}

func (r *limitReader) Read(p []byte) (int, error) {
	if r.remaining < 0 {
		return 0, ErrStoreFull
	}
	// read one byte past the limit to detect oversized input
	if int64(len(p)) > r.remaining+1 {
		p = p[:r.remaining+1]
	}
	n, err := r.reader.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		return n, ErrStoreFull
	}
	return n, err
}
