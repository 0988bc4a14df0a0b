package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const temporaryDirectory = ".tmp"

// FilesystemStore keeps each blob in <root>/<key[:2]>/<key>. Blobs are
// written to <root>/.tmp first and renamed into place once complete, so a
// reader never sees a partial blob.
type FilesystemStore struct {
	fs            afero.Fs
	root          string
	maxObjectSize int64

	mu     sync.RWMutex
	closed bool
}

type FilesystemConfig struct {
	Root string
	// MaxObjectSize is unlimited when zero.
	MaxObjectSize int64
}

func NewFilesystemStore(fs afero.Fs, conf FilesystemConfig) (*FilesystemStore, error) {
	if conf.Root == "" {
		return nil, errors.New("root is required")
	}
	if err := fs.MkdirAll(filepath.Join(conf.Root, temporaryDirectory), 0755); err != nil {
		return nil, fmt.Errorf("fs.MkdirAll: %w", err)
	}
	return &FilesystemStore{
		fs:            fs,
		root:          conf.Root,
		maxObjectSize: conf.MaxObjectSize,
	}, nil
}

func (store *FilesystemStore) path(key string) (string, error) {
	if _, err := uuid.Parse(key); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(store.root, key[:2], key), nil
}

func (store *FilesystemStore) checkOpen() error {
	store.mu.RLock()
	defer store.mu.RUnlock()
	if store.closed {
		return ErrClosed
	}
	return nil
}

func (store *FilesystemStore) Put(ctx context.Context, reader io.Reader) (string, error) {
	if err := store.checkOpen(); err != nil {
		return "", err
	}

	key := uuid.NewString()
	path, err := store.path(key)
	if err != nil {
		return "", err
	}

	tmpFile, err := afero.TempFile(store.fs, filepath.Join(store.root, temporaryDirectory), key+"-*")
	if err != nil {
		return "", fmt.Errorf("afero.TempFile: %w", translateFilesystemError(err))
	}
	tmpPath := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			store.fs.Remove(tmpPath)
		}
	}()

	_, err = io.Copy(tmpFile, newLimitReader(newContextReader(ctx, reader), store.maxObjectSize))
	if err == nil {
		err = tmpFile.Sync()
	}
	if closeErr := tmpFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("io.Copy: %w", translateFilesystemError(err))
	}

	if _, err := store.fs.Stat(path); err == nil {
		return "", fmt.Errorf("%w: %s", ErrKeyExists, key)
	}
	if err := store.rename(tmpPath, path); err != nil {
		return "", err
	}
	committed = true
	return key, nil
}

func (store *FilesystemStore) rename(tmpPath string, path string) error {
	var err error
	// Remove may prune the shard directory in between
	for attempt := 0; attempt < 2; attempt++ {
		if err = store.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("fs.MkdirAll: %w", translateFilesystemError(err))
		}
		err = store.fs.Rename(tmpPath, path)
		if !errors.Is(err, fs.ErrNotExist) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("fs.Rename: %w", translateFilesystemError(err))
	}
	return nil
}

func (store *FilesystemStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := store.checkOpen(); err != nil {
		return nil, err
	}
	path, err := store.path(key)
	if err != nil {
		return nil, err
	}

	file, err := store.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fs.Open: %w", translateFilesystemError(err))
	}
	return file, nil
}

func (store *FilesystemStore) Remove(ctx context.Context, key string) error {
	if err := store.checkOpen(); err != nil {
		return err
	}
	path, err := store.path(key)
	if err != nil {
		return err
	}

	err = store.fs.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fs.Remove: %w", translateFilesystemError(err))
	}

	shard := filepath.Dir(path)
	if empty, err := afero.IsEmpty(store.fs, shard); err == nil && empty {
		store.fs.Remove(shard)
	}
	return nil
}

// List skips partially written blobs and files not named like a key.
func (store *FilesystemStore) List(ctx context.Context) ([]ObjectInfo, error) {
	if err := store.checkOpen(); err != nil {
		return nil, err
	}

	objects := make([]ObjectInfo, 0)
	err := afero.Walk(store.fs, store.root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			if info.Name() == temporaryDirectory {
				return filepath.SkipDir
			}
			return nil
		}
		key := info.Name()
		if _, err := uuid.Parse(key); err != nil || !strings.HasPrefix(key, filepath.Base(filepath.Dir(path))) {
			return nil
		}
		objects = append(objects, ObjectInfo{
			Key:     key,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("afero.Walk: %w", err)
	}
	return objects, nil
}

func (store *FilesystemStore) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.closed = true
	return nil
}

func translateFilesystemError(err error) error {
	switch {
	case errors.Is(err, ErrStoreFull), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return fmt.Errorf("%w: %w", ErrStoreFull, err)
	}
	return err
}

type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func newContextReader(ctx context.Context, reader io.Reader) io.Reader {
	return &contextReader{ctx: ctx, reader: reader}
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}
