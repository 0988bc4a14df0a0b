package blob

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilesystemStore(t *testing.T, maxObjectSize int64) (*FilesystemStore, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	store, err := NewFilesystemStore(fs, FilesystemConfig{
		Root:          "/blobs",
		MaxObjectSize: maxObjectSize,
	})
	require.NoError(t, err)
	return store, fs
}

func readAll(t *testing.T, store Store, key string) string {
	t.Helper()

	reader, err := store.Open(context.Background(), key)
	require.NoError(t, err)
	defer reader.Close()
	contents, err := io.ReadAll(reader)
	require.NoError(t, err)
	return string(contents)
}

func TestFilesystemStore_Put(t *testing.T) {
	testCases := []struct {
		name          string
		contents      string
		maxObjectSize int64
		wantErr       error
	}{
		{name: "small blob", contents: "hello"},
		{name: "empty blob", contents: ""},
		{name: "exactly the limit", contents: "12345", maxObjectSize: 5},
		{name: "over the limit", contents: "123456", maxObjectSize: 5, wantErr: ErrStoreFull},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store, fs := newTestFilesystemStore(t, tc.maxObjectSize)

			key, gotErr := store.Put(context.Background(), strings.NewReader(tc.contents))
			if tc.wantErr != nil {
				assert.ErrorIs(t, gotErr, tc.wantErr)

				// nothing is left behind
				objects, err := store.List(context.Background())
				require.NoError(t, err)
				assert.Empty(t, objects)
				tmpFiles, err := afero.ReadDir(fs, filepath.Join("/blobs", temporaryDirectory))
				require.NoError(t, err)
				assert.Empty(t, tmpFiles)
				return
			}
			require.NoError(t, gotErr)
			_, err := uuid.Parse(key)
			require.NoError(t, err)
			assert.Equal(t, tc.contents, readAll(t, store, key))

			exists, err := afero.Exists(fs, filepath.Join("/blobs", key[:2], key))
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestFilesystemStore_Put_canceled(t *testing.T) {
	store, _ := newTestFilesystemStore(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, strings.NewReader("hello"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilesystemStore_Open(t *testing.T) {
	store, _ := newTestFilesystemStore(t, 0)

	testCases := []struct {
		name    string
		key     string
		wantErr error
	}{
		{name: "missing blob", key: uuid.NewString(), wantErr: ErrNotFound},
		{name: "path traversal", key: "../../etc/passwd", wantErr: ErrInvalidKey},
		{name: "malformed key is not found", key: "not-a-key", wantErr: ErrNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, gotErr := store.Open(context.Background(), tc.key)
			assert.ErrorIs(t, gotErr, tc.wantErr)
		})
	}
}

func TestFilesystemStore_Remove(t *testing.T) {
	store, fs := newTestFilesystemStore(t, 0)
	ctx := context.Background()

	key, err := store.Put(ctx, strings.NewReader("hello"))
	require.NoError(t, err)

	require.NoError(t, store.Remove(ctx, key))
	_, err = store.Open(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := afero.DirExists(fs, filepath.Join("/blobs", key[:2]))
	require.NoError(t, err)
	assert.False(t, exists, "empty shard directory is pruned")

	// removing twice is fine
	assert.NoError(t, store.Remove(ctx, key))
}

func TestFilesystemStore_List(t *testing.T) {
	store, fs := newTestFilesystemStore(t, 0)
	ctx := context.Background()

	wantKeys := make([]string, 0)
	for _, contents := range []string{"a", "bb", "ccc"} {
		key, err := store.Put(ctx, strings.NewReader(contents))
		require.NoError(t, err)
		wantKeys = append(wantKeys, key)
	}
	// partial writes and unrelated files are ignored
	require.NoError(t, afero.WriteFile(fs, filepath.Join("/blobs", temporaryDirectory, uuid.NewString()), []byte("partial"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/blobs/README", []byte("readme"), 0644))

	objects, err := store.List(ctx)
	require.NoError(t, err)
	gotKeys := make([]string, 0, len(objects))
	for _, object := range objects {
		gotKeys = append(gotKeys, object.Key)
		assert.False(t, object.ModTime.IsZero())
	}
	assert.ElementsMatch(t, wantKeys, gotKeys)
}

func TestFilesystemStore_Close(t *testing.T) {
	store, _ := newTestFilesystemStore(t, 0)
	require.NoError(t, store.Close())

	ctx := context.Background()
	_, err := store.Put(ctx, strings.NewReader("hello"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.List(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Remove(ctx, uuid.NewString()), ErrClosed)
}
