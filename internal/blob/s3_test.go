package blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 keeps objects in memory and pages listings by two objects.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(params.Key)
	if _, ok := f.objects[key]; ok && aws.ToString(params.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed"}
	}
	contents, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = contents
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(contents))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) && key > aws.ToString(params.ContinuationToken) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	output := &s3.ListObjectsV2Output{}
	for index, key := range keys {
		if index == 2 {
			output.IsTruncated = aws.Bool(true)
			output.NextContinuationToken = aws.String(keys[index-1])
			break
		}
		output.Contents = append(output.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(f.objects[key]))),
			LastModified: aws.Time(time.Now()),
		})
	}
	return output, nil
}

func TestS3Store(t *testing.T) {
	client := newFakeS3()
	store := NewS3Store(client, S3Config{
		Bucket:        "drive",
		KeyPrefix:     "blobs/",
		MaxObjectSize: 8,
	})
	ctx := context.Background()

	wantKeys := make([]string, 0)
	for _, contents := range []string{"a", "bb", "ccc", "dddd", "eeeee"} {
		key, err := store.Put(ctx, strings.NewReader(contents))
		require.NoError(t, err)
		assert.Contains(t, client.objects, "blobs/"+key)
		assert.Equal(t, contents, readAll(t, store, key))
		wantKeys = append(wantKeys, key)
	}
	client.objects["blobs/not-a-key"] = []byte("ignored")

	t.Run("list pages through every object", func(t *testing.T) {
		objects, err := store.List(ctx)
		require.NoError(t, err)
		gotKeys := make([]string, 0, len(objects))
		for _, object := range objects {
			gotKeys = append(gotKeys, object.Key)
		}
		assert.ElementsMatch(t, wantKeys, gotKeys)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := store.Put(ctx, strings.NewReader("123456789"))
		assert.ErrorIs(t, err, ErrStoreFull)
	})

	t.Run("missing blob", func(t *testing.T) {
		_, err := store.Open(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		require.NoError(t, store.Remove(ctx, wantKeys[0]))
		require.NoError(t, store.Remove(ctx, wantKeys[0]))
		_, err := store.Open(ctx, wantKeys[0])
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("closed", func(t *testing.T) {
		require.NoError(t, store.Close())
		_, err := store.Put(ctx, strings.NewReader("a"))
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestTranslateS3Error(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want error
	}{
		{name: "no such key", err: &types.NoSuchKey{}, want: ErrNotFound},
		{name: "precondition failed", err: &smithy.GenericAPIError{Code: "PreconditionFailed"}, want: ErrKeyExists},
		{name: "too large", err: &smithy.GenericAPIError{Code: "EntityTooLarge"}, want: ErrStoreFull},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, translateS3Error(tc.err), tc.want)
		})
	}
}
