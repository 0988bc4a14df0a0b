package tree

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/michael-freling/file-drive/internal/blob"
	"github.com/michael-freling/file-drive/internal/db"
	"github.com/michael-freling/file-drive/internal/metrics"
	"github.com/michael-freling/file-drive/internal/xlog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type Tester struct {
	dbClient  db.TestClient
	blobStore *blob.FilesystemStore
	clock     *clock
	metrics   *metrics.Metrics
}

type testerOption struct {
	maxObjectSize int64
}

type newTesterOption func(*testerOption)

func withMaxObjectSize(size int64) newTesterOption {
	return func(o *testerOption) {
		o.maxObjectSize = size
	}
}

func newTester(t *testing.T, opts ...newTesterOption) Tester {
	t.Helper()

	defaultOption := &testerOption{}
	for _, opt := range opts {
		opt(defaultOption)
	}

	testClock := &clock{now: testNow}
	dbClient := db.NewTestClient(t, db.WithNowFunc(testClock.Now))

	blobStore, err := blob.NewFilesystemStore(afero.NewMemMapFs(), blob.FilesystemConfig{
		Root:          "/blobs",
		MaxObjectSize: defaultOption.maxObjectSize,
	})
	require.NoError(t, err)

	return Tester{
		dbClient:  dbClient,
		blobStore: blobStore,
		clock:     testClock,
		metrics:   metrics.New(),
	}
}

func (tester Tester) getService() *Service {
	return tester.getServiceWithStore(tester.blobStore)
}

func (tester Tester) getServiceWithStore(store blob.Store) *Service {
	return NewService(
		xlog.Nop(),
		tester.dbClient.Client,
		store,
		WithMetrics(tester.metrics),
		WithBlobRemovalConcurrency(2),
	)
}

// getServiceWithMockStore returns a service whose blob store is a mock that
// delegates to the real store unless setupMock overrides a call.
func (tester Tester) getServiceWithMockStore(t *testing.T, setupMock func(mockStore *blob.MockStore)) *Service {
	t.Helper()

	mockController := gomock.NewController(t)
	mockStore := blob.NewMockStore(mockController)
	setupMock(mockStore)
	mockStore.EXPECT().Put(gomock.Any(), gomock.Any()).DoAndReturn(tester.blobStore.Put).AnyTimes()
	mockStore.EXPECT().Open(gomock.Any(), gomock.Any()).DoAndReturn(tester.blobStore.Open).AnyTimes()
	mockStore.EXPECT().Remove(gomock.Any(), gomock.Any()).DoAndReturn(tester.blobStore.Remove).AnyTimes()
	return tester.getServiceWithStore(mockStore)
}

func (tester Tester) allNodes(t *testing.T) map[string]db.Node {
	t.Helper()

	nodes, err := db.GetAll[db.Node](tester.dbClient.Client)
	require.NoError(t, err)
	result := make(map[string]db.Node, len(nodes))
	for _, node := range nodes {
		result[node.ID] = node
	}
	return result
}

func (tester Tester) blobKeys(t *testing.T) []string {
	t.Helper()

	objects, err := tester.blobStore.List(context.Background())
	require.NoError(t, err)
	keys := make([]string, 0, len(objects))
	for _, object := range objects {
		keys = append(keys, object.Key)
	}
	return keys
}

func (tester Tester) readBlob(t *testing.T, key string) (string, error) {
	t.Helper()

	reader, err := tester.blobStore.Open(context.Background(), key)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	contents, err := io.ReadAll(reader)
	require.NoError(t, err)
	return string(contents), nil
}

// fixture creates nodes from a compact description. Keys are names used
// to refer to the created nodes; a parent refers to an earlier key.
type fixtureNode struct {
	key      string
	ownerID  string
	kind     Kind
	parent   string
	contents string
}

func (tester Tester) createFixture(t *testing.T, fixtures []fixtureNode) map[string]Node {
	t.Helper()

	service := tester.getService()
	ctx := context.Background()
	created := make(map[string]Node, len(fixtures))
	for _, fixture := range fixtures {
		ownerID := fixture.ownerID
		if ownerID == "" {
			ownerID = "alice"
		}
		var parentID *string
		if fixture.parent != "" {
			parent, ok := created[fixture.parent]
			require.True(t, ok, "parent %s is not created yet", fixture.parent)
			parentID = &parent.ID
		}

		var node Node
		var err error
		if fixture.kind == KindFile {
			node, err = service.CreateFile(ctx, ownerID, fixture.key, parentID, strings.NewReader(fixture.contents), nil)
		} else {
			node, err = service.CreateFolder(ctx, ownerID, fixture.key, parentID)
		}
		require.NoError(t, err)
		created[fixture.key] = node
	}
	return created
}

func ptr[T any](value T) *T {
	return &value
}
