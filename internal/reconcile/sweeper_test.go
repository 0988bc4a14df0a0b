package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/michael-freling/file-drive/internal/blob"
	"github.com/michael-freling/file-drive/internal/db"
	"github.com/michael-freling/file-drive/internal/metrics"
	"github.com/michael-freling/file-drive/internal/xlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type tester struct {
	dbClient db.TestClient
	metrics  *metrics.Metrics
}

func newTester(t *testing.T) tester {
	return tester{
		dbClient: db.NewTestClient(t),
		metrics:  metrics.New(),
	}
}

func (tester tester) insertFile(t *testing.T, storageKey string) {
	t.Helper()

	_, err := tester.dbClient.Node().Insert(context.Background(), db.NewNode{
		OwnerID:    "alice",
		Kind:       db.NodeKindFile,
		Name:       storageKey,
		StorageKey: &storageKey,
	})
	require.NoError(t, err)
}

func (tester tester) getSweeper(store blob.Store, options Options) *Sweeper {
	return NewSweeper(
		xlog.Nop(),
		tester.dbClient.Client,
		store,
		options,
		WithMetrics(tester.metrics),
		WithNowFunc(func() time.Time { return testNow }),
	)
}

func TestSweeper_Sweep(t *testing.T) {
	referencedKey := uuid.NewString()
	orphanKey := uuid.NewString()
	youngOrphanKey := uuid.NewString()
	failingOrphanKey := uuid.NewString()
	objects := []blob.ObjectInfo{
		{Key: referencedKey, ModTime: testNow.Add(-48 * time.Hour)},
		{Key: orphanKey, ModTime: testNow.Add(-48 * time.Hour)},
		{Key: youngOrphanKey, ModTime: testNow.Add(-time.Minute)},
		{Key: failingOrphanKey, ModTime: testNow.Add(-25 * time.Hour)},
	}

	testCases := []struct {
		name      string
		options   Options
		setupMock func(mockStore *blob.MockStore)
		want      Stats
	}{
		{
			name:    "removes old orphans only",
			options: Options{GracePeriod: 24 * time.Hour, BatchSize: 1},
			setupMock: func(mockStore *blob.MockStore) {
				mockStore.EXPECT().Remove(gomock.Any(), orphanKey).Return(nil)
				mockStore.EXPECT().Remove(gomock.Any(), failingOrphanKey).Return(errors.New("access denied"))
			},
			want: Stats{
				Scanned:    4,
				Young:      1,
				Referenced: 1,
				Orphans:    2,
				Removed:    1,
				Errors:     1,
			},
		},
		{
			name:      "dry run",
			options:   Options{GracePeriod: 24 * time.Hour, DryRun: true},
			setupMock: func(mockStore *blob.MockStore) {},
			want: Stats{
				Scanned:    4,
				Young:      1,
				Referenced: 1,
				Orphans:    2,
			},
		},
		{
			name:    "no grace period",
			options: Options{},
			setupMock: func(mockStore *blob.MockStore) {
				mockStore.EXPECT().Remove(gomock.Any(), orphanKey).Return(nil)
				mockStore.EXPECT().Remove(gomock.Any(), youngOrphanKey).Return(nil)
				mockStore.EXPECT().Remove(gomock.Any(), failingOrphanKey).Return(blob.ErrNotFound)
			},
			want: Stats{
				Scanned:    4,
				Referenced: 1,
				Orphans:    3,
				Removed:    2,
				Errors:     1,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tester := newTester(t)
			tester.insertFile(t, referencedKey)

			mockController := gomock.NewController(t)
			mockStore := blob.NewMockStore(mockController)
			mockStore.EXPECT().List(gomock.Any()).Return(objects, nil)
			tc.setupMock(mockStore)

			got, gotErr := tester.getSweeper(mockStore, tc.options).Sweep(context.Background())
			require.NoError(t, gotErr)
			assert.Equal(t, tc.want, got)

			registry := tester.metrics.Registry()
			count, err := testutil.GatherAndCount(registry, "file_drive_sweep_runs_total")
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestSweeper_Sweep_listFailure(t *testing.T) {
	tester := newTester(t)

	mockController := gomock.NewController(t)
	mockStore := blob.NewMockStore(mockController)
	wantErr := errors.New("bucket is gone")
	mockStore.EXPECT().List(gomock.Any()).Return(nil, wantErr)

	_, err := tester.getSweeper(mockStore, Options{}).Sweep(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestSweeper_Sweep_canceled(t *testing.T) {
	tester := newTester(t)

	mockController := gomock.NewController(t)
	mockStore := blob.NewMockStore(mockController)
	mockStore.EXPECT().List(gomock.Any()).Return([]blob.ObjectInfo{
		{Key: uuid.NewString(), ModTime: testNow.Add(-48 * time.Hour)},
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := tester.getSweeper(mockStore, Options{}).Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Stats{Scanned: 1}, stats)
}

func TestSweeper_Run(t *testing.T) {
	tester := newTester(t)

	mockController := gomock.NewController(t)
	mockStore := blob.NewMockStore(mockController)
	swept := make(chan struct{})
	mockStore.EXPECT().List(gomock.Any()).DoAndReturn(func(context.Context) ([]blob.ObjectInfo, error) {
		close(swept)
		return nil, nil
	})
	mockStore.EXPECT().List(gomock.Any()).Return(nil, nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tester.getSweeper(mockStore, Options{}).Run(ctx, time.Millisecond)
	}()

	select {
	case <-swept:
	case <-time.After(5 * time.Second):
		t.Fatal("no sweep within 5 seconds")
	}
	cancel()
	<-done
}
