//go:build integration

package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newPostgresTestClient(t *testing.T) *Client {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("file_drive_test"),
		postgres.WithUsername("file_drive_test"),
		postgres.WithPassword("file_drive_test"),
		testcontainers.WithWaitStrategyAndDeadline(5*time.Minute,
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := NewClient(DialectPostgres, DSN(connStr), WithNopLogger(), WithPool(10, 2))
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
	})
	require.NoError(t, client.Migrate())
	return client
}

func TestPostgres_NodeClient(t *testing.T) {
	client := newPostgresTestClient(t)
	nodeClient := client.Node()
	ctx := context.Background()

	docs, err := nodeClient.Insert(ctx, NewNode{OwnerID: "alice", Kind: NodeKindFolder, Name: "docs"})
	require.NoError(t, err)
	nested, err := nodeClient.Insert(ctx, NewNode{OwnerID: "alice", Kind: NodeKindFolder, Name: "2024", ParentID: &docs.ID})
	require.NoError(t, err)
	storageKey := "key-report"
	report, err := nodeClient.Insert(ctx, NewNode{OwnerID: "alice", Kind: NodeKindFile, Name: "report.pdf", ParentID: &nested.ID, StorageKey: &storageKey})
	require.NoError(t, err)

	t.Run("ancestor chain", func(t *testing.T) {
		chain, err := nodeClient.AncestorChain(ctx, "alice", report.ID)
		require.NoError(t, err)
		require.Len(t, chain, 3)
		assert.Equal(t, []string{report.ID, nested.ID, docs.ID}, []string{chain[0].ID, chain[1].ID, chain[2].ID})
	})

	t.Run("constraints", func(t *testing.T) {
		_, err := nodeClient.Insert(ctx, NewNode{OwnerID: "alice", Kind: NodeKindFile, Name: "x"})
		assert.ErrorIs(t, err, ErrCheckConstraintViolated)

		_, err = nodeClient.Insert(ctx, NewNode{OwnerID: "alice", Kind: NodeKindFile, Name: "x", StorageKey: &storageKey})
		assert.ErrorIs(t, err, ErrDuplicatedKey)

		assert.ErrorIs(t, nodeClient.Delete(ctx, "alice", docs.ID), ErrForeignKeyViolated)
	})

	t.Run("owner lock serializes transactions", func(t *testing.T) {
		locked := make(chan struct{})
		release := make(chan struct{})
		var order []string
		var mu sync.Mutex
		record := func(name string) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := NewTransaction(ctx, client, func(ctx context.Context) error {
				if err := nodeClient.LockOwner(ctx, "alice"); err != nil {
					return err
				}
				close(locked)
				<-release
				record("first")
				return nil
			})
			assert.NoError(t, err)
		}()

		<-locked
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := NewTransaction(ctx, client, func(ctx context.Context) error {
				if err := nodeClient.LockOwner(ctx, "alice"); err != nil {
					return err
				}
				record("second")
				return nil
			})
			assert.NoError(t, err)
		}()

		time.Sleep(200 * time.Millisecond)
		close(release)
		wg.Wait()
		assert.Equal(t, []string{"first", "second"}, order)
	})
}
