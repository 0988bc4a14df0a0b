package tree

import (
	"context"
	"fmt"
	"time"

	"github.com/michael-freling/file-drive/internal/db"
	"golang.org/x/sync/errgroup"
)

// DeleteRecursive deletes a node with all of its descendants in one
// transaction and removes their blobs once the transaction has committed.
// Nothing is deleted when it fails or is canceled before the commit.
func (service *Service) DeleteRecursive(ctx context.Context, ownerID string, id string) (err error) {
	defer service.observe("delete_recursive", time.Now(), &err)

	var storageKeys []string
	var deleted int
	err = service.inTransaction(ctx, ownerID, func(ctx context.Context, nodeClient *db.NodeClient) error {
		target, err := nodeClient.GetForUpdate(ctx, ownerID, id)
		if err != nil {
			return fmt.Errorf("nodeClient.GetForUpdate: %w", err)
		}

		levels, keys, err := collectSubtree(ctx, nodeClient, target)
		if err != nil {
			return err
		}

		// deepest level first so that no row outlives its parent
		deleted = 0
		for depth := len(levels) - 1; depth >= 0; depth-- {
			if err := ctx.Err(); err != nil {
				return err
			}
			count, err := nodeClient.DeleteAll(ctx, ownerID, levels[depth])
			if err != nil {
				return fmt.Errorf("nodeClient.DeleteAll: %w", err)
			}
			if int(count) != len(levels[depth]) {
				return fmt.Errorf("%w: deleted %d of %d nodes at depth %d",
					db.ErrConflict, count, len(levels[depth]), depth)
			}
			deleted += int(count)
		}
		storageKeys = keys
		return nil
	})
	if err != nil {
		return err
	}

	service.metrics.NodesDeleted(deleted)
	service.logger.InfoContext(ctx, "deleted a subtree",
		"ownerID", ownerID,
		"id", id,
		"nodes", deleted,
		"blobs", len(storageKeys),
	)
	service.removeBlobs(context.WithoutCancel(ctx), storageKeys)
	return nil
}

func collectSubtree(ctx context.Context, nodeClient *db.NodeClient, root db.Node) ([][]string, []string, error) {
	levels := [][]string{{root.ID}}
	storageKeys := make([]string, 0)
	if root.StorageKey != nil {
		storageKeys = append(storageKeys, *root.StorageKey)
	}

	visited := map[string]struct{}{root.ID: {}}
	frontier := make([]string, 0, 1)
	if root.IsFolder() {
		frontier = append(frontier, root.ID)
	}
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if len(levels) > db.MaxTreeDepth {
			return nil, nil, fmt.Errorf("subtree of %s is deeper than %d levels", root.ID, db.MaxTreeDepth)
		}

		children, err := nodeClient.ListChildrenOf(ctx, root.OwnerID, frontier, true)
		if err != nil {
			return nil, nil, fmt.Errorf("nodeClient.ListChildrenOf: %w", err)
		}
		if len(children) == 0 {
			break
		}

		level := make([]string, 0, len(children))
		frontier = make([]string, 0)
		for _, child := range children {
			if _, ok := visited[child.ID]; ok {
				return nil, nil, fmt.Errorf("node %s is reachable twice below %s", child.ID, root.ID)
			}
			visited[child.ID] = struct{}{}

			level = append(level, child.ID)
			if child.StorageKey != nil {
				storageKeys = append(storageKeys, *child.StorageKey)
			}
			if child.IsFolder() {
				frontier = append(frontier, child.ID)
			}
		}
		levels = append(levels, level)
	}
	return levels, storageKeys, nil
}

func (service *Service) removeBlobs(ctx context.Context, storageKeys []string) {
	if len(storageKeys) == 0 {
		return
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(service.blobRemovalConcurrency)
	for _, storageKey := range storageKeys {
		group.Go(func() error {
			if err := service.blobStore.Remove(ctx, storageKey); err != nil {
				service.logger.WarnContext(ctx, "failed to remove a blob",
					"storageKey", storageKey,
					"error", err,
				)
				service.metrics.BlobRemovalFailed()
			}
			return nil
		})
	}
	_ = group.Wait()
}
