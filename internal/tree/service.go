// Package tree implements the owner-scoped file tree on top of the node
// repository and the blob store.
package tree

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/michael-freling/file-drive/internal/blob"
	"github.com/michael-freling/file-drive/internal/db"
	"github.com/michael-freling/file-drive/internal/metrics"
	"github.com/michael-freling/file-drive/internal/xerrors"
	"github.com/michael-freling/file-drive/internal/xslices"
)

const defaultBlobRemovalConcurrency = 8

type Service struct {
	logger    *slog.Logger
	dbClient  *db.Client
	blobStore blob.Store
	metrics   *metrics.Metrics

	blobRemovalConcurrency int
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(service *Service) {
		service.metrics = m
	}
}

func WithBlobRemovalConcurrency(concurrency int) Option {
	return func(service *Service) {
		if concurrency > 0 {
			service.blobRemovalConcurrency = concurrency
		}
	}
}

func NewService(
	logger *slog.Logger,
	dbClient *db.Client,
	blobStore blob.Store,
	options ...Option,
) *Service {
	service := &Service{
		logger:                 logger,
		dbClient:               dbClient,
		blobStore:              blobStore,
		blobRemovalConcurrency: defaultBlobRemovalConcurrency,
	}
	for _, option := range options {
		option(service)
	}
	return service
}

func (service *Service) observe(operation string, startedAt time.Time, err *error) {
	service.metrics.ObserveOperation(operation, time.Since(startedAt), *err)
}

func (service *Service) inTransaction(ctx context.Context, ownerID string, f func(ctx context.Context, nodeClient *db.NodeClient) error) error {
	nodeClient := service.dbClient.Node()
	err := db.NewTransaction(ctx, service.dbClient, func(ctx context.Context) error {
		if err := nodeClient.LockOwner(ctx, ownerID); err != nil {
			return fmt.Errorf("nodeClient.LockOwner: %w", err)
		}
		return f(ctx, nodeClient)
	})
	return translateDBError(err)
}

func (service *Service) Get(ctx context.Context, ownerID string, id string) (node Node, err error) {
	defer service.observe("get", time.Now(), &err)

	dbNode, err := service.dbClient.Node().Get(ctx, ownerID, id)
	if err != nil {
		return Node{}, fmt.Errorf("nodeClient.Get: %w", translateDBError(err))
	}
	return fromDBNode(dbNode), nil
}

func (service *Service) ListChildren(ctx context.Context, ownerID string, parentID *string) (children []Node, err error) {
	defer service.observe("list_children", time.Now(), &err)

	nodeClient := service.dbClient.Node()
	if parentID != nil {
		parent, err := nodeClient.Get(ctx, ownerID, *parentID)
		if err != nil {
			return nil, fmt.Errorf("nodeClient.Get: %w", translateDBError(err))
		}
		if parent.Kind != db.NodeKindFolder {
			return nil, fmt.Errorf("%w: %s is a file", xerrors.ErrInvalidParent, parent.ID)
		}
	}

	dbNodes, err := nodeClient.ListChildren(ctx, ownerID, parentID)
	if err != nil {
		return nil, fmt.Errorf("nodeClient.ListChildren: %w", translateDBError(err))
	}
	return xslices.Map(dbNodes, fromDBNode), nil
}

func (service *Service) CreateFolder(ctx context.Context, ownerID string, name string, parentID *string) (node Node, err error) {
	defer service.observe("create_folder", time.Now(), &err)

	if err := validateOwner(ownerID); err != nil {
		return Node{}, err
	}
	if err := validateName(name); err != nil {
		return Node{}, fmt.Errorf("%w: %q", err, name)
	}

	var created db.Node
	err = service.inTransaction(ctx, ownerID, func(ctx context.Context, nodeClient *db.NodeClient) error {
		var err error
		created, err = nodeClient.Insert(ctx, db.NewNode{
			OwnerID:  ownerID,
			Kind:     db.NodeKindFolder,
			Name:     name,
			ParentID: parentID,
		})
		if err != nil {
			return fmt.Errorf("nodeClient.Insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	return fromDBNode(created), nil
}

// CreateFile stores the contents before inserting the node. When the insert
// fails, the blob is removed again.
func (service *Service) CreateFile(
	ctx context.Context,
	ownerID string,
	name string,
	parentID *string,
	contents io.Reader,
	mimeType *string,
) (node Node, err error) {
	defer service.observe("create_file", time.Now(), &err)

	if err := validateOwner(ownerID); err != nil {
		return Node{}, err
	}
	if err := validateName(name); err != nil {
		return Node{}, fmt.Errorf("%w: %q", err, name)
	}

	storageKey, err := service.blobStore.Put(ctx, contents)
	if err != nil {
		return Node{}, fmt.Errorf("blobStore.Put: %w", translateBlobError(err))
	}

	var created db.Node
	err = service.inTransaction(ctx, ownerID, func(ctx context.Context, nodeClient *db.NodeClient) error {
		var err error
		created, err = nodeClient.Insert(ctx, db.NewNode{
			OwnerID:    ownerID,
			Kind:       db.NodeKindFile,
			Name:       name,
			ParentID:   parentID,
			StorageKey: &storageKey,
			MimeType:   mimeType,
		})
		if err != nil {
			return fmt.Errorf("nodeClient.Insert: %w", err)
		}
		return nil
	})
	if err != nil {
		// the request may be canceled already
		if removeErr := service.blobStore.Remove(context.WithoutCancel(ctx), storageKey); removeErr != nil {
			service.logger.ErrorContext(ctx, "failed to remove the blob of a file that was not created",
				"storageKey", storageKey,
				"error", removeErr,
			)
			service.metrics.BlobRemovalFailed()
		}
		return Node{}, err
	}
	return fromDBNode(created), nil
}

// OpenFile returns a file node and a reader over its contents, which the
// caller must close. Folders are reported as not found.
func (service *Service) OpenFile(ctx context.Context, ownerID string, id string) (node Node, reader io.ReadCloser, err error) {
	defer service.observe("open_file", time.Now(), &err)

	dbNode, err := service.dbClient.Node().Get(ctx, ownerID, id)
	if err != nil {
		return Node{}, nil, fmt.Errorf("nodeClient.Get: %w", translateDBError(err))
	}
	if dbNode.Kind != db.NodeKindFile || dbNode.StorageKey == nil {
		return Node{}, nil, fmt.Errorf("%w: %s is a folder", xerrors.ErrNotFound, id)
	}

	reader, err = service.blobStore.Open(ctx, *dbNode.StorageKey)
	if err != nil {
		return Node{}, nil, fmt.Errorf("blobStore.Open: %w", translateBlobError(err))
	}
	return fromDBNode(dbNode), reader, nil
}

func (service *Service) Rename(ctx context.Context, ownerID string, id string, newName string) (node Node, err error) {
	defer service.observe("rename", time.Now(), &err)

	return service.update(ctx, ownerID, id, NodeUpdate{Name: &newName})
}

// Move reparents a node. A nil newParentID moves it to the owner's root.
func (service *Service) Move(ctx context.Context, ownerID string, id string, newParentID *string) (node Node, err error) {
	defer service.observe("move", time.Now(), &err)

	return service.update(ctx, ownerID, id, NodeUpdate{
		ParentID:     newParentID,
		UpdateParent: true,
	})
}

// Update applies a rename and a move in one transaction.
func (service *Service) Update(ctx context.Context, ownerID string, id string, update NodeUpdate) (node Node, err error) {
	defer service.observe("update", time.Now(), &err)

	return service.update(ctx, ownerID, id, update)
}

func (service *Service) update(ctx context.Context, ownerID string, id string, update NodeUpdate) (Node, error) {
	if update.Name == nil && !update.UpdateParent {
		return Node{}, fmt.Errorf("%w: nothing to update on %s", xerrors.ErrInvalidArgument, id)
	}
	if update.Name != nil {
		if err := validateName(*update.Name); err != nil {
			return Node{}, fmt.Errorf("%w: %q", err, *update.Name)
		}
	}

	var updated db.Node
	err := service.inTransaction(ctx, ownerID, func(ctx context.Context, nodeClient *db.NodeClient) error {
		target, err := nodeClient.GetForUpdate(ctx, ownerID, id)
		if err != nil {
			return fmt.Errorf("nodeClient.GetForUpdate: %w", err)
		}

		dbUpdate := db.NodeUpdate{
			Name: update.Name,
		}
		if update.UpdateParent {
			if err := checkNewParent(ctx, nodeClient, target, update.ParentID); err != nil {
				return err
			}
			dbUpdate.ParentID = update.ParentID
			dbUpdate.UpdateParent = !sameParent(target.ParentID, update.ParentID)
		}
		if dbUpdate.Name == nil && !dbUpdate.UpdateParent {
			updated = target
			return nil
		}

		updated, err = nodeClient.Update(ctx, ownerID, id, dbUpdate)
		if err != nil {
			return fmt.Errorf("nodeClient.Update: %w", err)
		}
		return nil
	})
	if err != nil {
		return Node{}, err
	}
	return fromDBNode(updated), nil
}

func checkNewParent(ctx context.Context, nodeClient *db.NodeClient, target db.Node, newParentID *string) error {
	if newParentID == nil {
		return nil
	}
	if *newParentID == target.ID {
		return fmt.Errorf("%w: %s cannot be its own parent", xerrors.ErrCycle, target.ID)
	}

	parent, err := nodeClient.GetForUpdate(ctx, target.OwnerID, *newParentID)
	if err != nil {
		return fmt.Errorf("nodeClient.GetForUpdate: %w", translateParentError(err))
	}
	if parent.Kind != db.NodeKindFolder {
		return fmt.Errorf("%w: %s is a file", xerrors.ErrInvalidParent, parent.ID)
	}
	if sameParent(target.ParentID, newParentID) {
		return nil
	}

	ancestors, err := nodeClient.AncestorChain(ctx, target.OwnerID, *newParentID)
	if err != nil {
		return fmt.Errorf("nodeClient.AncestorChain: %w", err)
	}
	for _, ancestor := range ancestors {
		if ancestor.ID == target.ID {
			return fmt.Errorf("%w: %s is below %s", xerrors.ErrCycle, *newParentID, target.ID)
		}
	}
	return nil
}
