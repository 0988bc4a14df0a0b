package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/michael-freling/file-drive/internal/xslices"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NodeKind string

const (
	NodeKindFolder NodeKind = "folder"
	NodeKindFile   NodeKind = "file"
)

const (
	// MaxTreeDepth bounds the ancestor walk so a corrupted parent chain
	// cannot make a query run forever.
	MaxTreeDepth = 4096

	// batchSize keeps IN (...) lists under the bind parameter limits.
	batchSize = 500
)

type Node struct {
	ID         string   `gorm:"primaryKey;size:36"`
	OwnerID    string   `gorm:"not null;size:255;index:idx_nodes_owner_parent_name,priority:1"`
	Kind       NodeKind `gorm:"not null;size:16;check:chk_nodes_kind,kind IN ('folder', 'file')"`
	Name       string   `gorm:"not null;size:255;index:idx_nodes_owner_parent_name,priority:3;check:chk_nodes_name,name <> ''"`
	ParentID   *string  `gorm:"size:36;index:idx_nodes_owner_parent_name,priority:2"`
	StorageKey *string  `gorm:"size:64;uniqueIndex;check:chk_nodes_storage_key,(kind = 'file' AND storage_key IS NOT NULL) OR (kind = 'folder' AND storage_key IS NULL)"`
	MimeType   *string  `gorm:"size:255"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Children is only declared for the foreign key on parent_id.
	Children []Node `gorm:"foreignKey:ParentID"`
}

func (node Node) IsFolder() bool {
	return node.Kind == NodeKindFolder
}

type NewNode struct {
	OwnerID    string
	Kind       NodeKind
	Name       string
	ParentID   *string
	StorageKey *string
	MimeType   *string
}

type NodeUpdate struct {
	Name *string

	// ParentID is only applied when UpdateParent is set, so that nil can
	// move a node to the root.
	ParentID     *string
	UpdateParent bool
}

type NodeClient struct {
	client *Client
}

func (nodeClient *NodeClient) lockRows(conn *gorm.DB) *gorm.DB {
	if nodeClient.client.dialect != DialectPostgres {
		return conn
	}
	return conn.Clauses(clause.Locking{Strength: "UPDATE"})
}

// LockOwner serializes tree mutations of an owner until the surrounding
// transaction ends. sqlite is serialized by its single connection already.
func (nodeClient *NodeClient) LockOwner(ctx context.Context, ownerID string) error {
	tx := transactionFromContext(ctx)
	if tx == nil {
		return ErrNoTransaction
	}
	if nodeClient.client.dialect != DialectPostgres {
		return nil
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", ownerID).Error; err != nil {
		return fmt.Errorf("pg_advisory_xact_lock: %w", translateError(err))
	}
	return nil
}

func (nodeClient *NodeClient) Insert(ctx context.Context, newNode NewNode) (Node, error) {
	conn := nodeClient.client.conn(ctx)
	if newNode.ParentID != nil {
		if err := nodeClient.checkParent(conn, newNode.OwnerID, *newNode.ParentID); err != nil {
			return Node{}, err
		}
	}

	node := Node{
		ID:         uuid.NewString(),
		OwnerID:    newNode.OwnerID,
		Kind:       newNode.Kind,
		Name:       newNode.Name,
		ParentID:   newNode.ParentID,
		StorageKey: newNode.StorageKey,
		MimeType:   newNode.MimeType,
	}
	if err := conn.Create(&node).Error; err != nil {
		err = translateError(err)
		if errors.Is(err, ErrForeignKeyViolated) {
			return Node{}, fmt.Errorf("%w: %w", ErrInvalidParent, err)
		}
		return Node{}, fmt.Errorf("Create: %w", err)
	}
	return node, nil
}

// checkParent locks the parent row and requires it to be a folder of the owner.
func (nodeClient *NodeClient) checkParent(conn *gorm.DB, ownerID string, parentID string) error {
	var parent Node
	err := nodeClient.lockRows(conn).
		Where("id = ? AND owner_id = ?", parentID, ownerID).
		Take(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s does not exist", ErrInvalidParent, parentID)
	}
	if err != nil {
		return fmt.Errorf("Take: %w", translateError(err))
	}
	if !parent.IsFolder() {
		return fmt.Errorf("%w: %s is a %s", ErrInvalidParent, parentID, parent.Kind)
	}
	return nil
}

func (nodeClient *NodeClient) Get(ctx context.Context, ownerID string, id string) (Node, error) {
	return nodeClient.get(nodeClient.client.conn(ctx), ownerID, id)
}

// GetForUpdate is Get with a row lock held until the transaction ends.
func (nodeClient *NodeClient) GetForUpdate(ctx context.Context, ownerID string, id string) (Node, error) {
	return nodeClient.get(nodeClient.lockRows(nodeClient.client.conn(ctx)), ownerID, id)
}

func (nodeClient *NodeClient) get(conn *gorm.DB, ownerID string, id string) (Node, error) {
	var node Node
	err := conn.Where("id = ? AND owner_id = ?", id, ownerID).Take(&node).Error
	if err != nil {
		return Node{}, fmt.Errorf("Take: %w", translateError(err))
	}
	return node, nil
}

// ListChildren returns the direct children of parentID ordered by name.
// A nil parentID lists the owner's root.
func (nodeClient *NodeClient) ListChildren(ctx context.Context, ownerID string, parentID *string) ([]Node, error) {
	query := nodeClient.client.conn(ctx).Where("owner_id = ?", ownerID)
	if parentID == nil {
		query = query.Where("parent_id IS NULL")
	} else {
		query = query.Where("parent_id = ?", *parentID)
	}

	var nodes []Node
	if err := query.Order("name").Order("id").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("Find: %w", translateError(err))
	}
	return nodes, nil
}

// ListChildrenOf returns the children of every node in parentIDs. With lock,
// the returned rows stay locked until the transaction ends.
func (nodeClient *NodeClient) ListChildrenOf(ctx context.Context, ownerID string, parentIDs []string, lock bool) ([]Node, error) {
	conn := nodeClient.client.conn(ctx)
	if lock {
		conn = nodeClient.lockRows(conn)
	}

	result := make([]Node, 0)
	for _, chunk := range xslices.Chunk(parentIDs, batchSize) {
		var nodes []Node
		err := conn.
			Where("owner_id = ? AND parent_id IN ?", ownerID, chunk).
			Order("id").
			Find(&nodes).Error
		if err != nil {
			return nil, fmt.Errorf("Find: %w", translateError(err))
		}
		result = append(result, nodes...)
	}
	return result, nil
}

func (nodeClient *NodeClient) Update(ctx context.Context, ownerID string, id string, update NodeUpdate) (Node, error) {
	conn := nodeClient.client.conn(ctx)

	values := map[string]any{
		"updated_at": conn.NowFunc(),
	}
	if update.Name != nil {
		values["name"] = *update.Name
	}
	if update.UpdateParent {
		if update.ParentID == nil {
			values["parent_id"] = nil
		} else {
			if err := nodeClient.checkParent(conn, ownerID, *update.ParentID); err != nil {
				return Node{}, err
			}
			values["parent_id"] = *update.ParentID
		}
	}

	result := conn.Model(&Node{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Updates(values)
	if result.Error != nil {
		err := translateError(result.Error)
		if errors.Is(err, ErrForeignKeyViolated) {
			return Node{}, fmt.Errorf("%w: %w", ErrInvalidParent, err)
		}
		return Node{}, fmt.Errorf("Updates: %w", err)
	}
	if result.RowsAffected == 0 {
		return Node{}, fmt.Errorf("Updates: %w", ErrRecordNotFound)
	}
	return nodeClient.get(conn, ownerID, id)
}

// Delete removes a single node. It fails with ErrForeignKeyViolated while the
// node still has children.
func (nodeClient *NodeClient) Delete(ctx context.Context, ownerID string, id string) error {
	result := nodeClient.client.conn(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Delete(&Node{})
	if result.Error != nil {
		return fmt.Errorf("Delete: %w", translateError(result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("Delete: %w", ErrRecordNotFound)
	}
	return nil
}

// DeleteAll removes the nodes in ids and returns how many rows were deleted.
// The nodes must not have children outside of ids.
func (nodeClient *NodeClient) DeleteAll(ctx context.Context, ownerID string, ids []string) (int64, error) {
	conn := nodeClient.client.conn(ctx)

	var deleted int64
	for _, chunk := range xslices.Chunk(ids, batchSize) {
		result := conn.
			Where("owner_id = ? AND id IN ?", ownerID, chunk).
			Delete(&Node{})
		if result.Error != nil {
			return deleted, fmt.Errorf("Delete: %w", translateError(result.Error))
		}
		deleted += result.RowsAffected
	}
	return deleted, nil
}

// AncestorChain returns id followed by its ancestors up to the root.
func (nodeClient *NodeClient) AncestorChain(ctx context.Context, ownerID string, id string) ([]Node, error) {
	var chain []Node
	err := nodeClient.client.conn(ctx).Raw(`
WITH RECURSIVE ancestors (id, parent_id, depth) AS (
	SELECT id, parent_id, 0 FROM nodes WHERE id = ? AND owner_id = ?
	UNION ALL
	SELECT nodes.id, nodes.parent_id, ancestors.depth + 1
	FROM nodes JOIN ancestors ON nodes.id = ancestors.parent_id
	WHERE nodes.owner_id = ? AND ancestors.depth < ?
)
SELECT nodes.* FROM nodes JOIN ancestors ON nodes.id = ancestors.id
ORDER BY ancestors.depth`,
		id, ownerID, ownerID, MaxTreeDepth,
	).Scan(&chain).Error
	if err != nil {
		return nil, fmt.Errorf("Raw: %w", translateError(err))
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("AncestorChain: %w", ErrRecordNotFound)
	}
	return chain, nil
}

// FindReferencedStorageKeys returns the subset of keys that a node refers to.
func (nodeClient *NodeClient) FindReferencedStorageKeys(ctx context.Context, keys []string) (map[string]struct{}, error) {
	conn := nodeClient.client.conn(ctx)

	referenced := make(map[string]struct{}, len(keys))
	for _, chunk := range xslices.Chunk(keys, batchSize) {
		var found []string
		err := conn.Model(&Node{}).
			Where("storage_key IN ?", chunk).
			Pluck("storage_key", &found).Error
		if err != nil {
			return nil, fmt.Errorf("Pluck: %w", translateError(err))
		}
		for _, key := range found {
			referenced[key] = struct{}{}
		}
	}
	return referenced, nil
}
