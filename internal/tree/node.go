package tree

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/michael-freling/file-drive/internal/db"
	"github.com/michael-freling/file-drive/internal/xerrors"
)

const maxNameLength = 255

type Kind string

const (
	KindFolder Kind = "folder"
	KindFile   Kind = "file"
)

type Node struct {
	ID       string  `json:"id"`
	OwnerID  string  `json:"owner_id"`
	Kind     Kind    `json:"kind"`
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
	MimeType *string `json:"mime_type,omitempty"`

	// StorageKey is internal to the drive and never leaves the process.
	StorageKey *string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (node Node) IsFolder() bool {
	return node.Kind == KindFolder
}

func fromDBNode(node db.Node) Node {
	return Node{
		ID:         node.ID,
		OwnerID:    node.OwnerID,
		Kind:       Kind(node.Kind),
		Name:       node.Name,
		ParentID:   node.ParentID,
		MimeType:   node.MimeType,
		StorageKey: node.StorageKey,
		CreatedAt:  node.CreatedAt,
		UpdatedAt:  node.UpdatedAt,
	}
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return xerrors.ErrInvalidName
	}
	if len(name) > maxNameLength {
		return xerrors.ErrInvalidName
	}
	if !utf8.ValidString(name) {
		return xerrors.ErrInvalidName
	}
	return nil
}

func validateOwner(ownerID string) error {
	if ownerID == "" {
		return xerrors.ErrInvalidArgument
	}
	return nil
}

type NodeUpdate struct {
	Name *string

	// ParentID is only applied when UpdateParent is set, so that nil moves
	// a node to the root.
	ParentID     *string
	UpdateParent bool
}

func sameParent(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
