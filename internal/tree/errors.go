package tree

import (
	"context"
	"errors"
	"fmt"

	"github.com/michael-freling/file-drive/internal/blob"
	"github.com/michael-freling/file-drive/internal/db"
	"github.com/michael-freling/file-drive/internal/xerrors"
)

func translateDBError(err error) error {
	if err == nil || xerrors.IsKnown(err) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, db.ErrRecordNotFound):
		return fmt.Errorf("%w: %w", xerrors.ErrNotFound, err)
	case errors.Is(err, db.ErrInvalidParent), errors.Is(err, db.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %w", xerrors.ErrInvalidParent, err)
	case errors.Is(err, db.ErrConflict), errors.Is(err, db.ErrDuplicatedKey):
		// a duplicated storage key can only come from a concurrent writer
		return fmt.Errorf("%w: %w", xerrors.ErrTransactionConflict, err)
	case errors.Is(err, db.ErrCheckConstraintViolated):
		return fmt.Errorf("%w: %w", xerrors.ErrInvalidArgument, err)
	}
	return err
}

func translateParentError(err error) error {
	if errors.Is(err, db.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", xerrors.ErrInvalidParent, err)
	}
	return translateDBError(err)
}

func translateBlobError(err error) error {
	if err == nil || xerrors.IsKnown(err) {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, blob.ErrStoreFull):
		return fmt.Errorf("%w: %w", xerrors.ErrStoreFull, err)
	}
	return fmt.Errorf("%w: %w", xerrors.ErrIO, err)
}
