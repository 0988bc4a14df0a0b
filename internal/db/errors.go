package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

var (
	ErrRecordNotFound = gorm.ErrRecordNotFound

	// ErrInvalidParent is returned when a parent is missing, owned by
	// someone else or not a folder.
	ErrInvalidParent = errors.New("invalid parent")

	ErrForeignKeyViolated      = errors.New("foreign key violated")
	ErrDuplicatedKey           = errors.New("duplicated key")
	ErrCheckConstraintViolated = errors.New("check constraint violated")

	// ErrConflict is returned when the database aborted a transaction
	// because of a concurrent one. The caller may retry.
	ErrConflict = errors.New("transaction conflict")
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgForeignKeyViolation  = "23503"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

// translateError tags driver errors with the sentinel errors of this package.
// The original error stays in the chain.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %w", ErrForeignKeyViolated, err)
		case pgUniqueViolation:
			return fmt.Errorf("%w: %w", ErrDuplicatedKey, err)
		case pgCheckViolation:
			return fmt.Errorf("%w: %w", ErrCheckConstraintViolated, err)
		}
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %w", ErrForeignKeyViolated, err)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%w: %w", ErrDuplicatedKey, err)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %w", ErrCheckConstraintViolated, err)
		}
		return err
	}

	// errors already translated by gorm
	switch {
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return fmt.Errorf("%w: %w", ErrForeignKeyViolated, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", ErrDuplicatedKey, err)
	case errors.Is(err, gorm.ErrCheckConstraintViolated):
		return fmt.Errorf("%w: %w", ErrCheckConstraintViolated, err)
	}
	return err
}
