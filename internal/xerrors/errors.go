package xerrors

import "errors"

var (
	// ErrNotFound is returned both for a missing node and for a node owned by
	// someone else, so callers cannot probe for other owners' ids.
	ErrNotFound = errors.New("not found")

	ErrInvalidParent       = errors.New("invalid parent")
	ErrInvalidName         = errors.New("invalid name")
	ErrCycle               = errors.New("cycle")
	ErrIO                  = errors.New("io error")
	ErrStoreFull           = errors.New("store full")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrInvalidArgument     = errors.New("invalid argument")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrNotFound, "NotFound"},
	{ErrInvalidParent, "InvalidParent"},
	{ErrInvalidName, "InvalidName"},
	{ErrCycle, "CycleError"},
	{ErrStoreFull, "StoreFull"},
	{ErrIO, "IOError"},
	{ErrTransactionConflict, "TransactionConflict"},
	{ErrInvalidArgument, "InvalidArgument"},
}

// Code returns the taxonomy name of err, "OK" for nil and "Internal" for an
// error outside the taxonomy.
func Code(err error) string {
	if err == nil {
		return "OK"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "Internal"
}

// IsRetryable reports whether the whole operation can be retried as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}

// IsKnown reports whether err already carries a taxonomy error.
func IsKnown(err error) bool {
	code := Code(err)
	return code != "OK" && code != "Internal"
}
