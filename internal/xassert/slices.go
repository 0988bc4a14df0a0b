package xassert

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

// ElementsMatch compares two slices in order. Pass cmpopts.SortSlices to
// ignore the order.
func ElementsMatch[T any](t *testing.T, want, got []T, options ...cmp.Option) bool {
	t.Helper()

	if diff := cmp.Diff(want, got, options...); diff != "" {
		return assert.Fail(t, "Elements do not match", "Diff (-want +got):\n%s", diff)
	}
	return true
}

func Equal[T any](t *testing.T, want, got T, options ...cmp.Option) bool {
	t.Helper()

	if diff := cmp.Diff(want, got, options...); diff != "" {
		return assert.Fail(t, "Values are not equal", "Diff (-want +got):\n%s", diff)
	}
	return true
}
