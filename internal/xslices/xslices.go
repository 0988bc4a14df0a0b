// Package xslices has the slice helpers the repositories and services share.
package xslices

func Map[T, U any](elements []T, f func(T) U) []U {
	result := make([]U, len(elements))
	for index, element := range elements {
		result[index] = f(element)
	}
	return result
}

// Filter keeps the elements for which keep returns true. The result is
// never nil.
func Filter[T any](elements []T, keep func(T) bool) []T {
	result := make([]T, 0, len(elements))
	for _, element := range elements {
		if keep(element) {
			result = append(result, element)
		}
	}
	return result
}

// Chunk splits elements into consecutive slices of at most size elements,
// for queries whose IN (...) list must stay short. The returned slices
// share the backing array of elements.
func Chunk[T any](elements []T, size int) [][]T {
	if size <= 0 {
		size = len(elements)
	}
	result := make([][]T, 0, (len(elements)+size-1)/max(size, 1))
	for start := 0; start < len(elements); start += size {
		end := min(start+size, len(elements))
		result = append(result, elements[start:end])
	}
	return result
}
