// Package chunk splits ordered batches into bounded slices so that every bulk
// statement stays within the database's statement-size and transaction-time limits.
package chunk

import "errors"

// ErrInvalidSize is returned when the requested chunk size is below 1.
var ErrInvalidSize = errors.New("chunk: size must be at least 1")

// Split returns consecutive sub-slices of s holding at most size elements each.
// The chunks reference s without copying it, and each chunk has its capacity
// capped at its length so appending to one chunk never writes into the next.
// An empty s yields no chunks.
func Split[T any](s []T, size int) ([][]T, error) {
	if size < 1 {
		return nil, ErrInvalidSize
	}
	if len(s) == 0 {
		return nil, nil
	}
	out := make([][]T, 0, Count(len(s), size))
	for i := 0; i < len(s); i += size {
		end := min(i+size, len(s))
		out = append(out, s[i:end:end])
	}
	return out, nil
}

// Count returns how many chunks Split produces for n elements.
func Count(n, size int) int {
	if n <= 0 || size < 1 {
		return 0
	}
	return (n + size - 1) / size
}

// Each calls fn for every chunk of s in order and stops at the first error.
// It returns the index of the failing chunk and its error, or -1 and nil.
func Each[T any](s []T, size int, fn func(i int, c []T) error) (int, error) {
	chunks, err := Split(s, size)
	if err != nil {
		return -1, err
	}
	for i, c := range chunks {
		if err := fn(i, c); err != nil {
			return i, err
		}
	}
	return -1, nil
}
