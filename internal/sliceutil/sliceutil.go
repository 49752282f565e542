// Package sliceutil provides small generic slice helpers used by the
// action queue (queue.Queue) for trimming and cloning its entry slices.
package sliceutil

import "golang.org/x/exp/slices"

// TakeWhile returns the prefix of s for which keep returns true.
func TakeWhile[T any](s []T, keep func(T) bool) []T {
	i := slices.IndexFunc(s, func(v T) bool { return !keep(v) })
	if i < 0 {
		return s
	}
	return s[:i]
}

// Clone returns a copy of s so callers can hand out a slice without
// exposing the backing array of an internal buffer.
func Clone[T any](s []T) []T {
	return slices.Clone(s)
}
