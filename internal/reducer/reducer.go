// Package reducer provides the merge functions that combine concurrent
// partial updates into turn state.
//
// Every function is pure: it never mutates its inputs and returns a fresh
// value. Append and Union are associative, so merges that arrive in any
// order converge on the same contents. UpsertByKey is idempotent: applying
// the same record twice leaves the result unchanged.
package reducer

import (
	"cmp"
	"maps"
	"slices"
)

// Func merges an existing value with an incoming partial value.
type Func[T any] func(left, right T) T

// Append concatenates right onto left.
func Append[T any](left, right []T) []T {
	out := make([]T, 0, len(left)+len(right))
	out = append(out, left...)
	return append(out, right...)
}

// Set is an unordered collection of unique keys.
type Set[K comparable] map[K]struct{}

// NewSet builds a set from keys.
func NewSet[K comparable](keys ...K) Set[K] {
	s := make(Set[K], len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether k is in the set.
func (s Set[K]) Has(k K) bool {
	_, ok := s[k]
	return ok
}

// Len returns the number of keys.
func (s Set[K]) Len() int { return len(s) }

// Clone returns an independent copy.
func (s Set[K]) Clone() Set[K] {
	if s == nil {
		return make(Set[K])
	}
	return maps.Clone(s)
}

// Difference returns the keys of s that are not in other.
func (s Set[K]) Difference(other Set[K]) Set[K] {
	out := make(Set[K])
	for k := range s {
		if !other.Has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

// SubsetOf reports whether every key of s is in other.
func (s Set[K]) SubsetOf(other Set[K]) bool {
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets hold the same keys.
func (s Set[K]) Equal(other Set[K]) bool {
	return len(s) == len(other) && s.SubsetOf(other)
}

// Sorted returns the keys in ascending order.
func Sorted[K cmp.Ordered](s Set[K]) []K {
	keys := slices.Collect(maps.Keys(s))
	slices.Sort(keys)
	return keys
}

// Union returns the set union of left and right.
func Union[K comparable](left, right Set[K]) Set[K] {
	out := make(Set[K], len(left)+len(right))
	for k := range left {
		out[k] = struct{}{}
	}
	for k := range right {
		out[k] = struct{}{}
	}
	return out
}

// UpsertByKey replaces elements of left whose key matches an element of
// right, in place, and appends right elements with new keys in their
// arrival order. When right repeats a key, its last occurrence wins.
func UpsertByKey[T any, K comparable](left, right []T, key func(T) K) []T {
	out := make([]T, len(left), len(left)+len(right))
	copy(out, left)

	index := make(map[K]int, len(out))
	for i, item := range out {
		index[key(item)] = i
	}

	for _, item := range right {
		k := key(item)
		if i, ok := index[k]; ok {
			out[i] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}

// UpsertBy adapts UpsertByKey to a Func for a fixed key extractor.
func UpsertBy[T any, K comparable](key func(T) K) Func[[]T] {
	return func(left, right []T) []T {
		return UpsertByKey(left, right, key)
	}
}

// LastWriteWins keeps right unless it is the zero value, which means the
// update did not carry the field.
func LastWriteWins[T comparable](left, right T) T {
	var zero T
	if right == zero {
		return left
	}
	return right
}
