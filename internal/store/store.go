// Package store defines the ordered-key persistent store consumed by the
// dispatch engine and feature modules, with PostgreSQL and in-memory
// implementations.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrKeyNotFound is returned when a key lookup yields no value.
var ErrKeyNotFound = errors.New("key not found")

// ErrTxnConflict is returned when a transaction's version checks fail.
var ErrTxnConflict = errors.New("transaction version conflict")

// Key is an ordered tuple of path segments. Core runtime state lives
// under the "core" namespace and module state under "mod/<module>";
// see CoreKey and ModuleKey.
type Key []string

// escaper protects the segment separator inside individual segments so
// that encoded keys order and split unambiguously.
var escaper = strings.NewReplacer("%", "%25", "/", "%2F")

// Encode returns the canonical string form of the key. Lexicographic
// order of encoded keys matches segment-tuple order.
func (k Key) Encode() string {
	parts := make([]string, len(k))
	for i, seg := range k {
		parts[i] = escaper.Replace(seg)
	}
	return strings.Join(parts, "/")
}

// String implements fmt.Stringer.
func (k Key) String() string { return k.Encode() }

// CoreKey builds a key in the core namespace.
func CoreKey(segments ...string) Key {
	return append(Key{"core"}, segments...)
}

// ModuleKey builds a key in the given module's namespace.
//
// Precondition: module must be non-empty.
func ModuleKey(module string, segments ...string) Key {
	return append(Key{"mod", module}, segments...)
}

// Value is a stored payload with its monotonically increasing version.
// Versions start at 1 on first write.
type Value struct {
	Data    []byte
	Version int64
}

// Entry pairs a key with its stored value, as returned by List.
type Entry struct {
	Key   Key
	Value Value
}

// Check asserts the current version of a key inside a transaction.
// Version 0 asserts the key is absent.
type Check struct {
	Key     Key
	Version int64
}

// Write is a single mutation inside a transaction. Delete true removes
// the key; otherwise Data is written.
type Write struct {
	Key    Key
	Data   []byte
	Delete bool
}

// Store is the ordered-key persistent store surface. Implementations
// must make Txn atomic: either every check passes and every write is
// applied, or nothing is.
type Store interface {
	// Get returns the value and version for key, or ErrKeyNotFound.
	Get(ctx context.Context, key Key) (Value, error)
	// Set writes data under key, creating it at version 1 or bumping
	// the existing version.
	Set(ctx context.Context, key Key, data []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error
	// List returns all entries at or under prefix in key order.
	List(ctx context.Context, prefix Key) ([]Entry, error)
	// Txn verifies every check, then applies every write, atomically.
	// Returns ErrTxnConflict when any check fails.
	Txn(ctx context.Context, checks []Check, writes []Write) error
}

// decodeKey splits an encoded key back into segments.
func decodeKey(encoded string) Key {
	if encoded == "" {
		return Key{}
	}
	parts := strings.Split(encoded, "/")
	k := make(Key, len(parts))
	for i, p := range parts {
		p = strings.ReplaceAll(p, "%2F", "/")
		p = strings.ReplaceAll(p, "%25", "%")
		k[i] = p
	}
	return k
}

// prefixRange returns the half-open encoded-key range [lo, hi) covering
// all strict descendants of prefix. The exact prefix key itself is
// matched separately. '0' is the successor byte of '/'.
func prefixRange(prefix Key) (lo, hi string) {
	p := prefix.Encode()
	return p + "/", p + "0"
}
