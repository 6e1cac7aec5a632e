package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory Store with the same semantics as the
// PostgreSQL implementation. It backs unit tests and store-less
// development runs (database.enabled = false).
type Memory struct {
	mu      sync.Mutex
	entries map[string]Value
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Value)}
}

var _ Store = (*Memory)(nil)

// Get returns the value and version for key, or ErrKeyNotFound.
func (m *Memory) Get(_ context.Context, key Key) (Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.entries[key.Encode()]
	if !ok {
		return Value{}, ErrKeyNotFound
	}
	return cloneValue(v), nil
}

// Set writes data under key, bumping the version.
func (m *Memory) Set(_ context.Context, key Key, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setLocked(key.Encode(), data)
	return nil
}

// Delete removes key. Absent keys are a no-op.
func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key.Encode())
	return nil
}

// List returns all entries at or under prefix in encoded key order.
func (m *Memory) List(_ context.Context, prefix Key) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exact := prefix.Encode()
	lo, hi := prefixRange(prefix)

	var keys []string
	for k := range m.entries {
		if len(prefix) == 0 || k == exact || (k >= lo && k < hi) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{Key: decodeKey(k), Value: cloneValue(m.entries[k])})
	}
	return out, nil
}

// Txn verifies every check under the lock, then applies every write.
//
// Postcondition: Either all writes are applied or none are; failed
// checks return ErrTxnConflict.
func (m *Memory) Txn(_ context.Context, checks []Check, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range checks {
		current := int64(0)
		if v, ok := m.entries[c.Key.Encode()]; ok {
			current = v.Version
		}
		if current != c.Version {
			return ErrTxnConflict
		}
	}

	for _, w := range writes {
		enc := w.Key.Encode()
		if w.Delete {
			delete(m.entries, enc)
			continue
		}
		m.setLocked(enc, w.Data)
	}
	return nil
}

func (m *Memory) setLocked(enc string, data []byte) {
	version := int64(1)
	if prev, ok := m.entries[enc]; ok {
		version = prev.Version + 1
	}
	m.entries[enc] = Value{Data: append([]byte(nil), data...), Version: version}
}

func cloneValue(v Value) Value {
	return Value{Data: append([]byte(nil), v.Data...), Version: v.Version}
}
