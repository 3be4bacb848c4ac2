// Package store provides the key-value stores containers use to keep state
// across invocations.
//
// Every store maps uint32 keys to uint32 values and holds a bounded number of
// entries. Fetching a missing key creates it with value 0, so a fetch can fail
// with ErrFull just like an update of a new key.
package store

import (
	"encoding/binary"
	"errors"
)

// DefaultCapacity is the number of entries a store holds by default.
const DefaultCapacity = 16

// Store errors.
var (
	ErrFull   = errors.New("store full")
	ErrClosed = errors.New("store closed")
)

// Store is a key-value table scoped to one instance (local) or to the whole
// process (global).
type Store interface {
	// Update sets key to value, creating the key if needed.
	Update(key, value uint32) error

	// Fetch returns the value stored under key. A missing key is added with
	// value 0.
	Fetch(key uint32) (uint32, error)

	// Range calls fn for each entry in ascending key order until fn returns false.
	Range(fn func(key, value uint32) bool) error

	// Len returns the number of entries.
	Len() int
}

// Scope selects which store a syscall operates on.
type Scope uint8

const (
	// Local is the per-instance store.
	Local Scope = iota
	// Global is the process-wide store.
	Global
)

// String returns the scope name.
func (s Scope) String() string {
	switch s {
	case Local:
		return "local"
	case Global:
		return "global"
	default:
		return "unknown"
	}
}

// encodeKey encodes a key so that byte order matches numeric order.
func encodeKey(prefix []byte, key uint32) []byte {
	b := make([]byte, len(prefix)+4)
	copy(b, prefix)
	binary.BigEndian.PutUint32(b[len(prefix):], key)
	return b
}

// decodeKey is the inverse of encodeKey.
func decodeKey(prefix []byte, b []byte) uint32 {
	return binary.BigEndian.Uint32(b[len(prefix):])
}

func encodeValue(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func decodeValue(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}
