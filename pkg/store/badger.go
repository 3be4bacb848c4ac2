package store

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// prefixEntry is the key prefix for store entries.
// Key format: prefixEntry + key (4 bytes, big-endian)
var prefixEntry = []byte{0x01}

// BadgerConfig contains configuration for a BadgerDB-backed store.
type BadgerConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// Capacity is the maximum number of entries. Zero means unbounded.
	Capacity int

	// Logger is an optional logger. Set to nil to disable logging.
	Logger badger.Logger
}

// DefaultBadgerConfig returns default configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:       path,
		SyncWrites: true,
		Capacity:   DefaultCapacity,
	}
}

// Badger is a persistent store backed by BadgerDB.
type Badger struct {
	db       *badger.DB
	capacity int

	// count caches the number of entries.
	count atomic.Int64

	// mu serialises writers so the capacity check and insert are atomic.
	mu sync.Mutex

	closed atomic.Bool
}

// OpenBadger opens or creates a BadgerDB-backed store.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	b := &Badger{db: db, capacity: cfg.Capacity}
	if err := b.loadCount(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load count: %w", err)
	}
	return b, nil
}

// loadCount counts the stored entries.
func (b *Badger) loadCount() error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixEntry
		it := txn.NewIterator(opts)
		defer it.Close()

		var n int64
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		b.count.Store(n)
		return nil
	})
}

func (b *Badger) full() bool {
	return b.capacity > 0 && b.count.Load() >= int64(b.capacity)
}

// Update implements Store.
func (b *Badger) Update(key, value uint32) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	k := encodeKey(prefixEntry, key)
	created := false
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			if b.full() {
				return ErrFull
			}
			created = true
		} else if err != nil {
			return err
		}
		return txn.Set(k, encodeValue(value))
	})
	if err != nil {
		return err
	}
	if created {
		b.count.Add(1)
	}
	return nil
}

// Fetch implements Store.
func (b *Badger) Fetch(key uint32) (uint32, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	k := encodeKey(prefixEntry, key)
	var value uint32
	created := false
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			if b.full() {
				return ErrFull
			}
			created = true
			return txn.Set(k, encodeValue(0))
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = decodeValue(val)
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	if created {
		b.count.Add(1)
	}
	return value, nil
}

// Range implements Store.
func (b *Badger) Range(fn func(key, value uint32) bool) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixEntry
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := decodeKey(prefixEntry, item.Key())
			var value uint32
			if err := item.Value(func(val []byte) error {
				value = decodeValue(val)
				return nil
			}); err != nil {
				return err
			}
			if !fn(key, value) {
				return nil
			}
		}
		return nil
	})
}

// Len implements Store.
func (b *Badger) Len() int {
	return int(b.count.Load())
}

// Close closes the database.
func (b *Badger) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

// zapBadgerLogger adapts a zap logger to badger's Logger interface.
type zapBadgerLogger struct {
	s *zap.SugaredLogger
}

// BadgerLogger routes badger's internal logging through l.
func BadgerLogger(l *zap.Logger) badger.Logger {
	return zapBadgerLogger{s: l.Named("badger").Sugar()}
}

func (l zapBadgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(f, v...) }
func (l zapBadgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(f, v...) }
func (l zapBadgerLogger) Infof(f string, v ...interface{})    { l.s.Infof(f, v...) }
func (l zapBadgerLogger) Debugf(f string, v ...interface{})   { l.s.Debugf(f, v...) }
