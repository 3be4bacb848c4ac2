package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltConfig holds configuration for a BoltDB-backed store.
type BoltConfig struct {
	// Path is the database file path.
	Path string

	// Bucket names the bucket holding the entries.
	Bucket string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// Capacity is the maximum number of entries. Zero means unbounded.
	Capacity int
}

// DefaultBoltConfig returns the default configuration.
func DefaultBoltConfig(path string) BoltConfig {
	return BoltConfig{
		Path:     path,
		Bucket:   Global.String(),
		Capacity: DefaultCapacity,
	}
}

// Bolt is a persistent store backed by BoltDB.
type Bolt struct {
	db       *bolt.DB
	bucket   []byte
	capacity int

	// count caches the number of entries.
	count atomic.Int64

	// mu serialises writers so the capacity check and insert are atomic.
	mu sync.Mutex

	closed atomic.Bool
}

// OpenBolt opens or creates a BoltDB-backed store.
func OpenBolt(cfg BoltConfig) (*Bolt, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = Global.String()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout: 5 * time.Second,
		NoSync:  cfg.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Bolt{db: db, bucket: []byte(cfg.Bucket), capacity: cfg.Capacity}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		s.count.Store(int64(b.Stats().KeyN))
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
	}
	return s, nil
}

// put stores value under key, enforcing capacity for new keys. Writes never
// happen when the key exists and overwrite is false.
func (s *Bolt) put(key, value uint32, overwrite bool) (uint32, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	k := encodeKey(nil, key)
	var current uint32
	inserted := false

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if v := b.Get(k); v != nil {
			current = decodeValue(v)
			if !overwrite {
				return nil
			}
		} else if s.capacity > 0 && s.count.Load() >= int64(s.capacity) {
			return ErrFull
		} else {
			inserted = true
		}
		current = value
		return b.Put(k, encodeValue(value))
	})
	if err == nil && inserted {
		s.count.Add(1)
	}
	return current, err
}

// Update implements Store.
func (s *Bolt) Update(key, value uint32) error {
	_, err := s.put(key, value, true)
	return err
}

// Fetch implements Store.
func (s *Bolt) Fetch(key uint32) (uint32, error) {
	return s.put(key, 0, false)
}

// Range implements Store.
func (s *Bolt) Range(fn func(key, value uint32) bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	errStop := errors.New("stop")
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			if !fn(decodeKey(nil, k), decodeValue(v)) {
				return errStop
			}
			return nil
		})
	})
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}

// Len implements Store.
func (s *Bolt) Len() int {
	return int(s.count.Load())
}

// Close closes the database.
func (s *Bolt) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
