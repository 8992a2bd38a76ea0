package store

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/manifoldchain/manifoldchain/pkg/hash"
)

// Store is a typed hash-keyed key/value store backed by a single bbolt
// bucket, with values encoded as CBOR. The node keeps two: block hash to
// block, and block hash to state.
type Store[T any] struct {
	db     *bolt.DB
	bucket []byte
	logger *zap.Logger
}

// ErrNotFound is returned when a key is absent.
var ErrNotFound = errors.New("store: not found")

// Open opens (or creates) the store file and its bucket.
func Open[T any](path, bucket string, logger *zap.Logger) (*Store[T], error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: bucket %s: %w", bucket, err)
	}
	logger.Debug("store opened", zap.String("path", path), zap.String("bucket", bucket))
	return &Store[T]{db: db, bucket: []byte(bucket), logger: logger}, nil
}

// Put inserts or overwrites the value at key.
func (s *Store[T]) Put(key hash.H256, value T) error {
	raw, err := cbor.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put(key[:], raw)
	})
}

// Get loads the value at key.
func (s *Store[T]) Get(key hash.H256) (T, error) {
	var value T
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(s.bucket).Get(key[:])
		if raw == nil {
			return ErrNotFound
		}
		return cbor.Unmarshal(raw, &value)
	})
	return value, err
}

// Has reports whether key is present.
func (s *Store[T]) Has(key hash.H256) bool {
	found := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(s.bucket).Get(key[:]) != nil
		return nil
	})
	return found
}

// Delete removes the value at key; absent keys are a no-op.
func (s *Store[T]) Delete(key hash.H256) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete(key[:])
	})
}

// Count returns the number of stored entries.
func (s *Store[T]) Count() int {
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return n
}

// ForEach visits every entry. The callback must not retain the decoded
// value across calls if T holds references.
func (s *Store[T]) ForEach(fn func(key hash.H256, value T) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			var key hash.H256
			copy(key[:], k)
			var value T
			if err := cbor.Unmarshal(v, &value); err != nil {
				return err
			}
			return fn(key, value)
		})
	})
}

// Close flushes and closes the underlying file.
func (s *Store[T]) Close() error {
	return s.db.Close()
}
