// Package datastore is the generic embedded-KV layer every per-checkout
// database (LocalVersion, FileVersion, PathRequest, ContentBackends) is
// built on. Each store opens its own bbolt file and serializes values with
// msgpack, the same transactional-env-plus-binary-framing shape the
// original implementation got from LMDB and Python's msgpack package.
package datastore

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("default")

// Store is a generic key-value store backed by one bbolt database file, one
// bucket. Keys are strings; values are msgpack-encoded T.
type Store[T any] struct {
	db          *bolt.DB
	validateKey func(string) error
}

// Open opens (creating if needed) the bbolt file at path and returns a Store
// over it. validateKey is called on every Set/SetAll key and may be nil to
// accept any key.
func Open[T any](path string, validateKey func(string) error) (*Store[T], error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("datastore: opening %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("datastore: creating bucket in %s: %w", path, err)
	}
	return &Store[T]{db: db, validateKey: validateKey}, nil
}

// Close releases the underlying bbolt file.
func (s *Store[T]) Close() error {
	return s.db.Close()
}

func (s *Store[T]) checkKey(key string) error {
	if s.validateKey == nil {
		return nil
	}
	return s.validateKey(key)
}

// Get returns the value stored at key, and whether it was present.
func (s *Store[T]) Get(key string) (T, bool, error) {
	var value T
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return msgpack.Unmarshal(raw, &value)
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return value, found, nil
}

// Set writes value at key, overwriting any existing entry.
func (s *Store[T]) Set(key string, value T) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	raw, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("datastore: marshaling value for %s: %w", key, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), raw)
	})
}

// Delete removes key. Deleting an absent key is an error, not a no-op: bbolt
// itself doesn't report a missing key, so presence is checked explicitly
// inside the same transaction as the delete.
func (s *Store[T]) Delete(key string) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b.Get([]byte(key)) == nil {
			return fmt.Errorf("datastore: delete %s: key not found", key)
		}
		return b.Delete([]byte(key))
	})
}

// Has reports whether key is present.
func (s *Store[T]) Has(key string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketName).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

// Keys returns every key currently stored, in bbolt's byte-sorted order.
func (s *Store[T]) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Values returns every value currently stored, in bbolt's key-sorted order.
func (s *Store[T]) Values() ([]T, error) {
	var values []T
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(_, v []byte) error {
			var value T
			if err := msgpack.Unmarshal(v, &value); err != nil {
				return err
			}
			values = append(values, value)
			return nil
		})
	})
	return values, err
}

// Items returns every key/value pair currently stored.
func (s *Store[T]) Items() (map[string]T, error) {
	return s.All()
}

// All is a snapshot of the whole store.
func (s *Store[T]) All() (map[string]T, error) {
	result := make(map[string]T)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			var value T
			if err := msgpack.Unmarshal(v, &value); err != nil {
				return err
			}
			result[string(k)] = value
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetAll atomically drops the bucket and repopulates it from value, mirroring
// a set_all that drops and rewrites a whole key-value database in one
// transaction.
func (s *Store[T]) SetAll(value map[string]T) error {
	for key := range value {
		if err := s.checkKey(key); err != nil {
			return err
		}
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		bucket, err := tx.CreateBucket(bucketName)
		if err != nil {
			return err
		}
		for key, val := range value {
			raw, err := msgpack.Marshal(val)
			if err != nil {
				return fmt.Errorf("datastore: marshaling value for %s: %w", key, err)
			}
			if err := bucket.Put([]byte(key), raw); err != nil {
				return err
			}
		}
		return nil
	})
}

// rootedKey rejects any key that doesn't start with "/", the invariant
// LocalVersion, FileVersion, and PathRequest all share.
func rootedKey(key string) error {
	if len(key) == 0 || key[0] != '/' {
		return fmt.Errorf("datastore: key must start with /: %q", key)
	}
	return nil
}
