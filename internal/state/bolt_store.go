package state

import (
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/TheMichaelB/diffsync/internal/events"
)

var bucketShadows = []byte("shadows")

// BoltStore keeps shadows in a bbolt bucket keyed by path.
type BoltStore struct {
	db     *bbolt.DB
	logger *events.Logger
}

// NewBoltStore opens or creates the database at dbPath.
func NewBoltStore(dbPath string, logger *events.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open boltdb: %w", err)
	}

	store := &BoltStore{
		db:     db,
		logger: logger.WithField("component", "bolt_state_store"),
	}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketShadows); err != nil {
			return fmt.Errorf("create shadows bucket: %w", err)
		}
		return nil
	})
}

// Load reads the whole bucket.
func (s *BoltStore) Load() (map[string]string, error) {
	s.logger.Debug("Loading shadows from bolt")

	shadows := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketShadows)
		if bucket == nil {
			return fmt.Errorf("shadows bucket not found")
		}
		return bucket.ForEach(func(k, v []byte) error {
			shadows[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load shadows: %w", err)
	}

	return shadows, nil
}

// Put stores one shadow.
func (s *BoltStore) Put(path, content string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketShadows)
		if bucket == nil {
			return fmt.Errorf("shadows bucket not found")
		}
		if err := bucket.Put([]byte(path), []byte(content)); err != nil {
			return fmt.Errorf("put shadow %s: %w", path, err)
		}
		return nil
	})
}

// Delete removes one shadow.
func (s *BoltStore) Delete(path string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketShadows)
		if bucket == nil {
			return fmt.Errorf("shadows bucket not found")
		}
		return bucket.Delete([]byte(path))
	})
}

// Reset drops and recreates the bucket.
func (s *BoltStore) Reset() error {
	s.logger.Info("Resetting state in bolt")

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketShadows); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("delete shadows bucket: %w", err)
		}
		if _, err := tx.CreateBucket(bucketShadows); err != nil {
			return fmt.Errorf("create shadows bucket: %w", err)
		}
		return nil
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
