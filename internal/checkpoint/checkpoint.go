// Package checkpoint persists how far each tailed file has been read so
// ingestion resumes after a restart instead of starting over or skipping lines.
package checkpoint

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketOffsets = []byte("offsets")

// Store keeps file read offsets in a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the checkpoint database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating checkpoint directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOffsets)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating checkpoint bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Load returns the saved offset for file. ok is false when none was saved.
func (s *Store) Load(file string) (offset int64, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketOffsets).Get([]byte(file))
		if len(v) != 8 {
			return nil
		}
		offset = int64(binary.BigEndian.Uint64(v))
		ok = true
		return nil
	})
	return offset, ok, err
}

// Save records offset as the position after the last line read from file.
func (s *Store) Save(file string, offset int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(offset))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOffsets).Put([]byte(file), buf[:])
	})
}

// Delete forgets the offset of file.
func (s *Store) Delete(file string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOffsets).Delete([]byte(file))
	})
}

// All returns every saved offset keyed by file.
func (s *Store) All() (map[string]int64, error) {
	out := make(map[string]int64)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOffsets).ForEach(func(k, v []byte) error {
			if len(v) == 8 {
				out[string(k)] = int64(binary.BigEndian.Uint64(v))
			}
			return nil
		})
	})
	return out, err
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}
