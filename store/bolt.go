package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robertmeta/podcatch/model"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	bucketKV    = []byte("kv")
	bucketFlags = []byte("session_flags")
)

// BoltStore keeps the record list and session flags in a BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBolt opens (or creates) the BoltDB file at path.
func NewBolt(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketKV, bucketFlags} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Load returns the stored record list, or an empty list if none was saved.
func (s *BoltStore) Load(ctx context.Context) (model.List, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketKV).Get([]byte(ListKey)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load record list: %w", err)
	}
	if data == nil {
		return model.List{}, nil
	}

	return decodeList(data)
}

// Save replaces the stored record list.
func (s *BoltStore) Save(ctx context.Context, list model.List) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeList(list)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(ListKey), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save record list: %w", err)
	}
	return nil
}

func (s *BoltStore) GetFlag(ctx context.Context, session, scope, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketFlags).Get(flagKey(session, scope, name)); v != nil {
			value, found = string(v), true
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to get flag: %w", err)
	}
	return value, found, nil
}

func (s *BoltStore) SetFlag(ctx context.Context, session, scope, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFlags).Put(flagKey(session, scope, name), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("failed to set flag: %w", err)
	}
	return nil
}

// flagKey joins the flag coordinates with NUL, which cannot appear in an
// origin or a uuid.
func flagKey(session, scope, name string) []byte {
	return []byte(session + "\x00" + scope + "\x00" + name)
}
