package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/DoyleJ11/cogbench/internal/engine"
	"github.com/DoyleJ11/cogbench/internal/peer"
	"go.etcd.io/bbolt"
)

const (
	identityBucket  = "identity"
	responsesBucket = "responses"
	pathsBucket     = "paths"
)

var identityKey = []byte("self")

// BoltStore keeps the device identity and, optionally, benchmark results in
// a single BoltDB file.
type BoltStore struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	s := &BoltStore{db: db}
	if err := s.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadOrCreate returns the stored identity; a new one is generated and saved
// on first use. The display name of a stored identity is kept as is.
func (s *BoltStore) LoadOrCreate(displayName string) (peer.Identity, error) {
	var id peer.Identity
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(identityBucket))
		if bucket == nil {
			return fmt.Errorf("identity bucket is missing")
		}
		if payload := bucket.Get(identityKey); payload != nil {
			if err := json.Unmarshal(payload, &id); err != nil {
				return fmt.Errorf("unmarshal identity: %w", err)
			}
			if id.ID != "" {
				return nil
			}
		}
		id = peer.NewIdentity(displayName)
		payload, err := json.Marshal(id)
		if err != nil {
			return fmt.Errorf("marshal identity: %w", err)
		}
		return bucket.Put(identityKey, payload)
	})
	if err != nil {
		return peer.Identity{}, err
	}
	return id, nil
}

func (s *BoltStore) AppendResponses(ctx context.Context, key CollectionKey, records []engine.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	return boltAppend(s.db, responsesBucket, []byte(key.String()), records)
}

func (s *BoltStore) AppendPath(ctx context.Context, key PathKey, points []engine.PathPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}
	return boltAppend(s.db, pathsBucket, []byte(key.String()), points)
}

func (s *BoltStore) Responses(ctx context.Context, key CollectionKey) ([]engine.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return boltRead[engine.Response](s.db, responsesBucket, []byte(key.String()))
}

func (s *BoltStore) Path(ctx context.Context, key PathKey) ([]engine.PathPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return boltRead[engine.PathPoint](s.db, pathsBucket, []byte(key.String()))
}

func (s *BoltStore) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{identityBucket, responsesBucket, pathsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

// boltAppend merges inside one write transaction, so readers never see a
// half-written collection.
func boltAppend[T any](db *bbolt.DB, bucketName string, key []byte, records []T) error {
	return db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", bucketName)
		}
		existing := []T{}
		if payload := bucket.Get(key); payload != nil {
			if err := json.Unmarshal(payload, &existing); err != nil {
				return fmt.Errorf("unmarshal %s: %w", key, err)
			}
		}
		existing = append(existing, records...)
		payload, err := json.Marshal(existing)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		return bucket.Put(key, payload)
	})
}

func boltRead[T any](db *bbolt.DB, bucketName string, key []byte) ([]T, error) {
	var out []T
	err := db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket == nil {
			return fmt.Errorf("%s bucket is missing", bucketName)
		}
		payload := bucket.Get(key)
		if payload == nil {
			return nil
		}
		return json.Unmarshal(payload, &out)
	})
	return out, err
}
