package truststore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	rootBucketName = "trust"
	keysBucketName = "keys"
	metaBucketName = "meta"
	schemaKey      = "schema_version"
	schemaVersion  = "1"
)

type storedKey struct {
	PEM     string `json:"pem"`
	AddedAt string `json:"addedAt"`
}

// BoltStore persists trusted keys in a bbolt file.
type BoltStore struct {
	mu     sync.RWMutex
	db     *bolt.DB
	path   string
	closed bool
}

func OpenBoltStore(path string) (*BoltStore, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("trust store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("ensure trust store dir: %w", err)
	}
	options := &bolt.Options{Timeout: time.Second}
	base, err := bolt.Open(trimmed, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("open trust store db: %w", err)
	}
	if err := ensureSchema(base); err != nil {
		_ = base.Close()
		return nil, err
	}
	return &BoltStore{db: base, path: trimmed}, nil
}

func (s *BoltStore) Path() string {
	return s.path
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Put stores or replaces the key for keyID after checking that pem parses.
func (s *BoltStore) Put(keyID, pem string) error {
	if err := validateKeyID(keyID); err != nil {
		return err
	}
	if err := ValidatePEM(pem); err != nil {
		return err
	}
	value, err := json.Marshal(storedKey{
		PEM:     pem,
		AddedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("encode key %s: %w", keyID, err)
	}
	return s.update(func(tx *bolt.Tx) error {
		bucket, err := keysBucket(tx)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(strings.TrimSpace(keyID)), value); err != nil {
			return fmt.Errorf("write key %s: %w", keyID, err)
		}
		return nil
	})
}

// Delete removes keyID. It reports whether the key existed.
func (s *BoltStore) Delete(keyID string) (bool, error) {
	if err := validateKeyID(keyID); err != nil {
		return false, err
	}
	var existed bool
	err := s.update(func(tx *bolt.Tx) error {
		bucket, err := keysBucket(tx)
		if err != nil {
			return err
		}
		key := []byte(strings.TrimSpace(keyID))
		existed = bucket.Get(key) != nil
		if !existed {
			return nil
		}
		if err := bucket.Delete(key); err != nil {
			return fmt.Errorf("delete key %s: %w", keyID, err)
		}
		return nil
	})
	return existed, err
}

// List returns all entries in key order.
func (s *BoltStore) List() ([]Entry, error) {
	var entries []Entry
	err := s.view(func(tx *bolt.Tx) error {
		bucket, err := keysBucket(tx)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(key, value []byte) error {
			stored, err := decodeStoredKey(key, value)
			if err != nil {
				return err
			}
			entries = append(entries, Entry{KeyID: string(key), PEM: stored.PEM, AddedAt: stored.AddedAt})
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) Lookup(ctx context.Context, keyID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var (
		pem   string
		found bool
	)
	err := s.view(func(tx *bolt.Tx) error {
		bucket, err := keysBucket(tx)
		if err != nil {
			return err
		}
		value := bucket.Get([]byte(keyID))
		if value == nil {
			return nil
		}
		stored, err := decodeStoredKey([]byte(keyID), value)
		if err != nil {
			return err
		}
		pem, found = stored.PEM, true
		return nil
	})
	return pem, found, err
}

func (s *BoltStore) view(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *BoltStore) update(fn func(*bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}

func ensureSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(rootBucketName))
		if err != nil {
			return fmt.Errorf("create root bucket: %w", err)
		}
		if _, err := root.CreateBucketIfNotExists([]byte(keysBucketName)); err != nil {
			return fmt.Errorf("create keys bucket: %w", err)
		}
		meta, err := root.CreateBucketIfNotExists([]byte(metaBucketName))
		if err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		current := meta.Get([]byte(schemaKey))
		if current == nil {
			return meta.Put([]byte(schemaKey), []byte(schemaVersion))
		}
		if string(current) != schemaVersion {
			return fmt.Errorf("unsupported trust store schema version %q", string(current))
		}
		return nil
	})
}

func keysBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	root := tx.Bucket([]byte(rootBucketName))
	if root == nil {
		return nil, fmt.Errorf("missing root bucket")
	}
	bucket := root.Bucket([]byte(keysBucketName))
	if bucket == nil {
		return nil, fmt.Errorf("missing keys bucket")
	}
	return bucket, nil
}

func decodeStoredKey(key, value []byte) (storedKey, error) {
	var stored storedKey
	if err := json.Unmarshal(value, &stored); err != nil {
		return storedKey{}, fmt.Errorf("decode key %s: %w", string(key), err)
	}
	return stored, nil
}
