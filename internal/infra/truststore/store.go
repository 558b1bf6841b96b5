package truststore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrStoreClosed  = errors.New("trust store is closed")
	ErrMissingKeyID = errors.New("key id is required")
	ErrInvalidKey   = errors.New("invalid public key PEM")
)

// Store maps key identifiers to PEM-encoded public keys.
type Store interface {
	Lookup(ctx context.Context, keyID string) (string, bool, error)
}

// Entry is one trusted key.
type Entry struct {
	KeyID   string
	PEM     string
	AddedAt string
}

// MapStore is an immutable in-memory store built from configuration.
type MapStore struct {
	mu   sync.RWMutex
	keys map[string]string
}

func NewMapStore(keys map[string]string) *MapStore {
	copied := make(map[string]string, len(keys))
	for kid, pem := range keys {
		copied[strings.TrimSpace(kid)] = pem
	}
	return &MapStore{keys: copied}
}

func (m *MapStore) Lookup(_ context.Context, keyID string) (string, bool, error) {
	if m == nil {
		return "", false, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	pem, ok := m.keys[keyID]
	return pem, ok, nil
}

// List returns entries ordered by key id.
func (m *MapStore) List() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]Entry, 0, len(m.keys))
	for kid, pem := range m.keys {
		entries = append(entries, Entry{KeyID: kid, PEM: pem})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].KeyID < entries[j].KeyID })
	return entries
}

// Chain consults stores in order and returns the first hit.
type Chain []Store

func (c Chain) Lookup(ctx context.Context, keyID string) (string, bool, error) {
	for _, store := range c {
		if store == nil {
			continue
		}
		pem, ok, err := store.Lookup(ctx, keyID)
		if err != nil {
			return "", false, err
		}
		if ok {
			return pem, true, nil
		}
	}
	return "", false, nil
}

// ValidatePEM checks that pem decodes to an RSA public key.
func ValidatePEM(pem string) error {
	if _, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem)); err != nil {
		return errors.Join(ErrInvalidKey, err)
	}
	return nil
}

func validateKeyID(keyID string) error {
	if strings.TrimSpace(keyID) == "" {
		return ErrMissingKeyID
	}
	return nil
}
