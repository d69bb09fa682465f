package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tendant/upload-policy/pkg/uploadpolicy/keystore"
)

// Store is an in-memory keystore.Store
type Store struct {
	mu    sync.RWMutex
	creds map[string]keystore.Credential
}

// New creates a store seeded with creds
func New(creds ...keystore.Credential) *Store {
	s := &Store{creds: make(map[string]keystore.Credential)}
	for _, c := range creds {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		s.creds[c.AccessKeyID] = c
	}
	return s
}

// Lookup returns a copy of the stored credential
func (s *Store) Lookup(ctx context.Context, accessKeyID string) (*keystore.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[accessKeyID]
	if !ok {
		return nil, keystore.ErrKeyNotFound
	}
	return &cred, nil
}

// Create stores a new credential
func (s *Store) Create(ctx context.Context, cred *keystore.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.creds[cred.AccessKeyID]; exists {
		return keystore.ErrKeyExists
	}

	c := *cred
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.creds[c.AccessKeyID] = c
	return nil
}

// Delete removes a credential
func (s *Store) Delete(ctx context.Context, accessKeyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.creds[accessKeyID]; !exists {
		return keystore.ErrKeyNotFound
	}
	delete(s.creds, accessKeyID)
	return nil
}
