// Package keystore maps access key IDs to the secret keys grants are signed with.
package keystore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyNotFound is returned when no credential exists for an access key ID
	ErrKeyNotFound = errors.New("keystore: access key not found")

	// ErrKeyExists is returned when creating a credential whose access key ID is taken
	ErrKeyExists = errors.New("keystore: access key already exists")

	// ErrInvalidCredential is returned when a credential lacks an ID or secret
	ErrInvalidCredential = errors.New("keystore: access key ID and secret key are required")
)

// Credential is an access key pair
type Credential struct {
	AccessKeyID string
	SecretKey   string
	Description string
	CreatedAt   time.Time
}

// Validate checks the required fields
func (c *Credential) Validate() error {
	if c.AccessKeyID == "" || c.SecretKey == "" {
		return ErrInvalidCredential
	}
	return nil
}

// Store looks up and manages credentials
type Store interface {
	// Lookup returns the credential for accessKeyID or ErrKeyNotFound
	Lookup(ctx context.Context, accessKeyID string) (*Credential, error)

	// Create stores a new credential or returns ErrKeyExists
	Create(ctx context.Context, cred *Credential) error

	// Delete removes a credential or returns ErrKeyNotFound
	Delete(ctx context.Context, accessKeyID string) error
}
