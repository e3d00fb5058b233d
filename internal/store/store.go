// ABOUTME: Credential store interface and data types for wa-gateway persistence
// ABOUTME: Defines Credentials and the CredentialStore contract used by the session controller

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Credentials is the opaque key material a transport needs to resume a tenant's
// session without pairing again. The store never interprets Data.
type Credentials struct {
	ClientID  string
	Data      []byte
	UpdatedAt time.Time
}

// CredentialStore persists per-tenant credential material.
// Load returns ErrNotFound when the tenant has never paired (or was logged out).
type CredentialStore interface {
	Load(ctx context.Context, clientID string) (*Credentials, error)
	Save(ctx context.Context, creds *Credentials) error
	Delete(ctx context.Context, clientID string) error
	ListClientIDs(ctx context.Context) ([]string, error)
	Close() error
}
