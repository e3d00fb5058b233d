// Package store provides durable credential storage for wa-gateway using SQLite.
//
// # Architecture
//
// The session controller depends only on the CredentialStore interface:
//
//	type CredentialStore interface {
//	    Load(ctx, clientID) (*Credentials, error)
//	    Save(ctx, creds) error
//	    Delete(ctx, clientID) error
//	    ListClientIDs(ctx) ([]string, error)
//	    Close() error
//	}
//
// Credentials are opaque to the store. The WhatsApp transport keeps its device
// keys in its own database and stores only the paired device JID here; other
// transports may store whatever blob they need to resume a session.
//
// # Sealing
//
// When credentials.encryption_key is configured, blobs are encrypted with
// XChaCha20-Poly1305 (key derived with HKDF-SHA256) and the client ID is bound
// as associated data. Rows written before a key was configured stay readable.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//
// Database file locations:
//
//   - Development: ~/.local/share/wa-gateway/gateway.db
//   - Testing: :memory: (in-memory database)
//
// # Testing
//
// Use NewMockStore() for unit tests; it supports error injection through
// LoadErr, SaveErr and DeleteErr.
package store
