// ABOUTME: SQLite implementation of the CredentialStore interface using modernc.org/sqlite
// ABOUTME: Stores per-tenant credential blobs, optionally sealed, with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements CredentialStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithSealer encrypts credential blobs at rest with the given sealer.
func WithSealer(sealer *Sealer) Option {
	return func(s *SQLiteStore) {
		s.sealer = sealer
	}
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database lives per connection, so pin the pool to one.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "sealed", s.sealer != nil)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS credentials (
			client_id  TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			sealed     INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Load returns the stored credentials for clientID.
// Returns ErrNotFound if nothing is stored.
func (s *SQLiteStore) Load(ctx context.Context, clientID string) (*Credentials, error) {
	var data []byte
	var sealed bool
	var updatedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT data, sealed, updated_at FROM credentials WHERE client_id = ?`,
		clientID,
	).Scan(&data, &sealed, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}

	if sealed {
		if s.sealer == nil {
			return nil, fmt.Errorf("credentials for %q are sealed but no encryption key is configured", clientID)
		}
		data, err = s.sealer.Open(data, []byte(clientID))
		if err != nil {
			return nil, fmt.Errorf("opening sealed credentials: %w", err)
		}
	}

	creds := &Credentials{
		ClientID: clientID,
		Data:     data,
	}
	if parsed, err := time.Parse(time.RFC3339, updatedAt); err != nil {
		s.logger.Warn("failed to parse credentials updated_at", "client_id", clientID, "error", err)
	} else {
		creds.UpdatedAt = parsed
	}
	return creds, nil
}

// Save inserts or replaces the credentials for creds.ClientID.
func (s *SQLiteStore) Save(ctx context.Context, creds *Credentials) error {
	if creds.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if creds.UpdatedAt.IsZero() {
		creds.UpdatedAt = time.Now().UTC()
	}

	data := creds.Data
	sealed := false
	if s.sealer != nil {
		var err error
		data, err = s.sealer.Seal(creds.Data, []byte(creds.ClientID))
		if err != nil {
			return fmt.Errorf("sealing credentials: %w", err)
		}
		sealed = true
	}

	query := `
		INSERT INTO credentials (client_id, data, sealed, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			data = excluded.data,
			sealed = excluded.sealed,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		creds.ClientID,
		data,
		sealed,
		creds.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	s.logger.Debug("saved credentials", "client_id", creds.ClientID, "sealed", sealed)
	return nil
}

// Delete removes the credentials for clientID. Deleting a missing entry is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, clientID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE client_id = ?`, clientID); err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	s.logger.Debug("deleted credentials", "client_id", clientID)
	return nil
}

// ListClientIDs returns every client that has stored credentials, sorted.
func (s *SQLiteStore) ListClientIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT client_id FROM credentials ORDER BY client_id`)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning client_id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
