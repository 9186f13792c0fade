// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists the credential and last conversation with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-groups/internal/auth"
)

const settingLastConversation = "last_conversation"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
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

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS credentials (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			token      TEXT NOT NULL,
			username   TEXT NOT NULL,
			saved_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
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

// GetCredential returns the saved credential.
func (s *SQLiteStore) GetCredential(ctx context.Context) (*auth.Credential, error) {
	var cred auth.Credential
	err := s.db.QueryRowContext(ctx,
		`SELECT token, username FROM credentials WHERE id = 1`,
	).Scan(&cred.Token, &cred.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return &cred, nil
}

// SaveCredential stores cred, replacing any previous credential.
func (s *SQLiteStore) SaveCredential(ctx context.Context, cred *auth.Credential) error {
	if cred == nil || cred.Token == "" {
		return auth.ErrMissingCredential
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, token, username, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			username = excluded.username,
			saved_at = excluded.saved_at
	`, cred.Token, cred.Username, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}

	s.logger.Debug("credential saved", "username", cred.Username)
	return nil
}

// ClearCredential removes the saved credential.
func (s *SQLiteStore) ClearCredential(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	s.logger.Debug("credential cleared")
	return nil
}

// GetLastConversation returns the last selected group ID.
func (s *SQLiteStore) GetLastConversation(ctx context.Context) (string, error) {
	return s.getSetting(ctx, settingLastConversation)
}

// SetLastConversation records the last selected group ID.
func (s *SQLiteStore) SetLastConversation(ctx context.Context, groupID string) error {
	return s.setSetting(ctx, settingLastConversation, groupID)
}

func (s *SQLiteStore) getSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying setting %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) setSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	return nil
}
