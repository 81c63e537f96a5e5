// Package registry is the durable session registry: which sessions exist and
// what they are called, nothing more. Runtime connection state lives in the
// in-memory store and is rebuilt from scratch after a restart, so the schema
// is deliberately a single small table.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"waroom/internal/models"
	"waroom/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id   TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Registry persists registered sessions in SQLite.
type Registry struct {
	db *sql.DB
}

// New opens (creating if needed) the registry database at dbPath and ensures
// the schema exists.
func New(dbPath string, busyTimeout time.Duration) (*Registry, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid registry path")
	}

	// Validate registry path to prevent directory traversal
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid registry path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close registry file: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=%d", dbPath, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping registry: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping registry: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Registry{db: db}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Save inserts or updates a registry row. Saving an existing session id
// updates the display name only.
func (r *Registry) Save(ctx context.Context, sessionID, displayName string) error {
	query := `
		INSERT INTO sessions (session_id, display_name)
		VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET display_name = excluded.display_name
	`
	if _, err := r.db.ExecContext(ctx, query, sessionID, displayName); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}
	return nil
}

// Delete removes a registry row. Deleting an unknown session id is a no-op.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// Get returns one registry row, or nil when the session id is unknown.
func (r *Registry) Get(ctx context.Context, sessionID string) (*models.RegisteredSession, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT session_id, display_name, created_at FROM sessions WHERE session_id = ?", sessionID)

	var rec models.RegisteredSession
	if err := row.Scan(&rec.ID, &rec.DisplayName, &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return &rec, nil
}

// List returns all registered sessions ordered by creation time. Used at
// startup to re-initiate handshakes for every known session.
func (r *Registry) List(ctx context.Context) ([]models.RegisteredSession, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT session_id, display_name, created_at FROM sessions ORDER BY created_at, session_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var sessions []models.RegisteredSession
	for rows.Next() {
		var rec models.RegisteredSession
		if err := rows.Scan(&rec.ID, &rec.DisplayName, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return sessions, nil
}
