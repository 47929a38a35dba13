// mirror/db.go
package mirror

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS notes (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT,
    html_content TEXT NOT NULL DEFAULT '',
    markdown_content TEXT NOT NULL DEFAULT '',
    folder_path TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '[]',
    file_id TEXT NOT NULL DEFAULT '',
    file_name TEXT NOT NULL DEFAULT '',
    file_type TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    note_type TEXT NOT NULL DEFAULT '',
    character_count INTEGER NOT NULL DEFAULT 0,
    word_count INTEGER NOT NULL DEFAULT 0,
    searchable_text TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_owner_updated ON notes(owner_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_notes_file ON notes(file_id);

CREATE TABLE IF NOT EXISTS folders (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    path TEXT NOT NULL,
    level INTEGER NOT NULL DEFAULT 0,
    parent_path TEXT,
    notes_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    UNIQUE (owner_id, path)
);

CREATE TABLE IF NOT EXISTS tags (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    usage_count INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    UNIQUE (owner_id, name)
);

CREATE TABLE IF NOT EXISTS associations (
    id TEXT PRIMARY KEY,
    note_id TEXT NOT NULL,
    pdf_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL,
    last_modified INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_associations_note ON associations(note_id);
CREATE INDEX IF NOT EXISTS idx_associations_pdf ON associations(pdf_id);
CREATE INDEX IF NOT EXISTS idx_associations_user ON associations(user_id);
`

// DB opens the local SQLite database on first use. Every caller shares the
// same *sql.DB for the life of the process.
type DB struct {
	path string
	log  zerolog.Logger

	mu sync.Mutex
	db *sql.DB
}

func NewDB(path string, log zerolog.Logger) *DB {
	return &DB{path: path, log: log.With().Str("component", "mirror").Logger()}
}

func (d *DB) Path() string { return d.path }

// Conn returns the shared handle, opening the file and creating the schema
// if this is the first call.
func (d *DB) Conn(ctx context.Context) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return d.db, nil
	}

	if d.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create mirror directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+d.path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror database: %w", err)
	}
	// A single connection serializes writers and keeps per-connection
	// pragmas in effect for every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, mapErr(fmt.Errorf("failed to create mirror schema: %w", err))
	}
	d.db = db
	d.log.Info().Str("path", d.path).Msg("Local mirror opened")
	return d.db, nil
}

func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}
