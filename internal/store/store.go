// Package store is the persistence layer: one SQLite database per indexed
// project (".smart-context/index.db"), holding files, chunks, embeddings,
// the dependency graph's edge tables, transaction history, and cached
// evidence packs. The Store is the only component that owns persistent
// state; everything else holds borrowed views valid for one operation.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a single project's SQLite database. All methods are safe for
// concurrent use; writers serialize behind mu, matching the single-writer
// discipline SQLite's WAL mode expects.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Open creates or opens the database at path, creating parent directories
// as needed, and applies the schema. An empty path opens an in-memory
// database, used by tests.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schemaSQL)
	return err
}

// Close checkpoints the WAL and closes the underlying connection. Safe to
// call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}


const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
INSERT OR IGNORE INTO schema_version (version) VALUES (1);

CREATE TABLE IF NOT EXISTS files (
	path TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	line_count INTEGER NOT NULL,
	mtime INTEGER NOT NULL,
	language_tag TEXT NOT NULL DEFAULT '',
	newline_style TEXT NOT NULL DEFAULT 'lf',
	indent_style TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL REFERENCES files(path) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	section_path TEXT NOT NULL DEFAULT '[]',
	heading TEXT NOT NULL DEFAULT '',
	heading_level INTEGER NOT NULL DEFAULT 0,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	text TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	symbol_name TEXT NOT NULL DEFAULT '',
	symbol_kind TEXT NOT NULL DEFAULT '',
	has_secrets INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

CREATE TABLE IF NOT EXISTS embeddings (
	chunk_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	dims INTEGER NOT NULL,
	l2_norm REAL NOT NULL,
	vector BLOB NOT NULL,
	content_hash TEXT NOT NULL,
	PRIMARY KEY (chunk_id, provider, model)
);

CREATE TABLE IF NOT EXISTS symbols (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	kind TEXT NOT NULL,
	file_path TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	signature TEXT NOT NULL DEFAULT '',
	parent TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_path);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);

CREATE TABLE IF NOT EXISTS file_edges (
	source_file TEXT NOT NULL,
	target_path TEXT NOT NULL,
	kind TEXT NOT NULL,
	line INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source_file, target_path, kind, line)
);
CREATE INDEX IF NOT EXISTS idx_file_edges_target ON file_edges(target_path);

CREATE TABLE IF NOT EXISTS symbol_edges (
	source_file TEXT NOT NULL,
	source_name TEXT NOT NULL,
	target_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	line INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source_file, source_name, target_name, kind, line)
);
CREATE INDEX IF NOT EXISTS idx_symbol_edges_target ON symbol_edges(target_name);

CREATE TABLE IF NOT EXISTS evidence_packs (
	pack_id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	ttl_ms INTEGER NOT NULL,
	payload TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunk_summaries (
	chunk_id TEXT PRIMARY KEY,
	summary TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	committed_at INTEGER,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_state ON transactions(state);

CREATE TABLE IF NOT EXISTS generation_counter (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);
`

// File mirrors the File record of the data model.
type File struct {
	Path         string
	ContentHash  string
	SizeBytes    int64
	LineCount    int
	Mtime        int64
	LanguageTag  string
	NewlineStyle string
	IndentStyle  string
}

// UpsertFile inserts or updates a file record, keyed by path.
func (s *Store) UpsertFile(ctx context.Context, f File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (path, content_hash, size_bytes, line_count, mtime, language_tag, newline_style, indent_style)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content_hash=excluded.content_hash, size_bytes=excluded.size_bytes,
			line_count=excluded.line_count, mtime=excluded.mtime,
			language_tag=excluded.language_tag, newline_style=excluded.newline_style,
			indent_style=excluded.indent_style`,
		f.Path, f.ContentHash, f.SizeBytes, f.LineCount, f.Mtime, f.LanguageTag, f.NewlineStyle, f.IndentStyle)
	return err
}

// RemoveFile deletes a file and (via ON DELETE CASCADE) its chunks.
func (s *Store) RemoveFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	return err
}

// GetFile returns the file record for path, or (File{}, false, nil) if absent.
func (s *Store) GetFile(ctx context.Context, path string) (File, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var f File
	err := s.db.QueryRowContext(ctx, `
		SELECT path, content_hash, size_bytes, line_count, mtime, language_tag, newline_style, indent_style
		FROM files WHERE path = ?`, path).Scan(
		&f.Path, &f.ContentHash, &f.SizeBytes, &f.LineCount, &f.Mtime, &f.LanguageTag, &f.NewlineStyle, &f.IndentStyle)
	if err == sql.ErrNoRows {
		return File{}, false, nil
	}
	if err != nil {
		return File{}, false, err
	}
	return f, true, nil
}

// ListFilesMatching returns every stored file path matching at least one of
// globs (path/filepath.Match semantics against the project-relative path).
// An empty glob list matches every file.
func (s *Store) ListFilesMatching(ctx context.Context, globs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM files ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		if len(globs) == 0 || matchesAny(p, globs) {
			out = append(out, p)
		}
	}
	return out, rows.Err()
}

// matchesAny reports whether path matches any of globs. A leading "**/"
// is treated as "match at any depth", since filepath.Match has no
// cross-separator wildcard of its own.
func matchesAny(path string, globs []string) bool {
	for _, g := range globs {
		if rest, ok := strings.CutPrefix(g, "**/"); ok {
			segs := strings.Split(path, "/")
			for i := range segs {
				if ok, _ := filepath.Match(rest, strings.Join(segs[i:], "/")); ok {
					return true
				}
			}
			continue
		}
		if ok, _ := filepath.Match(g, path); ok {
			return true
		}
	}
	return false
}

// Counts summarizes table sizes for status output.
type Counts struct {
	Files        int
	Chunks       int
	Symbols      int
	Embeddings   int
	Packs        int
	Transactions int
}

// CountAll reads row counts across the main tables.
func (s *Store) CountAll(ctx context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c Counts
	for _, q := range []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM files", &c.Files},
		{"SELECT COUNT(*) FROM chunks", &c.Chunks},
		{"SELECT COUNT(*) FROM symbols", &c.Symbols},
		{"SELECT COUNT(*) FROM embeddings", &c.Embeddings},
		{"SELECT COUNT(*) FROM evidence_packs", &c.Packs},
		{"SELECT COUNT(*) FROM transactions", &c.Transactions},
	} {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return Counts{}, err
		}
	}
	return c, nil
}

// GetContentHash is the cheap per-chunk staleness probe evidence-pack
// freshness checks use: it reads only the hash column, not the chunk body.
func (s *Store) GetContentHash(ctx context.Context, chunkID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT content_hash FROM chunks WHERE id = ?`, chunkID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}
