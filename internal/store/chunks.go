package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// StoredChunk is the persisted form of a chunk.Chunk (store doesn't import
// the chunk package to avoid a dependency cycle with packages that need
// both; callers convert at the boundary).
type StoredChunk struct {
	ID           string
	Path         string
	Kind         string
	SectionPath  []string
	Heading      string
	HeadingLevel int
	StartLine    int
	EndLine      int
	Text         string
	ContentHash  string
	SymbolName   string
	SymbolKind   string
	HasSecrets   bool
}

// ReplaceChunks atomically replaces every chunk belonging to path with
// newChunks: deletes the old set, inserts the new one, and cascades to
// delete any embedding whose content_hash no longer matches a surviving
// chunk, so no ranker ever scores against a vector of vanished text.
func (s *Store) ReplaceChunks(ctx context.Context, path string, newChunks []StoredChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace_chunks: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	oldRows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("list old chunks: %w", err)
	}
	var oldIDs []string
	for oldRows.Next() {
		var id string
		_ = oldRows.Scan(&id)
		oldIDs = append(oldIDs, id)
	}
	oldRows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, path, kind, section_path, heading, heading_level, start_line, end_line, text, content_hash, symbol_name, symbol_kind, has_secrets)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insert.Close()

	keep := make(map[string]string, len(newChunks)) // chunk id -> content_hash
	for _, c := range newChunks {
		sectionPath, err := json.Marshal(c.SectionPath)
		if err != nil {
			return err
		}
		hasSecrets := 0
		if c.HasSecrets {
			hasSecrets = 1
		}
		if _, err := insert.ExecContext(ctx, c.ID, path, c.Kind, string(sectionPath), c.Heading, c.HeadingLevel,
			c.StartLine, c.EndLine, c.Text, c.ContentHash, c.SymbolName, c.SymbolKind, hasSecrets); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
		keep[c.ID] = c.ContentHash
	}

	// Cascade-invalidate embeddings for chunk ids in this file whose stored
	// content_hash is stale relative to the new chunk set (covers both
	// chunks that moved/changed and ones that disappeared entirely).
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT e.chunk_id, e.content_hash FROM embeddings e
		JOIN (SELECT id FROM chunks WHERE path = ?) c ON c.id = e.chunk_id`, path)
	if err != nil {
		return fmt.Errorf("scan embeddings for invalidation: %w", err)
	}
	var stale []string
	for rows.Next() {
		var chunkID, hash string
		if err := rows.Scan(&chunkID, &hash); err != nil {
			rows.Close()
			return err
		}
		if want, ok := keep[chunkID]; !ok || want != hash {
			stale = append(stale, chunkID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range oldIDs {
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE chunk_id = ?`, id); err != nil {
			return fmt.Errorf("invalidate embedding %s: %w", id, err)
		}
	}

	// The chunks generation lets readers (the lexical scout, pack cache)
	// notice that any file's chunk set changed without polling rows.
	if err := bumpGenerationLocked(ctx, tx, "chunks"); err != nil {
		return err
	}

	return tx.Commit()
}

// ReplaceChunkSummaries stores the query-independent summaries for a
// file's chunk set, replacing whatever was there for those ids.
func (s *Store) ReplaceChunkSummaries(ctx context.Context, summaries map[string]string) error {
	if len(summaries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for chunkID, summary := range summaries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunk_summaries (chunk_id, summary) VALUES (?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET summary=excluded.summary`, chunkID, summary); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SummaryForPath returns the stored summary of path's first chunk, used
// as the one-line preview in file and directory listings.
func (s *Store) SummaryForPath(ctx context.Context, path string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var summary string
	err := s.db.QueryRowContext(ctx, `
		SELECT cs.summary FROM chunk_summaries cs
		JOIN chunks c ON c.id = cs.chunk_id
		WHERE c.path = ? ORDER BY c.start_line LIMIT 1`, path).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return summary, true, nil
}

// ChunksForPath returns every stored chunk of path, ordered by start_line.
func (s *Store) ChunksForPath(ctx context.Context, path string) ([]StoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, kind, section_path, heading, heading_level, start_line, end_line, text, content_hash, symbol_name, symbol_kind, has_secrets
		FROM chunks WHERE path = ? ORDER BY start_line`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetChunk returns a single chunk by id.
func (s *Store) GetChunk(ctx context.Context, chunkID string) (StoredChunk, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, kind, section_path, heading, heading_level, start_line, end_line, text, content_hash, symbol_name, symbol_kind, has_secrets
		FROM chunks WHERE id = ?`, chunkID)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return StoredChunk{}, false, nil
	}
	if err != nil {
		return StoredChunk{}, false, err
	}
	return c, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (StoredChunk, error) {
	var c StoredChunk
	var sectionPath string
	var hasSecrets int
	if err := row.Scan(&c.ID, &c.Path, &c.Kind, &sectionPath, &c.Heading, &c.HeadingLevel,
		&c.StartLine, &c.EndLine, &c.Text, &c.ContentHash, &c.SymbolName, &c.SymbolKind, &hasSecrets); err != nil {
		return StoredChunk{}, err
	}
	_ = json.Unmarshal([]byte(sectionPath), &c.SectionPath)
	c.HasSecrets = hasSecrets != 0
	return c, nil
}

func scanChunks(rows *sql.Rows) ([]StoredChunk, error) {
	var out []StoredChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
