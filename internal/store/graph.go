package store

import (
	"context"
	"database/sql"
)

// StoredSymbol is the persisted form of a parsed symbol.
type StoredSymbol struct {
	ID        string
	Name      string
	Kind      string
	FilePath  string
	StartLine int
	EndLine   int
	Signature string
	Parent    string
}

// FileEdge is a file-level dependency edge: import or reexport.
type FileEdge struct {
	SourceFile string
	TargetPath string
	Kind       string
	Line       int
}

// SymbolEdge is a symbol-level relationship: calls, extends, implements, uses_type.
type SymbolEdge struct {
	SourceFile string
	SourceName string
	TargetName string
	Kind       string
	Line       int
}

// ReplaceFileGraph atomically replaces path's symbols and outgoing edges,
// mirroring ReplaceChunks: the graph is regenerated from a fresh parse on
// every reindex of a file, never patched incrementally.
func (s *Store) ReplaceFileGraph(ctx context.Context, path string, symbols []StoredSymbol, fileEdges []FileEdge, symbolEdges []SymbolEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE file_path = ?`, path); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_edges WHERE source_file = ?`, path); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM symbol_edges WHERE source_file = ?`, path); err != nil {
		return err
	}

	insSym, err := tx.PrepareContext(ctx, `
		INSERT INTO symbols (id, name, kind, file_path, start_line, end_line, signature, parent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insSym.Close()
	for _, sym := range symbols {
		if _, err := insSym.ExecContext(ctx, sym.ID, sym.Name, sym.Kind, sym.FilePath, sym.StartLine, sym.EndLine, sym.Signature, sym.Parent); err != nil {
			return err
		}
	}

	insFE, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO file_edges (source_file, target_path, kind, line) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insFE.Close()
	for _, e := range fileEdges {
		if _, err := insFE.ExecContext(ctx, e.SourceFile, e.TargetPath, e.Kind, e.Line); err != nil {
			return err
		}
	}

	insSE, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO symbol_edges (source_file, source_name, target_name, kind, line) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer insSE.Close()
	for _, e := range symbolEdges {
		if _, err := insSE.ExecContext(ctx, e.SourceFile, e.SourceName, e.TargetName, e.Kind, e.Line); err != nil {
			return err
		}
	}

	if err := bumpGenerationLocked(ctx, tx, "graph"); err != nil {
		return err
	}

	return tx.Commit()
}

// FileEdgesFrom returns the outgoing file edges of path.
func (s *Store) FileEdgesFrom(ctx context.Context, path string) ([]FileEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT source_file, target_path, kind, line FROM file_edges WHERE source_file = ?`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FileEdge
	for rows.Next() {
		var e FileEdge
		if err := rows.Scan(&e.SourceFile, &e.TargetPath, &e.Kind, &e.Line); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FileEdgesTo returns every file edge whose target_path is path (incoming edges).
func (s *Store) FileEdgesTo(ctx context.Context, path string) ([]FileEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT source_file, target_path, kind, line FROM file_edges WHERE target_path = ?`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FileEdge
	for rows.Next() {
		var e FileEdge
		if err := rows.Scan(&e.SourceFile, &e.TargetPath, &e.Kind, &e.Line); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SymbolEdgesFrom returns outgoing symbol edges whose source_name is symbolName.
func (s *Store) SymbolEdgesFrom(ctx context.Context, symbolName string) ([]SymbolEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT source_file, source_name, target_name, kind, line FROM symbol_edges WHERE source_name = ?`, symbolName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbolEdges(rows)
}

// SymbolEdgesTo returns incoming symbol edges whose target_name is symbolName.
func (s *Store) SymbolEdgesTo(ctx context.Context, symbolName string) ([]SymbolEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT source_file, source_name, target_name, kind, line FROM symbol_edges WHERE target_name = ?`, symbolName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSymbolEdges(rows)
}

func scanSymbolEdges(rows *sql.Rows) ([]SymbolEdge, error) {
	var out []SymbolEdge
	for rows.Next() {
		var e SymbolEdge
		if err := rows.Scan(&e.SourceFile, &e.SourceName, &e.TargetName, &e.Kind, &e.Line); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SymbolsForFile returns every symbol recorded for path.
func (s *Store) SymbolsForFile(ctx context.Context, path string) ([]StoredSymbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, file_path, start_line, end_line, signature, parent
		FROM symbols WHERE file_path = ? ORDER BY start_line`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoredSymbol
	for rows.Next() {
		var sym StoredSymbol
		if err := rows.Scan(&sym.ID, &sym.Name, &sym.Kind, &sym.FilePath, &sym.StartLine, &sym.EndLine, &sym.Signature, &sym.Parent); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// SymbolsByName returns every symbol with exactly the given name, across
// files, ordered by file path then start line.
func (s *Store) SymbolsByName(ctx context.Context, name string) ([]StoredSymbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, file_path, start_line, end_line, signature, parent
		FROM symbols WHERE name = ? ORDER BY file_path, start_line`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoredSymbol
	for rows.Next() {
		var sym StoredSymbol
		if err := rows.Scan(&sym.ID, &sym.Name, &sym.Kind, &sym.FilePath, &sym.StartLine, &sym.EndLine, &sym.Signature, &sym.Parent); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// AllSymbolNames returns the distinct symbol names in the index, used to
// seed fuzzy suggestions when a relationship target cannot be resolved.
func (s *Store) AllSymbolNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM symbols ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Generation returns the current value of a named generation counter, used
// by the graph package to invalidate memoized transitive closures whenever
// the underlying edge tables change.
func (s *Store) Generation(ctx context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM generation_counter WHERE name = ?`, name).Scan(&v)
	if err != nil {
		return 0, nil //nolint:nilerr // absent counter reads as generation 0
	}
	return v, nil
}

func bumpGenerationLocked(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO generation_counter (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1`, name)
	return err
}
