package store

import (
	"context"
	"database/sql"
)

// Pack is the stored form of an evidence pack: the canonical JSON payload
// (decoded/re-encoded by the search package, which owns the Pack shape) and
// its cache bookkeeping.
type Pack struct {
	PackID    string
	CreatedAt int64
	TTLMs     int64
	Payload   string // canonical JSON
}

// UpsertPack stores or replaces a pack by id.
func (s *Store) UpsertPack(ctx context.Context, p Pack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evidence_packs (pack_id, created_at, ttl_ms, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(pack_id) DO UPDATE SET
			created_at=excluded.created_at, ttl_ms=excluded.ttl_ms, payload=excluded.payload`,
		p.PackID, p.CreatedAt, p.TTLMs, p.Payload)
	return err
}

// GetPack returns a pack by id, regardless of TTL expiry. Staleness and
// TTL enforcement are the search pipeline's responsibility, since only it
// knows the current time and each item's staleness tokens.
func (s *Store) GetPack(ctx context.Context, packID string) (Pack, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var p Pack
	err := s.db.QueryRowContext(ctx, `
		SELECT pack_id, created_at, ttl_ms, payload FROM evidence_packs WHERE pack_id = ?`, packID).
		Scan(&p.PackID, &p.CreatedAt, &p.TTLMs, &p.Payload)
	if err == sql.ErrNoRows {
		return Pack{}, false, nil
	}
	if err != nil {
		return Pack{}, false, err
	}
	return p, true, nil
}

// DeleteExpiredPacks removes every pack whose TTL has elapsed as of nowMs,
// called opportunistically by the search pipeline's cache probe.
func (s *Store) DeleteExpiredPacks(ctx context.Context, nowMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM evidence_packs WHERE created_at + ttl_ms < ?`, nowMs)
	return err
}
