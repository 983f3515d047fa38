package store

import (
	"context"
	"database/sql"
)

// TransactionState is the WAL state of a logged edit transaction.
type TransactionState string

const (
	TxPending    TransactionState = "pending"
	TxCommitted  TransactionState = "committed"
	TxRolledBack TransactionState = "rolled_back"
)

// TransactionRecord is one write-ahead log entry: the durable record of an
// edit batch attempt, independent of the bounded in-memory undo/redo
// stacks the coordinator keeps on top of it.
type TransactionRecord struct {
	ID          string
	State       TransactionState
	CreatedAt   int64
	CommittedAt sql.NullInt64
	Payload     string // canonical JSON: snapshots + patch plan + inverse patch
}

// AppendTransaction writes a new pending WAL entry.
func (s *Store) AppendTransaction(ctx context.Context, t TransactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, state, created_at, committed_at, payload)
		VALUES (?, ?, ?, ?, ?)`, t.ID, t.State, t.CreatedAt, t.CommittedAt, t.Payload)
	return err
}

// UpdateTransactionPayload rewrites a WAL entry's payload, used while a
// pending transaction accumulates snapshots as files are opened.
func (s *Store) UpdateTransactionPayload(ctx context.Context, id, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE transactions SET payload = ? WHERE id = ?`, payload, id)
	return err
}

// SetTransactionState transitions a WAL entry's state (pending to committed
// or rolled_back). committedAt is only meaningful for the committed state.
func (s *Store) SetTransactionState(ctx context.Context, id string, state TransactionState, committedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ca sql.NullInt64
	if state == TxCommitted {
		ca = sql.NullInt64{Int64: committedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `UPDATE transactions SET state = ?, committed_at = ? WHERE id = ?`, state, ca, id)
	return err
}

// GetTransaction returns a WAL entry by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (TransactionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t TransactionRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, state, created_at, committed_at, payload FROM transactions WHERE id = ?`, id).
		Scan(&t.ID, &t.State, &t.CreatedAt, &t.CommittedAt, &t.Payload)
	if err == sql.ErrNoRows {
		return TransactionRecord{}, false, nil
	}
	if err != nil {
		return TransactionRecord{}, false, err
	}
	return t, true, nil
}

// PendingTransactions returns every transaction still in the pending state,
// the set crash recovery must roll back at startup.
func (s *Store) PendingTransactions(ctx context.Context) ([]TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, created_at, committed_at, payload FROM transactions WHERE state = ? ORDER BY created_at`, TxPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransactionRecord
	for rows.Next() {
		var t TransactionRecord
		if err := rows.Scan(&t.ID, &t.State, &t.CreatedAt, &t.CommittedAt, &t.Payload); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CommittedTransactionsDesc returns committed transactions most-recent-first,
// up to limit, used to seed the undo stack after a restart.
func (s *Store) CommittedTransactionsDesc(ctx context.Context, limit int) ([]TransactionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, created_at, committed_at, payload FROM transactions
		WHERE state = ? ORDER BY committed_at DESC LIMIT ?`, TxCommitted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransactionRecord
	for rows.Next() {
		var t TransactionRecord
		if err := rows.Scan(&t.ID, &t.State, &t.CreatedAt, &t.CommittedAt, &t.Payload); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
