package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
)

// Embedding is the stored form of a chunk's vector under one (provider, model).
type Embedding struct {
	ChunkID     string
	Provider    string
	Model       string
	Dims        int
	Vector      []float32
	L2Norm      float32
	ContentHash string
}

// UpsertEmbedding stores or replaces the embedding for (chunk_id, provider, model).
func (s *Store) UpsertEmbedding(ctx context.Context, e Embedding) error {
	if len(e.Vector) != e.Dims {
		return fmt.Errorf("embedding dims mismatch: vector has %d, dims=%d", len(e.Vector), e.Dims)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (chunk_id, provider, model, dims, l2_norm, vector, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id, provider, model) DO UPDATE SET
			dims=excluded.dims, l2_norm=excluded.l2_norm, vector=excluded.vector, content_hash=excluded.content_hash`,
		e.ChunkID, e.Provider, e.Model, e.Dims, e.L2Norm, encodeVector(e.Vector), e.ContentHash)
	return err
}

// GetEmbedding looks up the embedding for (chunk_id, provider, model).
func (s *Store) GetEmbedding(ctx context.Context, chunkID, provider, model string) (Embedding, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var e Embedding
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT chunk_id, provider, model, dims, l2_norm, vector, content_hash
		FROM embeddings WHERE chunk_id = ? AND provider = ? AND model = ?`, chunkID, provider, model).
		Scan(&e.ChunkID, &e.Provider, &e.Model, &e.Dims, &e.L2Norm, &blob, &e.ContentHash)
	if err == sql.ErrNoRows {
		return Embedding{}, false, nil
	}
	if err != nil {
		return Embedding{}, false, err
	}
	e.Vector = decodeVector(blob)
	return e, true, nil
}

// EmbeddingsForModel returns every stored embedding under (provider, model),
// used to seed the in-memory vector ANN index on startup.
func (s *Store) EmbeddingsForModel(ctx context.Context, provider, model string) ([]Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, provider, model, dims, l2_norm, vector, content_hash
		FROM embeddings WHERE provider = ? AND model = ?`, provider, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Embedding
	for rows.Next() {
		var e Embedding
		var blob []byte
		if err := rows.Scan(&e.ChunkID, &e.Provider, &e.Model, &e.Dims, &e.L2Norm, &blob, &e.ContentHash); err != nil {
			return nil, err
		}
		e.Vector = decodeVector(blob)
		out = append(out, e)
	}
	return out, rows.Err()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
