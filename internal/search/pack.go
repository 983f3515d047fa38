// Package search implements the hybrid retrieval pipeline: candidate
// collection, BM25F and vector ranking, reciprocal rank fusion, MMR
// diversification, evidence shaping, and the content-addressed evidence
// pack cache.
package search

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/randalmurphy/smart-context-mcp/internal/chunk"
)

// Item roles within a pack.
const (
	RoleResult   = "result"
	RoleEvidence = "evidence"
)

// Scores carries the per-ranker scores that produced an item's rank.
type Scores struct {
	BM25   float64 `json:"bm25,omitempty"`
	Vector float64 `json:"vector,omitempty"`
	Fused  float64 `json:"fused,omitempty"`
}

// PackItem is one ranked section in an evidence pack. StalenessToken is
// the chunk's content hash at pack creation; the pack is only served from
// cache while every token still matches the live chunk.
type PackItem struct {
	Role           string      `json:"role"`
	Rank           int         `json:"rank"`
	ChunkID        string      `json:"chunk_id"`
	Path           string      `json:"path"`
	Range          chunk.Range `json:"range"`
	SectionPath    []string    `json:"section_path,omitempty"`
	Heading        string      `json:"heading,omitempty"`
	Preview        string      `json:"preview"`
	Scores         Scores      `json:"scores"`
	StalenessToken string      `json:"staleness_token"`
}

// Pack is a cached, content-addressed bundle of ranked sections for one
// (query, options, root) triple.
type Pack struct {
	PackID    string     `json:"pack_id"`
	Query     string     `json:"query"`
	CreatedAt int64      `json:"created_at"` // unix ms
	ExpiresAt int64      `json:"expires_at"` // unix ms
	Items     []PackItem `json:"items"`
	Degraded  []string   `json:"degraded,omitempty"`
}

// Options is the caller-visible option set hashed into the pack id. Two
// queries share a cache slot iff query, options, and root fingerprint all
// match byte-for-byte under canonical JSON.
type Options struct {
	Scope           string `json:"scope"` // docs | project | all
	MaxResults      int    `json:"max_results"`
	IncludeComments bool   `json:"include_comments"`
	IncludeLogs     bool   `json:"include_logs"`
	IncludeMetrics  bool   `json:"include_metrics"`
	MMR             bool   `json:"mmr"`
	Vectors         bool   `json:"vectors"`
}

// RootFingerprint is the stable hash of the absolute project root path
// that scopes every stored key.
func RootFingerprint(absRoot string) string {
	h := sha256.Sum256([]byte(absRoot))
	return hex.EncodeToString(h[:])
}

// ComputePackID hashes (query, options, root fingerprint) under canonical
// JSON. Deterministic: the same triple always yields the same id.
func ComputePackID(query string, opts Options, rootFingerprint string) (string, error) {
	payload := struct {
		Query   string  `json:"query"`
		Options Options `json:"options"`
		Root    string  `json:"root"`
	}{Query: query, Options: opts, Root: rootFingerprint}

	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(canonical)
	return hex.EncodeToString(h[:]), nil
}

// CanonicalJSON encodes v with lexicographically sorted object keys, no
// insignificant whitespace, and numbers in their shortest round-trip form
// (preserved from encoding/json's own rendering via json.Number).
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, tree); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case json.Number:
		buf.WriteString(t.String())
		return nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

// EncodePack serializes a pack for the store.
func EncodePack(p *Pack) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode pack: %w", err)
	}
	return string(data), nil
}

// DecodePack deserializes a stored pack payload.
func DecodePack(payload string) (*Pack, error) {
	var p Pack
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decode pack: %w", err)
	}
	return &p, nil
}
