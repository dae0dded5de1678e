// Package pgvector stores index entries in Postgres with the pgvector
// extension, the same backing store the original deployment used.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"confluenceqa/internal/pipeline"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert appends entries under the fixed collection name. Entries are never
// updated in place and re-ingestion appends duplicates; that mirrors the
// documented no-dedup contract.
func (s *Store) Upsert(ctx context.Context, entries []pipeline.Entry) error {
	query := `INSERT INTO index_entries (collection, content, metadata, embedding) VALUES ($1, $2, $3, $4::vector)`
	for _, entry := range entries {
		meta, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, query, pipeline.CollectionName, entry.Text, meta, vectorLiteral(entry.Vector)); err != nil {
			return err
		}
	}
	return nil
}

// SimilaritySearch returns the k nearest entries by cosine distance, best
// first. Score is 1 - distance so callers see descending similarity.
func (s *Store) SimilaritySearch(ctx context.Context, vector []float32, k int) ([]pipeline.SearchResult, error) {
	query := `SELECT content, metadata, 1 - (embedding <=> $2::vector) AS score FROM index_entries WHERE collection = $1 ORDER BY embedding <=> $2::vector LIMIT $3`
	rows, err := s.db.QueryContext(ctx, query, pipeline.CollectionName, vectorLiteral(vector), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []pipeline.SearchResult
	for rows.Next() {
		var (
			content string
			meta    []byte
			score   float64
		)
		if err := rows.Scan(&content, &meta, &score); err != nil {
			return nil, err
		}
		metadata := map[string]string{}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		results = append(results, pipeline.SearchResult{
			Text:     content,
			Metadata: metadata,
			Score:    float32(score),
		})
	}
	return results, rows.Err()
}

// Count reports how many entries the collection holds.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM index_entries WHERE collection = $1`
	err := s.db.QueryRowContext(ctx, query, pipeline.CollectionName).Scan(&n)
	return n, err
}

// vectorLiteral renders a vector in pgvector's input format, e.g. [0.1,0.2].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
