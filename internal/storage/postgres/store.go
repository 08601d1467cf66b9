// Package postgres stores entity embeddings in PostgreSQL using the
// pgvector extension.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/internal/storage"
)

const vectorTable = `
CREATE TABLE IF NOT EXISTS entity_vectors (
	entity_id  TEXT PRIMARY KEY,
	body       TEXT NOT NULL DEFAULT '',
	metadata   JSONB,
	embedding  vector(%d) NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// VectorStore implements storage.VectorStore on pgvector. Similarity uses
// the cosine distance operator (<=>).
type VectorStore struct {
	db    *sql.DB
	dim   int
	reset bool
}

var _ storage.VectorStore = (*VectorStore)(nil)

// NewVectorStore connects to dsn and prepares the vector table for vectors
// of length dim. An existing table with another dimension is dropped and
// recreated, and Reset reports true.
func NewVectorStore(dsn string, dim int) (*VectorStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidInput)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	s := &VectorStore{db: db, dim: dim}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *VectorStore) migrate() error {
	if _, err := s.db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("postgres: pgvector extension not available: %w", err)
	}

	// For vector columns atttypmod holds the declared dimension.
	var existing int
	err := s.db.QueryRow(`
		SELECT a.atttypmod
		FROM pg_attribute a
		WHERE a.attrelid = to_regclass('entity_vectors')
		  AND a.attname = 'embedding'
	`).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("postgres: inspect vector table: %w", err)
	case existing != s.dim:
		log.Printf("postgres: vector table has dimension %d, want %d: dropping vector cache", existing, s.dim)
		if _, err := s.db.Exec("DROP TABLE entity_vectors"); err != nil {
			return fmt.Errorf("postgres: drop vector table: %w", err)
		}
		s.reset = true
	}

	if _, err := s.db.Exec(fmt.Sprintf(vectorTable, s.dim)); err != nil {
		return fmt.Errorf("postgres: create vector table: %w", err)
	}
	return nil
}

// Reset reports whether stored vectors were discarded on open.
func (s *VectorStore) Reset() bool {
	return s.reset
}

func (s *VectorStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *VectorStore) Upsert(ctx context.Context, rec storage.VectorRecord) error {
	if rec.EntityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if len(rec.Vector) != s.dim {
		return fmt.Errorf("%w: got %d, store holds %d", embedding.ErrDimensionMismatch, len(rec.Vector), s.dim)
	}
	if embedding.IsZero(rec.Vector) {
		return fmt.Errorf("%w: zero vector for %s", storage.ErrInvalidInput, rec.EntityID)
	}

	var meta []byte
	if len(rec.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(rec.Metadata); err != nil {
			return fmt.Errorf("postgres: marshal metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_vectors (entity_id, body, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (entity_id) DO UPDATE SET
			body = excluded.body,
			metadata = excluded.metadata,
			embedding = excluded.embedding,
			updated_at = NOW()
	`, rec.EntityID, rec.Text, meta, pgvector.NewVector(rec.Vector))
	if err != nil {
		return fmt.Errorf("postgres: upsert vector: %w", err)
	}
	return nil
}

func (s *VectorStore) Delete(ctx context.Context, entityID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entity_vectors WHERE entity_id = $1`, entityID); err != nil {
		return fmt.Errorf("postgres: delete vector: %w", err)
	}
	return nil
}

func (s *VectorStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE TABLE entity_vectors`); err != nil {
		return fmt.Errorf("postgres: clear vectors: %w", err)
	}
	return nil
}

func (s *VectorStore) Nearest(ctx context.Context, query []float32, k int) ([]storage.VectorHit, error) {
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: got %d, store holds %d", embedding.ErrDimensionMismatch, len(query), s.dim)
	}
	if k <= 0 || embedding.IsZero(query) {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, body, metadata, embedding <=> $1 AS distance
		FROM entity_vectors
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("postgres: knn query: %w", err)
	}
	defer rows.Close()

	var hits []storage.VectorHit
	for rows.Next() {
		var h storage.VectorHit
		var meta []byte
		var distance float64
		if err := rows.Scan(&h.EntityID, &h.Text, &meta, &distance); err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &h.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: metadata: %w", err)
			}
		}
		h.Similarity = embedding.Clamp01(1 - distance)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// TruncateForTest removes all stored vectors.
func (s *VectorStore) TruncateForTest(ctx context.Context) error {
	return s.Clear(ctx)
}

func (s *VectorStore) Close() error {
	return s.db.Close()
}
