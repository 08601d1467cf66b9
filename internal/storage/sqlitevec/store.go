// Package sqlitevec stores entity embeddings in a sqlite-vec vec0 table.
//
// Vectors are L2-normalised before they are written, so for the default
// euclidean metric cosine similarity is 1 - d²/2.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/scrypster/tessera/internal/embedding"
	"github.com/scrypster/tessera/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS vector_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entity_vectors (
	vector_id  INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id  TEXT NOT NULL UNIQUE,
	body       TEXT NOT NULL DEFAULT '',
	metadata   TEXT,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const vecSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
	vector_id INTEGER PRIMARY KEY,
	embedding FLOAT[%d]
);
`

// Store implements storage.VectorStore.
type Store struct {
	db    *sql.DB
	dim   int
	reset bool
}

var _ storage.VectorStore = (*Store)(nil)

// Open opens the vector database at path for vectors of length dim.
// If the database was written for another dimension or model, the vector
// tables are dropped and recreated; Reset then reports true so the caller
// can rebuild the index.
func Open(path string, dim int, model string) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidInput)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitevec: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitevec: set busy timeout: %w", err)
	}

	s := &Store{db: db, dim: dim}
	if err := s.migrate(model); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(model string) error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("sqlitevec: create schema: %w", err)
	}

	storedDim, _ := s.meta("dimension")
	storedModel, _ := s.meta("model")
	wantDim := strconv.Itoa(s.dim)

	if (storedDim != "" && storedDim != wantDim) || (storedModel != "" && storedModel != model) {
		log.Printf("sqlitevec: vectors were written by %s/%s, now %s/%s: dropping vector cache",
			storedModel, storedDim, model, wantDim)
		for _, stmt := range []string{"DROP TABLE IF EXISTS vec_entities", "DELETE FROM entity_vectors"} {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("sqlitevec: reset: %w", err)
			}
		}
		s.reset = true
	}

	if _, err := s.db.Exec(fmt.Sprintf(vecSchema, s.dim)); err != nil {
		return fmt.Errorf("sqlitevec: create vec0 table: %w", err)
	}
	if err := s.setMeta("dimension", wantDim); err != nil {
		return err
	}
	return s.setMeta("model", model)
}

func (s *Store) meta(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM vector_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) setMeta(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO vector_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("sqlitevec: write meta %s: %w", key, err)
	}
	return nil
}

// Reset reports whether Open discarded previously stored vectors.
func (s *Store) Reset() bool {
	return s.reset
}

// Dimension returns the vector length the store was opened for.
func (s *Store) Dimension() int {
	return s.dim
}

// Ping checks that the extension is loaded and that a KNN query over the
// vec0 table runs. The sample row is written inside a transaction that is
// rolled back.
func (s *Store) Ping(ctx context.Context) (err error) {
	defer guard("ping", &err)

	var version string
	if err := s.db.QueryRowContext(ctx, `SELECT vec_version()`).Scan(&version); err != nil {
		return fmt.Errorf("sqlitevec: extension unavailable: %w", err)
	}

	sample := make([]float32, s.dim)
	sample[0] = 1
	blob, err := sqlite_vec.SerializeFloat32(sample)
	if err != nil {
		return fmt.Errorf("sqlitevec: serialise: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitevec: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var sampleID int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(vector_id), 0) + 1 FROM entity_vectors`).Scan(&sampleID); err != nil {
		return fmt.Errorf("sqlitevec: sample id: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vec_entities (vector_id, embedding) VALUES (?, ?)`, sampleID, blob); err != nil {
		return fmt.Errorf("sqlitevec: sample insert: %w", err)
	}
	var got int64
	var distance float64
	err = tx.QueryRowContext(ctx, `
		SELECT vector_id, distance
		FROM vec_entities
		WHERE embedding MATCH ?
		  AND k = 1
	`, blob).Scan(&got, &distance)
	if err != nil {
		return fmt.Errorf("sqlitevec: knn query unavailable: %w", err)
	}
	// A stored twin of the sample may tie at distance 0, so only the distance is checked.
	if distance > 1e-3 {
		return fmt.Errorf("sqlitevec: knn query returned row %d at distance %g, want 0", got, distance)
	}
	return nil
}

// Upsert stores rec, replacing any previous vector for the same entity.
func (s *Store) Upsert(ctx context.Context, rec storage.VectorRecord) (err error) {
	defer guard("upsert", &err)

	if rec.EntityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if len(rec.Vector) != s.dim {
		return fmt.Errorf("%w: got %d, store holds %d", embedding.ErrDimensionMismatch, len(rec.Vector), s.dim)
	}

	vec := append([]float32(nil), rec.Vector...)
	if !embedding.Normalize(vec) {
		return fmt.Errorf("%w: zero vector for %s", storage.ErrInvalidInput, rec.EntityID)
	}
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("sqlitevec: serialise: %w", err)
	}
	var meta sql.NullString
	if len(rec.Metadata) > 0 {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("sqlitevec: marshal metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitevec: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var vectorID int64
	err = tx.QueryRowContext(ctx, `SELECT vector_id FROM entity_vectors WHERE entity_id = ?`, rec.EntityID).Scan(&vectorID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO entity_vectors (entity_id, body, metadata) VALUES (?, ?, ?)`,
			rec.EntityID, rec.Text, meta)
		if err != nil {
			return fmt.Errorf("sqlitevec: insert row: %w", err)
		}
		if vectorID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("sqlitevec: row id: %w", err)
		}
	case err != nil:
		return fmt.Errorf("sqlitevec: lookup: %w", err)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE entity_vectors SET body = ?, metadata = ?, updated_at = CURRENT_TIMESTAMP WHERE vector_id = ?`,
			rec.Text, meta, vectorID); err != nil {
			return fmt.Errorf("sqlitevec: update row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_entities WHERE vector_id = ?`, vectorID); err != nil {
			return fmt.Errorf("sqlitevec: delete old vector: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vec_entities (vector_id, embedding) VALUES (?, ?)`, vectorID, blob); err != nil {
		return fmt.Errorf("sqlitevec: insert vector: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, entityID string) (err error) {
	defer guard("delete", &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitevec: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var vectorID int64
	err = tx.QueryRowContext(ctx, `SELECT vector_id FROM entity_vectors WHERE entity_id = ?`, entityID).Scan(&vectorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sqlitevec: lookup: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_entities WHERE vector_id = ?`, vectorID); err != nil {
		return fmt.Errorf("sqlitevec: delete vector: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_vectors WHERE vector_id = ?`, vectorID); err != nil {
		return fmt.Errorf("sqlitevec: delete row: %w", err)
	}
	return tx.Commit()
}

func (s *Store) Clear(ctx context.Context) (err error) {
	defer guard("clear", &err)

	for _, stmt := range []string{`DELETE FROM vec_entities`, `DELETE FROM entity_vectors`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlitevec: clear: %w", err)
		}
	}
	return nil
}

// Nearest returns the k stored vectors closest to query.
func (s *Store) Nearest(ctx context.Context, query []float32, k int) (hits []storage.VectorHit, err error) {
	defer guard("knn query", &err)

	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: got %d, store holds %d", embedding.ErrDimensionMismatch, len(query), s.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	q := append([]float32(nil), query...)
	if !embedding.Normalize(q) {
		return nil, nil
	}
	blob, err := sqlite_vec.SerializeFloat32(q)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: serialise: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.entity_id, e.body, e.metadata, v.distance
		FROM vec_entities v
		JOIN entity_vectors e ON e.vector_id = v.vector_id
		WHERE v.embedding MATCH ?
		  AND k = ?
		ORDER BY v.distance
	`, blob, k)
	if err != nil {
		return nil, fmt.Errorf("sqlitevec: knn query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var h storage.VectorHit
		var meta sql.NullString
		var distance float64
		if err := rows.Scan(&h.EntityID, &h.Text, &meta, &distance); err != nil {
			return nil, fmt.Errorf("sqlitevec: scan: %w", err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &h.Metadata); err != nil {
				return nil, fmt.Errorf("sqlitevec: metadata: %w", err)
			}
		}
		h.Similarity = similarityFromL2(distance)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// guard converts a panic raised inside the wasm build of SQLite into an
// error, leaving the caller free to abandon the vector tier.
func guard(op string, err *error) {
	if r := recover(); r != nil {
		log.Printf("sqlitevec: %s panicked: %v", op, r)
		*err = fmt.Errorf("sqlitevec: %s: %v", op, r)
	}
}

// similarityFromL2 converts the euclidean distance between two unit vectors
// to their cosine similarity, clamped to [0,1].
func similarityFromL2(d float64) float64 {
	return embedding.Clamp01(1 - d*d/2)
}
