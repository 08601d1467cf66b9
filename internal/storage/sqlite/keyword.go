package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/scrypster/tessera/internal/storage"
)

// IndexText replaces the full-text row for entityID.
func (s *Store) IndexText(ctx context.Context, entityID, text string, metadata map[string]string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	meta, err := marshalJSON(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// FTS5 tables have no unique constraint, so upsert is delete + insert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM entity_text_fts WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("failed to clear fts row: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entity_text_fts (entity_id, body, metadata) VALUES (?, ?, ?)`,
		entityID, text, meta,
	); err != nil {
		return fmt.Errorf("failed to insert fts row: %w", err)
	}
	return tx.Commit()
}

func (s *Store) RemoveText(ctx context.Context, entityID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entity_text_fts WHERE entity_id = ?`, entityID); err != nil {
		return fmt.Errorf("failed to remove fts row: %w", err)
	}
	return nil
}

func (s *Store) ClearText(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entity_text_fts`); err != nil {
		return fmt.Errorf("failed to clear fts table: %w", err)
	}
	return nil
}

// KeywordSearch returns up to limit rows matching any term of query,
// best BM25 rank first.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int) ([]storage.KeywordHit, error) {
	if limit <= 0 {
		limit = 10
	}
	ftsQuery := sanitiseFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, body, metadata
		FROM entity_text_fts
		WHERE entity_text_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, ftsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search failed: %w", err)
	}
	defer rows.Close()

	var hits []storage.KeywordHit
	for rows.Next() {
		var h storage.KeywordHit
		var meta sql.NullString
		if err := rows.Scan(&h.EntityID, &h.Text, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan fts row: %w", err)
		}
		if err := unmarshalJSON(meta, &h.Metadata); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

var ftsReplacer = strings.NewReplacer(
	`"`, ` `,
	`'`, ` `,
	`(`, ` `,
	`)`, ` `,
	`*`, ` `,
	`-`, ` `,
	`^`, ` `,
	`?`, ` `,
	`:`, ` `,
	`.`, ` `,
	`,`, ` `,
	`+`, ` `,
	`{`, ` `,
	`}`, ` `,
)

var ftsStopWords = map[string]bool{
	"a": true, "an": true, "the": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"has": true, "have": true, "had": true,
	"to": true, "of": true, "in": true, "on": true, "at": true,
	"by": true, "for": true, "with": true, "from": true, "as": true,
	"and": true, "or": true, "but": true, "not": true, "near": true,
	"this": true, "that": true, "it": true,
}

// sanitiseFTSQuery turns free text into an FTS5 query: special characters
// are stripped, stop words and FTS operators dropped, and the remaining
// terms are quoted and OR-ed together as prefix matches.
func sanitiseFTSQuery(query string) string {
	words := strings.Fields(strings.ToLower(ftsReplacer.Replace(query)))

	var terms []string
	for _, w := range words {
		if ftsStopWords[w] || len(w) < 2 {
			continue
		}
		terms = append(terms, `"`+w+`"*`)
	}
	return strings.Join(terms, " OR ")
}
