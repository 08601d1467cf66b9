package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/tessera/internal/storage"
	"github.com/scrypster/tessera/pkg/types"
)

const candidateColumns = `id, entity_a_id, entity_a_name, entity_b_id, entity_b_name, similarity, status, analysis, reason, created_at`

func (s *Store) PutCandidate(ctx context.Context, c *types.MergeCandidate) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: candidate ID is required", storage.ErrInvalidInput)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	var analysis sql.NullString
	if c.Analysis != nil {
		var err error
		if analysis, err = marshalJSON(c.Analysis); err != nil {
			return fmt.Errorf("failed to marshal analysis: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merge_candidates (`+candidateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			similarity = excluded.similarity,
			status = excluded.status,
			analysis = excluded.analysis,
			reason = excluded.reason
	`,
		c.ID, c.EntityAID, c.EntityAName, c.EntityBID, c.EntityBName,
		c.Similarity, string(c.Status), analysis, c.Reason, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save candidate: %w", err)
	}
	return nil
}

func (s *Store) GetCandidate(ctx context.Context, id string) (*types.MergeCandidate, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM merge_candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}
	return c, nil
}

func (s *Store) ListCandidates(ctx context.Context, status types.CandidateStatus) ([]*types.MergeCandidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM merge_candidates`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	var out []*types.MergeCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteCandidate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM merge_candidates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete candidate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanCandidate(r rowScanner) (*types.MergeCandidate, error) {
	var c types.MergeCandidate
	var status string
	var analysis sql.NullString
	if err := r.Scan(
		&c.ID, &c.EntityAID, &c.EntityAName, &c.EntityBID, &c.EntityBName,
		&c.Similarity, &status, &analysis, &c.Reason, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	c.Status = types.CandidateStatus(status)
	if analysis.Valid && analysis.String != "" && analysis.String != "null" {
		c.Analysis = &types.ConflictAnalysis{}
		if err := unmarshalJSON(analysis, c.Analysis); err != nil {
			return nil, fmt.Errorf("analysis: %w", err)
		}
	}
	return &c, nil
}
