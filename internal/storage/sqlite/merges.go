package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/scrypster/tessera/internal/storage"
	"github.com/scrypster/tessera/pkg/types"
)

// RecordMerge appends a merge event to the audit table.
func (s *Store) RecordMerge(ctx context.Context, event *types.MergeEvent) error {
	if event == nil || event.ID == "" {
		return fmt.Errorf("%w: merge event ID is required", storage.ErrInvalidInput)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	conflicts, err := marshalJSON(event.Conflicts)
	if err != nil {
		return fmt.Errorf("failed to marshal conflicts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO merge_events (
			id, primary_id, absorbed_id, absorbed_name, similarity, auto, reason, conflicts,
			transferred_relations, dropped_duplicates, dropped_self_loops, candidate_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.PrimaryID, event.AbsorbedID, event.AbsorbedName, event.Similarity,
		event.Auto, event.Reason, conflicts,
		event.TransferredRelations, event.DroppedDuplicates, event.DroppedSelfLoops,
		event.CandidateID, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record merge: %w", err)
	}
	return nil
}

// ListMerges returns up to limit events, newest first. limit <= 0 returns all.
func (s *Store) ListMerges(ctx context.Context, limit int) ([]*types.MergeEvent, error) {
	query := `
		SELECT id, primary_id, absorbed_id, absorbed_name, similarity, auto, reason, conflicts,
		       transferred_relations, dropped_duplicates, dropped_self_loops, candidate_id, created_at
		FROM merge_events
		ORDER BY created_at DESC, rowid DESC
	`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list merges: %w", err)
	}
	defer rows.Close()

	var out []*types.MergeEvent
	for rows.Next() {
		var e types.MergeEvent
		var conflicts sql.NullString
		if err := rows.Scan(
			&e.ID, &e.PrimaryID, &e.AbsorbedID, &e.AbsorbedName, &e.Similarity, &e.Auto, &e.Reason, &conflicts,
			&e.TransferredRelations, &e.DroppedDuplicates, &e.DroppedSelfLoops, &e.CandidateID, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan merge event: %w", err)
		}
		if err := unmarshalJSON(conflicts, &e.Conflicts); err != nil {
			return nil, fmt.Errorf("conflicts: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
