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

const entityColumns = `id, name, type, description, aliases, tags, attributes, sources, created_at, updated_at`

// SaveEntity creates or replaces an entity. The original rowid is kept on
// update so ListEntities preserves insertion order.
func (s *Store) SaveEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return storage.ErrInvalidInput
	}
	if entity.ID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if entity.Name == "" {
		return fmt.Errorf("%w: entity name is required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	if entity.UpdatedAt.IsZero() {
		entity.UpdatedAt = now
	}

	aliases, err := marshalJSON(entity.Aliases)
	if err != nil {
		return fmt.Errorf("failed to marshal aliases: %w", err)
	}
	tags, err := marshalJSON(entity.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	attrs, err := marshalJSON(entity.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal attributes: %w", err)
	}
	sources, err := marshalJSON(entity.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	query := `
		INSERT INTO entities (` + entityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			description = excluded.description,
			aliases = excluded.aliases,
			tags = excluded.tags,
			attributes = excluded.attributes,
			sources = excluded.sources,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		entity.ID, entity.Name, entity.Type, entity.Description,
		aliases, tags, attrs, sources,
		entity.CreatedAt, entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}
	return nil
}

func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListEntities(ctx context.Context) ([]*types.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var out []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(r rowScanner) (*types.Entity, error) {
	var e types.Entity
	var aliases, tags, attrs, sources sql.NullString
	err := r.Scan(
		&e.ID, &e.Name, &e.Type, &e.Description,
		&aliases, &tags, &attrs, &sources,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(aliases, &e.Aliases); err != nil {
		return nil, fmt.Errorf("aliases: %w", err)
	}
	if err := unmarshalJSON(tags, &e.Tags); err != nil {
		return nil, fmt.Errorf("tags: %w", err)
	}
	if err := unmarshalJSON(attrs, &e.Attributes); err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}
	if err := unmarshalJSON(sources, &e.Sources); err != nil {
		return nil, fmt.Errorf("sources: %w", err)
	}
	return &e, nil
}

const relationshipColumns = `id, source_id, target_id, type, strength, description, sources, created_at, updated_at`

func (s *Store) SaveRelationship(ctx context.Context, rel *types.Relationship) error {
	if rel == nil {
		return storage.ErrInvalidInput
	}
	if rel.ID == "" {
		return fmt.Errorf("%w: relationship ID is required", storage.ErrInvalidInput)
	}
	if rel.SourceID == "" || rel.TargetID == "" {
		return fmt.Errorf("%w: relationship endpoints are required", storage.ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = now
	}
	if rel.UpdatedAt.IsZero() {
		rel.UpdatedAt = now
	}

	sources, err := marshalJSON(rel.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}

	query := `
		INSERT INTO relationships (` + relationshipColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_id = excluded.source_id,
			target_id = excluded.target_id,
			type = excluded.type,
			strength = excluded.strength,
			description = excluded.description,
			sources = excluded.sources,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		rel.ID, rel.SourceID, rel.TargetID, rel.Type, rel.Strength, rel.Description,
		sources, rel.CreatedAt, rel.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save relationship: %w", err)
	}
	return nil
}

func (s *Store) RelationshipsForEntity(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationshipColumns+`
		FROM relationships
		WHERE source_id = ? OR target_id = ?
		ORDER BY created_at, id
	`, entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var out []*types.Relationship
	for rows.Next() {
		var r types.Relationship
		var sources sql.NullString
		if err := rows.Scan(
			&r.ID, &r.SourceID, &r.TargetID, &r.Type, &r.Strength, &r.Description,
			&sources, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		if err := unmarshalJSON(sources, &r.Sources); err != nil {
			return nil, fmt.Errorf("sources: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
