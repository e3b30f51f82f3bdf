package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/event-stream-engine/internal/domain"
)

// SegmentRepo persists stored segment definitions. Definitions are opaque
// JSON here; the segment package validates them before they reach the store.
type SegmentRepo struct{ db *sql.DB }

// NewSegmentRepo creates a Postgres-backed segment repository.
func NewSegmentRepo(db *sql.DB) *SegmentRepo { return &SegmentRepo{db: db} }

// Create inserts a segment and returns its ID.
func (r *SegmentRepo) Create(ctx context.Context, s *domain.Segment) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO segments (name, definition, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id
	`, s.Name, s.Definition).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create segment: %w", err)
	}
	return id, nil
}

// Get returns one segment. Returns ErrNotFound if absent.
func (r *SegmentRepo) Get(ctx context.Context, id int64) (*domain.Segment, error) {
	s := &domain.Segment{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, definition, created_at FROM segments WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.Definition, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return s, nil
}

// List returns all segments ordered by name.
func (r *SegmentRepo) List(ctx context.Context) ([]domain.Segment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, definition, created_at FROM segments ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var out []domain.Segment
	for rows.Next() {
		var s domain.Segment
		if err := rows.Scan(&s.ID, &s.Name, &s.Definition, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update replaces a segment definition. Returns ErrNotFound if absent.
func (r *SegmentRepo) Update(ctx context.Context, s *domain.Segment) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE segments SET definition = $1 WHERE id = $2`,
		s.Definition, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update segment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a segment not referenced by any campaign.
func (r *SegmentRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM segments
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM campaigns WHERE segment_id = $1)
	`, id)
	if err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
