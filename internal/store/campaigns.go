package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/event-stream-engine/internal/domain"
)

// CampaignRepo persists campaigns and their lifecycle state.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

const campaignCols = `id, topic, template_id, segment_id, schedule_time, status,
       rate_limit_per_second, quiet_hours_start, quiet_hours_end, timezone,
       materialize_cursor, created_at, updated_at`

func scanCampaign(row interface{ Scan(...interface{}) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.Topic, &c.TemplateID, &c.SegmentID, &c.ScheduleTime, &c.Status,
		&c.RateLimitPerSecond, &c.QuietHoursStart, &c.QuietHoursEnd, &c.Timezone,
		&c.MaterializeCursor, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// Create inserts a campaign in DRAFT and returns its ID.
func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO campaigns
			(topic, template_id, segment_id, schedule_time, status,
			 rate_limit_per_second, quiet_hours_start, quiet_hours_end, timezone,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id
	`, c.Topic, c.TemplateID, c.SegmentID, c.ScheduleTime, domain.CampaignDraft,
		c.RateLimitPerSecond, c.QuietHoursStart, c.QuietHoursEnd, c.Timezone,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create campaign: %w", err)
	}
	return id, nil
}

// Get returns one campaign. Returns ErrNotFound if absent.
func (r *CampaignRepo) Get(ctx context.Context, id int64) (*domain.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

// List returns campaigns, optionally filtered by status, newest first.
func (r *CampaignRepo) List(ctx context.Context, status domain.CampaignStatus, limit, offset int) ([]domain.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + campaignCols + ` FROM campaigns`
	args := []interface{}{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Update modifies mutable fields of a DRAFT campaign.
func (r *CampaignRepo) Update(ctx context.Context, c *domain.Campaign) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET topic = $1, template_id = $2, segment_id = $3, schedule_time = $4,
		    rate_limit_per_second = $5, quiet_hours_start = $6, quiet_hours_end = $7,
		    timezone = $8, updated_at = NOW()
		WHERE id = $9 AND status = 'DRAFT'
	`, c.Topic, c.TemplateID, c.SegmentID, c.ScheduleTime,
		c.RateLimitPerSecond, c.QuietHoursStart, c.QuietHoursEnd, c.Timezone, c.ID)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionStatus moves a campaign from one status to another with a CAS
// guard on the current status. Returns ErrConflict if the row moved away.
func (r *CampaignRepo) TransitionStatus(ctx context.Context, id int64, from, to domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, to, id, from)
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// SetCursor persists the materialization cursor so a resumed trigger
// continues from the last committed batch.
func (r *CampaignRepo) SetCursor(ctx context.Context, id int64, cursor string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE campaigns SET materialize_cursor = $1, updated_at = NOW() WHERE id = $2`,
		cursor, id,
	)
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DueScheduled returns READY campaigns whose schedule_time has passed.
func (r *CampaignRepo) DueScheduled(ctx context.Context) ([]domain.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignCols+` FROM campaigns
		WHERE status = 'READY' AND schedule_time IS NOT NULL AND schedule_time <= NOW()
		ORDER BY schedule_time
	`)
	if err != nil {
		return nil, fmt.Errorf("due campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Summary aggregates message counts per status for one campaign.
func (r *CampaignRepo) Summary(ctx context.Context, id int64) (map[domain.MessageStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM messages WHERE campaign_id = $1 GROUP BY status
	`, id)
	if err != nil {
		return nil, fmt.Errorf("campaign summary: %w", err)
	}
	defer rows.Close()

	out := map[domain.MessageStatus]int{}
	for rows.Next() {
		var status domain.MessageStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
