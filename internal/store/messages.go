package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/event-stream-engine/internal/domain"
)

// MessageRepo persists materialized messages and drives their state machine.
type MessageRepo struct{ db *sql.DB }

// NewMessageRepo creates a Postgres-backed message repository.
func NewMessageRepo(db *sql.DB) *MessageRepo { return &MessageRepo{db: db} }

const messageCols = `id, campaign_id, recipient_phone, rendered_content, channel, status,
       provider_sid, error_code, retry_count, scheduled_at, created_at, sent_at, delivered_at`

func scanMessage(row interface{ Scan(...interface{}) error }) (*domain.Message, error) {
	m := &domain.Message{}
	err := row.Scan(
		&m.ID, &m.CampaignID, &m.RecipientPhone, &m.RenderedContent, &m.Channel, &m.Status,
		&m.ProviderSid, &m.ErrorCode, &m.RetryCount, &m.ScheduledAt, &m.CreatedAt,
		&m.SentAt, &m.DeliveredAt,
	)
	return m, err
}

// Create inserts a QUEUED message. The (campaign_id, recipient_phone) unique
// constraint makes materialization idempotent: a duplicate insert is absorbed
// and reported via the returned bool.
func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages
			(id, campaign_id, recipient_phone, rendered_content, channel, status,
			 retry_count, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW())
		ON CONFLICT (campaign_id, recipient_phone) DO NOTHING
	`, m.ID, m.CampaignID, m.RecipientPhone, m.RenderedContent, m.Channel, domain.MessageQueued)
	if err != nil {
		return false, fmt.Errorf("create message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Get returns one message by ID. Returns ErrNotFound if absent.
func (r *MessageRepo) Get(ctx context.Context, id string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// FindByProviderSid resolves a provider callback to its message row.
func (r *MessageRepo) FindByProviderSid(ctx context.Context, sid string) (*domain.Message, error) {
	m, err := scanMessage(r.db.QueryRowContext(ctx,
		`SELECT `+messageCols+` FROM messages WHERE provider_sid = $1`, sid))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find message by sid: %w", err)
	}
	return m, nil
}

// TransitionUpdate carries the optional side fields written together with a
// status transition. Nil fields leave the column untouched.
type TransitionUpdate struct {
	ProviderSid *string
	ErrorCode   *int
	SentAt      *time.Time
	DeliveredAt *time.Time
}

// Transition moves a message from one status to another with a CAS guard on
// the current status. Returns ErrConflict when a concurrent writer already
// moved the row, which makes duplicate claims and racing callbacks safe.
func (r *MessageRepo) Transition(ctx context.Context, id string, from, to domain.MessageStatus, u TransitionUpdate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $1,
		    provider_sid = COALESCE($2, provider_sid),
		    error_code = COALESCE($3, error_code),
		    sent_at = COALESCE($4, sent_at),
		    delivered_at = COALESCE($5, delivered_at)
		WHERE id = $6 AND status = $7
	`, to, u.ProviderSid, u.ErrorCode, u.SentAt, u.DeliveredAt, id, from)
	if err != nil {
		return fmt.Errorf("transition message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// Requeue moves a message back to QUEUED for a transient retry, bumping
// retry_count and pushing scheduled_at to the backoff instant. CAS-guarded
// on SENDING.
func (r *MessageRepo) Requeue(ctx context.Context, id string, notBefore time.Time, errorCode *int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $1, retry_count = retry_count + 1,
		    scheduled_at = $2, error_code = COALESCE($3, error_code)
		WHERE id = $4 AND status = $5
	`, domain.MessageQueued, notBefore, errorCode, id, domain.MessageSending)
	if err != nil {
		return fmt.Errorf("requeue message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// Delay pushes a QUEUED message's scheduled_at forward without touching the
// retry budget. Used for quiet-hours and rate-limit deferrals.
func (r *MessageRepo) Delay(ctx context.Context, id string, notBefore time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET scheduled_at = $1
		WHERE id = $2 AND status = $3
	`, notBefore, id, domain.MessageQueued)
	if err != nil {
		return fmt.Errorf("delay message: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ClaimBatch leases up to limit due QUEUED messages belonging to RUNNING
// campaigns by pushing scheduled_at past the lease window. The status stays
// QUEUED: the pipeline's dispatch stage owns the QUEUED->SENDING move. FOR
// UPDATE SKIP LOCKED keeps concurrent workers off the same rows; a crashed
// worker's lease simply expires and the batch is re-claimed.
func (r *MessageRepo) ClaimBatch(ctx context.Context, limit int, lease time.Duration) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE messages SET scheduled_at = NOW() + $1 * INTERVAL '1 second'
		WHERE id IN (
			SELECT m.id FROM messages m
			JOIN campaigns c ON c.id = m.campaign_id
			WHERE m.status = $2 AND m.scheduled_at <= NOW() AND c.status = $3
			ORDER BY m.scheduled_at
			LIMIT $4
			FOR UPDATE OF m SKIP LOCKED
		)
		RETURNING `+messageCols,
		int(lease.Seconds()), domain.MessageQueued, domain.CampaignRunning, limit)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ReapStuck returns lease-expired SENDING messages to QUEUED. A worker that
// dies between the SENDING move and the provider verdict leaves the row
// stuck; once scheduled_at (pushed to the lease horizon at claim time)
// passes, the row is reclaimable. The status guard keeps the sweep off rows
// a live worker just resolved, and scheduled_at stays in the past so the
// next claim picks the message up immediately. The retry budget is not
// consumed: a crash is not a provider verdict.
func (r *MessageRepo) ReapStuck(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET status = $1
		WHERE status = $2 AND scheduled_at <= NOW()
	`, domain.MessageQueued, domain.MessageSending)
	if err != nil {
		return 0, fmt.Errorf("reap stuck messages: %w", err)
	}
	return res.RowsAffected()
}

// CountPending returns how many of a campaign's messages have not reached a
// terminal status. Zero means the campaign drained.
func (r *MessageRepo) CountPending(ctx context.Context, campaignID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE campaign_id = $1 AND status IN ($2, $3)
	`, campaignID, domain.MessageQueued, domain.MessageSending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// ListByCampaign returns a campaign's messages, optionally filtered by status.
func (r *MessageRepo) ListByCampaign(ctx context.Context, campaignID int64, status domain.MessageStatus, limit, offset int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + messageCols + ` FROM messages WHERE campaign_id = $1`
	args := []interface{}{campaignID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, status)
	}
	q += fmt.Sprintf(` ORDER BY created_at LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
