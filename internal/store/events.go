package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/event-stream-engine/internal/domain"
)

// EventRepo persists the append-only raw capture rows for inbound messages
// and delivery receipts. Rows are inserted before any normalization so the
// raw payload survives downstream failures.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// InsertInbound appends a raw inbound event and returns its ID.
func (r *EventRepo) InsertInbound(ctx context.Context, e *domain.InboundEvent) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events_inbound
			(id, raw_payload, from_phone, channel_type, normalized_body,
			 provider_message_id, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, e.ID, e.RawPayload, e.FromPhone, e.ChannelType, e.NormalizedBody, e.ProviderMessageID)
	if err != nil {
		return "", fmt.Errorf("insert inbound event: %w", err)
	}
	return e.ID, nil
}

// MarkInboundProcessed stamps processed_at once normalization succeeded.
func (r *EventRepo) MarkInboundProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE events_inbound SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark inbound processed: %w", err)
	}
	return nil
}

// InsertReceipt appends a raw delivery receipt and returns its ID.
func (r *EventRepo) InsertReceipt(ctx context.Context, d *domain.DeliveryReceipt) (string, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_receipts
			(id, raw_payload, provider_sid, message_status, error_code, received_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, d.ID, d.RawPayload, d.ProviderSid, d.MessageStatus, d.ErrorCode)
	if err != nil {
		return "", fmt.Errorf("insert delivery receipt: %w", err)
	}
	return d.ID, nil
}

// RecentInbound returns the newest inbound events for the operator view.
func (r *EventRepo) RecentInbound(ctx context.Context, limit int) ([]domain.InboundEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, raw_payload, from_phone, channel_type, normalized_body,
		       provider_message_id, received_at, processed_at
		FROM events_inbound
		ORDER BY received_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent inbound: %w", err)
	}
	defer rows.Close()

	var out []domain.InboundEvent
	for rows.Next() {
		var e domain.InboundEvent
		if err := rows.Scan(&e.ID, &e.RawPayload, &e.FromPhone, &e.ChannelType,
			&e.NormalizedBody, &e.ProviderMessageID, &e.ReceivedAt, &e.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan inbound event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
