package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/event-stream-engine/internal/domain"
)

// AuditRepo appends to the compliance audit trail. Entries are never updated
// or deleted.
type AuditRepo struct{ db *sql.DB }

// NewAuditRepo creates a Postgres-backed audit repository.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

// Insert appends one audit entry and returns its ID.
func (r *AuditRepo) Insert(ctx context.Context, e *domain.AuditEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	detail := e.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return "", fmt.Errorf("encode audit detail: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO audit_log
			(id, kind, campaign_id, message_id, phone_e164, reason, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, e.ID, e.Kind, e.CampaignID, e.MessageID, e.PhoneE164, e.Reason, data)
	if err != nil {
		return "", fmt.Errorf("insert audit entry: %w", err)
	}
	return e.ID, nil
}

// ListByCampaign returns a campaign's audit trail, newest first.
func (r *AuditRepo) ListByCampaign(ctx context.Context, campaignID int64, limit int) ([]domain.AuditEntry, error) {
	return r.list(ctx, `WHERE campaign_id = $1`, campaignID, limit)
}

// ListByPhone returns a recipient's audit trail, newest first.
func (r *AuditRepo) ListByPhone(ctx context.Context, phone string, limit int) ([]domain.AuditEntry, error) {
	return r.list(ctx, `WHERE phone_e164 = $1`, phone, limit)
}

func (r *AuditRepo) list(ctx context.Context, where string, arg interface{}, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, campaign_id, message_id, phone_e164, reason, detail, created_at
		FROM audit_log `+where+`
		ORDER BY created_at DESC
		LIMIT $2
	`, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.CampaignID, &e.MessageID,
			&e.PhoneE164, &e.Reason, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return nil, fmt.Errorf("decode audit detail: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
