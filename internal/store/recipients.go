package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/event-stream-engine/internal/domain"
)

// RecipientRepo persists recipients, consent state, and topic subscriptions.
type RecipientRepo struct{ db *sql.DB }

// NewRecipientRepo creates a Postgres-backed recipient repository.
func NewRecipientRepo(db *sql.DB) *RecipientRepo { return &RecipientRepo{db: db} }

// Get returns one recipient by phone. Returns ErrNotFound if absent.
func (r *RecipientRepo) Get(ctx context.Context, phone string) (*domain.Recipient, error) {
	rec := &domain.Recipient{}
	var attrs []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT phone_e164, attributes, consent_state, created_at, updated_at
		FROM recipients WHERE phone_e164 = $1
	`, phone).Scan(&rec.PhoneE164, &attrs, &rec.ConsentState, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	return rec, nil
}

// Upsert creates the recipient or merges attributes into an existing row.
// Consent state is only set on insert; an existing row keeps its consent.
func (r *RecipientRepo) Upsert(ctx context.Context, phone string, attrs map[string]any, consent domain.ConsentState) error {
	if attrs == nil {
		attrs = map[string]any{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO recipients (phone_e164, attributes, consent_state, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (phone_e164) DO UPDATE
		SET attributes = recipients.attributes || EXCLUDED.attributes,
		    updated_at = NOW()
	`, phone, data, consent)
	if err != nil {
		return fmt.Errorf("upsert recipient: %w", err)
	}
	return nil
}

// UpdateConsent moves a recipient's consent state. STOP is sticky: once a
// recipient is in STOP, only an explicit allowStopExit call (the admin
// re-opt-in path) can leave it. Returns the previous state.
func (r *RecipientRepo) UpdateConsent(ctx context.Context, phone string, to domain.ConsentState, allowStopExit bool) (domain.ConsentState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var current domain.ConsentState
	err = tx.QueryRowContext(ctx,
		`SELECT consent_state FROM recipients WHERE phone_e164 = $1 FOR UPDATE`,
		phone,
	).Scan(&current)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lock recipient: %w", err)
	}

	if current == domain.ConsentStop && !allowStopExit {
		// Sticky STOP absorbs the change; commit nothing.
		return current, nil
	}
	if current == to {
		return current, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE recipients SET consent_state = $1, updated_at = NOW() WHERE phone_e164 = $2`,
		to, phone,
	); err != nil {
		return "", fmt.Errorf("update consent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return current, nil
}

// List returns recipients ordered by phone with limit/offset pagination.
func (r *RecipientRepo) List(ctx context.Context, limit, offset int) ([]domain.Recipient, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count recipients: %w", err)
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT phone_e164, attributes, consent_state, created_at, updated_at
		FROM recipients ORDER BY phone_e164 LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		var attrs []byte
		if err := rows.Scan(&rec.PhoneE164, &attrs, &rec.ConsentState, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan recipient: %w", err)
		}
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return nil, 0, fmt.Errorf("decode attributes: %w", err)
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// ListMatching streams recipients satisfying a segment WHERE clause, keyset
// paginated on phone_e164. whereSQL references columns of the recipients
// table and placeholders continue from the supplied args. An empty cursor
// starts from the beginning.
func (r *RecipientRepo) ListMatching(ctx context.Context, whereSQL string, args []interface{}, cursor string, limit int) ([]domain.Recipient, error) {
	if limit <= 0 {
		limit = 500
	}
	idx := len(args) + 1
	q := fmt.Sprintf(`
		SELECT phone_e164, attributes, consent_state, created_at, updated_at
		FROM recipients
		WHERE (%s) AND phone_e164 > $%d
		ORDER BY phone_e164
		LIMIT $%d
	`, whereSQL, idx, idx+1)
	args = append(args, cursor, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list matching recipients: %w", err)
	}
	defer rows.Close()

	var out []domain.Recipient
	for rows.Next() {
		var rec domain.Recipient
		var attrs []byte
		if err := rows.Scan(&rec.PhoneE164, &attrs, &rec.ConsentState, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Subscribe adds a (phone, topic) edge. Idempotent.
func (r *RecipientRepo) Subscribe(ctx context.Context, phone, topic string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (phone_e164, topic, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT DO NOTHING
	`, phone, topic)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

// Unsubscribe removes a (phone, topic) edge. Returns ErrNotFound when absent.
func (r *RecipientRepo) Unsubscribe(ctx context.Context, phone, topic string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE phone_e164 = $1 AND topic = $2`,
		phone, topic,
	)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Subscriptions lists a recipient's topics.
func (r *RecipientRepo) Subscriptions(ctx context.Context, phone string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT topic FROM subscriptions WHERE phone_e164 = $1 ORDER BY topic`,
		phone,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var topic string
		if err := rows.Scan(&topic); err != nil {
			return nil, err
		}
		out = append(out, topic)
	}
	return out, rows.Err()
}

// IsSubscribed reports whether the recipient holds the topic subscription.
func (r *RecipientRepo) IsSubscribed(ctx context.Context, phone, topic string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM subscriptions WHERE phone_e164 = $1 AND topic = $2)`,
		phone, topic,
	).Scan(&exists)
	return exists, err
}
