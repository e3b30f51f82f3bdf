package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/event-stream-engine/internal/domain"
)

// TemplateRepo persists message templates.
type TemplateRepo struct{ db *sql.DB }

// NewTemplateRepo creates a Postgres-backed template repository.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

// Create inserts a template and returns its ID.
func (r *TemplateRepo) Create(ctx context.Context, t *domain.Template) (int64, error) {
	vars, err := json.Marshal(t.Variables)
	if err != nil {
		return 0, fmt.Errorf("encode variables: %w", err)
	}
	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO templates (name, channel, locale, content, variables, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id
	`, t.Name, t.Channel, t.Locale, t.Content, vars).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create template: %w", err)
	}
	return id, nil
}

// Get returns one template. Returns ErrNotFound if absent.
func (r *TemplateRepo) Get(ctx context.Context, id int64) (*domain.Template, error) {
	t := &domain.Template{}
	var vars []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, channel, locale, content, variables, created_at
		FROM templates WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Channel, &t.Locale, &t.Content, &vars, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if err := json.Unmarshal(vars, &t.Variables); err != nil {
		return nil, fmt.Errorf("decode variables: %w", err)
	}
	return t, nil
}

// List returns all templates ordered by name.
func (r *TemplateRepo) List(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, channel, locale, content, variables, created_at
		FROM templates ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.Template
	for rows.Next() {
		var t domain.Template
		var vars []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.Channel, &t.Locale, &t.Content, &vars, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if err := json.Unmarshal(vars, &t.Variables); err != nil {
			return nil, fmt.Errorf("decode variables: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Update replaces content, locale, and variables. Returns ErrNotFound if absent.
func (r *TemplateRepo) Update(ctx context.Context, t *domain.Template) error {
	vars, err := json.Marshal(t.Variables)
	if err != nil {
		return fmt.Errorf("encode variables: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE templates SET channel = $1, locale = $2, content = $3, variables = $4
		WHERE id = $5
	`, t.Channel, t.Locale, t.Content, vars, t.ID)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a template not referenced by any campaign.
func (r *TemplateRepo) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM templates
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM campaigns WHERE template_id = $1)
	`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
