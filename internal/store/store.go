// Package store is the PostgreSQL persistence layer. Each aggregate gets its
// own repository; Store bundles them over one connection pool.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/ignite/event-stream-engine/internal/config"
)

// Sentinel errors shared by all repositories.
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a lost compare-and-swap or a uniqueness violation.
	ErrConflict = errors.New("conflict")
)

// Store bundles all repositories over a shared *sql.DB.
type Store struct {
	DB *sql.DB

	Recipients *RecipientRepo
	Templates  *TemplateRepo
	Segments   *SegmentRepo
	Campaigns  *CampaignRepo
	Messages   *MessageRepo
	Events     *EventRepo
	Audit      *AuditRepo
}

// Open connects to Postgres, verifies the connection, and wires repositories.
func Open(cfg config.StoreConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewStore(db), nil
}

// NewStore wires repositories over an existing connection. Used directly by
// tests that inject a mock DB.
func NewStore(db *sql.DB) *Store {
	return &Store{
		DB:         db,
		Recipients: NewRecipientRepo(db),
		Templates:  NewTemplateRepo(db),
		Segments:   NewSegmentRepo(db),
		Campaigns:  NewCampaignRepo(db),
		Messages:   NewMessageRepo(db),
		Events:     NewEventRepo(db),
		Audit:      NewAuditRepo(db),
	}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB.Close() }
