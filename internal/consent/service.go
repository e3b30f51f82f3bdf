// Package consent computes messaging eligibility and applies consent
// transitions triggered by inbound keywords.
package consent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/ignite/event-stream-engine/internal/domain"
	"github.com/ignite/event-stream-engine/internal/store"
)

// stopKeywords transition any recipient to STOP.
var stopKeywords = map[string]bool{
	"STOP": true, "QUIT": true, "CANCEL": true, "UNSUBSCRIBE": true, "END": true,
}

// startKeywords transition OPT_OUT back to OPT_IN. STOP is sticky against
// these; leaving STOP requires the admin ReOptIn path.
var startKeywords = map[string]bool{
	"START": true, "UNSTOP": true,
}

// Repository is the store capability the consent service needs.
type Repository interface {
	Get(ctx context.Context, phone string) (*domain.Recipient, error)
	UpdateConsent(ctx context.Context, phone string, to domain.ConsentState, allowStopExit bool) (domain.ConsentState, error)
}

// AuditSink appends to the compliance audit trail.
type AuditSink interface {
	Insert(ctx context.Context, e *domain.AuditEntry) (string, error)
}

// Service applies consent policy. It never reads or writes messages.
type Service struct {
	repo  Repository
	audit AuditSink
}

// NewService creates a consent service.
func NewService(repo Repository, audit AuditSink) *Service {
	return &Service{repo: repo, audit: audit}
}

// IsEligible reports whether a recipient may receive outbound messages.
// OPT_IN is eligible; any other state returns that state as the reason.
// An unknown recipient is not eligible.
func (s *Service) IsEligible(ctx context.Context, phone string) (bool, string, error) {
	rec, err := s.repo.Get(ctx, phone)
	if errors.Is(err, store.ErrNotFound) {
		return false, "unknown recipient", nil
	}
	if err != nil {
		return false, "", err
	}
	if rec.ConsentState == domain.ConsentOptIn {
		return true, "", nil
	}
	return false, string(rec.ConsentState), nil
}

// ApplyInboundKeyword inspects an inbound message body and applies the
// matching consent transition, if any. Non-keyword bodies are a no-op.
func (s *Service) ApplyInboundKeyword(ctx context.Context, phone, body string) error {
	keyword := strings.ToUpper(strings.TrimSpace(body))

	switch {
	case stopKeywords[keyword]:
		prev, err := s.repo.UpdateConsent(ctx, phone, domain.ConsentStop, false)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("apply stop keyword: %w", err)
		}
		if prev != domain.ConsentStop {
			s.auditChange(ctx, phone, prev, domain.ConsentStop, keyword)
		}
		return nil

	case startKeywords[keyword]:
		rec, err := s.repo.Get(ctx, phone)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("apply start keyword: %w", err)
		}
		// Only OPT_OUT recipients come back via keyword; STOP stays put.
		if rec.ConsentState != domain.ConsentOptOut {
			return nil
		}
		prev, err := s.repo.UpdateConsent(ctx, phone, domain.ConsentOptIn, false)
		if err != nil {
			return fmt.Errorf("apply start keyword: %w", err)
		}
		s.auditChange(ctx, phone, prev, domain.ConsentOptIn, keyword)
		return nil
	}
	return nil
}

// OptOut moves a recipient to OPT_OUT through the API surface. STOP absorbs
// the change.
func (s *Service) OptOut(ctx context.Context, phone string) error {
	prev, err := s.repo.UpdateConsent(ctx, phone, domain.ConsentOptOut, false)
	if err != nil {
		return err
	}
	if prev != domain.ConsentOptOut && prev != domain.ConsentStop {
		s.auditChange(ctx, phone, prev, domain.ConsentOptOut, "api")
	}
	return nil
}

// ReOptIn is the admin-level path out of STOP. It always emits a re_opt_in
// audit entry so the exit is traceable.
func (s *Service) ReOptIn(ctx context.Context, phone string) error {
	prev, err := s.repo.UpdateConsent(ctx, phone, domain.ConsentOptIn, true)
	if err != nil {
		return err
	}
	if prev == domain.ConsentOptIn {
		return nil
	}
	if _, err := s.audit.Insert(ctx, &domain.AuditEntry{
		Kind:      domain.AuditReOptIn,
		PhoneE164: phone,
		Detail:    map[string]any{"from": string(prev), "to": string(domain.ConsentOptIn)},
	}); err != nil {
		log.Printf("[consent.Service] audit re_opt_in failed for %s: %v", domain.MaskPhone(phone), err)
	}
	return nil
}

func (s *Service) auditChange(ctx context.Context, phone string, from, to domain.ConsentState, source string) {
	if _, err := s.audit.Insert(ctx, &domain.AuditEntry{
		Kind:      domain.AuditConsentChange,
		PhoneE164: phone,
		Detail:    map[string]any{"from": string(from), "to": string(to), "source": source},
	}); err != nil {
		log.Printf("[consent.Service] audit consent_change failed for %s: %v", domain.MaskPhone(phone), err)
	}
}
