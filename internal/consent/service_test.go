package consent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/event-stream-engine/internal/domain"
	"github.com/ignite/event-stream-engine/internal/store"
)

// memRepo is an in-memory Repository double mirroring the store's
// STOP-stickiness behavior.
type memRepo struct {
	recipients map[string]domain.ConsentState
}

func newMemRepo() *memRepo {
	return &memRepo{recipients: map[string]domain.ConsentState{}}
}

func (m *memRepo) Get(_ context.Context, phone string) (*domain.Recipient, error) {
	state, ok := m.recipients[phone]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &domain.Recipient{PhoneE164: phone, ConsentState: state}, nil
}

func (m *memRepo) UpdateConsent(_ context.Context, phone string, to domain.ConsentState, allowStopExit bool) (domain.ConsentState, error) {
	current, ok := m.recipients[phone]
	if !ok {
		return "", store.ErrNotFound
	}
	if current == domain.ConsentStop && !allowStopExit {
		return current, nil
	}
	m.recipients[phone] = to
	return current, nil
}

type memAudit struct {
	entries []domain.AuditEntry
}

func (m *memAudit) Insert(_ context.Context, e *domain.AuditEntry) (string, error) {
	m.entries = append(m.entries, *e)
	return "audit-1", nil
}

const phone = "+14155550001"

func TestIsEligible(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, &memAudit{})
	ctx := context.Background()

	repo.recipients[phone] = domain.ConsentOptIn
	ok, reason, err := svc.IsEligible(ctx, phone)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, reason)

	repo.recipients[phone] = domain.ConsentStop
	ok, reason, err = svc.IsEligible(ctx, phone)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "STOP", reason)

	ok, reason, err = svc.IsEligible(ctx, "+19995550000")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "unknown recipient", reason)
}

func TestStopKeywords(t *testing.T) {
	for _, kw := range []string{"STOP", "quit", " Cancel ", "UNSUBSCRIBE", "end"} {
		repo := newMemRepo()
		audit := &memAudit{}
		svc := NewService(repo, audit)
		repo.recipients[phone] = domain.ConsentOptIn

		require.NoError(t, svc.ApplyInboundKeyword(context.Background(), phone, kw))
		assert.Equal(t, domain.ConsentStop, repo.recipients[phone], kw)
		require.Len(t, audit.entries, 1, kw)
		assert.Equal(t, domain.AuditConsentChange, audit.entries[0].Kind)
	}
}

func TestStartRestoresOnlyOptOut(t *testing.T) {
	repo := newMemRepo()
	audit := &memAudit{}
	svc := NewService(repo, audit)
	ctx := context.Background()

	repo.recipients[phone] = domain.ConsentOptOut
	require.NoError(t, svc.ApplyInboundKeyword(ctx, phone, "START"))
	assert.Equal(t, domain.ConsentOptIn, repo.recipients[phone])
	assert.Len(t, audit.entries, 1)
}

func TestStopIsStickyAgainstStart(t *testing.T) {
	repo := newMemRepo()
	audit := &memAudit{}
	svc := NewService(repo, audit)
	ctx := context.Background()

	repo.recipients[phone] = domain.ConsentStop
	require.NoError(t, svc.ApplyInboundKeyword(ctx, phone, "START"))
	assert.Equal(t, domain.ConsentStop, repo.recipients[phone])
	assert.Empty(t, audit.entries)
}

func TestStopReplayEmitsOneAudit(t *testing.T) {
	repo := newMemRepo()
	audit := &memAudit{}
	svc := NewService(repo, audit)
	ctx := context.Background()

	repo.recipients[phone] = domain.ConsentOptIn
	require.NoError(t, svc.ApplyInboundKeyword(ctx, phone, "STOP"))
	require.NoError(t, svc.ApplyInboundKeyword(ctx, phone, "STOP"))
	require.NoError(t, svc.ApplyInboundKeyword(ctx, phone, "STOP"))

	assert.Equal(t, domain.ConsentStop, repo.recipients[phone])
	assert.Len(t, audit.entries, 1)
}

func TestNonKeywordIsNoOp(t *testing.T) {
	repo := newMemRepo()
	audit := &memAudit{}
	svc := NewService(repo, audit)

	repo.recipients[phone] = domain.ConsentOptIn
	require.NoError(t, svc.ApplyInboundKeyword(context.Background(), phone, "hello there"))
	assert.Equal(t, domain.ConsentOptIn, repo.recipients[phone])
	assert.Empty(t, audit.entries)
}

func TestUnknownRecipientKeywordIsNoOp(t *testing.T) {
	svc := NewService(newMemRepo(), &memAudit{})
	assert.NoError(t, svc.ApplyInboundKeyword(context.Background(), "+19995550000", "STOP"))
}

func TestReOptInLeavesStop(t *testing.T) {
	repo := newMemRepo()
	audit := &memAudit{}
	svc := NewService(repo, audit)
	ctx := context.Background()

	repo.recipients[phone] = domain.ConsentStop
	require.NoError(t, svc.ReOptIn(ctx, phone))
	assert.Equal(t, domain.ConsentOptIn, repo.recipients[phone])
	require.Len(t, audit.entries, 1)
	assert.Equal(t, domain.AuditReOptIn, audit.entries[0].Kind)
}
