package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/event-stream-engine/internal/domain"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestMessageCreateIdempotent(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewMessageRepo(db)

	m := &domain.Message{
		CampaignID:      7,
		RecipientPhone:  "+14155550001",
		RenderedContent: "hi Ada",
		Channel:         "sms",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	inserted, err := repo.Create(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotEmpty(t, m.ID)

	// Duplicate (campaign, phone) hits ON CONFLICT DO NOTHING.
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = repo.Create(context.Background(), m)
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageTransitionCAS(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewMessageRepo(db)

	sid := "SM123"
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages")).
		WithArgs(string(domain.MessageSent), &sid, (*int)(nil), &now, (*time.Time)(nil),
			"msg-1", string(domain.MessageSending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Transition(context.Background(), "msg-1",
		domain.MessageSending, domain.MessageSent,
		TransitionUpdate{ProviderSid: &sid, SentAt: &now})
	require.NoError(t, err)

	// A concurrent writer already moved the row: zero rows affected.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.Transition(context.Background(), "msg-1",
		domain.MessageSending, domain.MessageSent, TransitionUpdate{})
	assert.ErrorIs(t, err, ErrConflict)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageRequeueBumpsRetry(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewMessageRepo(db)

	notBefore := time.Now().Add(time.Minute)
	code := 30001

	mock.ExpectExec(regexp.QuoteMeta("retry_count = retry_count + 1")).
		WithArgs(string(domain.MessageQueued), notBefore, &code, "msg-2", string(domain.MessageSending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Requeue(context.Background(), "msg-2", notBefore, &code))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageReapStuckRequeuesExpiredLeases(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE messages SET status = $1")).
		WithArgs(string(domain.MessageQueued), string(domain.MessageSending)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ReapStuck(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageFindByProviderSidNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewMessageRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE provider_sid = $1")).
		WithArgs("SM404").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByProviderSid(context.Background(), "SM404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateConsentStopIsSticky(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRecipientRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT consent_state FROM recipients")).
		WithArgs("+14155550001").
		WillReturnRows(sqlmock.NewRows([]string{"consent_state"}).AddRow("STOP"))
	mock.ExpectRollback()

	prev, err := repo.UpdateConsent(context.Background(), "+14155550001", domain.ConsentOptIn, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentStop, prev)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConsentStopExitAllowed(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRecipientRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT consent_state FROM recipients")).
		WithArgs("+14155550001").
		WillReturnRows(sqlmock.NewRows([]string{"consent_state"}).AddRow("STOP"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE recipients SET consent_state")).
		WithArgs(string(domain.ConsentOptIn), "+14155550001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	prev, err := repo.UpdateConsent(context.Background(), "+14155550001", domain.ConsentOptIn, true)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsentStop, prev)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConsentUnknownRecipient(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRecipientRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT consent_state FROM recipients")).
		WithArgs("+19995550000").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.UpdateConsent(context.Background(), "+19995550000", domain.ConsentOptOut, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertInboundKeepsFormEncodedPayload(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewEventRepo(db)

	// Webhook bodies arrive form-encoded, not as JSON; the raw column must
	// take the bytes verbatim.
	raw := []byte("From=%2B14155550001&Body=STOP&MessageSid=SM1")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events_inbound")).
		WithArgs(sqlmock.AnyArg(), raw, "+14155550001", "sms", "STOP", "SM1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := repo.InsertInbound(context.Background(), &domain.InboundEvent{
		RawPayload:        raw,
		FromPhone:         "+14155550001",
		ChannelType:       "sms",
		NormalizedBody:    "STOP",
		ProviderMessageID: "SM1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReceiptKeepsFormEncodedPayload(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewEventRepo(db)

	raw := []byte("MessageSid=SM9&MessageStatus=delivered")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO delivery_receipts")).
		WithArgs(sqlmock.AnyArg(), raw, "SM9", "delivered", (*int)(nil)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := repo.InsertReceipt(context.Background(), &domain.DeliveryReceipt{
		RawPayload:    raw,
		ProviderSid:   "SM9",
		MessageStatus: "delivered",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignTransitionStatusConflict(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE campaigns SET status")).
		WithArgs(string(domain.CampaignRunning), int64(3), string(domain.CampaignReady)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.TransitionStatus(context.Background(), 3,
		domain.CampaignReady, domain.CampaignRunning)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCampaignSummary(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCampaignRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY status")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("SENT", 10).
			AddRow("FAILED", 2))

	got, err := repo.Summary(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 10, got[domain.MessageSent])
	assert.Equal(t, 2, got[domain.MessageFailed])
}
