package ingest

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/event-stream-engine/internal/domain"
	"github.com/ignite/event-stream-engine/internal/store"
)

type memEvents struct {
	inbound   []domain.InboundEvent
	receipts  []domain.DeliveryReceipt
	processed []string
	failRaw   bool
}

func (m *memEvents) InsertInbound(_ context.Context, e *domain.InboundEvent) (string, error) {
	if m.failRaw {
		return "", errors.New("db down")
	}
	e.ID = "evt-1"
	m.inbound = append(m.inbound, *e)
	return e.ID, nil
}

func (m *memEvents) MarkInboundProcessed(_ context.Context, id string) error {
	m.processed = append(m.processed, id)
	return nil
}

func (m *memEvents) InsertReceipt(_ context.Context, d *domain.DeliveryReceipt) (string, error) {
	if m.failRaw {
		return "", errors.New("db down")
	}
	d.ID = "rcp-1"
	m.receipts = append(m.receipts, *d)
	return d.ID, nil
}

type memRecipients struct {
	upserts map[string]map[string]any
	err     error
}

func (m *memRecipients) Upsert(_ context.Context, phone string, attrs map[string]any, _ domain.ConsentState) error {
	if m.err != nil {
		return m.err
	}
	if m.upserts == nil {
		m.upserts = map[string]map[string]any{}
	}
	m.upserts[phone] = attrs
	return nil
}

type memMessages struct {
	byProviderSid map[string]*domain.Message
	transitions   []string
	conflictOnce  bool
}

func (m *memMessages) FindByProviderSid(_ context.Context, sid string) (*domain.Message, error) {
	msg, ok := m.byProviderSid[sid]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *memMessages) Transition(_ context.Context, id string, from, to domain.MessageStatus, _ store.TransitionUpdate) error {
	if m.conflictOnce {
		m.conflictOnce = false
		return store.ErrConflict
	}
	for _, msg := range m.byProviderSid {
		if msg.ID == id && msg.Status == from {
			msg.Status = to
			m.transitions = append(m.transitions, string(from)+">"+string(to))
			return nil
		}
	}
	return store.ErrConflict
}

type memConsent struct {
	applied []string
}

func (m *memConsent) ApplyInboundKeyword(_ context.Context, phone, body string) error {
	m.applied = append(m.applied, phone+":"+body)
	return nil
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
}

func newIngestor(events *memEvents, recipients *memRecipients, messages *memMessages, consent *memConsent) *Ingestor {
	return NewIngestor(events, recipients, messages, consent, fixedNow)
}

func TestInboundHappyPath(t *testing.T) {
	events := &memEvents{}
	recipients := &memRecipients{}
	consent := &memConsent{}
	ing := newIngestor(events, recipients, &memMessages{}, consent)

	form := url.Values{
		"From":        {"whatsapp:+14155550001"},
		"Body":        {"hello"},
		"MessageSid":  {"IM1"},
		"ProfileName": {"Ada"},
		"WaId":        {"14155550001"},
	}
	require.NoError(t, ing.Inbound(context.Background(), form, []byte(form.Encode())))

	require.Len(t, events.inbound, 1)
	// The raw row keeps the form-encoded body byte for byte.
	assert.Equal(t, []byte(form.Encode()), events.inbound[0].RawPayload)
	assert.Equal(t, "+14155550001", events.inbound[0].FromPhone)
	assert.Equal(t, "whatsapp", events.inbound[0].ChannelType)
	assert.Equal(t, "IM1", events.inbound[0].ProviderMessageID)

	attrs := recipients.upserts["+14155550001"]
	require.NotNil(t, attrs)
	assert.Equal(t, "Ada", attrs["profile_name"])
	assert.Equal(t, "14155550001", attrs["wa_id"])

	assert.Equal(t, []string{"+14155550001:hello"}, consent.applied)
	assert.Equal(t, []string{"evt-1"}, events.processed)
}

func TestInboundMalformedFromKeepsRawRow(t *testing.T) {
	events := &memEvents{}
	recipients := &memRecipients{}
	ing := newIngestor(events, recipients, &memMessages{}, &memConsent{})

	form := url.Values{"From": {"not-a-number"}, "Body": {"hi"}}
	require.NoError(t, ing.Inbound(context.Background(), form, []byte(form.Encode())))

	require.Len(t, events.inbound, 1)
	assert.Empty(t, events.inbound[0].FromPhone)
	assert.Empty(t, recipients.upserts)
	assert.Empty(t, events.processed)
}

func TestInboundRawInsertFailureSurfaces(t *testing.T) {
	ing := newIngestor(&memEvents{failRaw: true}, &memRecipients{}, &memMessages{}, &memConsent{})
	err := ing.Inbound(context.Background(), url.Values{"From": {"+14155550001"}}, []byte("From=%2B14155550001"))
	assert.Error(t, err)
}

func TestInboundDownstreamFailureSwallowed(t *testing.T) {
	events := &memEvents{}
	ing := newIngestor(events, &memRecipients{err: errors.New("db down")}, &memMessages{}, &memConsent{})

	form := url.Values{"From": {"+14155550001"}, "Body": {"STOP"}}
	assert.NoError(t, ing.Inbound(context.Background(), form, []byte(form.Encode())))
	assert.Len(t, events.inbound, 1)
}

func TestStatusAppliesTransition(t *testing.T) {
	events := &memEvents{}
	messages := &memMessages{byProviderSid: map[string]*domain.Message{
		"SM1": {ID: "msg-1", Status: domain.MessageSent},
	}}
	ing := newIngestor(events, &memRecipients{}, messages, &memConsent{})

	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
	require.NoError(t, ing.Status(context.Background(), form, []byte(form.Encode())))

	require.Len(t, events.receipts, 1)
	assert.Equal(t, []byte(form.Encode()), events.receipts[0].RawPayload)
	assert.Equal(t, "SM1", events.receipts[0].ProviderSid)
	assert.Equal(t, domain.MessageDelivered, messages.byProviderSid["SM1"].Status)
}

func TestStatusReplayIsNoOp(t *testing.T) {
	messages := &memMessages{byProviderSid: map[string]*domain.Message{
		"SM1": {ID: "msg-1", Status: domain.MessageSent},
	}}
	ing := newIngestor(&memEvents{}, &memRecipients{}, messages, &memConsent{})

	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
	require.NoError(t, ing.Status(context.Background(), form, []byte(form.Encode())))
	require.NoError(t, ing.Status(context.Background(), form, []byte(form.Encode())))

	assert.Len(t, messages.transitions, 1)
}

func TestStatusOutOfOrderDeliveredThenSent(t *testing.T) {
	messages := &memMessages{byProviderSid: map[string]*domain.Message{
		"SM1": {ID: "msg-1", Status: domain.MessageSending},
	}}
	ing := newIngestor(&memEvents{}, &memRecipients{}, messages, &memConsent{})

	deliver := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
	require.NoError(t, ing.Status(context.Background(), deliver, []byte(deliver.Encode())))
	assert.Equal(t, domain.MessageDelivered, messages.byProviderSid["SM1"].Status)

	// Late "sent" must not regress the DAG.
	sent := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"sent"}}
	require.NoError(t, ing.Status(context.Background(), sent, []byte(sent.Encode())))
	assert.Equal(t, domain.MessageDelivered, messages.byProviderSid["SM1"].Status)
}

func TestStatusUnknownSidIsAccepted(t *testing.T) {
	events := &memEvents{}
	ing := newIngestor(events, &memRecipients{}, &memMessages{}, &memConsent{})

	form := url.Values{"MessageSid": {"SM404"}, "MessageStatus": {"delivered"}}
	assert.NoError(t, ing.Status(context.Background(), form, []byte(form.Encode())))
	assert.Len(t, events.receipts, 1)
}

func TestStatusErrorCodeCaptured(t *testing.T) {
	events := &memEvents{}
	messages := &memMessages{byProviderSid: map[string]*domain.Message{
		"SM1": {ID: "msg-1", Status: domain.MessageSent},
	}}
	ing := newIngestor(events, &memRecipients{}, messages, &memConsent{})

	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"failed"}, "ErrorCode": {"30005"}}
	require.NoError(t, ing.Status(context.Background(), form, []byte(form.Encode())))

	require.NotNil(t, events.receipts[0].ErrorCode)
	assert.Equal(t, 30005, *events.receipts[0].ErrorCode)
	assert.Equal(t, domain.MessageFailed, messages.byProviderSid["SM1"].Status)
}

func TestStatusConflictRetries(t *testing.T) {
	messages := &memMessages{
		byProviderSid: map[string]*domain.Message{
			"SM1": {ID: "msg-1", Status: domain.MessageSent},
		},
		conflictOnce: true,
	}
	ing := newIngestor(&memEvents{}, &memRecipients{}, messages, &memConsent{})

	form := url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"delivered"}}
	require.NoError(t, ing.Status(context.Background(), form, []byte(form.Encode())))
	assert.Equal(t, domain.MessageDelivered, messages.byProviderSid["SM1"].Status)
}
