package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ignite/event-stream-engine/internal/config"
	"github.com/ignite/event-stream-engine/internal/domain"
)

// TwilioClient sends messages through the Twilio Messages REST endpoint.
// WhatsApp recipients keep their "whatsapp:" prefix on both To and From.
type TwilioClient struct {
	httpClient *http.Client
	baseURL    string
	accountSID string
	authToken  string
	senderID   string
}

// NewTwilioClient creates the Twilio adapter from provider config.
func NewTwilioClient(cfg config.ProviderConfig) *TwilioClient {
	return &TwilioClient{
		httpClient: &http.Client{Timeout: cfg.ProviderTimeout()},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		senderID:   cfg.SenderID,
	}
}

type twilioResponse struct {
	Sid     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send implements Client. A "whatsapp:+E164" address routes over WhatsApp;
// a bare E.164 routes over SMS.
func (c *TwilioClient) Send(ctx context.Context, to, body string) (string, error) {
	from := c.senderID
	if strings.HasPrefix(to, domain.ChannelWhatsApp+":") {
		from = domain.ChannelWhatsApp + ":" + from
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", &Error{Kind: KindPermanent, Msg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Deadline expiry and network failures are transient.
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", &Error{Kind: KindTransient, Msg: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &Error{Kind: KindTransient, Msg: err.Error()}
	}

	var tr twilioResponse
	if err := json.Unmarshal(data, &tr); err != nil && resp.StatusCode < 400 {
		return "", &Error{Kind: KindTransient, Msg: "malformed provider response"}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if tr.Sid == "" {
			return "", &Error{Kind: KindTransient, Msg: "accepted response without sid"}
		}
		return tr.Sid, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &Error{Kind: KindTransient, Code: tr.Code, Msg: tr.Message}
	default:
		return "", &Error{Kind: classifyCode(tr.Code), Code: tr.Code, Msg: tr.Message}
	}
}
