package stellar

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stellara-labs/stellara/pkg/stellara/domain"
)

const (
	HeaderEvent     = "X-Stellara-Event"
	HeaderDelivery  = "X-Stellara-Delivery"
	HeaderSignature = "X-Stellara-Signature"
)

// WebhookPayload is the JSON body posted to subscribers.
type WebhookPayload struct {
	ID             int64           `json:"id"`
	Account        string          `json:"account"`
	OperationID    string          `json:"operationId"`
	PagingToken    string          `json:"pagingToken"`
	Type           string          `json:"type"`
	TxHash         string          `json:"txHash"`
	LedgerClosedAt time.Time       `json:"ledgerClosedAt"`
	Operation      json.RawMessage `json:"operation"`
	SubscriptionID int64           `json:"subscriptionId"`
}

func NewWebhookPayload(sub *domain.StellarSubscription, event *domain.StellarEvent) WebhookPayload {
	p := WebhookPayload{
		ID:             event.ID,
		Account:        event.Account,
		OperationID:    event.OperationID,
		PagingToken:    event.PagingToken,
		Type:           event.Type,
		TxHash:         event.TxHash,
		LedgerClosedAt: event.LedgerClosedAt,
		SubscriptionID: sub.ID,
	}
	if json.Valid([]byte(event.Payload)) {
		p.Operation = json.RawMessage(event.Payload)
	}
	return p
}

// Sign is the X-Stellara-Signature value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header in constant time.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// WebhookSender posts signed events. The engine retries on error.
type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender(timeout time.Duration) *WebhookSender {
	return &WebhookSender{client: &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

// Send returns the response status. Transport failures return an error and status 0.
func (s *WebhookSender) Send(ctx context.Context, sub *domain.StellarSubscription, event *domain.StellarEvent, deliveryID string) (int, error) {
	body, err := json.Marshal(NewWebhookPayload(sub, event))
	if err != nil {
		return 0, fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Stellara-Webhook/1.0")
	req.Header.Set(HeaderEvent, event.Type)
	req.Header.Set(HeaderDelivery, deliveryID)
	req.Header.Set(HeaderSignature, Sign(sub.Secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
