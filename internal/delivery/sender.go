// Package delivery posts signed webhook events to a running service. It backs
// the local payment simulator used in development and smoke tests.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"spotto-service/internal/config"
	"spotto-service/internal/event"
	"spotto-service/internal/signature"
)

const defaultTimeoutMs = 10_000

// Reply is the service's answer to one delivery.
type Reply struct {
	StatusCode int
	Body       string
}

type Sender struct {
	client *http.Client
	secret string
	now    func() time.Time
	logger *slog.Logger
}

func NewSender(secret string, logger *slog.Logger) *Sender {
	timeout := time.Duration(config.GetInt("DELIVERY_TIMEOUT_MS", defaultTimeoutMs)) * time.Millisecond
	return &Sender{
		client: &http.Client{Timeout: timeout},
		secret: secret,
		now:    time.Now,
		logger: logger,
	}
}

// Send signs payload with the current time and posts it to url. Any reply is
// returned; only transport failures are errors.
func (s *Sender) Send(ctx context.Context, url string, payload []byte) (Reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signature.Sign(payload, s.secret, s.now()))

	resp, err := s.client.Do(req)
	if err != nil {
		return Reply{}, errors.Wrap(err, "send event")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, errors.Wrap(err, "read response body")
	}

	reply := Reply{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	s.logger.InfoContext(ctx, "Event delivered", "url", url, "status", reply.StatusCode, "body", reply.Body)
	return reply, nil
}

// Checkout describes a simulated checkout.session.completed event.
type Checkout struct {
	EventID       string
	EventType     string
	SessionID     string
	UserID        string
	Email         string
	Amount        int64
	Currency      string
	PaymentStatus string
}

// CheckoutEvent renders c as a webhook payload. Empty ids are generated.
func CheckoutEvent(c Checkout) ([]byte, error) {
	if c.EventID == "" {
		c.EventID = "evt_" + uuid.NewString()
	}
	if c.SessionID == "" {
		c.SessionID = "cs_test_" + uuid.NewString()
	}
	if c.EventType == "" {
		c.EventType = event.TypeCheckoutCompleted
	}
	if c.PaymentStatus == "" {
		c.PaymentStatus = "paid"
	}

	object := map[string]any{
		"id":             c.SessionID,
		"object":         "checkout.session",
		"payment_status": c.PaymentStatus,
		"amount_total":   c.Amount,
		"currency":       c.Currency,
	}
	if c.UserID != "" {
		object["client_reference_id"] = c.UserID
		object["metadata"] = map[string]string{"userId": c.UserID}
	}
	if c.Email != "" {
		object["customer_details"] = map[string]string{"email": c.Email}
	}

	payload, err := json.Marshal(map[string]any{
		"id":     c.EventID,
		"object": "event",
		"type":   c.EventType,
		"data":   map[string]any{"object": object},
	})
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return payload, nil
}
