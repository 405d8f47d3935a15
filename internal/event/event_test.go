package event

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotto-service/internal/model"
)

const checkoutPayload = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {
    "object": {
      "id": "sess_1",
      "object": "checkout.session",
      "amount_total": 4900,
      "currency": "sek",
      "payment_intent": "pi_1",
      "payment_status": "paid",
      "metadata": {"userId": "u1"},
      "customer_details": {"email": "Buyer@Example.com"}
    }
  }
}`

func TestParse_CheckoutCompleted(t *testing.T) {
	evt, err := Parse([]byte(checkoutPayload))
	require.NoError(t, err)

	checkout, ok := evt.(CheckoutCompleted)
	require.True(t, ok, "got %T", evt)
	assert.Equal(t, "evt_1", checkout.EventID())
	assert.Equal(t, TypeCheckoutCompleted, checkout.EventType())
	assert.Equal(t, "sess_1", checkout.SessionID)
	assert.Equal(t, "u1", checkout.UserID)
	assert.Equal(t, int64(4900), checkout.Amount)
	assert.Equal(t, "sek", checkout.Currency)
	assert.Equal(t, "pi_1", checkout.PaymentIntentID)
	assert.Equal(t, []string{"Buyer@Example.com"}, checkout.Emails)
}

func TestParse_UserIDFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		object string
		want   string
	}{
		{"snake case metadata", `{"id":"sess_2","metadata":{"user_id":"u2"}}`, "u2"},
		{"client reference", `{"id":"sess_3","client_reference_id":"u3"}`, "u3"},
		{"none", `{"id":"sess_4","customer_email":"x@example.com"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := `{"id":"evt","type":"checkout.session.completed","data":{"object":` + tt.object + `}}`
			evt, err := Parse([]byte(payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, evt.(CheckoutCompleted).UserID)
		})
	}
}

func TestParse_IgnoredTypes(t *testing.T) {
	evt, err := Parse([]byte(`{"id":"evt_9","type":"customer.created","data":{"object":{"id":"cus_1"}}}`))
	require.NoError(t, err)

	ignored, ok := evt.(Ignored)
	require.True(t, ok)
	assert.Equal(t, "customer.created", ignored.EventType())
}

func TestParse_UnpaidCheckoutIsIgnored(t *testing.T) {
	evt, err := Parse([]byte(`{"id":"evt_5","type":"checkout.session.completed","data":{"object":{"id":"sess_5","payment_status":"unpaid"}}}`))
	require.NoError(t, err)
	assert.IsType(t, Ignored{}, evt)
}

func TestParse_Malformed(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":           `{"id":`,
		"no type":            `{"id":"evt"}`,
		"checkout no data":   `{"id":"evt","type":"checkout.session.completed"}`,
		"checkout no id":     `{"id":"evt","type":"checkout.session.completed","data":{"object":{"amount_total":1}}}`,
		"checkout bad shape": `{"id":"evt","type":"checkout.session.completed","data":{"object":{"id":42}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(payload))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

type stubLookup struct {
	byEmail map[string]string
	err     error
	calls   []string
}

func (s *stubLookup) FindIDByEmail(_ context.Context, email string) (string, bool, error) {
	s.calls = append(s.calls, email)
	if s.err != nil {
		return "", false, s.err
	}
	id, ok := s.byEmail[email]
	return id, ok, nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolve_PrefersMetadataUser(t *testing.T) {
	lookup := &stubLookup{}
	i := NewInterpreter(lookup, newTestLogger())

	grant, err := i.Resolve(context.Background(), CheckoutCompleted{
		ID: "evt_1", SessionID: "sess_1", UserID: "u1", Amount: 4900, Currency: "SEK", Emails: []string{"a@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.Grant{UserID: "u1", SessionID: "sess_1", Amount: 4900, Currency: "sek", EventID: "evt_1"}, grant)
	assert.Empty(t, lookup.calls)
}

func TestResolve_FallsBackToEmail(t *testing.T) {
	lookup := &stubLookup{byEmail: map[string]string{"second@example.com": "u7"}}
	i := NewInterpreter(lookup, newTestLogger())

	grant, err := i.Resolve(context.Background(), CheckoutCompleted{
		SessionID: "sess_7", Emails: []string{"First@example.com", " second@example.com "},
	})
	require.NoError(t, err)
	assert.Equal(t, "u7", grant.UserID)
	assert.Equal(t, []string{"first@example.com", "second@example.com"}, lookup.calls)
}

func TestResolve_Unresolved(t *testing.T) {
	i := NewInterpreter(&stubLookup{}, newTestLogger())

	_, err := i.Resolve(context.Background(), CheckoutCompleted{SessionID: "sess_8", Emails: []string{"nobody@example.com"}})
	assert.ErrorIs(t, err, ErrUnresolvedUser)

	_, err = i.Resolve(context.Background(), CheckoutCompleted{SessionID: "sess_9"})
	assert.ErrorIs(t, err, ErrUnresolvedUser)
}

func TestResolve_LookupFailureIsTransient(t *testing.T) {
	i := NewInterpreter(&stubLookup{err: errors.New("connection reset")}, newTestLogger())

	_, err := i.Resolve(context.Background(), CheckoutCompleted{SessionID: "sess_10", Emails: []string{"a@example.com"}})
	assert.ErrorIs(t, err, model.ErrStorageTransient)
}
