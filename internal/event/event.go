package event

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v82"
)

const (
	TypeCheckoutCompleted           = "checkout.session.completed"
	TypeCheckoutAsyncPaymentSucceed = "checkout.session.async_payment_succeeded"
)

var ErrMalformedEvent = errors.New("malformed webhook event")

// Event is the parsed form of a webhook delivery: CheckoutCompleted or Ignored.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

// CheckoutCompleted is a paid checkout session. UserID may be empty when the
// session only carries an email.
type CheckoutCompleted struct {
	ID              string
	Type            string
	SessionID       string
	UserID          string
	Emails          []string
	Amount          int64
	Currency        string
	PaymentIntentID string
	PaymentStatus   string
}

func (e CheckoutCompleted) EventID() string   { return e.ID }
func (e CheckoutCompleted) EventType() string { return e.Type }
func (CheckoutCompleted) isEvent()            {}

// Ignored is any authenticated event this service has no action for. It is
// acknowledged so the processor stops redelivering it.
type Ignored struct {
	ID     string
	Type   string
	Reason string
}

func (e Ignored) EventID() string   { return e.ID }
func (e Ignored) EventType() string { return e.Type }
func (Ignored) isEvent()            {}

// Parse decodes a verified payload into an Event.
func Parse(payload []byte) (Event, error) {
	var env stripe.Event
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if env.Type == "" {
		return nil, errors.Wrap(ErrMalformedEvent, "missing event type")
	}

	switch string(env.Type) {
	case TypeCheckoutCompleted, TypeCheckoutAsyncPaymentSucceed:
		return parseCheckout(env)
	default:
		return Ignored{ID: env.ID, Type: string(env.Type), Reason: "unhandled type"}, nil
	}
}

func parseCheckout(env stripe.Event) (Event, error) {
	if env.Data == nil || len(env.Data.Raw) == 0 {
		return nil, errors.Wrap(ErrMalformedEvent, "missing data.object")
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(env.Data.Raw, &session); err != nil {
		return nil, errors.Wrap(ErrMalformedEvent, "decode checkout session: "+err.Error())
	}
	if session.ID == "" {
		return nil, errors.Wrap(ErrMalformedEvent, "checkout session without id")
	}

	// completed fires for delayed payment methods before funds arrive; the
	// async_payment_succeeded event follows once they do.
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return Ignored{ID: env.ID, Type: string(env.Type), Reason: "payment pending"}, nil
	}

	e := CheckoutCompleted{
		ID:            env.ID,
		Type:          string(env.Type),
		SessionID:     session.ID,
		UserID:        userIDFromSession(&session),
		Amount:        session.AmountTotal,
		Currency:      string(session.Currency),
		PaymentStatus: string(session.PaymentStatus),
	}
	if session.PaymentIntent != nil {
		e.PaymentIntentID = session.PaymentIntent.ID
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		e.Emails = append(e.Emails, session.CustomerDetails.Email)
	}
	if session.CustomerEmail != "" {
		e.Emails = append(e.Emails, session.CustomerEmail)
	}
	return e, nil
}

func userIDFromSession(s *stripe.CheckoutSession) string {
	for _, key := range []string{"userId", "user_id"} {
		if v := s.Metadata[key]; v != "" {
			return v
		}
	}
	return s.ClientReferenceID
}
