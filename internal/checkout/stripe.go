package checkout

import (
	"context"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// SessionRequest is what the processor needs to open a hosted checkout page.
type SessionRequest struct {
	UserID     string
	Email      string
	SuccessURL string
	CancelURL  string
}

type SessionCreator interface {
	CreateSession(ctx context.Context, req SessionRequest) (url string, err error)
}

// StripeSessions creates one-off payment checkout sessions for a single price.
type StripeSessions struct {
	api     *client.API
	priceID string
}

// NewStripeSessions builds a client for secretKey. backends may be nil; tests
// pass one pointed at a local server.
func NewStripeSessions(secretKey, priceID string, backends *stripe.Backends) *StripeSessions {
	return &StripeSessions{
		api:     client.New(secretKey, backends),
		priceID: priceID,
	}
}

func (s *StripeSessions) CreateSession(ctx context.Context, req SessionRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(s.priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.UserID),
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	// The webhook reads the user back from here.
	params.AddMetadata("userId", req.UserID)
	params.Context = ctx

	session, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", errors.Wrap(err, "create checkout session")
	}
	if session.URL == "" {
		return "", errors.New("checkout session without url")
	}
	return session.URL, nil
}
