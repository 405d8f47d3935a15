// Package signature verifies the timestamped HMAC-SHA256 signatures the
// payment processor attaches to webhook deliveries.
//
// The header has the form "t=<unix seconds>,v1=<hex hmac>[,v1=<hex hmac>...]";
// pipes are accepted as separators too. The signed content is
// "<t>.<raw body>", so verification must run over the exact bytes received,
// never over re-encoded JSON.
package signature

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/stripe/stripe-go/v82/webhook"
)

const DefaultTolerance = 5 * time.Minute

var (
	ErrConfiguration    = errors.New("webhook signature verification not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrTimestampOutsideTolerance is also an ErrInvalidSignature.
	ErrTimestampOutsideTolerance = errors.Wrap(ErrInvalidSignature, "webhook timestamp outside tolerance")
)

type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier returns a verifier for secret. A zero tolerance disables the
// timestamp age check.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{
		secret:    strings.TrimSpace(secret),
		tolerance: tolerance,
	}
}

// Verify returns nil when at least one v1 signature in header matches
// payload and the timestamp is not older than the tolerance.
func (v *Verifier) Verify(payload []byte, header string) error {
	if v.secret == "" {
		return errors.Wrap(ErrConfiguration, "empty signing secret")
	}
	header = strings.ReplaceAll(strings.TrimSpace(header), "|", ",")
	if header == "" {
		return errors.Wrap(ErrConfiguration, "missing signature header")
	}

	var err error
	if v.tolerance > 0 {
		err = webhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance)
	} else {
		err = webhook.ValidatePayloadIgnoringTolerance(payload, header, v.secret)
	}
	return translate(err)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrNotSigned):
		return errors.Wrap(ErrConfiguration, "missing signature header")
	case errors.Is(err, webhook.ErrTooOld):
		return ErrTimestampOutsideTolerance
	case errors.Is(err, webhook.ErrInvalidHeader):
		return errors.Wrap(ErrInvalidSignature, "malformed header")
	default:
		return errors.Wrap(ErrInvalidSignature, err.Error())
	}
}

// Sign returns a header value that Verify accepts for payload at t.
func Sign(payload []byte, secret string, t time.Time) string {
	sig := webhook.ComputeSignature(t, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", t.Unix(), hex.EncodeToString(sig))
}
