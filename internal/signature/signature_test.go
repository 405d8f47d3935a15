package signature

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const secret = "whsec_test_secret"

func TestVerify_RoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	header := Sign(payload, secret, time.Now())

	assert.NoError(t, NewVerifier(secret, DefaultTolerance).Verify(payload, header))
}

func TestVerify_AcceptsStripeSignedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_2","object":"event"}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now().Add(-time.Minute),
	})

	assert.NoError(t, NewVerifier(secret, DefaultTolerance).Verify(payload, signed.Header))
}

func TestVerify_AcceptsPipeSeparatedHeader(t *testing.T) {
	payload := []byte(`{}`)
	header := strings.Replace(Sign(payload, secret, time.Now()), ",", "|", 1)

	assert.NoError(t, NewVerifier(secret, DefaultTolerance).Verify(payload, header))
}

func TestVerify_AnySingleByteFlipIsRejected(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	v := NewVerifier(secret, DefaultTolerance)

	for i := 0; i < 200; i++ {
		payload := make([]byte, 1+rng.Intn(256))
		rng.Read(payload)
		header := Sign(payload, secret, time.Now())
		require.NoError(t, v.Verify(payload, header))

		tampered := append([]byte(nil), payload...)
		pos := rng.Intn(len(tampered))
		tampered[pos] ^= byte(1 + rng.Intn(255))

		err := v.Verify(tampered, header)
		require.ErrorIs(t, err, ErrInvalidSignature, "flip at %d of %d bytes", pos, len(payload))
	}
}

func TestVerify_AcceptsWhenAnySignatureMatches(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Now()
	valid := Sign(payload, secret, now)
	rotated := Sign(payload, "whsec_old", now)

	_, validSig, _ := strings.Cut(valid, ",")
	assert.NoError(t, NewVerifier(secret, DefaultTolerance).Verify(payload, rotated+","+validSig))
}

func TestVerify_Errors(t *testing.T) {
	payload := []byte(`{"ok":true}`)
	now := time.Now()

	tests := []struct {
		name     string
		verifier *Verifier
		header   string
		want     error
	}{
		{
			name:     "missing secret",
			verifier: NewVerifier("  ", DefaultTolerance),
			header:   Sign(payload, secret, now),
			want:     ErrConfiguration,
		},
		{
			name:     "missing header",
			verifier: NewVerifier(secret, DefaultTolerance),
			header:   "",
			want:     ErrConfiguration,
		},
		{
			name:     "wrong secret",
			verifier: NewVerifier(secret, DefaultTolerance),
			header:   Sign(payload, "whsec_other", now),
			want:     ErrInvalidSignature,
		},
		{
			name:     "garbage",
			verifier: NewVerifier(secret, DefaultTolerance),
			header:   "t=not-a-number,v1=deadbeef",
			want:     ErrInvalidSignature,
		},
		{
			name:     "no v1 signature",
			verifier: NewVerifier(secret, DefaultTolerance),
			header:   Sign(payload, secret, now)[:len("t=1748779200")] + ",v0=deadbeef",
			want:     ErrInvalidSignature,
		},
		{
			name:     "stale timestamp",
			verifier: NewVerifier(secret, DefaultTolerance),
			header:   Sign(payload, secret, now.Add(-6*time.Minute)),
			want:     ErrTimestampOutsideTolerance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.verifier.Verify(payload, tt.header)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestVerify_StaleIsAlsoInvalidSignature(t *testing.T) {
	payload := []byte(`{}`)
	err := NewVerifier(secret, DefaultTolerance).Verify(payload, Sign(payload, secret, time.Now().Add(-time.Hour)))

	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.ErrorIs(t, err, ErrTimestampOutsideTolerance)
}

func TestVerify_ZeroToleranceSkipsAgeCheck(t *testing.T) {
	payload := []byte(`{}`)
	v := NewVerifier(secret, 0)

	assert.NoError(t, v.Verify(payload, Sign(payload, secret, time.Now().Add(-24*time.Hour))))
}
