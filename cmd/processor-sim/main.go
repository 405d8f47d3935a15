// Command processor-sim plays the payment processor against a local service:
// it signs checkout events with the webhook secret and delivers them.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"spotto-service/internal/config"
	"spotto-service/internal/delivery"
	"spotto-service/internal/logging"
)

func main() {
	var (
		url       = flag.String("url", "http://localhost:8080/webhooks/stripe", "webhook endpoint")
		secret    = flag.String("secret", config.GetString("STRIPE_WEBHOOK_SECRET", ""), "webhook signing secret")
		user      = flag.String("user", "", "user id placed in session metadata")
		email     = flag.String("email", "", "customer email")
		session   = flag.String("session", "", "checkout session id, generated when empty")
		eventType = flag.String("type", "checkout.session.completed", "event type")
		status    = flag.String("payment-status", "paid", "session payment status")
		amount    = flag.Int64("amount", 4900, "amount in minor units")
		currency  = flag.String("currency", "sek", "currency")
		repeat    = flag.Int("repeat", 1, "deliver the same event this many times")
	)
	flag.Parse()

	if *secret == "" {
		log.Fatal("a webhook secret is required (-secret or STRIPE_WEBHOOK_SECRET)")
	}

	logger, closeLogger := logging.GetLogger(config.Logs{Level: "info"})
	defer closeLogger()

	payload, err := delivery.CheckoutEvent(delivery.Checkout{
		EventType:     *eventType,
		SessionID:     *session,
		UserID:        *user,
		Email:         *email,
		Amount:        *amount,
		Currency:      *currency,
		PaymentStatus: *status,
	})
	if err != nil {
		log.Fatal(err)
	}

	sender := delivery.NewSender(*secret, logger)
	failed := false
	for i := 0; i < *repeat; i++ {
		reply, err := sender.Send(context.Background(), *url, payload)
		if err != nil {
			logger.Error("Delivery failed", "attempt", i+1, "error", err)
			failed = true
			continue
		}
		if reply.StatusCode >= 400 {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}
