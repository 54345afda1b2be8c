package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/refund"
	"github.com/stripe/stripe-go/v74/transfer"
)

// StripeGateway implements Gateway on stripe-go PaymentIntents with
// manual capture, the hold/capture/refund/payout flow the rental
// escrow needs.
type StripeGateway struct{}

// NewStripeGateway initializes the stripe client with the
// STRIPE_API_KEY env var.
func NewStripeGateway() *StripeGateway {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeGateway{}
}

// Authorize creates a PaymentIntent with capture_method=manual to hold
// funds without capturing them.
func (s *StripeGateway) Authorize(ctx context.Context, amountCents int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeGateway) Capture(ctx context.Context, intentID string) error {
	_, err := paymentintent.Capture(intentID, nil)
	return err
}

// Refund returns funds to the payer. For uncaptured intents Stripe
// treats this as a cancellation of the hold.
func (s *StripeGateway) Refund(ctx context.Context, intentID string, amountCents int64) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	if amountCents > 0 {
		params.Amount = stripe.Int64(amountCents)
	}
	_, err := refund.New(params)
	return err
}

// Transfer pays the owner their share of a captured intent.
func (s *StripeGateway) Transfer(ctx context.Context, intentID, payee string, amountCents int64) error {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(string(stripe.CurrencyUSD)),
		Destination:   stripe.String(payee),
		TransferGroup: stripe.String(intentID),
	}
	_, err := transfer.New(params)
	return err
}
