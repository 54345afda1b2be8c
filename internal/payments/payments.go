package payments

import "context"

// Gateway is the payment collaborator contract. Every call is
// idempotent given the same intent ID and must report success or
// failure, never silently lose state. The engine only holds the
// opaque intent ID; it never sees payment credentials.
type Gateway interface {
	// Authorize places an escrow hold and returns the intent ID.
	Authorize(ctx context.Context, amountCents int64, currency, customerID string) (string, error)
	// Capture finalizes a previously authorized hold.
	Capture(ctx context.Context, intentID string) error
	// Refund returns amountCents of a captured or held intent to the payer.
	Refund(ctx context.Context, intentID string, amountCents int64) error
	// Transfer pays amountCents of a captured intent out to payee.
	Transfer(ctx context.Context, intentID, payee string, amountCents int64) error
}
