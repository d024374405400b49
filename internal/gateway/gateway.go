package gateway

import (
	"context"
)

// Kind is the closed classification of a gateway response. Every decision
// downstream of a provider call branches on this set, never on raw
// provider payloads.
type Kind string

const (
	// Approved: the charge settled.
	Approved Kind = "approved"
	// Declined: the instrument was rejected (insufficient funds, invalid
	// card). Not retryable and never eligible for cascade.
	Declined Kind = "declined"
	// Retryable: timeout, provider outage, rate limit. Eligible for
	// cascade to the secondary gateway.
	Retryable Kind = "retryable"
	// Unknown: the provider answered something we cannot classify. Treated
	// like Retryable for cascade purposes, but the charge may have gone
	// through, so a lookup is required before any second attempt.
	Unknown Kind = "unknown"
)

// Outcome is the normalized result of one gateway call.
type Outcome struct {
	Kind              Kind
	ProviderPaymentID string
	Reason            string
}

// ChargeRequest carries everything a provider needs to settle a payment.
// CardToken is an opaque vault token; raw card data never enters the system.
type ChargeRequest struct {
	ExternalRef string
	Amount      float64
	Currency    string
	CardToken   string
	Email       string
}

// Gateway is one payment provider. Charge never returns a Go error:
// transport failures are folded into the outcome classification so callers
// branch on exactly one closed set. LookupPayment reports whether a charge
// already exists for the given external reference; its error is a real
// error, the caller cannot safely cascade without an answer.
type Gateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) Outcome
	LookupPayment(ctx context.Context, externalRef string) (Outcome, bool, error)
}
