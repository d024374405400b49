package model

import "time"

// Payment attempt statuses.
const (
	AttemptPending  = "pending"
	AttemptApproved = "approved"
	AttemptRejected = "rejected"
	AttemptError    = "error"
)

// PaymentAttempt is an append-only record of one gateway call.
// Rows are never updated after insert; an order's current gateway is
// derived from its most recent attempt.
type PaymentAttempt struct {
	ID                string    `json:"id"`
	OrderID           string    `json:"order_id"`
	Gateway           string    `json:"gateway"`
	Status            string    `json:"status"`
	ProviderPaymentID string    `json:"provider_payment_id,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	LatencyMS         int64     `json:"latency_ms"`
	CreatedAt         time.Time `json:"created_at"`
}
