package model

import (
	"time"
)

// Gateway identifiers.
const (
	GatewayAlfa = "alfa"
	GatewayBeta = "beta"
)

// Order statuses. Forward-only except the retryable failure branches.
const (
	StatusDraft              = "draft"
	StatusProcessing         = "processing"
	StatusPaid               = "paid"
	StatusProvisioning       = "provisioning"
	StatusActive             = "active"
	StatusPaymentFailed      = "payment_failed"
	StatusProvisioningFailed = "provisioning_failed"
	StatusCancelled          = "cancelled"
)

type Order struct {
	ID            string    `json:"id"`
	Fingerprint   string    `json:"-"`
	ExternalRef   string    `json:"-"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Email         string    `json:"email"`
	CustomerName  string    `json:"name"`
	Status        string    `json:"status"`
	AlfaPaymentID string    `json:"-"`
	BetaPaymentID string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PublicStatus is what the buyer sees. A provisioning-side failure is an
// operational problem, not a billing one: the customer has already been
// charged, so the order reads "paid" until fulfillment completes.
func (o *Order) PublicStatus() string {
	switch o.Status {
	case StatusProvisioning, StatusProvisioningFailed:
		return StatusPaid
	default:
		return o.Status
	}
}

// PaymentID returns the provider payment id slot for the given gateway.
func (o *Order) PaymentID(gateway string) string {
	switch gateway {
	case GatewayAlfa:
		return o.AlfaPaymentID
	case GatewayBeta:
		return o.BetaPaymentID
	}
	return ""
}
