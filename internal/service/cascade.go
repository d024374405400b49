package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"orderflow/internal/gateway"
	"orderflow/internal/model"
)

// chargeClaimTTL bounds how long a charge claim can sit before another
// request may take it over. Long enough for two gateway calls plus a
// lookup; short enough that a crashed handler does not block the buyer's
// retry for long.
const chargeClaimTTL = 2 * time.Minute

// CascadeService settles an order's payment: primary gateway first, one
// fallback attempt on the secondary for retryable failures. A declined
// instrument never cascades.
type CascadeService struct {
	orders    *OrderService
	primary   gateway.Gateway
	secondary gateway.Gateway
	claimTTL  time.Duration
}

func NewCascadeService(orders *OrderService, primary, secondary gateway.Gateway) *CascadeService {
	return &CascadeService{orders: orders, primary: primary, secondary: secondary, claimTTL: chargeClaimTTL}
}

// CardInstrument is an opaque vault token for the buyer's card.
type CardInstrument struct {
	Token string
}

// Charge runs the cascade for one order. The returned outcome is the
// classification the caller answers the buyer with; err is reserved for
// internal failures (storage, state machine).
func (s *CascadeService) Charge(ctx context.Context, order *model.Order, instrument CardInstrument) (gateway.Outcome, error) {
	if reachedPaid(order.Status) {
		return gateway.Outcome{Kind: gateway.Approved, ProviderPaymentID: currentPaymentID(order)}, nil
	}

	// One live charge per order. Two submissions of the same fingerprint
	// can resolve to this order concurrently; only the one holding the
	// claim may talk to a gateway, the other answers "in flight".
	claimed, err := s.orders.ClaimCharge(ctx, order.ID, time.Now().Add(-s.claimTTL))
	if err != nil {
		return gateway.Outcome{}, err
	}
	if !claimed {
		slog.Info("charge already in flight", "order", order.ID)
		return gateway.Outcome{}, ErrDuplicateRequest
	}
	defer func() {
		if err := s.orders.ReleaseCharge(ctx, order.ID); err != nil {
			slog.Warn("release charge claim failed, claim will go stale", "order", order.ID, "error", err)
		}
	}()

	if order.Status == model.StatusDraft || order.Status == model.StatusPaymentFailed {
		if err := s.orders.Transition(ctx, order.ID, model.StatusProcessing, "checkout"); err != nil {
			return gateway.Outcome{}, err
		}
	}

	req := gateway.ChargeRequest{
		ExternalRef: order.ExternalRef,
		Amount:      order.Amount,
		Currency:    order.Currency,
		CardToken:   instrument.Token,
		Email:       order.Email,
	}

	out, err := s.attempt(ctx, order, s.primary, req)
	if err != nil {
		return gateway.Outcome{}, err
	}

	switch out.Kind {
	case gateway.Approved:
		return out, s.adopt(ctx, order, s.primary.Name(), out, "cascade")
	case gateway.Declined:
		if err := s.orders.Transition(ctx, order.ID, model.StatusPaymentFailed, "declined by "+s.primary.Name()); err != nil {
			return gateway.Outcome{}, err
		}
		return out, nil
	}

	// Primary failed ambiguously. The charge may have landed anyway
	// (timeouts especially), so check before touching the secondary:
	// cascading past a settled charge is a double charge.
	looked, found, lookErr := s.primary.LookupPayment(ctx, order.ExternalRef)
	if lookErr != nil {
		slog.Error("primary lookup failed, cascade withheld", "order", order.ID, "error", lookErr)
		return gateway.Outcome{Kind: gateway.Retryable, Reason: "primary gateway unavailable"}, nil
	}
	if found && looked.Kind == gateway.Approved {
		slog.Info("primary charge found settled on lookup", "order", order.ID, "payment", looked.ProviderPaymentID)
		return looked, s.adopt(ctx, order, s.primary.Name(), looked, "lookup")
	}

	out, err = s.attempt(ctx, order, s.secondary, req)
	if err != nil {
		return gateway.Outcome{}, err
	}

	switch out.Kind {
	case gateway.Approved:
		return out, s.adopt(ctx, order, s.secondary.Name(), out, "cascade")
	case gateway.Declined:
		if err := s.orders.Transition(ctx, order.ID, model.StatusPaymentFailed, "declined by "+s.secondary.Name()); err != nil {
			return gateway.Outcome{}, err
		}
		return out, nil
	}

	// Both gateways down. The order stays in processing: a network blip
	// must not foreclose the sale, the same fingerprint can retry.
	slog.Warn("cascade exhausted", "order", order.ID, "reason", out.Reason)
	return out, nil
}

// attempt dispatches one gateway call and records it before returning.
func (s *CascadeService) attempt(ctx context.Context, order *model.Order, gw gateway.Gateway, req gateway.ChargeRequest) (gateway.Outcome, error) {
	started := time.Now()
	out := gw.Charge(ctx, req)
	latency := time.Since(started).Milliseconds()

	a := &model.PaymentAttempt{
		OrderID:           order.ID,
		Gateway:           gw.Name(),
		Status:            attemptStatus(out.Kind),
		ProviderPaymentID: out.ProviderPaymentID,
		Reason:            out.Reason,
		LatencyMS:         latency,
	}
	if err := s.orders.RecordAttempt(ctx, a); err != nil {
		return gateway.Outcome{}, fmt.Errorf("record %s attempt: %w", gw.Name(), err)
	}

	slog.Info("payment attempt", "order", order.ID, "gateway", gw.Name(), "kind", out.Kind, "latency_ms", latency)
	return out, nil
}

// adopt stores the provider payment id and marks the order paid.
func (s *CascadeService) adopt(ctx context.Context, order *model.Order, gw string, out gateway.Outcome, cause string) error {
	if out.ProviderPaymentID != "" {
		if err := s.orders.SetPaymentID(ctx, order.ID, gw, out.ProviderPaymentID); err != nil {
			return err
		}
	}
	return s.orders.Transition(ctx, order.ID, model.StatusPaid, cause)
}

func attemptStatus(kind gateway.Kind) string {
	switch kind {
	case gateway.Approved:
		return model.AttemptApproved
	case gateway.Declined:
		return model.AttemptRejected
	case gateway.Unknown:
		// The provider answered but did not settle either way; the charge
		// may still be pending on its side.
		return model.AttemptPending
	default:
		return model.AttemptError
	}
}

func currentPaymentID(order *model.Order) string {
	if order.AlfaPaymentID != "" {
		return order.AlfaPaymentID
	}
	return order.BetaPaymentID
}
