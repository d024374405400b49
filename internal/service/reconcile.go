package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"orderflow/internal/model"
)

// Canonical webhook event statuses after boundary normalization.
const (
	EventApproved = "approved"
	EventRejected = "rejected"
	EventPending  = "pending"
	EventUnknown  = "unknown"
)

// WebhookEvent is a provider notification reduced to the fields the state
// machine cares about. Provider-specific payload shapes stop at the
// handlers.
type WebhookEvent struct {
	Gateway           string
	ProviderPaymentID string
	ExternalRef       string
	Status            string
}

// ReconcileService aligns order state with provider-reported payment truth.
// Deliveries may be duplicated and out of order; everything here has to be
// safe to replay.
type ReconcileService struct {
	orders *OrderService
}

func NewReconcileService(orders *OrderService) *ReconcileService {
	return &ReconcileService{orders: orders}
}

// Apply matches the event to an order and advances it. An event that
// matches nothing is logged and dropped: it may belong to an order not
// created yet, or to a test notification, and redelivery will not help.
func (s *ReconcileService) Apply(ctx context.Context, ev WebhookEvent) error {
	order, err := s.match(ctx, ev)
	if errors.Is(err, ErrOrderNotFound) {
		slog.Info("webhook matched no order", "gateway", ev.Gateway, "payment", ev.ProviderPaymentID, "ref", ev.ExternalRef)
		return nil
	}
	if err != nil {
		return err
	}

	switch ev.Status {
	case EventApproved:
		// Redeliveries carry the same payment id the order already holds;
		// only an unseen id needs writing.
		if ev.ProviderPaymentID != "" && order.PaymentID(ev.Gateway) != ev.ProviderPaymentID {
			if err := s.orders.SetPaymentID(ctx, order.ID, ev.Gateway, ev.ProviderPaymentID); err != nil {
				return err
			}
		}
		return s.orders.Transition(ctx, order.ID, model.StatusPaid, "webhook "+ev.Gateway)
	case EventRejected:
		err := s.orders.Transition(ctx, order.ID, model.StatusPaymentFailed, "webhook "+ev.Gateway)
		if errors.Is(err, ErrInvalidTransition) {
			// A rejection arriving after the order was paid elsewhere
			// must not regress it.
			slog.Info("rejection webhook ignored", "order", order.ID, "status", order.Status)
			return nil
		}
		return err
	default:
		slog.Info("webhook with non-terminal status ignored", "order", order.ID, "status", ev.Status)
		return nil
	}
}

// match implements the ordered matching rule: provider payment id first,
// then the external reference handed to the gateway at charge time.
func (s *ReconcileService) match(ctx context.Context, ev WebhookEvent) (*model.Order, error) {
	if ev.ProviderPaymentID != "" {
		order, err := s.orders.GetByProviderPayment(ctx, ev.Gateway, ev.ProviderPaymentID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, fmt.Errorf("match by payment id: %w", err)
		}
	}
	if ev.ExternalRef != "" {
		return s.orders.GetByExternalRef(ctx, ev.ExternalRef)
	}
	return nil, ErrOrderNotFound
}
