package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"orderflow/internal/cache"
	"orderflow/internal/model"
)

// transitions is the forward-only lifecycle graph. paid is also reachable
// straight from draft because a webhook can confirm a payment before the
// synchronous path has moved the order along.
var transitions = map[string][]string{
	model.StatusDraft:              {model.StatusProcessing, model.StatusPaid, model.StatusCancelled},
	model.StatusProcessing:         {model.StatusPaid, model.StatusPaymentFailed, model.StatusCancelled},
	model.StatusPaymentFailed:      {model.StatusProcessing, model.StatusCancelled},
	model.StatusPaid:               {model.StatusProvisioning},
	model.StatusProvisioning:       {model.StatusActive, model.StatusProvisioningFailed},
	model.StatusProvisioningFailed: {model.StatusProvisioning},
}

func transitionAllowed(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// reachedPaid reports whether the order has already been paid, whatever
// happened to it afterwards. Used to turn repeated "paid" claims into
// no-ops instead of errors.
func reachedPaid(status string) bool {
	switch status {
	case model.StatusPaid, model.StatusProvisioning, model.StatusProvisioningFailed, model.StatusActive:
		return true
	}
	return false
}

const orderColumns = `id, fingerprint, external_ref, amount, currency, email, customer_name, status, alfa_payment_id, beta_payment_id, created_at, updated_at`

type OrderService struct {
	db    *sql.DB
	cache cache.Cache
}

// NewOrderService builds the order state machine. The cache is an optional
// fast path for fingerprint lookups; pass nil to run without one.
func NewOrderService(db *sql.DB, c cache.Cache) *OrderService {
	return &OrderService{db: db, cache: c}
}

// OrderDraft is the buyer-supplied content of a new order.
type OrderDraft struct {
	Amount       float64
	Currency     string
	Email        string
	CustomerName string
}

// Admit resolves a fingerprint to exactly one order, creating it on first
// sight. Concurrent admits with the same fingerprint race on the unique
// constraint; the loser reads back the winner's row and reports isNew=false.
func (s *OrderService) Admit(ctx context.Context, fingerprint string, draft OrderDraft) (*model.Order, bool, error) {
	if s.cache != nil {
		if id, ok, err := s.cache.Get(ctx, "fp:"+fingerprint); err != nil {
			slog.Warn("idempotency cache read failed", "error", err)
		} else if ok {
			order, err := s.GetByID(ctx, id)
			if err == nil {
				return order, false, nil
			}
			if !errors.Is(err, ErrOrderNotFound) {
				return nil, false, err
			}
			// Stale cache entry, fall through to the database.
		}
	}

	externalRef := uuid.NewString()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO orders (fingerprint, external_ref, amount, currency, email, customer_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'draft')
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING `+orderColumns,
		fingerprint, externalRef, draft.Amount, draft.Currency, draft.Email, draft.CustomerName,
	)

	order, err := scanOrder(row)
	isNew := true
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race: another request owns this fingerprint.
		order, err = s.GetByFingerprint(ctx, fingerprint)
		if errors.Is(err, ErrOrderNotFound) {
			return nil, false, ErrStorageConflict
		}
		isNew = false
	}
	if err != nil {
		return nil, false, fmt.Errorf("admit order: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, "fp:"+fingerprint, order.ID, 0); err != nil {
			slog.Warn("idempotency cache write failed", "error", err)
		}
	}

	return order, isNew, nil
}

func (s *OrderService) GetByID(ctx context.Context, id string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (s *OrderService) GetByFingerprint(ctx context.Context, fingerprint string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE fingerprint = $1`, fingerprint)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order by fingerprint: %w", err)
	}
	return order, nil
}

func (s *OrderService) GetByExternalRef(ctx context.Context, externalRef string) (*model.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_ref = $1`, externalRef)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order by external ref: %w", err)
	}
	return order, nil
}

// GetByProviderPayment matches an order by the payment id a gateway
// assigned to it at charge time.
func (s *OrderService) GetByProviderPayment(ctx context.Context, gw, providerPaymentID string) (*model.Order, error) {
	var column string
	switch gw {
	case model.GatewayAlfa:
		column = "alfa_payment_id"
	case model.GatewayBeta:
		column = "beta_payment_id"
	default:
		return nil, fmt.Errorf("unknown gateway %q", gw)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, providerPaymentID)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order by provider payment: %w", err)
	}
	return order, nil
}

// SetPaymentID fills the provider payment id slot for a gateway. The slot
// is written once; a later value never overwrites it.
func (s *OrderService) SetPaymentID(ctx context.Context, orderID, gw, providerPaymentID string) error {
	var column string
	switch gw {
	case model.GatewayAlfa:
		column = "alfa_payment_id"
	case model.GatewayBeta:
		column = "beta_payment_id"
	default:
		return fmt.Errorf("unknown gateway %q", gw)
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE orders SET `+column+` = COALESCE(`+column+`, $2), updated_at = NOW() WHERE id = $1`,
		orderID, providerPaymentID,
	)
	if err != nil {
		return fmt.Errorf("set payment id: %w", err)
	}
	return nil
}

// ClaimCharge takes the exclusive right to dispatch gateway calls for an
// order. The conditioned update admits exactly one claimant; a claim left
// behind by a crashed handler is taken over once it is older than
// staleBefore.
func (s *OrderService) ClaimCharge(ctx context.Context, orderID string, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET charge_claimed_at = NOW() WHERE id = $1 AND (charge_claimed_at IS NULL OR charge_claimed_at < $2)`,
		orderID, staleBefore,
	)
	if err != nil {
		return false, fmt.Errorf("claim charge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim charge rows: %w", err)
	}
	return n == 1, nil
}

// ReleaseCharge hands the charge claim back once the cascade has run its
// course, so a later retry of an unsettled order is not stuck waiting for
// the claim to go stale.
func (s *OrderService) ReleaseCharge(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE orders SET charge_claimed_at = NULL WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("release charge: %w", err)
	}
	return nil
}

// Transition moves an order to target with a conditioned update. Losing a
// race against another transition to the same target is a no-op; anything
// else off the graph is ErrInvalidTransition.
func (s *OrderService) Transition(ctx context.Context, orderID, target, cause string) error {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if order.Status == target || (target == model.StatusPaid && reachedPaid(order.Status)) {
		slog.Info("transition is a no-op", "order", orderID, "target", target, "cause", cause)
		return nil
	}
	if !transitionAllowed(order.Status, target) {
		return fmt.Errorf("%w: %s -> %s (cause %s)", ErrInvalidTransition, order.Status, target, cause)
	}

	if target == model.StatusPaid {
		return s.markPaid(ctx, orderID, order.Status, cause)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		target, orderID, order.Status,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.resolveLostTransition(ctx, orderID, target, cause)
	}

	slog.Info("order transitioned", "order", orderID, "from", order.Status, "to", target, "cause", cause)
	return nil
}

// markPaid applies the paid transition and creates the provisioning queue
// item in the same transaction, so a confirmed payment can never exist
// without its fulfillment work.
func (s *OrderService) markPaid(ctx context.Context, orderID, current, cause string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		model.StatusPaid, orderID, current,
	)
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.resolveLostTransition(ctx, orderID, model.StatusPaid, cause)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO provisioning_queue (order_id, password) VALUES ($1, $2) ON CONFLICT (order_id) DO NOTHING`,
		orderID, uuid.NewString(),
	)
	if err != nil {
		return fmt.Errorf("enqueue provisioning: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	slog.Info("order paid", "order", orderID, "cause", cause)
	return nil
}

// resolveLostTransition decides what a failed conditioned update means:
// if someone else already applied the same target it is a no-op, otherwise
// the caller raced into an illegal move.
func (s *OrderService) resolveLostTransition(ctx context.Context, orderID, target, cause string) error {
	order, err := s.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == target || (target == model.StatusPaid && reachedPaid(order.Status)) {
		slog.Info("transition applied concurrently elsewhere", "order", orderID, "target", target, "cause", cause)
		return nil
	}
	return fmt.Errorf("%w: lost race, now %s, wanted %s (cause %s)", ErrInvalidTransition, order.Status, target, cause)
}

// RecordAttempt appends one payment attempt row. Attempts are immutable;
// there is no update path.
func (s *OrderService) RecordAttempt(ctx context.Context, a *model.PaymentAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (order_id, gateway, status, provider_payment_id, reason, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.OrderID, a.Gateway, a.Status, nullable(a.ProviderPaymentID), nullable(a.Reason), a.LatencyMS,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns an order's attempts, newest first. The order's
// current gateway is the gateway of the first element.
func (s *OrderService) ListAttempts(ctx context.Context, orderID string) ([]model.PaymentAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, gateway, status, provider_payment_id, reason, latency_ms, created_at
		FROM payment_attempts
		WHERE order_id = $1
		ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.PaymentAttempt
	for rows.Next() {
		var a model.PaymentAttempt
		var providerID, reason sql.NullString
		if err := rows.Scan(&a.ID, &a.OrderID, &a.Gateway, &a.Status, &providerID, &reason, &a.LatencyMS, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.ProviderPaymentID = providerID.String
		a.Reason = reason.String
		attempts = append(attempts, a)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return attempts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	var alfaID, betaID sql.NullString
	err := row.Scan(&o.ID, &o.Fingerprint, &o.ExternalRef, &o.Amount, &o.Currency, &o.Email, &o.CustomerName,
		&o.Status, &alfaID, &betaID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.AlfaPaymentID = alfaID.String
	o.BetaPaymentID = betaID.String
	return &o, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
