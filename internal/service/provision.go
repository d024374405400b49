package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orderflow/internal/model"
)

// AccountCreator creates the product account for a buyer. Expected
// idempotent on email: a second call for the same address returns the
// existing account.
type AccountCreator interface {
	CreateAccount(ctx context.Context, email, name, password string) (string, error)
}

// CredentialSender delivers the account credentials to the buyer.
type CredentialSender interface {
	SendCredentials(ctx context.Context, email, name, password, orderRef string) (string, error)
}

// ProvisioningService drives paid orders through fulfillment, one stage at
// a time. A failed stage stays pinned so the retry resumes there instead
// of redoing completed work.
type ProvisioningService struct {
	db         *sql.DB
	orders     *OrderService
	accounts   AccountCreator
	mailer     CredentialSender
	maxRetries int
	claimTTL   time.Duration
}

func NewProvisioningService(db *sql.DB, orders *OrderService, accounts AccountCreator, mailer CredentialSender, maxRetries int) *ProvisioningService {
	return &ProvisioningService{
		db:         db,
		orders:     orders,
		accounts:   accounts,
		mailer:     mailer,
		maxRetries: maxRetries,
		claimTTL:   5 * time.Minute,
	}
}

// ProcessQueue runs one pass over every eligible queue item. Stale
// processing claims (a worker died mid-item) are re-eligible after the
// claim TTL.
func (s *ProvisioningService) ProcessQueue(ctx context.Context) (processed, failed int, err error) {
	items, err := s.eligible(ctx)
	if err != nil {
		return 0, 0, err
	}

	for i := range items {
		item := &items[i]
		claimed, err := s.claim(ctx, item.ID)
		if err != nil {
			slog.Error("claim failed", "item", item.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		if err := s.processItem(ctx, item); err != nil {
			failed++
			slog.Error("provisioning item failed", "item", item.ID, "order", item.OrderID, "stage", item.Stage, "error", err)
		} else {
			processed++
		}
	}

	return processed, failed, nil
}

func (s *ProvisioningService) eligible(ctx context.Context) ([]model.ProvisioningQueueItem, error) {
	staleBefore := time.Now().Add(-s.claimTTL)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, status, stage, retry_count, password, last_error, created_at, updated_at
		FROM provisioning_queue
		WHERE retry_count < $1
		  AND (status IN ('pending', 'failed') OR (status = 'processing' AND updated_at < $2))
		ORDER BY created_at ASC`,
		s.maxRetries, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var items []model.ProvisioningQueueItem
	for rows.Next() {
		var item model.ProvisioningQueueItem
		var lastErr sql.NullString
		if err := rows.Scan(&item.ID, &item.OrderID, &item.Status, &item.Stage, &item.RetryCount,
			&item.Password, &lastErr, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		item.LastError = lastErr.String
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return items, nil
}

// claim takes exclusive ownership of an item with a conditioned update.
// Exactly one concurrent worker wins; losers skip the item.
func (s *ProvisioningService) claim(ctx context.Context, itemID string) (bool, error) {
	staleBefore := time.Now().Add(-s.claimTTL)
	res, err := s.db.ExecContext(ctx, `
		UPDATE provisioning_queue SET status = 'processing', updated_at = NOW()
		WHERE id = $1
		  AND (status IN ('pending', 'failed') OR (status = 'processing' AND updated_at < $2))`,
		itemID, staleBefore)
	if err != nil {
		return false, fmt.Errorf("claim item: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// processItem resumes the item at its pinned stage and runs stages in
// order until done or a stage fails.
func (s *ProvisioningService) processItem(ctx context.Context, item *model.ProvisioningQueueItem) error {
	order, err := s.orders.GetByID(ctx, item.OrderID)
	if err != nil {
		return s.fail(ctx, item, err)
	}

	if order.Status == model.StatusPaid || order.Status == model.StatusProvisioningFailed {
		if err := s.orders.Transition(ctx, order.ID, model.StatusProvisioning, "worker"); err != nil {
			return s.fail(ctx, item, err)
		}
	}

	for {
		switch item.Stage {
		case model.StageCreatingUser:
			if _, err := s.accounts.CreateAccount(ctx, order.Email, order.CustomerName, item.Password); err != nil {
				return s.fail(ctx, item, fmt.Errorf("create account: %w", err))
			}
			if err := s.advance(ctx, item, model.StageSendingCredentials); err != nil {
				return err
			}
		case model.StageSendingCredentials:
			if _, err := s.mailer.SendCredentials(ctx, order.Email, order.CustomerName, item.Password, order.ID); err != nil {
				return s.fail(ctx, item, fmt.Errorf("send credentials: %w", err))
			}
			if err := s.complete(ctx, item); err != nil {
				return err
			}
			return s.orders.Transition(ctx, order.ID, model.StatusActive, "provisioned")
		default:
			return s.fail(ctx, item, fmt.Errorf("unknown stage %q", item.Stage))
		}
	}
}

// advance moves to the next stage and resets the retry budget for it.
func (s *ProvisioningService) advance(ctx context.Context, item *model.ProvisioningQueueItem, next string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE provisioning_queue SET stage = $1, retry_count = 0, last_error = NULL, updated_at = NOW() WHERE id = $2`,
		next, item.ID)
	if err != nil {
		return fmt.Errorf("advance stage: %w", err)
	}
	item.Stage = next
	item.RetryCount = 0
	return nil
}

// complete finishes the item. The generated credential has been delivered,
// so it is scrubbed from the row.
func (s *ProvisioningService) complete(ctx context.Context, item *model.ProvisioningQueueItem) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE provisioning_queue SET status = 'completed', password = '', last_error = NULL, updated_at = NOW() WHERE id = $1`,
		item.ID)
	if err != nil {
		return fmt.Errorf("complete item: %w", err)
	}
	item.Status = model.QueueCompleted
	slog.Info("provisioning completed", "order", item.OrderID)
	return nil
}

// fail records the stage failure without moving the stage pointer. Once
// the retry budget is exhausted the order is flagged for operator
// follow-up; the buyer keeps seeing "paid" (they were charged).
func (s *ProvisioningService) fail(ctx context.Context, item *model.ProvisioningQueueItem, cause error) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE provisioning_queue SET status = 'failed', retry_count = retry_count + 1, last_error = $1, updated_at = NOW() WHERE id = $2`,
		cause.Error(), item.ID)
	if err != nil {
		return fmt.Errorf("mark item failed: %w", err)
	}
	item.RetryCount++
	item.Status = model.QueueFailed

	if item.RetryCount >= s.maxRetries {
		if err := s.orders.Transition(ctx, item.OrderID, model.StatusProvisioningFailed, "retries exhausted"); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return err
		}
		slog.Error("provisioning retries exhausted, operator attention required", "order", item.OrderID, "stage", item.Stage)
	}

	return cause
}

// ResetProvisioning re-arms a permanently failed item after an operator
// fixed the underlying problem.
func (s *ProvisioningService) ResetProvisioning(ctx context.Context, orderID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE provisioning_queue SET status = 'pending', retry_count = 0, last_error = NULL, updated_at = NOW()
		 WHERE order_id = $1 AND status = 'failed'`,
		orderID)
	if err != nil {
		return fmt.Errorf("reset provisioning: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOrderNotFound
	}

	err = s.orders.Transition(ctx, orderID, model.StatusProvisioning, "operator retry")
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		return err
	}
	return nil
}
