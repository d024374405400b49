package service

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"orderflow/internal/model"
)

func orderRowWithPayment(id, status, alfaID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(orderCols).
		AddRow(id, "fp-"+id, "ref-"+id, 49.90, "USD", "buyer@example.com", "Buyer", status, alfaID, nil, now, now)
}

func TestApply_ApprovedByExternalRefMarksPaid(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewReconcileService(NewOrderService(db, nil))

	// No payment-id match yet (the charge call timed out before the id
	// came back), so the external reference resolves the order.
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE alfa_payment_id").
		WillReturnRows(sqlmock.NewRows(orderCols))
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE external_ref").
		WithArgs("ref-o1").
		WillReturnRows(orderRow("o1", model.StatusProcessing))
	mock.ExpectExec("UPDATE orders SET alfa_payment_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectMarkPaid(mock, "o1", model.StatusProcessing)

	err := svc.Apply(context.Background(), WebhookEvent{
		Gateway:           model.GatewayAlfa,
		ProviderPaymentID: "alfa-7",
		ExternalRef:       "ref-o1",
		Status:            EventApproved,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestApply_DuplicateDeliveryIsNoOp(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewReconcileService(NewOrderService(db, nil))

	// Second delivery: the payment id already matches and the order has
	// moved on. The id slot is not rewritten, no status update happens.
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE alfa_payment_id").
		WithArgs("alfa-7").
		WillReturnRows(orderRowWithPayment("o1", model.StatusProvisioning, "alfa-7"))
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id").
		WillReturnRows(orderRowWithPayment("o1", model.StatusProvisioning, "alfa-7"))

	err := svc.Apply(context.Background(), WebhookEvent{
		Gateway:           model.GatewayAlfa,
		ProviderPaymentID: "alfa-7",
		Status:            EventApproved,
	})
	if err != nil {
		t.Fatalf("replayed delivery must be harmless: %v", err)
	}
}

func TestApply_GhostEventMutatesNothing(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewReconcileService(NewOrderService(db, nil))

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE beta_payment_id").
		WillReturnRows(sqlmock.NewRows(orderCols))
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE external_ref").
		WillReturnRows(sqlmock.NewRows(orderCols))

	err := svc.Apply(context.Background(), WebhookEvent{
		Gateway:           model.GatewayBeta,
		ProviderPaymentID: "beta-ghost",
		ExternalRef:       "ref-unknown",
		Status:            EventApproved,
	})
	if err != nil {
		t.Fatalf("ghost event must be acknowledged without error: %v", err)
	}
}

func TestApply_RejectionAfterPaidDoesNotRegress(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewReconcileService(NewOrderService(db, nil))

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE alfa_payment_id").
		WillReturnRows(orderRowWithPayment("o1", model.StatusPaid, "alfa-7"))
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id").
		WillReturnRows(orderRowWithPayment("o1", model.StatusPaid, "alfa-7"))

	err := svc.Apply(context.Background(), WebhookEvent{
		Gateway:           model.GatewayAlfa,
		ProviderPaymentID: "alfa-7",
		Status:            EventRejected,
	})
	if err != nil {
		t.Fatalf("late rejection must be swallowed: %v", err)
	}
}

func TestApply_PendingStatusIsIgnored(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewReconcileService(NewOrderService(db, nil))

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE alfa_payment_id").
		WillReturnRows(orderRowWithPayment("o1", model.StatusProcessing, "alfa-7"))

	err := svc.Apply(context.Background(), WebhookEvent{
		Gateway:           model.GatewayAlfa,
		ProviderPaymentID: "alfa-7",
		Status:            EventPending,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
}
