package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"

	"orderflow/internal/cache"
	"orderflow/internal/model"
)

var orderCols = []string{"id", "fingerprint", "external_ref", "amount", "currency", "email", "customer_name", "status", "alfa_payment_id", "beta_payment_id", "created_at", "updated_at"}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})

	return db, mock
}

func orderRow(id, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(orderCols).
		AddRow(id, "fp-"+id, "ref-"+id, 49.90, "USD", "buyer@example.com", "Buyer", status, nil, nil, now, now)
}

func TestAdmit_CreatesNewOrder(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewOrderService(db, nil)

	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(orderRow("o1", model.StatusDraft))

	order, isNew, err := svc.Admit(context.Background(), "fp-o1", OrderDraft{Amount: 49.90, Currency: "USD", Email: "buyer@example.com", CustomerName: "Buyer"})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if !isNew {
		t.Fatal("expected isNew")
	}
	if order.ID != "o1" || order.Status != model.StatusDraft {
		t.Fatalf("order = %+v", order)
	}
}

func TestAdmit_DuplicateFingerprintResolvesToExistingOrder(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewOrderService(db, nil)

	// The conflicting insert returns nothing; the existing row is read back.
	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows(orderCols))
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE fingerprint").
		WithArgs("fp-o1").
		WillReturnRows(orderRow("o1", model.StatusProcessing))

	order, isNew, err := svc.Admit(context.Background(), "fp-o1", OrderDraft{Amount: 49.90, Currency: "USD"})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if isNew {
		t.Fatal("expected isNew=false")
	}
	if order.ID != "o1" {
		t.Fatalf("order id = %q, want the winner's order", order.ID)
	}
}

func TestAdmit_CacheFastPathSkipsInsert(t *testing.T) {
	db, mock := newMockDB(t)

	srv := miniredis.RunT(t)
	fpCache, err := cache.NewRedisCache(srv.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(func() { _ = fpCache.Close() })

	svc := NewOrderService(db, fpCache)

	if err := fpCache.Set(context.Background(), "fp:fp-o1", "o1", 0); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	// Only the by-id read runs; no insert attempt.
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id").
		WithArgs("o1").
		WillReturnRows(orderRow("o1", model.StatusProcessing))

	order, isNew, err := svc.Admit(context.Background(), "fp-o1", OrderDraft{})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if isNew || order.ID != "o1" {
		t.Fatalf("order=%+v isNew=%v", order, isNew)
	}
}

func TestAdmit_StorageConflictWhenWinnerRowUnreadable(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewOrderService(db, nil)

	mock.ExpectQuery("INSERT INTO orders").
		WillReturnRows(sqlmock.NewRows(orderCols))
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE fingerprint").
		WillReturnRows(sqlmock.NewRows(orderCols))

	_, _, err := svc.Admit(context.Background(), "fp-o1", OrderDraft{})
	if !errors.Is(err, ErrStorageConflict) {
		t.Fatalf("err = %v, want ErrStorageConflict", err)
	}
}

func TestTransition_PaidCreatesQueueItemAtomically(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewOrderService(db, nil)

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id").
		WithArgs("o1").
		WillReturnRows(orderRow("o1", model.StatusProcessing))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs(model.StatusPaid, "o1", model.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO provisioning_queue").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := svc.Transition(context.Background(), "o1", model.StatusPaid, "test"); err != nil {
		t.Fatalf("transition: %v", err)
	}
}

func TestTransition_SameTargetTwiceIsNoOp(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewOrderService(db, nil)

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id").
		WillReturnRows(orderRow("o1", model.StatusPaid))

	if err := svc.Transition(context.Background(), "o1", model.StatusPaid, "replay"); err != nil {
		t.Fatalf("second transition should be a no-op, got %v", err)
	}
}

func TestTransition_PaidAfterProvisioningStartedIsNoOp(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewOrderService(db, nil)

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id").
		WillReturnRows(orderRow("o1", model.StatusProvisioning))

	if err := svc.Transition(context.Background(), "o1", model.StatusPaid, "late webhook"); err != nil {
		t.Fatalf("late paid claim should be a no-op, got %v", err)
	}
}

func TestTransition_OffGraphIsRejected(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewOrderService(db, nil)

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id").
		WillReturnRows(orderRow("o1", model.StatusDraft))

	err := svc.Transition(context.Background(), "o1", model.StatusActive, "bug")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestTransition_LostRaceToSameTargetIsNoOp(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewOrderService(db, nil)

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id").
		WillReturnRows(orderRow("o1", model.StatusProcessing))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// Re-read shows the concurrent winner already applied paid; the tx
	// rolls back on the way out.
	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id").
		WillReturnRows(orderRow("o1", model.StatusPaid))
	mock.ExpectRollback()

	if err := svc.Transition(context.Background(), "o1", model.StatusPaid, "race"); err != nil {
		t.Fatalf("lost race to same target should be a no-op, got %v", err)
	}
}
