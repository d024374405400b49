package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func chargeReq() ChargeRequest {
	return ChargeRequest{
		ExternalRef: "ref-123",
		Amount:      49.90,
		Currency:    "USD",
		CardToken:   "tok_abc",
		Email:       "buyer@example.com",
	}
}

func TestAlfaCharge_Approved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"alfa-1","status":"approved"}`))
	}))
	defer srv.Close()

	out := NewAlfaClient(srv.URL, time.Second).Charge(context.Background(), chargeReq())
	if out.Kind != Approved {
		t.Fatalf("kind = %s, want approved", out.Kind)
	}
	if out.ProviderPaymentID != "alfa-1" {
		t.Fatalf("payment id = %q", out.ProviderPaymentID)
	}
}

func TestAlfaCharge_Declined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"id":"alfa-2","status":"rejected","status_detail":"insufficient_funds"}`))
	}))
	defer srv.Close()

	out := NewAlfaClient(srv.URL, time.Second).Charge(context.Background(), chargeReq())
	if out.Kind != Declined {
		t.Fatalf("kind = %s, want declined", out.Kind)
	}
	if out.Reason != "insufficient_funds" {
		t.Fatalf("reason = %q", out.Reason)
	}
}

func TestAlfaCharge_OutageIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	out := NewAlfaClient(srv.URL, time.Second).Charge(context.Background(), chargeReq())
	if out.Kind != Retryable {
		t.Fatalf("kind = %s, want retryable", out.Kind)
	}
}

func TestAlfaCharge_TimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	out := NewAlfaClient(srv.URL, 10*time.Millisecond).Charge(context.Background(), chargeReq())
	if out.Kind != Retryable {
		t.Fatalf("kind = %s, want retryable", out.Kind)
	}
}

func TestAlfaLookup_Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("external_reference"); got != "ref-123" {
			t.Errorf("external_reference = %q", got)
		}
		_, _ = w.Write([]byte(`{"results":[{"id":"alfa-9","status":"approved"}]}`))
	}))
	defer srv.Close()

	out, found, err := NewAlfaClient(srv.URL, time.Second).LookupPayment(context.Background(), "ref-123")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !found || out.Kind != Approved || out.ProviderPaymentID != "alfa-9" {
		t.Fatalf("found=%v out=%+v", found, out)
	}
}

func TestAlfaLookup_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	_, found, err := NewAlfaClient(srv.URL, time.Second).LookupPayment(context.Background(), "ref-404")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if found {
		t.Fatal("expected not found")
	}
}

func TestBetaCharge_Approved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/charges" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"payment_id":"beta-1","state":"success"}`))
	}))
	defer srv.Close()

	out := NewBetaClient(srv.URL, time.Second).Charge(context.Background(), chargeReq())
	if out.Kind != Approved || out.ProviderPaymentID != "beta-1" {
		t.Fatalf("out = %+v", out)
	}
}

func TestBetaCharge_Declined(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"payment_id":"beta-2","state":"declined","message":"card expired"}`))
	}))
	defer srv.Close()

	out := NewBetaClient(srv.URL, time.Second).Charge(context.Background(), chargeReq())
	if out.Kind != Declined || out.Reason != "card expired" {
		t.Fatalf("out = %+v", out)
	}
}

func TestBetaCharge_UnknownState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"payment_id":"beta-3","state":"manual_review"}`))
	}))
	defer srv.Close()

	out := NewBetaClient(srv.URL, time.Second).Charge(context.Background(), chargeReq())
	if out.Kind != Unknown {
		t.Fatalf("kind = %s, want unknown", out.Kind)
	}
}
