package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"orderflow/internal/gateway"
	"orderflow/internal/model"
	"orderflow/internal/service"
)

type checkoutRequest struct {
	Email     string  `json:"email"`
	Name      string  `json:"name"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	CardToken string  `json:"card_token"`
	Nonce     string  `json:"nonce"`
}

type checkoutResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// fingerprint derives the idempotency key from the request content. The
// same cart, buyer and nonce always hash to the same value, so a double
// click or a client retry after timeout lands on the same order.
func fingerprint(req checkoutRequest) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%.2f|%s|%s",
		strings.ToLower(strings.TrimSpace(req.Email)), req.Amount, req.Currency, req.Nonce)))
	return hex.EncodeToString(h[:])
}

func CheckoutHandler(orderSvc *service.OrderService, cascadeSvc *service.CascadeService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		if err := validateCheckout(req); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		order, isNew, err := orderSvc.Admit(r.Context(), fingerprint(req), service.OrderDraft{
			Amount:       req.Amount,
			Currency:     strings.ToUpper(req.Currency),
			Email:        req.Email,
			CustomerName: req.Name,
		})
		if err != nil {
			slog.Error("admit failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !isNew {
			slog.Info("duplicate checkout resolved to existing order", "order", order.ID, "status", order.Status)
		}

		// An order that already settled answers from state alone; the
		// retried submission must not charge again.
		if order.Status == model.StatusActive || order.PublicStatus() == model.StatusPaid {
			writeJSON(w, http.StatusOK, checkoutResponse{OrderID: order.ID, Status: order.PublicStatus()})
			return
		}
		if order.Status == model.StatusCancelled {
			writeJSON(w, http.StatusConflict, checkoutResponse{OrderID: order.ID, Status: order.Status, Message: "order was cancelled"})
			return
		}

		out, err := cascadeSvc.Charge(r.Context(), order, service.CardInstrument{Token: req.CardToken})
		if errors.Is(err, service.ErrDuplicateRequest) {
			// Another submission of the same intent is mid-charge. Answer
			// like a transient outage: the buyer retries and reads the
			// settled state, without a second charge going out.
			writeJSON(w, http.StatusServiceUnavailable, checkoutResponse{
				OrderID: order.ID,
				Status:  model.StatusProcessing,
				Message: "payment is already in progress, please retry shortly",
			})
			return
		}
		if err != nil {
			slog.Error("charge failed", "order", order.ID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		switch out.Kind {
		case gateway.Approved:
			writeJSON(w, http.StatusCreated, checkoutResponse{OrderID: order.ID, Status: model.StatusPaid})
		case gateway.Declined:
			writeJSON(w, http.StatusPaymentRequired, checkoutResponse{
				OrderID: order.ID,
				Status:  model.StatusPaymentFailed,
				Reason:  out.Reason,
			})
		default:
			// Cascade exhausted. The order stays in processing; the same
			// nonce retries it without creating a duplicate.
			writeJSON(w, http.StatusServiceUnavailable, checkoutResponse{
				OrderID: order.ID,
				Status:  model.StatusProcessing,
				Message: "payment is temporarily unavailable, please retry",
			})
		}
	}
}

func validateCheckout(req checkoutRequest) error {
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("invalid email")
	}
	if req.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if len(req.Currency) != 3 {
		return fmt.Errorf("invalid currency")
	}
	if req.CardToken == "" {
		return fmt.Errorf("card_token required")
	}
	if req.Nonce == "" {
		return fmt.Errorf("nonce required")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}
