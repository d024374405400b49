package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"orderflow/internal/model"
	"orderflow/internal/service"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func LoginHandler(operatorSvc *service.OperatorService, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		op, err := operatorSvc.Authenticate(r.Context(), req.Login, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidCredentials):
				http.Error(w, "invalid login or password", http.StatusUnauthorized)
			default:
				slog.Error("operator login failed", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"operator_id": op.ID,
			"exp":         jwt.NewNumericDate(time.Now().Add(8 * time.Hour)),
		})

		tokenString, err := token.SignedString([]byte(secret))
		if err != nil {
			http.Error(w, "token generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Authorization", "Bearer "+tokenString)
		w.WriteHeader(http.StatusOK)
	}
}

type provisionRunResponse struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// RunProvisioningHandler forces an out-of-cycle queue pass, synchronously,
// so the operator sees the counts.
func RunProvisioningHandler(provisionSvc *service.ProvisioningService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		processed, failed, err := provisionSvc.ProcessQueue(r.Context())
		if err != nil {
			slog.Error("forced queue pass failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, provisionRunResponse{Processed: processed, Failed: failed})
	}
}

// RetryOrderHandler re-arms an order stuck in a retryable dead end:
// payment_failed goes back to processing (a resubmission with the same
// fingerprint will re-run the cascade), provisioning_failed resets the
// queue item's retry budget.
func RetryOrderHandler(orderSvc *service.OrderService, provisionSvc *service.ProvisioningService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		order, err := orderSvc.GetByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, service.ErrOrderNotFound) {
				http.Error(w, "order not found", http.StatusNotFound)
				return
			}
			slog.Error("get order failed", "order", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		switch order.Status {
		case model.StatusPaymentFailed:
			err = orderSvc.Transition(r.Context(), order.ID, model.StatusProcessing, "operator retry")
		case model.StatusProvisioningFailed:
			err = provisionSvc.ResetProvisioning(r.Context(), order.ID)
		default:
			http.Error(w, "order is not in a retryable state", http.StatusConflict)
			return
		}

		if errors.Is(err, service.ErrOrderNotFound) {
			http.Error(w, "nothing to retry for this order", http.StatusConflict)
			return
		}
		if err != nil {
			slog.Error("retry failed", "order", order.ID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

// OrderAttemptsHandler returns an order's gateway attempt history, newest
// first. The first element's gateway is the one currently responsible for
// the order's money.
func OrderAttemptsHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if _, err := orderSvc.GetByID(r.Context(), id); err != nil {
			if errors.Is(err, service.ErrOrderNotFound) {
				http.Error(w, "order not found", http.StatusNotFound)
				return
			}
			slog.Error("get order failed", "order", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		attempts, err := orderSvc.ListAttempts(r.Context(), id)
		if err != nil {
			slog.Error("list attempts failed", "order", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if len(attempts) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		writeJSON(w, http.StatusOK, attempts)
	}
}

// CancelOrderHandler terminates an order that has not been paid. Paid
// orders cannot be cancelled here; money moved, that is a refund flow.
func CancelOrderHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := orderSvc.Transition(r.Context(), id, model.StatusCancelled, "operator cancel")
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, service.ErrOrderNotFound):
			http.Error(w, "order not found", http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidTransition):
			http.Error(w, "order cannot be cancelled", http.StatusConflict)
		default:
			slog.Error("cancel failed", "order", id, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
