package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"orderflow/internal/service"
)

type orderStatusResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// OrderStatusHandler exposes the buyer-facing order status. Provisioning
// trouble is invisible here: a charged customer sees "paid", never a
// failure they did not cause.
func OrderStatusHandler(orderSvc *service.OrderService) http.HandlerFunc {
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

		writeJSON(w, http.StatusOK, orderStatusResponse{OrderID: order.ID, Status: order.PublicStatus()})
	}
}
