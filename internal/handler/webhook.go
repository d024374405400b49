package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"orderflow/internal/model"
	"orderflow/internal/service"
)

// Webhook handlers always acknowledge with 200. Returning a retryable
// status to a provider only buys a redelivery storm; internal failures are
// logged and handled by operators, not by the provider retrying.

type alfaWebhookPayload struct {
	Action string `json:"action"`
	Data   struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		ExternalReference string `json:"external_reference"`
	} `json:"data"`
}

func AlfaWebhookHandler(reconciler *service.ReconcileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer w.WriteHeader(http.StatusOK)

		var payload alfaWebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			slog.Warn("alfa webhook with undecodable body", "error", err)
			return
		}

		ev := service.WebhookEvent{
			Gateway:           model.GatewayAlfa,
			ProviderPaymentID: payload.Data.ID,
			ExternalRef:       payload.Data.ExternalReference,
			Status:            normalizeAlfaStatus(payload.Data.Status),
		}

		if err := reconciler.Apply(r.Context(), ev); err != nil {
			slog.Error("alfa webhook processing failed", "payment", ev.ProviderPaymentID, "error", err)
		}
	}
}

func normalizeAlfaStatus(status string) string {
	switch status {
	case "approved":
		return service.EventApproved
	case "rejected", "cancelled":
		return service.EventRejected
	case "in_process", "pending":
		return service.EventPending
	default:
		return service.EventUnknown
	}
}

type betaWebhookPayload struct {
	Type      string `json:"type"`
	ObjectID  string `json:"object_id"`
	Reference string `json:"reference"`
	State     string `json:"state"`
}

func BetaWebhookHandler(reconciler *service.ReconcileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer w.WriteHeader(http.StatusOK)

		var payload betaWebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			slog.Warn("beta webhook with undecodable body", "error", err)
			return
		}

		ev := service.WebhookEvent{
			Gateway:           model.GatewayBeta,
			ProviderPaymentID: payload.ObjectID,
			ExternalRef:       payload.Reference,
			Status:            normalizeBetaStatus(payload.State),
		}

		if err := reconciler.Apply(r.Context(), ev); err != nil {
			slog.Error("beta webhook processing failed", "payment", ev.ProviderPaymentID, "error", err)
		}
	}
}

func normalizeBetaStatus(state string) string {
	switch state {
	case "success":
		return service.EventApproved
	case "declined", "voided":
		return service.EventRejected
	case "pending":
		return service.EventPending
	default:
		return service.EventUnknown
	}
}
