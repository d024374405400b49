package worker

import (
	"context"
	"log/slog"
	"time"

	"orderflow/internal/service"
)

// ProvisionWorker runs the provisioning queue on a timer. Out-of-cycle
// passes go through the operator endpoint, which calls the service
// directly.
type ProvisionWorker struct {
	svc      *service.ProvisioningService
	interval time.Duration
}

func NewProvisionWorker(svc *service.ProvisioningService, interval time.Duration) *ProvisionWorker {
	return &ProvisionWorker{
		svc:      svc,
		interval: interval,
	}
}

func (w *ProvisionWorker) Start(ctx context.Context) {
	slog.Info("starting provisioning worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("provisioning worker stopped")
			return
		case <-ticker.C:
		}

		processed, failed, err := w.svc.ProcessQueue(ctx)
		if err != nil {
			slog.Error("queue pass failed", "error", err)
			continue
		}
		if processed > 0 || failed > 0 {
			slog.Info("queue pass done", "processed", processed, "failed", failed)
		}
	}
}
