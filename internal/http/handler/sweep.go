package handler

import (
	"net/http"

	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/workflow"

	"go.uber.org/zap"
)

type SweepHandler struct {
	sweeper *workflow.Sweeper
}

func NewSweepHandler(sweeper *workflow.Sweeper) *SweepHandler {
	return &SweepHandler{sweeper: sweeper}
}

// Sweep handles POST /internal/sweep (S2S only)
//
// Runs one expiration pass immediately, on top of the periodic background
// sweeper. Used by schedulers and by operators after clock-sensitive
// incidents.
func (h *SweepHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	expired, err := h.sweeper.SweepOnce(ctx)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "expiration sweep completed", zap.Int("expired", expired))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"expired": expired,
	})
}
