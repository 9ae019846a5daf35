package handler

import (
	"encoding/json"
	"net/http"

	"gatehouse-api/internal/auth"
	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/http/httperr"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ActorHandler struct {
	service *service.ActorService
}

func NewActorHandler(service *service.ActorService) *ActorHandler {
	return &ActorHandler{service: service}
}

// GetActor handles GET /v1/orgs/{orgId}/actors/{actorId}
func (h *ActorHandler) GetActor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	actorID := chi.URLParam(r, "actorId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	actor, err := h.service.Get(ctx, claims.ActorID, actorID)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	writeJSON(w, http.StatusOK, actor)
}

// RegrantRole handles PUT /v1/orgs/{orgId}/actors/{actorId}/role
func (h *ActorHandler) RegrantRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")
	actorID := chi.URLParam(r, "actorId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	var req domain.RegrantRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidFormat, "invalid JSON body")
		return
	}
	if !req.Role.IsValid() {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidRole, "role is not a known role")
		return
	}
	if err := req.Validate(); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, err.Error())
		return
	}

	actor, err := h.service.RegrantRole(ctx, orgID, claims.ActorID, actorID, req.Role)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "actor role re-granted",
		zap.String("actorId", actorID),
		zap.String("role", string(actor.Role)),
	)

	writeJSON(w, http.StatusOK, actor)
}

// SetStatus handles PUT /v1/orgs/{orgId}/actors/{actorId}/status
func (h *ActorHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")
	actorID := chi.URLParam(r, "actorId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	var req domain.SetActorStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidFormat, "invalid JSON body")
		return
	}
	if !req.Status.IsValid() {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidStatus, "status must be active or disabled")
		return
	}
	if err := req.Validate(); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, err.Error())
		return
	}

	actor, err := h.service.SetStatus(ctx, orgID, claims.ActorID, actorID, req.Status)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "actor status changed",
		zap.String("actorId", actorID),
		zap.String("status", string(actor.Status)),
	)

	writeJSON(w, http.StatusOK, actor)
}
