package handler

import (
	"encoding/json"
	"net/http"

	"gatehouse-api/internal/auth"
	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/http/httperr"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/permission"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PermissionHandler struct {
	service *permission.Service
}

func NewPermissionHandler(service *permission.Service) *PermissionHandler {
	return &PermissionHandler{service: service}
}

// CheckPermission handles POST /v1/orgs/{orgId}/permissions/check
//
// A denial is a normal 200 response with allowed=false; the caller asked a
// question and got an answer. Only resolution or audit failures are errors.
func (h *PermissionHandler) CheckPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	var req domain.CheckPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidFormat, "invalid JSON body")
		return
	}
	if req.Action == "" || req.Category == "" {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeMissingParameter, "action and category are required")
		return
	}

	decision, err := h.service.CheckPermission(ctx, orgID, claims.ActorID, req)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "permission checked",
		zap.String("action", string(req.Action)),
		zap.String("category", string(req.Category)),
		zap.Bool("allowed", decision.Allowed),
	)

	writeJSON(w, http.StatusOK, decision)
}

// GrantScope handles POST /v1/orgs/{orgId}/scopes
func (h *PermissionHandler) GrantScope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	var req domain.GrantScopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidFormat, "invalid JSON body")
		return
	}
	if req.ActorID == "" || req.ContainerID == "" {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeMissingParameter, "actorId and containerId are required")
		return
	}
	if !req.ContainerKind.IsValid() {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidKind, "containerKind must be one of: organization, property, unit")
		return
	}
	if err := req.Validate(); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, err.Error())
		return
	}

	scope, err := h.service.GrantScope(ctx, orgID, claims.ActorID, req)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "scope granted",
		zap.String("scopeId", scope.ID),
		zap.String("actorId", scope.ActorID),
		zap.String("containerId", scope.ContainerID),
	)

	writeJSON(w, http.StatusCreated, scope)
}

// RevokeScope handles DELETE /v1/orgs/{orgId}/scopes/{scopeId}
func (h *PermissionHandler) RevokeScope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")
	scopeID := chi.URLParam(r, "scopeId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	if err := h.service.RevokeScope(ctx, orgID, claims.ActorID, scopeID); err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "scope revoked", zap.String("scopeId", scopeID))

	w.WriteHeader(http.StatusNoContent)
}

type seedMatrixRequest struct {
	Path string `json:"path,omitempty"`
}

// SeedMatrix handles POST /v1/admin/matrix
//
// Re-seeds the permission matrix from the embedded defaults, or from a file
// on the server when a path is given. Platform administrators only; the
// service enforces that through the resolver.
func (h *PermissionHandler) SeedMatrix(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	var req seedMatrixRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidFormat, "invalid JSON body")
			return
		}
	}

	version, err := h.service.SeedMatrix(ctx, claims.OrgID, claims.ActorID, req.Path)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "permission matrix re-seeded", zap.Int("version", version))

	writeJSON(w, http.StatusOK, map[string]interface{}{"version": version})
}
