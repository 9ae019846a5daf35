package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"gatehouse-api/internal/auth"
	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/http/httperr"
	"gatehouse-api/internal/invitation"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/permission"
	"gatehouse-api/internal/service"
	"gatehouse-api/internal/workflow"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ContainerHandler struct {
	service *service.ContainerService
}

func NewContainerHandler(service *service.ContainerService) *ContainerHandler {
	return &ContainerHandler{service: service}
}

// CreateContainer handles POST /v1/orgs/{orgId}/containers
func (h *ContainerHandler) CreateContainer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	var req domain.CreateContainerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidFormat, "invalid JSON body")
		return
	}

	if !req.Kind.IsValid() {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidKind, "kind must be one of: organization, property, unit")
		return
	}
	if req.Name == "" {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeMissingParameter, "name is required")
		return
	}
	if err := req.Validate(); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, err.Error())
		return
	}

	container, err := h.service.Create(ctx, orgID, claims.ActorID, &req)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "container created",
		zap.String("containerId", container.ID),
		zap.String("kind", string(container.Kind)),
	)

	writeJSON(w, http.StatusCreated, container)
}

// GetContainer handles GET /v1/orgs/{orgId}/containers/{containerId}
func (h *ContainerHandler) GetContainer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	containerID := chi.URLParam(r, "containerId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	container, err := h.service.Get(ctx, claims.ActorID, containerID)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	writeJSON(w, http.StatusOK, container)
}

// ListChildren handles GET /v1/orgs/{orgId}/containers/{containerId}/children
func (h *ContainerHandler) ListChildren(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	containerID := chi.URLParam(r, "containerId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	children, err := h.service.ListChildren(ctx, claims.ActorID, containerID)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"data": children})
}

// RequestEdit handles POST /v1/orgs/{orgId}/containers/{containerId}/edit
//
// Organizations rename immediately (200 with the updated container).
// Properties and units rename immediately too, but under oversight: the
// response is 202 with the renamed container and the pending approval
// request that will revert the change unless a decider approves it.
func (h *ContainerHandler) RequestEdit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")
	containerID := chi.URLParam(r, "containerId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	var req domain.RenameContainerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidFormat, "invalid JSON body")
		return
	}
	if req.Name == "" {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeMissingParameter, "name is required")
		return
	}
	if err := req.Validate(); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, err.Error())
		return
	}

	container, request, err := h.service.RequestEdit(ctx, orgID, claims.ActorID, containerID, req.Name)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	if request == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"container": container})
		return
	}

	log.Info(ctx, "edit workflow opened",
		zap.String("containerId", containerID),
		zap.String("requestId", request.ID),
	)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"container":       container,
		"approvalRequest": request,
	})
}

// DeleteContainer handles DELETE /v1/orgs/{orgId}/containers/{containerId}
func (h *ContainerHandler) DeleteContainer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")
	containerID := chi.URLParam(r, "containerId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	if err := h.service.Delete(ctx, orgID, claims.ActorID, containerID); err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "container deleted", zap.String("containerId", containerID))

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// handleServiceError maps the service-layer error taxonomy to response codes.
// Shared by every handler in this package.
func handleServiceError(w http.ResponseWriter, ctx context.Context, log *logger.Logger, err error) {
	var denied *permission.DeniedError

	switch {
	case errors.As(err, &denied):
		log.Warn(ctx, "permission denied", zap.String("reason", denied.Decision.Reason))
		switch denied.Decision.Reason {
		case domain.ReasonOutOfScope:
			httperr.Forbidden403(w, ctx, httperr.ErrCodeOutOfScope, "no scope covers the target")
		case domain.ReasonInvalidScope:
			httperr.Forbidden403(w, ctx, httperr.ErrCodeInvalidScope, "target reference does not resolve")
		default:
			httperr.Forbidden403(w, ctx, httperr.ErrCodeRoleDenied, "role does not permit this action")
		}

	case errors.Is(err, workflow.ErrDeciderNotAuthorized):
		log.Warn(ctx, "decider not authorized", zap.Error(err))
		httperr.Forbidden403(w, ctx, httperr.ErrCodeDeciderNotAuthorized, "not authorized to decide this request")
	case errors.Is(err, workflow.ErrUnknownWorkflow):
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidKind, "unknown workflow kind")
	case errors.Is(err, workflow.ErrNotPending):
		log.Warn(ctx, "request already settled", zap.Error(err))
		httperr.Conflict409(w, ctx, httperr.ErrCodeNotPending, "approval request is no longer pending")
	case errors.Is(err, workflow.ErrDuplicatePending):
		log.Warn(ctx, "duplicate pending request", zap.Error(err))
		httperr.Conflict409(w, ctx, httperr.ErrCodeDuplicatePending, "a pending request already exists for this subject")
	case errors.Is(err, workflow.ErrNotExpired):
		httperr.Conflict409(w, ctx, httperr.ErrCodeConflict, "approval request has not reached its deadline")
	case errors.Is(err, workflow.ErrSnapshotRequired), errors.Is(err, workflow.ErrInvalidPayload):
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, "workflow payload is invalid")
	case errors.Is(err, workflow.ErrApprovalNotFound):
		log.Debug(ctx, "approval request not found", zap.Error(err))
		httperr.NotFound404(w, ctx, httperr.ErrCodeNotFound, "approval request not found")

	case errors.Is(err, invitation.ErrTokenNotFound):
		log.Debug(ctx, "invitation token not found", zap.Error(err))
		httperr.NotFound404(w, ctx, httperr.ErrCodeTokenNotFound, "invitation not found")
	case errors.Is(err, invitation.ErrTokenConsumed):
		log.Warn(ctx, "invitation token already consumed", zap.Error(err))
		httperr.Conflict409(w, ctx, httperr.ErrCodeTokenAlreadyConsumed, "invitation has already been used")
	case errors.Is(err, invitation.ErrTokenExpired):
		httperr.Gone410(w, ctx, httperr.ErrCodeLinkExpired, "invitation link has expired")
	case errors.Is(err, invitation.ErrNotAdmissionKind):
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidKind, "invitations only bootstrap admission workflows")

	case errors.Is(err, service.ErrContainerNotFound):
		log.Debug(ctx, "container not found", zap.Error(err))
		httperr.NotFound404(w, ctx, httperr.ErrCodeNotFound, "container not found")
	case errors.Is(err, service.ErrParentNotFound):
		httperr.WriteError(w, ctx, http.StatusUnprocessableEntity, "INVALID_PARENT", "parent container does not exist")
	case errors.Is(err, service.ErrInvalidParent):
		httperr.WriteError(w, ctx, http.StatusUnprocessableEntity, "INVALID_PARENT", "parent kind does not match the containment tree")
	case errors.Is(err, service.ErrActorNotFound):
		log.Debug(ctx, "actor not found", zap.Error(err))
		httperr.NotFound404(w, ctx, httperr.ErrCodeNotFound, "actor not found")
	case errors.Is(err, service.ErrCannotOutrank):
		log.Warn(ctx, "insufficient authority", zap.Error(err))
		httperr.Forbidden403(w, ctx, httperr.ErrCodeForbidden, "insufficient authority over the subject role")

	case errors.Is(err, permission.ErrScopeNotFound):
		log.Debug(ctx, "scope not found", zap.Error(err))
		httperr.NotFound404(w, ctx, httperr.ErrCodeNotFound, "scope not found")
	case errors.Is(err, permission.ErrScopeExists):
		httperr.Conflict409(w, ctx, httperr.ErrCodeConflict, "scope already granted for this container")

	default:
		log.Error(ctx, "unhandled internal server error", zap.Error(err), zap.String("error_details", err.Error()))
		httperr.InternalError500(w, ctx, "an internal error occurred")
	}
}
