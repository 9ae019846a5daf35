package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"gatehouse-api/internal/auth"
	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/http/httperr"
	"gatehouse-api/internal/integrations/notify"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/workflow"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type WorkflowHandler struct {
	engine *workflow.Engine
	notify *notify.Client
}

func NewWorkflowHandler(engine *workflow.Engine, notify *notify.Client) *WorkflowHandler {
	return &WorkflowHandler{engine: engine, notify: notify}
}

// InitiateWorkflow handles POST /v1/orgs/{orgId}/approvals
func (h *WorkflowHandler) InitiateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	var req domain.InitiateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidFormat, "invalid JSON body")
		return
	}

	if !req.Kind.IsValid() {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidKind, "kind must be one of: org_admission, user_admission, property_edit, unit_edit")
		return
	}
	if req.SubjectID == "" {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeMissingParameter, "subjectId is required")
		return
	}
	if err := req.Validate(); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, err.Error())
		return
	}

	request, err := h.engine.Initiate(ctx, orgID, claims.ActorID, req)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "workflow initiated",
		zap.String("requestId", request.ID),
		zap.String("kind", string(request.Kind)),
		zap.String("subjectId", request.SubjectID),
	)

	writeJSON(w, http.StatusCreated, request)
}

// DecideWorkflow handles POST /v1/approvals/{requestId}/decision
//
// Not nested under an organization: deciders may sit outside the subject's
// organization (platform administrators deciding admissions). The engine
// authorizes the decider against the request's subject position.
func (h *WorkflowHandler) DecideWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	requestID := chi.URLParam(r, "requestId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	var req domain.DecideWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidFormat, "invalid JSON body")
		return
	}
	if !req.Outcome.IsValid() {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidParameter, "outcome must be APPROVE or REJECT")
		return
	}
	if err := req.Validate(); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, err.Error())
		return
	}

	request, err := h.engine.Decide(ctx, requestID, claims.ActorID, req)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "workflow decided",
		zap.String("requestId", request.ID),
		zap.String("status", string(request.Status)),
	)

	h.notify.WorkflowDecided(ctx, request)

	writeJSON(w, http.StatusOK, request)
}

// GetApproval handles GET /v1/orgs/{orgId}/approvals/{requestId}
func (h *WorkflowHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")
	requestID := chi.URLParam(r, "requestId")

	if _, ok := auth.GetClaims(ctx); !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	request, err := h.engine.Get(ctx, requestID)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	// Requests from other organizations do not exist as far as this org is
	// concerned.
	if request.OrgID != orgID {
		httperr.NotFound404(w, ctx, httperr.ErrCodeNotFound, "approval request not found")
		return
	}

	writeJSON(w, http.StatusOK, request)
}

// ListApprovals handles GET /v1/orgs/{orgId}/approvals
func (h *WorkflowHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")

	if _, ok := auth.GetClaims(ctx); !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	params := domain.ListApprovalsParams{OrgID: orgID}

	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		params.Cursor = &cursor
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > 100 {
			httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidLimit, "limit must be between 1 and 100")
			return
		}
		params.Limit = limit
	}

	if kindStr := r.URL.Query().Get("kind"); kindStr != "" {
		kind := domain.WorkflowKind(kindStr)
		if !kind.IsValid() {
			httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidKind, "kind must be one of: org_admission, user_admission, property_edit, unit_edit")
			return
		}
		params.Kind = &kind
	}

	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := domain.ApprovalStatus(statusStr)
		if !status.IsValid() {
			httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidStatus, "status must be one of: PENDING, APPROVED, REJECTED, EXPIRED")
			return
		}
		params.Status = &status
	}

	response, err := h.engine.List(ctx, params)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "approvals listed",
		zap.Int("count", len(response.Data)),
		zap.Bool("hasNextPage", response.Meta.HasNextPage),
	)

	writeJSON(w, http.StatusOK, response)
}
