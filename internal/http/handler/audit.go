package handler

import (
	"net/http"
	"strconv"

	"gatehouse-api/internal/auth"
	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/http/httperr"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(service *service.AuditService) *AuditHandler {
	return &AuditHandler{service: service}
}

// QueryAudit handles GET /v1/orgs/{orgId}/audit
func (h *AuditHandler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	q := domain.AuditQuery{OrgID: orgID}

	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		q.Cursor = &cursor
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > 200 {
			httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidLimit, "limit must be between 1 and 200")
			return
		}
		q.Limit = limit
	}

	if actorID := r.URL.Query().Get("actorId"); actorID != "" {
		q.ActorID = &actorID
	}

	if resourceType := r.URL.Query().Get("resourceType"); resourceType != "" {
		q.ResourceType = &resourceType
	}

	if outcome := r.URL.Query().Get("outcome"); outcome != "" {
		q.Outcome = &outcome
	}

	response, err := h.service.Query(ctx, claims.ActorID, q)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "audit trail queried",
		zap.Int("count", len(response.Data)),
		zap.Bool("hasNextPage", response.Meta.HasNextPage),
	)

	writeJSON(w, http.StatusOK, response)
}
