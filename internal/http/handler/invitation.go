package handler

import (
	"encoding/json"
	"net/http"

	"gatehouse-api/internal/auth"
	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/http/httperr"
	"gatehouse-api/internal/integrations/notify"
	"gatehouse-api/internal/invitation"
	"gatehouse-api/internal/observability/logger"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type InvitationHandler struct {
	ledger *invitation.Ledger
	notify *notify.Client
}

func NewInvitationHandler(ledger *invitation.Ledger, notify *notify.Client) *InvitationHandler {
	return &InvitationHandler{ledger: ledger, notify: notify}
}

// IssueInvitation handles POST /v1/orgs/{orgId}/invitations and
// POST /v1/admin/invitations (organization admissions, issued at the
// platform level where no orgId exists yet).
//
// The response carries the plaintext token exactly once; only its hash is
// stored. Losing the response means issuing a new invitation.
func (h *InvitationHandler) IssueInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	orgID := chi.URLParam(r, "orgId")

	claims, ok := auth.GetClaims(ctx)
	if !ok {
		httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
		return
	}

	var req domain.IssueInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidFormat, "invalid JSON body")
		return
	}

	if !req.Kind.IsValid() {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidKind, "kind must be org_admission or user_admission")
		return
	}
	if req.Email == "" {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeMissingParameter, "email is required")
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

	plaintext, token, err := h.ledger.Issue(ctx, orgID, claims.ActorID, req)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "invitation issued",
		zap.String("invitationId", token.ID),
		zap.String("kind", string(token.Kind)),
	)

	h.notify.InvitationIssued(ctx, token)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"token":      plaintext,
		"invitation": token,
	})
}

// AcceptInvitation handles POST /v1/invitations/accept
//
// Unauthenticated: the invitee has no account yet, the token is the
// credential. Consuming the token and opening the admission workflow is one
// transaction; a failed initiation leaves the token usable.
func (h *InvitationHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.GetLogger(ctx)

	var req domain.AcceptInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidFormat, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeValidationError, err.Error())
		return
	}
	if len(req.Token) < 16 {
		httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidParameter, "token is malformed")
		return
	}

	request, err := h.ledger.Accept(ctx, req)
	if err != nil {
		handleServiceError(w, ctx, log, err)
		return
	}

	log.Info(ctx, "invitation accepted",
		zap.String("requestId", request.ID),
		zap.String("kind", string(request.Kind)),
	)

	writeJSON(w, http.StatusCreated, request)
}
