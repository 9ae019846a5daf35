package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/ids"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/observability/metrics"
	"gatehouse-api/internal/repo"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	ErrUnknownWorkflow = errors.New("unknown workflow kind")

	// ErrNotPending indicates the request is already terminal and the decision
	// does not match the one recorded. A matching prior decision is returned
	// as an idempotent replay instead.
	ErrNotPending = errors.New("approval request is not pending")

	// ErrNotExpired indicates an expire call before the deadline.
	ErrNotExpired = errors.New("approval request has not reached its deadline")

	// ErrDeciderNotAuthorized covers both failure modes of a decide call: the
	// role is not in the workflow's decider list, or the role matches but the
	// decider holds no scope over the subject's container.
	ErrDeciderNotAuthorized = errors.New("decider not authorized for this request")

	ErrSnapshotRequired = errors.New("workflow requires a pre-change snapshot")
	ErrInvalidPayload   = errors.New("invalid workflow payload")

	ErrDuplicatePending = repo.ErrDuplicatePending
	ErrApprovalNotFound = repo.ErrApprovalNotFound
)

// EditChange is the payload and snapshot shape of edit-approval workflows:
// the proposed (payload) or pre-change (snapshot) state of the container.
type EditChange struct {
	Name string `json:"name"`
}

// ApprovalStore is the persistence surface of the engine, implemented by
// repo.ApprovalRepo.
type ApprovalStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	Insert(ctx context.Context, req *domain.ApprovalRequest, audit *domain.AuditEntry) error
	Get(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	TransitionFromPendingTx(ctx context.Context, tx pgx.Tx, id string, to domain.ApprovalStatus, decidedBy, note *string) (bool, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.ApprovalRequest, error)
	List(ctx context.Context, params domain.ListApprovalsParams) ([]domain.ApprovalRequest, string, error)
}

// ActorStore loads deciders and instantiates admitted actors. Implemented by
// repo.ActorRepo.
type ActorStore interface {
	Get(ctx context.Context, id string) (*domain.Actor, error)
	CreateIdempotentTx(ctx context.Context, tx pgx.Tx, a *domain.Actor) (bool, error)
}

// ContainerStore mutates subject containers from completion and revert hooks.
// Implemented by repo.ContainerRepo.
type ContainerStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *domain.Container) error
	RenameTx(ctx context.Context, tx pgx.Tx, id, name string) error
}

// ScopeStore grants admitted actors their organization scope from completion
// hooks. Implemented by repo.ScopeRepo.
type ScopeStore interface {
	GrantTx(ctx context.Context, tx pgx.Tx, s *domain.Scope) error
}

// AuditWriter appends audit entries inside the transition transaction.
// Implemented by repo.AuditRepo.
type AuditWriter interface {
	AppendTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error
}

// Gate checks the decider's scope authority over the subject. Implemented by
// permission.Resolver.
type Gate interface {
	Resolve(ctx context.Context, actor *domain.Actor, req domain.CheckPermissionRequest) (domain.Decision, error)
}

// Engine is the approval state machine. Transitions out of PENDING are
// compare-and-swap guarded, so a decision and an expiration racing on the
// same request settle exactly once; completion side effects run inside the
// winning transaction.
type Engine struct {
	registry   *Registry
	approvals  ApprovalStore
	actors     ActorStore
	containers ContainerStore
	scopes     ScopeStore
	audits     AuditWriter
	gate       Gate
	log        *logger.Logger
}

// NewEngine creates a new Engine
func NewEngine(registry *Registry, approvals ApprovalStore, actors ActorStore, containers ContainerStore, scopes ScopeStore, audits AuditWriter, gate Gate, log *logger.Logger) *Engine {
	return &Engine{
		registry:   registry,
		approvals:  approvals,
		actors:     actors,
		containers: containers,
		scopes:     scopes,
		audits:     audits,
		gate:       gate,
		log:        log,
	}
}

// Registry exposes the policy table to collaborators (the invitation ledger
// needs expirations when it spawns a request).
func (e *Engine) Registry() *Registry {
	return e.registry
}

// NewRequest builds a PENDING approval request under the given policy,
// without persisting it. The invitation ledger uses this to compose
// initiation into its consumption transaction.
func NewRequest(policy Policy, orgID, requestedBy string, req domain.InitiateWorkflowRequest, now time.Time) *domain.ApprovalRequest {
	return &domain.ApprovalRequest{
		ID:                 ids.New(),
		OrgID:              orgID,
		Kind:               policy.Kind,
		SubjectID:          req.SubjectID,
		SubjectKind:        policy.SubjectKind,
		SubjectContainerID: req.SubjectContainerID,
		RequestedBy:        requestedBy,
		Status:             domain.StatusPending,
		ExpiresAt:          now.Add(policy.Expiration),
		Snapshot:           req.Snapshot,
		Payload:            req.Payload,
	}
}

// Initiate opens a new approval workflow. At most one PENDING request may
// exist per (kind, subject); a second initiation fails with
// ErrDuplicatePending. The database index enforces this, not bookkeeping.
func (e *Engine) Initiate(ctx context.Context, orgID, requestedBy string, req domain.InitiateWorkflowRequest) (*domain.ApprovalRequest, error) {
	policy, err := e.registry.Get(req.Kind)
	if err != nil {
		return nil, err
	}

	if err := validateInitiation(policy, req); err != nil {
		return nil, err
	}

	request := NewRequest(policy, orgID, requestedBy, req, time.Now().UTC())

	requestID := request.ID
	entry := &domain.AuditEntry{
		OrgID:        orgID,
		ActorID:      requestedBy,
		Action:       "INITIATE_WORKFLOW",
		ResourceType: "approval_request",
		ResourceID:   &requestID,
		Outcome:      domain.AuditOutcomeInitiated,
		Detail: map[string]any{
			"kind":       string(request.Kind),
			"subject_id": request.SubjectID,
			"expires_at": request.ExpiresAt,
		},
	}

	if err := e.approvals.Insert(ctx, request, entry); err != nil {
		return nil, err
	}

	metrics.WorkflowTransitions.WithLabelValues(string(request.Kind), string(domain.StatusPending)).Inc()
	e.log.Info(ctx, "workflow initiated",
		logger.Module("workflow"),
		logger.Action("initiate"),
		zap.String("request_id", request.ID),
		zap.String("kind", string(request.Kind)),
	)
	return request, nil
}

func validateInitiation(policy Policy, req domain.InitiateWorkflowRequest) error {
	if req.SubjectID == "" {
		return fmt.Errorf("%w: subject id required", ErrInvalidPayload)
	}
	if policy.OnExpire == ExpireRevert && len(req.Snapshot) == 0 {
		return ErrSnapshotRequired
	}
	if policy.Kind.Admission() {
		var payload domain.AdmissionPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if payload.Email == "" {
			return fmt.Errorf("%w: admission payload requires an email", ErrInvalidPayload)
		}
		if !payload.Role.IsValid() {
			return fmt.Errorf("%w: admission payload requires a valid role", ErrInvalidPayload)
		}
	}
	return nil
}

// Decide settles a PENDING request. The decider must be listed in the
// workflow's decider roles and must pass the permission resolver against the
// subject's container; role membership alone is not sufficient.
//
// Replaying a decision that already settled the request with the same
// outcome by the same decider returns the terminal record unchanged.
func (e *Engine) Decide(ctx context.Context, requestID, deciderID string, req domain.DecideWorkflowRequest) (*domain.ApprovalRequest, error) {
	request, err := e.approvals.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if request.Status.Terminal() {
		return e.replayOrConflict(request, deciderID, req.Outcome)
	}

	policy, err := e.registry.Get(request.Kind)
	if err != nil {
		return nil, err
	}

	decider, err := e.actors.Get(ctx, deciderID)
	if err != nil {
		if errors.Is(err, repo.ErrActorNotFound) {
			return nil, ErrDeciderNotAuthorized
		}
		return nil, fmt.Errorf("get decider: %w", err)
	}

	if !policy.AllowsDecider(decider.Role) {
		return nil, ErrDeciderNotAuthorized
	}

	decision, err := e.gate.Resolve(ctx, decider, domain.CheckPermissionRequest{
		Action:   policy.DecideAction,
		Category: policy.Category,
		Target:   request.SubjectRef(),
	})
	if err != nil {
		return nil, fmt.Errorf("resolve decider authority: %w", err)
	}
	if !decision.Allowed {
		return nil, ErrDeciderNotAuthorized
	}

	toStatus := req.Outcome.Status()
	var note *string
	if req.Note != "" {
		note = &req.Note
	}

	tx, err := e.approvals.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	settled, err := e.approvals.TransitionFromPendingTx(ctx, tx, requestID, toStatus, &deciderID, note)
	if err != nil {
		return nil, err
	}
	if !settled {
		// Lost the race to another decision or the sweeper. Re-read and
		// treat a matching terminal record as an idempotent replay.
		tx.Rollback(ctx)
		current, err := e.approvals.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		return e.replayOrConflict(current, deciderID, req.Outcome)
	}

	if req.Outcome == domain.OutcomeApprove {
		if err := e.complete(ctx, tx, policy, request); err != nil {
			return nil, err
		}
	} else if policy.OnExpire == ExpireRevert {
		// Rejecting an edit that is already live restores the snapshot, the
		// same way expiration does.
		if err := e.revert(ctx, tx, request); err != nil {
			return nil, err
		}
	}

	entry := &domain.AuditEntry{
		OrgID:        request.OrgID,
		ActorID:      deciderID,
		Action:       "DECIDE_WORKFLOW",
		ResourceType: "approval_request",
		ResourceID:   &requestID,
		Outcome:      auditOutcomeFor(toStatus),
		Detail: map[string]any{
			"kind":       string(request.Kind),
			"subject_id": request.SubjectID,
		},
	}
	if req.Note != "" {
		entry.Detail["note"] = req.Note
	}
	if err := e.audits.AppendTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit decision: %w", err)
	}

	metrics.WorkflowTransitions.WithLabelValues(string(request.Kind), string(toStatus)).Inc()
	e.log.Info(ctx, "workflow decided",
		logger.Module("workflow"),
		logger.Action("decide"),
		zap.String("request_id", requestID),
		zap.String("status", string(toStatus)),
	)

	return e.approvals.Get(ctx, requestID)
}

// replayOrConflict maps a decide call against a terminal record: the same
// decider repeating the recorded outcome gets the record back; anything else
// is a conflict. The decider must match, not just the outcome: this path
// skips the authorization checks, so handing the record to anyone who
// repeats the recorded outcome would leak it to callers who were never
// entitled to decide.
func (e *Engine) replayOrConflict(request *domain.ApprovalRequest, deciderID string, outcome domain.Outcome) (*domain.ApprovalRequest, error) {
	if request.Status == outcome.Status() && request.DecidedBy != nil && *request.DecidedBy == deciderID {
		return request, nil
	}
	return nil, ErrNotPending
}

// complete runs the workflow's approval side effect inside the transition
// transaction: the CAS guard on the status row guarantees it runs at most
// once per request.
func (e *Engine) complete(ctx context.Context, tx pgx.Tx, policy Policy, request *domain.ApprovalRequest) error {
	switch request.Kind {
	case domain.WorkflowOrgAdmission:
		return e.admitOrganization(ctx, tx, request)
	case domain.WorkflowUserAdmission:
		return e.admitActor(ctx, tx, request)
	case domain.WorkflowPropertyEdit, domain.WorkflowUnitEdit:
		// The edit went live when the workflow opened; approval closes the
		// oversight window and leaves the subject as it stands.
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownWorkflow, request.Kind)
}

// admitOrganization instantiates the organization container and its first
// org_admin in the same transaction as the APPROVED transition.
func (e *Engine) admitOrganization(ctx context.Context, tx pgx.Tx, request *domain.ApprovalRequest) error {
	var payload domain.AdmissionPayload
	if err := json.Unmarshal(request.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	org := &domain.Container{
		ID:   request.SubjectID,
		Kind: domain.ContainerOrganization,
		Name: payload.OrgName,
	}
	if org.Name == "" {
		org.Name = payload.Email
	}
	if err := e.containers.CreateTx(ctx, tx, org); err != nil {
		return fmt.Errorf("create organization: %w", err)
	}

	actor := &domain.Actor{
		ID:     ids.New(),
		OrgID:  org.ID,
		Email:  payload.Email,
		Role:   payload.Role,
		Status: domain.ActorStatusActive,
	}
	if _, err := e.actors.CreateIdempotentTx(ctx, tx, actor); err != nil {
		return fmt.Errorf("create admitted actor: %w", err)
	}
	return e.grantAdmissionScope(ctx, tx, actor.ID, org.ID)
}

func (e *Engine) admitActor(ctx context.Context, tx pgx.Tx, request *domain.ApprovalRequest) error {
	var payload domain.AdmissionPayload
	if err := json.Unmarshal(request.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	orgID := payload.OrgID
	if orgID == "" {
		orgID = request.OrgID
	}

	actor := &domain.Actor{
		ID:     ids.New(),
		OrgID:  orgID,
		Email:  payload.Email,
		Role:   payload.Role,
		Status: domain.ActorStatusActive,
	}
	if _, err := e.actors.CreateIdempotentTx(ctx, tx, actor); err != nil {
		return fmt.Errorf("create admitted actor: %w", err)
	}
	if orgID == "" {
		return nil
	}
	return e.grantAdmissionScope(ctx, tx, actor.ID, orgID)
}

// grantAdmissionScope scopes a freshly admitted actor over their organization
// in the same transaction as the admission itself. Without it the actor would
// pass the matrix gate but fail every scope scan until someone granted a
// scope by hand.
func (e *Engine) grantAdmissionScope(ctx context.Context, tx pgx.Tx, actorID, orgID string) error {
	scope := &domain.Scope{
		ID:            ids.New(),
		ActorID:       actorID,
		ContainerKind: domain.ContainerOrganization,
		ContainerID:   orgID,
		GrantedBy:     "system",
	}
	if err := e.scopes.GrantTx(ctx, tx, scope); err != nil && !errors.Is(err, repo.ErrScopeExists) {
		return fmt.Errorf("grant admission scope: %w", err)
	}
	return nil
}

// Expire settles a PENDING request past its deadline. A request already
// settled by a decision is returned unchanged: the decision won the race.
// Calling before the deadline fails with ErrNotExpired.
func (e *Engine) Expire(ctx context.Context, requestID string, now time.Time) (*domain.ApprovalRequest, error) {
	request, err := e.approvals.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}

	if request.Status.Terminal() {
		return request, nil
	}
	if now.Before(request.ExpiresAt) {
		return nil, ErrNotExpired
	}

	policy, err := e.registry.Get(request.Kind)
	if err != nil {
		return nil, err
	}

	tx, err := e.approvals.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	settled, err := e.approvals.TransitionFromPendingTx(ctx, tx, requestID, domain.StatusExpired, nil, nil)
	if err != nil {
		return nil, err
	}
	if !settled {
		// A decision committed between our read and the CAS: it wins.
		tx.Rollback(ctx)
		return e.approvals.Get(ctx, requestID)
	}

	if policy.OnExpire == ExpireRevert {
		if err := e.revert(ctx, tx, request); err != nil {
			return nil, err
		}
	}

	entry := &domain.AuditEntry{
		OrgID:        request.OrgID,
		ActorID:      "system",
		Action:       "EXPIRE_WORKFLOW",
		ResourceType: "approval_request",
		ResourceID:   &requestID,
		Outcome:      domain.AuditOutcomeExpired,
		Detail: map[string]any{
			"kind":      string(request.Kind),
			"subject_id": request.SubjectID,
			"on_expire": string(policy.OnExpire),
		},
	}
	if err := e.audits.AppendTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit expiration: %w", err)
	}

	metrics.WorkflowTransitions.WithLabelValues(string(request.Kind), string(domain.StatusExpired)).Inc()
	e.log.Info(ctx, "workflow expired",
		logger.Module("workflow"),
		logger.Action("expire"),
		zap.String("request_id", requestID),
		zap.String("on_expire", string(policy.OnExpire)),
	)

	return e.approvals.Get(ctx, requestID)
}

// revert replays the initiation snapshot over the subject container.
func (e *Engine) revert(ctx context.Context, tx pgx.Tx, request *domain.ApprovalRequest) error {
	var snapshot EditChange
	if err := json.Unmarshal(request.Snapshot, &snapshot); err != nil {
		return fmt.Errorf("%w: bad snapshot: %v", ErrInvalidPayload, err)
	}
	if snapshot.Name == "" {
		return nil
	}
	if err := e.containers.RenameTx(ctx, tx, request.SubjectID, snapshot.Name); err != nil {
		return fmt.Errorf("revert subject: %w", err)
	}
	return nil
}

// SweepExpired settles every PENDING request whose deadline has passed,
// oldest first, capped at limit per call. Safe to invoke repeatedly in the
// same window: already-settled requests are skipped by the CAS guard.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time, limit int) ([]domain.ApprovalRequest, error) {
	pending, err := e.approvals.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	expired := make([]domain.ApprovalRequest, 0, len(pending))
	for _, request := range pending {
		settled, err := e.Expire(ctx, request.ID, now)
		if err != nil {
			// One bad record must not stall the sweep.
			e.log.Error(ctx, "failed to expire approval request",
				logger.Module("workflow"),
				logger.Action("sweep"),
				zap.String("request_id", request.ID),
				zap.Error(err),
			)
			continue
		}
		if settled.Status == domain.StatusExpired {
			expired = append(expired, *settled)
			metrics.SweepExpired.Inc()
		}
	}

	return expired, nil
}

// Get retrieves a single approval request.
func (e *Engine) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return e.approvals.Get(ctx, id)
}

// List retrieves approval requests for an organization.
func (e *Engine) List(ctx context.Context, params domain.ListApprovalsParams) (*domain.ApprovalListResponse, error) {
	params.Normalize()

	requests, nextCursor, err := e.approvals.List(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}

	resp := &domain.ApprovalListResponse{Data: requests}
	if nextCursor != "" {
		resp.Meta.HasNextPage = true
		resp.Meta.NextCursor = &nextCursor
	}
	return resp, nil
}

func auditOutcomeFor(status domain.ApprovalStatus) string {
	if status == domain.StatusApproved {
		return domain.AuditOutcomeApproved
	}
	return domain.AuditOutcomeRejected
}
