package invitation

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/ids"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/observability/metrics"
	"gatehouse-api/internal/permission"
	"gatehouse-api/internal/repo"
	"gatehouse-api/internal/workflow"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	ErrTokenNotFound = repo.ErrTokenNotFound
	ErrTokenConsumed = repo.ErrTokenConsumed
	ErrTokenExpired  = repo.ErrTokenExpired

	// ErrNotAdmissionKind indicates an attempt to issue an invitation for a
	// workflow that does not admit anyone.
	ErrNotAdmissionKind = errors.New("invitations only bootstrap admission workflows")
)

// DefaultTokenTTL is how long an issued token stays acceptable when no
// override is configured. Deliberately shorter than the admission workflow
// expiration it spawns: the link dies first, the pending request second.
const DefaultTokenTTL = 72 * time.Hour

// TokenStore is the persistence surface of the ledger, implemented by
// repo.InvitationRepo.
type TokenStore interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	Insert(ctx context.Context, t *domain.InvitationToken, audit *domain.AuditEntry) error
	ConsumeTx(ctx context.Context, tx pgx.Tx, tokenHash string, now time.Time) (*domain.InvitationToken, error)
}

// ApprovalInserter opens the admission request inside the consumption
// transaction. Implemented by repo.ApprovalRepo.
type ApprovalInserter interface {
	InsertTx(ctx context.Context, tx pgx.Tx, req *domain.ApprovalRequest) error
}

// AuditWriter appends audit entries inside the consumption transaction.
// Implemented by repo.AuditRepo.
type AuditWriter interface {
	AppendTx(ctx context.Context, tx pgx.Tx, entry *domain.AuditEntry) error
}

// ActorStore loads issuers. Implemented by repo.ActorRepo.
type ActorStore interface {
	Get(ctx context.Context, id string) (*domain.Actor, error)
}

// Gate checks the issuer's authority. Implemented by permission.Resolver.
type Gate interface {
	Resolve(ctx context.Context, actor *domain.Actor, req domain.CheckPermissionRequest) (domain.Decision, error)
}

// Ledger issues and consumes invitation tokens. A token is a crypto-random
// bearer secret handed out exactly once; only its SHA-256 hash is stored.
// Consumption and workflow initiation share one transaction: if initiation
// fails, the token is not burned.
type Ledger struct {
	tokens    TokenStore
	approvals ApprovalInserter
	audits    AuditWriter
	actors    ActorStore
	gate      Gate
	registry  *workflow.Registry
	ttl       time.Duration
	log       *logger.Logger
}

// NewLedger creates a new Ledger. A non-positive ttl falls back to
// DefaultTokenTTL.
func NewLedger(tokens TokenStore, approvals ApprovalInserter, audits AuditWriter, actors ActorStore, gate Gate, registry *workflow.Registry, ttl time.Duration, log *logger.Logger) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Ledger{
		tokens:    tokens,
		approvals: approvals,
		audits:    audits,
		actors:    actors,
		gate:      gate,
		registry:  registry,
		ttl:       ttl,
		log:       log,
	}
}

// HashToken returns the hex SHA-256 of a token string, the only form ever
// persisted or looked up.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Issue creates an invitation token for an admission workflow. Issuing is a
// privileged action: the issuer must pass INVITE on the INVITATION category
// against the target organization (or the platform root for organization
// admissions). Returns the plaintext token; it is never recoverable again.
func (l *Ledger) Issue(ctx context.Context, orgID, issuerID string, req domain.IssueInvitationRequest) (string, *domain.InvitationToken, error) {
	if _, err := l.registry.Get(req.Kind); err != nil {
		return "", nil, err
	}
	if !req.Kind.Admission() {
		return "", nil, ErrNotAdmissionKind
	}

	issuer, err := l.actors.Get(ctx, issuerID)
	if err != nil {
		if errors.Is(err, repo.ErrActorNotFound) {
			return "", nil, &permission.DeniedError{Decision: domain.Decision{Reason: domain.ReasonRoleDenied}}
		}
		return "", nil, fmt.Errorf("get issuer: %w", err)
	}

	target := domain.ScopeRef{} // platform root for org admissions
	if req.Kind == domain.WorkflowUserAdmission {
		target = domain.ScopeRef{Kind: domain.ContainerOrganization, ID: req.OrgID}
	}
	decision, err := l.gate.Resolve(ctx, issuer, domain.CheckPermissionRequest{
		Action:   domain.ActionInvite,
		Category: domain.CategoryInvitation,
		Target:   target,
	})
	if err != nil {
		return "", nil, fmt.Errorf("resolve invite permission: %w", err)
	}
	if !decision.Allowed {
		return "", nil, &permission.DeniedError{Decision: decision}
	}

	plaintext, err := newToken()
	if err != nil {
		return "", nil, err
	}

	token := &domain.InvitationToken{
		ID:          ids.New(),
		TokenHash:   HashToken(plaintext),
		Kind:        req.Kind,
		TargetEmail: req.Email,
		Role:        req.Role,
		OrgID:       req.OrgID,
		IssuerID:    issuerID,
		ExpiresAt:   time.Now().UTC().Add(l.ttl),
	}

	tokenID := token.ID
	entry := &domain.AuditEntry{
		OrgID:        orgID,
		ActorID:      issuerID,
		Action:       "ISSUE_INVITATION",
		ResourceType: "invitation_token",
		ResourceID:   &tokenID,
		Outcome:      domain.AuditOutcomeIssued,
		Detail: map[string]any{
			"kind":       string(req.Kind),
			"role":       string(req.Role),
			"expires_at": token.ExpiresAt,
		},
	}

	if err := l.tokens.Insert(ctx, token, entry); err != nil {
		return "", nil, err
	}

	metrics.InvitationsIssued.Inc()
	l.log.Info(ctx, "invitation issued",
		logger.Module("invitation"),
		logger.Action("issue"),
		zap.String("token_id", token.ID),
		zap.String("kind", string(req.Kind)),
	)
	return plaintext, token, nil
}

// Accept consumes a token and opens the admission workflow it carries, in one
// transaction. A token is never left consumed without its request, and a
// failed initiation rolls the consumption back.
func (l *Ledger) Accept(ctx context.Context, req domain.AcceptInvitationRequest) (*domain.ApprovalRequest, error) {
	now := time.Now().UTC()

	tx, err := l.tokens.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	token, err := l.tokens.ConsumeTx(ctx, tx, HashToken(req.Token), now)
	if err != nil {
		return nil, err
	}

	policy, err := l.registry.Get(token.Kind)
	if err != nil {
		return nil, err
	}

	request, err := l.buildRequest(policy, token, now)
	if err != nil {
		return nil, err
	}

	if err := l.approvals.InsertTx(ctx, tx, request); err != nil {
		return nil, err
	}

	tokenID := token.ID
	requestID := request.ID
	consumed := &domain.AuditEntry{
		OrgID:        token.OrgID,
		ActorID:      token.IssuerID,
		Action:       "CONSUME_INVITATION",
		ResourceType: "invitation_token",
		ResourceID:   &tokenID,
		Outcome:      domain.AuditOutcomeConsumed,
		Detail: map[string]any{
			"kind":       string(token.Kind),
			"request_id": request.ID,
		},
	}
	if err := l.audits.AppendTx(ctx, tx, consumed); err != nil {
		return nil, err
	}

	initiated := &domain.AuditEntry{
		OrgID:        request.OrgID,
		ActorID:      token.IssuerID,
		Action:       "INITIATE_WORKFLOW",
		ResourceType: "approval_request",
		ResourceID:   &requestID,
		Outcome:      domain.AuditOutcomeInitiated,
		Detail: map[string]any{
			"kind":       string(request.Kind),
			"subject_id": request.SubjectID,
			"via_token":  token.ID,
		},
	}
	if err := l.audits.AppendTx(ctx, tx, initiated); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit acceptance: %w", err)
	}

	metrics.InvitationsConsumed.Inc()
	metrics.WorkflowTransitions.WithLabelValues(string(request.Kind), string(domain.StatusPending)).Inc()
	l.log.Info(ctx, "invitation accepted",
		logger.Module("invitation"),
		logger.Action("accept"),
		zap.String("token_id", token.ID),
		zap.String("request_id", request.ID),
	)
	return request, nil
}

// buildRequest maps a consumed token onto a PENDING admission request.
// Organization admissions pre-allocate the organization's container id; user
// admissions key the subject on the invitee's email so a second invitation
// for the same person cannot open a second pending request.
func (l *Ledger) buildRequest(policy workflow.Policy, token *domain.InvitationToken, now time.Time) (*domain.ApprovalRequest, error) {
	payload, err := json.Marshal(domain.AdmissionPayload{
		Email: token.TargetEmail,
		Role:  token.Role,
		OrgID: token.OrgID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal admission payload: %w", err)
	}

	init := domain.InitiateWorkflowRequest{
		Kind:    token.Kind,
		Payload: payload,
	}
	switch token.Kind {
	case domain.WorkflowOrgAdmission:
		init.SubjectID = ids.New()
	default:
		init.SubjectID = token.TargetEmail
		init.SubjectContainerID = token.OrgID
	}

	return workflow.NewRequest(policy, token.OrgID, token.IssuerID, init, now), nil
}
