package middleware

import (
	"context"
	"net/http"
	"regexp"

	"gatehouse-api/internal/auth"
	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/http/httperr"
	"gatehouse-api/internal/observability/logger"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const orgIDKey contextKey = "org_id"

// orgIDPattern restricts path organization IDs to a safe identifier charset.
var orgIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validateOrgIDFormat(orgID string) bool {
	return orgIDPattern.MatchString(orgID)
}

// OrganizationMiddleware validates organization access and prevents IDOR
// attacks: the orgId in the path must match the caller's organization.
// Platform administrators are exempt - they operate across organizations.
func OrganizationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := logger.GetLogger(ctx)

		// Extract organization ID from URL path parameter
		orgID := chi.URLParam(r, "orgId")
		if orgID == "" {
			log.Warn(ctx, "org_id not found in path")
			httperr.BadRequest400(w, ctx, httperr.ErrCodeMissingParameter, "org_id not found in path")
			return
		}

		if !validateOrgIDFormat(orgID) {
			log.Warn(ctx, "invalid org_id format", zap.String("path_org_id", orgID))
			httperr.BadRequest400(w, ctx, httperr.ErrCodeInvalidOrgID, "invalid org_id format")
			return
		}

		// Get auth context (set by JWTAuthMiddleware or S2SAuthMiddleware)
		authCtx, ok := auth.GetAuthContext(ctx)
		if !ok {
			log.Error(ctx, "auth context not found")
			httperr.Unauthorized401(w, ctx, httperr.ErrCodeInvalidToken, "authentication required")
			return
		}

		// IDOR prevention: the caller's organization must match the path.
		// Platform administrators carry no organization binding and pass;
		// S2S callers without an org header pass (the header is optional).
		if authCtx.Role != string(domain.RolePlatformAdmin) &&
			authCtx.OrgID != "" && authCtx.OrgID != orgID {
			log.Warn(ctx, "organization access denied",
				zap.String("caller_org_id", authCtx.OrgID),
				zap.String("path_org_id", orgID),
				zap.String("actor_id", authCtx.ActorID),
			)
			httperr.Forbidden403(w, ctx, httperr.ErrCodeOrgMismatch, "organization access denied")
			return
		}

		// Add org_id as span attribute for tracing
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.String("org_id", orgID))

		// Inject validated org_id into context for downstream handlers
		ctx = context.WithValue(ctx, orgIDKey, orgID)
		ctx = logger.SetOrgIDInContext(ctx, orgID)

		log.Debug(ctx, "organization access granted",
			zap.String("org_id", orgID),
			zap.String("actor_id", authCtx.ActorID),
		)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetOrgID retrieves validated organization ID from context
func GetOrgID(ctx context.Context) (string, bool) {
	orgID, ok := ctx.Value(orgIDKey).(string)
	return orgID, ok
}
