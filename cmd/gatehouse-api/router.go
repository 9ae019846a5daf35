package main

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"gatehouse-api/internal/auth"
	"gatehouse-api/internal/config"
	"gatehouse-api/internal/http/docs"
	"gatehouse-api/internal/http/handler"
	"gatehouse-api/internal/http/httperr"
	"gatehouse-api/internal/http/middleware"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/observability/metrics"
	"gatehouse-api/internal/ratelimit"
	"gatehouse-api/internal/repo"
	"gatehouse-api/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// RouterDeps carries the dependencies needed to build the router.
type RouterDeps struct {
	Cfg             *config.Config
	Log             *logger.Logger
	Resolver        *auth.KeyResolver
	S2SStore        *auth.S2STokenStore
	IdempotencyRepo *repo.IdempotencyRepo
	RateLimiter     *ratelimit.RedisRateLimiter
	Metrics         *telemetry.Metrics
	Pool            *pgxpool.Pool // Needed for readiness check and debug handler

	// Handlers
	ContainerHandler  *handler.ContainerHandler
	PermissionHandler *handler.PermissionHandler
	WorkflowHandler   *handler.WorkflowHandler
	InvitationHandler *handler.InvitationHandler
	AuditHandler      *handler.AuditHandler
	ActorHandler      *handler.ActorHandler
	SweepHandler      *handler.SweepHandler
	DebugHandler      *handler.DebugHandler
}

// buildRouter assembles the chi.Router with all middlewares and routes.
func buildRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	// Global middlewares
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLoggingMiddleware(deps.Log))
	r.Use(middleware.RecoveryMiddleware(deps.Log))
	r.Use(telemetry.OTelMiddleware(deps.Cfg.OTELServiceName))
	if deps.Metrics != nil {
		r.Use(telemetry.MetricsMiddleware(deps.Metrics))
	}

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/openapi.yaml", docs.OpenAPIHandler().ServeHTTP)
	r.Get("/docs", docs.ScalarDocsHandler("/openapi.yaml").ServeHTTP)

	r.Get("/metrics", metricsAuth(deps.Cfg.MetricsToken, metrics.Handler()).ServeHTTP)

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Pool == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ready","note":"pool is nil"}`))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := deps.Pool.Ping(ctx); err != nil {
			deps.Log.Error(ctx, "readiness check failed: database unavailable", zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"error","message":"database unavailable"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	// Invitation acceptance is unauthenticated: the token is the credential.
	if deps.InvitationHandler != nil {
		r.Post("/v1/invitations/accept", deps.InvitationHandler.AcceptInvitation)
	}

	// Debug routes (dev-only)
	if deps.Cfg.AppEnv == "dev" || deps.Cfg.AppEnv == "development" {
		r.Route("/debug", func(r chi.Router) {
			if deps.DebugHandler != nil {
				r.With(auth.AuthMiddleware(deps.Resolver, deps.S2SStore)).Get("/auth", deps.DebugHandler.GetAuthDebug)
				r.With(auth.AuthMiddleware(deps.Resolver, deps.S2SStore)).Get("/auth/orgs/{orgId}", deps.DebugHandler.GetAuthDebugWithOrg)
				r.Get("/db/ping", deps.DebugHandler.PingDB)
			}
		})
	}

	// Sweep trigger for external schedulers (S2S only)
	if deps.SweepHandler != nil {
		r.Route("/internal", func(r chi.Router) {
			r.Use(auth.AuthMiddleware(deps.Resolver, deps.S2SStore))
			r.Use(requireS2S)
			r.Post("/sweep", deps.SweepHandler.Sweep)
		})
	}

	// Decision endpoint sits outside the organization subtree: deciders may
	// belong to another organization (platform administrators deciding org
	// admissions). The engine resolves decider authority itself.
	if deps.WorkflowHandler != nil {
		r.With(auth.AuthMiddleware(deps.Resolver, deps.S2SStore)).
			Post("/v1/approvals/{requestId}/decision", deps.WorkflowHandler.DecideWorkflow)
	}

	// Platform administration
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.Resolver, deps.S2SStore))

		if deps.PermissionHandler != nil {
			r.Post("/matrix", deps.PermissionHandler.SeedMatrix)
		}
		if deps.InvitationHandler != nil {
			r.Post("/invitations", deps.InvitationHandler.IssueInvitation)
		}
	})

	// Protected routes with organization isolation
	r.Route("/v1/orgs/{orgId}", func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.Resolver, deps.S2SStore))
		r.Use(middleware.OrganizationMiddleware)
		r.Use(middleware.RateLimitMiddleware(deps.RateLimiter, deps.Cfg.RateLimitPerOrgPerMin))

		// Containment tree
		if deps.ContainerHandler != nil {
			r.Route("/containers", func(r chi.Router) {
				r.With(middleware.IdempotencyMiddleware(deps.IdempotencyRepo)).Post("/", deps.ContainerHandler.CreateContainer)
				r.Route("/{containerId}", func(r chi.Router) {
					r.Get("/", deps.ContainerHandler.GetContainer)
					r.Get("/children", deps.ContainerHandler.ListChildren)
					r.With(middleware.IdempotencyMiddleware(deps.IdempotencyRepo)).Post("/edit", deps.ContainerHandler.RequestEdit)
					r.Delete("/", deps.ContainerHandler.DeleteContainer)
				})
			})
		}

		// Permission resolution and scope grants
		if deps.PermissionHandler != nil {
			r.Post("/permissions/check", deps.PermissionHandler.CheckPermission)
			r.Route("/scopes", func(r chi.Router) {
				r.With(middleware.IdempotencyMiddleware(deps.IdempotencyRepo)).Post("/", deps.PermissionHandler.GrantScope)
				r.Delete("/{scopeId}", deps.PermissionHandler.RevokeScope)
			})
		}

		// Approval workflows
		if deps.WorkflowHandler != nil {
			r.Route("/approvals", func(r chi.Router) {
				r.Get("/", deps.WorkflowHandler.ListApprovals)
				r.With(middleware.IdempotencyMiddleware(deps.IdempotencyRepo)).Post("/", deps.WorkflowHandler.InitiateWorkflow)
				r.Get("/{requestId}", deps.WorkflowHandler.GetApproval)
			})
		}

		// Invitations
		if deps.InvitationHandler != nil {
			r.With(middleware.IdempotencyMiddleware(deps.IdempotencyRepo)).Post("/invitations", deps.InvitationHandler.IssueInvitation)
		}

		// Audit trail
		if deps.AuditHandler != nil {
			r.Get("/audit", deps.AuditHandler.QueryAudit)
		}

		// Actors
		if deps.ActorHandler != nil {
			r.Route("/actors/{actorId}", func(r chi.Router) {
				r.Get("/", deps.ActorHandler.GetActor)
				r.With(middleware.IdempotencyMiddleware(deps.IdempotencyRepo)).Put("/role", deps.ActorHandler.RegrantRole)
				r.With(middleware.IdempotencyMiddleware(deps.IdempotencyRepo)).Put("/status", deps.ActorHandler.SetStatus)
			})
		}
	})

	return r
}

// metricsAuth protects the Prometheus endpoint with a shared token. An empty
// token leaves the endpoint open (dev, or network-level protection).
func metricsAuth(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		presented := r.Header.Get("X-Metrics-Token")
		if presented == "" {
			if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				presented = strings.TrimPrefix(h, "Bearer ")
			}
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireS2S restricts a route to service-to-service callers.
func requireS2S(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		authCtx, ok := auth.GetAuthContext(ctx)
		if !ok || authCtx.AuthMethod != "s2s" {
			httperr.Forbidden403(w, ctx, httperr.ErrCodeForbidden, "service credentials required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
