package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatehouse-api/internal/audit"
	"gatehouse-api/internal/auth"
	"gatehouse-api/internal/config"
	"gatehouse-api/internal/database"
	"gatehouse-api/internal/http/handler"
	"gatehouse-api/internal/integrations/notify"
	"gatehouse-api/internal/invitation"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/permission"
	"gatehouse-api/internal/ratelimit"
	"gatehouse-api/internal/repo"
	"gatehouse-api/internal/service"
	"gatehouse-api/internal/telemetry"
	"gatehouse-api/internal/workflow"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  `Start the Gatehouse API HTTP server with all middlewares and observability`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.OTELServiceName, "info")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	log.Info(context.Background(), "starting gatehouse api",
		zap.String("version", "1.0.0"),
		zap.String("service", cfg.OTELServiceName),
	)

	// Run database migrations
	log.Info(ctx, "running database migrations")
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info(ctx, "migrations completed successfully")

	// Initialize telemetry strictly as opt-in
	var tracerProvider *sdktrace.TracerProvider
	var meterProvider *sdkmetric.MeterProvider
	var otelMetrics *telemetry.Metrics

	if cfg.TelemetryEnabled() {
		log.Info(ctx, "initializing telemetry", zap.String("endpoint", cfg.OTELExporterEndpoint))

		// Initialize tracer
		tp, err := telemetry.InitTracer(ctx, cfg.OTELServiceName, cfg.OTELExporterEndpoint, cfg.OTELSamplingRatio)
		if err != nil {
			log.Warn(ctx, "failed to initialize tracer, continuing without tracing", zap.Error(err))
		} else {
			tracerProvider = tp
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
					log.Error(shutdownCtx, "failed to shutdown tracer provider", zap.Error(err))
				}
			}()
		}

		// Initialize metrics
		mp, m, err := telemetry.InitMetrics(ctx, cfg.OTELServiceName, cfg.OTELExporterEndpoint)
		if err != nil {
			log.Warn(ctx, "failed to initialize metrics, continuing without metrics", zap.Error(err))
		} else {
			meterProvider = mp
			otelMetrics = m
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := meterProvider.Shutdown(shutdownCtx); err != nil {
					log.Error(shutdownCtx, "failed to shutdown meter provider", zap.Error(err))
				}
			}()
		}

		log.Info(ctx, "telemetry initialized", zap.Bool("tracing", tracerProvider != nil), zap.Bool("metrics", otelMetrics != nil))
	} else {
		log.Info(ctx, "telemetry disabled (opt-in only or missing endpoint)")
	}

	// Connect to database
	log.Info(ctx, "connecting to database")
	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Info(ctx, "database connected")

	// Connect to Redis
	log.Info(ctx, "connecting to redis")
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Ping Redis to ensure connectivity
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info(ctx, "redis connected")

	// Initialize JWT key store and resolver
	log.Info(ctx, "initializing JWT authentication")
	keyStore := auth.NewKeyStore()

	// Load HS256 key (JWT_HS256_SECRET must be Base64-encoded)
	secretBytes, err := base64.StdEncoding.DecodeString(cfg.JWTHS256Secret)
	if err != nil {
		return fmt.Errorf("JWT_HS256_SECRET must be valid Base64-encoded: %w", err)
	}
	if len(secretBytes) < 32 {
		return fmt.Errorf("JWT_HS256_SECRET decoded bytes must be at least 32 bytes (256 bits), got %d bytes", len(secretBytes))
	}
	log.Info(ctx, "JWT_HS256_SECRET loaded successfully",
		zap.Int("decoded_bytes", len(secretBytes)),
	)

	// Parse allowed issuers from CSV
	allowedIssuers := cfg.GetAllowedIssuers()
	if len(allowedIssuers) == 0 {
		return fmt.Errorf("JWT_ALLOWED_ISSUERS must contain at least one valid issuer")
	}

	// Load HS256 key for all allowed issuers (same secret for all)
	for _, issuer := range allowedIssuers {
		keyStore.LoadHS256Key(issuer, "v1", secretBytes)
	}

	// Create validators with clock skew
	clockSkew := time.Duration(cfg.JWTClockSkewSeconds) * time.Second

	// Create resolver with allowed issuers
	resolver := auth.NewKeyResolver(allowedIssuers, []string{cfg.JWTAudience})

	// Register HS256 validator for all allowed issuers
	for _, issuer := range allowedIssuers {
		hs256Validator := auth.NewHS256Validator(keyStore, issuer, clockSkew)
		resolver.RegisterValidator(issuer, hs256Validator)
	}

	log.Info(ctx, "JWT authentication initialized",
		zap.Strings("allowed_issuers", allowedIssuers),
		zap.Int("clock_skew_seconds", cfg.JWTClockSkewSeconds),
	)

	// Initialize S2S token store
	s2sStore := auth.NewS2STokenStore()
	if cfg.S2STokenScheduler != "" {
		s2sStore.RegisterToken(cfg.S2STokenScheduler, "scheduler")
		log.Info(ctx, "S2S token registered", zap.String("client", "scheduler"))
	}

	// Load the permission matrix
	matrix, err := loadMatrix(cfg)
	if err != nil {
		return fmt.Errorf("failed to load permission matrix: %w", err)
	}
	log.Info(ctx, "permission matrix loaded", zap.Int("version", matrix.Version()))

	// Initialize repositories
	idempotencyRepo := repo.NewIdempotencyRepo(pool)
	actorRepo := repo.NewActorRepo(pool)
	approvalRepo := repo.NewApprovalRepo(pool)
	auditRepo := repo.NewAuditRepo(pool)
	containerRepo := repo.NewContainerRepo(pool)
	invitationRepo := repo.NewInvitationRepo(pool)
	scopeRepo := repo.NewScopeRepo(pool)

	// Initialize domain components
	trail := audit.NewTrail(auditRepo, log)
	permResolver := permission.NewResolver(matrix, scopeRepo, containerRepo)
	permService := permission.NewService(permResolver, actorRepo, scopeRepo, trail, log)
	registry := workflow.DefaultRegistry()
	engine := workflow.NewEngine(registry, approvalRepo, actorRepo, containerRepo, scopeRepo, auditRepo, permResolver, log)
	ledger := invitation.NewLedger(invitationRepo, approvalRepo, auditRepo, actorRepo, permResolver, registry, cfg.InvitationTTL(), log)
	notifyClient := notify.NewClient(cfg.NotifyWebhookURL)

	containerService := service.NewContainerService(containerRepo, actorRepo, permResolver, engine, log)
	actorService := service.NewActorService(actorRepo, permResolver, log)
	auditService := service.NewAuditService(trail, actorRepo, permResolver, log)

	// Background expiration sweeper
	sweeper := workflow.NewSweeper(engine, cfg.SweepInterval(), cfg.SweepBatchSize, log)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go sweeper.Run(sweepCtx)
	log.Info(ctx, "expiration sweeper started",
		zap.Duration("interval", cfg.SweepInterval()),
		zap.Int("batch_size", cfg.SweepBatchSize),
	)

	// Initialize handlers
	containerHandler := handler.NewContainerHandler(containerService)
	permissionHandler := handler.NewPermissionHandler(permService)
	workflowHandler := handler.NewWorkflowHandler(engine, notifyClient)
	invitationHandler := handler.NewInvitationHandler(ledger, notifyClient)
	auditHandler := handler.NewAuditHandler(auditService)
	actorHandler := handler.NewActorHandler(actorService)
	sweepHandler := handler.NewSweepHandler(sweeper)
	debugHandler := handler.NewDebugHandler(pool)

	// Initialize rate limiter
	var rateLimitCounter metric.Int64Counter
	if otelMetrics != nil {
		rateLimitCounter = otelMetrics.RateLimitRejections
	}
	rateLimiter := ratelimit.NewRedisRateLimiter(redisClient, rateLimitCounter)

	// Build router
	r := buildRouter(RouterDeps{
		Cfg:               cfg,
		Log:               log,
		Resolver:          resolver,
		S2SStore:          s2sStore,
		IdempotencyRepo:   idempotencyRepo,
		RateLimiter:       rateLimiter,
		Metrics:           otelMetrics,
		Pool:              pool,
		ContainerHandler:  containerHandler,
		PermissionHandler: permissionHandler,
		WorkflowHandler:   workflowHandler,
		InvitationHandler: invitationHandler,
		AuditHandler:      auditHandler,
		ActorHandler:      actorHandler,
		SweepHandler:      sweepHandler,
		DebugHandler:      debugHandler,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info(ctx, "starting http server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "failed to start server", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info(ctx, "shutdown signal received, starting graceful shutdown")

	// Stop the background sweeper before draining connections
	stopSweeper()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown error", zap.Error(err))
	}

	log.Info(shutdownCtx, "shutdown complete")
	return nil
}
