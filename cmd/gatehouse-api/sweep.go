package main

import (
	"context"
	"fmt"

	"gatehouse-api/internal/config"
	"gatehouse-api/internal/database"
	"gatehouse-api/internal/observability/logger"
	"gatehouse-api/internal/permission"
	"gatehouse-api/internal/repo"
	"gatehouse-api/internal/workflow"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue approval requests",
	Long:  `Run a single expiration pass over pending approval requests whose deadline has passed`,
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
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

	log.Info(ctx, "starting expiration sweep")

	// Connect to database
	pool, err := database.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	// Load the permission matrix
	matrix, err := loadMatrix(cfg)
	if err != nil {
		return fmt.Errorf("failed to load permission matrix: %w", err)
	}

	// Wire the minimum the engine needs to expire requests
	actorRepo := repo.NewActorRepo(pool)
	approvalRepo := repo.NewApprovalRepo(pool)
	auditRepo := repo.NewAuditRepo(pool)
	containerRepo := repo.NewContainerRepo(pool)
	scopeRepo := repo.NewScopeRepo(pool)

	resolver := permission.NewResolver(matrix, scopeRepo, containerRepo)
	engine := workflow.NewEngine(workflow.DefaultRegistry(), approvalRepo, actorRepo, containerRepo, scopeRepo, auditRepo, resolver, log)
	sweeper := workflow.NewSweeper(engine, cfg.SweepInterval(), cfg.SweepBatchSize, log)

	expired, err := sweeper.SweepOnce(ctx)
	if err != nil {
		log.Error(ctx, "sweep failed", zap.Error(err))
		return fmt.Errorf("failed to sweep expired requests: %w", err)
	}

	log.Info(ctx, "sweep completed", zap.Int("expired", expired))
	fmt.Printf("✓ Sweep completed: %d requests expired\n", expired)

	return nil
}

// loadMatrix loads the permission matrix from the configured path, falling
// back to the embedded seed.
func loadMatrix(cfg *config.Config) (*permission.Matrix, error) {
	if cfg.MatrixPath != "" {
		return permission.Load(cfg.MatrixPath)
	}
	return permission.Default()
}
