package workflow

import (
	"context"
	"time"

	"gatehouse-api/internal/observability/logger"

	"go.uber.org/zap"
)

// DefaultSweepBatch caps how many requests a single sweep settles.
const DefaultSweepBatch = 200

// Sweeper periodically asks the engine to expire overdue requests. The serve
// command runs one; deployments with an external scheduler call the
// /internal/sweep endpoint or the sweep CLI command instead and leave the
// interval at zero.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	batch    int
	log      *logger.Logger
}

// NewSweeper creates a new Sweeper
func NewSweeper(engine *Engine, interval time.Duration, batch int, log *logger.Logger) *Sweeper {
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	return &Sweeper{engine: engine, interval: interval, batch: batch, log: log}
}

// Run sweeps on the configured interval until the context is cancelled.
// An interval of zero disables the loop.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// SweepOnce runs a single sweep pass, used by the CLI command and the
// internal endpoint.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	expired, err := s.engine.SweepExpired(ctx, time.Now().UTC(), s.batch)
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	count, err := s.SweepOnce(ctx)
	if err != nil {
		s.log.Error(ctx, "sweep failed",
			logger.Module("workflow"),
			logger.Action("sweep"),
			zap.Error(err),
		)
		return
	}
	if count > 0 {
		s.log.Info(ctx, "expired overdue approval requests",
			logger.Module("workflow"),
			logger.Action("sweep"),
			zap.Int("count", count),
		)
	}
}
