package workflow

import (
	"context"
	"testing"
	"time"

	"gatehouse-api/internal/domain"
	"gatehouse-api/internal/observability/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backdate(fx *engineFixture, id string) {
	fx.approvals.mu.Lock()
	defer fx.approvals.mu.Unlock()
	fx.approvals.byID[id].ExpiresAt = time.Now().UTC().Add(-time.Minute)
}

func TestSweeper_SweepOnce(t *testing.T) {
	fx := newEngineFixture(t)
	log, err := logger.New("gatehouse-api-test", "error")
	require.NoError(t, err)

	req := initiatePropertyEdit(t, fx)
	backdate(fx, req.ID)

	sweeper := NewSweeper(fx.engine, 0, DefaultSweepBatch, log)

	count, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	settled, err := fx.approvals.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, settled.Status)

	// A second pass finds nothing overdue.
	count, err = sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSweeper_BatchDefault(t *testing.T) {
	fx := newEngineFixture(t)
	log, err := logger.New("gatehouse-api-test", "error")
	require.NoError(t, err)

	sweeper := NewSweeper(fx.engine, time.Minute, 0, log)
	assert.Equal(t, DefaultSweepBatch, sweeper.batch)

	sweeper = NewSweeper(fx.engine, time.Minute, 25, log)
	assert.Equal(t, 25, sweeper.batch)
}

func TestSweeper_RunDisabledWithoutInterval(t *testing.T) {
	fx := newEngineFixture(t)
	log, err := logger.New("gatehouse-api-test", "error")
	require.NoError(t, err)

	sweeper := NewSweeper(fx.engine, 0, DefaultSweepBatch, log)

	done := make(chan struct{})
	go func() {
		sweeper.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when no interval is configured")
	}
}

func TestSweeper_RunExpiresOnTicker(t *testing.T) {
	fx := newEngineFixture(t)
	log, err := logger.New("gatehouse-api-test", "error")
	require.NoError(t, err)

	req := initiatePropertyEdit(t, fx)
	backdate(fx, req.ID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := NewSweeper(fx.engine, 5*time.Millisecond, DefaultSweepBatch, log)
	go sweeper.Run(ctx)

	require.Eventually(t, func() bool {
		settled, err := fx.approvals.Get(context.Background(), req.ID)
		return err == nil && settled.Status == domain.StatusExpired
	}, time.Second, 5*time.Millisecond)
}
