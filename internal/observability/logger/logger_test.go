package logger_test

import (
	"context"
	"testing"

	"gatehouse-api/internal/observability/logger"
)

func TestLogger_Creation(t *testing.T) {
	log, err := logger.New("test-service", "info")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer log.Sync()

	ctx := context.Background()

	log.Info(ctx, "test info message",
		logger.Module("test"),
		logger.Action("test_action"),
	)

	log.Warn(ctx, "test warn message",
		logger.Module("test"),
		logger.Action("test_action"),
	)

	log.Error(ctx, "test error message",
		logger.Module("test"),
		logger.Action("test_action"),
	)
}

func TestLogger_EmptyServiceName(t *testing.T) {
	if _, err := logger.New("", "info"); err == nil {
		t.Fatal("expected error for empty service name")
	}
}

func TestLogger_MandatoryFields(t *testing.T) {
	log, err := logger.New("test-service", "info")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer log.Sync()

	// Log without module/action to verify defaults are applied instead of
	// panicking.
	log.Info(context.Background(), "test message without module/action")
}

func TestLogger_ContextFields(t *testing.T) {
	log, err := logger.New("test-service", "info")
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer log.Sync()

	ctx := context.Background()
	ctx = logger.SetRequestIDInContext(ctx, "test-req-123")
	ctx = logger.SetOrgIDInContext(ctx, "org-456")
	ctx = logger.SetActorIDInContext(ctx, "actor-789")

	log.Info(ctx, "test with context",
		logger.Module("test"),
		logger.Action("test_context"),
	)

	if got := logger.GetRequestIDFromContext(ctx); got != "test-req-123" {
		t.Errorf("GetRequestIDFromContext() = %q, want %q", got, "test-req-123")
	}
	if got := logger.GetOrgIDFromContext(ctx); got != "org-456" {
		t.Errorf("GetOrgIDFromContext() = %q, want %q", got, "org-456")
	}
	if got := logger.GetActorIDFromContext(ctx); got != "actor-789" {
		t.Errorf("GetActorIDFromContext() = %q, want %q", got, "actor-789")
	}
}

func TestLogger_GetLoggerFallback(t *testing.T) {
	log := logger.GetLogger(context.Background())
	if log == nil {
		t.Fatal("GetLogger should never return nil")
	}
}
