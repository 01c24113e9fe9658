package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/keystone-api/keystone/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditPersist writes one audit event into the structured store.
	TaskAuditPersist = "audit:persist"
	// TaskAuditSweep runs the retention sweep over the audit store.
	TaskAuditSweep = "audit:sweep"
	// TaskCacheWarmup pre-populates the role listing cache after a deploy.
	TaskCacheWarmup = "cache:warmup"
)

// NewAuditPersistTask wraps an audit event for queued delivery.
func NewAuditPersistTask(event audit.Event) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPersist, data, asynq.MaxRetry(5)), nil
}

// NewAuditSweepTask constructs the periodic retention-sweep task.
func NewAuditSweepTask() *asynq.Task {
	return asynq.NewTask(TaskAuditSweep, nil, asynq.MaxRetry(1))
}

// NewCacheWarmupTask constructs the cache warmup task.
func NewCacheWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskCacheWarmup, nil, asynq.MaxRetry(0))
}

// AuditStore is the slice of the audit layer the worker writes through.
type AuditStore interface {
	Write(ctx context.Context, event audit.Event) error
}

// Sweeper runs the audit retention sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (audit.SweepReport, error)
}

// Warmer refreshes caches that benefit from being hot at startup.
type Warmer interface {
	Warm(ctx context.Context) error
}

// NewAuditPersistHandler returns the handler that drains queued audit events
// into the store. Malformed payloads are dropped rather than retried.
func NewAuditPersistHandler(store AuditStore, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var event audit.Event
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			logger.Error("audit persist: bad payload", slog.Any("error", err))
			return asynq.SkipRetry
		}
		return store.Write(ctx, event)
	}
}

// NewAuditSweepHandler returns the handler for the scheduled retention sweep.
func NewAuditSweepHandler(sweeper Sweeper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		logger.Info("audit sweep complete",
			slog.Time("cutoff", report.Cutoff),
			slog.Int64("deleted", report.Deleted))
		return nil
	}
}

// NewCacheWarmupHandler returns the handler that pre-warms caches.
func NewCacheWarmupHandler(warmer Warmer, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		if err := warmer.Warm(ctx); err != nil {
			logger.Warn("cache warmup", slog.Any("error", err))
			return err
		}
		return nil
	}
}
