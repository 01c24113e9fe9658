package jobs_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/keystone-api/keystone/internal/audit"
	"github.com/keystone-api/keystone/jobs"
)

type memStore struct {
	events []audit.Event
	err    error
}

func (m *memStore) Write(_ context.Context, event audit.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuditPersistRoundtrip(t *testing.T) {
	event := audit.Event{
		At:      time.Now().UTC().Truncate(time.Second),
		Level:   audit.LevelAudit,
		Action:  audit.ActionDeny,
		Entity:  "user",
		ActorID: "u1",
		Message: "denied",
		Meta:    map[string]any{"reason": "NOT_OWNER"},
	}
	task, err := jobs.NewAuditPersistTask(event)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if task.Type() != jobs.TaskAuditPersist {
		t.Fatalf("task type = %q", task.Type())
	}

	store := &memStore{}
	handler := jobs.NewAuditPersistHandler(store, discardLogger())
	if err := handler(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("stored %d events, want 1", len(store.events))
	}
	got := store.events[0]
	if !got.At.Equal(event.At) || got.Action != event.Action || got.Meta["reason"] != "NOT_OWNER" {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestAuditPersistBadPayloadSkipsRetry(t *testing.T) {
	store := &memStore{}
	handler := jobs.NewAuditPersistHandler(store, discardLogger())

	task := asynq.NewTask(jobs.TaskAuditPersist, []byte("{not json"))
	err := handler(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("bad payload = %v, want SkipRetry", err)
	}
	if len(store.events) != 0 {
		t.Fatalf("bad payload must not be stored")
	}
}

func TestAuditPersistStoreErrorRetries(t *testing.T) {
	store := &memStore{err: errors.New("pg down")}
	handler := jobs.NewAuditPersistHandler(store, discardLogger())

	task, err := jobs.NewAuditPersistTask(audit.Event{Action: audit.ActionCreate})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	err = handler(context.Background(), task)
	if err == nil || errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("store failure = %v, want retryable error", err)
	}
}

type memSweeper struct {
	report audit.SweepReport
	err    error
}

func (m *memSweeper) Sweep(context.Context) (audit.SweepReport, error) {
	return m.report, m.err
}

func TestAuditSweepHandler(t *testing.T) {
	sweeper := &memSweeper{report: audit.SweepReport{Cutoff: time.Now(), Deleted: 7}}
	handler := jobs.NewAuditSweepHandler(sweeper, discardLogger())
	if err := handler(context.Background(), jobs.NewAuditSweepTask()); err != nil {
		t.Fatalf("handle: %v", err)
	}

	sweeper.err = errors.New("pg down")
	if err := handler(context.Background(), jobs.NewAuditSweepTask()); err == nil {
		t.Fatalf("sweep failure must propagate for retry")
	}
}
