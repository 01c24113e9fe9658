package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSink appends events to the system_logs table, the queryable structured
// store behind the audit listing endpoints.
type PGSink struct {
	pool *pgxpool.Pool
}

// NewPGSink constructs a Postgres sink.
func NewPGSink(pool *pgxpool.Pool) *PGSink {
	return &PGSink{pool: pool}
}

// Name identifies the sink in logs and metrics.
func (s *PGSink) Name() string { return "postgres" }

// Write inserts the event. Meta is stored as JSONB.
func (s *PGSink) Write(ctx context.Context, event Event) error {
	if s.pool == nil {
		return fmt.Errorf("audit: pg sink not configured")
	}
	meta, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO system_logs (level, message, action, entity, entity_id, actor_id, actor_ip, actor_agent, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)`,
		string(event.Level), event.Message, event.Action, event.Entity, event.EntityID,
		event.ActorID, event.ActorIP, event.ActorAgent, meta, event.At)
	return err
}

// FileSink appends events as JSON lines to a rotating log file, the durable
// tail for operational inspection. Rotation is size-based: when the file
// exceeds maxSize it is shifted to path.1, path.2, ... up to maxBackups.
type FileSink struct {
	path       string
	maxSize    int64
	maxBackups int
	file       *os.File
	size       int64
}

// NewFileSink opens (or creates) the log file. maxSize <= 0 disables rotation.
func NewFileSink(path string, maxSize int64, maxBackups int) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: file sink: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: file sink: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("audit: file sink: %w", err)
	}
	return &FileSink{path: path, maxSize: maxSize, maxBackups: maxBackups, file: f, size: info.Size()}, nil
}

// Name identifies the sink in logs and metrics.
func (s *FileSink) Name() string { return "file" }

// Write appends one JSON line. The recorder serializes sink calls, so no
// extra locking is needed here.
func (s *FileSink) Write(_ context.Context, event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if s.maxSize > 0 && s.size+int64(len(line)) > s.maxSize {
		if err := s.rotate(); err != nil {
			return err
		}
	}
	n, err := s.file.Write(line)
	s.size += int64(n)
	return err
}

func (s *FileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	for i := s.maxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", s.path, i), fmt.Sprintf("%s.%d", s.path, i+1))
	}
	if s.maxBackups > 0 {
		if err := os.Rename(s.path, s.path+".1"); err != nil && !os.IsNotExist(err) {
			return err
		}
	} else {
		_ = os.Remove(s.path)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	s.file = f
	s.size = 0
	return nil
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Enqueuer hands an event off to the background queue. Implemented by
// jobs.Client so delivery survives a short database outage.
type Enqueuer interface {
	EnqueueAuditEvent(ctx context.Context, event Event) error
}

// QueueSink forwards events onto the job queue instead of writing them
// directly; a worker drains the queue into the structured store with retries.
type QueueSink struct {
	enqueuer Enqueuer
}

// NewQueueSink constructs a queue sink.
func NewQueueSink(enqueuer Enqueuer) *QueueSink {
	return &QueueSink{enqueuer: enqueuer}
}

// Name identifies the sink in logs and metrics.
func (s *QueueSink) Name() string { return "queue" }

// Write enqueues the event.
func (s *QueueSink) Write(ctx context.Context, event Event) error {
	if s.enqueuer == nil {
		return fmt.Errorf("audit: queue sink not configured")
	}
	return s.enqueuer.EnqueueAuditEvent(ctx, event)
}
