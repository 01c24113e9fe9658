package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink receives a copy of every recorded event. Sinks fail independently; the
// recorder only treats an event as lost when every sink rejects it.
type Sink interface {
	Name() string
	Write(ctx context.Context, event Event) error
}

// Stats receives recorder health counts. Implemented by observability.Metrics.
type Stats interface {
	AuditSinkFailure(sink string)
	AuditEventDropped()
}

const (
	defaultBufferSize  = 256
	defaultSinkTimeout = 5 * time.Second
	drainTimeout       = 10 * time.Second
)

// Recorder fans audit events out to its sinks from a background goroutine.
// Record never blocks the request path: a full buffer drops the event with an
// error log instead of applying backpressure, and sink latency or failure is
// invisible to callers.
type Recorder struct {
	sinks  []Sink
	logger *slog.Logger
	stats  Stats

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewRecorder starts the dispatch loop. stats may be nil.
func NewRecorder(logger *slog.Logger, stats Stats, sinks ...Sink) *Recorder {
	r := &Recorder{
		sinks:  sinks,
		logger: logger,
		stats:  stats,
		events: make(chan Event, defaultBufferSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues the event for delivery. Fire-and-forget: the caller's
// context is only used to stamp missing fields, never awaited on.
func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = LevelAudit
	}
	select {
	case r.events <- event:
	default:
		if r.stats != nil {
			r.stats.AuditEventDropped()
		}
		if r.logger != nil {
			r.logger.Error("audit buffer full, event dropped",
				slog.String("action", event.Action),
				slog.String("entity", event.Entity))
		}
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.events {
		r.dispatch(event)
	}
}

func (r *Recorder) dispatch(event Event) {
	failures := 0
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSinkTimeout)
		err := sink.Write(ctx, event)
		cancel()
		if err == nil {
			continue
		}
		failures++
		if r.stats != nil {
			r.stats.AuditSinkFailure(sink.Name())
		}
		if r.logger != nil {
			r.logger.Error("audit sink write failed",
				slog.String("sink", sink.Name()),
				slog.String("action", event.Action),
				slog.Any("error", err))
		}
	}
	if len(r.sinks) > 0 && failures == len(r.sinks) && r.logger != nil {
		r.logger.Error("all audit sinks failed, event not persisted",
			slog.String("action", event.Action),
			slog.String("entity", event.Entity))
	}
}

// Close stops accepting events and drains the buffer, bounded by a deadline
// so shutdown cannot hang on a dead sink.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.events)
		select {
		case <-r.done:
		case <-time.After(drainTimeout):
			if r.logger != nil {
				r.logger.Warn("audit recorder drain timed out")
			}
		}
	})
}
