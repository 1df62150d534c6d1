package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

// RecordSink persists or announces a recorded violation.
type RecordSink interface {
	Name() string
	Record(ctx context.Context, ev models.ViolationEvent) error
}

// Recorder moves record decisions off the decision path. Enqueue never
// blocks; when the queue is full the event is dropped and counted.
type Recorder struct {
	queue   chan models.ViolationEvent
	metrics *Metrics
	timeout time.Duration

	mu    sync.RWMutex
	sinks []RecordSink
}

func NewRecorder(size int, metrics *Metrics, sinks ...RecordSink) *Recorder {
	if size <= 0 {
		size = 256
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Recorder{
		queue:   make(chan models.ViolationEvent, size),
		metrics: metrics,
		timeout: 5 * time.Second,
		sinks:   sinks,
	}
}

// AddSink registers a sink. Safe to call while Run is active.
func (r *Recorder) AddSink(sink RecordSink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, sink)
	r.mu.Unlock()
}

func (r *Recorder) Enqueue(ev models.ViolationEvent) bool {
	if ev.Fingerprint == "" {
		ev.Fingerprint = ev.ComputeFingerprint()
	}
	select {
	case r.queue <- ev:
		return true
	default:
		r.metrics.IncrementDroppedEvents()
		slog.Warn("violation queue full, dropping event",
			"source_id", ev.SourceID,
			"reason", ev.Reason,
			"session_id", ev.SessionID)
		return false
	}
}

func (r *Recorder) Pending() int {
	return len(r.queue)
}

// Run delivers queued events until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-r.queue:
			r.deliver(ctx, ev)
		case <-ctx.Done():
			r.flush()
			return nil
		}
	}
}

func (r *Recorder) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	for {
		select {
		case ev := <-r.queue:
			r.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (r *Recorder) deliver(ctx context.Context, ev models.ViolationEvent) {
	r.mu.RLock()
	sinks := append([]RecordSink(nil), r.sinks...)
	r.mu.RUnlock()

	for _, sink := range sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := sink.Record(sinkCtx, ev)
		cancel()
		if err != nil {
			r.metrics.IncrementSinkErrors()
			slog.Error("violation sink failed",
				"sink", sink.Name(),
				"source_id", ev.SourceID,
				"reason", ev.Reason,
				"error", err)
		}
	}
}
