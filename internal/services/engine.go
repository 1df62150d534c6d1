package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/compliance"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/session"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/smoothing"
)

const DefaultSourceID = "default"

var ErrInvalidFrame = errors.New("invalid frame")

type EngineOptions struct {
	Evaluator *compliance.Evaluator
	Smoother  *smoothing.Smoother
	Store     *session.Store
	Policy    *session.Policy
	Reaper    *session.Reaper
	Recorder  *Recorder
	Metrics   *Metrics

	// SweepEveryFrames runs a reaper sweep, at frame time, every N frames.
	// Zero leaves sweeping to RunReaper.
	SweepEveryFrames int
}

// Engine runs the per-frame pipeline: evaluate, smooth, decide, record.
type Engine struct {
	evaluator *compliance.Evaluator
	smoother  *smoothing.Smoother
	store     *session.Store
	policy    *session.Policy
	reaper    *session.Reaper
	recorder  *Recorder
	metrics   *Metrics

	sweepEvery int64
	frames     atomic.Int64
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	switch {
	case opts.Evaluator == nil:
		return nil, errors.New("engine: evaluator is required")
	case opts.Smoother == nil:
		return nil, errors.New("engine: smoother is required")
	case opts.Store == nil:
		return nil, errors.New("engine: session store is required")
	case opts.Policy == nil:
		return nil, errors.New("engine: policy is required")
	case opts.Reaper == nil:
		return nil, errors.New("engine: reaper is required")
	case opts.SweepEveryFrames < 0:
		return nil, fmt.Errorf("engine: sweep every frames must not be negative, got %d", opts.SweepEveryFrames)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Engine{
		evaluator:  opts.Evaluator,
		smoother:   opts.Smoother,
		store:      opts.Store,
		policy:     opts.Policy,
		reaper:     opts.Reaper,
		recorder:   opts.Recorder,
		metrics:    metrics,
		sweepEvery: int64(opts.SweepEveryFrames),
	}, nil
}

func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// ProcessFrame runs every person of one frame through the engine. A person
// whose observation is rejected (for example an out-of-order timestamp) gets
// an error in its outcome and produces no decision; the rest of the frame is
// still processed. The returned error covers frame-level problems only.
func (e *Engine) ProcessFrame(ctx context.Context, req models.FrameRequest) (models.FrameResult, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return models.FrameResult{}, err
	}
	if req.Timestamp.IsZero() {
		return models.FrameResult{}, fmt.Errorf("%w: timestamp is required", ErrInvalidFrame)
	}
	sourceID := strings.TrimSpace(req.SourceID)
	if sourceID == "" {
		sourceID = DefaultSourceID
	}

	res := models.FrameResult{
		SourceID:       sourceID,
		SequenceNumber: req.SequenceNumber,
		Timestamp:      req.Timestamp,
		Outcomes:       make([]models.PersonOutcome, 0, len(req.Persons)),
	}

	for _, person := range req.Persons {
		out := e.processPerson(sourceID, req.Timestamp, person)
		if out.Decision.ShouldRecord {
			res.Records++
		}
		res.Outcomes = append(res.Outcomes, out)
	}

	e.metrics.IncrementFrames()
	e.metrics.RecordLatency(time.Since(start))

	if n := e.frames.Add(1); e.sweepEvery > 0 && n%e.sweepEvery == 0 {
		e.sweep(ctx, req.Timestamp)
	}

	return res, nil
}

func (e *Engine) processPerson(sourceID string, ts time.Time, person models.PersonDetection) models.PersonOutcome {
	var key *models.TrackKey
	if person.TrackID != nil {
		key = &models.TrackKey{SourceID: sourceID, TrackID: *person.TrackID}
	}

	result := e.evaluator.Evaluate(person.Items)
	out := models.PersonOutcome{
		TrackID:    person.TrackID,
		Box:        person.Box,
		Compliance: result,
	}

	obs := models.Observation{
		SourceID:    sourceID,
		TrackID:     person.TrackID,
		IsCompliant: result.Compliant,
		Severity:    result.Severity,
		MissingPPE:  compliance.MissingItems(result),
		HasFace:     person.HasFace,
		Timestamp:   ts,
	}

	decision, err := e.policy.Decide(obs)
	if err != nil {
		e.metrics.IncrementRejected()
		slog.Warn("observation rejected",
			"source_id", sourceID,
			"track_id", trackLabel(person.TrackID),
			"error", err)
		out.Error = err.Error()
		return out
	}
	// Rejected observations never reach the smoother state.
	out.Box = e.smoother.Smooth(key, person.Box)
	e.metrics.IncrementObservations()
	out.Decision = decision

	if decision.ShouldRecord {
		e.metrics.RecordDecision(decision.Reason)
		slog.Debug("violation recorded",
			"source_id", sourceID,
			"track_id", trackLabel(person.TrackID),
			"reason", decision.Reason,
			"severity", decision.Severity,
			"session_id", decision.SessionID)
		if e.recorder != nil {
			e.recorder.Enqueue(models.ViolationEvent{
				SessionID:   decision.SessionID,
				SourceID:    sourceID,
				TrackID:     person.TrackID,
				Reason:      decision.Reason,
				Severity:    decision.Severity,
				MissingPPE:  result.MissingTypes,
				Score:       result.Score,
				RecordCount: decision.RecordCount,
				HasFace:     person.HasFace,
				Box:         out.Box,
				RecordedAt:  ts,
			})
		}
	}
	return out
}

// Sweep removes stale sessions and smoother state as of now.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (session.SweepResult, error) {
	return e.sweep(ctx, now)
}

func (e *Engine) sweep(ctx context.Context, now time.Time) (session.SweepResult, error) {
	res, err := e.reaper.Sweep(ctx, now)
	e.afterSweep(now, res)
	return res, err
}

func (e *Engine) afterSweep(now time.Time, res session.SweepResult) {
	pruned := e.smoother.Prune(now.Add(-e.reaper.Grace()))
	if res.Removed == 0 && pruned == 0 {
		return
	}
	e.metrics.AddExpiredSessions(res.Removed)
	for _, sess := range res.Expired {
		slog.Info("session expired without returning to compliance",
			"source_id", sess.Key.SourceID,
			"track_id", sess.Key.TrackID,
			"session_id", sess.ID,
			"severity", sess.Severity,
			"records", sess.RecordCount,
			"last_seen_at", sess.LastSeenAt)
	}
	slog.Debug("sweep finished",
		"sessions_removed", res.Removed,
		"marks_pruned", res.MarksPruned,
		"smoother_pruned", pruned)
}

// RunReaper sweeps on a wall-clock timer until ctx is done.
func (e *Engine) RunReaper(ctx context.Context, every time.Duration) error {
	return e.reaper.Run(ctx, every, time.Now, func(res session.SweepResult) {
		e.afterSweep(time.Now(), res)
	})
}

// ResetTrack forgets the smoothed geometry of one identity, used when the
// tracker reassigned it to a different person.
func (e *Engine) ResetTrack(key models.TrackKey) {
	e.smoother.Reset(key)
}

func (e *Engine) ResetAllTracks() {
	e.smoother.ResetAll()
}

func (e *Engine) ActiveSessions() []session.Session {
	return e.store.Snapshot()
}

func (e *Engine) Stats() models.Stats {
	s := e.metrics.Snapshot()
	s.ActiveSessions = e.store.Len()
	return s
}

func trackLabel(id *int64) string {
	if id == nil {
		return "untracked"
	}
	return fmt.Sprint(*id)
}
