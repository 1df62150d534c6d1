package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/compliance"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/session"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/smoothing"
)

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type memorySink struct {
	mu     sync.Mutex
	events []models.ViolationEvent
	err    error
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Record(_ context.Context, ev models.ViolationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memorySink) Events() []models.ViolationEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ViolationEvent(nil), s.events...)
}

type engineFixture struct {
	engine   *Engine
	recorder *Recorder
	store    *session.Store
}

func newEngine(t *testing.T, cfg session.PolicyConfig, grace time.Duration, sweepEvery int) engineFixture {
	t.Helper()
	store := session.NewStore()
	policy, err := session.NewPolicy(store, cfg)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	reaper, err := session.NewReaper(store, grace)
	if err != nil {
		t.Fatalf("NewReaper: %v", err)
	}
	smoother, err := smoothing.New(0.7)
	if err != nil {
		t.Fatalf("smoothing.New: %v", err)
	}
	metrics := NewMetrics()
	recorder := NewRecorder(64, metrics)
	engine, err := NewEngine(EngineOptions{
		Evaluator:        compliance.NewEvaluator(nil, []string{"hard_hat", "vest"}, 0),
		Smoother:         smoother,
		Store:            store,
		Policy:           policy,
		Reaper:           reaper,
		Recorder:         recorder,
		Metrics:          metrics,
		SweepEveryFrames: sweepEvery,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engineFixture{engine: engine, recorder: recorder, store: store}
}

func id(v int64) *int64 { return &v }

func frame(at time.Duration, persons ...models.PersonDetection) models.FrameRequest {
	return models.FrameRequest{SourceID: "cam-1", Timestamp: base.Add(at), Persons: persons}
}

func person(track int64, labels ...string) models.PersonDetection {
	p := models.PersonDetection{TrackID: id(track), Box: models.Box{X: 10, Y: 10, Width: 40, Height: 90}}
	for _, l := range labels {
		p.Items = append(p.Items, models.DetectedItem{Label: l, Confidence: 0.9})
	}
	return p
}

func TestEngineEndToEnd(t *testing.T) {
	f := newEngine(t, session.PolicyConfig{
		IntervalWithFace:    60 * time.Second,
		IntervalWithoutFace: 3 * time.Second,
		IntervalCritical:    2 * time.Second,
	}, time.Minute, 0)
	ctx := context.Background()

	steps := []struct {
		at     time.Duration
		person models.PersonDetection
		record bool
		reason models.Reason
	}{
		{0, person(42), true, models.ReasonFirstDetection},
		{1 * time.Second, person(42), false, models.ReasonNone},
		{2 * time.Second, person(42), true, models.ReasonIntervalElapsed},
		{10 * time.Second, person(42, "helmet", "hi-vis vest"), true, models.ReasonSessionEnd},
	}

	for _, step := range steps {
		res, err := f.engine.ProcessFrame(ctx, frame(step.at, step.person))
		if err != nil {
			t.Fatalf("t=%s: ProcessFrame: %v", step.at, err)
		}
		d := res.Outcomes[0].Decision
		if d.ShouldRecord != step.record || d.Reason != step.reason {
			t.Fatalf("t=%s: decision = (%v, %q), want (%v, %q)", step.at, d.ShouldRecord, d.Reason, step.record, step.reason)
		}
	}

	first, _ := f.engine.ProcessFrame(ctx, frame(11*time.Second, person(42, "hard_hat", "vest")))
	if first.Outcomes[0].Decision.ShouldRecord {
		t.Fatal("compliant identity without session recorded")
	}

	stats := f.engine.Stats()
	if stats.Observations != 5 || stats.Records != 3 {
		t.Fatalf("observations=%d records=%d, want 5 and 3", stats.Observations, stats.Records)
	}
	if stats.RecordsByReason[models.ReasonIntervalElapsed] != 1 || stats.RecordsByReason[models.ReasonSessionEnd] != 1 {
		t.Errorf("by reason = %v", stats.RecordsByReason)
	}
	if stats.ActiveSessions != 0 {
		t.Errorf("active sessions = %d", stats.ActiveSessions)
	}
	if stats.RecordingRate != 3.0/5.0 {
		t.Errorf("recording rate = %v", stats.RecordingRate)
	}
	if f.recorder.Pending() != 3 {
		t.Errorf("queued events = %d, want 3", f.recorder.Pending())
	}
}

func TestEngineComplianceOutcome(t *testing.T) {
	f := newEngine(t, session.PolicyConfig{IntervalWithFace: time.Minute, IntervalWithoutFace: time.Minute, IntervalCritical: time.Minute}, time.Minute, 0)

	res, err := f.engine.ProcessFrame(context.Background(), frame(0, person(1, "Helmet")))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	out := res.Outcomes[0]
	if out.Compliance.Severity != models.SeverityWarning || out.Compliance.Score != 0.5 {
		t.Errorf("compliance = %+v", out.Compliance)
	}
	if out.Decision.Severity != models.SeverityWarning {
		t.Errorf("decision severity = %s", out.Decision.Severity)
	}
	sess, ok := f.store.Get(models.TrackKey{SourceID: "cam-1", TrackID: 1})
	if !ok || len(sess.MissingPPE) != 1 || sess.MissingPPE[0].Type != compliance.SafetyVest {
		t.Errorf("session missing ppe = %+v", sess.MissingPPE)
	}
}

func TestEngineRejectsOutOfOrderObservation(t *testing.T) {
	f := newEngine(t, session.PolicyConfig{IntervalWithFace: time.Minute, IntervalWithoutFace: time.Minute, IntervalCritical: time.Minute}, time.Minute, 0)
	ctx := context.Background()

	if _, err := f.engine.ProcessFrame(ctx, frame(10*time.Second, person(1))); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	res, err := f.engine.ProcessFrame(ctx, frame(5*time.Second, person(1), person(2)))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if res.Outcomes[0].Error == "" {
		t.Error("out-of-order observation accepted")
	}
	if res.Outcomes[1].Decision.Reason != models.ReasonFirstDetection {
		t.Errorf("other person in frame = %+v", res.Outcomes[1])
	}
	if got := f.engine.Stats().Rejected; got != 1 {
		t.Errorf("rejected = %d, want 1", got)
	}
}

func TestEngineRejectedObservationKeepsSmoothedBox(t *testing.T) {
	f := newEngine(t, session.PolicyConfig{IntervalWithFace: time.Minute, IntervalWithoutFace: time.Minute, IntervalCritical: time.Minute}, time.Minute, 0)
	ctx := context.Background()

	p := person(3)
	p.Box = models.Box{X: 0, Y: 0, Width: 50, Height: 100}
	f.engine.ProcessFrame(ctx, frame(10*time.Second, p))

	late := p
	late.Box = models.Box{X: 100, Y: 100, Width: 50, Height: 100}
	res, _ := f.engine.ProcessFrame(ctx, frame(5*time.Second, late))
	if res.Outcomes[0].Error == "" {
		t.Fatal("out-of-order observation accepted")
	}
	if res.Outcomes[0].Box != late.Box {
		t.Errorf("rejected outcome box = %+v, want raw %+v", res.Outcomes[0].Box, late.Box)
	}

	res, _ = f.engine.ProcessFrame(ctx, frame(11*time.Second, p))
	if got := res.Outcomes[0].Box; got != p.Box {
		t.Errorf("box after rejected frame = %+v, want %+v", got, p.Box)
	}
}

func TestEngineRequiresTimestamp(t *testing.T) {
	f := newEngine(t, session.PolicyConfig{}, time.Minute, 0)
	_, err := f.engine.ProcessFrame(context.Background(), models.FrameRequest{SourceID: "cam-1"})
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("err = %v, want ErrInvalidFrame", err)
	}
}

func TestEngineUntrackedRecordsManual(t *testing.T) {
	f := newEngine(t, session.PolicyConfig{IntervalWithFace: time.Minute, IntervalWithoutFace: time.Minute, IntervalCritical: time.Minute}, time.Minute, 0)

	p := person(0)
	p.TrackID = nil
	res, err := f.engine.ProcessFrame(context.Background(), models.FrameRequest{Timestamp: base, Persons: []models.PersonDetection{p}})
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if res.SourceID != DefaultSourceID {
		t.Errorf("source = %q", res.SourceID)
	}
	if d := res.Outcomes[0].Decision; !d.ShouldRecord || d.Reason != models.ReasonManual {
		t.Errorf("decision = %+v", d)
	}
}

func TestEngineFrameCountSweep(t *testing.T) {
	f := newEngine(t, session.PolicyConfig{IntervalWithFace: time.Minute, IntervalWithoutFace: time.Minute, IntervalCritical: time.Minute}, 5*time.Second, 2)
	ctx := context.Background()

	f.engine.ProcessFrame(ctx, frame(0, person(1)))
	if f.store.Len() != 1 {
		t.Fatal("session not created")
	}
	// Second frame triggers a sweep at frame time; track 1 is 10s stale.
	f.engine.ProcessFrame(ctx, frame(10*time.Second, person(2)))
	if _, ok := f.store.Get(models.TrackKey{SourceID: "cam-1", TrackID: 1}); ok {
		t.Error("stale session survived frame-count sweep")
	}
	if got := f.engine.Stats().SessionsExpired; got != 1 {
		t.Errorf("sessions expired = %d, want 1", got)
	}
}

func TestEngineSweepDoesNotRecord(t *testing.T) {
	f := newEngine(t, session.PolicyConfig{IntervalWithFace: time.Minute, IntervalWithoutFace: time.Minute, IntervalCritical: time.Minute}, 5*time.Second, 0)
	ctx := context.Background()

	f.engine.ProcessFrame(ctx, frame(0, person(1)))
	before := f.engine.Stats()

	res, err := f.engine.Sweep(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Removed != 1 {
		t.Fatalf("removed = %d", res.Removed)
	}
	after := f.engine.Stats()
	if after.Records != before.Records || after.RecordsByReason[models.ReasonSessionEnd] != 0 {
		t.Errorf("sweep produced records: %+v", after)
	}
}

func TestEngineResetTrack(t *testing.T) {
	f := newEngine(t, session.PolicyConfig{IntervalWithFace: time.Minute, IntervalWithoutFace: time.Minute, IntervalCritical: time.Minute}, time.Minute, 0)
	ctx := context.Background()

	p := person(5, "hard_hat", "vest")
	p.Box = models.Box{X: 0}
	f.engine.ProcessFrame(ctx, frame(0, p))

	f.engine.ResetTrack(models.TrackKey{SourceID: "cam-1", TrackID: 5})
	p.Box = models.Box{X: 100}
	res, _ := f.engine.ProcessFrame(ctx, frame(time.Second, p))
	if res.Outcomes[0].Box.X != 100 {
		t.Errorf("box after reset = %+v, want fresh baseline", res.Outcomes[0].Box)
	}
}
