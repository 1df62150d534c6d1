package smoothing

import (
	"testing"
	"time"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

func TestNewRejectsBadAlpha(t *testing.T) {
	for _, alpha := range []float64{-0.1, 1.01} {
		if _, err := New(alpha); err == nil {
			t.Errorf("New(%v) succeeded, want error", alpha)
		}
	}
	for _, alpha := range []float64{0, 0.7, 1} {
		if _, err := New(alpha); err != nil {
			t.Errorf("New(%v): %v", alpha, err)
		}
	}
}

func TestSmooth(t *testing.T) {
	s, err := New(0.7)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := &models.TrackKey{SourceID: "cam-1", TrackID: 7}

	first := models.Box{X: 0, Y: 10, Width: 50, Height: 100}
	if got := s.Smooth(key, first); got != first {
		t.Fatalf("baseline = %+v, want %+v", got, first)
	}

	got := s.Smooth(key, models.Box{X: 100, Y: 10, Width: 50, Height: 100})
	if got.X != 30 {
		t.Errorf("x = %d, want 30", got.X)
	}
	if got.Y != 10 || got.Width != 50 || got.Height != 100 {
		t.Errorf("unchanged coordinates moved: %+v", got)
	}

	// 0.7*30 + 0.3*100 = 51
	got = s.Smooth(key, models.Box{X: 100, Y: 10, Width: 50, Height: 100})
	if got.X != 51 {
		t.Errorf("x = %d, want 51", got.X)
	}
}

func TestSmoothUntracked(t *testing.T) {
	s, _ := New(0.9)
	box := models.Box{X: 1, Y: 2, Width: 3, Height: 4}
	if got := s.Smooth(nil, box); got != box {
		t.Errorf("untracked box changed: %+v", got)
	}
	if s.Len() != 0 {
		t.Errorf("untracked box stored state")
	}
}

func TestSmoothKeepsSourcesApart(t *testing.T) {
	s, _ := New(0.5)
	a := &models.TrackKey{SourceID: "cam-a", TrackID: 1}
	b := &models.TrackKey{SourceID: "cam-b", TrackID: 1}

	s.Smooth(a, models.Box{X: 0})
	if got := s.Smooth(b, models.Box{X: 100}); got.X != 100 {
		t.Errorf("cam-b baseline blended with cam-a: %+v", got)
	}
}

func TestReset(t *testing.T) {
	s, _ := New(0.7)
	key := &models.TrackKey{SourceID: "cam-1", TrackID: 3}

	s.Smooth(key, models.Box{X: 0})
	s.Reset(*key)
	if got := s.Smooth(key, models.Box{X: 100}); got.X != 100 {
		t.Errorf("after Reset x = %d, want fresh baseline 100", got.X)
	}

	s.Smooth(&models.TrackKey{SourceID: "cam-1", TrackID: 4}, models.Box{})
	s.ResetAll()
	if s.Len() != 0 {
		t.Errorf("ResetAll left %d states", s.Len())
	}
}

func TestPrune(t *testing.T) {
	now := time.Unix(1000, 0)
	s, _ := New(0.7)
	s.WithClock(func() time.Time { return now })

	s.Smooth(&models.TrackKey{TrackID: 1}, models.Box{})
	now = now.Add(time.Minute)
	s.Smooth(&models.TrackKey{TrackID: 2}, models.Box{})

	if removed := s.Prune(now.Add(-30 * time.Second)); removed != 1 {
		t.Fatalf("Prune removed %d, want 1", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}
