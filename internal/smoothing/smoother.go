// Package smoothing stabilizes per-identity bounding boxes with an
// exponential moving average before they are drawn into recordings.
package smoothing

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

type state struct {
	x, y, w, h float64
	seenAt     time.Time
}

// Smoother keeps the last emitted box per identity. State is float64 so
// rounding does not drift across frames.
type Smoother struct {
	alpha float64
	now   func() time.Time

	mu     sync.Mutex
	states map[models.TrackKey]*state
}

// New returns a smoother. Alpha is the weight of the previous box: higher
// means smoother output and more lag.
func New(alpha float64) (*Smoother, error) {
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return nil, fmt.Errorf("smoothing alpha must be in [0,1], got %v", alpha)
	}
	return &Smoother{
		alpha:  alpha,
		now:    time.Now,
		states: make(map[models.TrackKey]*state),
	}, nil
}

// WithClock replaces the clock used to stamp state for Prune.
func (s *Smoother) WithClock(now func() time.Time) *Smoother {
	s.now = now
	return s
}

// Smooth returns the smoothed box for key. A nil key means the person is not
// tracked and the box is returned unchanged.
func (s *Smoother) Smooth(key *models.TrackKey, box models.Box) models.Box {
	if key == nil {
		return box
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	prev, ok := s.states[*key]
	if !ok {
		s.states[*key] = &state{
			x:      float64(box.X),
			y:      float64(box.Y),
			w:      float64(box.Width),
			h:      float64(box.Height),
			seenAt: now,
		}
		return box
	}

	a := s.alpha
	prev.x = a*prev.x + (1-a)*float64(box.X)
	prev.y = a*prev.y + (1-a)*float64(box.Y)
	prev.w = a*prev.w + (1-a)*float64(box.Width)
	prev.h = a*prev.h + (1-a)*float64(box.Height)
	prev.seenAt = now

	return models.Box{
		X:      int(math.Round(prev.x)),
		Y:      int(math.Round(prev.y)),
		Width:  int(math.Round(prev.w)),
		Height: int(math.Round(prev.h)),
	}
}

// Reset drops the state of one identity, typically after the tracker
// reassigned it to a different person.
func (s *Smoother) Reset(key models.TrackKey) {
	s.mu.Lock()
	delete(s.states, key)
	s.mu.Unlock()
}

func (s *Smoother) ResetAll() {
	s.mu.Lock()
	s.states = make(map[models.TrackKey]*state)
	s.mu.Unlock()
}

// Prune drops every identity not smoothed since cutoff.
func (s *Smoother) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, st := range s.states {
		if st.seenAt.Before(cutoff) {
			delete(s.states, key)
			removed++
		}
	}
	return removed
}

func (s *Smoother) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
