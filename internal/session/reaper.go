package session

import (
	"context"
	"fmt"
	"time"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

// sweepBatch bounds how long one sweep holds the store lock.
const sweepBatch = 256

// SweepResult describes one pass of the reaper. Expired sessions are removed
// silently: no session_end record is produced for them.
type SweepResult struct {
	Removed     int
	Expired     []Session
	MarksPruned int
}

// Reaper removes sessions whose identity has not been observed within the
// grace period.
type Reaper struct {
	store *Store
	grace time.Duration
}

func NewReaper(store *Store, grace time.Duration) (*Reaper, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is nil")
	}
	if grace < 0 {
		return nil, fmt.Errorf("grace period must not be negative, got %s", grace)
	}
	return &Reaper{store: store, grace: grace}, nil
}

func (r *Reaper) Grace() time.Duration {
	return r.grace
}

// Sweep removes every session last seen more than the grace period before
// now, plus compliance marks equally stale. It works in batches and stops
// early when ctx is cancelled; unvisited entries are left for the next sweep.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	cutoff := now.Add(-r.grace)

	r.store.mu.Lock()
	sessionKeys := make([]models.TrackKey, 0, len(r.store.sessions))
	for key := range r.store.sessions {
		sessionKeys = append(sessionKeys, key)
	}
	markKeys := make([]models.TrackKey, 0, len(r.store.marks))
	for key := range r.store.marks {
		markKeys = append(markKeys, key)
	}
	r.store.mu.Unlock()

	for start := 0; start < len(sessionKeys); start += sweepBatch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := min(start+sweepBatch, len(sessionKeys))

		r.store.mu.Lock()
		for _, key := range sessionKeys[start:end] {
			sess, ok := r.store.sessions[key]
			if !ok || !sess.LastSeenAt.Before(cutoff) {
				continue
			}
			delete(r.store.sessions, key)
			res.Expired = append(res.Expired, sess.clone())
			res.Removed++
		}
		r.store.mu.Unlock()
	}

	for start := 0; start < len(markKeys); start += sweepBatch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		end := min(start+sweepBatch, len(markKeys))

		r.store.mu.Lock()
		for _, key := range markKeys[start:end] {
			m, ok := r.store.marks[key]
			if !ok || !m.seenAt.Before(cutoff) {
				continue
			}
			if _, active := r.store.sessions[key]; active {
				continue
			}
			delete(r.store.marks, key)
			res.MarksPruned++
		}
		r.store.mu.Unlock()
	}

	return res, nil
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, every time.Duration, now func() time.Time, onSweep func(SweepResult)) error {
	if every <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", every)
	}
	if now == nil {
		now = time.Now
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// A cancelled sweep is picked up by ctx.Done on the next turn.
			res, _ := r.Sweep(ctx, now())
			if onSweep != nil {
				onSweep(res)
			}
		}
	}
}
