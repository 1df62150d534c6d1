// Package session tracks ongoing PPE violations per tracked person and
// decides when an observation is worth recording.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

// Session is the engine's record of one identity's ongoing violation.
//
// HasFace is sticky: once any observation in the session had a visible face
// it stays true until the session is destroyed.
type Session struct {
	ID             string           `json:"id"`
	Key            models.TrackKey  `json:"key"`
	StartedAt      time.Time        `json:"started_at"`
	LastSeenAt     time.Time        `json:"last_seen_at"`
	LastRecordedAt time.Time        `json:"last_recorded_at"`
	Severity       models.Severity  `json:"severity"`
	MissingPPE     []models.PPEItem `json:"missing_ppe"`
	RecordCount    int              `json:"record_count"`
	HasFace        bool             `json:"has_face"`
}

func (s *Session) clone() Session {
	c := *s
	c.MissingPPE = append([]models.PPEItem(nil), s.MissingPPE...)
	return c
}

// complianceMark remembers the last compliance state seen for an identity so
// a compliant -> non-compliant transition can be told apart from a first
// sighting.
type complianceMark struct {
	compliant bool
	seenAt    time.Time
}

// Store owns every in-flight session. It holds at most one session per key.
type Store struct {
	mu       sync.Mutex
	sessions map[models.TrackKey]*Session
	marks    map[models.TrackKey]complianceMark
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[models.TrackKey]*Session),
		marks:    make(map[models.TrackKey]complianceMark),
	}
}

// Get returns a copy of the session for key.
func (s *Store) Get(key models.TrackKey) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Snapshot returns copies of all sessions ordered by source then track.
func (s *Store) Snapshot() []Session {
	s.mu.Lock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.SourceID != out[j].Key.SourceID {
			return out[i].Key.SourceID < out[j].Key.SourceID
		}
		return out[i].Key.TrackID < out[j].Key.TrackID
	})
	return out
}

// Delete removes the session for key without emitting anything.
func (s *Store) Delete(key models.TrackKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[key]; !ok {
		return false
	}
	delete(s.sessions, key)
	return true
}

// lastSeen returns the latest timestamp known for key. Caller holds mu.
func (s *Store) lastSeen(key models.TrackKey) (time.Time, bool) {
	var last time.Time
	found := false
	if sess, ok := s.sessions[key]; ok {
		last, found = sess.LastSeenAt, true
	}
	if m, ok := s.marks[key]; ok && (!found || m.seenAt.After(last)) {
		last, found = m.seenAt, true
	}
	return last, found
}
