package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

var (
	ErrMissingTimestamp = errors.New("observation timestamp is required")
	ErrOutOfOrder       = errors.New("observation is older than the last one seen for this identity")
)

// PolicyConfig holds the periodic re-recording intervals of a continuing
// violation.
type PolicyConfig struct {
	IntervalWithFace    time.Duration
	IntervalWithoutFace time.Duration
	IntervalCritical    time.Duration
}

func (c PolicyConfig) Validate() error {
	if c.IntervalWithFace < 0 {
		return fmt.Errorf("interval with face must not be negative, got %s", c.IntervalWithFace)
	}
	if c.IntervalWithoutFace < 0 {
		return fmt.Errorf("interval without face must not be negative, got %s", c.IntervalWithoutFace)
	}
	if c.IntervalCritical < 0 {
		return fmt.Errorf("critical interval must not be negative, got %s", c.IntervalCritical)
	}
	return nil
}

// Policy is the per-identity recording state machine. Every call runs under
// the store lock, so concurrent callers are serialized.
type Policy struct {
	store *Store
	cfg   PolicyConfig
	newID func() string
}

func NewPolicy(store *Store, cfg PolicyConfig) (*Policy, error) {
	if store == nil {
		return nil, errors.New("session store is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Policy{
		store: store,
		cfg:   cfg,
		newID: func() string { return uuid.NewString() },
	}, nil
}

func (p *Policy) Config() PolicyConfig {
	return p.cfg
}

// Decide consumes one evaluated observation and reports whether it should be
// recorded and why.
func (p *Policy) Decide(obs models.Observation) (models.Decision, error) {
	if obs.Timestamp.IsZero() {
		return models.Decision{}, ErrMissingTimestamp
	}
	ts := obs.Timestamp
	severity := violationSeverity(obs)

	key, tracked := obs.Key()
	if !tracked {
		// Without identities there is nothing to deduplicate against.
		if obs.IsCompliant {
			return models.Decision{}, nil
		}
		return models.Decision{ShouldRecord: true, Reason: models.ReasonManual, Severity: severity}, nil
	}

	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	if last, ok := p.store.lastSeen(key); ok && ts.Before(last) {
		return models.Decision{}, fmt.Errorf("%w: %s at %s, last seen %s",
			ErrOutOfOrder, key, ts.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
	}

	sess, active := p.store.sessions[key]

	if obs.IsCompliant {
		p.store.marks[key] = complianceMark{compliant: true, seenAt: ts}
		if !active {
			return models.Decision{}, nil
		}
		delete(p.store.sessions, key)
		return models.Decision{
			ShouldRecord: true,
			Reason:       models.ReasonSessionEnd,
			SessionID:    sess.ID,
			RecordCount:  sess.RecordCount,
			Severity:     models.SeverityNone,
		}, nil
	}

	prev, hadMark := p.store.marks[key]
	p.store.marks[key] = complianceMark{compliant: false, seenAt: ts}

	if !active {
		reason := models.ReasonFirstDetection
		if hadMark && prev.compliant {
			reason = models.ReasonStatusChange
		}
		sess = &Session{
			ID:             p.newID(),
			Key:            key,
			StartedAt:      ts,
			LastSeenAt:     ts,
			LastRecordedAt: ts,
			Severity:       severity,
			MissingPPE:     append([]models.PPEItem(nil), obs.MissingPPE...),
			RecordCount:    1,
			HasFace:        obs.HasFace,
		}
		p.store.sessions[key] = sess
		return decision(sess, reason), nil
	}

	sess.LastSeenAt = ts
	sess.MissingPPE = append(sess.MissingPPE[:0], obs.MissingPPE...)
	sess.HasFace = sess.HasFace || obs.HasFace

	if severity != sess.Severity {
		sess.Severity = severity
		sess.LastRecordedAt = ts
		sess.RecordCount++
		return decision(sess, models.ReasonSeverityChange), nil
	}

	if ts.Sub(sess.LastRecordedAt) >= p.interval(sess) {
		sess.LastRecordedAt = ts
		sess.RecordCount++
		return decision(sess, models.ReasonIntervalElapsed), nil
	}

	return models.Decision{
		SessionID:   sess.ID,
		RecordCount: sess.RecordCount,
		Severity:    sess.Severity,
	}, nil
}

// interval picks the re-recording interval of a continuing session. Critical
// always wins; otherwise the sticky face flag selects the face interval.
func (p *Policy) interval(sess *Session) time.Duration {
	switch {
	case sess.Severity == models.SeverityCritical:
		return p.cfg.IntervalCritical
	case sess.HasFace:
		return p.cfg.IntervalWithFace
	default:
		return p.cfg.IntervalWithoutFace
	}
}

func decision(sess *Session, reason models.Reason) models.Decision {
	return models.Decision{
		ShouldRecord: true,
		Reason:       reason,
		SessionID:    sess.ID,
		RecordCount:  sess.RecordCount,
		Severity:     sess.Severity,
	}
}

// violationSeverity normalizes the tier of a non-compliant observation:
// unknown tiers and a contradictory "none" are treated as warning.
func violationSeverity(obs models.Observation) models.Severity {
	if obs.IsCompliant {
		return models.SeverityNone
	}
	sev := models.ParseSeverity(string(obs.Severity))
	if sev == models.SeverityNone {
		return models.SeverityWarning
	}
	return sev
}
