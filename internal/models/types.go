package models

import (
	"fmt"
	"strings"
	"time"
)

// Severity is the tier derived from how much required PPE is missing.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps a raw tier to a Severity. Unknown values degrade to
// warning so a bad upstream label never suppresses a recording.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityNone:
		return SeverityNone
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityWarning
	}
}

// Reason is the cause attached to a record decision.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonFirstDetection  Reason = "first_detection"
	ReasonStatusChange    Reason = "status_change"
	ReasonSeverityChange  Reason = "severity_change"
	ReasonIntervalElapsed Reason = "interval_elapsed"
	ReasonSessionEnd      Reason = "session_end"
	ReasonManual          Reason = "manual"
)

// Reasons lists every non-empty reason code in a stable order.
var Reasons = []Reason{
	ReasonFirstDetection,
	ReasonStatusChange,
	ReasonSeverityChange,
	ReasonIntervalElapsed,
	ReasonSessionEnd,
	ReasonManual,
}

// TrackKey identifies a tracked person. Tracker ids are only unique within a
// source, so every per-identity state is keyed by the pair.
type TrackKey struct {
	SourceID string `json:"source_id"`
	TrackID  int64  `json:"track_id"`
}

func (k TrackKey) String() string {
	return fmt.Sprintf("%s/%d", k.SourceID, k.TrackID)
}

// Box is a pixel-space rectangle.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DetectedItem is a raw PPE label reported by the detector.
type DetectedItem struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// PPEItem describes one piece of equipment in a missing list.
type PPEItem struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type ComplianceResult struct {
	DetectedTypes []string `json:"detected_types"`
	MissingTypes  []string `json:"missing_types"`
	Score         float64  `json:"compliance_score"`
	Severity      Severity `json:"severity"`
	Compliant     bool     `json:"compliant"`
}

// Observation is one evaluated person in one frame. TrackID is nil when the
// upstream tracker is disabled.
type Observation struct {
	SourceID    string    `json:"source_id"`
	TrackID     *int64    `json:"track_id,omitempty"`
	IsCompliant bool      `json:"is_compliant"`
	Severity    Severity  `json:"severity"`
	MissingPPE  []PPEItem `json:"missing_ppe"`
	HasFace     bool      `json:"has_face"`
	Timestamp   time.Time `json:"timestamp"`
}

// Key returns the tracking key of the observation, or false when untracked.
func (o Observation) Key() (TrackKey, bool) {
	if o.TrackID == nil {
		return TrackKey{}, false
	}
	return TrackKey{SourceID: o.SourceID, TrackID: *o.TrackID}, true
}

// Decision is the outcome of one recording-policy call.
type Decision struct {
	ShouldRecord bool     `json:"should_record"`
	Reason       Reason   `json:"reason,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	RecordCount  int      `json:"record_count,omitempty"`
	Severity     Severity `json:"severity,omitempty"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
	Code      string `json:"code,omitempty"`
}

type HealthStatus struct {
	Status         string        `json:"status"`
	ActiveSessions int           `json:"active_sessions"`
	ActiveClients  int           `json:"active_clients"`
	Database       bool          `json:"database"`
	Notifier       bool          `json:"notifier"`
	Uptime         time.Duration `json:"uptime"`
	Version        string        `json:"version,omitempty"`
}
