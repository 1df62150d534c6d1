package models

import (
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/crypto/blake2b"
)

// PersonDetection is one person box handed over by the detector/tracker.
type PersonDetection struct {
	TrackID    *int64         `json:"track_id,omitempty"`
	Box        Box            `json:"box"`
	Confidence float64        `json:"confidence"`
	Items      []DetectedItem `json:"items"`
	HasFace    bool           `json:"has_face"`
}

// FrameRequest carries every person detected in one frame of one source.
type FrameRequest struct {
	SourceID       string            `json:"source_id"`
	Timestamp      time.Time         `json:"timestamp"`
	SequenceNumber int64             `json:"sequence_number,omitempty"`
	Persons        []PersonDetection `json:"persons"`
}

type PersonOutcome struct {
	TrackID    *int64           `json:"track_id,omitempty"`
	Box        Box              `json:"box"`
	Compliance ComplianceResult `json:"compliance"`
	Decision   Decision         `json:"decision"`
	Error      string           `json:"error,omitempty"`
}

type FrameResult struct {
	SourceID       string          `json:"source_id"`
	SequenceNumber int64           `json:"sequence_number,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Outcomes       []PersonOutcome `json:"outcomes"`
	Records        int             `json:"records"`
}

// ViolationEvent is what downstream collaborators persist and notify on for
// every record decision.
type ViolationEvent struct {
	ID          int64     `json:"id,omitempty" msgpack:"id,omitempty"`
	Fingerprint string    `json:"fingerprint" msgpack:"fingerprint"`
	SessionID   string    `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	SourceID    string    `json:"source_id" msgpack:"source_id"`
	TrackID     *int64    `json:"track_id,omitempty" msgpack:"track_id,omitempty"`
	Reason      Reason    `json:"reason" msgpack:"reason"`
	Severity    Severity  `json:"severity" msgpack:"severity"`
	MissingPPE  []string  `json:"missing_ppe" msgpack:"missing_ppe"`
	Score       float64   `json:"compliance_score" msgpack:"compliance_score"`
	RecordCount int       `json:"record_count" msgpack:"record_count"`
	HasFace     bool      `json:"has_face" msgpack:"has_face"`
	Box         Box       `json:"box" msgpack:"box"`
	RecordedAt  time.Time `json:"recorded_at" msgpack:"recorded_at"`
}

// ComputeFingerprint derives a stable id from the fields that make an event
// unique, so replays of the same decision are stored once.
func (e ViolationEvent) ComputeFingerprint() string {
	track := "-"
	if e.TrackID != nil {
		track = strconv.FormatInt(*e.TrackID, 10)
	}
	h, _ := blake2b.New256(nil)
	for _, part := range []string{
		e.SourceID,
		track,
		e.SessionID,
		string(e.Reason),
		strconv.Itoa(e.RecordCount),
		e.RecordedAt.UTC().Format(time.RFC3339Nano),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Stats is the aggregate view of the engine.
type Stats struct {
	Frames          int64            `json:"frames"`
	Observations    int64            `json:"observations"`
	Records         int64            `json:"records"`
	ActiveSessions  int              `json:"active_sessions"`
	RecordsByReason map[Reason]int64 `json:"records_by_reason"`
	RecordingRate   float64          `json:"recording_rate"`
	SessionsExpired int64            `json:"sessions_expired"`
	Rejected        int64            `json:"rejected"`
	DroppedEvents   int64            `json:"dropped_events"`
	SinkErrors      int64            `json:"sink_errors"`
}

type ResetTrackRequest struct {
	SourceID string `json:"source_id"`
	TrackID  *int64 `json:"track_id,omitempty"`
}
