package services

import (
	"sync/atomic"
	"time"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

type Metrics struct {
	totalFrames       atomic.Int64
	totalObservations atomic.Int64
	totalRecords      atomic.Int64
	totalRejected     atomic.Int64
	totalLatency      atomic.Int64
	lastFrameTime     atomic.Int64

	sessionsExpired atomic.Int64
	droppedEvents   atomic.Int64
	sinkErrors      atomic.Int64

	byReason [len(reasonIndex)]atomic.Int64

	wsConnections atomic.Int64
	wsMessages    atomic.Int64
	wsErrors      atomic.Int64
}

var reasonIndex = [...]models.Reason{
	models.ReasonFirstDetection,
	models.ReasonStatusChange,
	models.ReasonSeverityChange,
	models.ReasonIntervalElapsed,
	models.ReasonSessionEnd,
	models.ReasonManual,
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncrementFrames() {
	m.totalFrames.Add(1)
	m.lastFrameTime.Store(time.Now().Unix())
}

func (m *Metrics) IncrementObservations() {
	m.totalObservations.Add(1)
}

func (m *Metrics) IncrementRejected() {
	m.totalRejected.Add(1)
}

// RecordDecision counts a record decision under its reason code.
func (m *Metrics) RecordDecision(reason models.Reason) {
	for i, r := range reasonIndex {
		if r == reason {
			m.byReason[i].Add(1)
			m.totalRecords.Add(1)
			return
		}
	}
}

func (m *Metrics) RecordLatency(duration time.Duration) {
	m.totalLatency.Add(duration.Microseconds())
}

func (m *Metrics) AddExpiredSessions(n int) {
	m.sessionsExpired.Add(int64(n))
}

func (m *Metrics) IncrementDroppedEvents() {
	m.droppedEvents.Add(1)
}

func (m *Metrics) IncrementSinkErrors() {
	m.sinkErrors.Add(1)
}

func (m *Metrics) GetTotalFrames() int64 {
	return m.totalFrames.Load()
}

func (m *Metrics) GetTotalObservations() int64 {
	return m.totalObservations.Load()
}

func (m *Metrics) GetTotalRecords() int64 {
	return m.totalRecords.Load()
}

// GetAvgLatency returns the mean frame processing time in milliseconds.
func (m *Metrics) GetAvgLatency() float64 {
	frames := m.totalFrames.Load()
	if frames == 0 {
		return 0
	}
	return float64(m.totalLatency.Load()) / float64(frames) / 1000
}

func (m *Metrics) GetLastFrameTime() int64 {
	return m.lastFrameTime.Load()
}

// Snapshot returns aggregate statistics. Active sessions are owned by the
// session store and filled in by the caller.
func (m *Metrics) Snapshot() models.Stats {
	s := models.Stats{
		Frames:          m.GetTotalFrames(),
		Observations:    m.GetTotalObservations(),
		Records:         m.GetTotalRecords(),
		RecordsByReason: make(map[models.Reason]int64, len(reasonIndex)),
		SessionsExpired: m.sessionsExpired.Load(),
		Rejected:        m.totalRejected.Load(),
		DroppedEvents:   m.droppedEvents.Load(),
		SinkErrors:      m.sinkErrors.Load(),
	}
	for i, r := range reasonIndex {
		s.RecordsByReason[r] = m.byReason[i].Load()
	}
	if s.Observations > 0 {
		s.RecordingRate = float64(s.Records) / float64(s.Observations)
	}
	return s
}

func (m *Metrics) IncrementWebSocketConnections() {
	m.wsConnections.Add(1)
}

// DecrementWebSocketConnections decrements WebSocket connection count
func (m *Metrics) DecrementWebSocketConnections() {
	m.wsConnections.Add(-1)
}

// GetWebSocketConnections returns current WebSocket connections
func (m *Metrics) GetWebSocketConnections() int64 {
	return m.wsConnections.Load()
}

// IncrementWebSocketMessages increments WebSocket message count
func (m *Metrics) IncrementWebSocketMessages() {
	m.wsMessages.Add(1)
}

// IncrementWebSocketErrors increments WebSocket error count
func (m *Metrics) IncrementWebSocketErrors() {
	m.wsErrors.Add(1)
}

// GetWebSocketMetrics returns WebSocket-specific metrics
func (m *Metrics) GetWebSocketMetrics() map[string]interface{} {
	return map[string]interface{}{
		"connections": m.wsConnections.Load(),
		"messages":    m.wsMessages.Load(),
		"errors":      m.wsErrors.Load(),
	}
}
