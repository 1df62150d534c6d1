package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/database"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/services"
)

const maxFrameBody = 4 << 20

// ViolationLister reads recorded violations back. *database.ViolationStore
// implements it.
type ViolationLister interface {
	List(ctx context.Context, f database.ListFilter) ([]models.ViolationEvent, error)
	CountByReason(ctx context.Context) (map[models.Reason]int64, error)
	Ping(ctx context.Context) error
}

// Pinger reports whether an optional dependency is reachable.
type Pinger func() bool

type Options struct {
	Engine      *services.Engine
	Hub         *Hub
	Violations  ViolationLister
	Notifier    Pinger
	CORSOrigins string
	Version     string
}

type Handler struct {
	engine      *services.Engine
	hub         *Hub
	violations  ViolationLister
	notifier    Pinger
	corsOrigins string
	version     string
	startedAt   time.Time
}

func NewHandler(opts Options) *Handler {
	origins := opts.CORSOrigins
	if origins == "" {
		origins = "*"
	}
	return &Handler{
		engine:      opts.Engine,
		hub:         opts.Hub,
		violations:  opts.Violations,
		notifier:    opts.Notifier,
		corsOrigins: origins,
		version:     opts.Version,
		startedAt:   time.Now(),
	}
}

// Routes registers every HTTP endpoint on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/frames", h.withCORS(h.SubmitFrame))
	mux.HandleFunc("/api/stats", h.withCORS(h.GetStats))
	mux.HandleFunc("/api/sessions", h.withCORS(h.ListSessions))
	mux.HandleFunc("/api/tracks/reset", h.withCORS(h.ResetTrack))
	mux.HandleFunc("/api/violations", h.withCORS(h.ListViolations))
	mux.HandleFunc("/api/health", h.withCORS(h.Health))
	if h.hub != nil {
		mux.Handle("/ws", h.hub)
	}
	return mux
}

func (h *Handler) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", h.corsOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, models.ErrorResponse{
		Error:     msg,
		Timestamp: time.Now().Unix(),
		Code:      http.StatusText(code),
	})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// SubmitFrame handles POST /api/frames.
func (h *Handler) SubmitFrame(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req models.FrameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFrameBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	res, err := h.engine.ProcessFrame(r.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidFrame) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("frame processing failed", "source_id", req.SourceID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetStats handles GET /api/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	m := h.engine.Metrics()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":          h.engine.Stats(),
		"avg_latency_ms":  m.GetAvgLatency(),
		"last_frame_unix": m.GetLastFrameTime(),
		"websocket":       m.GetWebSocketMetrics(),
	})
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	sessions := h.engine.ActiveSessions()
	source := r.URL.Query().Get("source_id")

	out := make([]map[string]interface{}, 0, len(sessions))
	for _, s := range sessions {
		if source != "" && s.Key.SourceID != source {
			continue
		}
		out = append(out, map[string]interface{}{
			"id":               s.ID,
			"source_id":        s.Key.SourceID,
			"track_id":         s.Key.TrackID,
			"started_at":       s.StartedAt,
			"last_seen_at":     s.LastSeenAt,
			"last_recorded_at": s.LastRecordedAt,
			"severity":         s.Severity,
			"missing_ppe":      s.MissingPPE,
			"record_count":     s.RecordCount,
			"has_face":         s.HasFace,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": out,
		"count":    len(out),
	})
}

// ResetTrack handles POST /api/tracks/reset. Without a track id every
// smoothed box is forgotten.
func (h *Handler) ResetTrack(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req models.ResetTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	if req.TrackID == nil {
		h.engine.ResetAllTracks()
		slog.Info("all tracks reset")
		writeJSON(w, http.StatusOK, map[string]interface{}{"reset": "all"})
		return
	}

	source := strings.TrimSpace(req.SourceID)
	if source == "" {
		source = services.DefaultSourceID
	}
	key := models.TrackKey{SourceID: source, TrackID: *req.TrackID}
	h.engine.ResetTrack(key)
	slog.Info("track reset", "track", key.String())
	writeJSON(w, http.StatusOK, map[string]interface{}{"reset": key.String()})
}

// ListViolations handles GET /api/violations?source_id=&since=&limit=.
func (h *Handler) ListViolations(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if h.violations == nil {
		writeError(w, http.StatusServiceUnavailable, "Violation storage is not configured")
		return
	}

	q := r.URL.Query()
	filter := database.ListFilter{SourceID: q.Get("source_id")}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		filter.Since = since
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	events, err := h.violations.List(ctx, filter)
	if err != nil {
		slog.Error("failed to list violations", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch violations")
		return
	}
	counts, err := h.violations.CountByReason(ctx)
	if err != nil {
		slog.Error("failed to count violations", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch violations")
		return
	}
	if events == nil {
		events = []models.ViolationEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"violations": events,
		"by_reason":  counts,
	})
}

// Health handles GET /api/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	status := models.HealthStatus{
		Status:         "healthy",
		ActiveSessions: h.engine.Stats().ActiveSessions,
		Uptime:         time.Since(h.startedAt).Round(time.Second),
		Version:        h.version,
	}
	if h.hub != nil {
		status.ActiveClients = h.hub.ClientCount()
	}
	if h.violations != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		status.Database = h.violations.Ping(ctx) == nil
		cancel()
		if !status.Database {
			status.Status = "degraded"
		}
	}
	if h.notifier != nil {
		status.Notifier = h.notifier()
		if !status.Notifier {
			status.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, status)
}
