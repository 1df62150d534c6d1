package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/services"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
	wsSendBuffer = 256
)

// FrameProcessor runs one frame through the engine.
type FrameProcessor func(ctx context.Context, req models.FrameRequest) (models.FrameResult, error)

type WebSocketMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	ClientID  string      `json:"client_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsClient struct {
	conn     *websocket.Conn
	clientID string
	send     chan WebSocketMessage
	closed   bool
}

// Hub keeps the connected WebSocket clients, pushes every recorded violation
// to them and accepts frames from them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsClient

	metrics  *services.Metrics
	process  FrameProcessor
	upgrader websocket.Upgrader
}

func NewHub(metrics *services.Metrics, process FrameProcessor) *Hub {
	if metrics == nil {
		metrics = services.NewMetrics()
	}
	return &Hub{
		clients: make(map[string]*wsClient),
		metrics: metrics,
		process: process,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetProcessor wires the frame processor after construction.
func (h *Hub) SetProcessor(process FrameProcessor) {
	h.mu.Lock()
	h.process = process
	h.mu.Unlock()
}

func (h *Hub) Name() string {
	return "websocket"
}

// Record broadcasts a violation. It implements services.RecordSink. Slow
// clients miss messages instead of stalling the recorder.
func (h *Hub) Record(_ context.Context, ev models.ViolationEvent) error {
	h.Broadcast(WebSocketMessage{
		Type:      "VIOLATION",
		Timestamp: time.Now().Unix(),
		Payload:   ev,
	})
	return nil
}

func (h *Hub) Broadcast(msg WebSocketMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if !h.trySendLocked(c, msg) {
			h.metrics.IncrementWebSocketErrors()
			slog.Warn("websocket client too slow, message dropped", "client_id", c.clientID, "type", msg.Type)
		}
	}
}

func (h *Hub) trySendLocked(c *wsClient, msg WebSocketMessage) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (h *Hub) sendTo(c *wsClient, msg WebSocketMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.trySendLocked(c, msg)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = "client-" + uuid.NewString()
	}

	client := &wsClient{
		conn:     conn,
		clientID: clientID,
		send:     make(chan WebSocketMessage, wsSendBuffer),
	}

	h.mu.Lock()
	if prev, ok := h.clients[clientID]; ok {
		h.closeLocked(prev)
	}
	h.clients[clientID] = client
	h.mu.Unlock()
	h.metrics.IncrementWebSocketConnections()
	slog.Info("websocket client connected", "client_id", clientID)

	go h.writePump(client)

	h.sendTo(client, WebSocketMessage{
		Type:      "WELCOME",
		ClientID:  clientID,
		Timestamp: time.Now().Unix(),
		Payload: map[string]interface{}{
			"message": "Connected to PPE compliance engine",
			"version": "1.0",
		},
	})

	h.readPump(r.Context(), client)

	h.mu.Lock()
	if h.clients[clientID] == client {
		delete(h.clients, clientID)
	}
	h.closeLocked(client)
	h.mu.Unlock()
	h.metrics.DecrementWebSocketConnections()
	slog.Info("websocket client disconnected", "client_id", clientID)
}

// closeLocked closes the send channel once; writePump then closes the conn.
func (h *Hub) closeLocked(c *wsClient) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (h *Hub) readPump(ctx context.Context, client *wsClient) {
	defer client.conn.Close()

	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		var msg inboundMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.metrics.IncrementWebSocketErrors()
				slog.Warn("websocket read failed", "client_id", client.clientID, "error", err)
			}
			return
		}
		h.metrics.IncrementWebSocketMessages()

		switch msg.Type {
		case "PING":
			h.sendTo(client, WebSocketMessage{
				Type:      "PONG",
				ClientID:  client.clientID,
				Timestamp: time.Now().Unix(),
			})

		case "FRAME":
			h.sendTo(client, h.handleFrame(ctx, client.clientID, msg.Payload))

		default:
			slog.Debug("unknown websocket message type", "client_id", client.clientID, "type", msg.Type)
			h.sendTo(client, errorMessage(client.clientID, "unknown message type: "+msg.Type))
		}
	}
}

func (h *Hub) handleFrame(ctx context.Context, clientID string, payload json.RawMessage) WebSocketMessage {
	h.mu.RLock()
	process := h.process
	h.mu.RUnlock()
	if process == nil {
		return errorMessage(clientID, "frame processing unavailable")
	}

	var req models.FrameRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errorMessage(clientID, "invalid frame payload: "+err.Error())
	}
	res, err := process(ctx, req)
	if err != nil {
		return errorMessage(clientID, err.Error())
	}
	return WebSocketMessage{
		Type:      "DECISIONS",
		ClientID:  clientID,
		Timestamp: time.Now().Unix(),
		Payload:   res,
	}
}

func (h *Hub) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(msg); err != nil {
				h.metrics.IncrementWebSocketErrors()
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// CloseAll disconnects every client, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for clientID, c := range h.clients {
		h.closeLocked(c)
		slog.Info("closed websocket connection", "client_id", clientID)
	}
	h.clients = make(map[string]*wsClient)
}

func errorMessage(clientID, text string) WebSocketMessage {
	return WebSocketMessage{
		Type:      "ERROR",
		ClientID:  clientID,
		Timestamp: time.Now().Unix(),
		Payload:   models.ErrorResponse{Error: text, Timestamp: time.Now().Unix()},
	}
}
