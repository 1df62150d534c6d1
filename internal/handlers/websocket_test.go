package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

type wsReply struct {
	Type     string          `json:"type"`
	ClientID string          `json:"client_id"`
	Payload  json.RawMessage `json:"payload"`
}

func dialHub(t *testing.T, hub *Hub, clientID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?clientId=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	welcome := readReply(t, conn)
	if welcome.Type != "WELCOME" || welcome.ClientID != clientID {
		t.Fatalf("welcome = %+v", welcome)
	}
	return conn
}

func readReply(t *testing.T, conn *websocket.Conn) wsReply {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var r wsReply
	if err := conn.ReadJSON(&r); err != nil {
		t.Fatalf("read: %v", err)
	}
	return r
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubPingPong(t *testing.T) {
	engine := newTestEngine(t)
	hub := NewHub(engine.Metrics(), engine.ProcessFrame)
	conn := dialHub(t, hub, "viewer-1")

	if err := conn.WriteJSON(map[string]string{"type": "PING"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if r := readReply(t, conn); r.Type != "PONG" {
		t.Errorf("reply = %+v, want PONG", r)
	}

	if err := conn.WriteJSON(map[string]string{"type": "SUBSCRIBE"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if r := readReply(t, conn); r.Type != "ERROR" {
		t.Errorf("unknown type reply = %+v, want ERROR", r)
	}
}

func TestHubFrame(t *testing.T) {
	engine := newTestEngine(t)
	hub := NewHub(engine.Metrics(), engine.ProcessFrame)
	conn := dialHub(t, hub, "camera-7")

	msg := map[string]interface{}{
		"type":    "FRAME",
		"payload": frame("cam-7", t0, 3, "vest"),
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := readReply(t, conn)
	if r.Type != "DECISIONS" {
		t.Fatalf("reply = %s %s", r.Type, r.Payload)
	}
	var res models.FrameResult
	if err := json.Unmarshal(r.Payload, &res); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if res.SourceID != "cam-7" || res.Records != 1 {
		t.Errorf("result = %+v", res)
	}

	bad := map[string]interface{}{"type": "FRAME", "payload": map[string]string{"source_id": "cam-7"}}
	if err := conn.WriteJSON(bad); err != nil {
		t.Fatalf("write: %v", err)
	}
	if r := readReply(t, conn); r.Type != "ERROR" {
		t.Errorf("frame without timestamp reply = %+v", r)
	}
}

func TestHubBroadcastsViolations(t *testing.T) {
	engine := newTestEngine(t)
	hub := NewHub(engine.Metrics(), nil)
	a := dialHub(t, hub, "a")
	b := dialHub(t, hub, "b")
	waitForClients(t, hub, 2)

	track := int64(9)
	ev := models.ViolationEvent{SessionID: "s-9", SourceID: "cam-1", TrackID: &track, Reason: models.ReasonFirstDetection}
	if err := hub.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record: %v", err)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		r := readReply(t, conn)
		if r.Type != "VIOLATION" {
			t.Fatalf("reply = %+v", r)
		}
		var got models.ViolationEvent
		if err := json.Unmarshal(r.Payload, &got); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if got.SessionID != "s-9" || got.TrackID == nil || *got.TrackID != 9 {
			t.Errorf("event = %+v", got)
		}
	}

	a.Close()
	waitForClients(t, hub, 1)
	if got := engine.Metrics().GetWebSocketConnections(); got != 1 {
		t.Errorf("connections metric = %d, want 1", got)
	}
}

func TestHubCloseAll(t *testing.T) {
	hub := NewHub(nil, nil)
	conn := dialHub(t, hub, "x")
	waitForClients(t, hub, 1)

	hub.CloseAll()
	if hub.ClientCount() != 0 {
		t.Fatalf("clients after CloseAll = %d", hub.ClientCount())
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after CloseAll")
	}
}
