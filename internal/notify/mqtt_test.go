package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

func sampleEvent() models.ViolationEvent {
	track := int64(7)
	return models.ViolationEvent{
		Fingerprint: "abc",
		SessionID:   "s-1",
		SourceID:    "site/a",
		TrackID:     &track,
		Reason:      models.ReasonSeverityChange,
		Severity:    models.SeverityCritical,
		MissingPPE:  []string{"hard_hat"},
		RecordCount: 2,
		RecordedAt:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestNewMQTTNotifierValidates(t *testing.T) {
	if _, err := NewMQTTNotifier(MQTTConfig{}); err == nil {
		t.Error("missing broker accepted")
	}
	if _, err := NewMQTTNotifier(MQTTConfig{Broker: "localhost:1883", QoS: 3}); err == nil {
		t.Error("qos 3 accepted")
	}
	if _, err := NewMQTTNotifier(MQTTConfig{Broker: "localhost:1883", Payload: "xml"}); err == nil {
		t.Error("unknown payload accepted")
	}
}

func TestTopic(t *testing.T) {
	n, err := NewMQTTNotifier(MQTTConfig{Broker: "localhost:1883", TopicPrefix: "plant/ppe/"})
	if err != nil {
		t.Fatalf("NewMQTTNotifier: %v", err)
	}
	if got, want := n.Topic(sampleEvent()), "plant/ppe/site_a/severity_change"; got != want {
		t.Errorf("topic = %q, want %q", got, want)
	}
}

func TestEncode(t *testing.T) {
	ev := sampleEvent()

	j, _ := NewMQTTNotifier(MQTTConfig{Broker: "b"})
	raw, err := j.Encode(ev)
	if err != nil {
		t.Fatalf("Encode json: %v", err)
	}
	var fromJSON map[string]interface{}
	if err := json.Unmarshal(raw, &fromJSON); err != nil {
		t.Fatalf("json payload: %v", err)
	}
	if fromJSON["reason"] != "severity_change" {
		t.Errorf("json reason = %v", fromJSON["reason"])
	}

	m, _ := NewMQTTNotifier(MQTTConfig{Broker: "b", Payload: PayloadMsgpack})
	raw, err = m.Encode(ev)
	if err != nil {
		t.Fatalf("Encode msgpack: %v", err)
	}
	var back models.ViolationEvent
	if err := msgpack.Unmarshal(raw, &back); err != nil {
		t.Fatalf("msgpack payload: %v", err)
	}
	if back.SessionID != ev.SessionID || back.TrackID == nil || *back.TrackID != 7 {
		t.Errorf("msgpack event = %+v", back)
	}
}

func TestRecordWhenDisconnected(t *testing.T) {
	n, _ := NewMQTTNotifier(MQTTConfig{Broker: "localhost:1883"})
	if err := n.Record(context.Background(), sampleEvent()); err == nil {
		t.Fatal("publish without connection succeeded")
	}
	if n.Stats().Errors != 1 {
		t.Errorf("errors = %d, want 1", n.Stats().Errors)
	}
}
