// Package notify announces recorded violations on an MQTT broker.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/models"
)

const (
	PayloadJSON    = "json"
	PayloadMsgpack = "msgpack"
)

type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	QoS         byte
	Payload     string
}

// MQTTNotifier publishes every recorded violation to
// <prefix>/<source_id>/<reason>.
type MQTTNotifier struct {
	cfg    MQTTConfig
	client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

func NewMQTTNotifier(cfg MQTTConfig) (*MQTTNotifier, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", cfg.QoS)
	}
	switch cfg.Payload {
	case "":
		cfg.Payload = PayloadJSON
	case PayloadJSON, PayloadMsgpack:
	default:
		return nil, fmt.Errorf("unknown mqtt payload format %q", cfg.Payload)
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "ppe/violations"
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")
	return &MQTTNotifier{
		cfg:       cfg,
		published: make(map[string]uint64),
	}, nil
}

// Connect establishes the broker connection with automatic reconnects.
func (n *MQTTNotifier) Connect(ctx context.Context) error {
	broker := n.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(n.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		n.setConnected(true)
		slog.Info("mqtt connection established", "broker", broker, "client_id", n.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		n.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "error", err)
	}

	n.client = mqtt.NewClient(opts)
	slog.Info("connecting to mqtt broker", "broker", broker)

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	token := n.client.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	n.setConnected(true)
	return nil
}

func (n *MQTTNotifier) Name() string {
	return "mqtt"
}

// Topic returns the topic an event is published on.
func (n *MQTTNotifier) Topic(ev models.ViolationEvent) string {
	source := ev.SourceID
	if source == "" {
		source = "default"
	}
	// MQTT wildcards and separators are not allowed inside a topic level.
	source = strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(source)
	return fmt.Sprintf("%s/%s/%s", n.cfg.TopicPrefix, source, ev.Reason)
}

// Encode renders an event in the configured payload format.
func (n *MQTTNotifier) Encode(ev models.ViolationEvent) ([]byte, error) {
	if n.cfg.Payload == PayloadMsgpack {
		return msgpack.Marshal(ev)
	}
	return json.Marshal(ev)
}

// Record publishes the event. It implements services.RecordSink.
func (n *MQTTNotifier) Record(ctx context.Context, ev models.ViolationEvent) error {
	if !n.IsConnected() {
		n.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := n.Encode(ev)
	if err != nil {
		n.countError()
		return fmt.Errorf("failed to encode violation: %w", err)
	}

	topic := n.Topic(ev)
	token := n.client.Publish(topic, n.cfg.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		n.countError()
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		n.countError()
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	n.mu.Lock()
	n.published[topic]++
	n.mu.Unlock()

	slog.Debug("violation published", "topic", topic, "qos", n.cfg.QoS, "size", len(payload))
	return nil
}

func (n *MQTTNotifier) Disconnect() {
	if n.client != nil && n.client.IsConnected() {
		n.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	n.setConnected(false)
}

type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (n *MQTTNotifier) Stats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	published := make(map[string]uint64, len(n.published))
	for k, v := range n.published {
		published[k] = v
	}
	return Stats{Connected: n.connected, Published: published, Errors: n.errors}
}

func (n *MQTTNotifier) IsConnected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.connected
}

func (n *MQTTNotifier) setConnected(v bool) {
	n.mu.Lock()
	n.connected = v
	n.mu.Unlock()
}

func (n *MQTTNotifier) countError() {
	n.mu.Lock()
	n.errors++
	n.mu.Unlock()
}
