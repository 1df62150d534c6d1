package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/compliance"
	"github.com/huriyeeym/ppe-compliance-system-sub000/internal/session"
)

type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":50051"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"INFO"`
	Environment string `env:"ENVIRONMENT" envDefault:"production"`
	CORSOrigins string `env:"CORS_ORIGINS" envDefault:"*"`

	Policy Policy

	SweepIntervalSeconds int `env:"SWEEP_INTERVAL_SECONDS" envDefault:"10"`
	SweepEveryFrames     int `env:"SWEEP_EVERY_FRAMES" envDefault:"0"`
	EventQueueSize       int `env:"EVENT_QUEUE_SIZE" envDefault:"256"`
	MaxMessageSizeMB     int `env:"MAX_MESSAGE_SIZE_MB" envDefault:"16"`

	PolicyFile  string `env:"POLICY_FILE"`
	DatabaseURL string `env:"DATABASE_URL"`

	MQTTBroker      string `env:"MQTT_BROKER"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"ppe-compliance"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"ppe/violations"`
	MQTTQoS         int    `env:"MQTT_QOS" envDefault:"1"`
	MQTTPayload     string `env:"MQTT_PAYLOAD" envDefault:"json"`
}

// Policy is the option set of the violation engine. It can be overridden by
// a YAML policy file.
type Policy struct {
	RequiredPPE                []string          `env:"REQUIRED_PPE" envSeparator:"," envDefault:"hard_hat,safety_vest" yaml:"required_ppe"`
	SmoothingAlpha             float64           `env:"SMOOTHING_ALPHA" envDefault:"0.7" yaml:"smoothing_alpha"`
	IntervalWithFaceSeconds    int               `env:"INTERVAL_WITH_FACE_SECONDS" envDefault:"60" yaml:"interval_with_face_seconds"`
	IntervalWithoutFaceSeconds int               `env:"INTERVAL_WITHOUT_FACE_SECONDS" envDefault:"300" yaml:"interval_without_face_seconds"`
	IntervalCriticalSeconds    int               `env:"INTERVAL_CRITICAL_SECONDS" envDefault:"120" yaml:"interval_critical_seconds"`
	SessionGracePeriodSeconds  int               `env:"SESSION_GRACE_PERIOD_SECONDS" envDefault:"30" yaml:"session_grace_period_seconds"`
	MinItemConfidence          float64           `env:"MIN_ITEM_CONFIDENCE" envDefault:"0" yaml:"min_item_confidence"`
	Aliases                    map[string]string `yaml:"aliases"`
}

// policyOverlay mirrors Policy with optional fields so a file only replaces
// what it sets.
type policyOverlay struct {
	RequiredPPE                []string          `yaml:"required_ppe"`
	SmoothingAlpha             *float64          `yaml:"smoothing_alpha"`
	IntervalWithFaceSeconds    *int              `yaml:"interval_with_face_seconds"`
	IntervalWithoutFaceSeconds *int              `yaml:"interval_without_face_seconds"`
	IntervalCriticalSeconds    *int              `yaml:"interval_critical_seconds"`
	SessionGracePeriodSeconds  *int              `yaml:"session_grace_period_seconds"`
	MinItemConfidence          *float64          `yaml:"min_item_confidence"`
	Aliases                    map[string]string `yaml:"aliases"`
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

// DSNForLog hides the password of the database url.
func (c *Config) DSNForLog() string {
	if c.DatabaseURL == "" {
		return ""
	}
	at := strings.LastIndex(c.DatabaseURL, "@")
	scheme := strings.Index(c.DatabaseURL, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return "***"
	}
	creds := c.DatabaseURL[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon] + ":***"
	}
	return c.DatabaseURL[:scheme+3] + creds + c.DatabaseURL[at:]
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (p Policy) SessionPolicy() session.PolicyConfig {
	return session.PolicyConfig{
		IntervalWithFace:    time.Duration(p.IntervalWithFaceSeconds) * time.Second,
		IntervalWithoutFace: time.Duration(p.IntervalWithoutFaceSeconds) * time.Second,
		IntervalCritical:    time.Duration(p.IntervalCriticalSeconds) * time.Second,
	}
}

func (p Policy) GracePeriod() time.Duration {
	return time.Duration(p.SessionGracePeriodSeconds) * time.Second
}

// Canonicalizer builds the alias table for the evaluator.
func (p Policy) Canonicalizer() (*compliance.Canonicalizer, error) {
	return compliance.NewCanonicalizer(p.Aliases)
}

// LoadConfig reads .env (if present), the environment and the optional
// policy file, then validates the result.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using system environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.PolicyFile != "" {
		if err := cfg.LoadPolicyFile(cfg.PolicyFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadPolicyFile overlays the YAML policy file at path.
func (c *Config) LoadPolicyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	var o policyOverlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}

	p := &c.Policy
	if o.RequiredPPE != nil {
		p.RequiredPPE = o.RequiredPPE
	}
	if o.SmoothingAlpha != nil {
		p.SmoothingAlpha = *o.SmoothingAlpha
	}
	if o.IntervalWithFaceSeconds != nil {
		p.IntervalWithFaceSeconds = *o.IntervalWithFaceSeconds
	}
	if o.IntervalWithoutFaceSeconds != nil {
		p.IntervalWithoutFaceSeconds = *o.IntervalWithoutFaceSeconds
	}
	if o.IntervalCriticalSeconds != nil {
		p.IntervalCriticalSeconds = *o.IntervalCriticalSeconds
	}
	if o.SessionGracePeriodSeconds != nil {
		p.SessionGracePeriodSeconds = *o.SessionGracePeriodSeconds
	}
	if o.MinItemConfidence != nil {
		p.MinItemConfidence = *o.MinItemConfidence
	}
	if len(o.Aliases) > 0 {
		if p.Aliases == nil {
			p.Aliases = make(map[string]string, len(o.Aliases))
		}
		for k, v := range o.Aliases {
			p.Aliases[k] = v
		}
	}
	return nil
}

// Validate rejects configurations that would otherwise fail mid-stream.
func (c *Config) Validate() error {
	var errs []error
	p := c.Policy

	if math.IsNaN(p.SmoothingAlpha) || p.SmoothingAlpha < 0 || p.SmoothingAlpha > 1 {
		errs = append(errs, fmt.Errorf("smoothing_alpha must be in [0,1], got %v", p.SmoothingAlpha))
	}
	for name, v := range map[string]int{
		"interval_with_face_seconds":    p.IntervalWithFaceSeconds,
		"interval_without_face_seconds": p.IntervalWithoutFaceSeconds,
		"interval_critical_seconds":     p.IntervalCriticalSeconds,
		"session_grace_period_seconds":  p.SessionGracePeriodSeconds,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", name, v))
		}
	}
	if math.IsNaN(p.MinItemConfidence) || p.MinItemConfidence < 0 || p.MinItemConfidence > 1 {
		errs = append(errs, fmt.Errorf("min_item_confidence must be in [0,1], got %v", p.MinItemConfidence))
	}
	if _, err := p.Canonicalizer(); err != nil {
		errs = append(errs, fmt.Errorf("aliases: %w", err))
	}

	if c.SweepIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("sweep_interval_seconds must be positive, got %d", c.SweepIntervalSeconds))
	}
	if c.SweepEveryFrames < 0 {
		errs = append(errs, fmt.Errorf("sweep_every_frames must not be negative, got %d", c.SweepEveryFrames))
	}
	if c.EventQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("event_queue_size must be positive, got %d", c.EventQueueSize))
	}
	if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt_qos must be 0, 1 or 2, got %d", c.MQTTQoS))
	}
	switch c.MQTTPayload {
	case "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("mqtt_payload must be json or msgpack, got %q", c.MQTTPayload))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
