// Package config loads the greenhouse-controller YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/greenhouse-controller/internal/duty"
)

// Actuator kinds accepted in the configuration file.
var knownKinds = map[string]bool{
	"pump":   true,
	"valve":  true,
	"dimmer": true,
}

// Config models the controller configuration file.
type Config struct {
	Chip        string `yaml:"chip"`
	PinCount    int    `yaml:"pin_count"`
	SystemPins  []int  `yaml:"system_pins"`
	Broker      string `yaml:"broker"`
	HTTPAddr    string `yaml:"http_addr"`
	PollMs      int64  `yaml:"poll_ms"`
	HeartbeatMs int64  `yaml:"heartbeat_ms"`
	SettleMs    int64  `yaml:"settle_ms"`

	Breaker  BreakerConfig  `yaml:"breaker"`
	Recovery RecoveryConfig `yaml:"recovery"`

	Actuators []ActuatorConfig `yaml:"actuators"`
}

// BreakerConfig holds circuit breaker tuning shared by all breakers.
type BreakerConfig struct {
	FailureThreshold  int   `yaml:"failure_threshold"`
	RecoveryTimeoutMs int64 `yaml:"recovery_timeout_ms"`
	ProbeTimeoutMs    int64 `yaml:"probe_timeout_ms"`
}

// RecoveryConfig holds staged-recovery tuning.
type RecoveryConfig struct {
	InterActuatorDelayMs  int64 `yaml:"inter_actuator_delay_ms"`
	VerificationTimeoutMs int64 `yaml:"verification_timeout_ms"`
	MaxRetryAttempts      int   `yaml:"max_retry_attempts"`
	CriticalFirst         bool  `yaml:"critical_first"`
}

// ActuatorConfig describes one configured actuator.
type ActuatorConfig struct {
	ID       string     `yaml:"id"`
	Kind     string     `yaml:"kind"`
	Pin      int        `yaml:"pin"`
	Critical bool       `yaml:"critical"`
	Duty     DutyConfig `yaml:"duty"`
}

// DutyConfig holds per-actuator duty-cycle limits. Zero values disable
// the corresponding limit.
type DutyConfig struct {
	MaxActivationsPerWindow int   `yaml:"max_activations_per_window"`
	ActivationWindowMs      int64 `yaml:"activation_window_ms"`
	MaxSingleRuntimeMs      int64 `yaml:"max_single_runtime_ms"`
	CooldownPeriodMs        int64 `yaml:"cooldown_period_ms"`
}

// GuardConfig converts the YAML duty limits into a duty.Config.
func (d DutyConfig) GuardConfig() duty.Config {
	return duty.Config{
		MaxActivationsPerWindow: d.MaxActivationsPerWindow,
		ActivationWindow:        time.Duration(d.ActivationWindowMs) * time.Millisecond,
		MaxSingleRuntime:        time.Duration(d.MaxSingleRuntimeMs) * time.Millisecond,
		CooldownPeriod:          time.Duration(d.CooldownPeriodMs) * time.Millisecond,
	}
}

// Defaults applied by Load for fields left unset.
const (
	DefaultChip        = "gpiochip0"
	DefaultPinCount    = 28
	DefaultHTTPAddr    = ":8080"
	DefaultPollMs      = 500
	DefaultHeartbeatMs = 900000
	DefaultSettleMs    = 2
)

// Load reads, fills in defaults and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return FromYAML(data)
}

// FromYAML parses configuration bytes, applies defaults and validates.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Chip == "" {
		c.Chip = DefaultChip
	}
	if c.PinCount == 0 {
		c.PinCount = DefaultPinCount
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.PollMs == 0 {
		c.PollMs = DefaultPollMs
	}
	if c.HeartbeatMs == 0 {
		c.HeartbeatMs = DefaultHeartbeatMs
	}
	if c.SettleMs == 0 {
		c.SettleMs = DefaultSettleMs
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.PinCount < 1 {
		return fmt.Errorf("pin_count must be positive, got %d", c.PinCount)
	}
	systemPins := make(map[int]bool, len(c.SystemPins))
	for _, pin := range c.SystemPins {
		if pin < 0 || pin >= c.PinCount {
			return fmt.Errorf("system pin %d out of range 0..%d", pin, c.PinCount-1)
		}
		systemPins[pin] = true
	}

	seenIDs := make(map[string]bool, len(c.Actuators))
	seenPins := make(map[int]string, len(c.Actuators))
	for _, a := range c.Actuators {
		if a.ID == "" {
			return fmt.Errorf("actuator on pin %d has no id", a.Pin)
		}
		if seenIDs[a.ID] {
			return fmt.Errorf("duplicate actuator id %q", a.ID)
		}
		seenIDs[a.ID] = true

		if !knownKinds[a.Kind] {
			return fmt.Errorf("actuator %q has unknown kind %q", a.ID, a.Kind)
		}
		if a.Pin < 0 || a.Pin >= c.PinCount {
			return fmt.Errorf("actuator %q pin %d out of range 0..%d", a.ID, a.Pin, c.PinCount-1)
		}
		if systemPins[a.Pin] {
			return fmt.Errorf("actuator %q uses system-reserved pin %d", a.ID, a.Pin)
		}
		if other, taken := seenPins[a.Pin]; taken {
			return fmt.Errorf("actuators %q and %q both use pin %d", other, a.ID, a.Pin)
		}
		seenPins[a.Pin] = a.ID

		if a.Duty.MaxActivationsPerWindow > 0 && a.Duty.ActivationWindowMs <= 0 {
			return fmt.Errorf("actuator %q sets max_activations_per_window without activation_window_ms", a.ID)
		}
		if a.Duty.MaxSingleRuntimeMs > 0 && a.Duty.CooldownPeriodMs <= 0 {
			return fmt.Errorf("actuator %q sets max_single_runtime_ms without cooldown_period_ms", a.ID)
		}
	}

	if c.Breaker.FailureThreshold < 0 {
		return fmt.Errorf("breaker.failure_threshold must not be negative")
	}
	if c.Recovery.MaxRetryAttempts < 0 {
		return fmt.Errorf("recovery.max_retry_attempts must not be negative")
	}
	return nil
}
