// Package config loads the node's static configuration.
//
// Configuration is a YAML file whose values are applied over Default().
// Durations use Go syntax ("30s", "500ms"). Nothing here is compiled into
// the binary per device: node id and radio wiring come from the file.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"meshnode"
)

const (
	RadioSerial = "serial"
	RadioUDP    = "udp"
	RadioMemory = "memory"

	RelayNone = "none"
	RelayLog  = "log"
	RelayGPIO = "gpio"
)

// Config is the whole node configuration.
type Config struct {
	Node     Node     `yaml:"node"`
	Radio    Radio    `yaml:"radio"`
	Liveness Liveness `yaml:"liveness"`
	Relay    Relay    `yaml:"relay"`
	Report   Report   `yaml:"report"`
	Metrics  Metrics  `yaml:"metrics"`
	NTP      NTP      `yaml:"ntp"`
	Log      Log      `yaml:"log"`
}

type Node struct {
	// ID must be unique in the mesh. 0 and 255 are reserved.
	ID meshnode.NodeID `yaml:"id"`
}

type Radio struct {
	Kind string `yaml:"kind"`
	// InitRetry is the fixed delay between transport init attempts.
	InitRetry      time.Duration `yaml:"init_retry"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	AckTimeout     time.Duration `yaml:"ack_timeout"`
	Retries        int           `yaml:"retries"`
	MaxPayload     int           `yaml:"max_payload"`
	Serial         Serial        `yaml:"serial"`
	UDP            UDP           `yaml:"udp"`
}

type Serial struct {
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
}

type UDP struct {
	Listen    string `yaml:"listen"`
	Broadcast string `yaml:"broadcast"`
}

type Liveness struct {
	BroadcastPeriod time.Duration `yaml:"broadcast_period"`
	SweepPeriod     time.Duration `yaml:"sweep_period"`
	ReportPeriod    time.Duration `yaml:"report_period"`
	DeadThreshold   time.Duration `yaml:"dead_threshold"`
}

type Relay struct {
	Kind      string `yaml:"kind"`
	GPIOPath  string `yaml:"gpio_path,omitempty"`
	ActiveLow bool   `yaml:"active_low"`
}

type Report struct {
	Format string `yaml:"format"`
}

type Metrics struct {
	// Listen is the /metrics address. Empty disables the endpoint.
	Listen string `yaml:"listen,omitempty"`
}

type NTP struct {
	Enabled   bool          `yaml:"enabled"`
	Pool      string        `yaml:"pool"`
	Interval  time.Duration `yaml:"interval"`
	Threshold time.Duration `yaml:"threshold"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration the deployed firmware runs with, minus
// the node id, which has no sensible default.
func Default() Config {
	return Config{
		Radio: Radio{
			Kind:           RadioSerial,
			InitRetry:      3 * time.Second,
			ReceiveTimeout: 2 * time.Second,
			AckTimeout:     500 * time.Millisecond,
			Retries:        3,
			MaxPayload:     47, // one 58-byte E32 air packet minus link framing
			Serial: Serial{
				Device: "/dev/ttyS0",
				Baud:   9600,
			},
			UDP: UDP{
				Listen:    ":4210",
				Broadcast: "255.255.255.255:4210",
			},
		},
		Liveness: Liveness{
			BroadcastPeriod: 30 * time.Second,
			SweepPeriod:     10 * time.Second,
			ReportPeriod:    60 * time.Second,
			DeadThreshold:   60 * time.Second,
		},
		Relay: Relay{
			Kind:      RelayLog,
			ActiveLow: true,
		},
		Report: Report{Format: "log"},
		NTP: NTP{
			Pool:      "pool.ntp.org",
			Interval:  10 * time.Minute,
			Threshold: 500 * time.Millisecond,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads path and applies it over Default(). The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config file %s does not exist", path)
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes c to path, creating directories as needed.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate reports every problem found. It never modifies c.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Node.ID == 0 || c.Node.ID == meshnode.BroadcastID {
		add("node.id must be between 1 and 254, got %d", c.Node.ID)
	}

	switch c.Radio.Kind {
	case RadioSerial:
		if c.Radio.Serial.Device == "" {
			add("radio.serial.device is required")
		}
		if c.Radio.Serial.Baud <= 0 {
			add("radio.serial.baud must be positive")
		}
	case RadioUDP:
		if c.Radio.UDP.Listen == "" || c.Radio.UDP.Broadcast == "" {
			add("radio.udp.listen and radio.udp.broadcast are required")
		}
	case RadioMemory:
	default:
		add("radio.kind must be one of serial, udp, memory, got %q", c.Radio.Kind)
	}
	positive := map[string]time.Duration{
		"radio.init_retry":          c.Radio.InitRetry,
		"radio.receive_timeout":     c.Radio.ReceiveTimeout,
		"radio.ack_timeout":         c.Radio.AckTimeout,
		"liveness.broadcast_period": c.Liveness.BroadcastPeriod,
		"liveness.sweep_period":     c.Liveness.SweepPeriod,
		"liveness.report_period":    c.Liveness.ReportPeriod,
		"liveness.dead_threshold":   c.Liveness.DeadThreshold,
	}
	for _, name := range slices.Sorted(maps.Keys(positive)) {
		if positive[name] <= 0 {
			add("%s must be positive", name)
		}
	}
	if c.Radio.Retries < 0 {
		add("radio.retries must not be negative")
	}
	if c.Radio.MaxPayload < 1 || c.Radio.MaxPayload > 0xFF {
		add("radio.max_payload must be between 1 and 255, got %d", c.Radio.MaxPayload)
	}
	if c.Liveness.DeadThreshold > 0 && c.Liveness.DeadThreshold <= c.Liveness.BroadcastPeriod {
		add("liveness.dead_threshold (%s) must exceed liveness.broadcast_period (%s)",
			c.Liveness.DeadThreshold, c.Liveness.BroadcastPeriod)
	}

	switch c.Relay.Kind {
	case RelayNone, RelayLog:
	case RelayGPIO:
		if c.Relay.GPIOPath == "" {
			add("relay.gpio_path is required for gpio relays")
		}
	default:
		add("relay.kind must be one of none, log, gpio, got %q", c.Relay.Kind)
	}

	switch c.Report.Format {
	case "log", "table":
	default:
		add("report.format must be log or table, got %q", c.Report.Format)
	}

	if c.NTP.Enabled && (c.NTP.Pool == "" || c.NTP.Interval <= 0 || c.NTP.Threshold <= 0) {
		add("ntp.pool, ntp.interval and ntp.threshold are required when ntp is enabled")
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}
