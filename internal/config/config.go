// Package config provides YAML configuration loading and validation for the
// sensor-logging node.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for the node.
type Config struct {
	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// StatusAddr is the listen address for the status API's /healthz,
	// /metrics, and /blocks routes (e.g. "127.0.0.1:9000"). Defaults to
	// "127.0.0.1:9000" when omitted.
	StatusAddr string `yaml:"status_addr"`

	// RAM holds the RAM ring's sizing and idle-flush parameters.
	RAM RAMConfig `yaml:"ram"`

	// Flash holds the flash ring's backing device and sizing parameters.
	Flash FlashConfig `yaml:"flash"`

	// Poster holds the collector connection and signing parameters. It is
	// optional: per §4.4, if it is missing or malformed the poster task is
	// not started, but the RAM→flash pipeline still runs. LoadConfig
	// reflects this by returning a nil Poster (not an error) when the
	// section is entirely absent, and an error only when it is present but
	// malformed.
	Poster *PosterConfig `yaml:"poster,omitempty"`

	// Producers lists the hardware wiring hints for the sensor drivers this
	// node starts. The core does not interpret these beyond passing them to
	// the matching producer constructor; unknown producer types are a
	// configuration error, not silently ignored, since a sensor nobody is
	// reading is a deployment mistake, not a degraded-but-valid one.
	Producers []ProducerConfig `yaml:"producers"`
}

// RAMConfig configures the in-RAM event ring.
type RAMConfig struct {
	// Buffers is the number of fixed-size buffers in the FIFO. Required,
	// must be at least 2 (one being written, one being saved).
	Buffers int `yaml:"buffers"`

	// BufferSize is the size in bytes of each buffer. Required, must be
	// large enough to hold the index header plus at least one event.
	BufferSize int `yaml:"buffer_size"`

	// HoldoffMS is how long, in milliseconds, an idle partially filled head
	// buffer is left before it becomes eligible for a flash write. Defaults
	// to 5000 when omitted.
	HoldoffMS int `yaml:"holdoff_ms"`
}

// FlashConfig configures the flash-resident block ring.
type FlashConfig struct {
	// DevicePath is the path to the backing store file (a real deployment
	// would instead address a raw flash partition or mtd device; this
	// module addresses a file as the host-portable substitute).
	DevicePath string `yaml:"device_path"`

	// SectorSize is the erase-block size in bytes. Required.
	SectorSize int `yaml:"sector_size"`

	// FirstSector and NumSectors delimit the range of the device's sectors
	// reserved for the ring, letting a partition host other data alongside
	// it. Required.
	FirstSector int `yaml:"first_sector"`
	NumSectors  int `yaml:"num_sectors"`

	// FlushIntervalMS bounds how long the flasher waits for a signal before
	// re-checking the RAM ring anyway. Defaults to 60000 when omitted.
	FlushIntervalMS int `yaml:"flush_interval_ms"`
}

// PosterConfig configures the collector connection and signing key.
type PosterConfig struct {
	// WebServer is the collector's hostname or IP. Required.
	WebServer string `yaml:"web_server"`

	// WebPort is the collector's TCP port. Required.
	WebPort int `yaml:"web_port"`

	// WebPath is the HTTP path the signed record is POSTed to. Required.
	WebPath string `yaml:"web_path"`

	// SensorID identifies this node to the collector. Required.
	SensorID uint32 `yaml:"sensor_id"`

	// KeyHex is the 287-byte pre-shared signing key, hex-encoded (574 hex
	// characters). Required.
	KeyHex string `yaml:"key_hex"`

	// DialTimeoutMS bounds how long connecting to the collector may take.
	// Defaults to 10000 when omitted.
	DialTimeoutMS int `yaml:"dial_timeout_ms"`
}

// ProducerConfig describes one sensor driver to start.
type ProducerConfig struct {
	// Name is a human-readable identifier, used only in logs.
	Name string `yaml:"name"`

	// Type selects which producer constructor handles this entry. Only
	// "synthetic" is implemented in this repository; other values are
	// reserved for real drivers external to it.
	Type string `yaml:"type"`

	// Code is the event code this producer's readings are tagged with.
	// Required.
	Code uint16 `yaml:"code"`

	// IntervalMS is the sampling period for poll-driven producer types.
	// Defaults to 30000 when omitted.
	IntervalMS int `yaml:"interval_ms"`
}

// KeyBytes decodes KeyHex. Call only after LoadConfig has validated it.
func (p PosterConfig) KeyBytes() []byte {
	b, _ := hex.DecodeString(p.KeyHex)
	return b
}

// posterKeySize is the required decoded length of PosterConfig.KeyHex, the
// pre-shared signing key size.
const posterKeySize = 287

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validProducerTypes = map[string]bool{
	"synthetic": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields. It returns a typed error
// describing every validation failure encountered.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StatusAddr == "" {
		cfg.StatusAddr = "127.0.0.1:9000"
	}
	if cfg.RAM.HoldoffMS == 0 {
		cfg.RAM.HoldoffMS = 5000
	}
	if cfg.Flash.FlushIntervalMS == 0 {
		cfg.Flash.FlushIntervalMS = 60000
	}
	if cfg.Poster != nil && cfg.Poster.DialTimeoutMS == 0 {
		cfg.Poster.DialTimeoutMS = 10000
	}
	for i := range cfg.Producers {
		if cfg.Producers[i].Type == "" {
			cfg.Producers[i].Type = "synthetic"
		}
		if cfg.Producers[i].IntervalMS == 0 {
			cfg.Producers[i].IntervalMS = 30000
		}
	}
}

func validate(cfg *Config) error {
	var errs []error

	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.RAM.Buffers < 2 {
		errs = append(errs, errors.New("ram.buffers must be at least 2"))
	}
	if cfg.RAM.BufferSize <= 0 {
		errs = append(errs, errors.New("ram.buffer_size must be positive"))
	}

	if cfg.Flash.DevicePath == "" {
		errs = append(errs, errors.New("flash.device_path is required"))
	}
	if cfg.Flash.SectorSize <= 0 {
		errs = append(errs, errors.New("flash.sector_size must be positive"))
	}
	if cfg.Flash.NumSectors <= 0 {
		errs = append(errs, errors.New("flash.num_sectors must be positive"))
	}
	if cfg.Flash.FirstSector < 0 {
		errs = append(errs, errors.New("flash.first_sector must not be negative"))
	}

	if cfg.Poster != nil {
		p := cfg.Poster
		if p.WebServer == "" {
			errs = append(errs, errors.New("poster.web_server is required"))
		}
		if p.WebPort <= 0 || p.WebPort > 65535 {
			errs = append(errs, fmt.Errorf("poster.web_port %d must be 1-65535", p.WebPort))
		}
		if p.WebPath == "" {
			errs = append(errs, errors.New("poster.web_path is required"))
		}
		key, err := hex.DecodeString(p.KeyHex)
		if err != nil {
			errs = append(errs, fmt.Errorf("poster.key_hex: %w", err))
		} else if len(key) != posterKeySize {
			errs = append(errs, fmt.Errorf("poster.key_hex decodes to %d bytes, want %d", len(key), posterKeySize))
		}
	}

	for i, p := range cfg.Producers {
		prefix := fmt.Sprintf("producers[%d]", i)
		if !validProducerTypes[p.Type] {
			errs = append(errs, fmt.Errorf("%s: type %q must be one of: synthetic", prefix, p.Type))
		}
		if p.Code == 0 {
			errs = append(errs, fmt.Errorf("%s: code is required", prefix))
		}
	}

	return errors.Join(errs...)
}

// HoldoffDuration returns RAM.HoldoffMS as a time.Duration.
func (c Config) HoldoffDuration() time.Duration {
	return time.Duration(c.RAM.HoldoffMS) * time.Millisecond
}

// FlushInterval returns Flash.FlushIntervalMS as a time.Duration.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.Flash.FlushIntervalMS) * time.Millisecond
}

// DialTimeout returns Poster.DialTimeoutMS as a time.Duration, or zero if
// Poster is nil.
func (c Config) DialTimeout() time.Duration {
	if c.Poster == nil {
		return 0
	}
	return time.Duration(c.Poster.DialTimeoutMS) * time.Millisecond
}
