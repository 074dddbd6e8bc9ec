// Package config loads the socket-option defaults a cap.Socket starts
// with from a YAML file, mirroring the reference transport repo's
// config.ReadConfig("config.yaml") / config.AppConfig pattern used by
// its echoserver/echoclient programs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/capnetproto/cap/cap"
	yaml "gopkg.in/yaml.v2"
)

// Config is the YAML-serializable shape of a cap.Options. Durations
// are expressed in milliseconds on the wire so the file stays plain
// integers, the same choice the reference repo makes for its own
// millisecond-valued tuning knobs (PreferredMSS, PConnTimeout, etc).
type Config struct {
	Window             int  `yaml:"window"`
	PayloadMax         int  `yaml:"payload_max"`
	RTOInitialMs       int  `yaml:"rto_initial_ms"`
	RTOMinMs           int  `yaml:"rto_min_ms"`
	RTOMaxMs           int  `yaml:"rto_max_ms"`
	MaxRetries         int  `yaml:"max_retries"`
	HandshakeRetries   int  `yaml:"handshake_retries"`
	TimeWaitMs         int  `yaml:"time_wait_ms"`
	Nonblock           bool `yaml:"nonblock"`
	Debug              bool `yaml:"debug"`
}

// Default returns a Config carrying the spec-mandated defaults, ready
// to hand to Config.ToOptions without ever reading a file.
func Default() *Config {
	d := cap.DefaultOptions()
	return &Config{
		Window:           d.Window,
		PayloadMax:       d.PayloadMax,
		RTOInitialMs:      int(d.RTOInitial / time.Millisecond),
		RTOMinMs:          int(d.RTOMin / time.Millisecond),
		RTOMaxMs:          int(d.RTOMax / time.Millisecond),
		MaxRetries:       d.MaxRetries,
		HandshakeRetries: d.HandshakeRetries,
		TimeWaitMs:        int(d.TimeWait / time.Millisecond),
		Nonblock:         d.Nonblock,
		Debug:            false,
	}
}

// Load reads path as YAML and overlays it onto Default(). A missing
// file is not an error — callers that pass an empty path, or a path
// that doesn't exist, get the defaults back.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	bytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(bytes, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ToOptions converts the loaded config into a cap.Options a Socket
// can be Bind-ed with.
func (c *Config) ToOptions() *cap.Options {
	o := cap.DefaultOptions()
	o.Window = c.Window
	o.PayloadMax = c.PayloadMax
	o.RTOInitial = time.Duration(c.RTOInitialMs) * time.Millisecond
	o.RTOMin = time.Duration(c.RTOMinMs) * time.Millisecond
	o.RTOMax = time.Duration(c.RTOMaxMs) * time.Millisecond
	o.MaxRetries = c.MaxRetries
	o.HandshakeRetries = c.HandshakeRetries
	o.TimeWait = time.Duration(c.TimeWaitMs) * time.Millisecond
	o.Nonblock = c.Nonblock
	return o
}
