// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config reads the rfidaggd configuration file.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/juju/rfidagg/internal/hardware/simulator"
	"github.com/juju/rfidagg/internal/publish"
	"github.com/juju/rfidagg/internal/tagstore"
	"github.com/juju/rfidagg/internal/worker/aggregator"
	"github.com/juju/rfidagg/internal/worker/session"
)

const (
	// DefaultSocketPath is where the control socket listens.
	DefaultSocketPath = "/var/run/rfidagg/control.socket"
	// DefaultLoggingConfig is applied when none is configured.
	DefaultLoggingConfig = "<root>=INFO"
	// DefaultSimulatedTags is the population of the simulated field.
	DefaultSimulatedTags = 50
	// DefaultLogMaxSizeMB is the size at which the log file is rotated.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups is the number of rotated log files kept.
	DefaultLogMaxBackups = 2
)

// Config holds every setting of the daemon.
type Config struct {
	Aggregation   Aggregation `yaml:"aggregation"`
	Session       Session     `yaml:"session"`
	Simulator     Simulator   `yaml:"simulator"`
	Socket        Socket      `yaml:"socket"`
	Log           Log         `yaml:"log"`
	LoggingConfig string      `yaml:"logging-config"`
}

// Aggregation configures the aggregator worker.
type Aggregation struct {
	Capacity        int           `yaml:"capacity"`
	FullFraction    float64       `yaml:"full-fraction"`
	InitialInterval time.Duration `yaml:"initial-interval"`
	MinInterval     time.Duration `yaml:"min-interval"`
	MaxInterval     time.Duration `yaml:"max-interval"`
	IntervalStep    time.Duration `yaml:"interval-step"`
	BusyThreshold   int           `yaml:"busy-threshold"`
	QuietThreshold  int           `yaml:"quiet-threshold"`
}

// Policy returns the flush interval policy described by a.
func (a Aggregation) Policy() aggregator.IntervalPolicy {
	return aggregator.IntervalPolicy{
		Initial:        a.InitialInterval,
		Min:            a.MinInterval,
		Max:            a.MaxInterval,
		Step:           a.IntervalStep,
		BusyThreshold:  a.BusyThreshold,
		QuietThreshold: a.QuietThreshold,
	}
}

// Session configures the session worker.
type Session struct {
	PowerMin        int           `yaml:"power-min"`
	PowerMax        int           `yaml:"power-max"`
	ConnectAttempts int           `yaml:"connect-attempts"`
	ConnectDelay    time.Duration `yaml:"connect-delay"`
	PollInterval    time.Duration `yaml:"poll-interval"`
	ScanInterval    time.Duration `yaml:"scan-interval"`
	StopTimeout     time.Duration `yaml:"stop-timeout"`
}

// Simulator configures the simulated drivers.
type Simulator struct {
	Tags             int           `yaml:"tags"`
	WithTID          bool          `yaml:"with-tid"`
	ReadRate         float64       `yaml:"read-rate"`
	Buffered         bool          `yaml:"buffered"`
	LocationInterval time.Duration `yaml:"location-interval"`
	Barcode          string        `yaml:"barcode"`
	DecodeDelay      time.Duration `yaml:"decode-delay"`
}

// Socket configures the control socket.
type Socket struct {
	Path string `yaml:"path"`
}

// Log configures where log output goes. With no file, logs are written to
// stderr.
type Log struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() Config {
	policy := aggregator.DefaultIntervalPolicy()
	return Config{
		Aggregation: Aggregation{
			Capacity:        tagstore.DefaultCapacity,
			FullFraction:    publish.DefaultFullFraction,
			InitialInterval: policy.Initial,
			MinInterval:     policy.Min,
			MaxInterval:     policy.Max,
			IntervalStep:    policy.Step,
			BusyThreshold:   policy.BusyThreshold,
			QuietThreshold:  policy.QuietThreshold,
		},
		Session: Session{
			PowerMin:        session.DefaultPowerMin,
			PowerMax:        session.DefaultPowerMax,
			ConnectAttempts: session.DefaultConnectAttempts,
			ConnectDelay:    session.DefaultConnectDelay,
			PollInterval:    session.DefaultPollInterval,
			ScanInterval:    session.DefaultScanInterval,
			StopTimeout:     session.DefaultStopTimeout,
		},
		Simulator: Simulator{
			Tags:             DefaultSimulatedTags,
			ReadRate:         simulator.DefaultReadRate,
			LocationInterval: simulator.DefaultLocationInterval,
			DecodeDelay:      simulator.DefaultDecodeDelay,
		},
		Socket: Socket{
			Path: DefaultSocketPath,
		},
		Log: Log{
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
		},
		LoggingConfig: DefaultLoggingConfig,
	}
}

// ReadFile reads and validates the configuration at path.
func ReadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "opening config %q", path)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return Config{}, errors.Annotatef(err, "config %q", path)
	}
	return cfg, nil
}

// Read parses and validates a YAML configuration. Settings that are not
// present keep their default values. Unknown keys are rejected.
func Read(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, errors.Trace(err)
	}

	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, errors.NewNotValid(err, "parsing config")
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// Validate returns an error if the configuration cannot be used.
func (c Config) Validate() error {
	a := c.Aggregation
	if a.Capacity <= 0 {
		return errors.NotValidf("aggregation capacity %d", a.Capacity)
	}
	if a.FullFraction <= 0 || a.FullFraction > 1 {
		return errors.NotValidf("aggregation full-fraction %v", a.FullFraction)
	}
	if err := a.Policy().Validate(); err != nil {
		return errors.Annotate(err, "aggregation")
	}

	s := c.Session
	if s.PowerMin <= 0 || s.PowerMax < s.PowerMin {
		return errors.NotValidf("session power range [%d, %d]", s.PowerMin, s.PowerMax)
	}
	if s.ConnectAttempts <= 0 {
		return errors.NotValidf("session connect-attempts %d", s.ConnectAttempts)
	}
	for name, d := range map[string]time.Duration{
		"connect-delay": s.ConnectDelay,
		"poll-interval": s.PollInterval,
		"scan-interval": s.ScanInterval,
		"stop-timeout":  s.StopTimeout,
	} {
		if d <= 0 {
			return errors.NotValidf("session %s %v", name, d)
		}
	}

	sim := c.Simulator
	if sim.Tags < 0 {
		return errors.NotValidf("simulator tags %d", sim.Tags)
	}
	if sim.ReadRate <= 0 {
		return errors.NotValidf("simulator read-rate %v", sim.ReadRate)
	}
	if sim.LocationInterval <= 0 {
		return errors.NotValidf("simulator location-interval %v", sim.LocationInterval)
	}
	if sim.DecodeDelay <= 0 {
		return errors.NotValidf("simulator decode-delay %v", sim.DecodeDelay)
	}

	if c.Socket.Path == "" {
		return errors.NotValidf("empty socket path")
	}
	if c.Log.MaxSizeMB <= 0 {
		return errors.NotValidf("log max-size-mb %d", c.Log.MaxSizeMB)
	}
	if c.Log.MaxBackups < 0 {
		return errors.NotValidf("log max-backups %d", c.Log.MaxBackups)
	}
	return nil
}
