// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
	"github.com/juju/loggo/v2/loggocolor"
	"github.com/juju/lumberjack/v2"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4/dependency"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/juju/rfidagg/cmd/rfidaggd/daemon"
	"github.com/juju/rfidagg/internal/config"
	"github.com/juju/rfidagg/internal/hardware/simulator"
	"github.com/juju/rfidagg/internal/worker/aggregator"
	"github.com/juju/rfidagg/internal/worker/simplesignalhandler"
)

var logger = loggo.GetLogger("rfidagg.cmd")

func main() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	if err := run(os.Args[1:], os.Stderr, signals); err != nil {
		if errors.Is(err, gnuflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "rfidaggd: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath    string
	loggingConfig string
	logFile       string
	socketPath    string
	simulatedTags int
	barcode       string
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	f := gnuflag.NewFlagSet("rfidaggd", gnuflag.ContinueOnError)
	f.SetOutput(stderr)
	f.StringVar(&opts.configPath, "config", "", "path to the YAML configuration file")
	f.StringVar(&opts.configPath, "c", "", "")
	f.StringVar(&opts.loggingConfig, "logging-config", "", "logging configuration, e.g. <root>=DEBUG")
	f.StringVar(&opts.logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	f.StringVar(&opts.socketPath, "socket", "", "path of the control socket")
	f.IntVar(&opts.simulatedTags, "simulated-tags", -1, "number of tags in the simulated field")
	f.StringVar(&opts.barcode, "barcode", "", "data decoded by the simulated barcode scanner")
	if err := f.Parse(true, args); err != nil {
		return options{}, err
	}
	if extra := f.Args(); len(extra) > 0 {
		return options{}, errors.Errorf("unrecognized arguments: %q", extra)
	}
	return opts, nil
}

// loadConfig reads the configuration file, if any, and applies the flags
// given on the command line over it.
func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.ReadFile(opts.configPath); err != nil {
			return config.Config{}, errors.Trace(err)
		}
	}
	if opts.loggingConfig != "" {
		cfg.LoggingConfig = opts.loggingConfig
	}
	if opts.logFile != "" {
		cfg.Log.File = opts.logFile
	}
	if opts.socketPath != "" {
		cfg.Socket.Path = opts.socketPath
	}
	if opts.simulatedTags >= 0 {
		cfg.Simulator.Tags = opts.simulatedTags
	}
	if opts.barcode != "" {
		cfg.Simulator.Barcode = opts.barcode
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.Trace(err)
	}
	return cfg, nil
}

func run(args []string, stderr io.Writer, signals <-chan os.Signal) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := loggo.ReplaceDefaultWriter(newLogWriter(cfg.Log, stderr)); err != nil {
		return errors.Annotate(err, "replacing log writer")
	}
	if err := loggo.ConfigureLoggers(cfg.LoggingConfig); err != nil {
		return errors.Annotate(err, "configuring loggers")
	}

	reader, err := simulator.NewReader(simulator.ReaderConfig{
		Tags:             simulator.GenerateTags(cfg.Simulator.Tags),
		WithTID:          cfg.Simulator.WithTID,
		ReadRate:         cfg.Simulator.ReadRate,
		Buffered:         cfg.Simulator.Buffered,
		LocationInterval: cfg.Simulator.LocationInterval,
		Clock:            clock.WallClock,
		Logger:           loggo.GetLogger("rfidagg.simulator"),
	})
	if err != nil {
		return errors.Trace(err)
	}
	barcode, err := simulator.NewBarcode(simulator.BarcodeConfig{
		Data:        cfg.Simulator.Barcode,
		DecodeDelay: cfg.Simulator.DecodeDelay,
		Clock:       clock.WallClock,
	})
	if err != nil {
		return errors.Trace(err)
	}

	metrics := aggregator.NewMetricsCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := dependency.NewEngine(dependencyEngineConfig())
	if err != nil {
		return errors.Trace(err)
	}
	manifolds := daemon.Manifolds(daemon.ManifoldsConfig{
		Config: cfg,
		Hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: loggo.GetLogger("rfidagg.hub"),
		}),
		Reader:   reader,
		Barcode:  barcode,
		Metrics:  metrics,
		Gatherer: registry,
		Signals:  signals,
		Clock:    clock.WallClock,
	})
	if err := dependency.Install(engine, manifolds); err != nil {
		engine.Kill()
		_ = engine.Wait()
		return errors.Trace(err)
	}
	logger.Infof("rfidaggd started, control socket %q", cfg.Socket.Path)

	err = engine.Wait()
	if errors.Is(err, simplesignalhandler.ErrTerminate) {
		logger.Infof("rfidaggd stopped")
		return nil
	}
	return errors.Trace(err)
}

// newLogWriter returns a writer for the configured log file, or for stderr
// when there is none. Terminals get coloured output.
func newLogWriter(cfg config.Log, stderr io.Writer) loggo.Writer {
	if cfg.File != "" {
		return loggo.NewSimpleWriter(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		}, loggo.DefaultFormatter)
	}
	if f, ok := stderr.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return loggocolor.NewWriter(stderr)
	}
	return loggo.NewSimpleWriter(stderr, loggo.DefaultFormatter)
}

func dependencyEngineConfig() dependency.EngineConfig {
	return dependency.EngineConfig{
		IsFatal:          isFatal,
		WorstError:       moreImportantError,
		ErrorDelay:       3 * time.Second,
		BounceDelay:      10 * time.Millisecond,
		BackoffFactor:    1.2,
		BackoffResetTime: time.Minute,
		MaxDelay:         2 * time.Minute,
		Clock:            clock.WallClock,
		Metrics:          dependency.DefaultMetrics(),
		Logger:           loggo.GetLogger("rfidagg.dependency"),
	}
}

// isFatal reports whether err should stop the engine. Configuration that
// cannot be used will not improve by restarting the worker.
func isFatal(err error) bool {
	return errors.Is(err, simplesignalhandler.ErrTerminate) || errors.Is(err, errors.NotValid)
}

func moreImportantError(err0, err1 error) error {
	if isFatal(err0) || err1 == nil {
		return err0
	}
	return err1
}
