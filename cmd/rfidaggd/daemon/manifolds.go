// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package daemon assembles the workers run by rfidaggd.
package daemon

import (
	"os"

	"github.com/juju/clock"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4/dependency"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/rfidagg/internal/config"
	"github.com/juju/rfidagg/internal/hub"
	"github.com/juju/rfidagg/internal/worker/aggregator"
	"github.com/juju/rfidagg/internal/worker/controlsocket"
	"github.com/juju/rfidagg/internal/worker/session"
	"github.com/juju/rfidagg/internal/worker/simplesignalhandler"
)

const (
	hubName           = "hub"
	aggregatorName    = "aggregator"
	sessionName       = "session"
	controlSocketName = "control-socket"
	signalHandlerName = "signal-handler"
)

// ManifoldsConfig holds the resources shared by the daemon's manifolds.
type ManifoldsConfig struct {
	Config config.Config

	Hub     *pubsub.SimpleHub
	Reader  session.Reader
	Barcode session.BarcodeDecoder

	// Metrics is registered with the registry behind Gatherer by the caller.
	Metrics  *aggregator.Collector
	Gatherer prometheus.Gatherer

	// Signals stop the daemon with simplesignalhandler.ErrTerminate.
	Signals <-chan os.Signal

	Clock clock.Clock
}

// Manifolds returns the manifolds that make up the daemon.
func Manifolds(config ManifoldsConfig) dependency.Manifolds {
	cfg := config.Config
	return dependency.Manifolds{
		hubName: hub.Manifold(hub.ManifoldConfig{
			Hub: config.Hub,
		}),

		aggregatorName: aggregator.Manifold(aggregator.ManifoldConfig{
			HubName:      hubName,
			Capacity:     cfg.Aggregation.Capacity,
			Policy:       cfg.Aggregation.Policy(),
			FullFraction: cfg.Aggregation.FullFraction,
			Metrics:      config.Metrics,
			NewSink:      hub.NewSink,
			NewWorker:    aggregator.NewManifoldWorker,
			Clock:        config.Clock,
			Logger:       loggo.GetLogger("rfidagg.aggregator"),
		}),

		sessionName: session.Manifold(session.ManifoldConfig{
			AggregatorName:  aggregatorName,
			HubName:         hubName,
			Reader:          config.Reader,
			Barcode:         config.Barcode,
			PowerMin:        cfg.Session.PowerMin,
			PowerMax:        cfg.Session.PowerMax,
			ConnectAttempts: cfg.Session.ConnectAttempts,
			ConnectDelay:    cfg.Session.ConnectDelay,
			PollInterval:    cfg.Session.PollInterval,
			ScanInterval:    cfg.Session.ScanInterval,
			StopTimeout:     cfg.Session.StopTimeout,
			NewSink:         hub.NewSink,
			NewWorker:       session.NewManifoldWorker,
			Clock:           config.Clock,
			Logger:          loggo.GetLogger("rfidagg.session"),
		}),

		controlSocketName: controlsocket.Manifold(controlsocket.ManifoldConfig{
			SessionName:       sessionName,
			HubName:           hubName,
			Topics:            hub.Topics,
			Gatherer:          config.Gatherer,
			SocketName:        cfg.Socket.Path,
			NewWorker:         controlsocket.NewWorker,
			NewSocketListener: controlsocket.NewSocketListener,
			Clock:             config.Clock,
			Logger:            loggo.GetLogger("rfidagg.controlsocket"),
		}),

		signalHandlerName: simplesignalhandler.Manifold(simplesignalhandler.ManifoldConfig{
			Logger:  loggo.GetLogger("rfidagg.signalhandler"),
			Signals: config.Signals,
			Handler: simplesignalhandler.SignalHandler(simplesignalhandler.ErrTerminate, nil),
		}),
	}
}
