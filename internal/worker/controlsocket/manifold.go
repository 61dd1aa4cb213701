// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package controlsocket

import (
	"context"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/dependency"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/rfidagg/internal/dispatch"
	"github.com/juju/rfidagg/internal/worker/session"
)

// ManifoldConfig describes the resources used by the controlsocket worker.
type ManifoldConfig struct {
	SessionName string
	HubName     string

	Topics            []string
	Gatherer          prometheus.Gatherer
	SocketName        string
	NewWorker         func(Config) (worker.Worker, error)
	NewSocketListener func(ListenerConfig) (worker.Worker, error)

	Clock  clock.Clock
	Logger Logger
}

// Validate validates the manifold configuration.
func (cfg ManifoldConfig) Validate() error {
	if cfg.SessionName == "" {
		return errors.NotValidf("empty SessionName")
	}
	if cfg.HubName == "" {
		return errors.NotValidf("empty HubName")
	}
	if cfg.Gatherer == nil {
		return errors.NotValidf("nil Gatherer")
	}
	if cfg.SocketName == "" {
		return errors.NotValidf("empty SocketName")
	}
	if cfg.NewWorker == nil {
		return errors.NotValidf("nil NewWorker")
	}
	if cfg.NewSocketListener == nil {
		return errors.NotValidf("nil NewSocketListener")
	}
	if cfg.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if cfg.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Manifold returns a dependency manifold that runs the controlsocket
// worker, using the resource names defined in the supplied config.
func Manifold(config ManifoldConfig) dependency.Manifold {
	return dependency.Manifold{
		Inputs: []string{
			config.SessionName,
			config.HubName,
		},
		Start: func(ctx context.Context, getter dependency.Getter) (worker.Worker, error) {
			if err := config.Validate(); err != nil {
				return nil, errors.Trace(err)
			}

			var sess *session.Worker
			if err := getter.Get(config.SessionName, &sess); err != nil {
				return nil, errors.Trace(err)
			}
			var hub *pubsub.SimpleHub
			if err := getter.Get(config.HubName, &hub); err != nil {
				return nil, errors.Trace(err)
			}

			w, err := config.NewWorker(Config{
				Dispatcher:        dispatch.New(sess, config.Logger),
				Hub:               hub,
				Topics:            config.Topics,
				Gatherer:          config.Gatherer,
				Clock:             config.Clock,
				Logger:            config.Logger,
				SocketName:        config.SocketName,
				NewSocketListener: config.NewSocketListener,
			})
			if err != nil {
				return nil, errors.Trace(err)
			}
			return w, nil
		},
	}
}
