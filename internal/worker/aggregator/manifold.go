// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aggregator

import (
	"context"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/dependency"

	"github.com/juju/rfidagg/core/sink"
)

// ManifoldConfig defines the names of the manifolds on which a Manifold
// will depend, and the tunables passed through to the worker.
type ManifoldConfig struct {
	HubName string

	Capacity     int
	Policy       IntervalPolicy
	FullFraction float64
	Metrics      *Collector

	NewSink   func(*pubsub.SimpleHub) sink.Sink
	NewWorker func(Config) (worker.Worker, error)

	Clock  clock.Clock
	Logger Logger
}

// Validate validates the manifold configuration.
func (cfg ManifoldConfig) Validate() error {
	if cfg.HubName == "" {
		return errors.NotValidf("empty HubName")
	}
	if cfg.NewSink == nil {
		return errors.NotValidf("nil NewSink")
	}
	if cfg.NewWorker == nil {
		return errors.NotValidf("nil NewWorker")
	}
	if cfg.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if cfg.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Manifold returns a dependency manifold that runs the aggregator worker,
// using the resource names defined in the supplied config.
func Manifold(config ManifoldConfig) dependency.Manifold {
	return dependency.Manifold{
		Inputs: []string{
			config.HubName,
		},
		Output: outputFunc,
		Start: func(ctx context.Context, getter dependency.Getter) (worker.Worker, error) {
			if err := config.Validate(); err != nil {
				return nil, errors.Trace(err)
			}

			var hub *pubsub.SimpleHub
			if err := getter.Get(config.HubName, &hub); err != nil {
				return nil, errors.Trace(err)
			}

			w, err := config.NewWorker(Config{
				Capacity:     config.Capacity,
				Policy:       config.Policy,
				FullFraction: config.FullFraction,
				Sink:         config.NewSink(hub),
				Metrics:      config.Metrics,
				Clock:        config.Clock,
				Logger:       config.Logger,
			})
			if err != nil {
				return nil, errors.Trace(err)
			}
			return w, nil
		},
	}
}

// NewManifoldWorker adapts NewWorker to ManifoldConfig.NewWorker.
func NewManifoldWorker(cfg Config) (worker.Worker, error) {
	w, err := NewWorker(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

func outputFunc(in worker.Worker, out interface{}) error {
	inWorker, _ := in.(*Worker)
	if inWorker == nil {
		return errors.Errorf("in should be a %T; got %T", inWorker, in)
	}
	switch outPointer := out.(type) {
	case **Worker:
		*outPointer = inWorker
	default:
		return errors.Errorf("out should be *aggregator.Worker; got %T", out)
	}
	return nil
}
