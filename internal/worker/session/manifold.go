// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package session

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/dependency"

	"github.com/juju/rfidagg/core/sink"
	"github.com/juju/rfidagg/internal/worker/aggregator"
)

// ManifoldConfig defines the names of the manifolds on which a Manifold
// will depend.
type ManifoldConfig struct {
	AggregatorName string
	HubName        string

	Reader  Reader
	Barcode BarcodeDecoder

	PowerMin        int
	PowerMax        int
	ConnectAttempts int
	ConnectDelay    time.Duration
	PollInterval    time.Duration
	ScanInterval    time.Duration
	StopTimeout     time.Duration

	NewSink   func(*pubsub.SimpleHub) sink.Sink
	NewWorker func(Config) (worker.Worker, error)

	Clock  clock.Clock
	Logger Logger
}

// Validate validates the manifold configuration.
func (cfg ManifoldConfig) Validate() error {
	if cfg.AggregatorName == "" {
		return errors.NotValidf("empty AggregatorName")
	}
	if cfg.HubName == "" {
		return errors.NotValidf("empty HubName")
	}
	if cfg.Reader == nil {
		return errors.NotValidf("nil Reader")
	}
	if cfg.Barcode == nil {
		return errors.NotValidf("nil Barcode")
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

// Manifold returns a dependency manifold that runs the session worker,
// using the resource names defined in the supplied config.
func Manifold(config ManifoldConfig) dependency.Manifold {
	return dependency.Manifold{
		Inputs: []string{
			config.AggregatorName,
			config.HubName,
		},
		Output: outputFunc,
		Start: func(ctx context.Context, getter dependency.Getter) (worker.Worker, error) {
			if err := config.Validate(); err != nil {
				return nil, errors.Trace(err)
			}

			var agg *aggregator.Worker
			if err := getter.Get(config.AggregatorName, &agg); err != nil {
				return nil, errors.Trace(err)
			}
			var hub *pubsub.SimpleHub
			if err := getter.Get(config.HubName, &hub); err != nil {
				return nil, errors.Trace(err)
			}

			w, err := config.NewWorker(Config{
				Reader:          config.Reader,
				Barcode:         config.Barcode,
				Aggregator:      agg,
				Sink:            config.NewSink(hub),
				PowerMin:        config.PowerMin,
				PowerMax:        config.PowerMax,
				ConnectAttempts: config.ConnectAttempts,
				ConnectDelay:    config.ConnectDelay,
				PollInterval:    config.PollInterval,
				ScanInterval:    config.ScanInterval,
				StopTimeout:     config.StopTimeout,
				Clock:           config.Clock,
				Logger:          config.Logger,
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
		return errors.Errorf("out should be *session.Worker; got %T", out)
	}
	return nil
}
