// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package simplesignalhandler

import (
	"context"
	"os"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/dependency"
)

// ManifoldConfig holds the signal source watched by the manifold.
type ManifoldConfig struct {
	Logger  Logger
	Signals <-chan os.Signal
	Handler SignalHandlerFunc
}

// Validate validates the manifold configuration.
func (cfg ManifoldConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if cfg.Signals == nil {
		return errors.NotValidf("nil Signals")
	}
	if cfg.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	return nil
}

// Manifold returns a manifold whose worker stops with the handler's error
// for the first signal received.
func Manifold(config ManifoldConfig) dependency.Manifold {
	return dependency.Manifold{
		Start: func(context.Context, dependency.Getter) (worker.Worker, error) {
			if err := config.Validate(); err != nil {
				return nil, errors.Trace(err)
			}
			w, err := NewSignalWatcher(config.Logger, config.Signals, config.Handler)
			if err != nil {
				return nil, errors.Trace(err)
			}
			return w, nil
		},
	}
}
