// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hub

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/dependency"
	"gopkg.in/tomb.v2"
)

// ManifoldConfig holds the hub shared by the other manifolds.
type ManifoldConfig struct {
	Hub *pubsub.SimpleHub
}

// Manifold returns a manifold exposing the hub to its dependents.
func Manifold(config ManifoldConfig) dependency.Manifold {
	return dependency.Manifold{
		Output: outputFunc,
		Start: func(context.Context, dependency.Getter) (worker.Worker, error) {
			if config.Hub == nil {
				return nil, errors.NotValidf("nil Hub")
			}
			return newHubWorker(config.Hub), nil
		},
	}
}

// hubWorker only holds the hub for the dependency engine.
type hubWorker struct {
	tomb tomb.Tomb
	hub  *pubsub.SimpleHub
}

func newHubWorker(hub *pubsub.SimpleHub) *hubWorker {
	w := &hubWorker{hub: hub}
	w.tomb.Go(func() error {
		<-w.tomb.Dying()
		return nil
	})
	return w
}

// Kill is part of the worker.Worker interface.
func (w *hubWorker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *hubWorker) Wait() error {
	return w.tomb.Wait()
}

func outputFunc(in worker.Worker, out interface{}) error {
	inWorker, _ := in.(*hubWorker)
	if inWorker == nil {
		return errors.Errorf("in should be a %T; got %T", inWorker, in)
	}
	switch outPointer := out.(type) {
	case **pubsub.SimpleHub:
		*outPointer = inWorker.hub
	default:
		return errors.Errorf("out should be *pubsub.SimpleHub; got %T", out)
	}
	return nil
}
