// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package simplesignalhandler

import (
	"os"

	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"
)

// ErrTerminate is returned by the default handler when the daemon is asked
// to stop.
const ErrTerminate = errors.ConstError("termination requested")

// Logger represents the logging methods called.
type Logger interface {
	Infof(message string, args ...any)
}

// SignalHandlerFunc maps a received signal onto the error the watcher
// stops with.
type SignalHandlerFunc func(os.Signal) error

// SignalWatcher waits for a single signal and stops with the error its
// handler returns for it.
type SignalWatcher struct {
	catacomb catacomb.Catacomb
	handler  SignalHandlerFunc
	logger   Logger
	sigCh    <-chan os.Signal
}

// NewSignalWatcher returns a running SignalWatcher.
func NewSignalWatcher(logger Logger, sig <-chan os.Signal, handler SignalHandlerFunc) (*SignalWatcher, error) {
	s := &SignalWatcher{
		handler: handler,
		logger:  logger,
		sigCh:   sig,
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &s.catacomb,
		Work: s.watch,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

// SignalHandler returns a handler that looks the signal up in signalMap
// and falls back to defaultErr.
func SignalHandler(defaultErr error, signalMap map[os.Signal]error) SignalHandlerFunc {
	return func(sig os.Signal) error {
		if err, ok := signalMap[sig]; ok {
			return err
		}
		return defaultErr
	}
}

// Kill is part of the worker.Worker interface.
func (s *SignalWatcher) Kill() {
	s.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *SignalWatcher) Wait() error {
	return s.catacomb.Wait()
}

func (s *SignalWatcher) watch() error {
	select {
	case sig, ok := <-s.sigCh:
		if !ok {
			return errors.New("signal channel closed unexpectedly")
		}
		s.logger.Infof("received %v", sig)
		return s.handler(sig)
	case <-s.catacomb.Dying():
		return s.catacomb.ErrDying()
	}
}
