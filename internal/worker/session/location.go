// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package session

import (
	"gopkg.in/tomb.v2"

	"github.com/juju/rfidagg/core/sink"
	"github.com/juju/rfidagg/core/tag"
)

// locationWorker runs one tag location search. The driver call that
// starts the search blocks, so it runs on its own goroutine and its outcome
// is reported through the sink.
type locationWorker struct {
	tomb tomb.Tomb

	sessionID string
	identity  string
	distance  int
	reader    Reader
	sink      sink.Sink
	logger    Logger
}

func newLocationWorker(sessionID, identity string, distance int, reader Reader, s sink.Sink, logger Logger) *locationWorker {
	w := &locationWorker{
		sessionID: sessionID,
		identity:  identity,
		distance:  distance,
		reader:    reader,
		sink:      s,
		logger:    logger,
	}
	w.tomb.Go(w.loop)
	return w
}

// Kill is part of the worker.Worker interface.
func (w *locationWorker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *locationWorker) Wait() error {
	return w.tomb.Wait()
}

func (w *locationWorker) loop() error {
	started := make(chan error, 1)
	w.tomb.Go(func() error {
		started <- w.reader.StartLocation(w.identity, w.distance, w.onSample)
		return nil
	})

	select {
	case <-w.tomb.Dying():
		w.stop()
		return tomb.ErrDying
	case err := <-started:
		if err != nil {
			w.logger.Warningf("starting location %s for %q: %v", w.sessionID, w.identity, err)
			w.sink.OnLocationResult(false)
			return nil
		}
	}
	w.logger.Debugf("location %s for %q started at distance %d", w.sessionID, w.identity, w.distance)
	w.sink.OnLocationResult(true)

	<-w.tomb.Dying()
	w.stop()
	return tomb.ErrDying
}

func (w *locationWorker) onSample(sample tag.LocationSample) {
	select {
	case <-w.tomb.Dying():
		return
	default:
	}
	w.sink.OnLocationSample(sample)
}

func (w *locationWorker) stop() {
	if err := w.reader.StopLocation(); err != nil {
		w.logger.Warningf("stopping location %s: %v", w.sessionID, err)
	}
}
