// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package session

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	coreerrors "github.com/juju/rfidagg/core/errors"
	"github.com/juju/rfidagg/core/tag"
)

type inventoryConfig struct {
	SessionID    string
	Reader       Reader
	Submit       func(tag.Read)
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       Logger
}

// inventoryWorker feeds reads from a continuous inventory into the
// aggregator until it is killed.
type inventoryWorker struct {
	tomb tomb.Tomb
	cfg  inventoryConfig
}

func newInventoryWorker(cfg inventoryConfig) (*inventoryWorker, error) {
	w := &inventoryWorker{cfg: cfg}
	if err := cfg.Reader.StartInventory(w.onRead); err != nil {
		return nil, errors.Annotatef(coreerrors.HardwareUnavailable, "starting inventory: %v", err)
	}
	w.tomb.Go(w.loop)
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *inventoryWorker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *inventoryWorker) Wait() error {
	return w.tomb.Wait()
}

// onRead may be called on any driver goroutine. Reads arriving once the
// worker is dying are dropped.
func (w *inventoryWorker) onRead(read tag.Read) {
	select {
	case <-w.tomb.Dying():
		return
	default:
	}
	w.cfg.Submit(read)
}

func (w *inventoryWorker) loop() error {
	poller, ok := w.cfg.Reader.(Poller)
	if !ok {
		<-w.tomb.Dying()
		w.stopReader()
		return tomb.ErrDying
	}

	timer := w.cfg.Clock.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	for {
		select {
		case <-w.tomb.Dying():
			// Reads buffered up to the stop still belong to this inventory.
			w.stopReader()
			w.poll(poller, w.cfg.Submit)
			return tomb.ErrDying
		case <-timer.Chan():
			w.poll(poller, w.onRead)
			timer.Reset(w.cfg.PollInterval)
		}
	}
}

func (w *inventoryWorker) poll(poller Poller, submit func(tag.Read)) {
	reads, err := poller.Poll()
	if err != nil {
		w.cfg.Logger.Warningf("polling inventory %s: %v", w.cfg.SessionID, err)
	}
	for _, read := range reads {
		submit(read)
	}
}

func (w *inventoryWorker) stopReader() {
	if err := w.cfg.Reader.StopInventory(); err != nil {
		w.cfg.Logger.Warningf("stopping inventory %s: %v", w.cfg.SessionID, err)
	}
}
