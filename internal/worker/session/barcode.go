// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package session

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"gopkg.in/tomb.v2"

	"github.com/juju/rfidagg/core/sink"
)

// NoBarcode is returned by ReadBarcode when nothing has been decoded.
const NoBarcode = "FAIL"

// barcodeState is shared between the session worker and the decoder's
// callback goroutine.
type barcodeState struct {
	sink sink.Sink

	mu          sync.Mutex
	initialized bool
	scanning    bool
	continuous  bool
	last        string

	// decoded wakes the continuous scan worker after every decode.
	decoded chan struct{}
}

func newBarcodeState(s sink.Sink) *barcodeState {
	return &barcodeState{
		sink:    s,
		decoded: make(chan struct{}, 1),
	}
}

func (b *barcodeState) onDecode(data string, ok bool) {
	b.mu.Lock()
	if ok {
		b.last = data
	} else {
		data = sink.BarcodeFailure
	}
	b.scanning = false
	b.mu.Unlock()

	select {
	case b.decoded <- struct{}{}:
	default:
	}
	b.sink.OnBarcodeResult(data)
}

func (b *barcodeState) lastDecoded() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == "" {
		return NoBarcode
	}
	return b.last
}

func (b *barcodeState) forget() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = ""
}

func (b *barcodeState) update(f func(*barcodeState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f(b)
}

func (b *barcodeState) flags() (initialized, scanning, continuous bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized, b.scanning, b.continuous
}

// scanWorker keeps a barcode scan armed: it re-triggers the scanner after
// each decode, or when a scan has been running for the scan interval.
type scanWorker struct {
	tomb tomb.Tomb

	decoder  BarcodeDecoder
	decoded  <-chan struct{}
	interval time.Duration
	clock    clock.Clock
	logger   Logger
}

func newScanWorker(decoder BarcodeDecoder, decoded <-chan struct{}, interval time.Duration, clk clock.Clock, logger Logger) *scanWorker {
	w := &scanWorker{
		decoder:  decoder,
		decoded:  decoded,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}
	// Drop a wake-up left over from an earlier scan.
	select {
	case <-decoded:
	default:
	}
	w.tomb.Go(w.loop)
	return w
}

// Kill is part of the worker.Worker interface.
func (w *scanWorker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *scanWorker) Wait() error {
	return w.tomb.Wait()
}

func (w *scanWorker) loop() error {
	timer := w.clock.NewTimer(w.interval)
	defer timer.Stop()

	for {
		if err := w.decoder.StartScan(); err != nil {
			w.logger.Warningf("triggering barcode scan: %v", err)
		}

		select {
		case <-w.tomb.Dying():
			w.stopScan()
			return tomb.ErrDying
		case <-w.decoded:
			if !timer.Stop() {
				select {
				case <-timer.Chan():
				default:
				}
			}
		case <-timer.Chan():
			w.stopScan()
		}
		timer.Reset(w.interval)
	}
}

func (w *scanWorker) stopScan() {
	if err := w.decoder.StopScan(); err != nil {
		w.logger.Warningf("stopping barcode scan: %v", err)
	}
}
