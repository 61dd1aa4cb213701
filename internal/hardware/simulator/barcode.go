// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package simulator

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// DefaultDecodeDelay is how long a simulated scan takes to decode.
const DefaultDecodeDelay = 300 * time.Millisecond

// ErrNotOpen is returned by scanner operations made before Open.
const ErrNotOpen = errors.ConstError("barcode scanner not open")

// BarcodeConfig describes what the simulated scanner sees.
type BarcodeConfig struct {
	// Data is decoded by every scan. An empty value makes every scan fail.
	Data string
	// DecodeDelay is the time between starting a scan and its result.
	DecodeDelay time.Duration

	Clock clock.Clock
}

// Validate ensures that the config values are valid.
func (c BarcodeConfig) Validate() error {
	if c.DecodeDelay <= 0 {
		return errors.NotValidf("non-positive DecodeDelay")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Barcode is a simulated barcode scanner.
type Barcode struct {
	cfg BarcodeConfig

	mu       sync.Mutex
	onDecode func(string, bool)
	pending  clock.Timer
}

// NewBarcode returns a simulated scanner.
func NewBarcode(cfg BarcodeConfig) (*Barcode, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Barcode{cfg: cfg}, nil
}

// SetData changes what subsequent scans decode.
func (b *Barcode) SetData(data string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Data = data
}

// Open is part of the session.BarcodeDecoder interface.
func (b *Barcode) Open(onDecode func(data string, ok bool)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDecode = onDecode
	return nil
}

// Close is part of the session.BarcodeDecoder interface.
func (b *Barcode) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancel()
	b.onDecode = nil
	return nil
}

// StartScan is part of the session.BarcodeDecoder interface. The decode
// result is delivered after DecodeDelay unless the scan is stopped first.
func (b *Barcode) StartScan() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onDecode == nil {
		return ErrNotOpen
	}
	b.cancel()

	var timer clock.Timer
	timer = b.cfg.Clock.AfterFunc(b.cfg.DecodeDelay, func() {
		b.mu.Lock()
		if b.pending != timer {
			b.mu.Unlock()
			return
		}
		b.pending = nil
		onDecode, data := b.onDecode, b.cfg.Data
		b.mu.Unlock()

		if onDecode != nil {
			onDecode(data, data != "")
		}
	})
	b.pending = timer
	return nil
}

// StopScan is part of the session.BarcodeDecoder interface.
func (b *Barcode) StopScan() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.onDecode == nil {
		return ErrNotOpen
	}
	b.cancel()
	return nil
}

// cancel must be called with mu held.
func (b *Barcode) cancel() {
	if b.pending != nil {
		b.pending.Stop()
		b.pending = nil
	}
}
