// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package session

import (
	"context"

	"github.com/juju/rfidagg/core/tag"
)

// Reader is the RFID reader driver.
type Reader interface {
	// Init obtains the reader handle. onConnect is kept by the driver and
	// called whenever it later observes the connection change.
	Init(onConnect func(connected bool, code int)) error

	// Free releases the reader handle.
	Free() error

	// StartInventory begins continuous inventory, delivering each read to
	// onRead on a driver goroutine.
	StartInventory(onRead func(tag.Read)) error

	// StopInventory ends continuous inventory.
	StopInventory() error

	// InventorySingle performs one inventory round and returns the tag
	// read, or an error if no tag answered.
	InventorySingle() (tag.Read, error)

	// StartLocation blocks until the location search for identity has
	// started or failed. Samples are delivered to onSample until
	// StopLocation is called.
	StartLocation(identity string, distance int, onSample func(tag.LocationSample)) error

	// StopLocation ends a location search.
	StopLocation() error

	// SetPower sets the transmit power level.
	SetPower(level int) error

	// SetFrequencyMode sets the regulatory frequency mode.
	SetFrequencyMode(mode int) error
}

// Poller is implemented by readers that buffer reads in the driver rather
// than, or as well as, calling back.
type Poller interface {
	// Poll returns the reads buffered since the previous call.
	Poll() ([]tag.Read, error)
}

// BarcodeDecoder is the barcode scanner driver.
type BarcodeDecoder interface {
	// Open obtains the scanner. onDecode receives each decode attempt; ok
	// is false when the scanner could not decode anything.
	Open(onDecode func(data string, ok bool)) error
	Close() error
	StartScan() error
	StopScan() error
}

// Aggregator is the part of the aggregator worker used by sessions.
type Aggregator interface {
	SubmitRead(read tag.Read)
	Flush(ctx context.Context) error
	StartScheduling(ctx context.Context) error
	StopScheduling(ctx context.Context) error
	Clear(ctx context.Context) error
	HasTags(ctx context.Context) (bool, error)
	Snapshot(ctx context.Context) ([]tag.Record, error)
}

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
}
