// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package sink defines the consumer facing side of the aggregator. The
// transport that carries events to a UI or a remote process implements Sink.
package sink

import (
	"github.com/juju/rfidagg/core/tag"
)

// Sink receives every event destined for the consumer. Implementations must
// not block for long; delivery may be handed off to another goroutine.
type Sink interface {
	// OnTagBatch is called with every batch that survives duplicate
	// suppression. Payload is the wire encoding of Batch.
	OnTagBatch(batch tag.Batch, payload []byte)

	// OnBarcodeResult is called with every decoded barcode, or with
	// BarcodeFailure when a decode attempt failed.
	OnBarcodeResult(data string)

	// OnConnectionChanged is called when the reader connection changes.
	OnConnectionChanged(connected bool)

	// OnLocationResult reports whether a tag location session started.
	OnLocationResult(started bool)

	// OnLocationSample is called with every location quality reading.
	OnLocationSample(sample tag.LocationSample)
}

// BarcodeFailure is delivered to OnBarcodeResult when a decode failed.
const BarcodeFailure = "-1"
