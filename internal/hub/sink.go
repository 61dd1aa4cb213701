// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hub

import (
	"github.com/juju/pubsub/v2"

	"github.com/juju/rfidagg/core/sink"
	"github.com/juju/rfidagg/core/tag"
)

// Sink publishes everything it receives on a hub.
type Sink struct {
	hub *pubsub.SimpleHub
}

// NewSink returns a Sink publishing on hub.
func NewSink(hub *pubsub.SimpleHub) sink.Sink {
	return &Sink{hub: hub}
}

// OnTagBatch is part of the sink.Sink interface.
func (s *Sink) OnTagBatch(batch tag.Batch, payload []byte) {
	_ = s.hub.Publish(TagsTopic, TagBatchMessage{Batch: batch, Payload: payload})
}

// OnBarcodeResult is part of the sink.Sink interface.
func (s *Sink) OnBarcodeResult(data string) {
	_ = s.hub.Publish(BarcodeTopic, BarcodeMessage{Data: data})
}

// OnConnectionChanged is part of the sink.Sink interface.
func (s *Sink) OnConnectionChanged(connected bool) {
	_ = s.hub.Publish(ConnectionTopic, ConnectionMessage{Connected: connected})
}

// OnLocationResult is part of the sink.Sink interface.
func (s *Sink) OnLocationResult(started bool) {
	_ = s.hub.Publish(LocationResultTopic, LocationResultMessage{Started: started})
}

// OnLocationSample is part of the sink.Sink interface.
func (s *Sink) OnLocationSample(sample tag.LocationSample) {
	_ = s.hub.Publish(LocationTopic, sample)
}
