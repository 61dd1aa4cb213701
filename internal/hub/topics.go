// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hub carries aggregator and session output to consumers over a
// pubsub.SimpleHub, so that no consumer runs on a producer goroutine.
package hub

import (
	"github.com/juju/rfidagg/core/tag"
)

const (
	// TagsTopic carries TagBatchMessage values.
	TagsTopic = "tags"
	// BarcodeTopic carries BarcodeMessage values.
	BarcodeTopic = "barcode"
	// ConnectionTopic carries ConnectionMessage values.
	ConnectionTopic = "connection"
	// LocationTopic carries tag.LocationSample values.
	LocationTopic = "location"
	// LocationResultTopic carries LocationResultMessage values.
	LocationResultTopic = "location.result"
)

// Topics lists every topic published on the hub.
var Topics = []string{
	TagsTopic,
	BarcodeTopic,
	ConnectionTopic,
	LocationTopic,
	LocationResultTopic,
}

// TagBatchMessage is published on TagsTopic.
type TagBatchMessage struct {
	Batch tag.Batch `json:"batch"`
	// Payload is the serialized batch as it was compared for duplicates.
	Payload []byte `json:"-"`
}

// BarcodeMessage is published on BarcodeTopic.
type BarcodeMessage struct {
	Data string `json:"data"`
}

// ConnectionMessage is published on ConnectionTopic.
type ConnectionMessage struct {
	Connected bool `json:"connected"`
}

// LocationResultMessage is published on LocationResultTopic.
type LocationResultMessage struct {
	Started bool `json:"started"`
}
