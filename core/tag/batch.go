// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tag

import "encoding/json"

// BatchKind describes whether a batch carries the whole tag table or only
// the records changed since the previous batch.
type BatchKind string

const (
	// Full batches replace the consumer's view of the tag table.
	Full BatchKind = "full"
	// Partial batches only carry the changed records.
	Partial BatchKind = "partial"
)

// Batch is a single emission to the consumer.
type Batch struct {
	Kind BatchKind `json:"kind"`
	Tags []Record  `json:"tags"`
}

// Marshal returns the wire encoding of the batch. Records are encoded in the
// order given, so equal batches always produce equal bytes.
func (b Batch) Marshal() ([]byte, error) {
	if b.Tags == nil {
		b.Tags = []Record{}
	}
	return json.Marshal(b)
}

// UnmarshalBatch decodes a batch previously produced by Marshal.
func UnmarshalBatch(data []byte) (Batch, error) {
	var b Batch
	err := json.Unmarshal(data, &b)
	return b, err
}
