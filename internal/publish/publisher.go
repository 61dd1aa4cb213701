// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package publish decides which merge results reach the consumer, and in
// which form.
package publish

import (
	"bytes"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/juju/rfidagg/core/sink"
	"github.com/juju/rfidagg/core/tag"
)

// DefaultFullFraction is the changed fraction of the table above which a
// full batch is sent instead of a partial one.
const DefaultFullFraction = 0.5

// Outcome describes what a call to Publish did.
type Outcome int

const (
	// Skipped means there was nothing to publish, or no sink.
	Skipped Outcome = iota
	// Suppressed means the batch was identical to the previous one.
	Suppressed
	// PublishedFull means a full batch was delivered.
	PublishedFull
	// PublishedPartial means a partial batch was delivered.
	PublishedPartial
)

func (o Outcome) String() string {
	switch o {
	case Suppressed:
		return "suppressed"
	case PublishedFull:
		return "full"
	case PublishedPartial:
		return "partial"
	}
	return "skipped"
}

// Source is the view of the canonical store needed to build batches.
type Source interface {
	Len() int
	Snapshot() []tag.Record
	Records(set.Strings) []tag.Record
}

// Publisher builds and delivers batches. It is not safe for concurrent use.
type Publisher struct {
	sink         sink.Sink
	fullFraction float64
	last         []byte
}

// New returns a publisher delivering to s, which may be nil.
func New(s sink.Sink, fullFraction float64) *Publisher {
	if fullFraction <= 0 || fullFraction > 1 {
		fullFraction = DefaultFullFraction
	}
	return &Publisher{
		sink:         s,
		fullFraction: fullFraction,
	}
}

// Publish delivers the records named by changed. When forceFull is set the
// whole table is sent and never suppressed; this is used after eviction
// because a partial batch cannot express removals.
func (p *Publisher) Publish(src Source, changed set.Strings, forceFull bool) (Outcome, error) {
	if p.sink == nil {
		return Skipped, nil
	}
	if changed.IsEmpty() && !forceFull {
		return Skipped, nil
	}

	batch := tag.Batch{Kind: tag.Partial}
	if forceFull || float64(changed.Size()) > p.fullFraction*float64(src.Len()) {
		batch.Kind = tag.Full
		batch.Tags = src.Snapshot()
	} else {
		batch.Tags = src.Records(changed)
	}

	payload, err := batch.Marshal()
	if err != nil {
		return Skipped, errors.Annotate(err, "encoding tag batch")
	}
	if !forceFull && bytes.Equal(payload, p.last) {
		return Suppressed, nil
	}
	p.last = payload

	p.sink.OnTagBatch(batch, payload)
	if batch.Kind == tag.Full {
		return PublishedFull, nil
	}
	return PublishedPartial, nil
}

// Reset forgets the previously delivered batch.
func (p *Publisher) Reset() {
	p.last = nil
}
