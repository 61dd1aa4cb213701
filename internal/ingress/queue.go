// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ingress provides the staging area where raw reads accumulate
// between flush cycles.
package ingress

import (
	"sync"

	"github.com/juju/rfidagg/core/tag"
)

// Drained is the content of the queue taken by a single Drain call.
type Drained struct {
	// Entries holds one coalesced entry per identity, in order of first
	// arrival within the cycle.
	Entries []tag.Entry
	// Reads is the number of raw reads folded into Entries.
	Reads int
}

// Queue coalesces raw reads by identity. It is safe for concurrent use by
// any number of producers and a single drainer.
type Queue struct {
	mu      sync.Mutex
	entries map[string]int
	pending []tag.Entry
	reads   int
	dirty   bool
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{
		entries: make(map[string]int),
	}
}

// Submit records a raw read for identity. Empty identities are dropped.
func (q *Queue) Submit(identity, rssi string) {
	q.SubmitRead(tag.Read{EPC: identity, RSSI: rssi})
}

// SubmitRead records a raw read. It never blocks on the drainer.
func (q *Queue) SubmitRead(read tag.Read) {
	if read.EPC == "" {
		return
	}

	q.mu.Lock()
	if i, ok := q.entries[read.EPC]; ok {
		entry := &q.pending[i]
		entry.Count++
		entry.RSSI = read.RSSI
		if read.TID != "" {
			entry.DisplayID = read.DisplayID()
		}
	} else {
		q.entries[read.EPC] = len(q.pending)
		q.pending = append(q.pending, read.Entry())
	}
	q.reads++
	q.dirty = true
	q.mu.Unlock()
}

// Drain takes every pending entry and clears the queue.
func (q *Queue) Drain() Drained {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := Drained{
		Entries: q.pending,
		Reads:   q.reads,
	}
	q.reset()
	return drained
}

// Clear drops every pending entry.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.reset()
	q.mu.Unlock()
}

func (q *Queue) reset() {
	q.entries = make(map[string]int)
	q.pending = nil
	q.reads = 0
	q.dirty = false
}

// Dirty reports whether reads were submitted since the last drain or
// clear. The drainer checks it to skip empty cycles without taking the
// pending slice.
func (q *Queue) Dirty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dirty
}
