// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package tagstore implements the canonical table of currently known tags.
package tagstore

import (
	"cmp"
	"slices"

	"github.com/juju/collections/set"

	"github.com/juju/rfidagg/core/tag"
)

// DefaultCapacity is the number of tags kept when no capacity is given.
const DefaultCapacity = 1000

type record struct {
	tag.Record
	seq uint64
}

// Store is the canonical tag table. It is not safe for concurrent use; the
// aggregator worker is its only owner.
type Store struct {
	capacity int
	records  map[string]*record
	nextSeq  uint64
}

// New returns an empty store bounded to capacity records.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		records:  make(map[string]*record),
	}
}

// Capacity returns the maximum number of records kept after eviction.
func (s *Store) Capacity() int {
	return s.capacity
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Merge folds the entries into the table and returns the identities that
// were inserted or updated. Entries are applied in order, so the last entry
// for an identity decides its rssi.
func (s *Store) Merge(entries []tag.Entry) set.Strings {
	changed := set.NewStrings()
	for _, e := range entries {
		if e.Identity == "" || e.Count <= 0 {
			continue
		}
		if r, ok := s.records[e.Identity]; ok {
			r.Count += e.Count
			r.RSSI = e.RSSI
			if e.DisplayID != "" {
				r.DisplayID = e.DisplayID
			}
		} else {
			displayID := e.DisplayID
			if displayID == "" {
				displayID = e.Identity
			}
			s.records[e.Identity] = &record{
				Record: tag.Record{
					Identity:  e.Identity,
					DisplayID: displayID,
					RSSI:      e.RSSI,
					Count:     e.Count,
				},
				seq: s.nextSeq,
			}
			s.nextSeq++
		}
		changed.Add(e.Identity)
	}
	return changed
}

// Evict removes the lowest count records, oldest first among equal counts,
// until the table is within capacity. It returns the evicted identities.
func (s *Store) Evict() []string {
	excess := len(s.records) - s.capacity
	if excess <= 0 {
		return nil
	}

	candidates := s.sorted(func(a, b *record) int {
		if n := cmp.Compare(a.Count, b.Count); n != 0 {
			return n
		}
		return cmp.Compare(a.seq, b.seq)
	})

	evicted := make([]string, 0, excess)
	for _, r := range candidates[:excess] {
		delete(s.records, r.Identity)
		evicted = append(evicted, r.Identity)
	}
	return evicted
}

// Get returns a copy of the record for identity.
func (s *Store) Get(identity string) (tag.Record, bool) {
	r, ok := s.records[identity]
	if !ok {
		return tag.Record{}, false
	}
	return r.Record, true
}

// Snapshot returns a copy of every record in insertion order.
func (s *Store) Snapshot() []tag.Record {
	return s.copies(s.sorted(bySeq))
}

// Records returns copies of the records for the given identities, in
// insertion order. Unknown identities are skipped.
func (s *Store) Records(identities set.Strings) []tag.Record {
	selected := make([]*record, 0, identities.Size())
	for _, id := range identities.Values() {
		if r, ok := s.records[id]; ok {
			selected = append(selected, r)
		}
	}
	slices.SortFunc(selected, bySeq)
	return s.copies(selected)
}

// Clear removes every record.
func (s *Store) Clear() {
	s.records = make(map[string]*record)
	s.nextSeq = 0
}

func (s *Store) sorted(compare func(a, b *record) int) []*record {
	all := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		all = append(all, r)
	}
	slices.SortFunc(all, compare)
	return all
}

func (s *Store) copies(records []*record) []tag.Record {
	out := make([]tag.Record, len(records))
	for i, r := range records {
		out[i] = r.Record
	}
	return out
}

func bySeq(a, b *record) int {
	return cmp.Compare(a.seq, b.seq)
}
