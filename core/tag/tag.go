// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tag

import "strings"

// Read is a single raw read reported by the reader driver.
type Read struct {
	// EPC is the electronic product code, used as the identity of the tag.
	EPC string
	// TID is the optional tag identifier memory bank.
	TID string
	// RSSI is the signal strength as reported by the driver.
	RSSI string
}

// DisplayID returns the human facing identifier of the read. The TID is
// only prefixed when the driver reported a meaningful one.
func (r Read) DisplayID() string {
	if !validTID(r.TID) {
		return r.EPC
	}
	return "TID:" + r.TID + "\nEPC:" + r.EPC
}

// Entry returns the ingress entry for a single read.
func (r Read) Entry() Entry {
	return Entry{
		Identity:  r.EPC,
		DisplayID: r.DisplayID(),
		RSSI:      r.RSSI,
		Count:     1,
	}
}

func validTID(tid string) bool {
	if tid == "" {
		return false
	}
	// Readers without TID support fill the bank with zeros.
	if len(tid) == 16 || len(tid) == 24 {
		return strings.Trim(tid, "0") != ""
	}
	return true
}

// Entry is a coalesced ingress entry for one identity within a single flush
// cycle. Count is the number of raw reads folded into it.
type Entry struct {
	Identity  string
	DisplayID string
	RSSI      string
	Count     int
}

// Record is the aggregated view of a tag held by the canonical store.
type Record struct {
	Identity  string `json:"epc"`
	DisplayID string `json:"id"`
	RSSI      string `json:"rssi"`
	Count     int    `json:"count,string"`
}

// LocationSample is a single location quality reading for the tag being
// located.
type LocationSample struct {
	Value int  `json:"value"`
	Valid bool `json:"valid"`
}
