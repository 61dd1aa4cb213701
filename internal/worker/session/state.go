// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package session

// State is the reader session state.
type State int

const (
	// Idle means no reader is held.
	Idle State = iota
	// Connecting means the reader is being initialised.
	Connecting
	// Connected means the reader is held and no session is running.
	Connected
	// InventoryRunning means continuous inventory is feeding the aggregator.
	InventoryRunning
	// LocationRunning means a tag location search is in progress.
	LocationRunning
	// BarcodeRunning is reported while continuous barcode scanning runs.
	BarcodeRunning
)

var stateNames = map[State]string{
	Idle:             "idle",
	Connecting:       "connecting",
	Connected:        "connected",
	InventoryRunning: "inventory-running",
	LocationRunning:  "location-running",
	BarcodeRunning:   "barcode-running",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the session worker.
type Status struct {
	// State is BarcodeRunning while a continuous barcode scan holds the
	// reader, otherwise the RFID reader state.
	State State `json:"state"`

	Connected          bool   `json:"connected"`
	SessionID          string `json:"session-id,omitempty"`
	LocationTarget     string `json:"location-target,omitempty"`
	BarcodeInitialized bool   `json:"barcode-initialized"`
	BarcodeScanning    bool   `json:"barcode-scanning"`
	BarcodeContinuous  bool   `json:"barcode-continuous"`
}
