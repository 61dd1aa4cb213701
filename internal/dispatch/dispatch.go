// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package dispatch maps named control methods onto the session worker.
// Every call yields a definite success or failure.
package dispatch

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/juju/rfidagg/core/tag"
	"github.com/juju/rfidagg/internal/worker/session"
)

// Session is the control surface of the session worker.
type Session interface {
	Connect(ctx context.Context) error
	CloseReader(ctx context.Context) error
	StartInventory(ctx context.Context) error
	StopInventory(ctx context.Context) error
	InventorySingle(ctx context.Context) error
	StartLocation(ctx context.Context, identity string, distance int) error
	StopLocation(ctx context.Context) error
	SetPower(ctx context.Context, level int) error
	SetFrequencyMode(ctx context.Context, mode int) error
	ClearData(ctx context.Context) error
	HasTags(ctx context.Context) (bool, error)
	Tags(ctx context.Context) ([]tag.Record, error)
	Status(ctx context.Context) (session.Status, error)
	ConnectBarcode(ctx context.Context) error
	ScanBarcode(ctx context.Context) error
	StopScanBarcode(ctx context.Context) error
	CloseBarcode(ctx context.Context) error
	StartBarcodeContinuous(ctx context.Context) error
	StopBarcodeContinuous(ctx context.Context) error
	ReadBarcode() string
}

// Logger represents the logging methods called.
type Logger interface {
	Debugf(message string, args ...any)
	Warningf(message string, args ...any)
}

// Result is the outcome of a method call.
type Result struct {
	Success bool   `json:"success"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

type method func(ctx context.Context, args json.RawMessage) (any, error)

// Dispatcher calls session methods by name.
type Dispatcher struct {
	session Session
	logger  Logger
	methods map[string]method
}

// New returns a Dispatcher for s.
func New(s Session, logger Logger) *Dispatcher {
	d := &Dispatcher{
		session: s,
		logger:  logger,
	}
	d.methods = map[string]method{
		"connectRfid":                noArgs(s.Connect),
		"closeRfidReader":            noArgs(s.CloseReader),
		"startRfidContinuous":        noArgs(s.StartInventory),
		"stopRfid":                   noArgs(s.StopInventory),
		"startRfidSingle":            noArgs(s.InventorySingle),
		"clearData":                  noArgs(s.ClearData),
		"connectBarcode":             noArgs(s.ConnectBarcode),
		"scanBarcode":                noArgs(s.ScanBarcode),
		"stopScanBarcode":            noArgs(s.StopScanBarcode),
		"closeScanBarcode":           noArgs(s.CloseBarcode),
		"startBarcodeContinuous":     noArgs(s.StartBarcodeContinuous),
		"stopBarcodeContinuous":      noArgs(s.StopBarcodeContinuous),
		"stopLocation":               noArgs(s.StopLocation),
		"setPowerLevel":              intArg(s.SetPower),
		"setWorkArea":                intArg(s.SetFrequencyMode),
		"startLocation":              d.startLocation,
		"isEmptyTags":                d.hasTags,
		"isRfidConnected":            d.statusFlag(func(st session.Status) bool { return st.Connected }),
		"isContinuousRfidReadActive": d.statusFlag(func(st session.Status) bool { return st.State == session.InventoryRunning }),
		"isLocationRunning":          d.statusFlag(func(st session.Status) bool { return st.State == session.LocationRunning }),
		"readBarcode": func(context.Context, json.RawMessage) (any, error) {
			return s.ReadBarcode(), nil
		},
		"getTags": func(ctx context.Context, _ json.RawMessage) (any, error) {
			records, err := s.Tags(ctx)
			if records == nil {
				records = []tag.Record{}
			}
			return records, err
		},
		"getStatus": func(ctx context.Context, _ json.RawMessage) (any, error) {
			return s.Status(ctx)
		},
	}
	return d
}

// Methods returns the sorted names of every method.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the named method. The only error returned is NotFound for
// an unknown method; failures of the method itself are reported in the
// Result.
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	m, ok := d.methods[name]
	if !ok {
		return Result{}, errors.NotFoundf("method %q", name)
	}

	value, err := m(ctx, args)
	if err != nil {
		d.logger.Warningf("%s failed: %v", name, err)
		return Result{Error: err.Error()}, nil
	}
	d.logger.Debugf("%s succeeded", name)
	return Result{Success: true, Value: value}, nil
}

func (d *Dispatcher) startLocation(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		Identity string  `json:"identity"`
		Distance flexInt `json:"distance"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, errors.Trace(err)
	}
	return nil, d.session.StartLocation(ctx, args.Identity, int(args.Distance))
}

func (d *Dispatcher) hasTags(ctx context.Context, _ json.RawMessage) (any, error) {
	return d.session.HasTags(ctx)
}

func (d *Dispatcher) statusFlag(flag func(session.Status) bool) method {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		status, err := d.session.Status(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return flag(status), nil
	}
}

func noArgs(f func(context.Context) error) method {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, f(ctx)
	}
}

// intArg adapts f to methods taking a single integer "value" argument.
func intArg(f func(context.Context, int) error) method {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args struct {
			Value *flexInt `json:"value"`
		}
		if err := decodeArgs(raw, &args); err != nil {
			return nil, errors.Trace(err)
		}
		if args.Value == nil {
			return nil, errors.NotValidf("missing value")
		}
		return nil, f(ctx, int(*args.Value))
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.NewNotValid(err, "decoding arguments")
	}
	return nil
}

// flexInt accepts a JSON number or a string holding one.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	var i int
	if err := json.Unmarshal(data, &i); err == nil {
		*n = flexInt(i)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.NotValidf("integer %s", data)
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return errors.NotValidf("integer %q", s)
	}
	*n = flexInt(i)
	return nil
}
