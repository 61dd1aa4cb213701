// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	coreerrors "github.com/juju/rfidagg/core/errors"
	"github.com/juju/rfidagg/core/sink"
	"github.com/juju/rfidagg/core/tag"
)

// ErrDying is returned by requests made while the worker is stopping.
const ErrDying = errors.ConstError("session worker is dying")

const (
	// DefaultPowerMin is the lowest transmit power SetPower accepts.
	DefaultPowerMin = 5
	// DefaultPowerMax is the highest transmit power SetPower accepts.
	DefaultPowerMax = 30
	// DefaultConnectAttempts is how many times Connect tries the reader.
	DefaultConnectAttempts = 1
	// DefaultConnectDelay is the pause between connect attempts.
	DefaultConnectDelay = time.Second
	// DefaultPollInterval is how often buffered reads are collected.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultScanInterval is how long a continuous barcode scan waits for
	// a decode before re-triggering.
	DefaultScanInterval = 3 * time.Second
	// DefaultStopTimeout bounds every wait made while stopping a session.
	DefaultStopTimeout = time.Second

	// MinLocationDistance and MaxLocationDistance bound the distance
	// passed to StartLocation.
	MinLocationDistance = 1
	MaxLocationDistance = 30

	// MaxFrequencyMode is the highest mode SetFrequencyMode accepts.
	MaxFrequencyMode = 255
)

// Config holds the dependencies of the session worker.
type Config struct {
	Reader     Reader
	Barcode    BarcodeDecoder
	Aggregator Aggregator
	Sink       sink.Sink

	// PowerMin and PowerMax bound SetPower.
	PowerMin int
	PowerMax int

	// ConnectAttempts and ConnectDelay drive reader connection retries.
	ConnectAttempts int
	ConnectDelay    time.Duration

	// PollInterval is how often buffered reads are collected from readers
	// that implement Poller.
	PollInterval time.Duration

	// ScanInterval is how long a continuous barcode scan waits for a
	// decode before re-triggering.
	ScanInterval time.Duration

	// StopTimeout bounds the wait for a session to stop.
	StopTimeout time.Duration

	Clock  clock.Clock
	Logger Logger
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Reader == nil {
		return errors.NotValidf("nil Reader")
	}
	if c.Barcode == nil {
		return errors.NotValidf("nil Barcode")
	}
	if c.Aggregator == nil {
		return errors.NotValidf("nil Aggregator")
	}
	if c.Sink == nil {
		return errors.NotValidf("nil Sink")
	}
	if c.PowerMin < 0 || c.PowerMax < c.PowerMin {
		return errors.NotValidf("power range %d..%d", c.PowerMin, c.PowerMax)
	}
	if c.ConnectAttempts < 1 {
		return errors.NotValidf("ConnectAttempts %d", c.ConnectAttempts)
	}
	if c.ConnectDelay <= 0 {
		return errors.NotValidf("non-positive ConnectDelay")
	}
	if c.PollInterval <= 0 {
		return errors.NotValidf("non-positive PollInterval")
	}
	if c.ScanInterval <= 0 {
		return errors.NotValidf("non-positive ScanInterval")
	}
	if c.StopTimeout <= 0 {
		return errors.NotValidf("non-positive StopTimeout")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Worker owns the reader and barcode hardware and decides which producer
// sessions may run. Inventory, location and continuous barcode scanning
// exclude one another; starting one stops the others first.
type Worker struct {
	catacomb catacomb.Catacomb
	cfg      Config

	requests   chan request
	connEvents chan connEvent
	ended      chan worker.Worker
	barcode    *barcodeState

	// Owned by the loop goroutine.
	state          State
	sessionID      string
	inventory      *inventoryWorker
	location       *locationWorker
	locationTarget string
	scanner        *scanWorker
}

type request struct {
	op     func(context.Context) error
	result chan error
}

type connEvent struct {
	connected bool
	code      int
}

// NewWorker returns a running session worker in the Idle state.
func NewWorker(cfg Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	w := &Worker{
		cfg:        cfg,
		requests:   make(chan request),
		connEvents: make(chan connEvent, 16),
		ended:      make(chan worker.Worker),
		barcode:    newBarcodeState(cfg.Sink),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

// Connect obtains the reader. Connecting an already connected reader
// succeeds without doing anything.
func (w *Worker) Connect(ctx context.Context) error {
	return w.run(ctx, w.connect)
}

// CloseReader stops every session, flushes and clears the aggregated tags,
// releases the reader and returns to Idle. It is valid in any state.
func (w *Worker) CloseReader(ctx context.Context) error {
	return w.run(ctx, w.closeReader)
}

// StartInventory starts continuous inventory. It is idempotent while
// inventory is already running.
func (w *Worker) StartInventory(ctx context.Context) error {
	return w.run(ctx, w.startInventory)
}

// StopInventory stops continuous inventory and flushes every pending read.
func (w *Worker) StopInventory(ctx context.Context) error {
	return w.run(ctx, func(ctx context.Context) error {
		if w.inventory == nil {
			return errors.Trace(w.bounded(ctx, "stopping flush scheduling", w.cfg.Aggregator.StopScheduling))
		}
		return errors.Trace(w.stopInventory(ctx))
	})
}

// InventorySingle performs one inventory round and publishes its result.
func (w *Worker) InventorySingle(ctx context.Context) error {
	return w.run(ctx, w.inventorySingle)
}

// StartLocation starts searching for identity. The outcome is reported
// asynchronously through the sink's OnLocationResult.
func (w *Worker) StartLocation(ctx context.Context, identity string, distance int) error {
	if identity == "" {
		return errors.NotValidf("empty location identity")
	}
	if distance < MinLocationDistance || distance > MaxLocationDistance {
		return errors.NotValidf("location distance %d outside %d..%d", distance, MinLocationDistance, MaxLocationDistance)
	}
	return w.run(ctx, func(ctx context.Context) error {
		return w.startLocation(ctx, identity, distance)
	})
}

// StopLocation stops the location search, if any.
func (w *Worker) StopLocation(ctx context.Context) error {
	return w.run(ctx, func(context.Context) error {
		w.stopLocation()
		return nil
	})
}

// SetPower sets the reader transmit power.
func (w *Worker) SetPower(ctx context.Context, level int) error {
	if level < w.cfg.PowerMin || level > w.cfg.PowerMax {
		return errors.NotValidf("power level %d outside %d..%d", level, w.cfg.PowerMin, w.cfg.PowerMax)
	}
	return w.run(ctx, func(context.Context) error {
		if !w.connected() {
			return errors.Trace(coreerrors.NotConnected)
		}
		if err := w.cfg.Reader.SetPower(level); err != nil {
			return errors.Annotatef(coreerrors.HardwareUnavailable, "setting power %d: %v", level, err)
		}
		return nil
	})
}

// SetFrequencyMode sets the reader regulatory frequency mode.
func (w *Worker) SetFrequencyMode(ctx context.Context, mode int) error {
	if mode < 0 || mode > MaxFrequencyMode {
		return errors.NotValidf("frequency mode %d outside 0..%d", mode, MaxFrequencyMode)
	}
	return w.run(ctx, func(context.Context) error {
		if !w.connected() {
			return errors.Trace(coreerrors.NotConnected)
		}
		if err := w.cfg.Reader.SetFrequencyMode(mode); err != nil {
			return errors.Annotatef(coreerrors.HardwareUnavailable, "setting frequency mode %d: %v", mode, err)
		}
		return nil
	})
}

// ClearData drops every aggregated tag and pending read, and forgets the
// last decoded barcode.
func (w *Worker) ClearData(ctx context.Context) error {
	w.barcode.forget()
	return errors.Trace(w.cfg.Aggregator.Clear(ctx))
}

// HasTags reports whether any tag has been aggregated.
func (w *Worker) HasTags(ctx context.Context) (bool, error) {
	has, err := w.cfg.Aggregator.HasTags(ctx)
	return has, errors.Trace(err)
}

// Tags returns a copy of the aggregated tags.
func (w *Worker) Tags(ctx context.Context) ([]tag.Record, error) {
	records, err := w.cfg.Aggregator.Snapshot(ctx)
	return records, errors.Trace(err)
}

// Status returns the current session status.
func (w *Worker) Status(ctx context.Context) (Status, error) {
	var status Status
	err := w.run(ctx, func(context.Context) error {
		status = w.status()
		return nil
	})
	return status, err
}

// ConnectBarcode opens the barcode scanner.
func (w *Worker) ConnectBarcode(ctx context.Context) error {
	return w.run(ctx, w.connectBarcode)
}

// ScanBarcode triggers a single barcode scan.
func (w *Worker) ScanBarcode(ctx context.Context) error {
	return w.run(ctx, func(context.Context) error {
		if err := w.requireBarcode(); err != nil {
			return errors.Trace(err)
		}
		if err := w.cfg.Barcode.StartScan(); err != nil {
			return errors.Annotatef(coreerrors.HardwareUnavailable, "triggering scan: %v", err)
		}
		w.barcode.update(func(b *barcodeState) { b.scanning = true })
		return nil
	})
}

// StopScanBarcode cancels a single barcode scan.
func (w *Worker) StopScanBarcode(ctx context.Context) error {
	return w.run(ctx, func(context.Context) error {
		if err := w.requireBarcode(); err != nil {
			return errors.Trace(err)
		}
		w.barcode.update(func(b *barcodeState) { b.scanning = false })
		if err := w.cfg.Barcode.StopScan(); err != nil {
			return errors.Annotatef(coreerrors.HardwareUnavailable, "stopping scan: %v", err)
		}
		return nil
	})
}

// StartBarcodeContinuous keeps the barcode scanner armed until stopped.
func (w *Worker) StartBarcodeContinuous(ctx context.Context) error {
	return w.run(ctx, w.startBarcodeContinuous)
}

// StopBarcodeContinuous stops continuous barcode scanning.
func (w *Worker) StopBarcodeContinuous(ctx context.Context) error {
	return w.run(ctx, func(context.Context) error {
		w.stopScanner()
		return nil
	})
}

// CloseBarcode stops scanning and releases the barcode scanner.
func (w *Worker) CloseBarcode(ctx context.Context) error {
	return w.run(ctx, func(context.Context) error {
		return errors.Trace(w.closeBarcode())
	})
}

// ReadBarcode returns the last successfully decoded barcode, or NoBarcode
// when nothing has been decoded since the last ClearData.
func (w *Worker) ReadBarcode() string {
	return w.barcode.lastDecoded()
}

// OnConnectResult receives connection changes observed by the reader
// driver. It never blocks on the worker loop for long.
func (w *Worker) OnConnectResult(connected bool, code int) {
	select {
	case w.connEvents <- connEvent{connected: connected, code: code}:
	case <-w.catacomb.Dying():
	}
}

func (w *Worker) run(ctx context.Context, op func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := request{op: op, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.catacomb.Dying():
		return ErrDying
	case w.requests <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.catacomb.Dying():
		return ErrDying
	case err := <-req.result:
		return err
	}
}

func (w *Worker) loop() error {
	defer w.shutdown()

	ctx := w.catacomb.Context(context.Background())

	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()

		case req := <-w.requests:
			req.result <- req.op(ctx)

		case ev := <-w.connEvents:
			if ev.connected || !w.connected() {
				continue
			}
			w.cfg.Logger.Warningf("reader disconnected (code %d)", ev.code)
			if err := w.closeReader(ctx); err != nil {
				w.cfg.Logger.Errorf("tearing down disconnected reader: %v", err)
			}

		case wk := <-w.ended:
			w.sessionEnded(ctx, wk)
		}
	}
}

// shutdown releases the hardware once the loop has stopped. The loop
// context is already cancelled by then; each aggregator call is still
// bounded by StopTimeout.
func (w *Worker) shutdown() {
	if w.connected() {
		if err := w.closeReader(context.Background()); err != nil {
			w.cfg.Logger.Errorf("closing reader: %v", err)
		}
	}
	if err := w.closeBarcode(); err != nil {
		w.cfg.Logger.Errorf("closing barcode scanner: %v", err)
	}
}

func (w *Worker) setState(state State) {
	if w.state == state {
		return
	}
	w.cfg.Logger.Debugf("reader %s -> %s", w.state, state)
	w.state = state
}

func (w *Worker) connected() bool {
	switch w.state {
	case Connected, InventoryRunning, LocationRunning:
		return true
	}
	return false
}

func (w *Worker) status() Status {
	initialized, scanning, continuous := w.barcode.flags()
	status := Status{
		State:              w.state,
		Connected:          w.connected(),
		SessionID:          w.sessionID,
		LocationTarget:     w.locationTarget,
		BarcodeInitialized: initialized,
		BarcodeScanning:    scanning,
		BarcodeContinuous:  continuous,
	}
	if continuous {
		status.State = BarcodeRunning
	}
	return status
}

func (w *Worker) connect(ctx context.Context) error {
	if w.connected() {
		return nil
	}

	w.setState(Connecting)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return w.cfg.Reader.Init(w.OnConnectResult)
		},
		NotifyFunc: func(lastErr error, attempt int) {
			w.cfg.Logger.Debugf("reader connect attempt %d failed: %v", attempt, lastErr)
		},
		Attempts: w.cfg.ConnectAttempts,
		Delay:    w.cfg.ConnectDelay,
		Clock:    w.cfg.Clock,
		Stop:     w.catacomb.Dying(),
	})
	if err != nil {
		if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
			err = retry.LastError(err)
		}
		w.setState(Idle)
		w.cfg.Sink.OnConnectionChanged(false)
		return errors.Annotatef(coreerrors.HardwareUnavailable, "connecting reader: %v", err)
	}

	w.setState(Connected)
	w.cfg.Logger.Infof("reader connected")
	w.cfg.Sink.OnConnectionChanged(true)
	return nil
}

func (w *Worker) closeReader(ctx context.Context) error {
	wasConnected := w.connected()

	w.stopLocation()
	w.stopScanner()
	if w.inventory != nil {
		if err := w.stopInventory(ctx); err != nil {
			w.cfg.Logger.Warningf("flushing inventory: %v", err)
		}
	} else if err := w.bounded(ctx, "stopping flush scheduling", w.cfg.Aggregator.StopScheduling); err != nil {
		w.cfg.Logger.Warningf("stopping flush scheduling: %v", err)
	}

	if wasConnected {
		if err := w.cfg.Reader.Free(); err != nil {
			w.cfg.Logger.Warningf("releasing reader: %v", err)
		}
	}

	var clearErr error
	if err := w.bounded(ctx, "clearing tags", w.cfg.Aggregator.Clear); err != nil {
		clearErr = errors.Annotate(err, "clearing tags")
	}

	w.setState(Idle)
	w.sessionID = ""
	w.cfg.Sink.OnConnectionChanged(false)
	if wasConnected {
		w.cfg.Logger.Infof("reader closed")
	}
	return clearErr
}

func (w *Worker) startInventory(ctx context.Context) error {
	if !w.connected() {
		return errors.Trace(coreerrors.NotConnected)
	}
	if w.inventory != nil {
		return nil
	}

	w.stopLocation()
	w.stopScanner()

	id := uuid.NewString()
	inventory, err := newInventoryWorker(inventoryConfig{
		SessionID:    id,
		Reader:       w.cfg.Reader,
		Submit:       w.cfg.Aggregator.SubmitRead,
		PollInterval: w.cfg.PollInterval,
		Clock:        w.cfg.Clock,
		Logger:       w.cfg.Logger,
	})
	if err != nil {
		return errors.Trace(err)
	}
	if err := w.cfg.Aggregator.StartScheduling(ctx); err != nil {
		w.stopWorker("inventory", inventory)
		return errors.Trace(err)
	}

	w.inventory = inventory
	w.sessionID = id
	w.track(inventory)
	w.setState(InventoryRunning)
	w.cfg.Logger.Debugf("inventory %s started", id)
	return nil
}

// stopInventory stops the inventory producer and makes the final flush.
func (w *Worker) stopInventory(ctx context.Context) error {
	if w.inventory == nil {
		return nil
	}
	w.stopWorker("inventory", w.inventory)
	w.inventory = nil
	w.sessionID = ""
	w.setState(Connected)
	return errors.Trace(w.bounded(ctx, "final inventory flush", w.cfg.Aggregator.StopScheduling))
}

func (w *Worker) inventorySingle(ctx context.Context) error {
	if !w.connected() {
		return errors.Trace(coreerrors.NotConnected)
	}
	if w.inventory != nil {
		return errors.Annotate(coreerrors.SessionConflict, "continuous inventory running")
	}
	w.stopLocation()
	w.stopScanner()

	read, err := w.cfg.Reader.InventorySingle()
	if err != nil {
		return errors.Annotate(err, "single inventory")
	}
	w.cfg.Aggregator.SubmitRead(read)
	return errors.Trace(w.cfg.Aggregator.Flush(ctx))
}

func (w *Worker) startLocation(ctx context.Context, identity string, distance int) error {
	if !w.connected() {
		return errors.Trace(coreerrors.NotConnected)
	}
	if err := w.stopInventory(ctx); err != nil {
		w.cfg.Logger.Warningf("flushing inventory: %v", err)
	}
	w.stopScanner()
	w.stopLocation()

	id := uuid.NewString()
	w.location = newLocationWorker(id, identity, distance, w.cfg.Reader, w.cfg.Sink, w.cfg.Logger)
	w.locationTarget = identity
	w.sessionID = id
	w.track(w.location)
	w.setState(LocationRunning)
	return nil
}

func (w *Worker) stopLocation() {
	if w.location == nil {
		return
	}
	w.stopWorker("location", w.location)
	w.location = nil
	w.locationTarget = ""
	w.sessionID = ""
	if w.state == LocationRunning {
		w.setState(Connected)
	}
}

func (w *Worker) requireBarcode() error {
	if initialized, _, _ := w.barcode.flags(); !initialized {
		return errors.Annotate(coreerrors.NotConnected, "barcode scanner")
	}
	return nil
}

func (w *Worker) connectBarcode(context.Context) error {
	if initialized, _, _ := w.barcode.flags(); initialized {
		return nil
	}
	if err := w.cfg.Barcode.Open(w.barcode.onDecode); err != nil {
		return errors.Annotatef(coreerrors.HardwareUnavailable, "opening barcode scanner: %v", err)
	}
	w.barcode.update(func(b *barcodeState) { b.initialized = true })
	w.cfg.Logger.Infof("barcode scanner opened")
	return nil
}

func (w *Worker) startBarcodeContinuous(ctx context.Context) error {
	if err := w.requireBarcode(); err != nil {
		return errors.Trace(err)
	}
	if w.scanner != nil {
		return nil
	}
	if err := w.stopInventory(ctx); err != nil {
		w.cfg.Logger.Warningf("flushing inventory: %v", err)
	}
	w.stopLocation()

	w.scanner = newScanWorker(w.cfg.Barcode, w.barcode.decoded, w.cfg.ScanInterval, w.cfg.Clock, w.cfg.Logger)
	w.track(w.scanner)
	w.barcode.update(func(b *barcodeState) { b.continuous = true })
	return nil
}

func (w *Worker) stopScanner() {
	if w.scanner == nil {
		return
	}
	w.stopWorker("barcode", w.scanner)
	w.scanner = nil
	w.barcode.update(func(b *barcodeState) { b.continuous = false })
}

func (w *Worker) closeBarcode() error {
	w.stopScanner()
	initialized, scanning, _ := w.barcode.flags()
	if !initialized {
		return nil
	}
	if scanning {
		if err := w.cfg.Barcode.StopScan(); err != nil {
			w.cfg.Logger.Warningf("stopping barcode scan: %v", err)
		}
	}
	w.barcode.update(func(b *barcodeState) {
		b.initialized = false
		b.scanning = false
	})
	if err := w.cfg.Barcode.Close(); err != nil {
		return errors.Annotate(err, "closing barcode scanner")
	}
	return nil
}

// track reports the end of a session worker to the loop, so that a
// session that stops by itself releases the reader.
func (w *Worker) track(wk worker.Worker) {
	go func() {
		_ = wk.Wait()
		select {
		case w.ended <- wk:
		case <-w.catacomb.Dying():
		}
	}()
}

func (w *Worker) sessionEnded(ctx context.Context, wk worker.Worker) {
	switch {
	case w.inventory != nil && wk == worker.Worker(w.inventory):
		w.cfg.Logger.Warningf("inventory %s ended unexpectedly", w.sessionID)
		w.inventory = nil
		w.sessionID = ""
		w.setState(Connected)
		if err := w.bounded(ctx, "stopping flush scheduling", w.cfg.Aggregator.StopScheduling); err != nil {
			w.cfg.Logger.Warningf("stopping flush scheduling: %v", err)
		}
	case w.location != nil && wk == worker.Worker(w.location):
		w.location = nil
		w.locationTarget = ""
		w.sessionID = ""
		if w.state == LocationRunning {
			w.setState(Connected)
		}
	case w.scanner != nil && wk == worker.Worker(w.scanner):
		w.scanner = nil
		w.barcode.update(func(b *barcodeState) { b.continuous = false })
	}
}

// bounded calls into the aggregator with a context cancelled after
// StopTimeout. Expiry is logged and reported as ShutdownTimeout.
func (w *Worker) bounded(ctx context.Context, what string, call func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	expired := make(chan struct{})
	timer := w.cfg.Clock.AfterFunc(w.cfg.StopTimeout, func() {
		close(expired)
		cancel()
	})
	defer timer.Stop()

	err := call(ctx)
	if err == nil {
		return nil
	}
	select {
	case <-expired:
		err = errors.Annotatef(coreerrors.ShutdownTimeout, "%s not done after %v", what, w.cfg.StopTimeout)
		w.cfg.Logger.Errorf("%v", err)
	default:
	}
	return errors.Trace(err)
}

// stopWorker kills wk and waits for it, giving up after StopTimeout.
func (w *Worker) stopWorker(name string, wk worker.Worker) {
	wk.Kill()

	done := make(chan error, 1)
	go func() {
		done <- wk.Wait()
	}()

	timer := w.cfg.Clock.NewTimer(w.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			w.cfg.Logger.Warningf("%s session stopped: %v", name, err)
		}
	case <-timer.Chan():
		w.cfg.Logger.Errorf("%s session: %v", name,
			errors.Annotatef(coreerrors.ShutdownTimeout, "not stopped after %v", w.cfg.StopTimeout))
	}
}

var _ worker.Worker = (*Worker)(nil)
