// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aggregator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/rfidagg/core/sink"
	"github.com/juju/rfidagg/core/tag"
	"github.com/juju/rfidagg/internal/ingress"
	"github.com/juju/rfidagg/internal/publish"
	"github.com/juju/rfidagg/internal/tagstore"
)

// ErrDying is returned by requests made while the worker is stopping.
const ErrDying = errors.ConstError("aggregator worker is dying")

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
	Tracef(message string, args ...any)
}

// Config holds the dependencies and tunables of the aggregator worker.
type Config struct {
	// Capacity bounds the tag table; zero means tagstore.DefaultCapacity.
	Capacity int

	// Policy drives the adaptive flush interval.
	Policy IntervalPolicy

	// FullFraction is the changed fraction above which full batches are
	// sent; zero means publish.DefaultFullFraction.
	FullFraction float64

	// Sink receives published batches. It may be nil.
	Sink sink.Sink

	// Metrics is optional.
	Metrics *Collector

	Clock  clock.Clock
	Logger Logger
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Capacity < 0 {
		return errors.NotValidf("negative Capacity")
	}
	if c.FullFraction < 0 || c.FullFraction > 1 {
		return errors.NotValidf("FullFraction %v", c.FullFraction)
	}
	if err := c.Policy.Validate(); err != nil {
		return errors.Trace(err)
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Worker owns the canonical tag table. Producers hand reads to its ingress
// queue; everything else reaches it by request over a channel, so the table
// is only ever touched by the worker goroutine.
type Worker struct {
	catacomb catacomb.Catacomb
	cfg      Config

	queue     *ingress.Queue
	store     *tagstore.Store
	publisher *publish.Publisher

	requests chan request
	flushing atomic.Bool

	// Owned by the loop goroutine.
	scheduling bool
	interval   time.Duration
	timer      clock.Timer
}

// NewWorker returns a running aggregator worker.
func NewWorker(cfg Config) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	w := &Worker{
		cfg:       cfg,
		queue:     ingress.NewQueue(),
		store:     tagstore.New(cfg.Capacity),
		publisher: publish.New(cfg.Sink, cfg.FullFraction),
		requests:  make(chan request),
		interval:  cfg.Policy.Initial,
	}
	cfg.Metrics.setInterval(w.interval)

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

// Submit records a raw read. It is safe to call from any goroutine and
// never blocks on a flush.
func (w *Worker) Submit(identity, rssi string) {
	w.queue.Submit(identity, rssi)
}

// SubmitRead records a raw read carrying an optional TID.
func (w *Worker) SubmitRead(read tag.Read) {
	w.queue.SubmitRead(read)
}

// Flush merges everything submitted so far and publishes the result before
// returning.
func (w *Worker) Flush(ctx context.Context) error {
	_, err := w.send(ctx, request{kind: requestFlush})
	return err
}

// StartScheduling resets the flush interval to its initial value and arms
// the flush timer. It is a no-op apart from the reset when already armed.
func (w *Worker) StartScheduling(ctx context.Context) error {
	_, err := w.send(ctx, request{kind: requestStartScheduling})
	return err
}

// StopScheduling cancels the pending flush timer and performs one final
// flush so that no submitted read is left behind.
func (w *Worker) StopScheduling(ctx context.Context) error {
	_, err := w.send(ctx, request{kind: requestStopScheduling})
	return err
}

// Clear drops the tag table and every pending read.
func (w *Worker) Clear(ctx context.Context) error {
	// The queue is safe to clear from here; doing it early also drops
	// reads racing with a worker that is going away.
	w.queue.Clear()
	_, err := w.send(ctx, request{kind: requestClear})
	return err
}

// HasTags reports whether the tag table is non-empty.
func (w *Worker) HasTags(ctx context.Context) (bool, error) {
	resp, err := w.send(ctx, request{kind: requestHasTags})
	return resp.hasTags, err
}

// Snapshot returns a copy of the tag table in insertion order.
func (w *Worker) Snapshot(ctx context.Context) ([]tag.Record, error) {
	resp, err := w.send(ctx, request{kind: requestSnapshot})
	return resp.records, err
}

// Interval returns the current flush interval and whether the flush timer
// is armed.
func (w *Worker) Interval(ctx context.Context) (time.Duration, bool, error) {
	resp, err := w.send(ctx, request{kind: requestInterval})
	return resp.interval, resp.scheduling, err
}

func (w *Worker) send(ctx context.Context, req request) (response, error) {
	if err := ctx.Err(); err != nil {
		return response{}, err
	}
	req.result = make(chan response, 1)

	select {
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-w.catacomb.Dying():
		return response{}, ErrDying
	case w.requests <- req:
	}

	select {
	case <-ctx.Done():
		return response{}, ctx.Err()
	case <-w.catacomb.Dying():
		return response{}, ErrDying
	case resp := <-req.result:
		return resp, nil
	}
}

func (w *Worker) loop() error {
	defer w.disarm()

	for {
		select {
		case <-w.catacomb.Dying():
			w.flush()
			return w.catacomb.ErrDying()

		case <-w.timerChan():
			reads, _ := w.flush()
			w.interval = w.cfg.Policy.Next(w.interval, reads)
			w.cfg.Metrics.setInterval(w.interval)
			w.timer.Reset(w.interval)

		case req := <-w.requests:
			req.result <- w.handle(req)
		}
	}
}

func (w *Worker) handle(req request) response {
	switch req.kind {
	case requestFlush:
		w.flush()
	case requestStartScheduling:
		w.interval = w.cfg.Policy.Initial
		w.cfg.Metrics.setInterval(w.interval)
		if w.scheduling {
			w.timer.Reset(w.interval)
			break
		}
		w.scheduling = true
		w.timer = w.cfg.Clock.NewTimer(w.interval)
		w.cfg.Logger.Debugf("flush scheduling started at %v", w.interval)
	case requestStopScheduling:
		w.disarm()
		w.flush()
	case requestClear:
		w.queue.Clear()
		w.store.Clear()
		w.publisher.Reset()
		w.cfg.Metrics.setStoreSize(0)
	case requestHasTags:
		return response{hasTags: w.store.Len() > 0}
	case requestSnapshot:
		return response{records: w.store.Snapshot()}
	case requestInterval:
		return response{interval: w.interval, scheduling: w.scheduling}
	}
	return response{}
}

func (w *Worker) timerChan() <-chan time.Time {
	if !w.scheduling {
		return nil
	}
	return w.timer.Chan()
}

func (w *Worker) disarm() {
	if !w.scheduling {
		return
	}
	w.timer.Stop()
	w.timer = nil
	w.scheduling = false
	w.cfg.Logger.Debugf("flush scheduling stopped")
}

// flush runs one flush cycle: drain, merge, evict, publish. It returns the
// number of raw reads merged and the identities that changed.
func (w *Worker) flush() (int, set.Strings) {
	if !w.flushing.CompareAndSwap(false, true) {
		panic("aggregator: concurrent flush")
	}
	defer w.flushing.Store(false)

	if !w.queue.Dirty() {
		return 0, nil
	}
	drained := w.queue.Drain()
	if drained.Reads == 0 {
		return 0, nil
	}
	start := w.cfg.Clock.Now()

	changed := w.store.Merge(drained.Entries)
	evicted := w.store.Evict()
	for _, id := range evicted {
		changed.Remove(id)
	}

	outcome, err := w.publisher.Publish(w.store, changed, len(evicted) > 0)
	if err != nil {
		w.cfg.Logger.Errorf("publishing tag batch: %v", err)
	}

	w.cfg.Metrics.observeFlush(drained.Reads, len(evicted), w.store.Len(), outcome, w.cfg.Clock.Now().Sub(start))
	w.cfg.Logger.Tracef("merged %s reads into %d tags, %d changed, %d evicted, batch %s",
		humanize.Comma(int64(drained.Reads)), w.store.Len(), changed.Size(), len(evicted), outcome)
	return drained.Reads, changed
}

type requestKind int

const (
	requestFlush requestKind = iota
	requestStartScheduling
	requestStopScheduling
	requestClear
	requestHasTags
	requestSnapshot
	requestInterval
)

type request struct {
	kind   requestKind
	result chan response
}

type response struct {
	hasTags    bool
	records    []tag.Record
	interval   time.Duration
	scheduling bool
}

var _ worker.Worker = (*Worker)(nil)
