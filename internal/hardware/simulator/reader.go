// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package simulator provides in-process reader and barcode scanner drivers.
// They stand in for real hardware when running the daemon without a device
// attached, and in tests.
package simulator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/ratelimit"
	"gopkg.in/tomb.v2"

	"github.com/juju/rfidagg/core/tag"
)

const (
	// DefaultReadRate is the number of reads per second reported during
	// continuous inventory.
	DefaultReadRate = 200
	// DefaultLocationInterval is the time between location samples.
	DefaultLocationInterval = 250 * time.Millisecond
)

// ErrNotInitialized is returned by reader operations made before Init.
const ErrNotInitialized = errors.ConstError("reader not initialized")

// Logger represents the logging methods called.
type Logger interface {
	Warningf(message string, args ...any)
	Debugf(message string, args ...any)
}

// ReaderConfig describes the simulated tag field.
type ReaderConfig struct {
	// Tags is the population of EPCs in the field.
	Tags []string
	// WithTID makes every read carry a TID derived from its EPC.
	WithTID bool
	// ReadRate is the number of reads per second during inventory.
	ReadRate float64
	// Buffered keeps inventory reads in the driver until Poll is called
	// instead of calling back.
	Buffered bool
	// LocationInterval is the time between location samples.
	LocationInterval time.Duration

	Clock  clock.Clock
	Logger Logger
}

// Validate ensures that the config values are valid.
func (c ReaderConfig) Validate() error {
	if c.ReadRate <= 0 {
		return errors.NotValidf("non-positive ReadRate")
	}
	if c.LocationInterval <= 0 {
		return errors.NotValidf("non-positive LocationInterval")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// GenerateTags returns n distinct EPCs.
func GenerateTags(n int) []string {
	tags := make([]string, n)
	for i := range tags {
		tags[i] = fmt.Sprintf("E28011606000%012X", i+1)
	}
	return tags
}

// Reader is a simulated RFID reader. Reads cycle through the configured
// population at the configured rate.
type Reader struct {
	cfg ReaderConfig

	mu        sync.Mutex
	onConnect func(bool, int)
	power     int
	mode      int
	next      int
	buffer    []tag.Read
	inventory *tomb.Tomb
	location  *tomb.Tomb
}

// NewReader returns a Reader for the given field.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Reader{cfg: cfg}, nil
}

// Init is part of the session.Reader interface.
func (r *Reader) Init(onConnect func(connected bool, code int)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = onConnect
	r.cfg.Logger.Debugf("simulated reader initialized with %d tags", len(r.cfg.Tags))
	return nil
}

// Free is part of the session.Reader interface.
func (r *Reader) Free() error {
	_ = r.StopInventory()
	_ = r.StopLocation()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = nil
	r.buffer = nil
	return nil
}

// Disconnect simulates the reader dropping its connection.
func (r *Reader) Disconnect(code int) {
	r.mu.Lock()
	onConnect := r.onConnect
	r.mu.Unlock()
	if onConnect != nil {
		onConnect(false, code)
	}
}

// Power returns the last transmit power level set.
func (r *Reader) Power() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.power
}

// FrequencyMode returns the last frequency mode set.
func (r *Reader) FrequencyMode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// SetPower is part of the session.Reader interface.
func (r *Reader) SetPower(level int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onConnect == nil {
		return ErrNotInitialized
	}
	r.power = level
	return nil
}

// SetFrequencyMode is part of the session.Reader interface.
func (r *Reader) SetFrequencyMode(mode int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onConnect == nil {
		return ErrNotInitialized
	}
	r.mode = mode
	return nil
}

// InventorySingle is part of the session.Reader interface.
func (r *Reader) InventorySingle() (tag.Read, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onConnect == nil {
		return tag.Read{}, ErrNotInitialized
	}
	if len(r.cfg.Tags) == 0 {
		return tag.Read{}, errors.NotFoundf("tag in field")
	}
	return r.nextRead(), nil
}

// StartInventory is part of the session.Reader interface.
func (r *Reader) StartInventory(onRead func(tag.Read)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onConnect == nil {
		return ErrNotInitialized
	}
	if r.inventory != nil {
		return errors.AlreadyExistsf("inventory")
	}

	bucket := ratelimit.NewBucketWithRateAndClock(r.cfg.ReadRate, 1, bucketClock{r.cfg.Clock})
	t := &tomb.Tomb{}
	t.Go(func() error {
		return r.runInventory(t, bucket, onRead)
	})
	r.inventory = t
	return nil
}

// StopInventory is part of the session.Reader interface.
func (r *Reader) StopInventory() error {
	r.mu.Lock()
	t := r.inventory
	r.inventory = nil
	r.mu.Unlock()

	if t == nil {
		return nil
	}
	t.Kill(nil)
	return t.Wait()
}

// Poll returns the reads buffered since the previous call.
func (r *Reader) Poll() ([]tag.Read, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reads := r.buffer
	r.buffer = nil
	return reads, nil
}

func (r *Reader) runInventory(t *tomb.Tomb, bucket *ratelimit.Bucket, onRead func(tag.Read)) error {
	if len(r.cfg.Tags) == 0 {
		<-t.Dying()
		return tomb.ErrDying
	}
	for {
		if wait := bucket.Take(1); wait > 0 {
			timer := r.cfg.Clock.NewTimer(wait)
			select {
			case <-t.Dying():
				timer.Stop()
				return tomb.ErrDying
			case <-timer.Chan():
			}
		}
		select {
		case <-t.Dying():
			return tomb.ErrDying
		default:
		}

		r.mu.Lock()
		read := r.nextRead()
		if r.cfg.Buffered {
			r.buffer = append(r.buffer, read)
		}
		r.mu.Unlock()

		if !r.cfg.Buffered {
			onRead(read)
		}
	}
}

// nextRead must be called with mu held.
func (r *Reader) nextRead() tag.Read {
	epc := r.cfg.Tags[r.next%len(r.cfg.Tags)]
	read := tag.Read{
		EPC:  epc,
		RSSI: fmt.Sprintf("-%d", 40+(r.next*7)%30),
	}
	if r.cfg.WithTID {
		read.TID = tidFor(epc)
	}
	r.next++
	return read
}

// StartLocation is part of the session.Reader interface.
func (r *Reader) StartLocation(identity string, distance int, onSample func(tag.LocationSample)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onConnect == nil {
		return ErrNotInitialized
	}
	if r.location != nil {
		return errors.AlreadyExistsf("location")
	}
	if !r.inField(identity) {
		return errors.NotFoundf("tag %q in field", identity)
	}

	t := &tomb.Tomb{}
	t.Go(func() error {
		return r.runLocation(t, distance, onSample)
	})
	r.location = t
	return nil
}

// StopLocation is part of the session.Reader interface.
func (r *Reader) StopLocation() error {
	r.mu.Lock()
	t := r.location
	r.location = nil
	r.mu.Unlock()

	if t == nil {
		return nil
	}
	t.Kill(nil)
	return t.Wait()
}

func (r *Reader) runLocation(t *tomb.Tomb, distance int, onSample func(tag.LocationSample)) error {
	timer := r.cfg.Clock.NewTimer(r.cfg.LocationInterval)
	defer timer.Stop()
	for step := 0; ; step++ {
		select {
		case <-t.Dying():
			return tomb.ErrDying
		case <-timer.Chan():
			onSample(locationSample(distance, step))
			timer.Reset(r.cfg.LocationInterval)
		}
	}
}

// locationSample approaches 100 as the search goes on. Larger distances
// approach more slowly.
func locationSample(distance, step int) tag.LocationSample {
	value := min(100, (step+1)*100/max(distance, 1))
	return tag.LocationSample{Value: value, Valid: true}
}

// inField must be called with mu held.
func (r *Reader) inField(identity string) bool {
	for _, epc := range r.cfg.Tags {
		if epc == identity {
			return true
		}
	}
	return false
}

// tidFor derives a stable 24 character TID from an EPC.
func tidFor(epc string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(epc))
	return fmt.Sprintf("%X", id[:12])
}

// bucketClock adapts a clock.Clock to the ratelimit.Clock interface.
type bucketClock struct {
	clock.Clock
}

// Sleep is part of the ratelimit.Clock interface.
func (c bucketClock) Sleep(d time.Duration) {
	<-c.After(d)
}
