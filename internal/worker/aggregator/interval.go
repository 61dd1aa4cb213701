// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package aggregator

import (
	"time"

	"github.com/juju/errors"
)

const (
	// DefaultInterval is the flush interval used when scheduling starts.
	DefaultInterval = 200 * time.Millisecond
	// DefaultMinInterval is the floor reached under sustained traffic.
	DefaultMinInterval = 100 * time.Millisecond
	// DefaultMaxInterval is the ceiling reached when traffic is sparse.
	DefaultMaxInterval = 500 * time.Millisecond
	// DefaultIntervalStep is how far a single cycle moves the interval.
	DefaultIntervalStep = 20 * time.Millisecond
	// DefaultBusyThreshold is the read count above which a cycle is busy.
	DefaultBusyThreshold = 50
	// DefaultQuietThreshold is the read count below which a cycle is quiet.
	DefaultQuietThreshold = 5
)

// IntervalPolicy adapts the flush cadence to the read volume of the
// previous cycle.
type IntervalPolicy struct {
	Initial        time.Duration
	Min            time.Duration
	Max            time.Duration
	Step           time.Duration
	BusyThreshold  int
	QuietThreshold int
}

// DefaultIntervalPolicy returns the policy used when none is configured.
func DefaultIntervalPolicy() IntervalPolicy {
	return IntervalPolicy{
		Initial:        DefaultInterval,
		Min:            DefaultMinInterval,
		Max:            DefaultMaxInterval,
		Step:           DefaultIntervalStep,
		BusyThreshold:  DefaultBusyThreshold,
		QuietThreshold: DefaultQuietThreshold,
	}
}

// Validate checks that the policy describes a usable range.
func (p IntervalPolicy) Validate() error {
	if p.Min <= 0 {
		return errors.NotValidf("non-positive Min interval")
	}
	if p.Max < p.Min {
		return errors.NotValidf("Max interval %v below Min %v", p.Max, p.Min)
	}
	if p.Initial < p.Min || p.Initial > p.Max {
		return errors.NotValidf("Initial interval %v outside [%v, %v]", p.Initial, p.Min, p.Max)
	}
	if p.Step <= 0 {
		return errors.NotValidf("non-positive interval Step")
	}
	if p.QuietThreshold > p.BusyThreshold {
		return errors.NotValidf("QuietThreshold %d above BusyThreshold %d", p.QuietThreshold, p.BusyThreshold)
	}
	return nil
}

// Next returns the interval to wait after a cycle that merged reads raw
// reads, given the interval that preceded it.
func (p IntervalPolicy) Next(current time.Duration, reads int) time.Duration {
	switch {
	case reads > p.BusyThreshold:
		return max(current-p.Step, p.Min)
	case reads < p.QuietThreshold:
		return min(current+p.Step, p.Max)
	}
	return current
}
