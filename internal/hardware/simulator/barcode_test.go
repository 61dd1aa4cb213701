// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package simulator

import (
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"
)

type barcodeSuite struct {
	testing.IsolationSuite

	clock   *testclock.Clock
	decodes chan decode
}

type decode struct {
	data string
	ok   bool
}

var _ = gc.Suite(&barcodeSuite{})

func (s *barcodeSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Now())
	s.decodes = make(chan decode, 10)
}

func (s *barcodeSuite) open(c *gc.C, data string) *Barcode {
	b, err := NewBarcode(BarcodeConfig{
		Data:        data,
		DecodeDelay: DefaultDecodeDelay,
		Clock:       s.clock,
	})
	c.Assert(err, jc.ErrorIsNil)
	err = b.Open(func(data string, ok bool) {
		s.decodes <- decode{data, ok}
	})
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) { c.Check(b.Close(), jc.ErrorIsNil) })
	return b
}

func (s *barcodeSuite) next(c *gc.C) decode {
	select {
	case d := <-s.decodes:
		return d
	case <-time.After(testing.LongWait):
		c.Fatalf("timed out waiting for decode")
	}
	panic("unreachable")
}

func (s *barcodeSuite) TestValidate(c *gc.C) {
	_, err := NewBarcode(BarcodeConfig{Clock: s.clock})
	c.Check(err, jc.ErrorIs, errors.NotValid)
	_, err = NewBarcode(BarcodeConfig{DecodeDelay: time.Second})
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *barcodeSuite) TestRequiresOpen(c *gc.C) {
	b, err := NewBarcode(BarcodeConfig{
		DecodeDelay: DefaultDecodeDelay,
		Clock:       s.clock,
	})
	c.Assert(err, jc.ErrorIsNil)

	c.Check(b.StartScan(), jc.ErrorIs, ErrNotOpen)
	c.Check(b.StopScan(), jc.ErrorIs, ErrNotOpen)
}

func (s *barcodeSuite) TestScanDecodes(c *gc.C) {
	b := s.open(c, "4006381333931")

	c.Assert(b.StartScan(), jc.ErrorIsNil)
	err := s.clock.WaitAdvance(DefaultDecodeDelay, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.next(c), gc.Equals, decode{"4006381333931", true})
}

func (s *barcodeSuite) TestScanFails(c *gc.C) {
	b := s.open(c, "")

	c.Assert(b.StartScan(), jc.ErrorIsNil)
	err := s.clock.WaitAdvance(DefaultDecodeDelay, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.next(c), gc.Equals, decode{"", false})
}

func (s *barcodeSuite) TestSetData(c *gc.C) {
	b := s.open(c, "")
	b.SetData("9780201379624")

	c.Assert(b.StartScan(), jc.ErrorIsNil)
	err := s.clock.WaitAdvance(DefaultDecodeDelay, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(s.next(c), gc.Equals, decode{"9780201379624", true})
}

func (s *barcodeSuite) TestStopScanCancelsDecode(c *gc.C) {
	b := s.open(c, "4006381333931")

	c.Assert(b.StartScan(), jc.ErrorIsNil)
	c.Assert(b.StopScan(), jc.ErrorIsNil)
	s.clock.Advance(DefaultDecodeDelay)

	select {
	case d := <-s.decodes:
		c.Fatalf("unexpected decode %+v", d)
	case <-time.After(testing.ShortWait):
	}
}

func (s *barcodeSuite) TestRestartScanReplacesPending(c *gc.C) {
	b := s.open(c, "4006381333931")

	c.Assert(b.StartScan(), jc.ErrorIsNil)
	s.clock.Advance(DefaultDecodeDelay / 2)
	c.Assert(b.StartScan(), jc.ErrorIsNil)

	// The first scan would have completed here.
	s.clock.Advance(DefaultDecodeDelay / 2)
	c.Check(s.decodes, gc.HasLen, 0)

	s.clock.Advance(DefaultDecodeDelay / 2)
	c.Check(s.next(c), gc.Equals, decode{"4006381333931", true})
}
