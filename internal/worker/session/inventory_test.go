// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package session

import (
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	coreerrors "github.com/juju/rfidagg/core/errors"
	"github.com/juju/rfidagg/core/tag"
)

type inventorySuite struct {
	baseSuite
}

var _ = gc.Suite(&inventorySuite{})

// pollingReader buffers reads for Poll, like drivers without callbacks.
type pollingReader struct {
	*MockReader
	buffered chan []tag.Read
}

func (r *pollingReader) Poll() ([]tag.Read, error) {
	select {
	case reads := <-r.buffered:
		return reads, nil
	default:
		return nil, nil
	}
}

func (s *inventorySuite) config(reader Reader, submitted chan<- tag.Read) inventoryConfig {
	return inventoryConfig{
		SessionID: "test",
		Reader:    reader,
		Submit: func(read tag.Read) {
			submitted <- read
		},
		PollInterval: DefaultPollInterval,
		Clock:        s.clock,
		Logger:       loggo.GetLogger("test.inventory"),
	}
}

func (s *inventorySuite) TestPollsBufferedReads(c *gc.C) {
	defer s.setupMocks(c).Finish()

	reader := &pollingReader{
		MockReader: s.reader,
		buffered:   make(chan []tag.Read, 1),
	}
	s.reader.EXPECT().StartInventory(gomock.Any()).Return(nil)
	s.reader.EXPECT().StopInventory().Return(nil)

	submitted := make(chan tag.Read, 10)
	w, err := newInventoryWorker(s.config(reader, submitted))
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, w)

	reader.buffered <- []tag.Read{{EPC: "E1", RSSI: "-40"}, {EPC: "E2", RSSI: "-50"}}
	c.Assert(s.clock.WaitAdvance(DefaultPollInterval, testing.LongWait, 1), jc.ErrorIsNil)

	c.Check(receive(c, submitted).EPC, gc.Equals, "E1")
	c.Check(receive(c, submitted).EPC, gc.Equals, "E2")

	// The poll timer is re-armed.
	reader.buffered <- []tag.Read{{EPC: "E3", RSSI: "-60"}}
	c.Assert(s.clock.WaitAdvance(DefaultPollInterval, testing.LongWait, 1), jc.ErrorIsNil)
	c.Check(receive(c, submitted).EPC, gc.Equals, "E3")
}

func (s *inventorySuite) TestStopDrainsBufferedReads(c *gc.C) {
	defer s.setupMocks(c).Finish()

	reader := &pollingReader{
		MockReader: s.reader,
		buffered:   make(chan []tag.Read, 1),
	}
	s.reader.EXPECT().StartInventory(gomock.Any()).Return(nil)
	// The driver still holds reads when it is told to stop.
	s.reader.EXPECT().StopInventory().DoAndReturn(func() error {
		reader.buffered <- []tag.Read{
			{EPC: "E1", RSSI: "-40"},
			{EPC: "E2", RSSI: "-50"},
			{EPC: "E3", RSSI: "-60"},
		}
		return nil
	})

	submitted := make(chan tag.Read, 10)
	w, err := newInventoryWorker(s.config(reader, submitted))
	c.Assert(err, jc.ErrorIsNil)

	workertest.CleanKill(c, w)

	c.Assert(submitted, gc.HasLen, 3)
	c.Check((<-submitted).EPC, gc.Equals, "E1")
	c.Check((<-submitted).EPC, gc.Equals, "E2")
	c.Check((<-submitted).EPC, gc.Equals, "E3")
}

func (s *inventorySuite) TestCallbackReads(c *gc.C) {
	defer s.setupMocks(c).Finish()

	var onRead func(tag.Read)
	s.reader.EXPECT().StartInventory(gomock.Any()).DoAndReturn(func(f func(tag.Read)) error {
		onRead = f
		return nil
	})
	s.reader.EXPECT().StopInventory().Return(nil)

	submitted := make(chan tag.Read, 10)
	w, err := newInventoryWorker(s.config(s.reader, submitted))
	c.Assert(err, jc.ErrorIsNil)

	onRead(tag.Read{EPC: "E1", RSSI: "-40"})
	c.Check(receive(c, submitted).EPC, gc.Equals, "E1")

	workertest.CleanKill(c, w)
	onRead(tag.Read{EPC: "E2", RSSI: "-40"})
	assertNothing(c, submitted)
}

func (s *inventorySuite) TestStartFailure(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.reader.EXPECT().StartInventory(gomock.Any()).Return(errors.New("busy"))

	_, err := newInventoryWorker(s.config(s.reader, make(chan tag.Read)))
	c.Check(err, jc.ErrorIs, coreerrors.HardwareUnavailable)
}

type stateSuite struct{}

var _ = gc.Suite(&stateSuite{})

func (s *stateSuite) TestString(c *gc.C) {
	c.Check(Idle.String(), gc.Equals, "idle")
	c.Check(InventoryRunning.String(), gc.Equals, "inventory-running")
	c.Check(BarcodeRunning.String(), gc.Equals, "barcode-running")
	c.Check(State(99).String(), gc.Equals, "unknown")

	text, err := LocationRunning.MarshalText()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(text), gc.Equals, "location-running")
}
