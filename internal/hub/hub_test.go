// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hub

import (
	"context"
	"time"

	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/rfidagg/core/tag"
)

type hubSuite struct {
	testing.IsolationSuite

	hub *pubsub.SimpleHub
}

var _ = gc.Suite(&hubSuite{})

func (s *hubSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.hub = pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{Logger: loggo.GetLogger("test")})
}

type message struct {
	topic string
	data  interface{}
}

func (s *hubSuite) subscribeAll(c *gc.C) <-chan message {
	received := make(chan message, 10)
	for _, topic := range Topics {
		unsubscribe := s.hub.Subscribe(topic, func(topic string, data interface{}) {
			received <- message{topic: topic, data: data}
		})
		s.AddCleanup(func(*gc.C) { unsubscribe() })
	}
	return received
}

func (s *hubSuite) next(c *gc.C, received <-chan message) message {
	select {
	case m := <-received:
		return m
	case <-time.After(testing.LongWait):
		c.Fatalf("timed out waiting for message")
	}
	panic("unreachable")
}

func (s *hubSuite) TestSinkPublishes(c *gc.C) {
	received := s.subscribeAll(c)
	sink := NewSink(s.hub)

	batch := tag.Batch{Kind: tag.Partial, Tags: []tag.Record{{Identity: "E1", DisplayID: "E1", RSSI: "-40", Count: 1}}}
	sink.OnTagBatch(batch, []byte("payload"))
	m := s.next(c, received)
	c.Check(m.topic, gc.Equals, TagsTopic)
	c.Check(m.data, jc.DeepEquals, TagBatchMessage{Batch: batch, Payload: []byte("payload")})

	sink.OnBarcodeResult("-1")
	m = s.next(c, received)
	c.Check(m.topic, gc.Equals, BarcodeTopic)
	c.Check(m.data, jc.DeepEquals, BarcodeMessage{Data: "-1"})

	sink.OnConnectionChanged(true)
	m = s.next(c, received)
	c.Check(m.topic, gc.Equals, ConnectionTopic)
	c.Check(m.data, jc.DeepEquals, ConnectionMessage{Connected: true})

	sink.OnLocationResult(false)
	m = s.next(c, received)
	c.Check(m.topic, gc.Equals, LocationResultTopic)
	c.Check(m.data, jc.DeepEquals, LocationResultMessage{Started: false})

	sink.OnLocationSample(tag.LocationSample{Value: 7, Valid: true})
	m = s.next(c, received)
	c.Check(m.topic, gc.Equals, LocationTopic)
	c.Check(m.data, jc.DeepEquals, tag.LocationSample{Value: 7, Valid: true})
}

func (s *hubSuite) TestManifoldOutput(c *gc.C) {
	manifold := Manifold(ManifoldConfig{Hub: s.hub})
	c.Check(manifold.Inputs, gc.HasLen, 0)

	w, err := manifold.Start(context.Background(), nil)
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, w)

	var hub *pubsub.SimpleHub
	c.Assert(manifold.Output(w, &hub), jc.ErrorIsNil)
	c.Check(hub, gc.Equals, s.hub)

	var wrong *string
	c.Check(manifold.Output(w, &wrong), gc.ErrorMatches, "out should be \\*pubsub.SimpleHub; got .*")
}

func (s *hubSuite) TestManifoldNeedsHub(c *gc.C) {
	_, err := Manifold(ManifoldConfig{}).Start(context.Background(), nil)
	c.Check(err, gc.ErrorMatches, "nil Hub not valid")
}
