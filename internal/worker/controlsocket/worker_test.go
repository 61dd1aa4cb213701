// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package controlsocket

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/workertest"
	"github.com/prometheus/client_golang/prometheus"
	gc "gopkg.in/check.v1"

	"github.com/juju/rfidagg/internal/dispatch"
	"github.com/juju/rfidagg/internal/hub"
)

type workerSuite struct {
	testing.IsolationSuite

	dispatcher *fakeDispatcher
	hub        *pubsub.SimpleHub
	registry   *prometheus.Registry
	clock      *testclock.Clock
	logger     Logger
	socket     string
}

var _ = gc.Suite(&workerSuite{})

type handlerTest struct {
	// Request
	method   string
	endpoint string
	body     string
	// Response
	statusCode int
	response   string // response body
	ignoreBody bool   // if true, test will not read the request body
}

func (s *workerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)

	s.dispatcher = &fakeDispatcher{}
	s.logger = loggo.GetLogger(c.TestName())
	s.hub = pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
		Logger: loggo.GetLogger("test.hub"),
	})
	s.registry = prometheus.NewRegistry()
	s.clock = testclock.NewClock(time.Now())
	s.socket = path.Join(c.MkDir(), "test.socket")
}

func (s *workerSuite) startWorker(c *gc.C) *Worker {
	w, err := NewWorker(Config{
		Dispatcher:        s.dispatcher,
		Hub:               s.hub,
		Topics:            hub.Topics,
		Gatherer:          s.registry,
		Clock:             s.clock,
		Logger:            s.logger,
		SocketName:        s.socket,
		NewSocketListener: NewSocketListener,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) { workertest.DirtyKill(c, w) })
	return w.(*Worker)
}

func (s *workerSuite) runHandlerTest(c *gc.C, test handlerTest) {
	s.startWorker(c)

	serverURL := "http://localhost:8080"
	req, err := http.NewRequest(
		test.method,
		serverURL+test.endpoint,
		strings.NewReader(test.body),
	)
	c.Assert(err, jc.ErrorIsNil)

	cl := client(s.socket)
	defer cl.CloseIdleConnections()
	resp, err := cl.Do(req)
	c.Assert(err, jc.ErrorIsNil)
	defer resp.Body.Close()
	c.Assert(resp.StatusCode, gc.Equals, test.statusCode)

	if test.ignoreBody {
		return
	}
	data, err := io.ReadAll(resp.Body)
	c.Assert(err, jc.ErrorIsNil)

	// Response should be valid JSON
	c.Check(resp.Header.Get("Content-Type"), gc.Equals, "application/json")
	err = json.Unmarshal(data, &struct{}{})
	c.Assert(err, jc.ErrorIsNil)
	if test.response != "" {
		c.Check(string(data), gc.Matches, test.response)
	}
}

func (s *workerSuite) TestValidate(c *gc.C) {
	valid := Config{
		Dispatcher:        s.dispatcher,
		Hub:               s.hub,
		Topics:            hub.Topics,
		Gatherer:          s.registry,
		Clock:             s.clock,
		Logger:            s.logger,
		SocketName:        s.socket,
		NewSocketListener: NewSocketListener,
	}
	c.Assert(valid.Validate(), jc.ErrorIsNil)

	for i, mutate := range []func(*Config){
		func(cfg *Config) { cfg.Dispatcher = nil },
		func(cfg *Config) { cfg.Hub = nil },
		func(cfg *Config) { cfg.Topics = nil },
		func(cfg *Config) { cfg.Gatherer = nil },
		func(cfg *Config) { cfg.Clock = nil },
		func(cfg *Config) { cfg.Logger = nil },
		func(cfg *Config) { cfg.SocketName = "" },
		func(cfg *Config) { cfg.NewSocketListener = nil },
	} {
		c.Logf("test %d", i)
		cfg := valid
		mutate(&cfg)
		c.Check(cfg.Validate(), jc.ErrorIs, errors.NotValid)
	}
}

func (s *workerSuite) TestListenerError(c *gc.C) {
	_, err := NewWorker(Config{
		Dispatcher: s.dispatcher,
		Hub:        s.hub,
		Topics:     hub.Topics,
		Gatherer:   s.registry,
		Clock:      s.clock,
		Logger:     s.logger,
		SocketName: s.socket,
		NewSocketListener: func(ListenerConfig) (worker.Worker, error) {
			return nil, errors.New("address in use")
		},
	})
	c.Assert(err, gc.ErrorMatches, "control socket listener: address in use")
}

func (s *workerSuite) TestListMethods(c *gc.C) {
	s.dispatcher.methods = []string{"clearData", "getTags"}
	s.runHandlerTest(c, handlerTest{
		method:     http.MethodGet,
		endpoint:   "/methods",
		statusCode: http.StatusOK,
		response:   `{"methods":\["clearData","getTags"\]}`,
	})
}

func (s *workerSuite) TestListMethodsInvalidMethod(c *gc.C) {
	s.runHandlerTest(c, handlerTest{
		method:     http.MethodPost,
		endpoint:   "/methods",
		statusCode: http.StatusMethodNotAllowed,
		ignoreBody: true,
	})
}

func (s *workerSuite) TestCallInvalidMethod(c *gc.C) {
	s.runHandlerTest(c, handlerTest{
		method:     http.MethodGet,
		endpoint:   "/methods/getTags",
		statusCode: http.StatusMethodNotAllowed,
		ignoreBody: true,
	})
	c.Check(s.dispatcher.recorded(), gc.HasLen, 0)
}

func (s *workerSuite) TestCallInvalidBody(c *gc.C) {
	s.runHandlerTest(c, handlerTest{
		method:     http.MethodPost,
		endpoint:   "/methods/setPowerLevel",
		body:       "value 10",
		statusCode: http.StatusBadRequest,
		response:   ".*request body is not valid JSON.*",
	})
	c.Check(s.dispatcher.recorded(), gc.HasLen, 0)
}

func (s *workerSuite) TestCallUnknownMethod(c *gc.C) {
	s.dispatcher.err = errors.NotFoundf("method %q", "explode")
	s.runHandlerTest(c, handlerTest{
		method:     http.MethodPost,
		endpoint:   "/methods/explode",
		statusCode: http.StatusNotFound,
		response:   `{"error":"method \\"explode\\" not found"}`,
	})
}

func (s *workerSuite) TestCallDispatcherError(c *gc.C) {
	s.dispatcher.err = errors.New("kaboom")
	s.runHandlerTest(c, handlerTest{
		method:     http.MethodPost,
		endpoint:   "/methods/getTags",
		statusCode: http.StatusInternalServerError,
		response:   `{"error":"kaboom"}`,
	})
}

func (s *workerSuite) TestCallNoBody(c *gc.C) {
	s.dispatcher.result = dispatch.Result{Success: true}
	s.runHandlerTest(c, handlerTest{
		method:     http.MethodPost,
		endpoint:   "/methods/clearData",
		statusCode: http.StatusOK,
		response:   `{"success":true}`,
	})
	c.Assert(s.dispatcher.recorded(), gc.HasLen, 1)
	c.Check(s.dispatcher.recorded()[0].name, gc.Equals, "clearData")
	c.Check(s.dispatcher.recorded()[0].args, gc.IsNil)
}

func (s *workerSuite) TestCallWithArgs(c *gc.C) {
	s.dispatcher.result = dispatch.Result{Success: true}
	s.runHandlerTest(c, handlerTest{
		method:     http.MethodPost,
		endpoint:   "/methods/startLocation",
		body:       ` {"identity":"E1","distance":5} `,
		statusCode: http.StatusOK,
		response:   `{"success":true}`,
	})
	c.Assert(s.dispatcher.recorded(), gc.HasLen, 1)
	c.Check(s.dispatcher.recorded()[0].name, gc.Equals, "startLocation")
	c.Check(string(s.dispatcher.recorded()[0].args), gc.Equals, `{"identity":"E1","distance":5}`)
}

func (s *workerSuite) TestCallFailureResult(c *gc.C) {
	s.dispatcher.result = dispatch.Result{Error: "rfid reader not connected"}
	s.runHandlerTest(c, handlerTest{
		method:     http.MethodPost,
		endpoint:   "/methods/startRfidContinuous",
		statusCode: http.StatusOK,
		response:   `{"success":false,"error":"rfid reader not connected"}`,
	})
}

func (s *workerSuite) TestCallValue(c *gc.C) {
	s.dispatcher.result = dispatch.Result{Success: true, Value: "FAIL"}
	s.runHandlerTest(c, handlerTest{
		method:     http.MethodPost,
		endpoint:   "/methods/readBarcode",
		statusCode: http.StatusOK,
		response:   `{"success":true,"value":"FAIL"}`,
	})
}

func (s *workerSuite) TestMetrics(c *gc.C) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rfidagg",
		Name:      "test_total",
		Help:      "Counts nothing in particular.",
	})
	s.registry.MustRegister(counter)
	counter.Add(3)

	s.startWorker(c)

	cl := client(s.socket)
	defer cl.CloseIdleConnections()
	resp, err := cl.Get("http://localhost/metrics")
	c.Assert(err, jc.ErrorIsNil)
	defer resp.Body.Close()
	c.Assert(resp.StatusCode, gc.Equals, http.StatusOK)

	data, err := io.ReadAll(resp.Body)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(string(data), jc.Contains, "rfidagg_test_total 3")
}

func (s *workerSuite) TestEventsUnknownTopic(c *gc.C) {
	s.runHandlerTest(c, handlerTest{
		method:     http.MethodGet,
		endpoint:   "/events?topic=tags&topic=weather",
		statusCode: http.StatusBadRequest,
		response:   `{"error":"unknown topic weather"}`,
	})
}

func (s *workerSuite) TestEvents(c *gc.C) {
	s.startWorker(c)
	conn := s.dialEvents(c, "")

	_ = s.hub.Publish(hub.BarcodeTopic, hub.BarcodeMessage{Data: "4006381333931"})

	topic, data := readEvent(c, conn)
	c.Check(topic, gc.Equals, hub.BarcodeTopic)
	c.Check(data, gc.Equals, `{"data":"4006381333931"}`)
}

func (s *workerSuite) TestEventsTopicFilter(c *gc.C) {
	s.startWorker(c)
	conn := s.dialEvents(c, "?topic=connection")

	_ = s.hub.Publish(hub.BarcodeTopic, hub.BarcodeMessage{Data: "ignored"})
	_ = s.hub.Publish(hub.ConnectionTopic, hub.ConnectionMessage{Connected: true})

	topic, data := readEvent(c, conn)
	c.Check(topic, gc.Equals, hub.ConnectionTopic)
	c.Check(data, gc.Equals, `{"connected":true}`)
}

func (s *workerSuite) TestEventsPing(c *gc.C) {
	s.startWorker(c)
	conn := s.dialEvents(c, "")

	pinged := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err := s.clock.WaitAdvance(pingPeriod, testing.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	select {
	case <-pinged:
	case <-time.After(testing.LongWait):
		c.Fatalf("timed out waiting for ping")
	}
}

func (s *workerSuite) TestEventsClosedOnKill(c *gc.C) {
	w := s.startWorker(c)
	conn := s.dialEvents(c, "")

	workertest.CleanKill(c, w)

	_ = conn.SetReadDeadline(time.Now().Add(testing.LongWait))
	_, _, err := conn.ReadMessage()
	c.Check(websocket.IsCloseError(err, websocket.CloseGoingAway), jc.IsTrue)
}

func (s *workerSuite) dialEvents(c *gc.C, query string) *websocket.Conn {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", s.socket)
		},
		HandshakeTimeout: testing.LongWait,
	}
	conn, resp, err := dialer.Dial("ws://localhost/events"+query, nil)
	c.Assert(err, jc.ErrorIsNil)
	_ = resp.Body.Close()
	s.AddCleanup(func(*gc.C) { _ = conn.Close() })
	return conn
}

func readEvent(c *gc.C, conn *websocket.Conn) (string, string) {
	_ = conn.SetReadDeadline(time.Now().Add(testing.LongWait))
	var event struct {
		Topic string          `json:"topic"`
		Data  json.RawMessage `json:"data"`
	}
	err := conn.ReadJSON(&event)
	c.Assert(err, jc.ErrorIsNil)
	return event.Topic, string(event.Data)
}

type fakeDispatcher struct {
	mu      sync.Mutex
	methods []string
	result  dispatch.Result
	err     error
	calls   []dispatchCall
}

type dispatchCall struct {
	name string
	args json.RawMessage
}

func (f *fakeDispatcher) recorded() []dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeDispatcher) Methods() []string {
	return f.methods
}

func (f *fakeDispatcher) Call(_ context.Context, name string, args json.RawMessage) (dispatch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{name: name, args: args})
	return f.result, f.err
}

func client(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (conn net.Conn, err error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
}
