// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package simplesignalhandler

import (
	"context"
	"os"
	"syscall"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	dependencytesting "github.com/juju/worker/v4/dependency/testing"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"
)

type signalSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&signalSuite{})

func (s *signalSuite) TestSignalHandlerDefault(c *gc.C) {
	handler := SignalHandler(ErrTerminate, nil)
	c.Check(handler(syscall.SIGTERM), gc.Equals, ErrTerminate)
}

func (s *signalSuite) TestSignalHandlerMapped(c *gc.C) {
	hangup := errors.New("hangup")
	handler := SignalHandler(ErrTerminate, map[os.Signal]error{
		syscall.SIGHUP: hangup,
	})
	c.Check(handler(syscall.SIGHUP), gc.Equals, hangup)
	c.Check(handler(os.Interrupt), gc.Equals, ErrTerminate)
}

func (s *signalSuite) TestStopsWithHandlerError(c *gc.C) {
	ch := make(chan os.Signal, 1)
	w, err := NewSignalWatcher(loggo.GetLogger("test"), ch, SignalHandler(ErrTerminate, nil))
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.DirtyKill(c, w)

	ch <- syscall.SIGTERM
	err = workertest.CheckKilled(c, w)
	c.Check(err, jc.ErrorIs, ErrTerminate)
}

func (s *signalSuite) TestClosedChannel(c *gc.C) {
	ch := make(chan os.Signal)
	w, err := NewSignalWatcher(loggo.GetLogger("test"), ch, SignalHandler(ErrTerminate, nil))
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.DirtyKill(c, w)

	close(ch)
	err = workertest.CheckKilled(c, w)
	c.Check(err, gc.ErrorMatches, "signal channel closed unexpectedly")
}

func (s *signalSuite) TestKill(c *gc.C) {
	w, err := NewSignalWatcher(loggo.GetLogger("test"), make(chan os.Signal), SignalHandler(ErrTerminate, nil))
	c.Assert(err, jc.ErrorIsNil)
	workertest.CleanKill(c, w)
}

func (s *signalSuite) TestManifoldValidate(c *gc.C) {
	valid := ManifoldConfig{
		Logger:  loggo.GetLogger("test"),
		Signals: make(chan os.Signal),
		Handler: SignalHandler(ErrTerminate, nil),
	}
	c.Assert(valid.Validate(), jc.ErrorIsNil)

	for i, mutate := range []func(*ManifoldConfig){
		func(cfg *ManifoldConfig) { cfg.Logger = nil },
		func(cfg *ManifoldConfig) { cfg.Signals = nil },
		func(cfg *ManifoldConfig) { cfg.Handler = nil },
	} {
		c.Logf("test %d", i)
		cfg := valid
		mutate(&cfg)
		c.Check(cfg.Validate(), jc.ErrorIs, errors.NotValid)
	}
}

func (s *signalSuite) TestManifoldStart(c *gc.C) {
	ch := make(chan os.Signal, 1)
	manifold := Manifold(ManifoldConfig{
		Logger:  loggo.GetLogger("test"),
		Signals: ch,
		Handler: SignalHandler(ErrTerminate, nil),
	})
	c.Check(manifold.Inputs, gc.HasLen, 0)

	w, err := manifold.Start(context.Background(), dependencytesting.StubGetter(nil))
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.DirtyKill(c, w)

	ch <- os.Interrupt
	err = workertest.CheckKilled(c, w)
	c.Check(err, jc.ErrorIs, ErrTerminate)
}
