// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package controlsocket

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"
)

// ListenerConfig holds the configuration of a SocketListener.
type ListenerConfig struct {
	Logger           Logger
	SocketName       string
	RegisterHandlers func(r *mux.Router)
	ShutdownTimeout  time.Duration
}

// Validate ensures that the config values are valid.
func (c ListenerConfig) Validate() error {
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.SocketName == "" {
		return errors.NotValidf("empty SocketName")
	}
	if c.RegisterHandlers == nil {
		return errors.NotValidf("nil RegisterHandlers")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.NotValidf("non-positive ShutdownTimeout")
	}
	return nil
}

// SocketListener serves HTTP over a unix socket until it is killed.
type SocketListener struct {
	tomb     tomb.Tomb
	config   ListenerConfig
	listener net.Listener
	server   *http.Server
}

// NewSocketListener listens on the configured socket and starts serving
// the handlers registered by config.RegisterHandlers.
func NewSocketListener(config ListenerConfig) (worker.Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	// A socket file left behind by an earlier process would make the
	// listen fail.
	if err := os.Remove(config.SocketName); err != nil && !os.IsNotExist(err) {
		return nil, errors.Annotatef(err, "removing stale socket %q", config.SocketName)
	}
	listener, err := net.Listen("unix", config.SocketName)
	if err != nil {
		return nil, errors.Annotatef(err, "listening on %q", config.SocketName)
	}
	config.Logger.Debugf("control socket listening on %q", config.SocketName)

	router := mux.NewRouter()
	config.RegisterHandlers(router)

	sl := &SocketListener{
		config:   config,
		listener: listener,
		server:   &http.Server{Handler: router},
	}
	sl.tomb.Go(sl.run)
	return sl, nil
}

// Kill is part of the worker.Worker interface.
func (sl *SocketListener) Kill() {
	sl.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (sl *SocketListener) Wait() error {
	return sl.tomb.Wait()
}

func (sl *SocketListener) run() error {
	sl.tomb.Go(func() error {
		err := sl.server.Serve(sl.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Annotate(err, "serving control socket")
	})

	<-sl.tomb.Dying()
	ctx, cancel := context.WithTimeout(context.Background(), sl.config.ShutdownTimeout)
	defer cancel()
	if err := sl.server.Shutdown(ctx); err != nil {
		return errors.Annotate(err, "shutting down control socket")
	}
	sl.config.Logger.Debugf("control socket %q closed", sl.config.SocketName)
	return nil
}
