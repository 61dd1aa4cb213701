// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package controlsocket

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juju/rfidagg/internal/dispatch"
)

const (
	// maxBodySize bounds method argument bodies.
	maxBodySize = 1 << 16

	shutdownTimeout = 500 * time.Millisecond
)

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
	Tracef(message string, args ...any)
}

// Dispatcher invokes control methods by name.
type Dispatcher interface {
	Methods() []string
	Call(ctx context.Context, name string, args json.RawMessage) (dispatch.Result, error)
}

// Subscriber is the part of the hub used to stream events.
type Subscriber interface {
	Subscribe(topic string, handler func(string, interface{})) func()
}

// Config represents configuration for the controlsocket worker.
type Config struct {
	Dispatcher Dispatcher
	Hub        Subscriber
	// Topics are streamed on /events unless the client asks for fewer.
	Topics []string
	// Gatherer is served on /metrics.
	Gatherer prometheus.Gatherer

	Clock  clock.Clock
	Logger Logger
	// SocketName is the path of the unix socket.
	SocketName        string
	NewSocketListener func(ListenerConfig) (worker.Worker, error)
}

// Validate returns an error if config cannot drive the Worker.
func (config Config) Validate() error {
	if config.Dispatcher == nil {
		return errors.NotValidf("nil Dispatcher")
	}
	if config.Hub == nil {
		return errors.NotValidf("nil Hub")
	}
	if len(config.Topics) == 0 {
		return errors.NotValidf("empty Topics")
	}
	if config.Gatherer == nil {
		return errors.NotValidf("nil Gatherer")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if config.SocketName == "" {
		return errors.NotValidf("empty SocketName")
	}
	if config.NewSocketListener == nil {
		return errors.NotValidf("nil NewSocketListener")
	}
	return nil
}

// Worker serves the control surface over a unix socket.
type Worker struct {
	config   Config
	catacomb catacomb.Catacomb
}

// NewWorker returns a controlsocket worker with the given config.
func NewWorker(config Config) (worker.Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}

	w := &Worker{
		config: config,
	}
	sl, err := config.NewSocketListener(ListenerConfig{
		Logger:           config.Logger,
		SocketName:       config.SocketName,
		RegisterHandlers: w.registerHandlers,
		ShutdownTimeout:  shutdownTimeout,
	})
	if err != nil {
		return nil, errors.Annotate(err, "control socket listener")
	}

	err = catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
		Init: []worker.Worker{sl},
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

func (w *Worker) loop() error {
	<-w.catacomb.Dying()
	return w.catacomb.ErrDying()
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

func (w *Worker) registerHandlers(r *mux.Router) {
	r.HandleFunc("/methods", w.handleListMethods).
		Methods(http.MethodGet)
	r.HandleFunc("/methods/{name}", w.handleCall).
		Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.HandlerFor(w.config.Gatherer, promhttp.HandlerOpts{})).
		Methods(http.MethodGet)
	r.HandleFunc("/events", w.handleEvents).
		Methods(http.MethodGet)
}

type methodsResponse struct {
	Methods []string `json:"methods"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (w *Worker) handleListMethods(resp http.ResponseWriter, _ *http.Request) {
	w.writeResponse(resp, http.StatusOK, methodsResponse{Methods: w.config.Dispatcher.Methods()})
}

func (w *Worker) handleCall(resp http.ResponseWriter, req *http.Request) {
	name := mux.Vars(req)["name"]
	w.config.Logger.Tracef("control method %q called", name)

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize))
	if err != nil {
		w.writeResponse(resp, http.StatusBadRequest, errorResponse{
			Error: "reading request body: " + err.Error(),
		})
		return
	}

	var args json.RawMessage
	if body = bytes.TrimSpace(body); len(body) > 0 {
		if !json.Valid(body) {
			w.writeResponse(resp, http.StatusBadRequest, errorResponse{
				Error: "request body is not valid JSON",
			})
			return
		}
		args = body
	}

	result, err := w.config.Dispatcher.Call(req.Context(), name, args)
	if errors.Is(err, errors.NotFound) {
		w.writeResponse(resp, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	} else if err != nil {
		w.writeResponse(resp, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.writeResponse(resp, http.StatusOK, result)
}

func (w *Worker) writeResponse(resp http.ResponseWriter, statusCode int, body any) {
	w.config.Logger.Debugf("operation finished with HTTP status %v", statusCode)
	resp.Header().Set("Content-Type", "application/json")

	message, err := json.Marshal(body)
	if err != nil {
		w.config.Logger.Errorf("error marshalling response body to JSON: %v", err)
		w.config.Logger.Errorf("response body was %#v", body)

		// Mark this as an "internal server error"
		statusCode = http.StatusInternalServerError
		// Just write an empty response
		message = []byte("{}")
	}

	resp.WriteHeader(statusCode)
	w.config.Logger.Tracef("returning response %q", message)
	if _, err := resp.Write(message); err != nil {
		w.config.Logger.Warningf("error writing HTTP response: %v", err)
	}
}
