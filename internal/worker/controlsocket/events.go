// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package controlsocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/collections/set"
)

const (
	// pongDelay is how long to wait for a pong before the client is
	// considered gone.
	pongDelay = 90 * time.Second
	// pingPeriod must be shorter than pongDelay.
	pingPeriod = (pongDelay * 8) / 10
	// writeWait bounds every write to the client.
	writeWait = 10 * time.Second
)

var websocketUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventMessage is written to /events clients for every hub message.
type eventMessage struct {
	Topic string      `json:"topic"`
	Data  interface{} `json:"data"`
}

// handleEvents streams hub messages to a websocket client. Clients may
// restrict the stream with repeated topic query parameters.
func (w *Worker) handleEvents(resp http.ResponseWriter, req *http.Request) {
	topics := w.config.Topics
	if requested := req.URL.Query()["topic"]; len(requested) > 0 {
		known := set.NewStrings(w.config.Topics...)
		topics = nil
		for _, topic := range requested {
			if !known.Contains(topic) {
				w.writeResponse(resp, http.StatusBadRequest, errorResponse{
					Error: "unknown topic " + topic,
				})
				return
			}
			topics = append(topics, topic)
		}
	}

	// Subscribe before the upgrade so that nothing published after the
	// handshake completes is missed.
	done := make(chan struct{})
	defer close(done)
	messages := make(chan eventMessage)
	for _, topic := range topics {
		unsubscribe := w.config.Hub.Subscribe(topic, func(topic string, data interface{}) {
			select {
			case messages <- eventMessage{Topic: topic, Data: data}:
			case <-done:
			}
		})
		defer unsubscribe()
	}

	conn, err := websocketUpgrader.Upgrade(resp, req, nil)
	if err != nil {
		w.config.Logger.Errorf("problem initiating websocket: %v", err)
		return
	}
	defer conn.Close()
	w.streamEvents(conn, messages)
}

func (w *Worker) streamEvents(conn *websocket.Conn, messages <-chan eventMessage) {
	// Here we configure the ping/pong handling for the websocket so the
	// server can notice when the client goes away.
	_ = conn.SetReadDeadline(time.Now().Add(pongDelay))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongDelay))
	})
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := w.config.Clock.NewTimer(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-w.catacomb.Dying():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		case <-gone:
			w.config.Logger.Debugf("event client went away")
			return
		case <-ping.Chan():
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				// This error is expected if the other end goes away.
				w.config.Logger.Debugf("failed to write ping: %s", err)
				return
			}
			ping.Reset(pingPeriod)
		case m := <-messages:
			w.config.Logger.Tracef("topic: %q, data: %v", m.Topic, m.Data)
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				w.config.Logger.Debugf("failed to write event: %v", err)
				return
			}
		}
	}
}
