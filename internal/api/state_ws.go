/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	ws "nhooyr.io/websocket"

	"github.com/thirdblockfm/tuner/internal/events"
	"github.com/thirdblockfm/tuner/internal/telemetry"
	"github.com/thirdblockfm/tuner/internal/view"
)

type wsMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// handleStateSocket streams player state over a websocket. Every client
// gets the full view on connect, then a fresh projection after each
// state or now-playing event.
func (a *API) handleStateSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	clientID := uuid.NewString()
	a.logger.Debug().Str("client_id", clientID).Msg("state websocket connected")

	stateCh := a.bus.Subscribe(events.EventPlayerState)
	nowPlayingCh := a.bus.Subscribe(events.EventNowPlaying)
	defer a.bus.Unsubscribe(events.EventPlayerState, stateCh)
	defer a.bus.Unsubscribe(events.EventNowPlaying, nowPlayingCh)

	ctx := r.Context()

	if err := a.sendState(ctx, conn); err != nil {
		a.logger.Debug().Err(err).Str("client_id", clientID).Msg("initial state send failed")
		return
	}

	// Drain reads so pings and close frames are processed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(15 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return

		case <-readDone:
			conn.Close(ws.StatusNormalClosure, "client disconnected")
			a.logger.Debug().Str("client_id", clientID).Msg("state websocket disconnected")
			return

		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(ws.StatusInternalError, "ping failed")
				return
			}

		case <-stateCh:
			if err := a.sendState(ctx, conn); err != nil {
				return
			}

		case <-nowPlayingCh:
			if err := a.sendState(ctx, conn); err != nil {
				return
			}
		}
	}
}

func (a *API) sendState(ctx context.Context, conn *ws.Conn) error {
	msg := wsMessage{
		Type:      "player_state",
		Timestamp: time.Now().UTC(),
		Data:      view.Project(a.controller.Snapshot(), a.stations.All()),
	}
	bytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}
