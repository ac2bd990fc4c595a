/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the player over HTTP: station list, selection,
// state reads, a state-stream websocket and operational endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/thirdblockfm/tuner/internal/events"
	"github.com/thirdblockfm/tuner/internal/logbuffer"
	"github.com/thirdblockfm/tuner/internal/mediasession"
	"github.com/thirdblockfm/tuner/internal/session"
	"github.com/thirdblockfm/tuner/internal/station"
	"github.com/thirdblockfm/tuner/internal/version"
	"github.com/thirdblockfm/tuner/internal/view"
)

// API exposes HTTP handlers.
type API struct {
	stations   *station.Registry
	controller *session.Controller
	bridge     *mediasession.Bridge
	bus        *events.Bus
	logBuffer  *logbuffer.Buffer
	checker    *version.Checker
	logger     zerolog.Logger
}

// New creates the API router wrapper.
func New(stations *station.Registry, controller *session.Controller, bridge *mediasession.Bridge, bus *events.Bus, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		stations:   stations,
		controller: controller,
		bridge:     bridge,
		bus:        bus,
		logBuffer:  logBuf,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// SetVersionChecker attaches the update checker.
func (a *API) SetVersionChecker(c *version.Checker) {
	a.checker = c
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stations", a.handleStations)
		r.Get("/state", a.handleState)
		r.Get("/state/ws", a.handleStateSocket)
		r.Post("/select", a.handleSelect)
		r.Post("/stop", a.handleStop)
		r.Get("/nowplaying", a.handleNowPlaying)
		r.Get("/version", a.handleVersion)

		r.Route("/media", func(r chi.Router) {
			r.Get("/", a.handleMedia)
			r.Post("/play", a.handleMediaPlay)
			r.Post("/pause", a.handleMediaPause)
		})

		r.Route("/logs", func(r chi.Router) {
			r.Get("/", a.handleLogs)
			r.Delete("/", a.handleClearLogs)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleStations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stations": a.stations.All(),
	})
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	snap := a.controller.Snapshot()
	writeJSON(w, http.StatusOK, view.Project(snap, a.stations.All()))
}

type selectRequest struct {
	StationID string `json:"stationId"`
}

// handleSelect applies user intent. The same id twice toggles off; an
// empty id stops outright.
func (a *API) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := a.controller.Select(req.StationID); err != nil {
		if errors.Is(err, session.ErrUnknownStation) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, view.Project(a.controller.Snapshot(), a.stations.All()))
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	a.controller.Stop()
	writeJSON(w, http.StatusOK, view.Project(a.controller.Snapshot(), a.stations.All()))
}

func (a *API) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	snap := a.controller.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"stationId":  snap.ActiveID,
		"nowPlaying": snap.NowPlaying,
	})
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	if a.checker == nil {
		writeJSON(w, http.StatusOK, version.UpdateInfo{CurrentVersion: version.Version})
		return
	}
	writeJSON(w, http.StatusOK, a.checker.Info())
}

func (a *API) handleMedia(w http.ResponseWriter, r *http.Request) {
	if a.bridge == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "media session not available"})
		return
	}
	writeJSON(w, http.StatusOK, a.bridge.Metadata())
}

func (a *API) handleMediaPlay(w http.ResponseWriter, r *http.Request) {
	a.bus.Publish(events.EventMediaCommand, events.Payload{"action": "play"})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *API) handleMediaPause(w http.ResponseWriter, r *http.Request) {
	a.bus.Publish(events.EventMediaCommand, events.Payload{"action": "pause"})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "log buffer not available",
		})
		return
	}

	params := logbuffer.QueryParams{
		Level:     r.URL.Query().Get("level"),
		Component: r.URL.Query().Get("component"),
		Search:    r.URL.Query().Get("search"),
		Limit:     500,
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	}

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "log buffer not available",
		})
		return
	}
	a.logBuffer.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
