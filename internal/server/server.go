/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the tuner together: audio output, decoder
// factory, transition machinery, metadata polling and the HTTP surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/thirdblockfm/tuner/internal/api"
	"github.com/thirdblockfm/tuner/internal/audio"
	"github.com/thirdblockfm/tuner/internal/config"
	"github.com/thirdblockfm/tuner/internal/decoder"
	"github.com/thirdblockfm/tuner/internal/eventbus"
	"github.com/thirdblockfm/tuner/internal/events"
	"github.com/thirdblockfm/tuner/internal/fader"
	"github.com/thirdblockfm/tuner/internal/filler"
	"github.com/thirdblockfm/tuner/internal/logbuffer"
	"github.com/thirdblockfm/tuner/internal/mediasession"
	"github.com/thirdblockfm/tuner/internal/metadata"
	"github.com/thirdblockfm/tuner/internal/session"
	"github.com/thirdblockfm/tuner/internal/station"
	"github.com/thirdblockfm/tuner/internal/telemetry"
	"github.com/thirdblockfm/tuner/internal/version"
)

// Output audio format shared by the mixer and all decode pipelines.
const (
	sampleRate = 44100
	channels   = 2
)

// Server bundles the HTTP surface and the audio machinery.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server

	stations   *station.Registry
	mixer      *audio.Mixer
	output     *audio.Proc
	controller *session.Controller
	poller     *metadata.Poller
	bridge     *mediasession.Bridge
	mirror     *eventbus.Mirror
	bus        *events.Bus
	api        *api.API
	checker    *version.Checker
	logBuffer  *logbuffer.Buffer

	runCtx    context.Context
	runCancel context.CancelFunc
	closers   []func() error
}

func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for the websocket state stream.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}
	srv.runCtx, srv.runCancel = context.WithCancel(context.Background())

	if err := srv.initDependencies(); err != nil {
		srv.runCancel()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 so the websocket state stream is not cut.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func (s *Server) initDependencies() error {
	stations, err := config.LoadStations(s.cfg.StationsFile)
	if err != nil {
		return fmt.Errorf("loading stations: %w", err)
	}
	s.stations = stations

	output, err := audio.StartOutputProc(s.runCtx, s.cfg.GStreamerBin, s.cfg.AudioSink, sampleRate, channels, s.logger)
	if err != nil {
		return fmt.Errorf("starting audio output: %w", err)
	}
	s.output = output
	s.DeferClose(output.Close)

	s.mixer = audio.NewMixer(output.Stdin(), sampleRate, channels, s.logger)

	factory := decoder.NewIcecastFactory(s.cfg.GStreamerBin, sampleRate, channels, s.mixer, s.logger)
	fadeEngine := fader.New(s.cfg.FadeDuration, s.cfg.FadeSteps, s.logger)

	var bed session.FillerPlayer
	if s.cfg.TransitionMode == config.TransitionFiller {
		player, err := filler.NewPlayer(s.cfg.FillerSample, s.cfg.FillerMaxSeek, s.cfg.GStreamerBin, sampleRate, channels, s.mixer, s.logger)
		if err != nil {
			return fmt.Errorf("preparing filler sample: %w", err)
		}
		bed = player
	}

	controller := session.NewController(session.Options{
		Ctx:          s.runCtx,
		Stations:     stations,
		Factory:      factory,
		Fader:        fadeEngine,
		Filler:       bed,
		Mode:         session.TransitionMode(s.cfg.TransitionMode),
		ReadyTimeout: s.cfg.ReadyTimeout,
		Bus:          s.bus,
		Logger:       s.logger,
	})
	s.controller = controller

	s.poller = metadata.NewPoller(s.cfg.StatusURL, s.cfg.PollInterval, controller.HandleMetadataUpdate, s.logger)
	controller.AttachMetadata(s.poller)

	s.bridge = mediasession.NewBridge(controller, s.cfg.MediaAlbum, s.bus, s.logger)

	if s.cfg.RedisAddr != "" {
		mirrorCfg := eventbus.DefaultConfig()
		mirrorCfg.Addr = s.cfg.RedisAddr
		mirrorCfg.Password = s.cfg.RedisPassword
		mirrorCfg.DB = s.cfg.RedisDB
		s.mirror = eventbus.NewMirror(mirrorCfg, s.bus, s.cfg.InstanceID, s.logger)
	}

	s.api = api.New(stations, controller, s.bridge, s.bus, s.logBuffer, s.logger)

	s.checker = version.NewChecker(s.logger)
	s.api.SetVersionChecker(s.checker)
	return nil
}

func (s *Server) configureRoutes() {
	s.router.Handle("/metrics", telemetry.Handler())
	s.api.Routes(s.router)
}

func (s *Server) startBackgroundWorkers() {
	s.mixer.Start(s.runCtx)
	s.checker.Start(s.runCtx)
	go s.bridge.Run(s.runCtx)
	if s.mirror != nil {
		go s.mirror.Run(s.runCtx)
	}
}

func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Controller exposes the player for subcommands and tests.
func (s *Server) Controller() *session.Controller {
	return s.controller
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.controller.Close()
	s.poller.Stop()
	s.mixer.Stop()
	s.runCancel()

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
