/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/thirdblockfm/tuner/internal/config"
	"github.com/thirdblockfm/tuner/internal/logbuffer"
	"github.com/thirdblockfm/tuner/internal/logging"
	"github.com/thirdblockfm/tuner/internal/server"
	"github.com/thirdblockfm/tuner/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tuner",
	Short: "Third Block FM tuner - headless internet radio player",
	Long:  "A headless internet radio player with crossfaded station switching, now-playing metadata and an HTTP control surface.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tuner",
	Long:  "Start the audio engine and the HTTP control API",
	RunE:  runServe,
}

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "List configured stations",
	RunE:  runStations,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the tuner version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stationsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	// Re-init logging with the ring buffer attached so /api/v1/logs sees
	// everything from startup on.
	logBuf := logbuffer.New(cfg.LogBufferSize)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf, nil))

	logger.Info().Str("version", version.Version).Msg("tuner starting")

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("tuner stopped")
	return nil
}

func runStations(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	stations, err := config.LoadStations(cfg.StationsFile)
	if err != nil {
		return fmt.Errorf("load stations: %w", err)
	}

	for _, st := range stations.All() {
		fmt.Printf("%-12s %-24s %s\n", st.ID, st.Name, st.StreamURL)
	}
	return nil
}
