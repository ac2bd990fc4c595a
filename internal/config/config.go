/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/thirdblockfm/tuner/internal/station"
)

// TransitionMode selects how a station switch bridges the buffering gap.
type TransitionMode string

const (
	// TransitionCrossfade keeps the outgoing decoder running and ramps
	// gains between both sessions.
	TransitionCrossfade TransitionMode = "crossfade"
	// TransitionFiller stops the outgoing decoder immediately and plays a
	// local seek sample until the incoming stream is ready.
	TransitionFiller TransitionMode = "filler"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	StationsFile string
	StatusURL    string // Icecast status document (status-json.xsl)

	PollInterval time.Duration // now-playing poll cadence
	ReadyTimeout time.Duration // hard ceiling for a pending station switch
	FadeDuration time.Duration
	FadeSteps    int

	TransitionMode TransitionMode
	FillerSample   string // local MP3 played while a switch is buffering
	FillerMaxSeek  time.Duration

	GStreamerBin string
	AudioSink    string // GStreamer sink element for audible output

	// Optional Redis mirror for multi-client deployments
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InstanceID    string

	MediaAlbum    string // album string published to media-session surfaces
	LogBufferSize int
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("TUNER_ENV", "development"),
		HTTPBind:    getEnv("TUNER_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("TUNER_HTTP_PORT", 8080),

		StationsFile: getEnv("TUNER_STATIONS_FILE", "./stations.yml"),
		StatusURL:    getEnv("TUNER_STATUS_URL", ""),

		PollInterval: getEnvDuration("TUNER_POLL_INTERVAL_MS", 15000*time.Millisecond),
		ReadyTimeout: getEnvDuration("TUNER_READY_TIMEOUT_MS", 3000*time.Millisecond),
		FadeDuration: getEnvDuration("TUNER_FADE_DURATION_MS", 2000*time.Millisecond),
		FadeSteps:    getEnvInt("TUNER_FADE_STEPS", 50),

		TransitionMode: TransitionMode(getEnv("TUNER_TRANSITION_MODE", string(TransitionCrossfade))),
		FillerSample:   getEnv("TUNER_FILLER_SAMPLE", ""),
		FillerMaxSeek:  getEnvDuration("TUNER_FILLER_MAX_SEEK_MS", 60000*time.Millisecond),

		GStreamerBin: getEnv("TUNER_GSTREAMER_BIN", "gst-launch-1.0"),
		AudioSink:    getEnv("TUNER_AUDIO_SINK", "autoaudiosink"),

		RedisAddr:     getEnv("TUNER_REDIS_ADDR", ""),
		RedisPassword: getEnv("TUNER_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("TUNER_REDIS_DB", 0),
		InstanceID:    getEnv("TUNER_INSTANCE_ID", uuid.NewString()),

		MediaAlbum:    getEnv("TUNER_MEDIA_ALBUM", "third block fm"),
		LogBufferSize: getEnvInt("TUNER_LOG_BUFFER_SIZE", 2000),
	}

	if cfg.StatusURL == "" {
		return nil, fmt.Errorf("TUNER_STATUS_URL must be provided")
	}

	if cfg.TransitionMode != TransitionCrossfade && cfg.TransitionMode != TransitionFiller {
		return nil, fmt.Errorf("unsupported transition mode %q", cfg.TransitionMode)
	}

	if cfg.TransitionMode == TransitionFiller && cfg.FillerSample == "" {
		return nil, fmt.Errorf("TUNER_FILLER_SAMPLE must be provided in filler mode")
	}

	if cfg.FadeSteps <= 0 {
		return nil, fmt.Errorf("TUNER_FADE_STEPS must be positive")
	}

	if cfg.ReadyTimeout <= 0 {
		return nil, fmt.Errorf("TUNER_READY_TIMEOUT_MS must be positive")
	}

	return cfg, nil
}

// stationsFile is the YAML document shape of the stations file.
type stationsFile struct {
	Stations []station.Station `yaml:"stations"`
}

// LoadStations reads the station list from the configured YAML file.
func LoadStations(path string) (*station.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations file: %w", err)
	}

	var doc stationsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse stations file: %w", err)
	}

	reg, err := station.NewRegistry(doc.Stations)
	if err != nil {
		return nil, fmt.Errorf("stations file %s: %w", path, err)
	}
	return reg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvDuration reads a millisecond-valued environment variable.
func getEnvDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return def
}
