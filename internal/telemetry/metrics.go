/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry exposes prometheus metrics for the HTTP surface and
// the station-transition machinery.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuner_api_requests_total",
		Help: "HTTP requests served, by method, endpoint and status.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tuner_api_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tuner_api_active_connections",
		Help: "HTTP requests currently in flight.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tuner_api_websocket_connections",
		Help: "Open state-stream websocket connections.",
	})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuner_transitions_total",
		Help: "Station transitions by terminal result.",
	}, []string{"result"})

	LoadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tuner_station_load_duration_seconds",
		Help:    "Time from selection to confirmed audio.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 1.5, 2, 2.5, 3},
	})

	MetadataFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tuner_metadata_fetches_total",
		Help: "Now-playing metadata fetch outcomes.",
	}, []string{"result"})

	ActiveStation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tuner_station_active",
		Help: "Set to 1 for the station whose audio is confirmed.",
	}, []string{"station"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
