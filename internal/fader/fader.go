/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package fader drives the bounded gain ramp between an outgoing and an
// incoming playback session during a station switch.
package fader

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Target is a playback session whose gain the engine actuates. Gain is
// always within [0,1].
type Target interface {
	Gain() float64
	SetGain(float64)
	// Pause halts audio output without destroying the underlying decoder,
	// so the session stays reusable for a later switch back.
	Pause()
}

// Engine runs one gain ramp at a time. A new Begin invalidates any ramp
// still in flight; ticks from a superseded ramp never mutate gains.
type Engine struct {
	duration time.Duration
	steps    int
	logger   zerolog.Logger

	mu         sync.Mutex
	generation uint64
}

// New creates a crossfade engine. duration is the total wall-clock ramp
// time, steps the number of gain adjustments across it.
func New(duration time.Duration, steps int, logger zerolog.Logger) *Engine {
	if steps <= 0 {
		steps = 50
	}
	if duration <= 0 {
		duration = 2 * time.Second
	}
	return &Engine{
		duration: duration,
		steps:    steps,
		logger:   logger.With().Str("component", "fader").Logger(),
	}
}

// Begin starts a ramp from outgoing (may be nil) to incoming. onComplete is
// called once, after every target reaches its end gain, unless the ramp is
// superseded or cancelled first.
func (e *Engine) Begin(outgoing, incoming Target, onComplete func()) {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	e.mu.Unlock()

	e.logger.Debug().
		Dur("duration", e.duration).
		Int("steps", e.steps).
		Msg("gain ramp started")

	go e.run(gen, outgoing, incoming, onComplete)
}

// Cancel invalidates the ramp in flight, if any. Gains are left wherever
// the last applied tick put them.
func (e *Engine) Cancel() {
	e.mu.Lock()
	e.generation++
	e.mu.Unlock()
}

func (e *Engine) run(gen uint64, outgoing, incoming Target, onComplete func()) {
	interval := e.duration / time.Duration(e.steps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	outPaused := false

	for range ticker.C {
		e.mu.Lock()
		if gen != e.generation {
			e.mu.Unlock()
			return
		}

		done := true

		if outgoing != nil {
			g := stepDown(outgoing.Gain(), e.steps)
			outgoing.SetGain(g)
			if g > 0 {
				done = false
			} else if !outPaused {
				outgoing.Pause()
				outPaused = true
			}
		}

		g := stepUp(incoming.Gain(), e.steps)
		incoming.SetGain(g)
		if g < 1 {
			done = false
		}
		e.mu.Unlock()

		if done {
			e.logger.Debug().Msg("gain ramp complete")
			if onComplete != nil {
				onComplete()
			}
			return
		}
	}
}

// stepDown lowers a gain by one step on the 1/steps grid, floored at 0.
// Snapping to the grid keeps endpoints exact regardless of float drift.
func stepDown(gain float64, steps int) float64 {
	i := int(math.Round(gain*float64(steps))) - 1
	if i < 0 {
		i = 0
	}
	return float64(i) / float64(steps)
}

// stepUp raises a gain by one step on the 1/steps grid, capped at 1.
func stepUp(gain float64, steps int) float64 {
	i := int(math.Round(gain*float64(steps))) + 1
	if i > steps {
		i = steps
	}
	return float64(i) / float64(steps)
}
