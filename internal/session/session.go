/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session owns the station-transition state machine. A Session
// wraps one decoder handle per station; the Controller coordinates which
// session is audible and walks the phase machine.
package session

import (
	"context"
	"sync"

	"github.com/thirdblockfm/tuner/internal/decoder"
	"github.com/thirdblockfm/tuner/internal/station"
)

// Session pairs a station with its decoder handle. Handles are created
// lazily on first selection and reused across switches; only Close
// destroys them. Session satisfies the fade target contract.
type Session struct {
	st     station.Station
	handle decoder.Handle

	mu        sync.Mutex
	gain      float64
	lastTitle string
}

func newSession(st station.Station, handle decoder.Handle) *Session {
	return &Session{st: st, handle: handle}
}

func (s *Session) Station() station.Station { return s.st }

func (s *Session) Play(ctx context.Context) error { return s.handle.Play(ctx) }

func (s *Session) Stop() { s.handle.Stop() }

func (s *Session) Close() error { return s.handle.Close() }

// Gain reads the output gain, from the handle when it exposes one.
func (s *Session) Gain() float64 {
	if gc, ok := s.handle.(decoder.GainControl); ok {
		return gc.Gain()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

func (s *Session) SetGain(g float64) {
	if gc, ok := s.handle.(decoder.GainControl); ok {
		gc.SetGain(g)
		return
	}
	s.mu.Lock()
	s.gain = g
	s.mu.Unlock()
}

// Pause parks the session silently without destroying the handle, so a
// later switch back resumes without a reconnect.
func (s *Session) Pause() {
	if p, ok := s.handle.(interface{ Pause() }); ok {
		p.Pause()
		return
	}
	s.handle.Stop()
}

func (s *Session) setTitle(title string) {
	s.mu.Lock()
	s.lastTitle = title
	s.mu.Unlock()
}

// Title returns the last inline metadata title seen on this session.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTitle
}
