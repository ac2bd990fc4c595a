/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package decoder defines the stream-decoder boundary the session
// controller drives, and provides the Icecast implementation used in
// production. The controller only ever sees Handle and Callbacks; tests
// substitute fakes.
package decoder

import (
	"context"

	"github.com/thirdblockfm/tuner/internal/station"
)

// Callbacks deliver a handle's asynchronous events. All callbacks may fire
// on decoder-owned goroutines; receivers do their own locking. A handle
// emits OnReady once per successful Play, when decoded audio is confirmed
// to be flowing; a Play on a handle that is already flowing reconfirms
// readiness immediately.
type Callbacks struct {
	OnReady    func()
	OnMetadata func(title string)
	OnPlay     func()
	OnStop     func()
	OnError    func(err error)
}

// Handle is a live connection to one streaming endpoint. Handles are
// created lazily, reused across station switches, and destroyed only on
// explicit teardown.
type Handle interface {
	// Play connects and starts decoding. A returned error means playback
	// was rejected before any audio flowed.
	Play(ctx context.Context) error
	// Stop halts decoding but keeps the handle reusable.
	Stop()
	// Close releases all resources owned by the handle.
	Close() error
}

// GainControl is implemented by handles whose output gain can be set
// directly. The session layer falls back to tracking gain itself for
// handles that do not implement it.
type GainControl interface {
	Gain() float64
	SetGain(float64)
}

// Factory creates handles for stations.
type Factory interface {
	New(st station.Station, cb Callbacks) (Handle, error)
}
