/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import "errors"

// Failure classes for station transitions. Every terminal failure wraps
// exactly one of these so callers can branch without string matching.
var (
	// ErrDecoderCreation means the decoder handle could not be built at all.
	ErrDecoderCreation = errors.New("decoder creation failed")
	// ErrPlaybackRejected means the stream refused playback before any
	// audio flowed.
	ErrPlaybackRejected = errors.New("playback rejected")
	// ErrStreamRuntime means a stream that was playing or loading died.
	ErrStreamRuntime = errors.New("stream runtime error")
	// ErrLoadTimeout means no readiness signal arrived within the ceiling.
	ErrLoadTimeout = errors.New("station load timed out")
	// ErrUnknownStation means the requested id is not in the registry.
	ErrUnknownStation = errors.New("unknown station")
)
