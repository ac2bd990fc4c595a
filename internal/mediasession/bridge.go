/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mediasession mirrors player state into the metadata shape that
// OS media surfaces expect and routes their play/pause commands back into
// the player.
package mediasession

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/thirdblockfm/tuner/internal/events"
)

// Metadata is what a media surface displays for the current stream.
type Metadata struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Album  string `json:"album"`
}

// Player is the slice of the controller the bridge drives.
type Player interface {
	Resume() error
	Pause()
}

// Bridge listens on the bus and keeps media metadata current. The album
// field is fixed branding; title and artist track the now-playing feed.
type Bridge struct {
	player Player
	album  string
	bus    *events.Bus
	logger zerolog.Logger

	mu   sync.Mutex
	meta Metadata
}

func NewBridge(player Player, album string, bus *events.Bus, logger zerolog.Logger) *Bridge {
	return &Bridge{
		player: player,
		album:  album,
		bus:    bus,
		logger: logger.With().Str("component", "mediasession").Logger(),
		meta:   Metadata{Album: album},
	}
}

// Metadata returns the current media-surface metadata.
func (b *Bridge) Metadata() Metadata {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meta
}

// Run consumes bus events until the context ends.
func (b *Bridge) Run(ctx context.Context) {
	nowPlaying := b.bus.Subscribe(events.EventNowPlaying)
	commands := b.bus.Subscribe(events.EventMediaCommand)
	states := b.bus.Subscribe(events.EventPlayerState)
	defer b.bus.Unsubscribe(events.EventNowPlaying, nowPlaying)
	defer b.bus.Unsubscribe(events.EventMediaCommand, commands)
	defer b.bus.Unsubscribe(events.EventPlayerState, states)

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-nowPlaying:
			b.onNowPlaying(p)
		case p := <-commands:
			b.onCommand(p)
		case p := <-states:
			b.onState(p)
		}
	}
}

func (b *Bridge) onNowPlaying(p events.Payload) {
	artist, _ := p["artist"].(string)
	track, _ := p["track"].(string)
	b.mu.Lock()
	b.meta = Metadata{Title: track, Artist: artist, Album: b.album}
	b.mu.Unlock()
}

func (b *Bridge) onState(p events.Payload) {
	phase, _ := p["phase"].(string)
	if phase != "idle" && phase != "error" {
		return
	}
	// Playback ended, clear the surface back to branding only.
	b.mu.Lock()
	b.meta = Metadata{Album: b.album}
	b.mu.Unlock()
}

func (b *Bridge) onCommand(p events.Payload) {
	action, _ := p["action"].(string)
	switch action {
	case "play":
		if err := b.player.Resume(); err != nil {
			b.logger.Warn().Err(err).Msg("media play command failed")
		}
	case "pause":
		b.player.Pause()
	default:
		b.logger.Debug().Str("action", action).Msg("unknown media command")
	}
}
