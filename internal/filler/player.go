/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package filler plays a local MP3 bed during station transitions. The
// file is frame-indexed once at startup so playback can begin at a random
// point instead of always restarting from the top.
package filler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tcolgate/mp3"

	"github.com/thirdblockfm/tuner/internal/audio"
)

// LaneID is the mixer lane the filler occupies.
const LaneID = "filler"

// indexStep is the coarsest seek granularity kept in the frame index.
const indexStep = time.Second

type framePos struct {
	offset int64
	at     time.Duration
}

// Player owns the filler sample and its mixer lane. One Player is shared
// across all transitions; Start cancels any run already in flight.
type Player struct {
	path         string
	maxSeek      time.Duration
	gstreamerBin string
	sampleRate   int
	channels     int
	mixer        *audio.Mixer
	channel      *audio.Channel
	logger       zerolog.Logger

	index []framePos
	total time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewPlayer(path string, maxSeek time.Duration, gstreamerBin string, sampleRate, channels int, mixer *audio.Mixer, logger zerolog.Logger) (*Player, error) {
	index, total, err := indexFrames(path)
	if err != nil {
		return nil, fmt.Errorf("indexing filler sample %s: %w", path, err)
	}
	l := logger.With().Str("component", "filler").Logger()
	l.Info().Str("path", path).Dur("duration", total).Int("index_entries", len(index)).Msg("filler sample indexed")
	return &Player{
		path:         path,
		maxSeek:      maxSeek,
		gstreamerBin: gstreamerBin,
		sampleRate:   sampleRate,
		channels:     channels,
		mixer:        mixer,
		channel:      mixer.Channel(LaneID),
		logger:       l,
		index:        index,
		total:        total,
	}, nil
}

// indexFrames walks the MP3 frame by frame and records a byte offset
// roughly every second of audio. Offsets land on frame boundaries so the
// decoder can pick up mid-file without a glitch.
func indexFrames(path string) ([]framePos, time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	cr := &countingReader{r: f}
	d := mp3.NewDecoder(cr)
	var frame mp3.Frame
	var skipped int
	var index []framePos
	var at time.Duration
	var nextMark time.Duration

	for {
		pos := cr.n
		if err := d.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, err
		}
		if at >= nextMark {
			index = append(index, framePos{offset: pos + int64(skipped), at: at})
			nextMark = at + indexStep
		}
		at += frame.Duration()
	}
	if len(index) == 0 {
		return nil, 0, fmt.Errorf("no mp3 frames found")
	}
	return index, at, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Duration reports the total length of the filler sample.
func (p *Player) Duration() time.Duration { return p.total }

// Start begins playback from a random position within the seekable head
// of the file. Any previous run is cancelled first. The lane keeps
// whatever gain it had; the caller ramps it.
func (p *Player) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	offset := p.randomOffset()
	go p.run(runCtx, offset)
}

// Stop halts playback and clears the lane.
func (p *Player) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.channel.Clear()
}

func (p *Player) Gain() float64 { return p.channel.Gain() }

func (p *Player) SetGain(g float64) { p.channel.SetGain(g) }

// Pause satisfies the fade target contract. Fading the filler out ends
// its run entirely; there is nothing worth keeping warm.
func (p *Player) Pause() { p.Stop() }

// randomOffset picks a frame-aligned byte offset at a random time within
// min(maxSeek, duration) from the start of the file.
func (p *Player) randomOffset() int64 {
	window := p.maxSeek
	if p.total < window {
		window = p.total
	}
	if window <= 0 {
		return p.index[0].offset
	}
	at := time.Duration(rand.Int63n(int64(window)))
	return p.offsetFor(at)
}

// offsetFor returns the byte offset of the last indexed frame at or
// before the requested time.
func (p *Player) offsetFor(at time.Duration) int64 {
	best := p.index[0].offset
	for _, fp := range p.index {
		if fp.at > at {
			break
		}
		best = fp.offset
	}
	return best
}

// run decodes the file starting at offset and loops it from the top until
// the context ends.
func (p *Player) run(ctx context.Context, offset int64) {
	for ctx.Err() == nil {
		if err := p.playOnce(ctx, offset); err != nil && ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("filler playback failed")
			return
		}
		offset = 0
	}
}

func (p *Player) playOnce(ctx context.Context, offset int64) error {
	f, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("opening filler sample: %w", err)
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seeking filler sample: %w", err)
	}

	proc, err := audio.StartDecodeProc(ctx, p.gstreamerBin, p.sampleRate, p.channels, p.logger)
	if err != nil {
		return fmt.Errorf("starting filler decode: %w", err)
	}
	defer proc.Close()

	go func() {
		defer proc.Stdin().Close()
		io.Copy(proc.Stdin(), f)
	}()

	return p.pace(ctx, proc.Stdout())
}

// pace moves decoded PCM into the lane at real-time rate. The decoder
// runs much faster than playback, so without pacing the bounded lane
// buffer would drop most of the sample.
func (p *Player) pace(ctx context.Context, r io.Reader) error {
	const interval = 20 * time.Millisecond
	chunk := p.sampleRate * p.channels * 2 / 50

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	buf := make([]byte, chunk)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				p.channel.Write(buf[:n])
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					return nil
				}
				return err
			}
		}
	}
}
