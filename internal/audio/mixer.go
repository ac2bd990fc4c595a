/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// frameInterval is the mix cadence. 20ms keeps gain ramps smooth without
// burning CPU on tiny writes.
const frameInterval = 20 * time.Millisecond

// Mixer sums PCM from named input channels, each scaled by its gain, and
// writes the result to a single output writer. It is the one place gain is
// actually applied to audio.
type Mixer struct {
	out        io.Writer
	sampleRate int
	channels   int
	frameBytes int
	logger     zerolog.Logger

	mu     sync.Mutex
	inputs map[string]*Channel
	cancel context.CancelFunc
}

// Channel is one PCM input lane with its own gain.
type Channel struct {
	id string

	mu   sync.Mutex
	gain float64
	buf  []byte
	max  int
}

// NewMixer creates a mixer writing S16LE frames to out.
func NewMixer(out io.Writer, sampleRate, channels int, logger zerolog.Logger) *Mixer {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if channels <= 0 {
		channels = 2
	}
	samplesPerFrame := sampleRate * channels * int(frameInterval) / int(time.Second)
	return &Mixer{
		out:        out,
		sampleRate: sampleRate,
		channels:   channels,
		frameBytes: samplesPerFrame * 2,
		logger:     logger.With().Str("component", "mixer").Logger(),
		inputs:     make(map[string]*Channel),
	}
}

// Start launches the mix loop.
func (m *Mixer) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	go m.loop(ctx)
}

// Stop halts the mix loop.
func (m *Mixer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// Channel returns the input lane for id, creating it at gain 0.
func (m *Mixer) Channel(id string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.inputs[id]; ok {
		return ch
	}
	ch := &Channel{
		id: id,
		// Bound each lane to roughly two seconds of audio so a stalled
		// consumer drops old samples instead of growing without limit.
		max: m.frameBytes * 100,
	}
	m.inputs[id] = ch
	return ch
}

// RemoveChannel drops an input lane.
func (m *Mixer) RemoveChannel(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inputs, id)
}

func (m *Mixer) loop(ctx context.Context) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	frame := make([]byte, m.frameBytes)
	acc := make([]int32, m.frameBytes/2)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			lanes := make([]*Channel, 0, len(m.inputs))
			for _, ch := range m.inputs {
				lanes = append(lanes, ch)
			}
			m.mu.Unlock()

			mixFrame(lanes, acc, frame)

			if _, err := m.out.Write(frame); err != nil {
				m.logger.Error().Err(err).Msg("output write failed, stopping mix loop")
				return
			}
		}
	}
}

// mixFrame pops one frame from every lane, scales by lane gain, and sums
// with saturation into frame (S16LE).
func mixFrame(lanes []*Channel, acc []int32, frame []byte) {
	for i := range acc {
		acc[i] = 0
	}

	for _, ch := range lanes {
		gain, data := ch.pop(len(frame))
		if gain == 0 || data == nil {
			continue
		}
		for i := 0; i+1 < len(data); i += 2 {
			sample := int16(binary.LittleEndian.Uint16(data[i:]))
			acc[i/2] += int32(float64(sample) * gain)
		}
	}

	for i, v := range acc {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(int16(v)))
	}
}

// SetGain clamps and applies a new gain.
func (c *Channel) SetGain(gain float64) {
	if gain < 0 {
		gain = 0
	}
	if gain > 1 {
		gain = 1
	}
	c.mu.Lock()
	c.gain = gain
	c.mu.Unlock()
}

// Gain returns the current gain.
func (c *Channel) Gain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain
}

// Write queues PCM for mixing. It never blocks; when the lane backlog is
// full the oldest samples are dropped.
func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, p...)
	if len(c.buf) > c.max {
		c.buf = c.buf[len(c.buf)-c.max:]
	}
	return len(p), nil
}

// Clear drops queued samples, for an immediate stop.
func (c *Channel) Clear() {
	c.mu.Lock()
	c.buf = nil
	c.mu.Unlock()
}

// pop removes up to n buffered bytes and returns them with the lane gain.
func (c *Channel) pop(n int) (float64, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		return c.gain, nil
	}
	if n > len(c.buf) {
		n = len(c.buf)
	}
	data := c.buf[:n]
	c.buf = c.buf[n:]
	return c.gain, data
}
