/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audio

import (
	"encoding/binary"
	"testing"
)

func pcm(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func samplesOf(frame []byte) []int16 {
	out := make([]int16, len(frame)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	return out
}

func TestMixFrameAppliesGain(t *testing.T) {
	ch := &Channel{max: 1 << 16}
	ch.SetGain(0.5)
	ch.Write(pcm(1000, -2000))

	frame := make([]byte, 4)
	mixFrame([]*Channel{ch}, make([]int32, 2), frame)

	got := samplesOf(frame)
	if got[0] != 500 || got[1] != -1000 {
		t.Errorf("samples = %v, want [500 -1000]", got)
	}
}

func TestMixFrameSumsLanes(t *testing.T) {
	a := &Channel{max: 1 << 16}
	a.SetGain(1)
	a.Write(pcm(100, 200))

	b := &Channel{max: 1 << 16}
	b.SetGain(1)
	b.Write(pcm(25, -300))

	frame := make([]byte, 4)
	mixFrame([]*Channel{a, b}, make([]int32, 2), frame)

	got := samplesOf(frame)
	if got[0] != 125 || got[1] != -100 {
		t.Errorf("samples = %v, want [125 -100]", got)
	}
}

func TestMixFrameSaturates(t *testing.T) {
	a := &Channel{max: 1 << 16}
	a.SetGain(1)
	a.Write(pcm(30000, -30000))

	b := &Channel{max: 1 << 16}
	b.SetGain(1)
	b.Write(pcm(30000, -30000))

	frame := make([]byte, 4)
	mixFrame([]*Channel{a, b}, make([]int32, 2), frame)

	got := samplesOf(frame)
	if got[0] != 32767 {
		t.Errorf("positive clip = %d, want 32767", got[0])
	}
	if got[1] != -32768 {
		t.Errorf("negative clip = %d, want -32768", got[1])
	}
}

func TestMixFrameSilentLaneSkipped(t *testing.T) {
	ch := &Channel{max: 1 << 16}
	ch.SetGain(0)
	ch.Write(pcm(1000))

	frame := make([]byte, 2)
	mixFrame([]*Channel{ch}, make([]int32, 1), frame)

	if got := samplesOf(frame); got[0] != 0 {
		t.Errorf("sample = %d, want 0 for silent lane", got[0])
	}
}

func TestChannelGainClamped(t *testing.T) {
	ch := &Channel{}
	ch.SetGain(1.5)
	if got := ch.Gain(); got != 1 {
		t.Errorf("gain = %v, want clamp to 1", got)
	}
	ch.SetGain(-0.25)
	if got := ch.Gain(); got != 0 {
		t.Errorf("gain = %v, want clamp to 0", got)
	}
}

func TestChannelBacklogBounded(t *testing.T) {
	ch := &Channel{max: 8}
	ch.Write(pcm(1, 2, 3, 4, 5, 6))

	_, data := ch.pop(1 << 16)
	if len(data) != 8 {
		t.Fatalf("backlog = %d bytes, want 8", len(data))
	}
	// Oldest samples dropped, newest kept.
	if got := samplesOf(data); got[3] != 6 {
		t.Errorf("tail sample = %d, want 6", got[3])
	}
}
