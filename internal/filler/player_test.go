/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package filler

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// frameSize is the byte length of the synthetic test frame: MPEG1 layer
// III, 128 kbps, 44.1 kHz, no padding.
const frameSize = 417

const frameDuration = 1152 * time.Second / 44100

func writeTestMP3(t *testing.T, frames int) string {
	t.Helper()
	frame := make([]byte, frameSize)
	frame[0] = 0xFF
	frame[1] = 0xFB
	frame[2] = 0x90
	var data []byte
	for i := 0; i < frames; i++ {
		data = append(data, frame...)
	}
	path := filepath.Join(t.TempDir(), "filler.mp3")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIndexFrames(t *testing.T) {
	const frames = 100
	path := writeTestMP3(t, frames)

	index, total, err := indexFrames(path)
	if err != nil {
		t.Fatalf("indexFrames: %v", err)
	}

	wantTotal := time.Duration(frames) * frameDuration
	if diff := total - wantTotal; diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("total = %v, want about %v", total, wantTotal)
	}

	// 100 frames is about 2.6 seconds, so marks at 0s, 1s and 2s.
	if len(index) != 3 {
		t.Fatalf("index has %d entries, want 3", len(index))
	}
	if index[0].offset != 0 {
		t.Errorf("first offset = %d, want 0", index[0].offset)
	}
	for i, fp := range index {
		if fp.offset%frameSize != 0 {
			t.Errorf("entry %d offset %d is not frame aligned", i, fp.offset)
		}
	}
}

func TestIndexFramesRejectsNonMP3(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-audio.mp3")
	if err := os.WriteFile(path, []byte("definitely not mpeg data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := indexFrames(path); err == nil {
		t.Fatal("expected error for non-mp3 input")
	}
}

func TestOffsetFor(t *testing.T) {
	p := &Player{index: []framePos{
		{offset: 0, at: 0},
		{offset: 4000, at: time.Second},
		{offset: 8100, at: 2 * time.Second},
	}}

	tests := []struct {
		at   time.Duration
		want int64
	}{
		{0, 0},
		{500 * time.Millisecond, 0},
		{time.Second, 4000},
		{1900 * time.Millisecond, 4000},
		{5 * time.Second, 8100},
	}
	for _, tt := range tests {
		if got := p.offsetFor(tt.at); got != tt.want {
			t.Errorf("offsetFor(%v) = %d, want %d", tt.at, got, tt.want)
		}
	}
}

func TestRandomOffsetWithinWindow(t *testing.T) {
	p := &Player{
		maxSeek: time.Second,
		total:   3 * time.Second,
		index: []framePos{
			{offset: 0, at: 0},
			{offset: 4000, at: time.Second},
			{offset: 8100, at: 2 * time.Second},
		},
	}
	for i := 0; i < 50; i++ {
		off := p.randomOffset()
		if off != 0 {
			t.Fatalf("offset %d outside one-second window", off)
		}
	}
}
