/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audio owns the audible output path: GStreamer subprocesses for
// decode and playback, and a PCM mixer that applies per-session gain.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Proc wraps a GStreamer subprocess connected through stdin/stdout pipes.
type Proc struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	cancel    context.CancelFunc
	stderrBuf *bytes.Buffer
}

// StartDecodeProc launches a GStreamer pipeline that reads compressed audio
// (MP3, Ogg, AAC, etc.) from stdin and emits raw S16LE PCM on stdout.
func StartDecodeProc(ctx context.Context, gstreamerBin string, sampleRate, channels int, logger zerolog.Logger) (*Proc, error) {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if channels <= 0 {
		channels = 2
	}

	// decodebin auto-detects the container/codec, so one pipeline covers
	// every stream format the stations serve.
	pipeline := fmt.Sprintf(
		`fdsrc fd=0 ! decodebin ! audioconvert ! audioresample ! audio/x-raw,format=S16LE,rate=%d,channels=%d ! fdsink fd=1`,
		sampleRate, channels,
	)

	return startProc(ctx, gstreamerBin, pipeline, true, logger.With().Str("proc", "decode").Logger())
}

// StartOutputProc launches a GStreamer pipeline that reads raw S16LE PCM
// from stdin and plays it on the configured sink element.
func StartOutputProc(ctx context.Context, gstreamerBin, sink string, sampleRate, channels int, logger zerolog.Logger) (*Proc, error) {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if channels <= 0 {
		channels = 2
	}
	if sink == "" {
		sink = "autoaudiosink"
	}

	pipeline := fmt.Sprintf(
		`fdsrc fd=0 ! rawaudioparse use-sink-caps=false format=pcm pcm-format=s16le sample-rate=%d num-channels=%d ! audioconvert ! audioresample ! %s`,
		sampleRate, channels, sink,
	)

	return startProc(ctx, gstreamerBin, pipeline, false, logger.With().Str("proc", "output").Logger())
}

func startProc(ctx context.Context, gstreamerBin, pipeline string, wantStdout bool, logger zerolog.Logger) (*Proc, error) {
	cmdCtx, cancel := context.WithCancel(ctx)
	shellCmd := fmt.Sprintf("%s -q %s", gstreamerBin, pipeline)
	cmd := exec.CommandContext(cmdCtx, "sh", "-c", shellCmd)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gstreamer stdin pipe: %w", err)
	}

	var stdout io.ReadCloser
	if wantStdout {
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("gstreamer stdout pipe: %w", err)
		}
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start gstreamer: %w", err)
	}

	logger.Debug().Int("pid", cmd.Process.Pid).Msg("gstreamer process started")

	return &Proc{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		cancel:    cancel,
		stderrBuf: &stderrBuf,
	}, nil
}

// Stdin returns the writer feeding the subprocess.
func (p *Proc) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the PCM reader, nil for output processes.
func (p *Proc) Stdout() io.ReadCloser { return p.stdout }

// Stderr returns any accumulated stderr output from the process.
func (p *Proc) Stderr() string {
	if p == nil || p.stderrBuf == nil {
		return ""
	}
	return strings.TrimSpace(p.stderrBuf.String())
}

// Close terminates the subprocess.
func (p *Proc) Close() error {
	if p == nil {
		return nil
	}
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return nil
}
