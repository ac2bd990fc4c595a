/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package decoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thirdblockfm/tuner/internal/audio"
	"github.com/thirdblockfm/tuner/internal/station"
)

// IcecastFactory builds handles that pull an Icecast mount over HTTP,
// decode it through a GStreamer subprocess, and feed PCM into a mixer
// lane named after the station.
type IcecastFactory struct {
	gstreamerBin string
	sampleRate   int
	channels     int
	mixer        *audio.Mixer
	client       *http.Client
	logger       zerolog.Logger
}

func NewIcecastFactory(gstreamerBin string, sampleRate, channels int, mixer *audio.Mixer, logger zerolog.Logger) *IcecastFactory {
	return &IcecastFactory{
		gstreamerBin: gstreamerBin,
		sampleRate:   sampleRate,
		channels:     channels,
		mixer:        mixer,
		client: &http.Client{
			Timeout: 0, // streaming body, no overall deadline
		},
		logger: logger.With().Str("component", "decoder").Logger(),
	}
}

func (f *IcecastFactory) New(st station.Station, cb Callbacks) (Handle, error) {
	if st.StreamURL == "" {
		return nil, fmt.Errorf("station %s has no stream url", st.ID)
	}
	return &icecastHandle{
		st:      st,
		cb:      cb,
		factory: f,
		channel: f.mixer.Channel(st.ID),
		logger:  f.logger.With().Str("station", st.ID).Logger(),
	}, nil
}

type icecastHandle struct {
	st      station.Station
	cb      Callbacks
	factory *IcecastFactory
	channel *audio.Channel
	logger  zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	playing bool
}

// Play connects to the mount and starts the decode pipeline. It returns
// after the HTTP response headers arrive; decoded audio is reported
// asynchronously through OnReady once the first PCM leaves the decoder.
func (h *icecastHandle) Play(ctx context.Context) error {
	h.mu.Lock()
	if h.playing {
		// Audio is already flowing, so readiness is a fact, not a wait.
		h.mu.Unlock()
		if h.cb.OnReady != nil {
			h.cb.OnReady()
		}
		return nil
	}
	streamCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.playing = true
	h.mu.Unlock()

	resp, err := h.connect(streamCtx)
	if err != nil {
		h.settle(cancel)
		return err
	}

	proc, err := audio.StartDecodeProc(streamCtx, h.factory.gstreamerBin, h.factory.sampleRate, h.factory.channels, h.logger)
	if err != nil {
		resp.Body.Close()
		h.settle(cancel)
		return fmt.Errorf("starting decode pipeline: %w", err)
	}

	metaInt, _ := strconv.Atoi(resp.Header.Get("icy-metaint"))

	go h.feedLoop(streamCtx, resp.Body, proc.Stdin(), metaInt)
	go h.drainLoop(streamCtx, proc)

	if h.cb.OnPlay != nil {
		h.cb.OnPlay()
	}
	return nil
}

// connect issues the stream request with inline metadata enabled. The
// cache-busting query parameter forces a fresh edge fetch on reconnect.
func (h *icecastHandle) connect(ctx context.Context) (*http.Response, error) {
	url := h.st.StreamURL
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	url = fmt.Sprintf("%s%st=%d", url, sep, time.Now().UnixNano())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building stream request: %w", err)
	}
	req.Header.Set("Icy-MetaData", "1")

	resp, err := h.factory.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", h.st.StreamURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream %s returned status %d", h.st.StreamURL, resp.StatusCode)
	}
	return resp, nil
}

// feedLoop copies the raw stream into the decoder stdin, stripping the
// interleaved ICY metadata blocks when the server announced an interval.
func (h *icecastHandle) feedLoop(ctx context.Context, body io.ReadCloser, stdin io.WriteCloser, metaInt int) {
	defer body.Close()
	defer stdin.Close()

	r := bufio.NewReaderSize(body, 32*1024)
	var err error
	if metaInt > 0 {
		err = h.copyWithMetadata(r, stdin, metaInt)
	} else {
		_, err = io.Copy(stdin, r)
	}
	h.finish(ctx, err, "stream read ended")
}

func (h *icecastHandle) copyWithMetadata(r *bufio.Reader, w io.Writer, metaInt int) error {
	audioBuf := make([]byte, metaInt)
	for {
		if _, err := io.ReadFull(r, audioBuf); err != nil {
			return err
		}
		if _, err := w.Write(audioBuf); err != nil {
			return err
		}
		sizeByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		if sizeByte == 0 {
			continue
		}
		block := make([]byte, int(sizeByte)*16)
		if _, err := io.ReadFull(r, block); err != nil {
			return err
		}
		if title, ok := parseStreamTitle(string(block)); ok {
			h.logger.Debug().Str("title", title).Msg("inline metadata")
			if h.cb.OnMetadata != nil {
				h.cb.OnMetadata(title)
			}
		}
	}
}

// drainLoop moves decoded PCM from the pipeline into the mixer lane.
// The first successful read is the signal that playback is genuinely
// producing audio.
func (h *icecastHandle) drainLoop(ctx context.Context, proc *audio.Proc) {
	defer proc.Close()

	buf := make([]byte, 16*1024)
	ready := false
	for {
		n, err := proc.Stdout().Read(buf)
		if n > 0 {
			if !ready {
				ready = true
				h.logger.Info().Msg("first decoded audio")
				if h.cb.OnReady != nil {
					h.cb.OnReady()
				}
			}
			h.channel.Write(buf[:n])
		}
		if err != nil {
			h.finish(ctx, err, "decoder output ended")
			return
		}
	}
}

// finish reports a terminal loop error once. A context cancellation is a
// deliberate stop, never an error.
func (h *icecastHandle) finish(ctx context.Context, err error, msg string) {
	if ctx.Err() != nil {
		return
	}
	h.mu.Lock()
	wasPlaying := h.playing
	h.playing = false
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	if !wasPlaying {
		return
	}
	if err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn().Err(err).Msg(msg)
		if h.cb.OnError != nil {
			h.cb.OnError(err)
		}
		return
	}
	h.logger.Info().Msg(msg)
	if h.cb.OnError != nil {
		h.cb.OnError(fmt.Errorf("stream ended unexpectedly"))
	}
}

func (h *icecastHandle) settle(cancel context.CancelFunc) {
	cancel()
	h.mu.Lock()
	h.playing = false
	h.cancel = nil
	h.mu.Unlock()
}

func (h *icecastHandle) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.cancel = nil
	h.playing = false
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.channel.Clear()
	if h.cb.OnStop != nil {
		h.cb.OnStop()
	}
}

func (h *icecastHandle) Close() error {
	h.Stop()
	h.factory.mixer.RemoveChannel(h.st.ID)
	return nil
}

func (h *icecastHandle) Gain() float64 { return h.channel.Gain() }

func (h *icecastHandle) SetGain(g float64) { h.channel.SetGain(g) }

// Pause silences the lane without tearing the connection down. The
// crossfade engine parks outgoing audio here at zero gain.
func (h *icecastHandle) Pause() {
	h.channel.SetGain(0)
	h.channel.Clear()
}

// parseStreamTitle extracts the title from an ICY metadata block. Servers
// disagree on the key casing, so both spellings are accepted.
func parseStreamTitle(block string) (string, bool) {
	for _, key := range []string{"StreamTitle='", "TITLE='"} {
		start := strings.Index(block, key)
		if start < 0 {
			continue
		}
		rest := block[start+len(key):]
		end := strings.Index(rest, "';")
		if end < 0 {
			// Some encoders pad with NULs and skip the terminator.
			rest = strings.TrimRight(rest, "\x00")
			end = len(rest)
			if strings.HasSuffix(rest, "'") {
				end--
			}
		}
		return strings.TrimSpace(rest[:end]), true
	}
	return "", false
}
