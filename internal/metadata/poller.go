/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package metadata polls the server-wide Icecast status document and
// extracts the now-playing title for the active station.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thirdblockfm/tuner/internal/station"
)

// Sentinel values displayed when no usable title is available.
const (
	UnknownArtist = "unknown artist"
	UnknownTrack  = "unknown track"
)

// Error markers displayed when the status document itself cannot be fetched.
// Playback is unaffected; this only downgrades the displayed pair.
const (
	ErrorArtist = "Error"
	ErrorTrack  = "fetching metadata"
)

const titleDelimiter = " - "

// NowPlaying is the parsed artist/track pair for a station.
type NowPlaying struct {
	Artist string `json:"artist"`
	Track  string `json:"track"`
}

// Unknown returns the sentinel pair.
func Unknown() NowPlaying {
	return NowPlaying{Artist: UnknownArtist, Track: UnknownTrack}
}

// ParseTitle splits a raw stream title into artist and track on the first
// " - " delimiter. A title without the delimiter maps entirely to sentinels;
// the raw text is not promoted to a track name.
func ParseTitle(title string) NowPlaying {
	if strings.TrimSpace(title) == "" {
		return Unknown()
	}

	// Locate the delimiter before trimming so a title like " - Track"
	// keeps its track side.
	idx := strings.Index(title, titleDelimiter)
	if idx < 0 {
		return Unknown()
	}

	np := NowPlaying{
		Artist: strings.TrimSpace(title[:idx]),
		Track:  strings.TrimSpace(title[idx+len(titleDelimiter):]),
	}
	if np.Artist == "" {
		np.Artist = UnknownArtist
	}
	if np.Track == "" {
		np.Track = UnknownTrack
	}
	return np
}

// statusDoc mirrors the Icecast status-json.xsl shape. The source field is
// an array with multiple mounts but a bare object in single-mount
// deployments, so it is decoded in two passes.
type statusDoc struct {
	Icestats struct {
		Source json.RawMessage `json:"source"`
	} `json:"icestats"`
}

type sourceEntry struct {
	ListenURL string `json:"listenurl"`
	Title     string `json:"title"`
}

// UpdateFunc receives poll results for the station the poller is scoped to.
type UpdateFunc func(stationID string, np NowPlaying)

// Poller periodically fetches the status document for the active station.
// Only one polling loop runs at a time; Start cancels the previous loop.
type Poller struct {
	statusURL string
	interval  time.Duration
	client    *http.Client
	onUpdate  UpdateFunc
	logger    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPoller creates a poller publishing results through onUpdate.
func NewPoller(statusURL string, interval time.Duration, onUpdate UpdateFunc, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Poller{
		statusURL: statusURL,
		interval:  interval,
		client:    &http.Client{Timeout: 10 * time.Second},
		onUpdate:  onUpdate,
		logger:    logger.With().Str("component", "metadata").Logger(),
	}
}

// Start begins polling for the given station, cancelling any previous loop.
// The first fetch happens immediately.
func (p *Poller) Start(st station.Station) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Debug().Str("station_id", st.ID).Msg("metadata polling started")

	go p.loop(ctx, st)
}

// Stop halts polling. Displayed values are left as-is; the caller resets
// them on deselect.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
		p.logger.Debug().Msg("metadata polling stopped")
	}
}

func (p *Poller) loop(ctx context.Context, st station.Station) {
	p.pollOnce(ctx, st)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, st)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, st station.Station) {
	np, err := p.fetch(ctx, st)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn().Err(err).Str("station_id", st.ID).Msg("metadata fetch failed")
		p.onUpdate(st.ID, NowPlaying{Artist: ErrorArtist, Track: ErrorTrack})
		return
	}
	p.onUpdate(st.ID, np)
}

// fetch retrieves the status document and resolves the entry for st. Parse
// problems (missing source, no matching mount, empty title) are not errors;
// they map to sentinel values.
func (p *Poller) fetch(ctx context.Context, st station.Station) (NowPlaying, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.statusURL, nil)
	if err != nil {
		return Unknown(), fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := p.client.Do(req)
	if err != nil {
		return Unknown(), fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Unknown(), fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return Unknown(), fmt.Errorf("read body: %w", err)
	}

	var doc statusDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return Unknown(), fmt.Errorf("parse status document: %w", err)
	}

	entry, ok := matchSource(doc.Icestats.Source, st.MountPoint)
	if !ok {
		p.logger.Debug().Str("mount", st.MountPoint).Msg("no source entry for mount")
		return Unknown(), nil
	}

	return ParseTitle(entry.Title), nil
}

// matchSource finds the source entry whose listenurl contains the mount
// path. The document carries an array when multiple mounts exist and a bare
// object for single-mount servers.
func matchSource(raw json.RawMessage, mount string) (sourceEntry, bool) {
	if len(raw) == 0 {
		return sourceEntry{}, false
	}

	needle := "/" + mount

	var list []sourceEntry
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, entry := range list {
			if strings.Contains(entry.ListenURL, needle) {
				return entry, true
			}
		}
		return sourceEntry{}, false
	}

	var single sourceEntry
	if err := json.Unmarshal(raw, &single); err == nil {
		if strings.Contains(single.ListenURL, needle) {
			return single, true
		}
	}
	return sourceEntry{}, false
}
