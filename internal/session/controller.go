/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thirdblockfm/tuner/internal/decoder"
	"github.com/thirdblockfm/tuner/internal/events"
	"github.com/thirdblockfm/tuner/internal/fader"
	"github.com/thirdblockfm/tuner/internal/metadata"
	"github.com/thirdblockfm/tuner/internal/station"
	"github.com/thirdblockfm/tuner/internal/telemetry"
)

// Phase is the player's lifecycle state. Phase and the active station id
// always change together under the controller mutex.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseFading  Phase = "fading"
	PhasePlaying Phase = "playing"
	PhaseError   Phase = "error"
)

// TransitionMode selects how audio moves between stations.
type TransitionMode string

const (
	// ModeCrossfade overlaps outgoing and incoming audio.
	ModeCrossfade TransitionMode = "crossfade"
	// ModeFiller plays a local bed while the incoming station loads.
	ModeFiller TransitionMode = "filler"
)

// Snapshot is the externally visible player state. ActiveID is set only
// once an incoming station has confirmed readiness; RequestedID tracks a
// selection that is still settling.
type Snapshot struct {
	Phase       Phase               `json:"phase"`
	RequestedID string              `json:"requestedStationId,omitempty"`
	ActiveID    string              `json:"activeStationId,omitempty"`
	ErrorMsg    string              `json:"errorMessage,omitempty"`
	NowPlaying  metadata.NowPlaying `json:"nowPlaying"`
}

// MetadataSource scopes background metadata polling to one station at a
// time. *metadata.Poller satisfies it.
type MetadataSource interface {
	Start(st station.Station)
	Stop()
}

// FillerPlayer is the transition bed used in filler mode. *filler.Player
// satisfies it.
type FillerPlayer interface {
	fader.Target
	Start(ctx context.Context)
	Stop()
}

// Options wires a Controller. Metadata and Filler may be nil; Filler is
// required only in ModeFiller.
type Options struct {
	Ctx          context.Context
	Stations     *station.Registry
	Factory      decoder.Factory
	Fader        *fader.Engine
	Metadata     MetadataSource
	Filler       FillerPlayer
	Mode         TransitionMode
	ReadyTimeout time.Duration
	Bus          *events.Bus
	Logger       zerolog.Logger
}

// Controller walks the transition state machine. All mutable state lives
// behind mu; the fader, filler, metadata source and decoder handles are
// only ever invoked outside it, so their callbacks can re-enter freely.
type Controller struct {
	ctx          context.Context
	stations     *station.Registry
	factory      decoder.Factory
	fader        *fader.Engine
	metadata     MetadataSource
	filler       FillerPlayer
	mode         TransitionMode
	readyTimeout time.Duration
	bus          *events.Bus
	logger       zerolog.Logger

	mu           sync.Mutex
	phase        Phase
	requested    string
	active       string
	lastSelected string
	errMsg       string
	generation   uint64
	sessions     map[string]*Session
	nowPlaying   metadata.NowPlaying
	readyTimer   *time.Timer
	loadStart    time.Time
}

func NewController(opts Options) *Controller {
	if opts.Ctx == nil {
		opts.Ctx = context.Background()
	}
	if opts.Mode == "" {
		opts.Mode = ModeCrossfade
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 3 * time.Second
	}
	return &Controller{
		ctx:          opts.Ctx,
		stations:     opts.Stations,
		factory:      opts.Factory,
		fader:        opts.Fader,
		metadata:     opts.Metadata,
		filler:       opts.Filler,
		mode:         opts.Mode,
		readyTimeout: opts.ReadyTimeout,
		bus:          opts.Bus,
		logger:       opts.Logger.With().Str("component", "session").Logger(),
		phase:        PhaseIdle,
		sessions:     make(map[string]*Session),
		nowPlaying:   metadata.Unknown(),
	}
}

// AttachMetadata wires a metadata source after construction. The source
// needs the controller's update callback, so it cannot exist first. Call
// before any Select.
func (c *Controller) AttachMetadata(src MetadataSource) {
	c.metadata = src
}

// Snapshot returns the current player state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:       c.phase,
		RequestedID: c.requested,
		ActiveID:    c.active,
		ErrorMsg:    c.errMsg,
		NowPlaying:  c.nowPlaying,
	}
}

// Select is the single entry point for user intent. Selecting the
// station that is already selected (active, or still settling) toggles
// playback off; an empty id always stops. A new id supersedes whatever
// transition is in flight, however unsettled.
func (c *Controller) Select(id string) error {
	c.mu.Lock()

	selected := c.requested
	if selected == "" {
		selected = c.active
	}
	if id == "" || id == selected {
		c.stopAllFrom("select")
		return nil
	}

	st, ok := c.stations.Get(id)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownStation, id)
	}

	sess := c.sessions[id]
	if sess == nil {
		handle, err := c.factory.New(st, c.callbacksFor(id))
		if err != nil {
			c.failFrom(fmt.Errorf("%w: %v", ErrDecoderCreation, err))
			return nil
		}
		sess = newSession(st, handle)
		c.sessions[id] = sess
	}

	c.generation++
	gen := c.generation
	outgoingID := c.active
	prevPhase := c.phase
	c.requested = id
	c.lastSelected = id
	c.errMsg = ""
	c.phase = PhaseLoading
	c.loadStart = time.Now()
	c.armReadyTimerLocked(gen)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info().Str("station", id).Str("from", string(prevPhase)).Msg("station selected")
	c.fader.Cancel()
	if c.mode == ModeFiller && c.filler != nil {
		// The bed carries the gap while the incoming station settles.
		c.filler.Start(c.ctx)
		var outgoing fader.Target
		if outgoingID != "" && outgoingID != id {
			outgoing = c.sessionFor(outgoingID)
		}
		c.fader.Begin(outgoing, c.filler, nil)
	}
	c.publish(snap, prevPhase)

	if err := sess.Play(c.ctx); err != nil {
		c.onPlayRejected(id, err)
	}
	return nil
}

// Stop ends playback entirely and returns the player to idle.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopAllFrom("stop")
}

// Pause behaves like Stop but remembers the selection for Resume.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.stopAllFrom("pause")
}

// Resume re-selects the station that was playing before Pause or Stop.
func (c *Controller) Resume() error {
	c.mu.Lock()
	if c.phase != PhaseIdle && c.phase != PhaseError {
		c.mu.Unlock()
		return nil
	}
	target := c.lastSelected
	c.mu.Unlock()
	if target == "" {
		return nil
	}
	return c.Select(target)
}

// Close tears down every decoder handle. The controller is unusable
// afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.generation++
	c.requested = ""
	c.active = ""
	c.phase = PhaseIdle
	c.stopReadyTimerLocked()
	sessions := c.sessions
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()

	c.fader.Cancel()
	if c.filler != nil {
		c.filler.Stop()
	}
	if c.metadata != nil {
		c.metadata.Stop()
	}
	for _, s := range sessions {
		_ = s.Close()
	}
}

// stopAllFrom finishes a mutation that ends playback. Called with mu
// held; releases it.
func (c *Controller) stopAllFrom(cause string) {
	c.generation++
	prevPhase := c.phase
	if c.active != "" {
		c.lastSelected = c.active
	} else if c.requested != "" {
		c.lastSelected = c.requested
	}
	c.requested = ""
	c.active = ""
	c.errMsg = ""
	c.phase = PhaseIdle
	c.nowPlaying = metadata.Unknown()
	c.stopReadyTimerLocked()
	sessions := c.liveSessionsLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info().Str("cause", cause).Msg("playback stopped")
	telemetry.ActiveStation.Reset()
	c.fader.Cancel()
	if c.filler != nil {
		c.filler.Stop()
	}
	if c.metadata != nil {
		c.metadata.Stop()
	}
	for _, s := range sessions {
		s.Stop()
	}
	c.publish(snap, prevPhase)
}

// failFrom moves the player to the error phase and silences everything.
// Called with mu held; releases it.
func (c *Controller) failFrom(err error) {
	c.generation++
	prevPhase := c.phase
	c.requested = ""
	c.active = ""
	c.errMsg = err.Error()
	c.phase = PhaseError
	c.nowPlaying = metadata.Unknown()
	c.stopReadyTimerLocked()
	sessions := c.liveSessionsLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Error().Err(err).Msg("transition failed")
	telemetry.ActiveStation.Reset()
	c.fader.Cancel()
	if c.filler != nil {
		c.filler.Stop()
	}
	if c.metadata != nil {
		c.metadata.Stop()
	}
	for _, s := range sessions {
		s.Stop()
	}
	telemetry.TransitionsTotal.WithLabelValues("error").Inc()
	c.publish(snap, prevPhase)
	if c.bus != nil {
		c.bus.Publish(events.EventPlaybackError, events.Payload{"error": err.Error()})
	}
}

func (c *Controller) liveSessionsLocked() []*Session {
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	return out
}

func (c *Controller) sessionFor(id string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[id]
}

func (c *Controller) callbacksFor(id string) decoder.Callbacks {
	return decoder.Callbacks{
		OnReady:    func() { c.onReady(id) },
		OnMetadata: func(title string) { c.onPushMetadata(id, title) },
		OnError:    func(err error) { c.onDecoderError(id, err) },
	}
}

func (c *Controller) armReadyTimerLocked(gen uint64) {
	c.stopReadyTimerLocked()
	c.readyTimer = time.AfterFunc(c.readyTimeout, func() { c.onTimeout(gen) })
}

func (c *Controller) stopReadyTimerLocked() {
	if c.readyTimer != nil {
		c.readyTimer.Stop()
		c.readyTimer = nil
	}
}

// onReady confirms the requested station is producing audio. This is the
// only place the active station id is assigned. Signals for any station
// that is not the one currently awaited are stale and ignored.
func (c *Controller) onReady(id string) {
	c.mu.Lock()
	if c.phase != PhaseLoading || c.requested != id {
		c.mu.Unlock()
		c.logger.Debug().Str("station", id).Msg("stale readiness signal ignored")
		return
	}
	prevPhase := c.phase
	prevActive := c.active
	c.active = id
	c.requested = ""
	c.phase = PhaseFading
	c.generation++
	gen := c.generation
	c.stopReadyTimerLocked()
	loadDur := time.Since(c.loadStart)
	incoming := c.sessions[id]
	var outgoing fader.Target
	if c.mode == ModeFiller && c.filler != nil {
		outgoing = c.filler
	} else if prevActive != "" && prevActive != id {
		outgoing = c.sessions[prevActive]
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Info().Str("station", id).Dur("load", loadDur).Msg("station ready")
	telemetry.LoadDuration.Observe(loadDur.Seconds())
	telemetry.ActiveStation.Reset()
	telemetry.ActiveStation.WithLabelValues(id).Set(1)
	if c.metadata != nil {
		c.metadata.Start(incoming.Station())
	}
	c.fader.Begin(outgoing, incoming, func() { c.onFadeDone(gen) })
	c.publish(snap, prevPhase)
}

// onFadeDone settles the fading phase. The generation check discards
// completions from fades that were superseded while running.
func (c *Controller) onFadeDone(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.phase != PhaseFading {
		c.mu.Unlock()
		return
	}
	prevPhase := c.phase
	c.phase = PhasePlaying
	snap := c.snapshotLocked()
	c.mu.Unlock()

	telemetry.TransitionsTotal.WithLabelValues("success").Inc()
	c.publish(snap, prevPhase)
}

// onTimeout fires when no readiness arrived within the ceiling. gen pins
// it to the selection that armed it.
func (c *Controller) onTimeout(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.phase != PhaseLoading {
		c.mu.Unlock()
		return
	}
	id := c.requested
	c.logger.Warn().Str("station", id).Dur("ceiling", c.readyTimeout).Msg("load deadline exceeded")
	telemetry.TransitionsTotal.WithLabelValues("timeout").Inc()
	c.failFrom(fmt.Errorf("%w: %s", ErrLoadTimeout, id))
}

// onPlayRejected handles a Play call that errored before any audio.
func (c *Controller) onPlayRejected(id string, err error) {
	c.mu.Lock()
	if c.phase != PhaseLoading || c.requested != id {
		c.mu.Unlock()
		return
	}
	c.failFrom(fmt.Errorf("%w: %v", ErrPlaybackRejected, err))
}

// onDecoderError handles a stream dying at runtime. It applies from any
// phase as long as the station is still relevant; errors from abandoned
// sessions are logged and dropped.
func (c *Controller) onDecoderError(id string, err error) {
	c.mu.Lock()
	if id != c.active && id != c.requested {
		c.mu.Unlock()
		c.logger.Debug().Str("station", id).Err(err).Msg("error from abandoned session ignored")
		return
	}
	c.failFrom(fmt.Errorf("%w: %v", ErrStreamRuntime, err))
}

// onPushMetadata handles inline stream metadata. For a station that is
// mid-load it doubles as the readiness signal; audio metadata cannot
// arrive before audio.
func (c *Controller) onPushMetadata(id string, title string) {
	c.onReady(id)

	np := metadata.ParseTitle(title)
	c.mu.Lock()
	if sess := c.sessions[id]; sess != nil {
		sess.setTitle(title)
	}
	if id != c.active {
		c.mu.Unlock()
		return
	}
	c.nowPlaying = np
	c.mu.Unlock()
	c.publishNowPlaying(id, np)
}

// HandleMetadataUpdate receives poller results. Updates for anything but
// the active station are stale.
func (c *Controller) HandleMetadataUpdate(id string, np metadata.NowPlaying) {
	result := "ok"
	if np.Artist == metadata.ErrorArtist {
		result = "error"
	}
	telemetry.MetadataFetchesTotal.WithLabelValues(result).Inc()

	c.mu.Lock()
	if id != c.active {
		c.mu.Unlock()
		return
	}
	c.nowPlaying = np
	c.mu.Unlock()
	c.publishNowPlaying(id, np)
}

func (c *Controller) publish(snap Snapshot, prevPhase Phase) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.EventPlayerState, events.Payload{
		"phase":              string(snap.Phase),
		"requestedStationId": snap.RequestedID,
		"activeStationId":    snap.ActiveID,
		"errorMessage":       snap.ErrorMsg,
		"nowPlaying":         snap.NowPlaying,
	})
	if snap.Phase != prevPhase {
		c.bus.Publish(events.EventTransition, events.Payload{
			"from": string(prevPhase),
			"to":   string(snap.Phase),
		})
	}
}

func (c *Controller) publishNowPlaying(id string, np metadata.NowPlaying) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.EventNowPlaying, events.Payload{
		"stationId": id,
		"artist":    np.Artist,
		"track":     np.Track,
	})
}
