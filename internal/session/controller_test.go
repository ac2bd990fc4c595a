/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/thirdblockfm/tuner/internal/decoder"
	"github.com/thirdblockfm/tuner/internal/fader"
	"github.com/thirdblockfm/tuner/internal/metadata"
	"github.com/thirdblockfm/tuner/internal/station"
)

type fakeHandle struct {
	cb decoder.Callbacks

	mu      sync.Mutex
	gain    float64
	playing bool
	paused  bool
	playErr error
	plays   int
	stops   int
	closes  int
}

func (h *fakeHandle) Play(ctx context.Context) error {
	h.mu.Lock()
	h.plays++
	if h.playErr != nil {
		err := h.playErr
		h.mu.Unlock()
		return err
	}
	already := h.playing
	h.playing = true
	h.paused = false
	h.mu.Unlock()
	if already && h.cb.OnReady != nil {
		h.cb.OnReady()
	}
	return nil
}

func (h *fakeHandle) Stop() {
	h.mu.Lock()
	h.playing = false
	h.stops++
	h.mu.Unlock()
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closes++
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) Gain() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gain
}

func (h *fakeHandle) SetGain(g float64) {
	h.mu.Lock()
	h.gain = g
	h.mu.Unlock()
}

func (h *fakeHandle) Pause() {
	h.mu.Lock()
	h.gain = 0
	h.paused = true
	h.mu.Unlock()
}

func (h *fakeHandle) snapshot() (plays, stops, closes int, playing bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.plays, h.stops, h.closes, h.playing
}

type fakeFactory struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
	newErr  error
	playErr map[string]error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{handles: make(map[string]*fakeHandle), playErr: make(map[string]error)}
}

func (f *fakeFactory) New(st station.Station, cb decoder.Callbacks) (decoder.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	h := &fakeHandle{cb: cb, playErr: f.playErr[st.ID]}
	f.handles[st.ID] = h
	return h, nil
}

func (f *fakeFactory) handle(t *testing.T, id string) *fakeHandle {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.handles[id]
	if h == nil {
		t.Fatalf("no handle created for %s", id)
	}
	return h
}

// ready fires the readiness callback for a station, as the decoder would
// when the first PCM arrives.
func (f *fakeFactory) ready(t *testing.T, id string) {
	f.handle(t, id).cb.OnReady()
}

type fakeMetadata struct {
	mu      sync.Mutex
	started []string
	stops   int
}

func (m *fakeMetadata) Start(st station.Station) {
	m.mu.Lock()
	m.started = append(m.started, st.ID)
	m.mu.Unlock()
}

func (m *fakeMetadata) Stop() {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
}

func testStations(t *testing.T) *station.Registry {
	t.Helper()
	reg, err := station.NewRegistry([]station.Station{
		{ID: "alpha", Name: "Alpha FM", StreamURL: "http://radio.local/alpha", MountPoint: "alpha"},
		{ID: "beta", Name: "Beta FM", StreamURL: "http://radio.local/beta", MountPoint: "beta"},
		{ID: "gamma", Name: "Gamma FM", StreamURL: "http://radio.local/gamma", MountPoint: "gamma"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func newTestController(t *testing.T, opts Options) (*Controller, *fakeFactory) {
	t.Helper()
	f := newFakeFactory()
	opts.Stations = testStations(t)
	opts.Factory = f
	if opts.Fader == nil {
		// Short real fade so fading settles within test time.
		opts.Fader = fader.New(20*time.Millisecond, 4, zerolog.Nop())
	}
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = 200 * time.Millisecond
	}
	opts.Logger = zerolog.Nop()
	c := NewController(opts)
	t.Cleanup(c.Close)
	return c, f
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSelectMovesToLoading(t *testing.T) {
	c, _ := newTestController(t, Options{})

	if err := c.Select("alpha"); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	if snap.Phase != PhaseLoading {
		t.Fatalf("phase = %s, want loading", snap.Phase)
	}
	if snap.RequestedID != "alpha" || snap.ActiveID != "" {
		t.Fatalf("requested=%q active=%q, want alpha and empty", snap.RequestedID, snap.ActiveID)
	}
}

func TestSelectUnknownStationLeavesStateAlone(t *testing.T) {
	c, _ := newTestController(t, Options{})

	err := c.Select("nope")
	if !errors.Is(err, ErrUnknownStation) {
		t.Fatalf("err = %v, want ErrUnknownStation", err)
	}
	if snap := c.Snapshot(); snap.Phase != PhaseIdle {
		t.Fatalf("phase = %s, want idle", snap.Phase)
	}
}

func TestReadinessActivatesAndSettles(t *testing.T) {
	c, f := newTestController(t, Options{})

	if err := c.Select("alpha"); err != nil {
		t.Fatal(err)
	}
	f.ready(t, "alpha")

	snap := c.Snapshot()
	if snap.ActiveID != "alpha" || snap.RequestedID != "" {
		t.Fatalf("after ready: requested=%q active=%q", snap.RequestedID, snap.ActiveID)
	}
	if snap.Phase != PhaseFading {
		t.Fatalf("phase = %s, want fading", snap.Phase)
	}

	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "never reached playing")

	if g := f.handle(t, "alpha").Gain(); g != 1 {
		t.Fatalf("incoming gain = %v, want 1", g)
	}
}

func TestToggleOffWhilePlaying(t *testing.T) {
	c, f := newTestController(t, Options{})

	c.Select("alpha")
	f.ready(t, "alpha")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "never reached playing")

	if err := c.Select("alpha"); err != nil {
		t.Fatal(err)
	}
	snap := c.Snapshot()
	if snap.Phase != PhaseIdle || snap.ActiveID != "" {
		t.Fatalf("after toggle: phase=%s active=%q", snap.Phase, snap.ActiveID)
	}
	if snap.NowPlaying != metadata.Unknown() {
		t.Fatalf("now playing not reset: %+v", snap.NowPlaying)
	}
	_, stops, _, playing := f.handle(t, "alpha").snapshot()
	if stops == 0 || playing {
		t.Fatalf("handle not stopped: stops=%d playing=%v", stops, playing)
	}
}

func TestToggleOffWhileLoadingCancels(t *testing.T) {
	c, f := newTestController(t, Options{})

	c.Select("alpha")
	if err := c.Select("alpha"); err != nil {
		t.Fatal(err)
	}
	if snap := c.Snapshot(); snap.Phase != PhaseIdle || snap.RequestedID != "" {
		t.Fatalf("after cancel: phase=%s requested=%q", snap.Phase, snap.RequestedID)
	}

	// Readiness from the abandoned load must not resurrect playback.
	f.ready(t, "alpha")
	if snap := c.Snapshot(); snap.Phase != PhaseIdle || snap.ActiveID != "" {
		t.Fatalf("stale ready applied: phase=%s active=%q", snap.Phase, snap.ActiveID)
	}
}

func TestLatestClickWins(t *testing.T) {
	c, f := newTestController(t, Options{})

	c.Select("alpha")
	c.Select("beta")

	snap := c.Snapshot()
	if snap.RequestedID != "beta" {
		t.Fatalf("requested = %q, want beta", snap.RequestedID)
	}

	// The superseded station reporting ready changes nothing.
	f.ready(t, "alpha")
	if snap := c.Snapshot(); snap.ActiveID != "" || snap.RequestedID != "beta" {
		t.Fatalf("stale ready applied: %+v", snap)
	}

	f.ready(t, "beta")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "never reached playing")
	if snap := c.Snapshot(); snap.ActiveID != "beta" {
		t.Fatalf("active = %q, want beta", snap.ActiveID)
	}
}

func TestSwitchCrossfadesOutgoing(t *testing.T) {
	c, f := newTestController(t, Options{})

	c.Select("alpha")
	f.ready(t, "alpha")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "alpha never played")

	c.Select("beta")
	f.ready(t, "beta")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "beta never played")

	alpha := f.handle(t, "alpha")
	beta := f.handle(t, "beta")
	if g := beta.Gain(); g != 1 {
		t.Fatalf("incoming gain = %v, want 1", g)
	}
	waitFor(t, func() bool { return alpha.Gain() == 0 }, "outgoing never reached silence")

	alpha.mu.Lock()
	paused, playing := alpha.paused, alpha.playing
	alpha.mu.Unlock()
	if !paused || !playing {
		t.Fatalf("outgoing paused=%v playing=%v, want parked but warm", paused, playing)
	}
}

func TestSwitchBackToWarmSession(t *testing.T) {
	c, f := newTestController(t, Options{})

	c.Select("alpha")
	f.ready(t, "alpha")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "alpha never played")
	c.Select("beta")
	f.ready(t, "beta")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "beta never played")

	// Switching back reuses the parked handle; its second Play reconfirms
	// readiness synchronously.
	if err := c.Select("alpha"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		snap := c.Snapshot()
		return snap.Phase == PhasePlaying && snap.ActiveID == "alpha"
	}, "warm switch back never settled")

	plays, _, closes, _ := f.handle(t, "alpha").snapshot()
	if plays != 2 || closes != 0 {
		t.Fatalf("plays=%d closes=%d, want 2 plays and no close", plays, closes)
	}
}

func TestLoadTimeoutFails(t *testing.T) {
	c, f := newTestController(t, Options{ReadyTimeout: 40 * time.Millisecond})

	c.Select("alpha")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhaseError }, "timeout never fired")

	snap := c.Snapshot()
	if snap.RequestedID != "" || snap.ActiveID != "" {
		t.Fatalf("ids not cleared: %+v", snap)
	}
	if snap.ErrorMsg == "" {
		t.Fatal("error message empty")
	}

	// Readiness after the deadline is stale.
	f.ready(t, "alpha")
	if snap := c.Snapshot(); snap.Phase != PhaseError {
		t.Fatalf("late ready applied: phase=%s", snap.Phase)
	}
}

func TestTimeoutDoesNotFireAfterReady(t *testing.T) {
	c, f := newTestController(t, Options{ReadyTimeout: 40 * time.Millisecond})

	c.Select("alpha")
	f.ready(t, "alpha")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "never reached playing")

	time.Sleep(80 * time.Millisecond)
	if snap := c.Snapshot(); snap.Phase != PhasePlaying {
		t.Fatalf("phase = %s after deadline passed, want playing", snap.Phase)
	}
}

func TestTimeoutScopedToItsSelection(t *testing.T) {
	c, f := newTestController(t, Options{ReadyTimeout: 60 * time.Millisecond})

	c.Select("alpha")
	time.Sleep(30 * time.Millisecond)
	c.Select("beta")
	time.Sleep(45 * time.Millisecond)

	// Alpha's deadline has passed but beta's has not.
	if snap := c.Snapshot(); snap.Phase != PhaseLoading || snap.RequestedID != "beta" {
		t.Fatalf("stale timeout fired: %+v", snap)
	}

	f.ready(t, "beta")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "beta never played")
}

func TestPlayRejectionFails(t *testing.T) {
	c, f := newTestController(t, Options{})
	f.playErr["alpha"] = fmt.Errorf("403 from edge")

	c.Select("alpha")
	snap := c.Snapshot()
	if snap.Phase != PhaseError {
		t.Fatalf("phase = %s, want error", snap.Phase)
	}
	if snap.ErrorMsg == "" {
		t.Fatal("error message empty")
	}
}

func TestDecoderCreationFailureFails(t *testing.T) {
	c, f := newTestController(t, Options{})
	f.newErr = fmt.Errorf("no pipeline")

	c.Select("alpha")
	if snap := c.Snapshot(); snap.Phase != PhaseError {
		t.Fatalf("phase = %s, want error", snap.Phase)
	}
}

func TestRuntimeErrorFromActiveStation(t *testing.T) {
	c, f := newTestController(t, Options{})

	c.Select("alpha")
	f.ready(t, "alpha")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "never reached playing")

	f.handle(t, "alpha").cb.OnError(fmt.Errorf("stream died"))
	snap := c.Snapshot()
	if snap.Phase != PhaseError || snap.ActiveID != "" {
		t.Fatalf("after runtime error: %+v", snap)
	}
}

func TestRuntimeErrorFromAbandonedSessionIgnored(t *testing.T) {
	c, f := newTestController(t, Options{})

	c.Select("alpha")
	c.Select("beta")
	f.ready(t, "beta")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "beta never played")

	f.handle(t, "alpha").cb.OnError(fmt.Errorf("stream died"))
	if snap := c.Snapshot(); snap.Phase != PhasePlaying || snap.ActiveID != "beta" {
		t.Fatalf("abandoned error applied: %+v", snap)
	}
}

func TestSelectFromErrorRecovers(t *testing.T) {
	c, f := newTestController(t, Options{ReadyTimeout: 30 * time.Millisecond})

	c.Select("alpha")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhaseError }, "timeout never fired")

	if err := c.Select("beta"); err != nil {
		t.Fatal(err)
	}
	if snap := c.Snapshot(); snap.ErrorMsg != "" {
		t.Fatalf("error message survived reselect: %q", snap.ErrorMsg)
	}
	f.ready(t, "beta")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "recovery never settled")
}

func TestPushMetadataCountsAsReadiness(t *testing.T) {
	c, f := newTestController(t, Options{})

	c.Select("alpha")
	f.handle(t, "alpha").cb.OnMetadata("Neu! - Hallogallo")

	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "metadata did not confirm readiness")
	snap := c.Snapshot()
	if snap.ActiveID != "alpha" {
		t.Fatalf("active = %q, want alpha", snap.ActiveID)
	}
	if snap.NowPlaying.Artist != "Neu!" || snap.NowPlaying.Track != "Hallogallo" {
		t.Fatalf("now playing = %+v", snap.NowPlaying)
	}
}

func TestPollerUpdateForActiveStation(t *testing.T) {
	c, f := newTestController(t, Options{})

	c.Select("alpha")
	f.ready(t, "alpha")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "never reached playing")

	c.HandleMetadataUpdate("alpha", metadata.NowPlaying{Artist: "Can", Track: "Vitamin C"})
	if np := c.Snapshot().NowPlaying; np.Artist != "Can" {
		t.Fatalf("now playing = %+v", np)
	}

	// An update for a station that is no longer active is stale.
	c.HandleMetadataUpdate("beta", metadata.NowPlaying{Artist: "Faust", Track: "Jennifer"})
	if np := c.Snapshot().NowPlaying; np.Artist != "Can" {
		t.Fatalf("stale metadata applied: %+v", np)
	}
}

func TestMetadataNeverChangesPhase(t *testing.T) {
	c, f := newTestController(t, Options{})

	c.Select("alpha")
	f.ready(t, "alpha")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "never reached playing")

	c.HandleMetadataUpdate("alpha", metadata.NowPlaying{Artist: metadata.ErrorArtist, Track: metadata.ErrorTrack})
	snap := c.Snapshot()
	if snap.Phase != PhasePlaying {
		t.Fatalf("metadata failure changed phase to %s", snap.Phase)
	}
	if snap.NowPlaying.Artist != metadata.ErrorArtist {
		t.Fatalf("error marker not shown: %+v", snap.NowPlaying)
	}
}

func TestPollerScopedToConfirmedStation(t *testing.T) {
	md := &fakeMetadata{}
	c, f := newTestController(t, Options{Metadata: md})

	c.Select("alpha")
	md.mu.Lock()
	n := len(md.started)
	md.mu.Unlock()
	if n != 0 {
		t.Fatal("poller started before readiness")
	}

	f.ready(t, "alpha")
	md.mu.Lock()
	defer md.mu.Unlock()
	if len(md.started) != 1 || md.started[0] != "alpha" {
		t.Fatalf("poller starts = %v, want [alpha]", md.started)
	}
}

func TestPauseAndResume(t *testing.T) {
	c, f := newTestController(t, Options{})

	c.Select("alpha")
	f.ready(t, "alpha")
	waitFor(t, func() bool { return c.Snapshot().Phase == PhasePlaying }, "never reached playing")

	c.Pause()
	if snap := c.Snapshot(); snap.Phase != PhaseIdle {
		t.Fatalf("phase after pause = %s", snap.Phase)
	}

	if err := c.Resume(); err != nil {
		t.Fatal(err)
	}
	f.ready(t, "alpha")
	waitFor(t, func() bool {
		snap := c.Snapshot()
		return snap.Phase == PhasePlaying && snap.ActiveID == "alpha"
	}, "resume never settled")
}

func TestCloseDestroysHandles(t *testing.T) {
	c, f := newTestController(t, Options{})

	c.Select("alpha")
	f.ready(t, "alpha")
	c.Select("beta")
	f.ready(t, "beta")

	c.Close()
	for _, id := range []string{"alpha", "beta"} {
		_, _, closes, _ := f.handle(t, id).snapshot()
		if closes == 0 {
			t.Fatalf("handle %s not closed", id)
		}
	}
}
