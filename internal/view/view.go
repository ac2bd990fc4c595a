/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package view projects controller state into the shape clients render.
// It is a pure function of a snapshot and the station list; it holds no
// state of its own.
package view

import (
	"github.com/thirdblockfm/tuner/internal/metadata"
	"github.com/thirdblockfm/tuner/internal/session"
	"github.com/thirdblockfm/tuner/internal/station"
)

// StationView is the render state for one station button.
type StationView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// IsSelected marks the station the user has chosen, whether or not
	// it has settled yet.
	IsSelected bool `json:"isSelected"`
	// IsLoadingFlash drives the blink treatment while the selection is
	// still settling.
	IsLoadingFlash bool `json:"isLoadingFlash"`
	// IsActive marks the station whose audio is confirmed.
	IsActive bool `json:"isActive"`
}

// PlayerView is the full render state.
type PlayerView struct {
	Phase              session.Phase       `json:"phase"`
	InteractionEnabled bool                `json:"interactionEnabled"`
	ErrorMessage       string              `json:"errorMessage,omitempty"`
	NowPlaying         metadata.NowPlaying `json:"nowPlaying"`
	Stations           []StationView       `json:"stations"`
}

// Project derives the render state from a snapshot. Selection follows the
// requested station while one is settling and the active station
// otherwise, so a switch highlights the destination immediately.
func Project(snap session.Snapshot, stations []station.Station) PlayerView {
	selected := snap.RequestedID
	if selected == "" {
		selected = snap.ActiveID
	}
	loading := snap.Phase == session.PhaseLoading
	fading := snap.Phase == session.PhaseFading
	playing := snap.Phase == session.PhasePlaying

	views := make([]StationView, 0, len(stations))
	for _, st := range stations {
		// The flash target is the requested station while it settles and
		// the newly confirmed station while the fade runs out.
		flash := (loading && st.ID == snap.RequestedID) ||
			(fading && st.ID == snap.ActiveID)
		views = append(views, StationView{
			ID:             st.ID,
			Name:           st.Name,
			IsSelected:     st.ID == selected && selected != "",
			IsLoadingFlash: flash,
			IsActive:       playing && st.ID == snap.ActiveID,
		})
	}

	return PlayerView{
		Phase:              snap.Phase,
		InteractionEnabled: !loading,
		ErrorMessage:       snap.ErrorMsg,
		NowPlaying:         snap.NowPlaying,
		Stations:           views,
	}
}
