/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package station holds the fixed set of stream descriptors the tuner can
// play. The set is loaded once at startup and never mutated afterwards.
package station

import (
	"fmt"
	"strings"
)

// Station describes a single live stream endpoint.
type Station struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	StreamURL  string `yaml:"stream_url" json:"stream_url"`
	MountPoint string `yaml:"mount_point" json:"mount_point"`
}

// Registry is an ordered, immutable collection of stations.
type Registry struct {
	ordered []Station
	byID    map[string]Station
}

// NewRegistry validates the station list and builds a registry.
func NewRegistry(stations []Station) (*Registry, error) {
	if len(stations) == 0 {
		return nil, fmt.Errorf("station list is empty")
	}

	byID := make(map[string]Station, len(stations))
	ordered := make([]Station, 0, len(stations))
	for i, st := range stations {
		if strings.TrimSpace(st.ID) == "" {
			return nil, fmt.Errorf("station %d: id is required", i)
		}
		if strings.TrimSpace(st.StreamURL) == "" {
			return nil, fmt.Errorf("station %q: stream_url is required", st.ID)
		}
		// Mounts are stored without the leading slash so listenurl
		// matching can prepend exactly one.
		st.MountPoint = strings.TrimPrefix(strings.TrimSpace(st.MountPoint), "/")
		if st.MountPoint == "" {
			return nil, fmt.Errorf("station %q: mount_point is required", st.ID)
		}
		if _, dup := byID[st.ID]; dup {
			return nil, fmt.Errorf("duplicate station id %q", st.ID)
		}
		byID[st.ID] = st
		ordered = append(ordered, st)
	}

	return &Registry{ordered: ordered, byID: byID}, nil
}

// Get returns the station for an id.
func (r *Registry) Get(id string) (Station, bool) {
	st, ok := r.byID[id]
	return st, ok
}

// All returns the stations in configuration order.
func (r *Registry) All() []Station {
	out := make([]Station, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of configured stations.
func (r *Registry) Len() int {
	return len(r.ordered)
}
