/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package station

import "testing"

func validStations() []Station {
	return []Station{
		{ID: "dreamy", Name: "t", StreamURL: "http://radio.local/dreamy", MountPoint: "dreamy"},
		{ID: "boogie", Name: "b", StreamURL: "http://radio.local/boogie", MountPoint: "boogie"},
	}
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(validStations())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", reg.Len())
	}

	st, ok := reg.Get("boogie")
	if !ok {
		t.Fatal("Get(boogie) not found")
	}
	if st.MountPoint != "boogie" {
		t.Errorf("MountPoint = %q, want boogie", st.MountPoint)
	}

	if _, ok := reg.Get("missing"); ok {
		t.Error("Get(missing) should not be found")
	}
}

func TestNewRegistryStripsLeadingSlashFromMount(t *testing.T) {
	reg, err := NewRegistry([]Station{
		{ID: "dreamy", Name: "t", StreamURL: "http://radio.local/dreamy", MountPoint: "/dreamy"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	st, _ := reg.Get("dreamy")
	if st.MountPoint != "dreamy" {
		t.Errorf("MountPoint = %q, want dreamy", st.MountPoint)
	}
}

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name     string
		stations []Station
	}{
		{"empty list", nil},
		{"missing id", []Station{{StreamURL: "http://x", MountPoint: "x"}}},
		{"missing stream url", []Station{{ID: "a", MountPoint: "a"}}},
		{"missing mount point", []Station{{ID: "a", StreamURL: "http://x"}}},
		{"mount point is only a slash", []Station{{ID: "a", StreamURL: "http://x", MountPoint: "/"}}},
		{"duplicate id", append(validStations(), Station{ID: "dreamy", StreamURL: "http://x", MountPoint: "x"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.stations); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAllPreservesOrderAndIsolation(t *testing.T) {
	reg, err := NewRegistry(validStations())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	all := reg.All()
	if all[0].ID != "dreamy" || all[1].ID != "boogie" {
		t.Errorf("unexpected order: %v", all)
	}

	// Mutating the returned slice must not affect the registry.
	all[0].ID = "mutated"
	if got := reg.All()[0].ID; got != "dreamy" {
		t.Errorf("registry mutated through All(): %q", got)
	}
}
