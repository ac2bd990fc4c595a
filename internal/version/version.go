/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides version information and update checking.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Version is the current version of the tuner.
// Set at build time via ldflags:
//
//	-X github.com/thirdblockfm/tuner/internal/version.Version=X.Y.Z
var Version = "0.3.0"

// GitHubRepo is the repository checked for new releases.
const GitHubRepo = "thirdblockfm/tuner"

// UpdateInfo describes the newest known release.
type UpdateInfo struct {
	CurrentVersion  string    `json:"currentVersion"`
	LatestVersion   string    `json:"latestVersion,omitempty"`
	UpdateAvailable bool      `json:"updateAvailable"`
	ReleaseURL      string    `json:"releaseUrl,omitempty"`
	CheckedAt       time.Time `json:"checkedAt,omitempty"`
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Checker periodically asks GitHub for the latest release.
type Checker struct {
	logger      zerolog.Logger
	checkPeriod time.Duration
	client      *http.Client

	mu   sync.RWMutex
	info UpdateInfo
}

func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		logger:      logger.With().Str("component", "update-checker").Logger(),
		checkPeriod: 6 * time.Hour,
		client:      &http.Client{Timeout: 10 * time.Second},
		info:        UpdateInfo{CurrentVersion: Version},
	}
}

// Start checks immediately, then on a fixed period until ctx ends.
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.check(ctx)
		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.check(ctx)
			}
		}
	}()
}

// Info returns the last known update information.
func (c *Checker) Info() UpdateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

func (c *Checker) check(ctx context.Context) {
	url := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", GitHubRepo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "tuner/"+Version)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("release check failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug().Int("status", resp.StatusCode).Msg("unexpected status from github")
		return
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		c.logger.Debug().Err(err).Msg("decoding release failed")
		return
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	info := UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   latest,
		UpdateAvailable: compareVersions(Version, latest) < 0,
		ReleaseURL:      release.HTMLURL,
		CheckedAt:       time.Now().UTC(),
	}

	c.mu.Lock()
	c.info = info
	c.mu.Unlock()

	if info.UpdateAvailable {
		c.logger.Info().Str("current", Version).Str("latest", latest).Msg("new version available")
	}
}

// compareVersions returns -1, 0 or 1 comparing two semver strings.
func compareVersions(a, b string) int {
	ap := parseVersion(a)
	bp := parseVersion(b)
	for i := 0; i < 3; i++ {
		if ap[i] < bp[i] {
			return -1
		}
		if ap[i] > bp[i] {
			return 1
		}
	}
	return 0
}

func parseVersion(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	parts := strings.Split(v, ".")
	var result [3]int
	for i := 0; i < len(parts) && i < 3; i++ {
		fmt.Sscanf(parts[i], "%d", &result[i])
	}
	return result
}
