/*
Copyright (C) 2026 Third Block FM

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus mirrors the in-process event bus over Redis pub/sub.
// External consumers (dashboards, scrobblers, companion apps) follow the
// player without touching its HTTP surface, and remote surfaces can send
// media commands back. Redis being down never affects local playback.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/thirdblockfm/tuner/internal/events"
)

// mirrored is the set of local events republished to Redis.
var mirrored = []events.EventType{
	events.EventPlayerState,
	events.EventNowPlaying,
	events.EventTransition,
	events.EventPlaybackError,
}

// commandChannel is the Redis channel remote surfaces publish media
// commands on.
const commandChannel = "tuner:commands"

// Config contains Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	ProbeInterval time.Duration
}

// DefaultConfig returns default Redis configuration.
func DefaultConfig() Config {
	return Config{
		Addr:          "localhost:6379",
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		ProbeInterval: 30 * time.Second,
	}
}

// message is the wire format on Redis channels. NodeID identifies the
// publisher so a node never re-ingests its own traffic.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// Mirror bridges the local bus and Redis. After MaxFailures consecutive
// publish failures the breaker opens and publishing stops; a periodic
// probe re-closes it once Redis answers again.
type Mirror struct {
	client *redis.Client
	bus    *events.Bus
	nodeID string
	cfg    Config
	logger zerolog.Logger

	mu        sync.Mutex
	open      bool
	failCount int
	lastProbe time.Time

	wg sync.WaitGroup
}

// NewMirror creates the Redis mirror. A failed initial ping opens the
// breaker instead of failing construction; the probe loop recovers later.
func NewMirror(cfg Config, bus *events.Bus, nodeID string, logger zerolog.Logger) *Mirror {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	m := &Mirror{
		client: client,
		bus:    bus,
		nodeID: nodeID,
		cfg:    cfg,
		logger: logger.With().Str("component", "eventbus").Logger(),
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		m.logger.Warn().Err(err).Msg("redis unavailable, mirror starts open")
		m.open = true
		m.lastProbe = time.Now()
	} else {
		m.logger.Info().Str("addr", cfg.Addr).Msg("redis event mirror initialized")
	}
	return m
}

// Run forwards events both ways until the context ends.
func (m *Mirror) Run(ctx context.Context) {
	for _, et := range mirrored {
		sub := m.bus.Subscribe(et)
		m.wg.Add(1)
		go m.forwardLocal(ctx, et, sub)
	}

	m.wg.Add(1)
	go m.receiveCommands(ctx)

	m.wg.Add(1)
	go m.probeLoop(ctx)

	<-ctx.Done()
	m.wg.Wait()
	if err := m.client.Close(); err != nil {
		m.logger.Debug().Err(err).Msg("redis client close")
	}
}

// forwardLocal republishes one local event type to its Redis channel.
func (m *Mirror) forwardLocal(ctx context.Context, et events.EventType, sub events.Subscriber) {
	defer m.wg.Done()
	defer m.bus.Unsubscribe(et, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			m.publish(ctx, et, payload)
		}
	}
}

func (m *Mirror) publish(ctx context.Context, et events.EventType, payload events.Payload) {
	m.mu.Lock()
	open := m.open
	m.mu.Unlock()
	if open {
		return
	}

	data, err := json.Marshal(message{
		EventType: et,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    m.nodeID,
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("marshal mirror message")
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.client.Publish(pubCtx, channelFor(et), data).Err(); err != nil {
		m.logger.Warn().Err(err).Str("event_type", string(et)).Msg("redis publish failed")
		m.recordFailure()
		return
	}

	m.mu.Lock()
	m.failCount = 0
	m.mu.Unlock()
}

// receiveCommands subscribes to the command channel and feeds remote
// media commands into the local bus.
func (m *Mirror) receiveCommands(ctx context.Context) {
	defer m.wg.Done()

	pubsub := m.client.Subscribe(ctx, commandChannel)
	defer pubsub.Close()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				m.recordFailure()
				return
			}
			var msg message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				m.logger.Warn().Err(err).Msg("invalid command message")
				continue
			}
			if msg.NodeID == m.nodeID {
				continue
			}
			m.logger.Debug().Str("source_node", msg.NodeID).Msg("remote media command")
			m.bus.Publish(events.EventMediaCommand, msg.Payload)
		}
	}
}

func (m *Mirror) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCount++
	if m.failCount >= m.cfg.MaxFailures && !m.open {
		m.logger.Warn().Int("fail_count", m.failCount).Msg("redis failure threshold reached, mirror open")
		m.open = true
		m.lastProbe = time.Now()
	}
}

// probeLoop pings Redis while the breaker is open and closes it again on
// the first successful answer.
func (m *Mirror) probeLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.cfg.ProbeInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			open := m.open
			m.mu.Unlock()
			if !open {
				continue
			}

			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := m.client.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				m.logger.Debug().Err(err).Msg("redis still unavailable")
				continue
			}

			m.mu.Lock()
			m.open = false
			m.failCount = 0
			m.mu.Unlock()
			m.logger.Info().Msg("redis recovered, mirror closed")
		}
	}
}

func channelFor(et events.EventType) string {
	return fmt.Sprintf("tuner:events:%s", et)
}
