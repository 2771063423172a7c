package engine

import (
	"time"

	"github.com/cinemood/watchparty/internal/party"
)

const (
	defaultPollInterval     = time.Second
	defaultDriftToleranceMS = int64(3000)
	defaultHeartbeatEvery   = 15 * time.Second
	defaultInactivityWindow = 45 * time.Second

	defaultReconnectAttempts = 5
	defaultInitialDelay      = 500 * time.Millisecond
	defaultMaxDelay          = 30 * time.Second
	defaultBackoffMultiplier = 2.0
)

// ReconnectConfig bounds the supervisor's retry policy.
type ReconnectConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Config carries the engine's tunables. Zero values fall back to defaults so
// callers only set what they care about.
type Config struct {
	PollInterval     time.Duration
	DriftToleranceMS int64
	TranscriptCap    int
	MaxParticipants  int
	HeartbeatEvery   time.Duration
	InactivityWindow time.Duration
	Reconnect        ReconnectConfig
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.DriftToleranceMS <= 0 {
		c.DriftToleranceMS = defaultDriftToleranceMS
	}
	if c.TranscriptCap <= 0 {
		c.TranscriptCap = party.DefaultTranscriptCap
	}
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = party.DefaultMaxParticipants
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = defaultHeartbeatEvery
	}
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = defaultInactivityWindow
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = defaultReconnectAttempts
	}
	if c.Reconnect.InitialDelay <= 0 {
		c.Reconnect.InitialDelay = defaultInitialDelay
	}
	if c.Reconnect.MaxDelay <= 0 {
		c.Reconnect.MaxDelay = defaultMaxDelay
	}
	if c.Reconnect.Multiplier < 1 {
		c.Reconnect.Multiplier = defaultBackoffMultiplier
	}
	return c
}
