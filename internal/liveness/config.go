package liveness

import "time"

// Config defines heartbeat cadence and silence thresholds.
type Config struct {
	HeartbeatInterval time.Duration
	// RejoinAfter is the silence after which a heartbeat counts as a rejoin.
	RejoinAfter time.Duration
	// DeadAfter is the silence after which a peer is considered gone.
	DeadAfter     time.Duration
	SweepInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		RejoinAfter:       10 * time.Second,
		DeadAfter:         15 * time.Second,
		SweepInterval:     5 * time.Second,
	}
}
