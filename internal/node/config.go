package node

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/lightmesh/internal/directory"
	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/danmuck/lightmesh/internal/liveness"
	"github.com/danmuck/lightmesh/internal/protocol/session"
	"github.com/danmuck/lightmesh/internal/store"
)

const (
	DefaultListenPort = 12345
	DefaultMulticast  = "ff03::1"
	DefaultJoinerKey  = "J01NME"
)

// Timeouts holds every state-local interval and budget.
type Timeouts struct {
	NetworkPoll        time.Duration
	NetworkAttach      time.Duration
	CommissionerSettle time.Duration
	PairingBroadcast   time.Duration
	Commissioning      time.Duration
	JoinerSettle       time.Duration
	JoinerScanPoll     time.Duration
	JoinerScan         time.Duration
	WaitBroadcast      time.Duration
	WaitAck            time.Duration
	RouterEscalation   time.Duration
	ReconnectPoll      time.Duration
	Reconnect          time.Duration
	SeekBroadcast      time.Duration
	Seeking            time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		NetworkPoll:        5 * time.Second,
		NetworkAttach:      50 * time.Second,
		CommissionerSettle: time.Second,
		PairingBroadcast:   3 * time.Second,
		Commissioning:      60 * time.Second,
		JoinerSettle:       500 * time.Millisecond,
		JoinerScanPoll:     time.Second,
		JoinerScan:         20 * time.Second,
		WaitBroadcast:      20 * time.Second,
		WaitAck:            10 * time.Second,
		RouterEscalation:   5 * time.Second,
		ReconnectPoll:      2 * time.Second,
		Reconnect:          120 * time.Second,
		SeekBroadcast:      5 * time.Second,
		Seeking:            60 * time.Second,
	}
}

// ButtonConfig classifies press durations.
type ButtonConfig struct {
	Debounce  time.Duration
	LongPress time.Duration
}

// RateLimitConfig bounds inbound datagrams per source address. A zero
// PerSecond disables limiting.
type RateLimitConfig struct {
	PerSecond int
	Burst     int
}

// DedupConfig sizes the filter that suppresses redelivery of retransmitted
// reliable messages. The bloom filter only short-cuts misses; duplicates are
// confirmed exactly. Window is how long a (source, id) pair stays suppressed
// at minimum; it must exceed the sender's retry span.
type DedupConfig struct {
	ExpectedElements  uint
	FalsePositiveRate float64
	Window            time.Duration
}

type Config struct {
	Identity identity.Hash
	Network  store.NetworkConfig

	NetworkName string
	NetworkKey  string
	JoinerKey   string
	ListenPort  uint16
	Multicast   string
	// RouterEligible lets a paired joiner ask the stack for router capability.
	RouterEligible bool

	CommandTimeout time.Duration
	// PollWait is how long one tick waits for inbound datagrams.
	PollWait time.Duration

	MaxJoiners int
	Delivery   session.Config
	Liveness   liveness.Config
	Timeouts   Timeouts
	Button     ButtonConfig
	RateLimit  RateLimitConfig
	Dedup      DedupConfig
}

func DefaultConfig() Config {
	return Config{
		Network:        store.DefaultNetworkConfig(),
		NetworkName:    "lightmesh",
		JoinerKey:      DefaultJoinerKey,
		ListenPort:     DefaultListenPort,
		Multicast:      DefaultMulticast,
		CommandTimeout: 2 * time.Second,
		PollWait:       20 * time.Millisecond,
		MaxJoiners:     directory.DefaultMaxJoiners,
		Delivery:       session.DefaultConfig(),
		Liveness:       liveness.DefaultConfig(),
		Timeouts:       DefaultTimeouts(),
		Button: ButtonConfig{
			Debounce:  50 * time.Millisecond,
			LongPress: 3 * time.Second,
		},
		RateLimit: RateLimitConfig{PerSecond: 50, Burst: 100},
		Dedup: DedupConfig{
			ExpectedElements:  4096,
			FalsePositiveRate: 0.001,
			Window:            30 * time.Second,
		},
	}
}

// Role returns the normalized role of the node.
func (c Config) Role() string {
	return strings.ToLower(strings.TrimSpace(c.Network.Role))
}

func (c Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return err
	}
	if err := c.Delivery.Validate(); err != nil {
		return err
	}
	if c.Identity == 0 {
		return errors.New("node: identity hash is required")
	}
	if c.ListenPort == 0 {
		return errors.New("node: listen port is required")
	}
	if strings.TrimSpace(c.Multicast) == "" {
		return errors.New("node: multicast address is required")
	}
	if strings.TrimSpace(c.JoinerKey) == "" {
		return errors.New("node: joiner key is required")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("node: command timeout must be > 0, got %v", c.CommandTimeout)
	}
	if c.Liveness.DeadAfter <= 0 || c.Liveness.HeartbeatInterval <= 0 {
		return errors.New("node: liveness intervals must be > 0")
	}
	if c.Dedup.ExpectedElements == 0 || c.Dedup.FalsePositiveRate <= 0 || c.Dedup.FalsePositiveRate >= 1 {
		return fmt.Errorf("node: invalid dedup sizing n=%d fp=%v", c.Dedup.ExpectedElements, c.Dedup.FalsePositiveRate)
	}
	return nil
}
