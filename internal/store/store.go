package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/lightmesh/internal/identity"
)

var (
	ErrNotFound           = errors.New("store: not found")
	ErrStorageUnavailable = errors.New("store: storage unavailable")
	ErrInvalidConfig      = errors.New("store: invalid network config")
)

const (
	RoleLeader = "leader"
	RoleJoiner = "joiner"
)

// NetworkConfig is the persisted mesh identity of this node.
type NetworkConfig struct {
	Role          string
	Channel       int
	AddressPrefix string
	NetworkID     string
}

// DefaultNetworkConfig is written when no configuration exists yet.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Role:          RoleJoiner,
		Channel:       11,
		AddressPrefix: "fd00::",
		NetworkID:     "0x1234",
	}
}

func (c NetworkConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Role)) {
	case RoleLeader, RoleJoiner:
	default:
		return fmt.Errorf("%w: role %q", ErrInvalidConfig, c.Role)
	}
	if c.Channel < 11 || c.Channel > 26 {
		return fmt.Errorf("%w: channel %d outside 11-26", ErrInvalidConfig, c.Channel)
	}
	if strings.TrimSpace(c.AddressPrefix) == "" {
		return fmt.Errorf("%w: missing meshlocalprefix", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.NetworkID) == "" {
		return fmt.Errorf("%w: missing panid", ErrInvalidConfig)
	}
	return nil
}

// LeaderInfo is what a joiner remembers about its leader.
type LeaderInfo struct {
	Address string
	Hash    identity.Hash
}

// JoinerEntry is one persisted pairing.
type JoinerEntry struct {
	Address string
	Hash    identity.Hash
}

// Store is the persistence contract. AppendJoiner is a no-op when the hash
// is already recorded.
type Store interface {
	LoadConfig() (NetworkConfig, error)
	SaveLeaderInfo(info LeaderInfo) error
	LoadLeaderInfo() (LeaderInfo, error)
	AppendJoiner(entry JoinerEntry) error
	ListJoiners() ([]JoinerEntry, error)
	Wipe() error
}
