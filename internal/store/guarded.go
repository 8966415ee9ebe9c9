package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/lightmesh/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig controls when a failing backend is short-circuited.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 3,
		OpenTimeout:         30 * time.Second,
	}
}

// Guarded runs every call through a circuit breaker so a dead backend costs
// one fast error per call instead of one timeout.
type Guarded struct {
	inner Store
	cb    *gobreaker.CircuitBreaker
}

func NewGuarded(inner Store, name string, cfg BreakerConfig) *Guarded {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultBreakerConfig().ConsecutiveFailures
	}
	return &Guarded{
		inner: inner,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidConfig)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("store.Guarded breaker state change")
			},
		}),
	}
}

func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guarded) do(op string, fn func() (interface{}, error)) (interface{}, error) {
	out, err := g.cb.Execute(fn)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidConfig) {
		return out, err
	}
	observability.RecordStorageFailure(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return out, fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
	}
	if !errors.Is(err, ErrStorageUnavailable) {
		return out, fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
	}
	return out, err
}

func (g *Guarded) LoadConfig() (NetworkConfig, error) {
	out, err := g.do("load_config", func() (interface{}, error) {
		return g.inner.LoadConfig()
	})
	cfg, _ := out.(NetworkConfig)
	return cfg, err
}

func (g *Guarded) SaveLeaderInfo(info LeaderInfo) error {
	_, err := g.do("save_leader", func() (interface{}, error) {
		return nil, g.inner.SaveLeaderInfo(info)
	})
	return err
}

func (g *Guarded) LoadLeaderInfo() (LeaderInfo, error) {
	out, err := g.do("load_leader", func() (interface{}, error) {
		return g.inner.LoadLeaderInfo()
	})
	info, _ := out.(LeaderInfo)
	return info, err
}

func (g *Guarded) AppendJoiner(entry JoinerEntry) error {
	_, err := g.do("append_joiner", func() (interface{}, error) {
		return nil, g.inner.AppendJoiner(entry)
	})
	return err
}

func (g *Guarded) ListJoiners() ([]JoinerEntry, error) {
	out, err := g.do("list_joiners", func() (interface{}, error) {
		return g.inner.ListJoiners()
	})
	entries, _ := out.([]JoinerEntry)
	return entries, err
}

func (g *Guarded) Wipe() error {
	_, err := g.do("wipe", func() (interface{}, error) {
		return nil, g.inner.Wipe()
	})
	return err
}
