package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/lightmesh/internal/admin"
	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/danmuck/lightmesh/internal/node"
	"github.com/danmuck/lightmesh/internal/observability"
	"github.com/danmuck/lightmesh/internal/status"
	"github.com/danmuck/lightmesh/internal/store"
	"github.com/danmuck/lightmesh/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidTickInterval = errors.New("daemon: invalid tick interval")
	ErrUnknownBackend      = errors.New("daemon: unknown storage backend")
	ErrNotAttached         = errors.New("daemon: node not attached")
	ErrStopped             = errors.New("daemon: service stopped")
)

const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendEtcd   = "etcd"
)

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	Backend string
	Dir     string
	Etcd    store.EtcdConfig
	Breaker store.BreakerConfig
}

// ServiceConfig configures the lightmesh daemon.
type ServiceConfig struct {
	Node         node.Config
	IdentitySeed string
	// Transport is the mesh-stack CLI endpoint, see transport.Dial.
	Transport    string
	DialTimeout  time.Duration
	Reader       transport.ReaderConfig
	TickInterval time.Duration
	// StatusInterval is how often the daemon logs a status line.
	StatusInterval time.Duration
	Storage        StorageConfig
	// Admin.ListenAddr empty disables the admin server.
	Admin admin.Config
}

func DefaultServiceConfig() ServiceConfig {
	adminCfg := admin.DefaultConfig()
	adminCfg.ListenAddr = ""
	return ServiceConfig{
		Node:           node.DefaultConfig(),
		Transport:      "tcp://127.0.0.1:2323",
		DialTimeout:    5 * time.Second,
		Reader:         transport.DefaultReaderConfig(),
		TickInterval:   50 * time.Millisecond,
		StatusInterval: 30 * time.Second,
		Storage: StorageConfig{
			Backend: BackendFile,
			Dir:     "local/lightmesh",
			Etcd:    store.DefaultEtcdConfig(),
			Breaker: store.DefaultBreakerConfig(),
		},
		Admin: adminCfg,
	}
}

type request struct {
	fn   func(n *node.Node, now time.Time)
	done chan struct{}
}

// Service owns one node and the goroutine that ticks it. Other goroutines
// reach the node only through Do; Snapshot reads the last published state.
type Service struct {
	cfg       ServiceConfig
	node      *node.Node
	transport node.Transport
	store     store.Store
	closers   []io.Closer
	hub       *admin.Hub
	indicator *status.LogIndicator
	observers fanout

	mailbox  chan request
	stopped  chan struct{}
	snapshot atomic.Pointer[node.Snapshot]
	now      func() time.Time
}

var _ admin.Controller = (*Service)(nil)

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	return &Service{
		cfg:       cfg,
		hub:       admin.NewHub(),
		indicator: status.NewLogIndicator(),
		mailbox:   make(chan request, 16),
		stopped:   make(chan struct{}),
		now:       time.Now,
	}
}

// Observe adds an application observer. Call before Attach or Run.
func (s *Service) Observe(obs node.Observer) {
	if obs != nil {
		s.observers = append(s.observers, obs)
	}
}

// Run opens the transport and storage, then serves until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.bootstrap(); err != nil {
		s.close()
		return err
	}
	return s.Serve(ctx)
}

func (s *Service) bootstrap() error {
	if s.cfg.TickInterval <= 0 {
		return ErrInvalidTickInterval
	}
	id, err := s.resolveIdentity()
	if err != nil {
		return err
	}
	s.cfg.Node.Identity = id

	backend, err := s.openStore()
	if err != nil {
		return err
	}

	reader := s.cfg.Reader
	reader.ListenPort = s.cfg.Node.ListenPort
	conn, err := transport.Dial(s.cfg.Transport, s.cfg.DialTimeout)
	if err != nil {
		return fmt.Errorf("daemon: transport: %w", err)
	}
	console := transport.NewConsole(conn, reader)
	s.closers = append(s.closers, console)

	return s.Attach(console, backend)
}

func (s *Service) resolveIdentity() (identity.Hash, error) {
	if s.cfg.Node.Identity != 0 {
		return s.cfg.Node.Identity, nil
	}
	id, err := identity.Local(s.cfg.IdentitySeed)
	if err != nil {
		return 0, fmt.Errorf("daemon: identity: %w", err)
	}
	return id, nil
}

func (s *Service) openStore() (store.Store, error) {
	defaults := s.cfg.Node.Network
	switch strings.ToLower(strings.TrimSpace(s.cfg.Storage.Backend)) {
	case BackendMemory:
		return store.NewMemoryStore(defaults), nil
	case BackendFile, "":
		fs, err := store.NewFileStore(s.cfg.Storage.Dir)
		if err != nil {
			return nil, err
		}
		return fs.WithDefaults(defaults), nil
	case BackendEtcd:
		cfg := s.cfg.Storage.Etcd
		cfg.Defaults = defaults
		if strings.TrimSpace(cfg.Node) == "" {
			cfg.Node = s.cfg.Node.Identity.String()
		}
		es, err := store.NewEtcdStore(cfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, es)
		return es, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, s.cfg.Storage.Backend)
	}
}

// Attach builds the node over tr and st. The persisted network config wins
// over the configured one; when storage cannot supply it the configured one
// is used.
func (s *Service) Attach(tr node.Transport, st store.Store) error {
	if s.cfg.Node.Identity == 0 {
		id, err := s.resolveIdentity()
		if err != nil {
			return err
		}
		s.cfg.Node.Identity = id
	}
	guarded := store.NewGuarded(st, "lightmesh-store", s.cfg.Storage.Breaker)
	netCfg, err := guarded.LoadConfig()
	if err != nil {
		log.Warn().Err(err).Str("role", s.cfg.Node.Network.Role).Msg("daemon network config unavailable, using configured network")
	} else {
		s.cfg.Node.Network = netCfg
	}

	observability.InitLogger("lightmeshd", s.cfg.Node.Role(), s.cfg.Node.Identity.String())
	observability.RegisterMetrics()

	observers := append(fanout{s.hub}, s.observers...)
	n, err := node.New(s.cfg.Node, tr, guarded, observers, s.indicator)
	if err != nil {
		return err
	}
	s.node = n
	s.transport = tr
	s.store = guarded
	s.publish()
	log.Info().
		Str("role", n.Role()).
		Str("identity", n.Identity().String()).
		Int("channel", s.cfg.Node.Network.Channel).
		Str("panid", s.cfg.Node.Network.NetworkID).
		Msg("daemon attached")
	return nil
}

// Serve ticks the node until ctx is done.
func (s *Service) Serve(ctx context.Context) error {
	if s.node == nil {
		return ErrNotAttached
	}
	defer close(s.stopped)
	defer s.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.hub.Run(ctx)

	adminErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.Admin.ListenAddr) != "" {
		srv := admin.New(s.cfg.Admin, s, s.hub)
		go func() {
			adminErr <- srv.Serve(ctx)
		}()
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	statusInterval := s.cfg.StatusInterval
	if statusInterval <= 0 {
		statusInterval = DefaultServiceConfig().StatusInterval
	}
	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()

	s.tick()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("daemon shutdown")
			return nil
		case err := <-adminErr:
			if err != nil {
				return fmt.Errorf("daemon: admin: %w", err)
			}
		case req := <-s.mailbox:
			req.fn(s.node, s.now())
			s.publish()
			close(req.done)
		case <-ticker.C:
			s.tick()
		case <-statusTicker.C:
			snap := s.Snapshot()
			log.Info().
				Str("state", snap.State).
				Bool("ready", snap.Ready).
				Int("peers", len(snap.Peers)).
				Int("pending", snap.Pending).
				Int("event_clients", s.hub.ClientCount()).
				Msg("daemon status")
		}
	}
}

func (s *Service) tick() {
	s.node.Tick(s.now())
	s.publish()
}

func (s *Service) publish() {
	snap := s.node.Snapshot()
	s.snapshot.Store(&snap)
}

func (s *Service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("daemon close failed")
		}
	}
	s.closers = nil
}

// Do runs fn on the tick goroutine and waits for it to finish.
func (s *Service) Do(ctx context.Context, fn func(n *node.Node, now time.Time)) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case s.mailbox <- req:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the state published after the last tick.
func (s *Service) Snapshot() node.Snapshot {
	if snap := s.snapshot.Load(); snap != nil {
		return *snap
	}
	return node.Snapshot{State: node.StateInit.String(), Role: s.cfg.Node.Role()}
}

func (s *Service) Hub() *admin.Hub {
	return s.hub
}

func (s *Service) Indicator() *status.LogIndicator {
	return s.indicator
}

func (s *Service) Press(ctx context.Context, p node.Press) error {
	return s.Do(ctx, func(n *node.Node, _ time.Time) {
		n.Press(p)
	})
}

// Send queues payload to addr. The message id is zero for unreliable sends.
func (s *Service) Send(ctx context.Context, addr string, payload []byte, reliable bool) (uint16, error) {
	type result struct {
		id  uint16
		err error
	}
	out := make(chan result, 1)
	err := s.Do(ctx, func(n *node.Node, _ time.Time) {
		if reliable {
			id, err := n.SendReliable(addr, payload)
			out <- result{id: id, err: err}
			return
		}
		out <- result{err: n.SendUnreliable(addr, payload)}
	})
	if err != nil {
		return 0, err
	}
	r := <-out
	return r.id, r.err
}

func (s *Service) Wipe(ctx context.Context) error {
	return s.Do(ctx, func(n *node.Node, now time.Time) {
		n.Wipe(now)
	})
}
