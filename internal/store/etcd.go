package store

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EtcdConfig selects the cluster and the key namespace of one node.
type EtcdConfig struct {
	Endpoints      []string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	// Prefix roots every key; Node separates nodes sharing a cluster.
	Prefix   string
	Node     string
	LogLevel string
	// Defaults is stored as the network config when none exists yet.
	Defaults NetworkConfig
}

func DefaultEtcdConfig() EtcdConfig {
	return EtcdConfig{
		Endpoints:      []string{"127.0.0.1:2379"},
		DialTimeout:    5 * time.Second,
		RequestTimeout: 2 * time.Second,
		Prefix:         "/lightmesh",
		LogLevel:       "warn",
		Defaults:       DefaultNetworkConfig(),
	}
}

// kv is the slice of the etcd API the store needs.
type kv interface {
	get(ctx context.Context, key string) (string, bool, error)
	list(ctx context.Context, prefix string) (map[string]string, error)
	put(ctx context.Context, key, val string) error
	putIfAbsent(ctx context.Context, key, val string) (bool, error)
	deletePrefix(ctx context.Context, prefix string) error
}

// EtcdStore keeps state in etcd under <prefix>/<node>/.
type EtcdStore struct {
	kv       kv
	root     string
	timeout  time.Duration
	defaults NetworkConfig
	closer   func() error
}

func NewEtcdStore(cfg EtcdConfig) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("%w: no etcd endpoints", ErrStorageUnavailable)
	}
	if strings.TrimSpace(cfg.Node) == "" {
		return nil, fmt.Errorf("store: etcd node name required")
	}
	logger, err := newZapLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	log.Info().Strs("endpoints", cfg.Endpoints).Str("node", cfg.Node).Msg("store.EtcdStore connected")
	s := newEtcdStore(&etcdKV{cli: cli}, cfg)
	s.closer = cli.Close
	return s, nil
}

func newEtcdStore(backend kv, cfg EtcdConfig) *EtcdStore {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultEtcdConfig().RequestTimeout
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultEtcdConfig().Prefix
	}
	defaults := cfg.Defaults
	if defaults.Role == "" {
		defaults = DefaultNetworkConfig()
	}
	return &EtcdStore{
		kv:       backend,
		root:     path.Join(prefix, cfg.Node),
		timeout:  timeout,
		defaults: defaults,
	}
}

func newZapLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl := zapcore.WarnLevel
	if strings.TrimSpace(level) != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("store: etcd log level: %w", err)
		}
		lvl = parsed
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func (s *EtcdStore) key(parts ...string) string {
	return path.Join(append([]string{s.root}, parts...)...)
}

func (s *EtcdStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *EtcdStore) LoadConfig() (NetworkConfig, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	raw, ok, err := s.kv.get(ctx, s.key("network"))
	if err != nil {
		return NetworkConfig{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		cfg := s.defaults
		log.Warn().Str("key", s.key("network")).Msg("store.EtcdStore network config missing, creating default")
		return cfg, s.putNetwork(ctx, cfg)
	}
	var doc networkDoc
	if err := toml.Unmarshal([]byte(raw), &doc); err != nil {
		return NetworkConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg := NetworkConfig{
		Role:          strings.ToLower(strings.TrimSpace(doc.Identity.Role)),
		Channel:       doc.Network.Channel,
		AddressPrefix: strings.TrimSpace(doc.Network.MeshLocalPrefix),
		NetworkID:     strings.TrimSpace(doc.Network.PanID),
	}
	return cfg, cfg.Validate()
}

func (s *EtcdStore) putNetwork(ctx context.Context, cfg NetworkConfig) error {
	var doc networkDoc
	doc.Identity.Role = cfg.Role
	doc.Network.Channel = cfg.Channel
	doc.Network.MeshLocalPrefix = cfg.AddressPrefix
	doc.Network.PanID = cfg.NetworkID
	raw, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode network config: %w", err)
	}
	if err := s.kv.put(ctx, s.key("network"), string(raw)); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *EtcdStore) SaveLeaderInfo(info LeaderInfo) error {
	raw, err := toml.Marshal(leaderDoc{LeaderIP: info.Address, LeaderHash: info.Hash.String()})
	if err != nil {
		return fmt.Errorf("store: encode leader info: %w", err)
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.kv.put(ctx, s.key("leader"), string(raw)); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (s *EtcdStore) LoadLeaderInfo() (LeaderInfo, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	raw, ok, err := s.kv.get(ctx, s.key("leader"))
	if err != nil {
		return LeaderInfo{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		return LeaderInfo{}, ErrNotFound
	}
	var doc leaderDoc
	if err := toml.Unmarshal([]byte(raw), &doc); err != nil {
		return LeaderInfo{}, fmt.Errorf("store: decode leader info: %w", err)
	}
	hash, err := identity.Parse(doc.LeaderHash)
	if err != nil {
		return LeaderInfo{}, fmt.Errorf("store: decode leader info: %w", err)
	}
	return LeaderInfo{Address: doc.LeaderIP, Hash: hash}, nil
}

func (s *EtcdStore) AppendJoiner(entry JoinerEntry) error {
	ctx, cancel := s.ctx()
	defer cancel()
	added, err := s.kv.putIfAbsent(ctx, s.key("joiners", entry.Hash.String()), entry.Address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if added {
		log.Info().Str("addr", entry.Address).Str("hash", entry.Hash.String()).Msg("store.EtcdStore joiner added")
	}
	return nil
}

func (s *EtcdStore) ListJoiners() ([]JoinerEntry, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	prefix := s.key("joiners") + "/"
	items, err := s.kv.list(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	out := make([]JoinerEntry, 0, len(items))
	for k, addr := range items {
		hash, err := identity.Parse(strings.TrimPrefix(k, prefix))
		if err != nil {
			log.Warn().Err(err).Str("key", k).Msg("store.EtcdStore skipping bad joiner key")
			continue
		}
		out = append(out, JoinerEntry{Address: addr, Hash: hash})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}

func (s *EtcdStore) Wipe() error {
	ctx, cancel := s.ctx()
	defer cancel()
	for _, k := range []string{s.key("leader"), s.key("joiners") + "/"} {
		if err := s.kv.deletePrefix(ctx, k); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	return nil
}

func (s *EtcdStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

type etcdKV struct {
	cli *clientv3.Client
}

func (e *etcdKV) get(ctx context.Context, key string) (string, bool, error) {
	resp, err := e.cli.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (e *etcdKV) list(ctx context.Context, prefix string) (map[string]string, error) {
	resp, err := e.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out[string(kv.Key)] = string(kv.Value)
	}
	return out, nil
}

func (e *etcdKV) put(ctx context.Context, key, val string) error {
	_, err := e.cli.Put(ctx, key, val)
	return err
}

func (e *etcdKV) putIfAbsent(ctx context.Context, key, val string) (bool, error) {
	resp, err := e.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, val)).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

func (e *etcdKV) deletePrefix(ctx context.Context, prefix string) error {
	_, err := e.cli.Delete(ctx, prefix, clientv3.WithPrefix())
	return err
}
