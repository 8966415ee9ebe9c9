// Package config loads lightmeshd TOML files onto daemon defaults and
// renders starter templates for each role.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/lightmesh/internal/daemon"
	"github.com/danmuck/lightmesh/internal/store"
)

// FileConfig mirrors the keys accepted in a lightmeshd config file.
type FileConfig struct {
	Transport          string   `toml:"transport"`
	ListenPort         int      `toml:"listen_port"`
	Role               string   `toml:"role"`
	NetworkName        string   `toml:"network_name"`
	NetworkKey         string   `toml:"network_key"`
	JoinerKey          string   `toml:"joiner_key"`
	Channel            int      `toml:"channel"`
	PanID              string   `toml:"pan_id"`
	MeshLocalPrefix    string   `toml:"mesh_local_prefix"`
	IdentitySeed       string   `toml:"identity_seed"`
	RouterUpgrade      bool     `toml:"router_upgrade"`
	TickInterval       string   `toml:"tick_interval"`
	HeartbeatInterval  string   `toml:"heartbeat_interval"`
	HeartbeatDeadAfter string   `toml:"heartbeat_dead_after"`
	RetryInterval      string   `toml:"retry_interval"`
	RetryLimit         int      `toml:"retry_limit"`
	MaxPending         int      `toml:"max_pending"`
	MaxJoiners         int      `toml:"max_joiners"`
	InboundRate        int      `toml:"inbound_rate"`
	InboundBurst       int      `toml:"inbound_burst"`
	StorageBackend     string   `toml:"storage_backend"`
	StorageDir         string   `toml:"storage_dir"`
	EtcdEndpoints      []string `toml:"etcd_endpoints"`
	EtcdPrefix         string   `toml:"etcd_prefix"`
	AdminListenAddr    string   `toml:"admin_listen_addr"`
	AdminToken         string   `toml:"admin_token"`
	CORSOrigins        []string `toml:"cors_origins"`
}

// Load decodes path and overlays every defined key onto
// daemon.DefaultServiceConfig.
func Load(path string) (daemon.ServiceConfig, error) {
	cfg := daemon.DefaultServiceConfig()

	var raw FileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemon.ServiceConfig{}, fmt.Errorf("load lightmesh config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return daemon.ServiceConfig{}, fmt.Errorf("load lightmesh config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	if meta.IsDefined("listen_port") {
		if raw.ListenPort <= 0 || raw.ListenPort > 65535 {
			return daemon.ServiceConfig{}, fmt.Errorf("listen_port %d out of range", raw.ListenPort)
		}
		cfg.Node.ListenPort = uint16(raw.ListenPort)
	}
	if meta.IsDefined("role") {
		cfg.Node.Network.Role = strings.ToLower(strings.TrimSpace(raw.Role))
	}
	if meta.IsDefined("network_name") {
		cfg.Node.NetworkName = strings.TrimSpace(raw.NetworkName)
	}
	if meta.IsDefined("network_key") {
		cfg.Node.NetworkKey = strings.TrimSpace(raw.NetworkKey)
	}
	if meta.IsDefined("joiner_key") {
		cfg.Node.JoinerKey = strings.TrimSpace(raw.JoinerKey)
	}
	if meta.IsDefined("channel") {
		cfg.Node.Network.Channel = raw.Channel
	}
	if meta.IsDefined("pan_id") {
		cfg.Node.Network.NetworkID = strings.TrimSpace(raw.PanID)
	}
	if meta.IsDefined("mesh_local_prefix") {
		cfg.Node.Network.AddressPrefix = strings.TrimSpace(raw.MeshLocalPrefix)
	}
	if meta.IsDefined("identity_seed") {
		cfg.IdentitySeed = strings.TrimSpace(raw.IdentitySeed)
	}
	if meta.IsDefined("router_upgrade") {
		cfg.Node.RouterEligible = raw.RouterUpgrade
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"tick_interval", raw.TickInterval, &cfg.TickInterval},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.Node.Liveness.HeartbeatInterval},
		{"heartbeat_dead_after", raw.HeartbeatDeadAfter, &cfg.Node.Liveness.DeadAfter},
		{"retry_interval", raw.RetryInterval, &cfg.Node.Delivery.RetryInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return daemon.ServiceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("retry_limit") {
		cfg.Node.Delivery.RetryLimit = raw.RetryLimit
	}
	if meta.IsDefined("max_pending") {
		cfg.Node.Delivery.MaxPending = raw.MaxPending
	}
	if meta.IsDefined("max_joiners") {
		cfg.Node.MaxJoiners = raw.MaxJoiners
	}
	if meta.IsDefined("inbound_rate") {
		cfg.Node.RateLimit.PerSecond = raw.InboundRate
	}
	if meta.IsDefined("inbound_burst") {
		cfg.Node.RateLimit.Burst = raw.InboundBurst
	}
	if meta.IsDefined("storage_backend") {
		cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(raw.StorageBackend))
	}
	if meta.IsDefined("storage_dir") {
		cfg.Storage.Dir = strings.TrimSpace(raw.StorageDir)
	}
	if meta.IsDefined("etcd_endpoints") {
		cfg.Storage.Etcd.Endpoints = normalizeList(raw.EtcdEndpoints)
	}
	if meta.IsDefined("etcd_prefix") {
		cfg.Storage.Etcd.Prefix = strings.TrimSpace(raw.EtcdPrefix)
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.Admin.ListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.Admin.Token = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.Admin.CORSOrigins = normalizeList(raw.CORSOrigins)
	}

	if err := Validate(cfg); err != nil {
		return daemon.ServiceConfig{}, err
	}
	return cfg, nil
}

// Validate checks what can be checked before identity and storage are
// resolved.
func Validate(cfg daemon.ServiceConfig) error {
	if err := cfg.Node.Network.Validate(); err != nil {
		return err
	}
	if err := cfg.Node.Delivery.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Transport) == "" {
		return fmt.Errorf("lightmesh config missing transport")
	}
	if cfg.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be > 0, got %v", cfg.TickInterval)
	}
	if cfg.Node.Liveness.HeartbeatInterval <= 0 || cfg.Node.Liveness.DeadAfter <= cfg.Node.Liveness.HeartbeatInterval {
		return fmt.Errorf("heartbeat_dead_after (%v) must exceed heartbeat_interval (%v)",
			cfg.Node.Liveness.DeadAfter, cfg.Node.Liveness.HeartbeatInterval)
	}
	if strings.TrimSpace(cfg.Node.JoinerKey) == "" {
		return fmt.Errorf("lightmesh config missing joiner_key")
	}
	switch cfg.Storage.Backend {
	case daemon.BackendFile:
		if strings.TrimSpace(cfg.Storage.Dir) == "" {
			return fmt.Errorf("storage_dir is required for the file backend")
		}
	case daemon.BackendMemory:
	case daemon.BackendEtcd:
		if len(cfg.Storage.Etcd.Endpoints) == 0 {
			return fmt.Errorf("etcd_endpoints is required for the etcd backend")
		}
	default:
		return fmt.Errorf("%w: %q", daemon.ErrUnknownBackend, cfg.Storage.Backend)
	}
	if cfg.Node.Network.Role == store.RoleLeader && cfg.Node.NetworkKey != "" && len(cfg.Node.NetworkKey) != 32 {
		return fmt.Errorf("network_key must be 32 hex characters")
	}
	return nil
}

// Provision loads the config at path and writes its network section to the
// file store under dir, replacing any persisted network.toml. An empty dir
// uses the config's storage_dir.
func Provision(path, dir string) (store.NetworkConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return store.NetworkConfig{}, err
	}
	if strings.TrimSpace(dir) == "" {
		dir = cfg.Storage.Dir
	}
	fs, err := store.NewFileStore(dir)
	if err != nil {
		return store.NetworkConfig{}, err
	}
	if err := fs.SaveConfig(cfg.Node.Network); err != nil {
		return store.NetworkConfig{}, err
	}
	return cfg.Node.Network, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
