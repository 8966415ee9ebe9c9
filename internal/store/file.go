package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	networkFile = "config/network.toml"
	leaderFile  = "cache/leader.toml"
	joinersFile = "cache/joiners.csv"
)

type networkDoc struct {
	Identity struct {
		Role string `toml:"role"`
	} `toml:"identity"`
	Network struct {
		Channel         int    `toml:"channel"`
		MeshLocalPrefix string `toml:"meshlocalprefix"`
		PanID           string `toml:"panid"`
	} `toml:"network"`
}

type leaderDoc struct {
	LeaderIP   string `toml:"leader_ip"`
	LeaderHash string `toml:"leader_hash"`
}

// FileStore keeps state under one directory:
//
//	config/network.toml  node role and network parameters
//	cache/leader.toml    joiner's leader address and hash
//	cache/joiners.csv    leader's paired joiners, one "address,hash" per line
type FileStore struct {
	mu       sync.Mutex
	dir      string
	defaults NetworkConfig
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: empty storage dir", ErrStorageUnavailable)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &FileStore{dir: dir, defaults: DefaultNetworkConfig()}, nil
}

// WithDefaults sets the network config written on first load.
func (s *FileStore) WithDefaults(cfg NetworkConfig) *FileStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults = cfg
	return s
}

func (s *FileStore) path(rel string) string {
	return filepath.Join(s.dir, filepath.FromSlash(rel))
}

// LoadConfig reads network.toml, writing and returning the defaults when the
// file does not exist yet.
func (s *FileStore) LoadConfig() (NetworkConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path(networkFile))
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", s.path(networkFile)).Msg("store.FileStore network config missing, creating default")
		cfg := s.defaults
		if err := s.writeNetwork(cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	if err != nil {
		return NetworkConfig{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	var doc networkDoc
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return NetworkConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg := NetworkConfig{
		Role:          strings.ToLower(strings.TrimSpace(doc.Identity.Role)),
		Channel:       doc.Network.Channel,
		AddressPrefix: strings.TrimSpace(doc.Network.MeshLocalPrefix),
		NetworkID:     strings.TrimSpace(doc.Network.PanID),
	}
	if err := cfg.Validate(); err != nil {
		return NetworkConfig{}, err
	}
	return cfg, nil
}

// SaveConfig replaces network.toml.
func (s *FileStore) SaveConfig(cfg NetworkConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeNetwork(cfg)
}

func (s *FileStore) writeNetwork(cfg NetworkConfig) error {
	var doc networkDoc
	doc.Identity.Role = cfg.Role
	doc.Network.Channel = cfg.Channel
	doc.Network.MeshLocalPrefix = cfg.AddressPrefix
	doc.Network.PanID = cfg.NetworkID
	raw, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode network config: %w", err)
	}
	return s.writeFile(networkFile, raw)
}

func (s *FileStore) SaveLeaderInfo(info LeaderInfo) error {
	raw, err := toml.Marshal(leaderDoc{LeaderIP: info.Address, LeaderHash: info.Hash.String()})
	if err != nil {
		return fmt.Errorf("store: encode leader info: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFile(leaderFile, raw)
}

func (s *FileStore) LoadLeaderInfo() (LeaderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path(leaderFile))
	if errors.Is(err, fs.ErrNotExist) {
		return LeaderInfo{}, ErrNotFound
	}
	if err != nil {
		return LeaderInfo{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	var doc leaderDoc
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return LeaderInfo{}, fmt.Errorf("store: decode leader info: %w", err)
	}
	if strings.TrimSpace(doc.LeaderIP) == "" {
		return LeaderInfo{}, ErrNotFound
	}
	hash, err := identity.Parse(doc.LeaderHash)
	if err != nil {
		return LeaderInfo{}, fmt.Errorf("store: decode leader info: %w", err)
	}
	return LeaderInfo{Address: strings.TrimSpace(doc.LeaderIP), Hash: hash}, nil
}

func (s *FileStore) AppendJoiner(entry JoinerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readJoiners()
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.Hash == entry.Hash {
			return nil
		}
	}

	path := s.path(joinersFile)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{entry.Address, entry.Hash.String()}); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	log.Info().Str("addr", entry.Address).Str("hash", entry.Hash.String()).Msg("store.FileStore joiner added")
	return nil
}

func (s *FileStore) ListJoiners() ([]JoinerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readJoiners()
}

func (s *FileStore) readJoiners() ([]JoinerEntry, error) {
	f, err := os.Open(s.path(joinersFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var out []JoinerEntry
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if len(rec) < 2 {
			continue
		}
		hash, err := identity.Parse(rec[1])
		if err != nil {
			log.Warn().Err(err).Str("line", strings.Join(rec, ",")).Msg("store.FileStore skipping bad joiner line")
			continue
		}
		out = append(out, JoinerEntry{Address: strings.TrimSpace(rec[0]), Hash: hash})
	}
	return out, nil
}

// Wipe removes leader info and joiners. network.toml is kept so the node
// boots in the same role; a missing one is recreated from the configured
// defaults.
func (s *FileStore) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rel := range []string{leaderFile, joinersFile} {
		if err := os.Remove(s.path(rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}
	if _, err := os.Stat(s.path(networkFile)); errors.Is(err, fs.ErrNotExist) {
		return s.writeNetwork(s.defaults)
	}
	return nil
}

func (s *FileStore) writeFile(rel string, raw []byte) error {
	path := s.path(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
