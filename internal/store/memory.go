package store

import "sync"

// MemoryStore keeps state for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	config  NetworkConfig
	leader  *LeaderInfo
	joiners []JoinerEntry
}

func NewMemoryStore(cfg NetworkConfig) *MemoryStore {
	return &MemoryStore{config: cfg}
}

func (s *MemoryStore) LoadConfig() (NetworkConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config, nil
}

func (s *MemoryStore) SaveLeaderInfo(info LeaderInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader = &info
	return nil
}

func (s *MemoryStore) LoadLeaderInfo() (LeaderInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.leader == nil {
		return LeaderInfo{}, ErrNotFound
	}
	return *s.leader, nil
}

func (s *MemoryStore) AppendJoiner(entry JoinerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.joiners {
		if e.Hash == entry.Hash {
			return nil
		}
	}
	s.joiners = append(s.joiners, entry)
	return nil
}

func (s *MemoryStore) ListJoiners() ([]JoinerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]JoinerEntry(nil), s.joiners...), nil
}

// Wipe clears leader info and joiners. The network config survives, as a
// wiped file store recreates the same defaults.
func (s *MemoryStore) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leader = nil
	s.joiners = nil
	return nil
}
