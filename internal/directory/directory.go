// Package directory holds the leader's registry of paired joiners.
//
// Records are keyed by address and deduplicated by identity hash. The
// registry has a fixed capacity; registering a new joiner into a full
// directory evicts the record with the oldest heartbeat. Every registration
// is mirrored to a Persister with append-if-absent semantics.
package directory

import (
	"sort"
	"time"

	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/danmuck/lightmesh/internal/observability"
	"github.com/danmuck/lightmesh/internal/store"
	"github.com/rs/zerolog/log"
)

const DefaultMaxJoiners = 512

// Persister mirrors registrations to durable storage.
type Persister interface {
	AppendJoiner(entry store.JoinerEntry) error
}

// Record is one paired joiner.
type Record struct {
	Address       string
	Port          uint16
	Hash          identity.Hash
	JoinedAt      time.Time
	LastHeartbeat time.Time
}

type Directory struct {
	max     int
	persist Persister
	byAddr  map[string]*Record
	byHash  map[identity.Hash]*Record
	// known holds hashes paired at some point, including ones evicted from
	// memory or loaded from storage.
	known map[identity.Hash]string
}

func New(max int, persist Persister) *Directory {
	if max <= 0 {
		max = DefaultMaxJoiners
	}
	return &Directory{
		max:     max,
		persist: persist,
		byAddr:  make(map[string]*Record),
		byHash:  make(map[identity.Hash]*Record),
		known:   make(map[identity.Hash]string),
	}
}

// Register inserts or refreshes the joiner with hash at addr. A known hash
// moves to the new address; a different hash holding addr is replaced.
// Storage failures are logged and do not fail the registration.
func (d *Directory) Register(addr string, port uint16, hash identity.Hash, now time.Time) (Record, bool) {
	if holder, ok := d.byAddr[addr]; ok && holder.Hash != hash {
		log.Info().Str("addr", addr).Str("old", holder.Hash.String()).Str("new", hash.String()).
			Msg("directory address reassigned")
		d.drop(holder)
		observability.RecordEviction("reassigned")
	}

	rec, exists := d.byHash[hash]
	if exists {
		if rec.Address != addr {
			log.Info().Str("hash", hash.String()).Str("from", rec.Address).Str("to", addr).
				Msg("directory joiner moved")
			delete(d.byAddr, rec.Address)
			rec.Address = addr
			d.byAddr[addr] = rec
		}
		rec.Port = port
		rec.LastHeartbeat = now
	} else {
		if len(d.byHash) >= d.max {
			d.evictStalest()
		}
		rec = &Record{Address: addr, Port: port, Hash: hash, JoinedAt: now, LastHeartbeat: now}
		d.byAddr[addr] = rec
		d.byHash[hash] = rec
	}
	d.known[hash] = addr
	observability.SetJoiners(len(d.byHash))

	if d.persist != nil {
		if err := d.persist.AppendJoiner(store.JoinerEntry{Address: addr, Hash: hash}); err != nil {
			log.Warn().Err(err).Str("addr", addr).Str("hash", hash.String()).Msg("directory persist joiner failed")
		}
	}
	return *rec, !exists
}

func (d *Directory) evictStalest() {
	var victim *Record
	for _, rec := range d.byHash {
		if victim == nil || rec.LastHeartbeat.Before(victim.LastHeartbeat) ||
			(rec.LastHeartbeat.Equal(victim.LastHeartbeat) && rec.Address < victim.Address) {
			victim = rec
		}
	}
	if victim == nil {
		return
	}
	log.Warn().Str("addr", victim.Address).Str("hash", victim.Hash.String()).Int("capacity", d.max).
		Msg("directory full, evicting stalest joiner")
	d.drop(victim)
	observability.RecordEviction("capacity")
}

func (d *Directory) drop(rec *Record) {
	delete(d.byAddr, rec.Address)
	delete(d.byHash, rec.Hash)
}

func (d *Directory) Lookup(addr string) (Record, bool) {
	rec, ok := d.byAddr[addr]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (d *Directory) LookupHash(hash identity.Hash) (Record, bool) {
	rec, ok := d.byHash[hash]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Touch refreshes the heartbeat time of addr.
func (d *Directory) Touch(addr string, now time.Time) bool {
	rec, ok := d.byAddr[addr]
	if !ok {
		return false
	}
	rec.LastHeartbeat = now
	return true
}

// EvictStale removes records whose last heartbeat is older than maxAge.
func (d *Directory) EvictStale(now time.Time, maxAge time.Duration) []Record {
	var out []Record
	for _, rec := range d.byHash {
		if now.Sub(rec.LastHeartbeat) > maxAge {
			out = append(out, *rec)
		}
	}
	for _, rec := range out {
		d.drop(d.byHash[rec.Hash])
		observability.RecordEviction("stale")
	}
	if len(out) > 0 {
		observability.SetJoiners(len(d.byHash))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (d *Directory) Remove(addr string) (Record, bool) {
	rec, ok := d.byAddr[addr]
	if !ok {
		return Record{}, false
	}
	d.drop(rec)
	observability.SetJoiners(len(d.byHash))
	return *rec, true
}

// All returns a snapshot ordered by address.
func (d *Directory) All() []Record {
	out := make([]Record, 0, len(d.byAddr))
	for _, rec := range d.byAddr {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (d *Directory) Len() int {
	return len(d.byHash)
}

// Remember marks persisted joiners as known without making them live.
func (d *Directory) Remember(entries []store.JoinerEntry) {
	for _, e := range entries {
		d.known[e.Hash] = e.Address
	}
}

// Known reports whether hash was ever paired with this leader.
func (d *Directory) Known(hash identity.Hash) bool {
	_, ok := d.known[hash]
	return ok
}

// Reset forgets every record and known hash.
func (d *Directory) Reset() {
	d.byAddr = make(map[string]*Record)
	d.byHash = make(map[identity.Hash]*Record)
	d.known = make(map[identity.Hash]string)
	observability.SetJoiners(0)
}
