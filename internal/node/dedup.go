package node

import (
	"strconv"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

type seenKey struct {
	src string
	id  uint16
}

// seenGeneration pairs a bloom filter with the exact record it fronts. A
// filter miss is definitive; a hit is confirmed against pairs.
type seenGeneration struct {
	filter *bloom.BloomFilter
	pairs  map[seenKey]string
}

func newSeenGeneration(cfg DedupConfig) *seenGeneration {
	return &seenGeneration{
		filter: bloom.NewWithEstimates(cfg.ExpectedElements, cfg.FalsePositiveRate),
		pairs:  make(map[seenKey]string),
	}
}

func (g *seenGeneration) has(k seenKey, raw []byte, payload string) bool {
	if !g.filter.Test(raw) {
		return false
	}
	prev, ok := g.pairs[k]
	return ok && prev == payload
}

// seenFilter remembers delivered reliable messages by (source, message id)
// and payload. A copy is a duplicate only when both match exactly, so a
// restarted peer reusing an id with a new payload is still delivered. Two
// generations rotate every window.
type seenFilter struct {
	cfg       DedupConfig
	current   *seenGeneration
	previous  *seenGeneration
	rotatedAt time.Time
}

func newSeenFilter(cfg DedupConfig) *seenFilter {
	return &seenFilter{
		cfg:      cfg,
		current:  newSeenGeneration(cfg),
		previous: newSeenGeneration(cfg),
	}
}

// Seen reports whether the message was recorded recently and records it.
func (f *seenFilter) Seen(src string, id uint16, payload []byte, now time.Time) bool {
	f.rotate(now)
	k := seenKey{src: src, id: id}
	raw := []byte(src + "#" + strconv.Itoa(int(id)))
	body := string(payload)
	if f.current.has(k, raw, body) || f.previous.has(k, raw, body) {
		return true
	}
	f.current.filter.Add(raw)
	f.current.pairs[k] = body
	return false
}

func (f *seenFilter) rotate(now time.Time) {
	if f.rotatedAt.IsZero() {
		f.rotatedAt = now
		return
	}
	if now.Sub(f.rotatedAt) < f.cfg.Window {
		return
	}
	f.previous = f.current
	f.current = newSeenGeneration(f.cfg)
	f.rotatedAt = now
}

func (f *seenFilter) Reset() {
	f.current = newSeenGeneration(f.cfg)
	f.previous = newSeenGeneration(f.cfg)
	f.rotatedAt = time.Time{}
}
