package liveness

import (
	"sort"
	"time"
)

// Roster is the leader's view of joiner heartbeats keyed by address.
type Roster struct {
	cfg       Config
	lastSeen  map[string]time.Time
	lastSweep time.Time
}

func NewRoster(cfg Config) *Roster {
	return &Roster{
		cfg:      cfg,
		lastSeen: make(map[string]time.Time),
	}
}

// Observe records a heartbeat from addr. It reports true when addr was
// unknown or silent for longer than RejoinAfter.
func (r *Roster) Observe(addr string, now time.Time) bool {
	prev, ok := r.lastSeen[addr]
	r.lastSeen[addr] = now
	return !ok || now.Sub(prev) > r.cfg.RejoinAfter
}

func (r *Roster) LastSeen(addr string) (time.Time, bool) {
	at, ok := r.lastSeen[addr]
	return at, ok
}

func (r *Roster) Forget(addr string) {
	delete(r.lastSeen, addr)
}

// SweepDue reports whether SweepInterval elapsed since the last sweep and
// arms the next one when it did.
func (r *Roster) SweepDue(now time.Time) bool {
	if !r.lastSweep.IsZero() && now.Sub(r.lastSweep) < r.cfg.SweepInterval {
		return false
	}
	r.lastSweep = now
	return true
}

// ResetSweep restarts the sweep cadence from now.
func (r *Roster) ResetSweep(now time.Time) {
	r.lastSweep = now
}

// Sweep removes addresses silent for longer than DeadAfter and returns them
// in sorted order.
func (r *Roster) Sweep(now time.Time) []string {
	var dead []string
	for addr, at := range r.lastSeen {
		if now.Sub(at) > r.cfg.DeadAfter {
			dead = append(dead, addr)
		}
	}
	for _, addr := range dead {
		delete(r.lastSeen, addr)
	}
	sort.Strings(dead)
	return dead
}

func (r *Roster) Len() int {
	return len(r.lastSeen)
}
