package liveness

import "time"

// LeaderWatch is the joiner's view of its leader.
type LeaderWatch struct {
	cfg      Config
	lastSent time.Time
	lastEcho time.Time
	sent     bool
}

func NewLeaderWatch(cfg Config) *LeaderWatch {
	return &LeaderWatch{cfg: cfg}
}

// Reset starts a fresh watch as if an echo arrived at now.
func (w *LeaderWatch) Reset(now time.Time) {
	w.lastEcho = now
	w.lastSent = time.Time{}
	w.sent = false
}

// HeartbeatDue reports whether the next heartbeat should go out.
func (w *LeaderWatch) HeartbeatDue(now time.Time) bool {
	return !w.sent || now.Sub(w.lastSent) >= w.cfg.HeartbeatInterval
}

func (w *LeaderWatch) MarkSent(now time.Time) {
	w.lastSent = now
	w.sent = true
}

func (w *LeaderWatch) RecordEcho(now time.Time) {
	w.lastEcho = now
}

func (w *LeaderWatch) LastEcho() time.Time {
	return w.lastEcho
}

// Silent reports whether no echo arrived for longer than DeadAfter.
func (w *LeaderWatch) Silent(now time.Time) bool {
	return now.Sub(w.lastEcho) > w.cfg.DeadAfter
}
