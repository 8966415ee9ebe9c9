package liveness

import (
	"testing"
	"time"

	"github.com/danmuck/lightmesh/internal/testutil/testlog"
)

func TestRosterObserveDetectsRejoin(t *testing.T) {
	testlog.Start(t)
	r := NewRoster(DefaultConfig())
	t0 := time.Unix(1700000000, 0)

	if !r.Observe("fd00::2", t0) {
		t.Fatalf("first heartbeat from an unseen address is a rejoin")
	}
	if r.Observe("fd00::2", t0.Add(5*time.Second)) {
		t.Fatalf("regular heartbeat flagged as rejoin")
	}
	if r.Observe("fd00::2", t0.Add(15*time.Second)) {
		t.Fatalf("10s gap is not above the threshold")
	}
	if !r.Observe("fd00::2", t0.Add(25*time.Second+time.Millisecond)) {
		t.Fatalf("gap above 10s must be a rejoin")
	}
	at, ok := r.LastSeen("fd00::2")
	if !ok || !at.Equal(t0.Add(25*time.Second+time.Millisecond)) {
		t.Fatalf("last seen got=%v ok=%v", at, ok)
	}
}

func TestRosterSweepEvictsSilent(t *testing.T) {
	testlog.Start(t)
	r := NewRoster(DefaultConfig())
	t0 := time.Unix(1700000000, 0)
	r.Observe("fd00::2", t0)
	r.Observe("fd00::3", t0.Add(10*time.Second))

	if dead := r.Sweep(t0.Add(15 * time.Second)); len(dead) != 0 {
		t.Fatalf("15s of silence is not above the threshold: %v", dead)
	}
	dead := r.Sweep(t0.Add(16 * time.Second))
	if len(dead) != 1 || dead[0] != "fd00::2" {
		t.Fatalf("unexpected evictions: %v", dead)
	}
	if _, ok := r.LastSeen("fd00::2"); ok {
		t.Fatalf("evicted address still tracked")
	}
	if r.Len() != 1 {
		t.Fatalf("roster len got=%d", r.Len())
	}
}

func TestRosterSweepCadence(t *testing.T) {
	testlog.Start(t)
	r := NewRoster(DefaultConfig())
	t0 := time.Unix(1700000000, 0)
	r.ResetSweep(t0)
	if r.SweepDue(t0.Add(4 * time.Second)) {
		t.Fatalf("sweep due too early")
	}
	if !r.SweepDue(t0.Add(5 * time.Second)) {
		t.Fatalf("sweep should be due after 5s")
	}
	if r.SweepDue(t0.Add(6 * time.Second)) {
		t.Fatalf("sweep cadence not re-armed")
	}
}

func TestLeaderWatchHeartbeatAndSilence(t *testing.T) {
	testlog.Start(t)
	w := NewLeaderWatch(DefaultConfig())
	t0 := time.Unix(1700000000, 0)
	w.Reset(t0)

	if !w.HeartbeatDue(t0) {
		t.Fatalf("first heartbeat should go out immediately")
	}
	w.MarkSent(t0)
	if w.HeartbeatDue(t0.Add(4 * time.Second)) {
		t.Fatalf("heartbeat due before interval")
	}
	if !w.HeartbeatDue(t0.Add(5 * time.Second)) {
		t.Fatalf("heartbeat should be due after interval")
	}

	w.RecordEcho(t0.Add(5 * time.Second))
	if w.Silent(t0.Add(20 * time.Second)) {
		t.Fatalf("15s since echo is not above the threshold")
	}
	if !w.Silent(t0.Add(21 * time.Second)) {
		t.Fatalf("16s without echo should be silent")
	}
}
