package node

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/danmuck/lightmesh/internal/observability"
	"github.com/danmuck/lightmesh/internal/protocol"
	"github.com/danmuck/lightmesh/internal/store"
	"github.com/rs/zerolog/log"
)

func (n *Node) initJoiner(now time.Time) {
	info, err := n.store.LoadLeaderInfo()
	switch {
	case err == nil && info.Address != "":
		n.leader = info
		n.hasLeader = true
		log.Info().Str("leader", info.Address).Str("hash", info.Hash.String()).Msg("node leader restored")
		n.transition(StateJoinerReconnect, now)
	case err == nil || errors.Is(err, store.ErrNotFound):
		n.transition(StateStandby, now)
	default:
		observability.RecordStorageFailure("load_leader")
		log.Warn().Err(err).Msg("node load leader failed")
		n.transition(StateStandby, now)
	}
}

func (n *Node) joinerDataset() []string {
	return []string{
		"dataset clear",
		"dataset panid 0xffff",
		fmt.Sprintf("dataset channel %d", n.cfg.Network.Channel),
		"dataset commit active",
		"ifconfig up",
		"udp open",
		fmt.Sprintf("udp bind :: %d", n.cfg.ListenPort),
		"joiner start " + n.cfg.JoinerKey,
	}
}

func (n *Node) handleJoinerStart(now time.Time) {
	if n.once() {
		n.run("Done", n.joinerDataset()...)
	}
	if n.elapsed(now) >= n.cfg.Timeouts.JoinerSettle {
		n.run("Done", "thread start")
		n.transition(StateJoinerScan, now)
	}
}

func (n *Node) handleJoinerScan(now time.Time) {
	if n.scratch.poll.due(now, n.cfg.Timeouts.JoinerScanPoll) {
		if resp, ok := n.query("joiner state"); ok && joinSucceeded(resp) {
			log.Info().Msg("node joined mesh")
			n.transition(StateJoinerWaitBroadcast, now)
			return
		}
	}
	if n.elapsed(now) > n.cfg.Timeouts.JoinerScan {
		log.Warn().Msg("node join timed out")
		n.transition(StateStandby, now)
	}
}

func joinSucceeded(resp string) bool {
	lower := strings.ToLower(resp)
	if strings.Contains(lower, "join failed") {
		return false
	}
	return strings.Contains(lower, "success") || strings.Contains(lower, "idle")
}

func (n *Node) handleJoinerWaitBroadcast(now time.Time) {
	if n.elapsed(now) > n.cfg.Timeouts.WaitBroadcast {
		log.Warn().Msg("node no pairing broadcast heard")
		n.transition(StateStandby, now)
	}
}

func (n *Node) handleJoinerWaitAck(now time.Time) {
	if n.elapsed(now) > n.cfg.Timeouts.WaitAck {
		log.Warn().Str("candidate", n.scratch.candidate).Msg("node pairing ack timed out")
		n.transition(StateStandby, now)
	}
}

func (n *Node) handleJoinerPaired(now time.Time) {
	if n.once() {
		n.watch.Reset(now)
	}
	if !n.hasLeader {
		log.Warn().Msg("node paired without leader")
		n.transition(StateStandby, now)
		return
	}
	if n.watch.HeartbeatDue(now) {
		n.sendControl(n.leader.Address, protocol.AckNone, protocol.TypeHeartbeat, nil)
		n.watch.MarkSent(now)
	}
	if n.cfg.RouterEligible && !n.scratch.escalated && n.elapsed(now) >= n.cfg.Timeouts.RouterEscalation {
		n.scratch.escalated = true
		n.run("Done", "routereligible enable")
	}
	if n.watch.Silent(now) {
		log.Warn().Str("leader", n.leader.Address).Time("last_echo", n.watch.LastEcho()).Msg("node leader silent")
		n.transition(StateJoinerSeekingLeader, now)
	}
}

func (n *Node) handleJoinerReconnect(now time.Time) {
	if n.once() {
		n.run("Done",
			"dataset commit active",
			"ifconfig up",
			"thread start",
			"udp open",
			fmt.Sprintf("udp bind :: %d", n.cfg.ListenPort),
		)
	}
	if n.scratch.poll.due(now, n.cfg.Timeouts.ReconnectPoll) {
		if resp, ok := n.query("state"); ok && attached(resp) {
			if !n.hasLeader {
				n.transition(StateStandby, now)
				return
			}
			n.sendControl(n.leader.Address, protocol.AckRequest, protocol.TypeReconnect, n.cfg.Identity.Bytes())
			log.Info().Str("leader", n.leader.Address).Msg("node reattached, notified leader")
			n.transition(StateJoinerPaired, now)
			return
		}
	}
	if n.elapsed(now) > n.cfg.Timeouts.Reconnect {
		log.Warn().Msg("node reconnect timed out")
		n.transition(StateStandby, now)
	}
}

func attached(resp string) bool {
	return strings.Contains(resp, "child") || strings.Contains(resp, "router") || strings.Contains(resp, "leader")
}

func (n *Node) handleJoinerSeekingLeader(now time.Time) {
	if n.scratch.broadcast.due(now, n.cfg.Timeouts.SeekBroadcast) {
		n.sendControl(n.cfg.Multicast, protocol.AckRequest, protocol.TypeReconnect, n.cfg.Identity.Bytes())
		log.Debug().Msg("node reconnect broadcast")
	}
	if n.elapsed(now) > n.cfg.Timeouts.Seeking {
		log.Warn().Msg("node leader not found, reattaching")
		n.transition(StateJoinerReconnect, now)
	}
}

// adoptLeader records addr as the leader and persists it. Storage failures
// do not block pairing.
func (n *Node) adoptLeader(addr string, hash identity.Hash) {
	changed := !n.hasLeader || n.leader.Address != addr || n.leader.Hash != hash
	n.leader = store.LeaderInfo{Address: addr, Hash: hash}
	n.hasLeader = true
	if !changed {
		return
	}
	if err := n.store.SaveLeaderInfo(n.leader); err != nil {
		observability.RecordStorageFailure("save_leader")
		log.Warn().Err(err).Str("leader", addr).Msg("node persist leader failed")
	}
}
