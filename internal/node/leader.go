package node

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/danmuck/lightmesh/internal/observability"
	"github.com/danmuck/lightmesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (n *Node) handleInit(now time.Time) {
	if n.isLeader() {
		n.initLeader(now)
		return
	}
	n.initJoiner(now)
}

func (n *Node) initLeader(now time.Time) {
	entries, err := n.store.ListJoiners()
	if err != nil {
		observability.RecordStorageFailure("list_joiners")
		log.Warn().Err(err).Msg("node load joiners failed")
	} else {
		n.joiners.Remember(entries)
		log.Info().Int("known", len(entries)).Msg("node joiners loaded")
	}
	n.run("Done", n.leaderDataset()...)
	n.transition(StateLeaderWaitNetwork, now)
}

func (n *Node) leaderDataset() []string {
	netcfg := n.cfg.Network
	cmds := []string{
		"dataset init new",
		fmt.Sprintf("dataset channel %d", netcfg.Channel),
		"dataset panid " + netcfg.NetworkID,
	}
	if n.cfg.NetworkName != "" {
		cmds = append(cmds, "dataset networkname "+n.cfg.NetworkName)
	}
	if n.cfg.NetworkKey != "" {
		cmds = append(cmds, "dataset networkkey "+n.cfg.NetworkKey)
	}
	return append(cmds,
		"dataset meshlocalprefix "+netcfg.AddressPrefix,
		"dataset commit active",
		"ifconfig up",
		"thread start",
	)
}

func (n *Node) openListener() {
	n.run("Done", "udp open", fmt.Sprintf("udp bind :: %d", n.cfg.ListenPort))
}

func (n *Node) handleLeaderWaitNetwork(now time.Time) {
	if n.scratch.poll.due(now, n.cfg.Timeouts.NetworkPoll) {
		resp, ok := n.query("state")
		if ok && (strings.Contains(resp, "leader") || strings.Contains(resp, "router")) {
			log.Info().Str("role", strings.TrimSpace(firstLine(resp))).Msg("node network attached")
			n.openListener()
			n.roster.ResetSweep(now)
			n.transition(StateStandby, now)
			return
		}
		log.Debug().Str("resp", strings.TrimSpace(resp)).Msg("node not leader yet")
	}
	if n.elapsed(now) > n.cfg.Timeouts.NetworkAttach {
		log.Error().Err(ErrNetworkAttachTimeout).Dur("budget", n.cfg.Timeouts.NetworkAttach).Msg("node giving up")
		n.transition(StateError, now)
	}
}

func (n *Node) handleStandby(now time.Time) {
	if !n.isLeader() {
		if n.once() {
			n.run("Done", "thread stop")
		}
		return
	}
	if n.roster.SweepDue(now) {
		n.sweep(now)
	}
}

// sweep evicts joiners whose heartbeats stopped and fails their pending
// deliveries.
func (n *Node) sweep(now time.Time) {
	for _, addr := range n.roster.Sweep(now) {
		if rec, ok := n.joiners.Remove(addr); ok {
			log.Info().Str("addr", addr).Str("hash", rec.Hash.String()).Msg("node joiner silent, evicted")
			observability.RecordEviction("silent")
		}
		n.purge(addr)
	}
	for _, rec := range n.joiners.EvictStale(now, n.cfg.Liveness.DeadAfter) {
		n.roster.Forget(rec.Address)
		n.purge(rec.Address)
	}
}

func (n *Node) purge(addr string) {
	if purged := n.engine.PurgeDestination(addr); purged > 0 {
		log.Info().Str("addr", addr).Int("purged", purged).Msg("node pending deliveries purged")
	}
}

func (n *Node) handleCommissionerStart(now time.Time) {
	if n.once() {
		n.run("Commissioner: active", "commissioner start")
		n.run("Done", "commissioner joiner add * "+n.cfg.JoinerKey)
	}
	if n.elapsed(now) >= n.cfg.Timeouts.CommissionerSettle {
		n.transition(StateCommissionerActive, now)
	}
}

func (n *Node) handleCommissionerActive(now time.Time) {
	if n.scratch.broadcast.due(now, n.cfg.Timeouts.PairingBroadcast) {
		n.sendControl(n.cfg.Multicast, protocol.AckNone, protocol.TypePairing, nil)
		log.Debug().Msg("node pairing broadcast")
	}
	if n.elapsed(now) > n.cfg.Timeouts.Commissioning {
		log.Info().Msg("node commissioning window closed")
		n.run("Done", "commissioner stop")
		n.transition(StateStandby, now)
	}
}

// acceptJoiner registers a joiner that answered the pairing broadcast and
// closes the commissioning window.
func (n *Node) acceptJoiner(addr string, port uint16, hash identity.Hash, now time.Time) {
	rec, isNew := n.joiners.Register(addr, port, hash, now)
	n.roster.Observe(addr, now)
	n.sendControl(addr, protocol.AckResponse, protocol.TypePairing, n.cfg.Identity.Bytes())
	log.Info().Str("addr", rec.Address).Str("hash", hash.String()).Bool("new", isNew).Msg("node joiner paired")
	n.observer.OnPeerJoined(addr, hash)
	n.run("Done", "commissioner stop")
	n.transition(StateStandby, now)
}

// acceptReconnect re-registers a previously paired joiner at its new address.
func (n *Node) acceptReconnect(addr string, port uint16, hash identity.Hash, now time.Time) bool {
	if !n.joiners.Known(hash) {
		log.Warn().Str("addr", addr).Str("hash", hash.String()).Msg("node reconnect from unknown joiner")
		return false
	}
	if prev, ok := n.joiners.LookupHash(hash); ok && prev.Address != addr {
		n.roster.Forget(prev.Address)
		n.purge(prev.Address)
	}
	n.joiners.Register(addr, port, hash, now)
	n.roster.Observe(addr, now)
	n.sendControl(addr, protocol.AckResponse, protocol.TypeReconnect, n.cfg.Identity.Bytes())
	log.Info().Str("addr", addr).Str("hash", hash.String()).Msg("node joiner reconnected")
	n.observer.OnPeerRejoined(addr, hash)
	return true
}

func firstLine(text string) string {
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		return text[:i]
	}
	return text
}
