package node

import (
	"time"

	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/danmuck/lightmesh/internal/observability"
	"github.com/danmuck/lightmesh/internal/protocol"
	"github.com/danmuck/lightmesh/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/yasserelgammal/rate-limiter/limiter"
	ratestore "github.com/yasserelgammal/rate-limiter/store"
)

func newInboundLimiter(cfg RateLimitConfig) (*limiter.TokenBucket, error) {
	if cfg.PerSecond <= 0 {
		return nil, nil
	}
	burst := cfg.Burst
	if burst < cfg.PerSecond {
		burst = cfg.PerSecond
	}
	return limiter.NewTokenBucket(
		limiter.Config{
			Rate:     int64(cfg.PerSecond),
			Duration: time.Second,
			Burst:    int64(burst),
		},
		ratestore.NewMemoryStore(time.Minute),
	)
}

func (n *Node) dispatch(now time.Time) {
	for _, line := range n.transport.Poll(n.cfg.PollWait) {
		n.receive(line, now)
	}
}

func drop(reason, line string, err error) {
	observability.RecordDroppedDatagram(reason)
	log.Debug().Err(err).Str("reason", reason).Str("line", line).Msg("node datagram dropped")
}

func (n *Node) receive(line string, now time.Time) {
	dg, err := transport.ParseDatagram(line)
	if err != nil {
		drop("unparsable", line, err)
		return
	}
	if n.limiter != nil && !n.limiter.Allow(dg.Source) {
		drop("rate_limited", line, nil)
		return
	}
	msg, err := protocol.DecodeDatagram(dg.Hex)
	if err != nil {
		drop("malformed", line, err)
		return
	}
	if err := msg.Validate(); err != nil {
		drop("invalid", line, err)
		return
	}
	observability.RecordDatagram("in", msg.Type.String(), msg.Ack.String())
	log.Debug().Str("addr", dg.Source).Str("msg", msg.String()).Str("state", n.state.String()).Msg("node receive")

	port := dg.Port
	if port == 0 {
		port = n.cfg.ListenPort
	}
	switch msg.Type {
	case protocol.TypeNormal:
		n.receiveNormal(dg.Source, msg, now)
	case protocol.TypePairing:
		n.receivePairing(dg.Source, port, msg, now)
	case protocol.TypeReconnect:
		n.receiveReconnect(dg.Source, port, msg, now)
	case protocol.TypeHeartbeat:
		n.receiveHeartbeat(dg.Source, msg, now)
	}
}

// receiveNormal acknowledges every reliable copy but delivers each
// (source, id, payload) once.
func (n *Node) receiveNormal(src string, msg protocol.Message, now time.Time) {
	switch msg.Ack {
	case protocol.AckRequest:
		if err := n.SendDatagram(src, protocol.NewAcknowledgment(msg.MessageID)); err != nil {
			log.Warn().Err(err).Str("addr", src).Uint16("message_id", msg.MessageID).Msg("node ack send failed")
		}
		if n.seen.Seen(src, msg.MessageID, msg.Payload, now) {
			observability.RecordDroppedDatagram("duplicate")
			log.Debug().Str("addr", src).Uint16("message_id", msg.MessageID).Msg("node duplicate suppressed")
			return
		}
		n.observer.OnReceive(src, true, msg.Payload)
	case protocol.AckResponse:
		n.engine.Acknowledge(msg.MessageID)
	default:
		n.observer.OnReceive(src, false, msg.Payload)
	}
}

func peerHash(src string, payload []byte) (identity.Hash, bool) {
	hash, err := identity.FromBytes(payload)
	if err != nil {
		drop("bad_identity", src, err)
		return 0, false
	}
	return hash, true
}

func (n *Node) receivePairing(src string, port uint16, msg protocol.Message, now time.Time) {
	switch {
	case n.isLeader() && n.state == StateCommissionerActive && msg.Ack == protocol.AckRequest:
		if hash, ok := peerHash(src, msg.Payload); ok {
			n.acceptJoiner(src, port, hash, now)
		}
	case !n.isLeader() && n.state == StateJoinerWaitBroadcast && msg.Ack == protocol.AckNone:
		n.sendControl(src, protocol.AckRequest, protocol.TypePairing, n.cfg.Identity.Bytes())
		log.Info().Str("leader", src).Msg("node answered pairing broadcast")
		n.transition(StateJoinerWaitAck, now)
		n.scratch.candidate = src
	case !n.isLeader() && n.state == StateJoinerWaitAck && msg.Ack == protocol.AckResponse:
		hash, ok := peerHash(src, msg.Payload)
		if !ok {
			return
		}
		if n.scratch.candidate != "" && n.scratch.candidate != src {
			log.Warn().Str("candidate", n.scratch.candidate).Str("addr", src).Msg("node pairing ack from other address")
		}
		n.adoptLeader(src, hash)
		log.Info().Str("leader", src).Str("hash", hash.String()).Msg("node paired")
		n.observer.OnPeerJoined(src, hash)
		n.transition(StateJoinerPaired, now)
	default:
		log.Debug().Str("addr", src).Str("ack", msg.Ack.String()).Str("state", n.state.String()).Msg("node pairing ignored")
	}
}

func (n *Node) receiveReconnect(src string, port uint16, msg protocol.Message, now time.Time) {
	if n.isLeader() {
		if msg.Ack != protocol.AckRequest || (n.state != StateStandby && n.state != StateCommissionerActive) {
			log.Debug().Str("addr", src).Str("state", n.state.String()).Msg("node reconnect ignored")
			return
		}
		if hash, ok := peerHash(src, msg.Payload); ok {
			if !n.acceptReconnect(src, port, hash, now) {
				observability.RecordDroppedDatagram("unknown_joiner")
			}
		}
		return
	}

	if msg.Ack != protocol.AckResponse {
		return
	}
	switch n.state {
	case StateJoinerSeekingLeader, StateJoinerReconnect, StateJoinerPaired:
	default:
		log.Debug().Str("addr", src).Str("state", n.state.String()).Msg("node reconnect ignored")
		return
	}
	hash, err := identity.FromBytes(msg.Payload)
	if err != nil {
		if !n.hasLeader {
			drop("bad_identity", src, err)
			return
		}
		hash = n.leader.Hash
	}
	if n.hasLeader && n.leader.Hash != 0 && hash != n.leader.Hash {
		log.Warn().Str("addr", src).Str("hash", hash.String()).Str("expected", n.leader.Hash.String()).
			Msg("node reconnect from foreign leader")
		observability.RecordDroppedDatagram("foreign_leader")
		return
	}
	n.adoptLeader(src, hash)
	if n.state == StateJoinerPaired {
		n.watch.RecordEcho(now)
		return
	}
	log.Info().Str("leader", src).Msg("node leader found")
	n.observer.OnPeerRejoined(src, hash)
	n.transition(StateJoinerPaired, now)
}

func (n *Node) receiveHeartbeat(src string, msg protocol.Message, now time.Time) {
	if !n.isLeader() {
		if msg.Ack == protocol.AckResponse && n.hasLeader && src == n.leader.Address {
			n.watch.RecordEcho(now)
		}
		return
	}
	if msg.Ack == protocol.AckResponse {
		return
	}
	rec, ok := n.joiners.Lookup(src)
	if !ok {
		drop("unknown_joiner", src, nil)
		return
	}
	rejoined := n.roster.Observe(src, now)
	n.joiners.Touch(src, now)
	n.sendControl(src, protocol.AckResponse, protocol.TypeHeartbeat, nil)
	if rejoined {
		log.Info().Str("addr", src).Str("hash", rec.Hash.String()).Msg("node joiner rejoined")
		n.observer.OnPeerRejoined(src, rec.Hash)
	}
}
