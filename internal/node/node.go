package node

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/lightmesh/internal/directory"
	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/danmuck/lightmesh/internal/liveness"
	"github.com/danmuck/lightmesh/internal/observability"
	"github.com/danmuck/lightmesh/internal/protocol"
	"github.com/danmuck/lightmesh/internal/protocol/session"
	"github.com/danmuck/lightmesh/internal/status"
	"github.com/danmuck/lightmesh/internal/store"
	"github.com/danmuck/lightmesh/internal/transport"
	"github.com/rs/zerolog/log"
	"github.com/yasserelgammal/rate-limiter/limiter"
)

var (
	ErrNetworkAttachTimeout = errors.New("node: network attach timeout")
	ErrNotStarted           = errors.New("node: not started")
)

// cadence fires at most once per interval. A zero last fires immediately.
type cadence struct {
	last time.Time
}

func (c *cadence) due(now time.Time, interval time.Duration) bool {
	if !c.last.IsZero() && now.Sub(c.last) < interval {
		return false
	}
	c.last = now
	return true
}

// scratch is per-state bookkeeping, reset on every transition.
type scratch struct {
	setup     bool
	poll      cadence
	broadcast cadence
	escalated bool
	// candidate is the address a pairing broadcast came from.
	candidate string
}

type Node struct {
	cfg       Config
	role      string
	transport Transport
	store     store.Store
	observer  Observer
	indicator status.Indicator

	engine  *session.Engine
	roster  *liveness.Roster
	watch   *liveness.LeaderWatch
	joiners *directory.Directory
	seen    *seenFilter
	limiter *limiter.TokenBucket

	state     State
	enteredAt time.Time
	scratch   scratch
	now       time.Time

	leader    store.LeaderInfo
	hasLeader bool

	button button
	inputs []Press
}

// New builds a node in StateInit. The first Tick runs role bootstrap.
func New(cfg Config, tr Transport, st store.Store, obs Observer, ind status.Indicator) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, errors.New("node: nil transport")
	}
	if st == nil {
		return nil, errors.New("node: nil store")
	}
	if obs == nil {
		obs = NopObserver{}
	}
	n := &Node{
		cfg:       cfg,
		role:      cfg.Role(),
		transport: tr,
		store:     st,
		observer:  obs,
		indicator: ind,
		roster:    liveness.NewRoster(cfg.Liveness),
		watch:     liveness.NewLeaderWatch(cfg.Liveness),
		seen:      newSeenFilter(cfg.Dedup),
		button:    button{cfg: cfg.Button},
		state:     StateInit,
	}
	n.joiners = directory.New(cfg.MaxJoiners, st)

	engine, err := session.NewEngine(cfg.Delivery, n, n.onDeliveryResult)
	if err != nil {
		return nil, err
	}
	n.engine = engine

	lim, err := newInboundLimiter(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	n.limiter = lim
	return n, nil
}

// Tick advances the node by one iteration: queued inputs, the active state
// handler, inbound datagrams, status indication, then delivery retries.
func (n *Node) Tick(now time.Time) {
	n.now = now
	if n.enteredAt.IsZero() {
		n.enteredAt = now
		n.scratch = scratch{poll: cadence{last: now}}
	}

	n.handleInputs(now)
	n.handleState(now)
	if n.state != StateError {
		n.dispatch(now)
	}
	if n.indicator != nil {
		p := n.state.Pattern()
		n.indicator.Show(n.state.String(), p, p.ColorAt(now))
	}
	n.engine.Tick(now)
}

func (n *Node) handleState(now time.Time) {
	switch n.state {
	case StateInit:
		n.handleInit(now)
	case StateStandby:
		n.handleStandby(now)
	case StateLeaderWaitNetwork:
		n.handleLeaderWaitNetwork(now)
	case StateCommissionerStart:
		n.handleCommissionerStart(now)
	case StateCommissionerActive:
		n.handleCommissionerActive(now)
	case StateJoinerStart:
		n.handleJoinerStart(now)
	case StateJoinerScan:
		n.handleJoinerScan(now)
	case StateJoinerWaitBroadcast:
		n.handleJoinerWaitBroadcast(now)
	case StateJoinerWaitAck:
		n.handleJoinerWaitAck(now)
	case StateJoinerPaired:
		n.handleJoinerPaired(now)
	case StateJoinerReconnect:
		n.handleJoinerReconnect(now)
	case StateJoinerSeekingLeader:
		n.handleJoinerSeekingLeader(now)
	case StateError:
	}
}

func (n *Node) transition(to State, now time.Time) {
	from := n.state
	log.Info().Str("from", from.String()).Str("to", to.String()).Msg("node transition")
	observability.RecordTransition(from.String(), to.String())
	n.state = to
	n.enteredAt = now
	n.scratch = scratch{poll: cadence{last: now}}
}

func (n *Node) elapsed(now time.Time) time.Duration {
	return now.Sub(n.enteredAt)
}

// once reports true on the first tick spent in the current state.
func (n *Node) once() bool {
	if n.scratch.setup {
		return false
	}
	n.scratch.setup = true
	return true
}

func (n *Node) isLeader() bool {
	return n.role == store.RoleLeader
}

// run executes commands in order. Failures are logged and the sequence
// continues; the state budget decides when to give up.
func (n *Node) run(match string, commands ...string) bool {
	ok := true
	for _, cmd := range commands {
		if _, err := n.transport.Execute(cmd, match, n.cfg.CommandTimeout); err != nil {
			log.Warn().Err(err).Str("cmd", cmd).Str("state", n.state.String()).Msg("node command failed")
			ok = false
		}
	}
	return ok
}

// query executes command and returns its response, or false on failure.
func (n *Node) query(command string) (string, bool) {
	resp, err := n.transport.Execute(command, "", n.cfg.CommandTimeout)
	if err != nil {
		log.Debug().Err(err).Str("cmd", command).Msg("node query failed")
		return "", false
	}
	return resp, true
}

// SendDatagram encodes msg and hands it to the mesh stack.
func (n *Node) SendDatagram(dest string, msg protocol.Message) error {
	text, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	observability.RecordDatagram("out", msg.Type.String(), msg.Ack.String())
	log.Debug().Str("addr", dest).Str("msg", msg.String()).Msg("node send")
	return n.transport.Submit(transport.SendCommand(dest, n.cfg.ListenPort, text))
}

func (n *Node) sendControl(dest string, ack protocol.AckType, typ protocol.MessageType, payload []byte) {
	if err := n.SendDatagram(dest, protocol.NewControl(ack, typ, payload)); err != nil {
		log.Warn().Err(err).Str("addr", dest).Str("type", typ.String()).Msg("node control send failed")
	}
}

func (n *Node) onDeliveryResult(r session.Result) {
	n.observer.OnDeliveryResult(r.MessageID, r.Destination, r.Success())
}

// Press queues a classified button press for the next tick.
func (n *Node) Press(p Press) {
	n.inputs = append(n.inputs, p)
}

// ButtonDown and ButtonUp feed raw button edges.
func (n *Node) ButtonDown(now time.Time) {
	n.button.press(now)
}

func (n *Node) ButtonUp(now time.Time) {
	if p, ok := n.button.release(now); ok {
		n.inputs = append(n.inputs, p)
	}
}

func (n *Node) handleInputs(now time.Time) {
	if p, ok := n.button.held(now); ok {
		n.inputs = append(n.inputs, p)
	}
	inputs := n.inputs
	n.inputs = nil
	for _, p := range inputs {
		if n.state == StateError {
			log.Warn().Str("press", p.String()).Msg("node press ignored in error state")
			continue
		}
		log.Info().Str("press", p.String()).Str("state", n.state.String()).Msg("node button")
		switch p {
		case PressShort:
			if n.state != StateStandby {
				continue
			}
			if n.isLeader() {
				n.transition(StateCommissionerStart, now)
			} else {
				n.transition(StateJoinerStart, now)
			}
		case PressLong:
			if !n.isLeader() {
				n.forgetLeader()
			}
			n.transition(StateStandby, now)
		}
	}
}

func (n *Node) forgetLeader() {
	if err := n.store.Wipe(); err != nil {
		observability.RecordStorageFailure("wipe")
		log.Warn().Err(err).Msg("node wipe failed")
	}
	n.leader = store.LeaderInfo{}
	n.hasLeader = false
	n.seen.Reset()
}

// Wipe clears persisted pairing state and returns the node to Standby.
func (n *Node) Wipe(now time.Time) {
	if n.state == StateError {
		return
	}
	if n.isLeader() {
		if err := n.store.Wipe(); err != nil {
			observability.RecordStorageFailure("wipe")
			log.Warn().Err(err).Msg("node wipe failed")
		}
		for _, rec := range n.joiners.All() {
			n.engine.PurgeDestination(rec.Address)
			n.roster.Forget(rec.Address)
		}
		n.joiners.Reset()
		n.seen.Reset()
	} else {
		n.forgetLeader()
	}
	n.transition(StateStandby, now)
}

// SendReliable queues payload for acknowledged delivery to addr and returns
// its message id. The outcome is reported through OnDeliveryResult.
func (n *Node) SendReliable(addr string, payload []byte) (uint16, error) {
	if n.now.IsZero() {
		return 0, ErrNotStarted
	}
	if len(payload) > protocol.MaxPayload {
		return 0, fmt.Errorf("%w: %d bytes", protocol.ErrPayloadTooLarge, len(payload))
	}
	return n.engine.Send(n.now, addr, payload)
}

// SendUnreliable sends payload once without acknowledgment.
func (n *Node) SendUnreliable(addr string, payload []byte) error {
	if strings.TrimSpace(addr) == "" {
		return session.ErrNoDestination
	}
	return n.SendDatagram(addr, protocol.NewControl(protocol.AckNone, protocol.TypeNormal, payload))
}

// PeerInfo is one paired peer and its identity hash.
type PeerInfo struct {
	Address string
	Hash    identity.Hash
}

// KnownPeers returns the paired joiners on a leader, or the leader on a
// joiner.
func (n *Node) KnownPeers() []PeerInfo {
	if n.isLeader() {
		recs := n.joiners.All()
		out := make([]PeerInfo, 0, len(recs))
		for _, rec := range recs {
			out = append(out, PeerInfo{Address: rec.Address, Hash: rec.Hash})
		}
		return out
	}
	if n.hasLeader {
		return []PeerInfo{{Address: n.leader.Address, Hash: n.leader.Hash}}
	}
	return nil
}

// LastSeen returns when addr was last heard from.
func (n *Node) LastSeen(addr string) (time.Time, bool) {
	if n.isLeader() {
		if at, ok := n.roster.LastSeen(addr); ok {
			return at, true
		}
		if rec, ok := n.joiners.Lookup(addr); ok {
			return rec.LastHeartbeat, true
		}
		return time.Time{}, false
	}
	if n.hasLeader && addr == n.leader.Address && !n.watch.LastEcho().IsZero() {
		return n.watch.LastEcho(), true
	}
	return time.Time{}, false
}

// IsReady reports whether application traffic can flow: a leader in
// Standby or a paired joiner.
func (n *Node) IsReady() bool {
	switch n.state {
	case StateStandby:
		return n.isLeader()
	case StateJoinerPaired:
		return true
	default:
		return false
	}
}

func (n *Node) State() State            { return n.state }
func (n *Node) Role() string            { return n.role }
func (n *Node) Identity() identity.Hash { return n.cfg.Identity }
func (n *Node) PendingCount() int       { return n.engine.PendingCount() }

func (n *Node) Pending() []session.PendingDelivery {
	return n.engine.Pending()
}

// Joiners returns the leader's directory sorted by address.
func (n *Node) Joiners() []directory.Record {
	return n.joiners.All()
}

// Leader returns the joiner's current leader.
func (n *Node) Leader() (store.LeaderInfo, bool) {
	return n.leader, n.hasLeader
}
