package node

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/danmuck/lightmesh/internal/protocol"
	"github.com/danmuck/lightmesh/internal/status"
	"github.com/danmuck/lightmesh/internal/store"
	"github.com/danmuck/lightmesh/internal/testutil/testlog"
)

const (
	leaderHash = identity.Hash(0x1111222233334444)
	joinerHash = identity.Hash(0xaaaabbbbccccdddd)
	leaderAddr = "fd00::1"
	joinerAddr = "fd00::2"
)

var t0 = time.Unix(1_700_000_000, 0)

type fakeTransport struct {
	responses map[string]string
	commands  []string
	submitted []string
	inbox     []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{responses: make(map[string]string)}
}

func (f *fakeTransport) Execute(command, _ string, _ time.Duration) (string, error) {
	f.commands = append(f.commands, command)
	if resp, ok := f.responses[command]; ok {
		return resp, nil
	}
	return "Done\r\n", nil
}

func (f *fakeTransport) Submit(command string) error {
	f.submitted = append(f.submitted, command)
	return nil
}

func (f *fakeTransport) Poll(time.Duration) []string {
	out := f.inbox
	f.inbox = nil
	return out
}

func (f *fakeTransport) deliver(t *testing.T, src string, msg protocol.Message) {
	t.Helper()
	text, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.inbox = append(f.inbox, fmt.Sprintf("%d bytes from %s 12345 %s", len(text)/2, src, text))
}

func (f *fakeTransport) ran(command string) bool {
	for _, c := range f.commands {
		if c == command {
			return true
		}
	}
	return false
}

type sentDatagram struct {
	dest string
	msg  protocol.Message
}

// sent decodes every udp send issued so far and clears the log.
func (f *fakeTransport) sent(t *testing.T) []sentDatagram {
	t.Helper()
	var out []sentDatagram
	for _, cmd := range f.submitted {
		fields := strings.Fields(cmd)
		if len(fields) != 5 || fields[0] != "udp" || fields[1] != "send" {
			t.Fatalf("unexpected submit %q", cmd)
		}
		msg, err := protocol.DecodeDatagram(fields[4])
		if err != nil {
			t.Fatalf("decode %q: %v", cmd, err)
		}
		out = append(out, sentDatagram{dest: fields[2], msg: msg})
	}
	f.submitted = nil
	return out
}

type event struct {
	kind    string
	addr    string
	id      uint16
	ok      bool
	payload []byte
	hash    identity.Hash
}

type recordingObserver struct {
	events []event
}

func (o *recordingObserver) OnReceive(addr string, reliable bool, payload []byte) {
	o.events = append(o.events, event{kind: "receive", addr: addr, ok: reliable, payload: payload})
}

func (o *recordingObserver) OnDeliveryResult(id uint16, addr string, success bool) {
	o.events = append(o.events, event{kind: "result", addr: addr, id: id, ok: success})
}

func (o *recordingObserver) OnPeerJoined(addr string, hash identity.Hash) {
	o.events = append(o.events, event{kind: "joined", addr: addr, hash: hash})
}

func (o *recordingObserver) OnPeerRejoined(addr string, hash identity.Hash) {
	o.events = append(o.events, event{kind: "rejoined", addr: addr, hash: hash})
}

func (o *recordingObserver) of(kind string) []event {
	var out []event
	for _, e := range o.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	n     *Node
	tr    *fakeTransport
	obs   *recordingObserver
	ind   *status.LogIndicator
	store *store.MemoryStore
	now   time.Time
}

func (h *harness) tick(d time.Duration) {
	h.now = h.now.Add(d)
	h.n.Tick(h.now)
}

func (h *harness) expectState(t *testing.T, want State) {
	t.Helper()
	if got := h.n.State(); got != want {
		t.Fatalf("state got=%s want=%s", got, want)
	}
}

func testConfig(role string, hash identity.Hash) Config {
	cfg := DefaultConfig()
	cfg.Identity = hash
	cfg.Network.Role = role
	cfg.NetworkKey = "00112233445566778899aabbccddeeff"
	return cfg
}

func newHarness(t *testing.T, cfg Config, st *store.MemoryStore) *harness {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore(cfg.Network)
	}
	h := &harness{
		tr:    newFakeTransport(),
		obs:   &recordingObserver{},
		ind:   status.NewLogIndicator(),
		store: st,
		now:   t0,
	}
	n, err := New(cfg, h.tr, st, h.obs, h.ind)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	h.n = n
	return h
}

// standbyLeader brings a leader through bootstrap into Standby.
func standbyLeader(t *testing.T, cfg Config, st *store.MemoryStore) *harness {
	t.Helper()
	h := newHarness(t, cfg, st)
	h.tr.responses["state"] = "leader\r\nDone\r\n"
	h.n.Tick(h.now)
	h.expectState(t, StateLeaderWaitNetwork)
	h.tick(5 * time.Second)
	h.expectState(t, StateStandby)
	h.tr.sent(t)
	return h
}

// pairedJoiner restores a persisted leader and reattaches.
func pairedJoiner(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig(store.RoleJoiner, joinerHash)
	st := store.NewMemoryStore(cfg.Network)
	if err := st.SaveLeaderInfo(store.LeaderInfo{Address: leaderAddr, Hash: leaderHash}); err != nil {
		t.Fatalf("seed leader: %v", err)
	}
	h := newHarness(t, cfg, st)
	h.tr.responses["state"] = "child\r\nDone\r\n"
	h.n.Tick(h.now)
	h.expectState(t, StateJoinerReconnect)
	h.tick(100 * time.Millisecond)
	h.tick(2 * time.Second)
	h.expectState(t, StateJoinerPaired)
	return h
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(store.RoleLeader, 0)
	if _, err := New(cfg, newFakeTransport(), store.NewMemoryStore(cfg.Network), nil, nil); err == nil {
		t.Fatalf("expected missing identity error")
	}
	cfg = testConfig("router", leaderHash)
	if _, err := New(cfg, newFakeTransport(), store.NewMemoryStore(cfg.Network), nil, nil); !errors.Is(err, store.ErrInvalidConfig) {
		t.Fatalf("expected invalid role, got %v", err)
	}
}

func TestLeaderBootstrapReachesStandby(t *testing.T) {
	testlog.Start(t)
	h := standbyLeader(t, testConfig(store.RoleLeader, leaderHash), nil)

	for _, cmd := range []string{
		"dataset init new",
		"dataset channel 11",
		"dataset panid 0x1234",
		"dataset networkkey 00112233445566778899aabbccddeeff",
		"dataset commit active",
		"thread start",
		"udp open",
		"udp bind :: 12345",
	} {
		if !h.tr.ran(cmd) {
			t.Fatalf("missing bootstrap command %q in %v", cmd, h.tr.commands)
		}
	}
	if !h.n.IsReady() {
		t.Fatalf("leader in standby should be ready")
	}
	state, pattern, _ := h.ind.Current()
	if state != "standby" || pattern != status.Solid(status.Blue) {
		t.Fatalf("indicator got=%s %+v", state, pattern)
	}
}

func TestLeaderWaitNetworkPollsOnInterval(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig(store.RoleLeader, leaderHash), nil)
	h.tr.responses["state"] = "detached\r\nDone\r\n"
	h.n.Tick(h.now)
	h.tr.commands = nil

	h.tick(4 * time.Second)
	if h.tr.ran("state") {
		t.Fatalf("state polled before interval")
	}
	h.tick(time.Second)
	if !h.tr.ran("state") {
		t.Fatalf("state not polled at interval")
	}
	h.expectState(t, StateLeaderWaitNetwork)
}

func TestLeaderAttachTimeoutIsTerminal(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig(store.RoleLeader, leaderHash), nil)
	h.tr.responses["state"] = "detached\r\nDone\r\n"
	h.n.Tick(h.now)
	for i := 0; i < 10; i++ {
		h.tick(5 * time.Second)
	}
	h.expectState(t, StateLeaderWaitNetwork)
	h.tick(5 * time.Second)
	h.expectState(t, StateError)

	h.n.Press(PressShort)
	h.tick(time.Second)
	h.expectState(t, StateError)
}

// pairJoiner runs a commissioning window on h and pairs joinerAddr.
func pairJoiner(t *testing.T, h *harness) {
	t.Helper()
	h.n.Press(PressShort)
	h.tick(100 * time.Millisecond)
	h.expectState(t, StateCommissionerStart)
	if !h.tr.ran("commissioner start") || !h.tr.ran("commissioner joiner add * J01NME") {
		t.Fatalf("commissioner not started: %v", h.tr.commands)
	}
	h.tick(time.Second)
	h.expectState(t, StateCommissionerActive)
	h.tick(100 * time.Millisecond)

	sent := h.tr.sent(t)
	if len(sent) != 1 || sent[0].dest != DefaultMulticast ||
		sent[0].msg.Type != protocol.TypePairing || sent[0].msg.Ack != protocol.AckNone {
		t.Fatalf("pairing broadcast got=%+v", sent)
	}

	h.tr.deliver(t, joinerAddr, protocol.NewControl(protocol.AckRequest, protocol.TypePairing, joinerHash.Bytes()))
	h.tick(100 * time.Millisecond)
	h.expectState(t, StateStandby)
}

func TestLeaderPairsJoiner(t *testing.T) {
	testlog.Start(t)
	h := standbyLeader(t, testConfig(store.RoleLeader, leaderHash), nil)
	pairJoiner(t, h)

	sent := h.tr.sent(t)
	if len(sent) != 1 || sent[0].dest != joinerAddr {
		t.Fatalf("pairing reply got=%+v", sent)
	}
	reply := sent[0].msg
	if reply.Type != protocol.TypePairing || reply.Ack != protocol.AckResponse || !bytes.Equal(reply.Payload, leaderHash.Bytes()) {
		t.Fatalf("pairing reply msg=%+v", reply)
	}
	if !h.tr.ran("commissioner stop") {
		t.Fatalf("commissioner not stopped")
	}
	if peers := h.n.KnownPeers(); len(peers) != 1 || peers[0] != (PeerInfo{Address: joinerAddr, Hash: joinerHash}) {
		t.Fatalf("peers got=%+v", peers)
	}
	joined := h.obs.of("joined")
	if len(joined) != 1 || joined[0].hash != joinerHash {
		t.Fatalf("joined events got=%+v", joined)
	}
	entries, err := h.store.ListJoiners()
	if err != nil || len(entries) != 1 || entries[0].Hash != joinerHash {
		t.Fatalf("persisted joiners got=%+v err=%v", entries, err)
	}
}

func TestLeaderNotReadyWhileCommissioning(t *testing.T) {
	testlog.Start(t)
	h := standbyLeader(t, testConfig(store.RoleLeader, leaderHash), nil)
	h.n.Press(PressShort)
	h.tick(100 * time.Millisecond)
	h.expectState(t, StateCommissionerStart)
	if h.n.IsReady() {
		t.Fatalf("leader ready in %s", h.n.State())
	}
	h.tick(time.Second)
	h.expectState(t, StateCommissionerActive)
	if h.n.IsReady() {
		t.Fatalf("leader ready in %s", h.n.State())
	}
}

func TestLeaderIgnoresPairingOutsideCommissioning(t *testing.T) {
	testlog.Start(t)
	h := standbyLeader(t, testConfig(store.RoleLeader, leaderHash), nil)
	h.tr.deliver(t, joinerAddr, protocol.NewControl(protocol.AckRequest, protocol.TypePairing, joinerHash.Bytes()))
	h.tick(100 * time.Millisecond)
	if len(h.tr.sent(t)) != 0 || len(h.n.KnownPeers()) != 0 {
		t.Fatalf("pairing accepted in standby")
	}
}

func TestCommissioningWindowCloses(t *testing.T) {
	testlog.Start(t)
	h := standbyLeader(t, testConfig(store.RoleLeader, leaderHash), nil)
	h.n.Press(PressShort)
	h.tick(100 * time.Millisecond)
	h.tick(time.Second)
	h.expectState(t, StateCommissionerActive)

	broadcasts := 0
	for i := 0; i < 61; i++ {
		h.tick(time.Second)
		for _, s := range h.tr.sent(t) {
			if s.dest == DefaultMulticast {
				broadcasts++
			}
		}
	}
	h.expectState(t, StateStandby)
	if broadcasts < 19 || broadcasts > 21 {
		t.Fatalf("broadcasts got=%d want about one per 3s", broadcasts)
	}
	if !h.tr.ran("commissioner stop") {
		t.Fatalf("commissioner not stopped")
	}
}

func TestLeaderEchoesHeartbeatAndEvictsSilentJoiner(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(store.RoleLeader, leaderHash)
	cfg.Delivery.RetryLimit = 100
	h := standbyLeader(t, cfg, nil)
	pairJoiner(t, h)
	h.tr.sent(t)

	h.tr.deliver(t, joinerAddr, protocol.NewControl(protocol.AckNone, protocol.TypeHeartbeat, nil))
	h.tick(2 * time.Second)
	beatAt := h.now
	sent := h.tr.sent(t)
	if len(sent) != 1 || sent[0].msg.Type != protocol.TypeHeartbeat || sent[0].msg.Ack != protocol.AckResponse {
		t.Fatalf("heartbeat echo got=%+v", sent)
	}
	if at, ok := h.n.LastSeen(joinerAddr); !ok || !at.Equal(beatAt) {
		t.Fatalf("last seen got=%v ok=%v", at, ok)
	}

	if _, err := h.n.SendReliable(joinerAddr, []byte("hold")); err != nil {
		t.Fatalf("send reliable: %v", err)
	}
	for i := 0; i < 25; i++ {
		h.tick(time.Second)
	}
	if len(h.n.KnownPeers()) != 0 {
		t.Fatalf("silent joiner not evicted: %v", h.n.KnownPeers())
	}
	results := h.obs.of("result")
	if len(results) != 1 || results[0].ok || results[0].addr != joinerAddr {
		t.Fatalf("purge result got=%+v", results)
	}
	if h.n.PendingCount() != 0 {
		t.Fatalf("pending after purge=%d", h.n.PendingCount())
	}
}

func TestLeaderHeartbeatAfterLongSilenceIsRejoin(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(store.RoleLeader, leaderHash)
	cfg.Liveness.DeadAfter = time.Minute
	h := standbyLeader(t, cfg, nil)
	pairJoiner(t, h)

	h.tr.deliver(t, joinerAddr, protocol.NewControl(protocol.AckNone, protocol.TypeHeartbeat, nil))
	h.tick(time.Second)
	if len(h.obs.of("rejoined")) != 0 {
		t.Fatalf("first heartbeat after pairing counted as rejoin")
	}
	h.tr.deliver(t, joinerAddr, protocol.NewControl(protocol.AckNone, protocol.TypeHeartbeat, nil))
	h.tick(11 * time.Second)
	rejoined := h.obs.of("rejoined")
	if len(rejoined) != 1 || rejoined[0].hash != joinerHash {
		t.Fatalf("rejoin got=%+v", rejoined)
	}
}

func TestLeaderAcceptsReconnectFromKnownHash(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(store.RoleLeader, leaderHash)
	st := store.NewMemoryStore(cfg.Network)
	if err := st.AppendJoiner(store.JoinerEntry{Address: "fd00::9", Hash: joinerHash}); err != nil {
		t.Fatalf("seed joiner: %v", err)
	}
	h := standbyLeader(t, cfg, st)

	h.tr.deliver(t, "fd00::77", protocol.NewControl(protocol.AckRequest, protocol.TypeReconnect, identity.Hash(0x42).Bytes()))
	h.tr.deliver(t, joinerAddr, protocol.NewControl(protocol.AckRequest, protocol.TypeReconnect, joinerHash.Bytes()))
	h.tick(100 * time.Millisecond)

	sent := h.tr.sent(t)
	if len(sent) != 1 || sent[0].dest != joinerAddr {
		t.Fatalf("reconnect replies got=%+v", sent)
	}
	if sent[0].msg.Type != protocol.TypeReconnect || sent[0].msg.Ack != protocol.AckResponse ||
		!bytes.Equal(sent[0].msg.Payload, leaderHash.Bytes()) {
		t.Fatalf("reconnect reply msg=%+v", sent[0].msg)
	}
	if peers := h.n.KnownPeers(); len(peers) != 1 || peers[0] != (PeerInfo{Address: joinerAddr, Hash: joinerHash}) {
		t.Fatalf("peers got=%+v", peers)
	}
	if len(h.obs.of("rejoined")) != 1 {
		t.Fatalf("rejoin events got=%+v", h.obs.events)
	}
}

func TestJoinerPairingFlow(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig(store.RoleJoiner, joinerHash), nil)
	h.tr.responses["joiner state"] = "Join success\r\nDone\r\n"

	h.n.Tick(h.now)
	h.expectState(t, StateStandby)
	h.tick(100 * time.Millisecond)
	if !h.tr.ran("thread stop") {
		t.Fatalf("joiner standby did not stop thread")
	}
	if h.n.IsReady() {
		t.Fatalf("unpaired joiner reported ready")
	}

	h.n.Press(PressShort)
	h.tick(100 * time.Millisecond)
	h.expectState(t, StateJoinerStart)
	if !h.tr.ran("joiner start J01NME") || !h.tr.ran("dataset panid 0xffff") {
		t.Fatalf("joiner dataset missing: %v", h.tr.commands)
	}
	h.tick(500 * time.Millisecond)
	h.expectState(t, StateJoinerScan)
	if !h.tr.ran("thread start") {
		t.Fatalf("thread not started")
	}
	h.tick(time.Second)
	h.expectState(t, StateJoinerWaitBroadcast)

	h.tr.deliver(t, leaderAddr, protocol.NewControl(protocol.AckNone, protocol.TypePairing, nil))
	h.tick(100 * time.Millisecond)
	h.expectState(t, StateJoinerWaitAck)
	sent := h.tr.sent(t)
	if len(sent) != 1 || sent[0].dest != leaderAddr || sent[0].msg.Ack != protocol.AckRequest ||
		!bytes.Equal(sent[0].msg.Payload, joinerHash.Bytes()) {
		t.Fatalf("pairing request got=%+v", sent)
	}

	h.tr.deliver(t, leaderAddr, protocol.NewControl(protocol.AckResponse, protocol.TypePairing, leaderHash.Bytes()))
	h.tick(100 * time.Millisecond)
	h.expectState(t, StateJoinerPaired)
	info, err := h.store.LoadLeaderInfo()
	if err != nil || info.Address != leaderAddr || info.Hash != leaderHash {
		t.Fatalf("persisted leader got=%+v err=%v", info, err)
	}

	h.tick(100 * time.Millisecond)
	sent = h.tr.sent(t)
	if len(sent) != 1 || sent[0].msg.Type != protocol.TypeHeartbeat || sent[0].msg.Ack != protocol.AckNone {
		t.Fatalf("first heartbeat got=%+v", sent)
	}
	if !h.n.IsReady() {
		t.Fatalf("paired joiner not ready")
	}
	if peers := h.n.KnownPeers(); len(peers) != 1 || peers[0] != (PeerInfo{Address: leaderAddr, Hash: leaderHash}) {
		t.Fatalf("joiner peers got=%+v", peers)
	}
}

func TestJoinerTimeoutsReturnToStandby(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig(store.RoleJoiner, joinerHash), nil)
	h.tr.responses["joiner state"] = "Join success\r\nDone\r\n"
	h.n.Tick(h.now)
	h.n.Press(PressShort)
	h.tick(100 * time.Millisecond)
	h.tick(500 * time.Millisecond)
	h.tick(time.Second)
	h.expectState(t, StateJoinerWaitBroadcast)

	h.tick(20 * time.Second)
	h.expectState(t, StateJoinerWaitBroadcast)
	h.tick(time.Millisecond)
	h.expectState(t, StateStandby)
}

func TestJoinerScanFailureTimesOut(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig(store.RoleJoiner, joinerHash), nil)
	h.tr.responses["joiner state"] = "Join failed [NotFound]\r\nDone\r\n"
	h.n.Tick(h.now)
	h.n.Press(PressShort)
	h.tick(100 * time.Millisecond)
	h.tick(500 * time.Millisecond)
	for i := 0; i < 21; i++ {
		h.tick(time.Second)
	}
	h.expectState(t, StateStandby)
}

func TestJoinerRestoresLeaderAndReconnects(t *testing.T) {
	testlog.Start(t)
	h := pairedJoiner(t)
	for _, cmd := range []string{"dataset commit active", "ifconfig up", "udp bind :: 12345"} {
		if !h.tr.ran(cmd) {
			t.Fatalf("reconnect command %q missing", cmd)
		}
	}
	sent := h.tr.sent(t)
	if len(sent) != 1 || sent[0].dest != leaderAddr ||
		sent[0].msg.Type != protocol.TypeReconnect || sent[0].msg.Ack != protocol.AckRequest {
		t.Fatalf("reconnect notify got=%+v", sent)
	}
}

func TestJoinerSeeksSilentLeader(t *testing.T) {
	testlog.Start(t)
	h := pairedJoiner(t)
	for i := 0; i < 17; i++ {
		h.tick(time.Second)
	}
	h.expectState(t, StateJoinerSeekingLeader)
	h.tr.sent(t)

	h.tick(100 * time.Millisecond)
	sent := h.tr.sent(t)
	if len(sent) != 1 || sent[0].dest != DefaultMulticast || sent[0].msg.Type != protocol.TypeReconnect ||
		sent[0].msg.Ack != protocol.AckRequest || !bytes.Equal(sent[0].msg.Payload, joinerHash.Bytes()) {
		t.Fatalf("seek broadcast got=%+v", sent)
	}

	h.tr.deliver(t, "fd00::5", protocol.NewControl(protocol.AckResponse, protocol.TypeReconnect, leaderHash.Bytes()))
	h.tick(100 * time.Millisecond)
	h.expectState(t, StateJoinerPaired)
	if info, _ := h.n.Leader(); info.Address != "fd00::5" {
		t.Fatalf("leader address not adopted: %+v", info)
	}
	if info, err := h.store.LoadLeaderInfo(); err != nil || info.Address != "fd00::5" {
		t.Fatalf("leader address not persisted: %+v err=%v", info, err)
	}
	if len(h.obs.of("rejoined")) != 1 {
		t.Fatalf("rejoin callback got=%+v", h.obs.events)
	}
}

func TestJoinerIgnoresForeignLeaderReconnect(t *testing.T) {
	testlog.Start(t)
	h := pairedJoiner(t)
	for i := 0; i < 17; i++ {
		h.tick(time.Second)
	}
	h.expectState(t, StateJoinerSeekingLeader)
	h.tr.deliver(t, "fd00::6", protocol.NewControl(protocol.AckResponse, protocol.TypeReconnect, identity.Hash(0x99).Bytes()))
	h.tick(100 * time.Millisecond)
	h.expectState(t, StateJoinerSeekingLeader)
}

func TestJoinerEchoKeepsLeaderAlive(t *testing.T) {
	testlog.Start(t)
	h := pairedJoiner(t)
	for i := 0; i < 30; i++ {
		h.tr.deliver(t, leaderAddr, protocol.NewControl(protocol.AckResponse, protocol.TypeHeartbeat, nil))
		h.tick(time.Second)
	}
	h.expectState(t, StateJoinerPaired)
	if at, ok := h.n.LastSeen(leaderAddr); !ok || !at.Equal(h.now) {
		t.Fatalf("last echo got=%v ok=%v", at, ok)
	}
}

func TestReliableReceiveAcksEveryCopyDeliversOnce(t *testing.T) {
	testlog.Start(t)
	h := standbyLeader(t, testConfig(store.RoleLeader, leaderHash), nil)

	h.tr.deliver(t, joinerAddr, protocol.NewReliable(7, []byte("on")))
	h.tick(100 * time.Millisecond)
	h.tr.deliver(t, joinerAddr, protocol.NewReliable(7, []byte("on")))
	h.tr.deliver(t, joinerAddr, protocol.NewControl(protocol.AckNone, protocol.TypeNormal, []byte("hint")))
	h.tick(2 * time.Second)

	acks := 0
	for _, s := range h.tr.sent(t) {
		if s.dest == joinerAddr && s.msg.Ack == protocol.AckResponse && s.msg.HasID && s.msg.MessageID == 7 {
			acks++
		}
	}
	if acks != 2 {
		t.Fatalf("acks got=%d want=2", acks)
	}
	received := h.obs.of("receive")
	if len(received) != 2 || !received[0].ok || string(received[0].payload) != "on" || received[1].ok {
		t.Fatalf("receive events got=%+v", received)
	}
}

func TestReliableReceiveAfterPeerRestartDelivers(t *testing.T) {
	testlog.Start(t)
	h := standbyLeader(t, testConfig(store.RoleLeader, leaderHash), nil)

	h.tr.deliver(t, "fd00::9", protocol.NewReliable(0, []byte("before-restart")))
	h.tick(100 * time.Millisecond)
	h.tr.deliver(t, "fd00::9", protocol.NewReliable(0, []byte("after-restart")))
	h.tick(10 * time.Second)

	acks := 0
	for _, s := range h.tr.sent(t) {
		if s.dest == "fd00::9" && s.msg.Ack == protocol.AckResponse && s.msg.HasID && s.msg.MessageID == 0 {
			acks++
		}
	}
	received := h.obs.of("receive")
	if acks != 2 || len(received) != 2 || string(received[1].payload) != "after-restart" {
		t.Fatalf("acks=%d receive events=%+v", acks, received)
	}
}

func TestSendReliableResolvesOnAck(t *testing.T) {
	testlog.Start(t)
	h := standbyLeader(t, testConfig(store.RoleLeader, leaderHash), nil)

	id, err := h.n.SendReliable(joinerAddr, []byte("ping"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := h.tr.sent(t)
	if len(sent) != 1 || !sent[0].msg.HasID || sent[0].msg.MessageID != id {
		t.Fatalf("reliable send got=%+v", sent)
	}
	h.tr.deliver(t, joinerAddr, protocol.NewAcknowledgment(id))
	h.tick(100 * time.Millisecond)

	results := h.obs.of("result")
	if len(results) != 1 || !results[0].ok || results[0].id != id {
		t.Fatalf("results got=%+v", results)
	}
	if h.n.PendingCount() != 0 {
		t.Fatalf("pending=%d", h.n.PendingCount())
	}
}

func TestSendReliableBeforeFirstTick(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig(store.RoleLeader, leaderHash), nil)
	if _, err := h.n.SendReliable(joinerAddr, []byte("x")); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestMalformedDatagramsAreDropped(t *testing.T) {
	testlog.Start(t)
	h := standbyLeader(t, testConfig(store.RoleLeader, leaderHash), nil)
	h.tr.inbox = []string{
		"garbage",
		"3 bytes from fd00::2 12345 zzz",
		"2 bytes from fd00::2 12345 0909",
		"1 bytes from fd00::2 12345 01",
	}
	h.tick(100 * time.Millisecond)
	if len(h.obs.events) != 0 || len(h.tr.sent(t)) != 0 {
		t.Fatalf("malformed datagrams produced effects: %+v", h.obs.events)
	}
	h.expectState(t, StateStandby)
}

func TestLongPressWipesJoiner(t *testing.T) {
	testlog.Start(t)
	h := pairedJoiner(t)

	h.n.ButtonDown(h.now)
	h.tick(time.Second)
	h.expectState(t, StateJoinerPaired)
	h.tick(2 * time.Second)
	h.expectState(t, StateStandby)
	if _, err := h.store.LoadLeaderInfo(); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("leader info survived long press: %v", err)
	}
	if len(h.n.KnownPeers()) != 0 {
		t.Fatalf("peers survived long press: %v", h.n.KnownPeers())
	}

	h.n.ButtonUp(h.now.Add(500 * time.Millisecond))
	h.tick(time.Second)
	h.expectState(t, StateStandby)
}

func TestShortPressDebounce(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testConfig(store.RoleJoiner, joinerHash), nil)
	h.n.Tick(h.now)
	h.expectState(t, StateStandby)

	h.n.ButtonDown(h.now)
	h.n.ButtonUp(h.now.Add(10 * time.Millisecond))
	h.tick(100 * time.Millisecond)
	h.expectState(t, StateStandby)

	h.n.ButtonDown(h.now)
	h.n.ButtonUp(h.now.Add(200 * time.Millisecond))
	h.tick(300 * time.Millisecond)
	h.expectState(t, StateJoinerStart)
}

func TestLeaderWipeForgetsJoiners(t *testing.T) {
	testlog.Start(t)
	h := standbyLeader(t, testConfig(store.RoleLeader, leaderHash), nil)
	pairJoiner(t, h)
	h.n.Wipe(h.now)
	if len(h.n.KnownPeers()) != 0 {
		t.Fatalf("peers after wipe: %v", h.n.KnownPeers())
	}
	if entries, _ := h.store.ListJoiners(); len(entries) != 0 {
		t.Fatalf("persisted joiners after wipe: %+v", entries)
	}
	h.expectState(t, StateStandby)
}

func TestSnapshotReflectsRoleAndPeers(t *testing.T) {
	testlog.Start(t)
	h := standbyLeader(t, testConfig(store.RoleLeader, leaderHash), nil)
	pairJoiner(t, h)

	snap := h.n.Snapshot()
	if snap.State != "standby" || snap.Role != store.RoleLeader || !snap.Ready {
		t.Fatalf("leader snapshot got=%+v", snap)
	}
	if snap.Identity != leaderHash.String() || snap.Color != status.Blue.String() || snap.Blink {
		t.Fatalf("leader snapshot identity/pattern got=%+v", snap)
	}
	if len(snap.Peers) != 1 || snap.Peers[0].Address != joinerAddr || snap.Peers[0].Hash != joinerHash.String() {
		t.Fatalf("leader snapshot peers got=%+v", snap.Peers)
	}
	if !snap.At.Equal(h.now) {
		t.Fatalf("snapshot time got=%v want=%v", snap.At, h.now)
	}

	j := pairedJoiner(t)
	snap = j.n.Snapshot()
	if snap.State != "joiner_paired" || len(snap.Peers) != 1 || snap.Peers[0].Address != leaderAddr {
		t.Fatalf("joiner snapshot got=%+v", snap)
	}
}
