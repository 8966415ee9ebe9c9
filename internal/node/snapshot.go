package node

import "time"

// Peer is one known peer as seen from this node.
type Peer struct {
	Address  string    `json:"address"`
	Hash     string    `json:"hash,omitempty"`
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// Snapshot is a copy of node state safe to hand to other goroutines.
type Snapshot struct {
	State    string    `json:"state"`
	Role     string    `json:"role"`
	Identity string    `json:"identity"`
	Ready    bool      `json:"ready"`
	Pending  int       `json:"pending"`
	Color    string    `json:"color"`
	Blink    bool      `json:"blink"`
	Peers    []Peer    `json:"peers"`
	At       time.Time `json:"at"`
}

// Snapshot captures the node's current state.
func (n *Node) Snapshot() Snapshot {
	p := n.state.Pattern()
	snap := Snapshot{
		State:    n.state.String(),
		Role:     n.role,
		Identity: n.cfg.Identity.String(),
		Ready:    n.IsReady(),
		Pending:  n.engine.PendingCount(),
		Color:    p.Color.String(),
		Blink:    p.Blink,
		At:       n.now,
	}
	if n.isLeader() {
		recs := n.joiners.All()
		snap.Peers = make([]Peer, 0, len(recs))
		for _, rec := range recs {
			peer := Peer{Address: rec.Address, Hash: rec.Hash.String(), LastSeen: rec.LastHeartbeat}
			if at, ok := n.roster.LastSeen(rec.Address); ok {
				peer.LastSeen = at
			}
			snap.Peers = append(snap.Peers, peer)
		}
		return snap
	}
	if n.hasLeader {
		peer := Peer{Address: n.leader.Address}
		if n.leader.Hash != 0 {
			peer.Hash = n.leader.Hash.String()
		}
		peer.LastSeen = n.watch.LastEcho()
		snap.Peers = []Peer{peer}
	}
	return snap
}
