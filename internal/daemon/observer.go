package daemon

import (
	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/danmuck/lightmesh/internal/node"
)

// fanout forwards every node event to each observer in order.
type fanout []node.Observer

func (f fanout) OnReceive(addr string, reliable bool, payload []byte) {
	for _, o := range f {
		o.OnReceive(addr, reliable, payload)
	}
}

func (f fanout) OnDeliveryResult(id uint16, addr string, success bool) {
	for _, o := range f {
		o.OnDeliveryResult(id, addr, success)
	}
}

func (f fanout) OnPeerJoined(addr string, hash identity.Hash) {
	for _, o := range f {
		o.OnPeerJoined(addr, hash)
	}
}

func (f fanout) OnPeerRejoined(addr string, hash identity.Hash) {
	for _, o := range f {
		o.OnPeerRejoined(addr, hash)
	}
}
