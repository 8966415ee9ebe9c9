package node

import (
	"time"

	"github.com/danmuck/lightmesh/internal/identity"
)

// Transport is the mesh-stack command line.
type Transport interface {
	// Execute runs command and waits for a response containing match.
	Execute(command, match string, timeout time.Duration) (string, error)
	// Submit runs command without waiting for its response.
	Submit(command string) error
	// Poll returns datagram lines received within wait.
	Poll(wait time.Duration) []string
}

// Observer receives node events. Calls happen on the tick goroutine and
// must not block.
type Observer interface {
	OnReceive(addr string, reliable bool, payload []byte)
	OnDeliveryResult(id uint16, addr string, success bool)
	OnPeerJoined(addr string, hash identity.Hash)
	OnPeerRejoined(addr string, hash identity.Hash)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnReceive(string, bool, []byte)        {}
func (NopObserver) OnDeliveryResult(uint16, string, bool) {}
func (NopObserver) OnPeerJoined(string, identity.Hash)    {}
func (NopObserver) OnPeerRejoined(string, identity.Hash)  {}
