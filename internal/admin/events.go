package admin

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/danmuck/lightmesh/internal/identity"
	"github.com/danmuck/lightmesh/internal/node"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	clientBuffer = 256
	hubBuffer    = 64
	writeWait    = 5 * time.Second
)

// Event kinds streamed on /events.
const (
	EventReceive  = "receive"
	EventDelivery = "delivery"
	EventJoined   = "peer_joined"
	EventRejoined = "peer_rejoined"
)

// Event is one node observer callback rendered for websocket clients.
type Event struct {
	Kind       string    `json:"kind"`
	Address    string    `json:"address"`
	Hash       string    `json:"hash,omitempty"`
	MessageID  uint16    `json:"message_id,omitempty"`
	Reliable   bool      `json:"reliable,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	PayloadHex string    `json:"payload_hex,omitempty"`
	At         time.Time `json:"at"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans node events out to websocket clients. It implements
// node.Observer; publishing never blocks the caller.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	count      atomic.Int64
	dropped    atomic.Uint64
	now        func() time.Time
}

var _ node.Observer = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, hubBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run services registrations and broadcasts until ctx is done. A hub runs
// once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.count.Store(0)
			return
		case c := <-h.register:
			h.clients[c] = true
			h.count.Store(int64(len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.count.Store(int64(len(h.clients)))
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					log.Warn().Msg("admin events client too slow, disconnecting")
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Dropped returns how many events were discarded because the hub was busy.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Publish queues ev for every connected client.
func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = h.now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("kind", ev.Kind).Msg("admin event encode failed")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) OnReceive(addr string, reliable bool, payload []byte) {
	h.Publish(Event{Kind: EventReceive, Address: addr, Reliable: reliable, PayloadHex: hex.EncodeToString(payload)})
}

func (h *Hub) OnDeliveryResult(id uint16, addr string, success bool) {
	outcome := "failed"
	if success {
		outcome = "delivered"
	}
	h.Publish(Event{Kind: EventDelivery, Address: addr, MessageID: id, Reliable: true, Outcome: outcome})
}

func (h *Hub) OnPeerJoined(addr string, hash identity.Hash) {
	h.Publish(Event{Kind: EventJoined, Address: addr, Hash: hash.String()})
}

func (h *Hub) OnPeerRejoined(addr string, hash identity.Hash) {
	h.Publish(Event{Kind: EventRejoined, Address: addr, Hash: hash.String()})
}

// serveWs upgrades the request and blocks until the client goes away.
func (h *Hub) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("admin events upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	go c.writePump()
	c.readPump()
}

// readPump discards inbound frames; it exists to notice the close.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Debug().Err(err).Msg("admin events write failed")
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
