package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/lightmesh/internal/observability"
	"github.com/danmuck/lightmesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoDestination = errors.New("session: missing destination")
	ErrOutboxFull    = errors.New("session: pending delivery table full")
)

// Outcome is the terminal state of one reliable delivery.
type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeExhausted Outcome = "exhausted"
	OutcomePurged    Outcome = "purged"
)

// Result is reported exactly once per message id.
type Result struct {
	MessageID   uint16
	Destination string
	Outcome     Outcome
	Attempts    int
}

func (r Result) Success() bool {
	return r.Outcome == OutcomeDelivered
}

// Sender puts one datagram on the mesh. Errors are logged; a lost send is
// indistinguishable from a lost packet and is covered by retries.
type Sender interface {
	SendDatagram(dest string, msg protocol.Message) error
}

// Engine assigns message ids, retransmits on a fixed schedule, and resolves
// deliveries on acknowledgment or exhaustion.
type Engine struct {
	cfg      Config
	sender   Sender
	outbox   *Outbox
	nextID   uint16
	onResult func(Result)
}

func NewEngine(cfg Config, sender Sender, onResult func(Result)) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, errors.New("session: nil sender")
	}
	if onResult == nil {
		onResult = func(Result) {}
	}
	return &Engine{
		cfg:      cfg,
		sender:   sender,
		outbox:   NewOutbox(cfg.MaxPending),
		onResult: onResult,
	}, nil
}

// Send records a pending delivery and transmits it once.
func (e *Engine) Send(now time.Time, dest string, payload []byte) (uint16, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return 0, ErrNoDestination
	}
	if e.outbox.Full() {
		return 0, fmt.Errorf("%w: %d pending", ErrOutboxFull, e.outbox.Len())
	}

	id := e.allocateID()
	body := append([]byte(nil), payload...)
	e.outbox.Insert(PendingDelivery{
		MessageID:   id,
		Destination: dest,
		Payload:     body,
		QueuedAt:    now,
		TimeSent:    now,
	})
	observability.SetPendingDeliveries(e.outbox.Len())

	if err := e.sender.SendDatagram(dest, protocol.NewReliable(id, body)); err != nil {
		log.Warn().Err(err).Uint16("message_id", id).Str("addr", dest).Msg("session.Engine.Send initial transmit failed")
	}
	return id, nil
}

// allocateID returns the next sequential id, skipping ids still pending after
// a wrap.
func (e *Engine) allocateID() uint16 {
	for {
		id := e.nextID
		e.nextID++
		if !e.outbox.Contains(id) {
			return id
		}
		log.Debug().Uint16("message_id", id).Msg("session.Engine skip id still pending")
	}
}

// Tick retransmits due deliveries and fails those past the retry limit.
func (e *Engine) Tick(now time.Time) {
	for _, item := range e.outbox.List() {
		if now.Sub(item.TimeSent) < e.cfg.RetryInterval {
			continue
		}
		if item.RetryCount >= e.cfg.RetryLimit {
			e.outbox.Remove(item.MessageID)
			log.Warn().
				Uint16("message_id", item.MessageID).
				Str("addr", item.Destination).
				Int("retries", item.RetryCount).
				Msg("session.Engine delivery exhausted")
			e.resolve(item, OutcomeExhausted)
			continue
		}
		updated, _ := e.outbox.MarkAttempt(item.MessageID, now)
		observability.RecordRetransmission()
		log.Debug().
			Uint16("message_id", item.MessageID).
			Str("addr", item.Destination).
			Int("retry", updated.RetryCount).
			Msg("session.Engine retransmit")
		if err := e.sender.SendDatagram(item.Destination, protocol.NewReliable(item.MessageID, item.Payload)); err != nil {
			log.Warn().Err(err).Uint16("message_id", item.MessageID).Msg("session.Engine retransmit failed")
		}
	}
}

// Acknowledge resolves id as delivered. Unknown or already resolved ids
// return false and have no effect.
func (e *Engine) Acknowledge(id uint16) bool {
	item, ok := e.outbox.Remove(id)
	if !ok {
		log.Debug().Uint16("message_id", id).Msg("session.Engine ack for unknown message")
		return false
	}
	e.resolve(item, OutcomeDelivered)
	return true
}

// PurgeDestination drops every pending delivery addressed to dest and reports
// each as purged.
func (e *Engine) PurgeDestination(dest string) int {
	purged := 0
	for _, item := range e.outbox.List() {
		if item.Destination != dest {
			continue
		}
		e.outbox.Remove(item.MessageID)
		e.resolve(item, OutcomePurged)
		purged++
	}
	return purged
}

func (e *Engine) Pending() []PendingDelivery {
	return e.outbox.List()
}

func (e *Engine) PendingCount() int {
	return e.outbox.Len()
}

func (e *Engine) resolve(item PendingDelivery, outcome Outcome) {
	observability.RecordDeliveryResult(string(outcome))
	observability.SetPendingDeliveries(e.outbox.Len())
	e.onResult(Result{
		MessageID:   item.MessageID,
		Destination: item.Destination,
		Outcome:     outcome,
		Attempts:    item.RetryCount + 1,
	})
}
