package session

import (
	"sort"
	"time"
)

// PendingDelivery tracks one reliable message awaiting acknowledgment.
type PendingDelivery struct {
	MessageID   uint16
	Destination string
	Payload     []byte
	QueuedAt    time.Time
	TimeSent    time.Time
	RetryCount  int
}

// Outbox stores pending deliveries by message id.
type Outbox struct {
	capacity int
	items    map[uint16]PendingDelivery
}

func NewOutbox(capacity int) *Outbox {
	return &Outbox{
		capacity: capacity,
		items:    make(map[uint16]PendingDelivery),
	}
}

// Insert adds item unless the outbox is full or the id is taken.
func (o *Outbox) Insert(item PendingDelivery) bool {
	if _, taken := o.items[item.MessageID]; taken {
		return false
	}
	if o.capacity > 0 && len(o.items) >= o.capacity {
		return false
	}
	o.items[item.MessageID] = item
	return true
}

func (o *Outbox) MarkAttempt(id uint16, at time.Time) (PendingDelivery, bool) {
	item, ok := o.items[id]
	if !ok {
		return PendingDelivery{}, false
	}
	item.RetryCount++
	item.TimeSent = at
	o.items[id] = item
	return item, true
}

func (o *Outbox) Remove(id uint16) (PendingDelivery, bool) {
	item, ok := o.items[id]
	if ok {
		delete(o.items, id)
	}
	return item, ok
}

func (o *Outbox) Get(id uint16) (PendingDelivery, bool) {
	item, ok := o.items[id]
	return item, ok
}

func (o *Outbox) Contains(id uint16) bool {
	_, ok := o.items[id]
	return ok
}

func (o *Outbox) Len() int {
	return len(o.items)
}

func (o *Outbox) Full() bool {
	return o.capacity > 0 && len(o.items) >= o.capacity
}

// List returns pending deliveries ordered by message id.
func (o *Outbox) List() []PendingDelivery {
	out := make([]PendingDelivery, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MessageID < out[j].MessageID
	})
	return out
}
