// Package broadcast fans station state and incidents out to subscribers.
//
// The hub carries two logical channels: "live" (the full station state after
// every mutation, keyed by station id) and "incident" (threshold crossings
// only). Publishing never blocks the router: a subscriber whose buffer is
// full has the message dropped and a counter bumped. Broadcast is strictly
// fire-and-forget; its failure modes never reach frame processing.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/basketproof/sentinel/internal/alert"
	"github.com/basketproof/sentinel/internal/station"
)

// Channel names a logical outbound stream.
type Channel string

const (
	// ChannelLive carries full station state after every mutation.
	ChannelLive Channel = "live"
	// ChannelIncident carries incidents only.
	ChannelIncident Channel = "incident"
)

// DefaultBuffer is the per-subscriber channel depth.
const DefaultBuffer = 64

// Subscription is one subscriber's view of a channel. Messages arrive on C
// as marshaled JSON; the channel is closed on Cancel or hub Close.
type Subscription struct {
	ID      string
	Channel Channel
	C       <-chan []byte

	hub     *Hub
	ch      chan []byte
	dropped atomic.Uint64
	once    sync.Once
}

// Cancel removes the subscription from the hub and closes C.
func (s *Subscription) Cancel() {
	s.hub.unsubscribe(s)
}

// Dropped returns how many messages were dropped because the subscriber
// was not keeping up.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Hub is the in-process fan-out point.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
	log    *slog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]*Subscription),
		log:  slog.Default(),
	}
}

// Subscribe registers a subscriber on a channel. buffer <= 0 uses
// DefaultBuffer.
func (h *Hub) Subscribe(ch Channel, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	c := make(chan []byte, buffer)
	sub := &Subscription{
		ID:      uuid.NewString(),
		Channel: ch,
		C:       c,
		hub:     h,
		ch:      c,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c)
		return sub
	}
	h.subs[sub.ID] = sub
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	h.mu.Unlock()
	if ok {
		sub.once.Do(func() { close(sub.ch) })
	}
}

// publish marshals payload once and delivers it to every subscriber of the
// channel without blocking.
func (h *Hub) publish(ch Channel, payload any) {
	msg, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("broadcast: dropping message, marshal failed", "channel", ch, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if sub.Channel != ch {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Live publishes a station's full state, keyed by station id.
func (h *Hub) Live(stationID string, st station.State) {
	h.publish(ChannelLive, map[string]station.State{stationID: st})
}

// Incident publishes one incident.
func (h *Hub) Incident(inc alert.Incident) {
	h.publish(ChannelIncident, inc)
}

// SubscriberCount returns the number of active subscriptions on a channel.
func (h *Hub) SubscriberCount(ch Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sub := range h.subs {
		if sub.Channel == ch {
			n++
		}
	}
	return n
}

// Close shuts the hub down and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(h.subs, id)
	}
}
