// Package realtime serves the websocket hub that pushes tribe events to connected members.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

const sendBuffer = 32

// Personalizer is implemented by payloads that carry per-recipient content.
type Personalizer interface {
	Personalize(publicKey string) any
}

// Envelope is the frame written to clients.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type client struct {
	accountID uuid.UUID
	publicKey string
	send      chan []byte

	// guarded by Hub.mu
	groups map[string]struct{}
	closed bool
}

// Hub tracks connections by tribe group. Slow clients are disconnected rather than
// allowed to block a broadcast.
type Hub struct {
	mu     sync.Mutex
	groups map[string]map[*client]struct{}
	log    *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{groups: make(map[string]map[*client]struct{}), log: log}
}

func newClient(accountID uuid.UUID, publicKey string) *client {
	return &client{
		accountID: accountID,
		publicKey: publicKey,
		send:      make(chan []byte, sendBuffer),
		groups:    make(map[string]struct{}),
	}
}

func (h *Hub) join(c *client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	members := h.groups[group]
	if members == nil {
		members = make(map[*client]struct{})
		h.groups[group] = members
	}
	members[c] = struct{}{}
	c.groups[group] = struct{}{}
}

func (h *Hub) leave(c *client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, group)
}

func (h *Hub) leaveLocked(c *client, group string) {
	if members, ok := h.groups[group]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	delete(c.groups, group)
}

// drop removes c from every group and closes its send channel once.
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if c.closed {
		return
	}
	for g := range c.groups {
		h.leaveLocked(c, g)
	}
	c.closed = true
	close(c.send)
}

// Broadcast writes event to every client in group. Payloads implementing
// Personalizer are rendered once per distinct public key.
func (h *Hub) Broadcast(group, event string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.groups[group]
	if len(members) == 0 {
		return
	}

	p, personal := payload.(Personalizer)
	frames := make(map[string][]byte)
	frame := func(publicKey string) []byte {
		if !personal {
			publicKey = ""
		}
		if b, ok := frames[publicKey]; ok {
			return b
		}
		data := payload
		if personal {
			data = p.Personalize(publicKey)
		}
		b, err := json.Marshal(Envelope{Type: event, Data: data})
		if err != nil {
			h.log.Error("encode event", zap.String("event", event), zap.Error(err))
			b = nil
		}
		frames[publicKey] = b
		return b
	}

	for c := range members {
		b := frame(c.publicKey)
		if b == nil {
			return
		}
		select {
		case c.send <- b:
		default:
			h.log.Warn("dropping slow client", zap.Stringer("account", c.accountID))
			h.dropLocked(c)
		}
	}
}

// GroupSize reports the number of connections in group.
func (h *Hub) GroupSize(group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[group])
}
