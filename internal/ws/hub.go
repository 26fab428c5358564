package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"im-service/internal/delivery"
	"im-service/internal/models"
	"im-service/internal/observability"
	"im-service/internal/userlock"
)

var ErrSendQueueFull = errors.New("send queue full")

const defaultSendBuffer = 64

type client struct {
	info ConnInfo
	send chan []byte
}

// Hub keeps every local websocket connection grouped by user and delivers
// frames to them. It implements delivery.Delivery for this process.
type Hub struct {
	mu      sync.RWMutex
	users   map[int64]map[*client]struct{}
	bufSize int

	transitions userlock.Locks
}

var _ delivery.Delivery = (*Hub)(nil)

// NewHub creates an empty hub. bufSize bounds each connection's queue.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = defaultSendBuffer
	}
	return &Hub{users: make(map[int64]map[*client]struct{}), bufSize: bufSize}
}

// lockUser orders one user's register+connect and unregister+disconnect
// pairs, so a reconnect's connect never precedes the old socket's disconnect.
func (h *Hub) lockUser(userID int64) (unlock func()) {
	return h.transitions.Lock(userID)
}

// Register adds a connection and reports whether it is the user's first.
func (h *Hub) Register(info ConnInfo) (*client, bool) {
	c := &client{info: info, send: make(chan []byte, h.bufSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.users[info.UserID]
	if !ok {
		conns = make(map[*client]struct{})
		h.users[info.UserID] = conns
	}
	conns[c] = struct{}{}
	return c, len(conns) == 1
}

// Unregister removes a connection, closes its queue and reports whether the
// user has no connections left.
func (h *Hub) Unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.users[c.info.UserID]
	if !ok {
		return false
	}
	if _, ok := conns[c]; !ok {
		return false
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.users, c.info.UserID)
		return true
	}
	return false
}

// SendToUser queues the frame on every connection of userID. A user with no
// local connection is not an error; the message is already stored.
func (h *Hub) SendToUser(ctx context.Context, userID int64, channel delivery.Channel, payload any) error {
	data, err := json.Marshal(models.ServerFrame{Channel: string(channel), Payload: payload})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return h.deliverLocal(userID, string(channel), data)
}

// deliverLocal enqueues an already encoded frame.
func (h *Hub) deliverLocal(userID int64, channel string, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var dropped int
	for c := range h.users[userID] {
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		observability.IncDeliveryDropped(channel)
		return fmt.Errorf("user %d channel %s: %w", userID, channel, ErrSendQueueFull)
	}
	return nil
}

// Broadcast queues the frame on every connection. Full queues are skipped.
func (h *Hub) Broadcast(ctx context.Context, topic delivery.Topic, payload any) error {
	data, err := json.Marshal(models.ServerFrame{Channel: string(topic), Payload: payload})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	h.broadcastLocal(string(topic), data)
	return nil
}

func (h *Hub) broadcastLocal(topic string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conns := range h.users {
		for c := range conns {
			select {
			case c.send <- data:
			default:
				observability.IncDeliveryDropped(topic)
			}
		}
	}
}

// DeliverEncoded hands a frame received from another instance to local
// connections. userID 0 means every connection.
func (h *Hub) DeliverEncoded(userID int64, channel string, data []byte) error {
	if userID == 0 {
		h.broadcastLocal(channel, data)
		return nil
	}
	return h.deliverLocal(userID, channel, data)
}

// ConnectedUsers returns the number of users with at least one connection.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

func (h *Hub) Connections(userID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
