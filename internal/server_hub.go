package internal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrPublishTimeout is returned when a broadcast cannot be queued in time.
var ErrPublishTimeout = errors.New("broadcast timed out")

const (
	defaultPublishTimeout = 2 * time.Second
	broadcastBuffer       = 256
)

// Hub tracks which connections are subscribed to which rooms. Channels
// are created on first join and removed once their last subscriber leaves.
type Hub struct {
	mutex          sync.RWMutex
	rooms          map[string]*channel
	joined         map[*Client]map[string]struct{}
	publishTimeout time.Duration
	logger         *slog.Logger
	metrics        *Metrics
}

func NewHub(logger *slog.Logger, metrics *Metrics, publishTimeout time.Duration) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	return &Hub{
		rooms:          make(map[string]*channel),
		joined:         make(map[*Client]map[string]struct{}),
		publishTimeout: publishTimeout,
		logger:         logger.With("component", "hub"),
		metrics:        metrics,
	}
}

// Join subscribes the client to roomID. Joining twice is a no-op.
func (hub *Hub) Join(roomID string, client *Client) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	ch, exists := hub.rooms[roomID]
	if !exists {
		ch = newChannel(hub, roomID)
		hub.rooms[roomID] = ch
		go ch.run()
	}
	ch.add(client)
	rooms := hub.joined[client]
	if rooms == nil {
		rooms = make(map[string]struct{})
		hub.joined[client] = rooms
	}
	rooms[roomID] = struct{}{}
}

// Leave removes the client from every room it joined.
func (hub *Hub) Leave(client *Client) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	for roomID := range hub.joined[client] {
		hub.removeLocked(roomID, client)
	}
	delete(hub.joined, client)
}

func (hub *Hub) removeLocked(roomID string, client *Client) {
	ch, exists := hub.rooms[roomID]
	if !exists {
		return
	}
	if ch.remove(client) == 0 {
		delete(hub.rooms, roomID)
		close(ch.quit)
	}
}

// Subscribers counts clients currently joined to roomID.
func (hub *Hub) Subscribers(roomID string) int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	if ch, exists := hub.rooms[roomID]; exists {
		return ch.size()
	}
	return 0
}

// Publish queues payload for every subscriber of roomID. Payloads queued
// for one room are delivered in the order Publish was called. A room
// without subscribers is not an error.
func (hub *Hub) Publish(ctx context.Context, roomID string, payload []byte) error {
	hub.mutex.RLock()
	ch := hub.rooms[roomID]
	hub.mutex.RUnlock()
	if ch == nil {
		return nil
	}

	timer := time.NewTimer(hub.publishTimeout)
	defer timer.Stop()
	select {
	case ch.broadcast <- payload:
		return nil
	case <-ch.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if hub.metrics != nil {
			hub.metrics.IncPublishTimeout()
		}
		hub.logger.Warn("publish timed out", "room", roomID, "timeout", hub.publishTimeout)
		return ErrPublishTimeout
	}
}

// Close stops every channel goroutine and disconnects subscribed clients.
func (hub *Hub) Close() {
	hub.mutex.Lock()
	for roomID, ch := range hub.rooms {
		delete(hub.rooms, roomID)
		close(ch.quit)
	}
	clients := make([]*Client, 0, len(hub.joined))
	for client := range hub.joined {
		clients = append(clients, client)
	}
	hub.joined = make(map[*Client]map[string]struct{})
	hub.mutex.Unlock()

	for _, client := range clients {
		client.close()
	}
}

func (hub *Hub) dropSlow(roomID string, client *Client) {
	hub.mutex.Lock()
	_, subscribed := hub.joined[client][roomID]
	if subscribed {
		delete(hub.joined[client], roomID)
		hub.removeLocked(roomID, client)
	}
	hub.mutex.Unlock()
	if !subscribed {
		return
	}
	if hub.metrics != nil {
		hub.metrics.IncDropped()
	}
	hub.logger.Warn("dropping slow subscriber", "room", roomID, "client", client.id)
	client.close()
}

// LeaveRoom unsubscribes the client from a single room.
func (hub *Hub) LeaveRoom(roomID string, client *Client) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if _, subscribed := hub.joined[client][roomID]; !subscribed {
		return
	}
	delete(hub.joined[client], roomID)
	hub.removeLocked(roomID, client)
}
