package internal

import "sync"

// channel fans broadcasts for one room out to its subscribers.
type channel struct {
	hub       *Hub
	id        string
	mutex     sync.RWMutex
	clients   map[*Client]struct{}
	broadcast chan []byte
	quit      chan struct{}
}

func newChannel(hub *Hub, id string) *channel {
	return &channel{
		hub:       hub,
		id:        id,
		clients:   make(map[*Client]struct{}),
		broadcast: make(chan []byte, broadcastBuffer),
		quit:      make(chan struct{}),
	}
}

func (ch *channel) add(client *Client) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()
	ch.clients[client] = struct{}{}
}

// remove returns the number of subscribers left.
func (ch *channel) remove(client *Client) int {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()
	delete(ch.clients, client)
	return len(ch.clients)
}

func (ch *channel) size() int {
	ch.mutex.RLock()
	defer ch.mutex.RUnlock()
	return len(ch.clients)
}

func (ch *channel) run() {
	var slow []*Client
	for {
		select {
		case <-ch.quit:
			return
		case payload := <-ch.broadcast:
			// A subscriber whose queue is full is dropped so it cannot hold
			// back the others.
			ch.mutex.RLock()
			for client := range ch.clients {
				if !client.deliver(payload) {
					slow = append(slow, client)
				}
			}
			ch.mutex.RUnlock()
			for _, client := range slow {
				ch.hub.dropSlow(ch.id, client)
			}
			slow = slow[:0]
		}
	}
}
