package ws

import (
	"log"
	"sync"
)

// Hub tracks which clients are currently joined to which room and fans
// out updates. Membership changes are synchronous so a join is visible
// to every broadcast that follows it.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]bool),
	}
}

func (h *Hub) Join(roomID string, client *Client) {
	h.mu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	count := len(h.rooms[roomID])
	h.mu.Unlock()

	log.Printf("Client %s joined room %s (connected: %d)", client.identity.Name, roomID, count)
}

func (h *Hub) Leave(roomID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)

	if len(clients) == 0 {
		delete(h.rooms, roomID)
		log.Printf("Room %s has no connected clients", roomID)
	} else {
		log.Printf("Client %s left room %s (remaining: %d)", client.identity.Name, roomID, len(clients))
	}
}

// Broadcast delivers data to every client joined to the room, except
// exclude when non-nil (the sender already has the state locally).
func (h *Hub) Broadcast(roomID string, data []byte, exclude *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[roomID]))
	for client := range h.rooms[roomID] {
		if client != exclude {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.enqueue(data) {
			// Send buffer full: the client can no longer keep up.
			log.Printf("Dropping slow client %s in room %s", client.identity.Name, roomID)
			client.shutdown()
		}
	}
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, clients := range h.rooms {
		count += len(clients)
	}
	return count
}

// ActiveRooms returns connected-client counts keyed by room ID.
func (h *Hub) ActiveRooms() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	active := make(map[string]int, len(h.rooms))
	for id, clients := range h.rooms {
		active[id] = len(clients)
	}
	return active
}
