package hub

import (
	"encoding/json"
	"log"
	"sync"
)

// Event is a real-time battle notification fanned out to every client
// watching a match or lobby. Events are only published after the row write
// they describe has committed.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client is one subscriber's delivery channel. The SSE handler drains it.
type Client chan []byte

// Hub manages per-topic subscriber sets. Topics are keyed by match or lobby
// id; a topic disappears when its last client unsubscribes.
type Hub struct {
	topics map[string]map[Client]bool
	mu     sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		topics: make(map[string]map[Client]bool),
	}
}

// Subscribe adds a client to a topic.
func (h *Hub) Subscribe(topicID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.topics[topicID]; !ok {
		h.topics[topicID] = make(map[Client]bool)
	}
	h.topics[topicID][client] = true
}

// Unsubscribe removes a client and closes its channel, signalling the SSE
// handler to stop. Safe to call for a client that was never subscribed.
func (h *Hub) Unsubscribe(topicID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.topics[topicID]
	if !ok {
		return
	}
	if _, ok := clients[client]; ok {
		delete(clients, client)
		close(client)
		if len(clients) == 0 {
			delete(h.topics, topicID)
		}
	}
}

// Broadcast sends an event to every client on a topic. Sends are
// non-blocking so one slow client cannot stall the engine.
func (h *Hub) Broadcast(topicID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.topics[topicID]
	if !ok {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[HUB] failed to marshal %s event: %v", event.Type, err)
		return
	}

	for client := range clients {
		select {
		case client <- payload:
		default:
			// Channel full: slow or gone client, unsubscribe cleans it up.
		}
	}
}
