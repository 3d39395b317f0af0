// Package hub fans queue updates out to connected display and desk clients.
package hub

import (
	"encoding/json"
	"sync"
)

// Client is one connected sockjs session. Day is the queue day it watches;
// empty means it receives nothing until it subscribes.
type Client struct {
	ID   string
	Send chan []byte
	Day  string
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		delete(h.clients, clientID)
		close(client.Send)
	}
}

func (h *Hub) UpdateSubscription(clientID, day string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		client.Day = day
	}
}

// Broadcast sends payload to every client watching day. A client whose send
// buffer is full misses the message; the next snapshot or poll catches it up.
func (h *Hub) Broadcast(day string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Day != day {
			continue
		}
		select {
		case client.Send <- payload:
		default:
		}
	}
}

// Days lists the distinct days with at least one subscriber.
func (h *Hub) Days() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool)
	var days []string
	for _, client := range h.clients {
		if client.Day == "" || seen[client.Day] {
			continue
		}
		seen[client.Day] = true
		days = append(days, client.Day)
	}
	return days
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscribeMessage is what clients send to pick a day.
type SubscribeMessage struct {
	Action string `json:"action"`
	Day    string `json:"day"`
}

func ParseSubscribe(raw []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	return msg, msg.Action == "subscribe"
}
