package delivery

import (
	"encoding/json"
	"sync"

	"github.com/tripwell/notify/internal/domain"
)

// Hub tracks live in-app sessions and pushes notifications to them.
// The API layer surfaces subscriber channels to browsers over SSE.
// Slow clients drop messages rather than blocking delivery.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[chan []byte]bool // user id -> subscriber channels
}

// NewHub creates an empty in-app hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[chan []byte]bool)}
}

// Subscribe registers a live session for a user and returns its channel.
func (h *Hub) Subscribe(userID string) chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[chan []byte]bool)
	}
	h.clients[userID][ch] = true
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a live session.
func (h *Hub) Unsubscribe(userID string, ch chan []byte) {
	h.mu.Lock()
	if subs := h.clients[userID]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()
	close(ch)
}

// Connected reports whether the user has at least one live session.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Publish delivers a notification to every live session for the user.
// Returns the number of sessions that accepted the message.
func (h *Hub) Publish(userID string, n *domain.Notification) int {
	msg, err := json.Marshal(n)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for ch := range h.clients[userID] {
		select {
		case ch <- msg:
			delivered++
		default:
			// slow client — drop message
		}
	}
	return delivered
}
