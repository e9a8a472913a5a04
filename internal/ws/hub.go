package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event types pushed to the console.
const (
	EventPaymentSucceeded = "PAYMENT_SUCCEEDED"
	EventPaymentFailed    = "PAYMENT_FAILED"
	EventPaymentTimedOut  = "PAYMENT_TIMED_OUT"
	EventError            = "ERROR"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event.
func NewEvent(eventType string, payload any) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("null")
	}
	return Event{Type: eventType, Payload: raw}
}

// invoiceEvent routes an event to one invoice room
type invoiceEvent struct {
	InvoiceID uuid.UUID
	Event     Event
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients by invoice ID
	rooms map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *invoiceEvent

	mu sync.RWMutex

	allowedOrigins map[string]bool
	logger         *zap.Logger
}

// NewHub creates a Hub. Upgrades are accepted from allowedOrigins only; an
// empty list accepts requests without an Origin header only.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Hub{
		rooms:          make(map[uuid.UUID]map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *invoiceEvent, 256),
		allowedOrigins: origins,
		logger:         logger,
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled.
// This should be called as a goroutine: go hub.Run(ctx)
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.invoiceID] == nil {
				h.rooms[client.invoiceID] = make(map[*Client]bool)
			}
			h.rooms[client.invoiceID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			message, err := json.Marshal(event.Event)
			if err != nil {
				h.logger.Error("marshal websocket event", zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.rooms[event.InvoiceID] {
				select {
				case client.send <- message:
				default:
					// Client's send buffer is full
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.rooms[client.invoiceID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.invoiceID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.rooms {
		for client := range clients {
			h.remove(client)
		}
	}
}

// BroadcastToInvoice sends an event to every console watching the invoice.
func (h *Hub) BroadcastToInvoice(invoiceID uuid.UUID, event Event) {
	h.broadcast <- &invoiceEvent{
		InvoiceID: invoiceID,
		Event:     event,
	}
}

// RoomSize reports how many clients watch an invoice.
func (h *Hub) RoomSize(invoiceID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[invoiceID])
}

func (h *Hub) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	return h.allowedOrigins[origin]
}
