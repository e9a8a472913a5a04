package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/templedesk/api/internal/apperr"
	"github.com/templedesk/api/internal/auth"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024

	// Time allowed for a relayed message to be handled
	relayTimeout = 15 * time.Second
)

// Message types sent by the console while a checkout is open.
const (
	MessagePaymentCallback = "PAYMENT_CALLBACK"
	MessageCheckoutClosed  = "CHECKOUT_CLOSED"
)

// Message is a console-to-server message. Origin is the origin the checkout
// window's callback came from, as seen by the console.
type Message struct {
	Type      string    `json:"type"`
	PaymentID uuid.UUID `json:"payment_id"`
	Status    string    `json:"status"`
	Origin    string    `json:"origin"`
}

// Relay handles checkout messages coming from the console.
// Satisfied by *payment.Manager.
type Relay interface {
	RelayCallback(ctx context.Context, invoiceID, paymentID uuid.UUID, status, origin string) error
	CheckoutClosed(ctx context.Context, invoiceID, paymentID uuid.UUID) error
}

// Client represents a single WebSocket connection
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	invoiceID uuid.UUID
	relay     Relay
	send      chan []byte
}

// ReadPump pumps messages from the WebSocket connection to the relay.
// The application runs ReadPump in a per-connection goroutine
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read error", zap.Error(err))
			}
			break
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(NewEvent(EventError, map[string]string{"message": "invalid message"}))
		return
	}
	if c.relay == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case MessagePaymentCallback:
		err = c.relay.RelayCallback(ctx, c.invoiceID, msg.PaymentID, msg.Status, msg.Origin)
	case MessageCheckoutClosed:
		err = c.relay.CheckoutClosed(ctx, c.invoiceID, msg.PaymentID)
	default:
		c.reply(NewEvent(EventError, map[string]string{"message": "unknown message type " + msg.Type}))
		return
	}
	if err == nil {
		return
	}

	message := "internal server error"
	if e, ok := apperr.As(err); ok {
		message = e.Message()
	} else {
		c.hub.logger.Error("relay checkout message",
			zap.String("type", msg.Type),
			zap.String("payment_id", msg.PaymentID.String()),
			zap.Error(err),
		)
	}
	c.reply(NewEvent(EventError, map[string]string{"message": message, "payment_id": msg.PaymentID.String()}))
}

// reply queues an event for this client only. It is dropped when the send
// buffer is full.
func (c *Client) reply(event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.rooms[c.invoiceID][c] {
		return
	}
	select {
	case c.send <- message:
	default:
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
// The application runs WritePump in a per-connection goroutine
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Handler serves the payment channel of an invoice.
// Endpoint: WS /ws/invoices/{id}/payments?token=JWT
func (h *Hub) Handler(jwtSecret string, relay Relay) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return h.originAllowed(r.Header.Get("Origin"))
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		if _, err := auth.ValidateToken(jwtSecret, tokenStr); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		invoiceID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid invoice id", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			hub:       h,
			conn:      conn,
			invoiceID: invoiceID,
			relay:     relay,
			send:      make(chan []byte, 256),
		}
		h.register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}
