// Package websocket pushes validation state to browser clients. Each
// client follows one topic (a validation session id) and receives every
// event published to it until the topic is closed or the client leaves.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Event types.
const (
	EventState  = "session.state"
	EventClosed = "session.closed"
)

// Event is one message sent to stream clients.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Client is a single stream connection.
type Client struct {
	ID    string
	Topic string
	Send  chan []byte
}

// NewClient returns a client following topic with a send buffer of size
// buffer.
func NewClient(topic string, buffer int) *Client {
	return &Client{ID: uuid.New().String(), Topic: topic, Send: make(chan []byte, buffer)}
}

// Hub tracks clients by topic.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds client under its topic.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	if h.clients[client.Topic] == nil {
		h.clients[client.Topic] = make(map[*Client]struct{})
	}
	h.clients[client.Topic][client] = struct{}{}
}

// Unregister removes client and closes its Send channel. Unknown clients
// are ignored.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(client)
}

// drop requires h.mu held for writing.
func (h *Hub) drop(client *Client) {
	if _, ok := h.all[client]; !ok {
		return
	}
	if subscribers, ok := h.clients[client.Topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, client.Topic)
		}
	}
	delete(h.all, client)
	close(client.Send)
}

// Publish delivers event to the clients of event.Topic. Clients whose
// buffer is full miss the event.
func (h *Hub) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[event.Topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", event.Topic).Msg("stream client buffer full, event dropped")
		}
	}
	return nil
}

// CloseTopic disconnects every client of topic.
func (h *Hub) CloseTopic(topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[topic] {
		h.drop(client)
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients following topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	sendBuffer   = 64
	maxReadBytes = 512
)

// Streamer upgrades HTTP requests to stream connections bound to a hub.
type Streamer struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
	logger   zerolog.Logger
}

// NewStreamer creates a streamer. Browser origins are checked against
// allowedOrigins; an empty list or "*" allows any origin.
func NewStreamer(hub *Hub, allowedOrigins []string, logger zerolog.Logger) *Streamer {
	return &Streamer{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set[origin]
	}
}

// Serve upgrades the request and streams topic to the caller. initial, when
// set, is sent before any published event. open, when set, is consulted
// once the client is registered: a topic that ended during the upgrade
// gets its close event and disconnect right away.
func (s *Streamer) Serve(c echo.Context, topic string, initial *Event, open func() bool) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.Debug().Err(err).Str("topic", topic).Msg("stream upgrade failed")
		return nil
	}

	client := NewClient(topic, sendBuffer)
	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			client.Send <- data
		}
	}
	s.hub.Register(client)
	s.logger.Debug().Str("client_id", client.ID).Str("topic", topic).Msg("stream client connected")
	if open != nil && !open() {
		closed := Event{Type: EventClosed, Topic: topic, Timestamp: time.Now().UTC()}
		if err := s.hub.Publish(c.Request().Context(), closed); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("publish late close")
		}
		s.hub.CloseTopic(topic)
	}

	go s.writePump(client, ws)
	go s.readPump(client, ws)
	return nil
}

// readPump discards inbound messages and unregisters the client when the
// connection ends.
func (s *Streamer) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		s.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxReadBytes)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Streamer) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage,
					gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
