// Package websocket pushes live events to display boards and staff consoles.
// Clients subscribe to topics and receive every event published to them.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Event is a message delivered to subscribers of Topic.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscribe or unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one websocket connection.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

// NewClient creates an unregistered client with a buffered send queue.
func NewClient(topics []string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		Topics: append([]string(nil), topics...),
		Send:   make(chan []byte, sendBuffer),
	}
}

// InitialFunc returns the event a client receives right after subscribing to
// topic, typically the current state. ok is false when there is none.
type InitialFunc func(topic string) (ev Event, ok bool)

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	initial InitialFunc
	logger  zerolog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		topics: make(map[string]map[*Client]struct{}),
		all:    make(map[*Client]struct{}),
		logger: logger.With().Str("component", "websocket").Logger(),
	}
}

// SetInitial installs the function that seeds new subscribers.
func (h *Hub) SetInitial(fn InitialFunc) {
	h.mu.Lock()
	h.initial = fn
	h.mu.Unlock()
}

// Register adds client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	topics := client.Topics
	client.Topics = nil
	h.mu.Lock()
	h.all[client] = struct{}{}
	h.mu.Unlock()
	h.Subscribe(client, topics)
}

// Unregister removes client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.remove(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) remove(topic string, client *Client) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Subscribe adds topics to a registered client and sends each new topic's
// initial event.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	if _, ok := h.all[client]; !ok {
		h.mu.Unlock()
		return
	}
	var added []string
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[*Client]struct{})
		}
		if _, dup := h.topics[topic][client]; dup {
			continue
		}
		h.topics[topic][client] = struct{}{}
		client.Topics = append(client.Topics, topic)
		added = append(added, topic)
	}
	initial := h.initial
	h.mu.Unlock()

	if initial == nil {
		return
	}
	for _, topic := range added {
		if ev, ok := initial(topic); ok {
			h.sendTo(client, ev)
		}
	}
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		drop[t] = struct{}{}
		h.remove(t, client)
	}
	kept := client.Topics[:0]
	for _, t := range client.Topics {
		if _, ok := drop[t]; !ok {
			kept = append(kept, t)
		}
	}
	client.Topics = kept
}

// ProcessMessage applies an inbound client message.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

func (h *Hub) sendTo(client *Client, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("type", ev.Type).Msg("marshal event")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
		h.logger.Warn().Str("client", client.ID).Msg("client send buffer full, event dropped")
	}
}

// Broadcast delivers ev to every subscriber of ev.Topic. Slow clients whose
// buffer is full miss the event rather than block the publisher.
func (h *Hub) Broadcast(ev Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Str("type", ev.Type).Msg("marshal event")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.topics[ev.Topic] {
		select {
		case client.Send <- data:
			delivered++
		default:
			h.logger.Warn().Str("client", client.ID).Str("topic", ev.Topic).Msg("client send buffer full, event dropped")
		}
	}
	return delivered
}

// Publish broadcasts ev. It never fails.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.Broadcast(ev)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of subscribers of topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Handler upgrades HTTP requests to websocket connections.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler creates a Handler. allowedOrigins lists accepted Origin values;
// empty or "*" accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := map[string]bool{}
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o == "*" {
			return func(*http.Request) bool { return true }
		} else if o != "" {
			set[o] = true
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// RegisterRoutes mounts GET /ws on e.
func (wh *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", wh.HandleConnect)
}

// HandleConnect upgrades the connection and subscribes it to the topics named
// in the comma-separated "topics" query parameter.
func (wh *Handler) HandleConnect(c echo.Context) error {
	ws, err := wh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	var topics []string
	if q := c.QueryParam("topics"); q != "" {
		topics = strings.Split(q, ",")
	}
	client := NewClient(nil)
	wh.hub.Register(client)
	wh.hub.Subscribe(client, topics)
	wh.hub.logger.Debug().Str("client", client.ID).Strs("topics", client.Topics).Msg("client connected")

	go wh.writePump(client, ws)
	go wh.readPump(client, ws)
	return nil
}

func (wh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wh.hub.Unregister(client)
		ws.Close()
		wh.hub.logger.Debug().Str("client", client.ID).Msg("client disconnected")
	}()

	ws.SetReadLimit(4096)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		wh.hub.ProcessMessage(client, msg)
	}
}

func (wh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
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
				ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
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
