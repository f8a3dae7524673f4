package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-poller/internal/audit"
	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// WebSocket constants.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypeWrite       = "write"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSEventFieldChanged is sent whenever a watched field's value or state
	// changes, and once right after subscribing.
	WSEventFieldChanged = "field.changed"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	defaultUpdateInterval = 250 * time.Millisecond
	defaultMaxFields      = 256
	wsWriteTimeout        = 10 * time.Second
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
// Fields are flattened "moniker.field" names.
type WSSubscribePayload struct {
	Fields []string `json:"fields"`
}

// WSWritePayload is the payload for write messages.
type WSWritePayload struct {
	Field      string `json:"field"`
	Value      string `json:"value"`
	Credential string `json:"credential,omitempty"`
}

// Hub tracks open WebSocket sessions so they can be closed on shutdown.
type Hub struct {
	logger   *logging.Logger
	observer Observer
	clients  map[*WSClient]struct{}
	mu       sync.RWMutex
}

// WSClient is one WebSocket session. Each watched field has its own
// FieldPollInfo, so re-registration after a host reconnect happens per
// session without any shared state.
type WSClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	engine Engine
	cfg    config.WebSocketConfig
	done   chan struct{}
	once   sync.Once

	// record journals writes; nil when there is no audit log.
	record func(ctx context.Context, e audit.Entry, err error)

	// mu guards watches. FieldPollInfo is not safe for concurrent use.
	mu      sync.Mutex
	watches map[string]*pollengine.FieldPollInfo // by lowercased name
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The poller API is served on the control network only.
		return true
	},
}

// NewHub creates a new WebSocket hub. observer may be nil.
func NewHub(logger *logging.Logger, observer Observer) *Hub {
	return &Hub{
		logger:   logger,
		observer: observer,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run blocks until the context is cancelled, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	if h.observer != nil {
		h.observer.SessionOpened()
	}
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
		if h.observer != nil {
			h.observer.SessionClosed()
		}
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
		if h.observer != nil {
			h.observer.SessionClosed()
		}
	}
}

// handleWebSocket upgrades the HTTP connection to a field watch session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		engine:  s.engine,
		cfg:     s.wsCfg,
		done:    make(chan struct{}),
		watches: make(map[string]*pollengine.FieldPollInfo),
	}
	if s.audit != nil {
		client.record = s.record
	}

	s.hub.Register(client)

	go client.writePump()
	go client.updatePump()
	go client.readPump()
}

func (c *WSClient) stop() {
	c.once.Do(func() { close(c.done) })
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		c.stop()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(c.cfg.MaxMessageSize))
	}
	pingInterval, pongWait := c.keepalive()
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump() {
	pingInterval, _ := c.keepalive()
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// updatePump checks every watched field on a fixed cadence and pushes an
// event for each change. Engine queries are cache reads, so holding mu
// across the sweep is cheap.
func (c *WSClient) updatePump() {
	interval := c.cfg.UpdateInterval
	if interval <= 0 {
		interval = defaultUpdateInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			for _, ev := range c.sweep() {
				c.sendEvent(ev)
			}
		}
	}
}

func (c *WSClient) sweep() []FieldResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	var changed []FieldResponse
	for _, info := range c.watches {
		if info.Update(c.engine) {
			changed = append(changed, watchResponse(info))
		}
	}
	return changed
}

func watchResponse(info *pollengine.FieldPollInfo) FieldResponse {
	return FieldResponse{
		Name:   info.Name(),
		Value:  info.Value(),
		State:  info.State(),
		Serial: info.Serial(),
	}
}

// keepalive returns the ping interval and pong wait, defaulting unset values.
func (c *WSClient) keepalive() (time.Duration, time.Duration) {
	ping := time.Duration(c.cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	pong := time.Duration(c.cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return ping, pong
}

// handleMessage processes an incoming WebSocket message.
func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypeWrite:
		c.handleWrite(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe starts watching fields. Each accepted field gets its
// current value pushed straight away; names that fail to parse or exceed
// the session cap are reported back as rejected.
func (c *WSClient) handleSubscribe(msg WSMessage) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid subscribe payload")
		return
	}

	maxFields := c.cfg.MaxFields
	if maxFields <= 0 {
		maxFields = defaultMaxFields
	}

	subscribed := make([]string, 0, len(sub.Fields))
	rejected := make(map[string]string)
	var initial []FieldResponse

	c.mu.Lock()
	for _, name := range sub.Fields {
		key := strings.ToLower(name)
		if _, ok := c.watches[key]; ok {
			subscribed = append(subscribed, name)
			continue
		}
		if len(c.watches) >= maxFields {
			rejected[name] = fmt.Sprintf("session limit of %d fields reached", maxFields)
			continue
		}
		info, err := pollengine.ParseFieldPollInfo(name, pollengine.AccessRead)
		if err != nil {
			rejected[name] = err.Error()
			continue
		}
		c.watches[key] = info
		subscribed = append(subscribed, name)
		info.Update(c.engine)
		initial = append(initial, watchResponse(info))
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed", "fields", subscribed, "rejected", len(rejected))

	payload := map[string]any{"subscribed": subscribed}
	if len(rejected) > 0 {
		payload["rejected"] = rejected
	}
	c.sendResponse(msg.ID, WSTypeResponse, payload)
	for _, ev := range initial {
		c.sendEvent(ev)
	}
}

// handleUnsubscribe stops watching fields.
func (c *WSClient) handleUnsubscribe(msg WSMessage) {
	var sub WSSubscribePayload
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		c.sendError(msg.ID, "invalid unsubscribe payload")
		return
	}

	c.mu.Lock()
	for _, name := range sub.Fields {
		delete(c.watches, strings.ToLower(name))
	}
	c.mu.Unlock()

	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": sub.Fields,
	})
}

// handleWrite writes a field through the engine. It runs on the read
// goroutine, so a slow host only stalls this session.
func (c *WSClient) handleWrite(msg WSMessage) {
	var req WSWritePayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		c.sendError(msg.ID, "invalid write payload")
		return
	}
	moniker, field, err := pollengine.ParseFieldName(req.Field)
	if err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	err = c.engine.WriteField(ctx, moniker, field, req.Value, req.Credential)
	if c.record != nil {
		c.record(ctx, audit.Entry{
			Action:    audit.ActionWriteField,
			Target:    pollengine.FieldName(moniker, field),
			Value:     req.Value,
			Source:    audit.SourceWebSocket,
			RequestID: msg.ID,
		}, err)
	}
	if err != nil {
		c.sendError(msg.ID, err.Error())
		return
	}
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{"written": req.Field})
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during a sweep)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// deliver stamps msg, attaches payload and queues it for the write pump.
func (c *WSClient) deliver(msg WSMessage, payload any) {
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.hub.logger.Warn("failed to marshal websocket payload", "error", err)
			return
		}
		msg.Payload = raw
	}
	msg.Timestamp = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendEvent(ev FieldResponse) {
	c.deliver(WSMessage{Type: WSTypeEvent, EventType: WSEventFieldChanged}, ev)
}

// sendResponse sends a response message to the client.
// Routes through trySend to safely handle closed channels during shutdown.
func (c *WSClient) sendResponse(id, msgType string, payload any) {
	c.deliver(WSMessage{Type: msgType, ID: id}, payload)
}

// sendError sends an error message to the client.
func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
