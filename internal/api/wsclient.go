package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fastybird/fb-bus-connector/internal/infrastructure/config"
)

const wsSendBuffer = 256

// Origins are checked by the CORS middleware.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// keepalive holds the ping schedule shared by all clients.
type keepalive struct {
	pingEvery time.Duration
	pongWait  time.Duration
	readLimit int64
}

func newKeepalive(cfg config.WebSocketConfig) keepalive {
	k := keepalive{
		pingEvery: time.Duration(cfg.PingInterval) * time.Second,
		pongWait:  time.Duration(cfg.PongTimeout) * time.Second,
		readLimit: int64(cfg.MaxMessageSize),
	}
	if k.pingEvery <= 0 {
		k.pingEvery = 30 * time.Second
	}
	if k.pongWait <= 0 {
		k.pongWait = 10 * time.Second
	}
	return k
}

func (k keepalive) readDeadline() time.Time {
	return time.Now().Add(k.pingEvery + k.pongWait)
}

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn

	mu       sync.Mutex
	send     chan []byte
	closed   bool
	channels map[string]struct{}
}

// handleWebSocket upgrades the request. A comma separated channels query
// parameter subscribes the client right away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		channels: make(map[string]struct{}),
	}
	for _, ch := range strings.Split(r.URL.Query().Get("channels"), ",") {
		if ch = strings.TrimSpace(ch); knownChannels[ch] {
			c.channels[ch] = struct{}{}
		}
	}

	s.hub.add(c)
	go c.writeLoop(s.hub.keepalive)
	go c.readLoop(s.hub.keepalive)
}

// enqueue drops the frame when the client is gone or its buffer is full.
func (c *wsClient) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// close ends the write loop, which closes the connection.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsClient) subscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

func (c *wsClient) readLoop(k keepalive) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(k.readLimit)
	//nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetReadDeadline(k.readDeadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(k.readDeadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		// Browsers may ignore protocol pings; any frame counts as traffic.
		//nolint:errcheck // a failed deadline surfaces on the next read
		c.conn.SetReadDeadline(k.readDeadline())
		c.dispatch(data)
	}
}

func (c *wsClient) writeLoop(k keepalive) {
	ticker := time.NewTicker(k.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces on the write
		c.conn.SetWriteDeadline(time.Now().Add(k.pongWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // the connection is closing anyway
				write(websocket.CloseMessage, nil)
				return
			}
			if write(websocket.TextMessage, data) != nil {
				return
			}
		case <-ticker.C:
			if write(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (c *wsClient) dispatch(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(newFrame(WSTypeError, "", errorPayload("invalid JSON message")))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.updateChannels(msg, true)
	case WSTypeUnsubscribe:
		c.updateChannels(msg, false)
	case WSTypePing:
		c.reply(newFrame(WSTypePong, msg.ID, nil))
	default:
		c.reply(newFrame(WSTypeError, msg.ID, errorPayload("unknown message type: "+msg.Type)))
	}
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}

// channelsOf re-decodes the generic payload of a subscription frame.
func channelsOf(payload any) ([]string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var p WSSubscribePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	for _, ch := range p.Channels {
		if !knownChannels[ch] {
			return nil, fmt.Errorf("unknown channel %q", ch)
		}
	}
	return p.Channels, nil
}

func (c *wsClient) updateChannels(msg WSMessage, subscribe bool) {
	channels, err := channelsOf(msg.Payload)
	if err != nil {
		c.reply(newFrame(WSTypeError, msg.ID, errorPayload("invalid "+msg.Type+" payload: "+err.Error())))
		return
	}

	c.mu.Lock()
	for _, ch := range channels {
		if subscribe {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}
	c.hub.logger.Debug("websocket subscriptions changed", key, channels)
	c.reply(newFrame(WSTypeResponse, msg.ID, map[string]any{key: channels}))
}

func (c *wsClient) reply(frame WSMessage) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.enqueue(data)
}
