package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-docstore/types"
)

type HubState int32

const (
	HubStateStopped HubState = iota
	HubStateStarting
	HubStateRunning
	HubStateStopping
)

const (
	defaultQueueSize  = 256
	defaultPingPeriod = 54 * time.Second
	pongWait          = 60 * time.Second
	writeWait         = 10 * time.Second
)

type client struct {
	conn *websocket.Conn
	room string
	send chan *types.EventMessage
}

// Hub fans order lifecycle events out to websocket subscribers grouped by
// room. Delivery is at most once: a subscriber whose queue is full loses
// the message, a subscriber that stops reading is dropped entirely.
type Hub struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	metrics    types.MetricsManager
	upgrader   websocket.FastHTTPUpgrader
	clients    map[*client]struct{}
	clientsMu  sync.RWMutex
	queueSize  int
	pingPeriod time.Duration
	state      atomic.Value
}

func NewHub(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (*Hub, error) {
	eventsConfig := config.GetConfig().Events
	if eventsConfig == nil || !eventsConfig.Enabled {
		return nil, types.ErrEventHubClosed
	}

	queueSize := defaultQueueSize
	if eventsConfig.QueueSize > 0 {
		queueSize = eventsConfig.QueueSize
	}

	pingPeriod := defaultPingPeriod
	if eventsConfig.PingPeriod > 0 {
		pingPeriod = time.Duration(eventsConfig.PingPeriod) * time.Second
	}

	hubCtx, cancel := context.WithCancel(ctx)

	hub := &Hub{
		ctx:     hubCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(ctx *fasthttp.RequestCtx) bool { return true },
		},
		clients:    make(map[*client]struct{}),
		queueSize:  queueSize,
		pingPeriod: pingPeriod,
	}

	hub.state.Store(HubStateStopped)

	logger.Info("Event hub initialized",
		zap.Int("queue_size", queueSize),
		zap.Duration("ping_period", pingPeriod))

	return hub, nil
}

func (h *Hub) Start() error {
	if !h.state.CompareAndSwap(HubStateStopped, HubStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	h.state.Store(HubStateRunning)
	h.logger.Info("Event hub started")
	return nil
}

func (h *Hub) Stop() error {
	if !h.state.CompareAndSwap(HubStateRunning, HubStateStopping) {
		return types.ErrServerNotRunning
	}

	defer h.state.Store(HubStateStopped)

	h.cancel()

	h.clientsMu.Lock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
	h.clientsMu.Unlock()

	h.logger.Info("Event hub stopped")
	return nil
}

func (h *Hub) IsRunning() bool {
	return h.state.Load().(HubState) == HubStateRunning
}

// Publish queues a message for every subscriber of the room. It never
// blocks: full subscriber queues drop the message.
func (h *Hub) Publish(room string, action string, payload interface{}) error {
	if !h.IsRunning() {
		return types.ErrEventHubClosed
	}

	message := &types.EventMessage{
		Action:    action,
		Payload:   payload,
		Timestamp: time.Now().UnixNano(),
	}

	delivered := 0
	dropped := 0

	h.clientsMu.RLock()
	for c := range h.clients {
		if c.room != room {
			continue
		}
		select {
		case c.send <- message:
			delivered++
		default:
			dropped++
		}
	}
	h.clientsMu.RUnlock()

	h.recordPublish(room, action, delivered, dropped)

	if dropped > 0 {
		h.logger.Warn("Event dropped for slow subscribers",
			zap.String("room", room),
			zap.String("action", action),
			zap.Int("dropped", dropped))
	}

	return nil
}

// Serve upgrades the request and subscribes the connection to the room.
func (h *Hub) Serve(ctx *fasthttp.RequestCtx, room string) error {
	if !h.IsRunning() {
		return types.ErrEventHubClosed
	}

	return h.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		c := &client{
			conn: conn,
			room: room,
			send: make(chan *types.EventMessage, h.queueSize),
		}

		h.clientsMu.Lock()
		h.clients[c] = struct{}{}
		h.clientsMu.Unlock()

		h.logger.Info("Subscriber connected",
			zap.String("room", room),
			zap.String("remote", conn.RemoteAddr().String()))

		go h.writePump(c)
		h.readPump(c)
	})
}

func (h *Hub) unregister(c *client) {
	h.clientsMu.Lock()
	if _, exists := h.clients[c]; exists {
		delete(h.clients, c)
		close(c.send)
	}
	h.clientsMu.Unlock()

	c.conn.Close()
}

// readPump drains inbound frames so pong handlers run. Subscribers are
// listeners only, inbound payloads are discarded.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Subscriber read failed", zap.Error(err))
			}
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				h.logger.Debug("Subscriber write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) recordPublish(room, action string, delivered, dropped int) {
	if h.metrics == nil {
		return
	}

	if delivered > 0 {
		h.metrics.Counter("event_messages_total", map[string]string{
			"room":   room,
			"action": action,
			"result": "delivered",
		}).Add(float64(delivered))
	}
	if dropped > 0 {
		h.metrics.Counter("event_messages_total", map[string]string{
			"room":   room,
			"action": action,
			"result": "dropped",
		}).Add(float64(dropped))
	}
}
