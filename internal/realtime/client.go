package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 65536
)

// BatchConfig is a client's tick-batching preference, matching the
// client contract: `{enabled, batch_size ∈ [1,100], batch_interval ∈
// [10ms,1s]}`.
type BatchConfig struct {
	Enabled  bool
	Size     int
	Interval time.Duration
}

// DefaultBatchConfig matches the documented `ws_batch_size`/
// `ws_batch_interval` configuration defaults (10 / 100ms).
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{Enabled: true, Size: 10, Interval: 100 * time.Millisecond}
}

func (c BatchConfig) clamp() BatchConfig {
	if c.Size < 1 {
		c.Size = 1
	}
	if c.Size > 100 {
		c.Size = 100
	}
	if c.Interval < 10*time.Millisecond {
		c.Interval = 10 * time.Millisecond
	}
	if c.Interval > time.Second {
		c.Interval = time.Second
	}
	return c
}

// Client is one WebSocket connection, subscribed to exactly one group
// (a market-data/{account}/{instrument}, positions/{account}, or
// admin/* channel), with its own tick-batching buffer.
//
// Built on an id/hub/conn/send-channel shape, with batching fields and
// behaviour (message buffer, batch size, batch interval, flush) adapted
// from a Python reference implementation's MarketDataConsumer.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	logger *zap.Logger
	group  string
	send   chan []byte

	cfgMu sync.Mutex
	cfg   BatchConfig

	bufMu sync.Mutex
	buf   []types.Tick
}

func NewClient(id string, hub *Hub, conn *websocket.Conn, logger *zap.Logger, group string, cfg BatchConfig) *Client {
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		logger: logger,
		group:  group,
		send:   make(chan []byte, 256),
		cfg:    cfg.clamp(),
	}
}

// Serve registers the client, runs its write pump and batch flush timer
// in background goroutines, and blocks in the read pump until the
// connection closes — at which point it unregisters and flushes any
// buffered ticks.
func (c *Client) Serve() {
	c.hub.add(c)
	stop := make(chan struct{})

	go c.writePump(stop)
	go c.batchLoop(stop)

	c.readPump()

	close(stop)
	c.flush()
	c.hub.remove(c)
}

func (c *Client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.String("client", c.id), zap.Error(err))
			}
			return
		}
		c.handleControlMessage(message)
	}
}

type controlMessage struct {
	Type         MessageType `json:"type"`
	Enabled      *bool       `json:"enabled,omitempty"`
	BatchSize    *int        `json:"batch_size,omitempty"`
	BatchSeconds *float64    `json:"batch_interval,omitempty"`
}

func (c *Client) handleControlMessage(raw []byte) {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != MsgConfigureBatching {
		return
	}

	c.cfgMu.Lock()
	if msg.Enabled != nil {
		c.cfg.Enabled = *msg.Enabled
	}
	if msg.BatchSize != nil {
		c.cfg.Size = *msg.BatchSize
	}
	if msg.BatchSeconds != nil {
		c.cfg.Interval = time.Duration(*msg.BatchSeconds * float64(time.Second))
	}
	c.cfg = c.cfg.clamp()
	cfg := c.cfg
	c.cfgMu.Unlock()

	ack, _ := json.Marshal(outboundMessage{
		Type: MsgBatchingConfigured, Enabled: cfg.Enabled, BatchSize: cfg.Size,
		BatchSecs: cfg.Interval.Seconds(), Timestamp: time.Now().UnixMilli(),
	})
	c.sendRaw(ack)
}

func (c *Client) writePump(stop <-chan struct{}) {
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
		case <-stop:
			return
		}
	}
}

// batchLoop flushes the tick buffer at the configured interval,
// matching MarketDataConsumer's `_batch_sender` asyncio loop.
func (c *Client) batchLoop(stop <-chan struct{}) {
	for {
		c.cfgMu.Lock()
		interval := c.cfg.Interval
		c.cfgMu.Unlock()

		select {
		case <-time.After(interval):
			c.flush()
		case <-stop:
			return
		}
	}
}

// enqueueTick adds tick to the batch buffer, flushing immediately if
// batching is disabled or the buffer has reached its configured size.
func (c *Client) enqueueTick(tick types.Tick) {
	c.cfgMu.Lock()
	cfg := c.cfg
	c.cfgMu.Unlock()

	if !cfg.Enabled {
		c.sendTick(tick)
		return
	}

	c.bufMu.Lock()
	c.buf = append(c.buf, tick)
	full := len(c.buf) >= cfg.Size
	c.bufMu.Unlock()

	if full {
		c.flush()
	}
}

func (c *Client) sendTick(tick types.Tick) {
	data, err := json.Marshal(outboundMessage{Type: MsgTick, Ticks: []types.Tick{tick}, Count: 1, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return
	}
	c.sendRaw(data)
}

// flush sends every buffered tick as a single tick_batch message. A
// no-op when the buffer is empty, so the periodic batchLoop timer and
// Serve's disconnect flush never emit an empty batch.
func (c *Client) flush() {
	c.bufMu.Lock()
	if len(c.buf) == 0 {
		c.bufMu.Unlock()
		return
	}
	ticks := c.buf
	c.buf = nil
	c.bufMu.Unlock()

	data, err := json.Marshal(outboundMessage{
		Type: MsgTickBatch, Ticks: ticks, Count: len(ticks), Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return
	}
	c.sendRaw(data)
}

func (c *Client) sendRaw(data []byte) {
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full, dropping message", zap.String("client", c.id))
	}
}
