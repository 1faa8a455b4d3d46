// Package realtime fans out tick, position, and admin events to
// WebSocket subscribers, grouped into three subscription kinds
// (market-data/{account}/{instrument}, positions/{account},
// admin/dashboard|notifications), with per-client tick batching.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"go.uber.org/zap"
)

// MessageType identifies the shape of a message sent over a connection.
type MessageType string

const (
	MsgTick                MessageType = "tick"
	MsgTickBatch            MessageType = "tick_batch"
	MsgPosition             MessageType = "position"
	MsgAdminNotification    MessageType = "admin_notification"
	MsgConnectionStatus     MessageType = "connection_status"
	MsgDemoReminder         MessageType = "demo_reminder"
	MsgError                MessageType = "error"
	MsgConfigureBatching    MessageType = "configure_batching"
	MsgBatchingConfigured   MessageType = "batching_configured"
)

// outboundMessage is the envelope every server-to-client payload rides
// in, matching consumers.py's flat `{type, ...}` JSON shape rather than
// a nested `data` field.
type outboundMessage struct {
	Type      MessageType `json:"type"`
	Count     int         `json:"count,omitempty"`
	Ticks     []types.Tick `json:"ticks,omitempty"`
	Position  *types.Position `json:"position,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	Enabled   bool        `json:"enabled,omitempty"`
	BatchSize int         `json:"batch_size,omitempty"`
	BatchSecs float64     `json:"batch_interval,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

func groupKey(parts ...string) string {
	key := parts[0]
	for _, p := range parts[1:] {
		key += "/" + p
	}
	return key
}

// MarketDataGroup returns the subscription key for one account's
// instrument tick stream.
func MarketDataGroup(account, instrument string) string {
	return groupKey("market-data", account, instrument)
}

// PositionsGroup returns the subscription key for one account's
// position P&L stream.
func PositionsGroup(account string) string {
	return groupKey("positions", account)
}

const (
	AdminDashboardGroup     = "admin/dashboard"
	AdminNotificationsGroup = "admin/notifications"
)

// Hub tracks every live connection by subscription group and routes
// published events to the clients in that group.
//
// Built on a channel-keyed client registry with register/unregister
// channels and per-channel subscriber sets, generalised from a single
// flat `clients`/`channels` pair to named group constructors matching
// the documented URL surface.
type Hub struct {
	logger *zap.Logger

	mu     sync.RWMutex
	groups map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run drains the register/unregister channels until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case c := <-h.register:
			h.mu.Lock()
			if h.groups[c.group] == nil {
				h.groups[c.group] = make(map[*Client]bool)
			}
			h.groups[c.group][c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.groups[c.group]; ok {
				delete(clients, c)
				if len(clients) == 0 {
					delete(h.groups, c.group)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) add(c *Client)    { h.register <- c }
func (h *Hub) remove(c *Client) { h.unregister <- c }

// GroupSize reports how many clients are subscribed to group, for
// metrics/tests.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// PublishTick fans a single tick out to every client subscribed to
// account/instrument's market-data group, batched per-client.
func (h *Hub) PublishTick(account, instrument string, tick types.Tick) {
	h.mu.RLock()
	clients := h.groups[MarketDataGroup(account, instrument)]
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueueTick(tick)
	}
}

// PublishPosition fans a position update out to account's positions
// group. Unlike ticks, position updates are never batched.
func (h *Hub) PublishPosition(account string, position types.Position) {
	h.broadcastTo(PositionsGroup(account), outboundMessage{
		Type: MsgPosition, Position: &position, Timestamp: time.Now().UnixMilli(),
	})
}

// PublishAdminNotification fans an admin-facing message out to the
// notifications group.
func (h *Hub) PublishAdminNotification(detail string) {
	h.broadcastTo(AdminNotificationsGroup, outboundMessage{
		Type: MsgAdminNotification, Detail: detail, Timestamp: time.Now().UnixMilli(),
	})
}

// publishDemoReminder tells every subscriber of a synthetic instrument
// feed that the stream is simulated, on the documented every-60-ticks
// cadence.
func (h *Hub) publishDemoReminder(instrument string) {
	h.broadcastTo(MarketDataGroup(DemoAccount, instrument), outboundMessage{
		Type: MsgDemoReminder, Detail: "this is a synthetic demo stream, not live market data",
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *Hub) broadcastTo(group string, msg outboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal outbound message failed", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := h.groups[group]
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.sendRaw(data)
	}
}
