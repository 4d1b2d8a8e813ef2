package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/waypointxr/waypoint/pkg/aoi"
	"github.com/waypointxr/waypoint/pkg/auth"
	"github.com/waypointxr/waypoint/pkg/dispatch"
	"github.com/waypointxr/waypoint/pkg/events"
)

// defaultWriteTimeout bounds one WebSocket send.
const defaultWriteTimeout = 10 * time.Second

// ConnectionManager owns every live WebSocket: the connection table,
// one delta subscription per socket, and the per-connection read and
// write loops. Exactly one subscription per socket; a player with two
// sockets receives each delta twice and deduplicates by
// snapshot_version.
type ConnectionManager struct {
	bus        events.Bus
	dispatcher *dispatch.Dispatcher
	aoi        *aoi.Builder

	// sendBuffer is the outbound queue depth per connection. A
	// subscriber that falls this far behind is disconnected rather
	// than silently dropping deltas.
	sendBuffer   int
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*Connection
}

// Connection is one live WebSocket client. The read loop is the only
// goroutine touching conn reads; all writes funnel through out to the
// single writer goroutine.
type Connection struct {
	ID         string
	UserID     string
	Experience string

	conn   *websocket.Conn
	out    chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnectionManager wires the manager. sendBuffer <= 0 selects a
// small sane default.
func NewConnectionManager(bus events.Bus, dispatcher *dispatch.Dispatcher, builder *aoi.Builder, sendBuffer int) *ConnectionManager {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &ConnectionManager{
		bus:          bus,
		dispatcher:   dispatcher,
		aoi:          builder,
		sendBuffer:   sendBuffer,
		writeTimeout: defaultWriteTimeout,
		connections:  make(map[string]*Connection),
	}
}

// ActiveConnections returns the size of the connection table.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection runs one authenticated WebSocket to completion:
// welcome, delta subscription, writer goroutine, then the read loop
// until disconnect. Blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, identity auth.Identity, experience string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:         uuid.New().String(),
		UserID:     identity.UserID,
		Experience: experience,
		conn:       conn,
		out:        make(chan []byte, m.sendBuffer),
		ctx:        ctx,
		cancel:     cancel,
	}

	m.register(c)
	defer m.unregister(c)

	sub, err := m.bus.Subscribe(events.UserSubject(c.UserID), func(data []byte) {
		// Deltas are forwarded as-is. The bus delivers from its own
		// goroutine, so never block here: a full queue means the
		// client cannot keep up and must reconnect and resync.
		select {
		case c.out <- data:
		default:
			slog.Warn("Client fell behind, closing connection",
				"connection_id", c.ID, "user_id", c.UserID)
			c.cancel()
		}
	})
	if err != nil {
		slog.Error("Failed to subscribe for deltas",
			"connection_id", c.ID, "user_id", c.UserID, "error", err)
		conn.Close(websocket.StatusInternalError, "subscription failed")
		return
	}
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.writeLoop(c)
	}()
	defer wg.Wait()
	defer cancel()

	m.send(c, ConnectedMessage{
		Type:         TypeConnected,
		ConnectionID: c.ID,
		UserID:       c.UserID,
		Experience:   c.Experience,
	})

	slog.Info("WebSocket connected",
		"connection_id", c.ID, "user_id", c.UserID, "experience", c.Experience)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			slog.Info("WebSocket closed",
				"connection_id", c.ID, "user_id", c.UserID)
			return
		}
		m.handleMessage(ctx, c, identity, data)
	}
}

// writeLoop is the single writer for one connection.
func (m *ConnectionManager) writeLoop(c *Connection) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.out:
			writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Warn("WebSocket write failed, closing",
					"connection_id", c.ID, "error", err)
				c.cancel()
				return
			}
		}
	}
}

// handleMessage parses and dispatches one inbound frame. Failures
// answer with an error message on the same connection; nothing here
// tears the connection down.
func (m *ConnectionManager) handleMessage(ctx context.Context, c *Connection, identity auth.Identity, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		m.send(c, errorMessage("invalid_json", "message is not valid JSON"))
		return
	}
	// A second pass keeps action-specific fields available to handlers.
	_ = json.Unmarshal(data, &msg.raw)

	switch msg.Type {
	case "":
		m.send(c, errorMessage("missing_type", "message requires a type field"))

	case TypePing:
		m.send(c, PongMessage{Type: TypePong})

	case TypeUpdateLocation:
		m.handleUpdateLocation(ctx, c, &msg)

	case TypeAction:
		m.handleAction(ctx, c, identity, &msg)

	default:
		m.send(c, errorMessage("unknown_message_type", "unsupported message type "+msg.Type))
	}
}

func (m *ConnectionManager) handleUpdateLocation(ctx context.Context, c *Connection, msg *ClientMessage) {
	if msg.Lat == nil || msg.Lng == nil ||
		math.IsNaN(*msg.Lat) || math.IsInf(*msg.Lat, 0) ||
		math.IsNaN(*msg.Lng) || math.IsInf(*msg.Lng, 0) {
		m.send(c, errorMessage("invalid_location", "update_location requires finite lat and lng"))
		return
	}

	area, err := m.aoi.Build(ctx, c.Experience, c.UserID, *msg.Lat, *msg.Lng)
	if err != nil {
		slog.Error("Failed to build AOI",
			"connection_id", c.ID, "user_id", c.UserID, "error", err)
		m.send(c, errorMessage("processing_error", "failed to compute area of interest"))
		return
	}
	m.send(c, area)
}

func (m *ConnectionManager) handleAction(ctx context.Context, c *Connection, identity auth.Identity, msg *ClientMessage) {
	if msg.Action == "" {
		m.send(c, errorMessage("missing_action", "action messages require an action field"))
		return
	}

	res := m.dispatcher.Dispatch(ctx, &dispatch.Request{
		Experience: c.Experience,
		UserID:     c.UserID,
		Admin:      identity.Admin,
		Action:     msg.Action,
		Args:       msg.raw,
	})
	m.send(c, newActionResponse(res))
}

// send marshals and queues one outbound message, closing the
// connection when the client cannot keep up.
func (m *ConnectionManager) send(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal outbound message",
			"connection_id", c.ID, "error", err)
		return
	}
	select {
	case c.out <- data:
	case <-c.ctx.Done():
	default:
		slog.Warn("Client fell behind, closing connection",
			"connection_id", c.ID, "user_id", c.UserID)
		c.cancel()
	}
}

func (m *ConnectionManager) register(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregister(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()
	c.cancel()
}
