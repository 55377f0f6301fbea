package delivery

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"eventhub-realtime/internal/domain"
	"eventhub-realtime/internal/metrics"
)

var errPanicWrite = errors.New("panic during websocket write")

// jsonConn is the write side of a websocket connection.
type jsonConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type WSConnection struct {
	Conn     jsonConn
	Handle   string
	writeMux sync.Mutex // one writer at a time per connection

	mu   sync.RWMutex
	user *domain.User
}

func (c *WSConnection) User() *domain.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *WSConnection) bind(user *domain.User) *domain.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.user
	c.user = user
	return previous
}

func (c *WSConnection) userID() string {
	if u := c.User(); u != nil {
		return u.ID
	}
	return ""
}

// safeWriteJSON writes JSON to WebSocket connection with mutex protection and panic recovery
func (c *WSConnection) safeWriteJSON(message interface{}) (err error) {
	c.writeMux.Lock()
	defer c.writeMux.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = errPanicWrite
		}
	}()

	return c.Conn.WriteJSON(message)
}

// Hub tracks the connections of this instance and the groups they joined. It
// is the local domain.Broadcaster.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*WSConnection
	groups      map[string]map[string]*WSConnection
	logger      zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*WSConnection),
		groups:      make(map[string]map[string]*WSConnection),
		logger:      logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Register(conn *WSConnection) {
	h.mu.Lock()
	h.connections[conn.Handle] = conn
	total := len(h.connections)
	h.mu.Unlock()

	metrics.ActiveConnections.Inc()
	h.logger.Debug().Str("handle", conn.Handle).Int("total", total).Msg("Added connection")
}

// Unregister drops the connection and its group memberships. It reports
// whether the handle was still registered.
func (h *Hub) Unregister(handle string) bool {
	h.mu.Lock()
	if _, ok := h.connections[handle]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.connections, handle)
	h.leaveAllLocked(handle)
	total := len(h.connections)
	h.mu.Unlock()

	metrics.ActiveConnections.Dec()
	h.logger.Debug().Str("handle", handle).Int("remaining", total).Msg("Removed connection")
	return true
}

func (h *Hub) Join(handle, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.connections[handle]
	if !ok {
		return
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*WSConnection)
		h.groups[group] = members
	}
	members[handle] = conn
}

func (h *Hub) LeaveAll(handle string) {
	h.mu.Lock()
	h.leaveAllLocked(handle)
	h.mu.Unlock()
}

func (h *Hub) leaveAllLocked(handle string) {
	for group, members := range h.groups {
		delete(members, handle)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

func (h *Hub) EmitToHandle(handle, event string, data interface{}) {
	h.mu.RLock()
	conn, ok := h.connections[handle]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.send([]*WSConnection{conn}, event, data)
}

func (h *Hub) EmitToGroup(group, event string, data interface{}) {
	h.mu.RLock()
	conns := make([]*WSConnection, 0, len(h.groups[group]))
	for _, c := range h.groups[group] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	h.send(conns, event, data)
}

func (h *Hub) EmitToAll(event string, data interface{}) {
	h.mu.RLock()
	conns := make([]*WSConnection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	h.send(conns, event, data)
}

// send writes to every connection concurrently. A connection that fails a
// write is closed and dropped; its reader goroutine handles the rest.
func (h *Hub) send(conns []*WSConnection, event string, data interface{}) {
	if len(conns) == 0 {
		return
	}
	message := domain.WebSocketResponse{Type: event, Success: true, Data: data}

	if len(conns) == 1 {
		h.write(conns[0], event, message)
		return
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *WSConnection) {
			defer wg.Done()
			h.write(c, event, message)
		}(conn)
	}
	wg.Wait()
}

func (h *Hub) write(c *WSConnection, event string, message domain.WebSocketResponse) {
	if err := c.safeWriteJSON(message); err != nil {
		h.logger.Warn().
			Err(err).
			Str("handle", c.Handle).
			Str("user_id", c.userID()).
			Str("event", event).
			Msg("Failed to send message to client")
		if h.Unregister(c.Handle) {
			c.Conn.Close()
		}
	}
}
