// Package room tracks which realtime connections belong to which
// (organisation, board) broadcast group and fans events out to them.
package room

import (
	"sync"

	"github.com/google/uuid"

	"aether-sync/domain"
)

// Event is one outbound stream frame: a named event with a pre-encoded body.
type Event struct {
	Name string
	Data []byte
}

// Connection is a single realtime session. It is owned by the Manager for its
// lifetime; the event channel is never closed, a departed connection simply
// stops draining it.
type Connection struct {
	ID string

	mu    sync.Mutex
	scope domain.Scope
	room  string

	events chan Event
}

// Scope returns the connection's current scope. Board changes go through
// Manager.Switch.
func (c *Connection) Scope() domain.Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope
}

func (c *Connection) setBoard(board string) domain.Scope {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scope.Board = board
	return c.scope
}

// Events is the stream the transport layer drains.
func (c *Connection) Events() <-chan Event { return c.events }

// Send queues an event for the connection without blocking. Events for a slow
// or stale connection are dropped, not retried.
func (c *Connection) Send(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

const eventBuffer = 16

// Manager owns the room membership map. One instance per process, shared by
// the transport handlers, the update subscriber and the scheduler path.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]map[*Connection]struct{}
	conns map[string]*Connection
}

func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]map[*Connection]struct{}),
		conns: make(map[string]*Connection),
	}
}

// Register creates and tracks a connection for the given scope. The
// connection is not in any room until Join is called.
func (m *Manager) Register(scope domain.Scope) *Connection {
	c := &Connection{
		ID:     uuid.NewString(),
		scope:  scope,
		events: make(chan Event, eventBuffer),
	}
	m.mu.Lock()
	m.conns[c.ID] = c
	m.mu.Unlock()
	return c
}

// Unregister removes the connection from its room and from tracking.
func (m *Manager) Unregister(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveLocked(c)
	delete(m.conns, c.ID)
}

// Lookup finds a tracked connection by id.
func (m *Manager) Lookup(id string) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	return c, ok
}

// Join places the connection in the given room. A connection is in at most
// one room; joining while already a member of another room moves it, and
// re-joining the current room is a no-op.
func (m *Manager) Join(c *Connection, roomKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joinLocked(c, roomKey)
}

// Switch atomically moves the connection to a new board: no observer sees it
// in zero or two rooms while a single switch is in flight.
func (m *Manager) Switch(c *Connection, board string) domain.Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope := c.setBoard(board)
	m.joinLocked(c, scope.RoomKey())
	return scope
}

func (m *Manager) joinLocked(c *Connection, roomKey string) {
	if c.room == roomKey {
		return
	}
	m.leaveLocked(c)
	members, ok := m.rooms[roomKey]
	if !ok {
		members = make(map[*Connection]struct{})
		m.rooms[roomKey] = members
	}
	members[c] = struct{}{}
	c.room = roomKey
}

func (m *Manager) leaveLocked(c *Connection) {
	if c.room == "" {
		return
	}
	if members, ok := m.rooms[c.room]; ok {
		delete(members, c)
	}
	c.room = ""
}

// RoomSize reports current membership of a room.
func (m *Manager) RoomSize(roomKey string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms[roomKey])
}

// Broadcast delivers the same payload to every current member of the room, in
// the order broadcasts are issued.
func (m *Manager) Broadcast(roomKey, event string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c := range m.rooms[roomKey] {
		c.Send(Event{Name: event, Data: payload})
	}
}

// BroadcastAll delivers a per-connection computed payload to every tracked
// connection regardless of room. payloadFn runs outside the membership lock
// since it typically performs storage I/O; returning nil skips the connection.
func (m *Manager) BroadcastAll(event string, payloadFn func(*Connection) []byte) {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		if data := payloadFn(c); data != nil {
			c.Send(Event{Name: event, Data: data})
		}
	}
}
