// Package network implements the two connection roles of the fabric: a
// Server that accepts many peers and routes frames between them, and a
// Client that keeps one registered connection to a Server alive.
package network

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/courtyard-project/courtyard/internal/protocol"
)

// WriteTimeout bounds a single frame write to a peer.
const WriteTimeout = 10 * time.Second

// maxConnections is the size of the ConnID space.
const maxConnections = 256

// ErrRegistryFull is returned when all 256 connection ids are in use.
var ErrRegistryFull = errors.New("connection registry full")

// Connection wraps an accepted socket and the id it was assigned.
type Connection struct {
	mu     sync.Mutex
	conn   net.Conn
	id     protocol.ConnID
	logger zerolog.Logger

	// guarded by the owning Registry
	flavor     protocol.Flavor
	registered bool

	connectedAt  time.Time
	lastActivity time.Time
	closed       bool
}

func newConnection(id protocol.ConnID, conn net.Conn) *Connection {
	now := time.Now()
	return &Connection{
		conn:         conn,
		id:           id,
		connectedAt:  now,
		lastActivity: now,
		logger: log.With().
			Str("component", "connection").
			Uint8("conn_id", uint8(id)).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// ID returns the connection id.
func (c *Connection) ID() protocol.ConnID {
	return c.id
}

// ReadFrame blocks until one complete frame arrives.
func (c *Connection) ReadFrame() (*protocol.Buffer, error) {
	frame, err := protocol.ReadBuffer(c.conn)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()

	return frame, nil
}

// WriteFrame sends a frame, prefix included.
func (c *Connection) WriteFrame(frame *protocol.Buffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := frame.WriteTo(c.conn); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	c.lastActivity = time.Now()
	return nil
}

// Close closes the socket. It is safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}

// LastActivity returns the time of the last read/write activity.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// RemoteAddr returns the remote address of the connection.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ConnectionInfo is a point-in-time view of one registry entry.
type ConnectionInfo struct {
	ID           protocol.ConnID `json:"id"`
	Flavor       protocol.Flavor `json:"flavor"`
	Registered   bool            `json:"registered"`
	Remote       string          `json:"remote"`
	ConnectedAt  time.Time       `json:"connected_at"`
	LastActivity time.Time       `json:"last_activity"`
}

// Registry tracks the live connections of one Server. Its lock is held only
// for bookkeeping; callers perform socket I/O on the returned connections
// after the lock is released.
type Registry struct {
	mu      sync.Mutex
	conns   map[protocol.ConnID]*Connection
	next    uint8
	cursors map[protocol.Flavor]protocol.ConnID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[protocol.ConnID]*Connection),
		cursors: make(map[protocol.Flavor]protocol.ConnID),
	}
}

// Add assigns the next free id to conn. The counter wraps, so ids are
// reused once their previous holder is removed.
func (r *Registry) Add(conn net.Conn) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conns) >= maxConnections {
		return nil, ErrRegistryFull
	}

	for i := 0; i < maxConnections; i++ {
		id := protocol.ConnID(r.next)
		r.next++
		if _, taken := r.conns[id]; taken {
			continue
		}
		c := newConnection(id, conn)
		r.conns[id] = c
		return c, nil
	}

	return nil, ErrRegistryFull
}

// SetFlavor marks a connection as registered under f.
func (r *Registry) SetFlavor(id protocol.ConnID, f protocol.Flavor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if !ok {
		return false
	}
	c.flavor = f
	c.registered = true
	return true
}

// Get returns the connection holding id.
func (r *Registry) Get(id protocol.ConnID) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

// Flavor returns the registration state of id.
func (r *Registry) Flavor(id protocol.ConnID) (protocol.Flavor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok || !c.registered {
		return protocol.FlavorNone, false
	}
	return c.flavor, true
}

// Remove drops id from the registry and returns the removed connection.
// The caller closes it.
func (r *Registry) Remove(id protocol.ConnID) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return c, ok
}

// Targets resolves a network route to the connections it addresses.
// Unregistered connections never match Any or All.
//
// Any picks round-robin among the registered connections of the flavor,
// in ascending id order, continuing after the id it picked last time.
func (r *Registry) Targets(route protocol.Route) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch route.Kind {
	case protocol.RouteOne:
		if c, ok := r.conns[route.ID]; ok {
			return []*Connection{c}
		}
		return nil

	case protocol.RouteAll:
		return r.byFlavorLocked(route.Flavor)

	case protocol.RouteAny:
		matches := r.byFlavorLocked(route.Flavor)
		if len(matches) == 0 {
			return nil
		}
		pick := matches[0]
		if last, ok := r.cursors[route.Flavor]; ok {
			for _, c := range matches {
				if c.id > last {
					pick = c
					break
				}
			}
		}
		r.cursors[route.Flavor] = pick.id
		return []*Connection{pick}
	}

	return nil
}

func (r *Registry) byFlavorLocked(f protocol.Flavor) []*Connection {
	var out []*Connection
	for _, c := range r.conns {
		if c.registered && c.flavor == f {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Snapshot returns every connection ordered by id.
func (r *Registry) Snapshot() []ConnectionInfo {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	infos := make([]ConnectionInfo, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
		infos = append(infos, ConnectionInfo{
			ID:          c.id,
			Flavor:      c.flavor,
			Registered:  c.registered,
			Remote:      c.RemoteAddr().String(),
			ConnectedAt: c.connectedAt,
		})
	}
	r.mu.Unlock()

	for i, c := range conns {
		infos[i].LastActivity = c.LastActivity()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll removes and closes every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for id, c := range r.conns {
		conns = append(conns, c)
		delete(r.conns, id)
	}
	r.cursors = make(map[protocol.Flavor]protocol.ConnID)
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
