package iedserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ClientConnection represents a connected MMS client. It is valid from the
// connect indication until the disconnect indication; afterwards every
// accessor returns a zero value. Handlers may hold a connection while it is
// invalidated concurrently and must check IsValid when it matters.
type ClientConnection struct {
	id          uuid.UUID
	handle      Handle
	engine      Engine
	connectedAt time.Time
	valid       atomic.Bool
}

func newClientConnection(engine Engine, h Handle) *ClientConnection {
	c := &ClientConnection{
		id:          uuid.New(),
		handle:      h,
		engine:      engine,
		connectedAt: time.Now(),
	}
	c.valid.Store(true)
	return c
}

// ID is unique per connection for the lifetime of the process, even when
// the engine reuses native handles.
func (c *ClientConnection) ID() uuid.UUID          { return c.id }
func (c *ClientConnection) Handle() Handle         { return c.handle }
func (c *ClientConnection) ConnectedAt() time.Time { return c.connectedAt }
func (c *ClientConnection) IsValid() bool          { return c.valid.Load() }

func (c *ClientConnection) PeerAddress() string {
	if !c.IsValid() {
		return ""
	}
	return c.engine.ConnectionPeerAddress(c.handle)
}

func (c *ClientConnection) LocalAddress() string {
	if !c.IsValid() {
		return ""
	}
	return c.engine.ConnectionLocalAddress(c.handle)
}

// SecurityToken returns what the authenticator handler stored for this
// association, or nil.
func (c *ClientConnection) SecurityToken() any {
	if !c.IsValid() {
		return nil
	}
	return c.engine.ConnectionSecurityToken(c.handle)
}

// Abort closes the association from the server side.
func (c *ClientConnection) Abort() error {
	if !c.IsValid() {
		return ErrConnectionClosed
	}
	if !c.engine.AbortConnection(c.handle) {
		return ErrConnectionClosed
	}
	return nil
}

func (c *ClientConnection) String() string {
	if !c.IsValid() {
		return c.id.String() + " (closed)"
	}
	return c.id.String() + " " + c.PeerAddress()
}

// connectionRegistry maps native connection handles to their wrappers.
type connectionRegistry struct {
	mu    sync.Mutex
	conns map[Handle]*ClientConnection
}

func newConnectionRegistry() *connectionRegistry {
	return &connectionRegistry{conns: make(map[Handle]*ClientConnection)}
}

// add wraps and inserts h. A stale entry for the same handle (a missed
// disconnect) is invalidated and returned as replaced.
func (r *connectionRegistry) add(engine Engine, h Handle) (conn, replaced *ClientConnection) {
	conn = newClientConnection(engine, h)
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[h]; ok {
		old.valid.Store(false)
		replaced = old
	}
	r.conns[h] = conn
	return conn, replaced
}

// remove unlinks h and reports whether it was registered. The wrapper stays
// valid until the caller invalidates it.
func (r *connectionRegistry) remove(h Handle) (*ClientConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[h]
	if ok {
		delete(r.conns, h)
	}
	return conn, ok
}

// lookup returns nil for a zero or unknown handle.
func (r *connectionRegistry) lookup(h Handle) *ClientConnection {
	if h == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[h]
}

func (r *connectionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *connectionRegistry) all() []*ClientConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ClientConnection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

func (c *ClientConnection) invalidate() {
	c.valid.Store(false)
}
