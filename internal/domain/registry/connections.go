package registry

import (
	"sync"
)

// Connections owns the lifecycle of every live connection on this instance
// and the connection-to-user association. Rooms hold only id references back
// into this registry, never the connections themselves.
type Connections struct {
	mu     sync.RWMutex
	conns  map[string]Connector
	users  map[string]string              // connID -> userID
	byUser map[string]map[string]struct{} // userID -> set of connID
}

func NewConnections() *Connections {
	return &Connections{
		conns:  make(map[string]Connector),
		users:  make(map[string]string),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Register adds a live connection. A handshake identity, when present, is
// associated immediately.
func (c *Connections) Register(conn Connector) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conns[conn.ID()] = conn
	if uid := conn.UserID(); uid != "" {
		c.associateLocked(conn.ID(), uid)
	}
}

// AssociateUser binds a user identity to an already-registered connection.
// Unknown connections are ignored: the connection may have closed between
// resolution and association.
func (c *Connections) AssociateUser(connID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.conns[connID]; !ok {
		return
	}
	c.associateLocked(connID, userID)
}

func (c *Connections) associateLocked(connID, userID string) {
	if prev, ok := c.users[connID]; ok {
		if prev == userID {
			return
		}
		c.dissociateLocked(connID, prev)
	}
	c.users[connID] = userID
	set, ok := c.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		c.byUser[userID] = set
	}
	set[connID] = struct{}{}
}

func (c *Connections) dissociateLocked(connID, userID string) {
	delete(c.users, connID)
	if set, ok := c.byUser[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(c.byUser, userID)
		}
	}
}

// Unregister removes a connection and closes it. It is idempotent: a second
// call for the same id is a no-op. lastForUser reports whether this was the
// user's final connection, which drives the presence-offline transition.
func (c *Connections) Unregister(connID string) (userID string, lastForUser bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, ok := c.conns[connID]
	if !ok {
		return "", false
	}
	delete(c.conns, connID)

	if uid, ok := c.users[connID]; ok {
		userID = uid
		c.dissociateLocked(connID, uid)
		_, stillConnected := c.byUser[uid]
		lastForUser = !stillConnected
	}

	conn.Close()
	return userID, lastForUser
}

// Get resolves a connection id; the zero return means unknown or closed.
func (c *Connections) Get(connID string) (Connector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.conns[connID]
	return conn, ok
}

// UserOf returns the associated user identity for a connection, if any.
func (c *Connections) UserOf(connID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.users[connID]
}

// IsUserConnected reports whether the user has at least one live connection.
func (c *Connections) IsUserConnected(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byUser[userID]
	return ok
}

// Snapshot returns the current connections. Used by broadcast-all; the copy
// keeps delivery outside the registry lock.
func (c *Connections) Snapshot() []Connector {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Connector, 0, len(c.conns))
	for _, conn := range c.conns {
		out = append(out, conn)
	}
	return out
}

// Len returns the number of live connections.
func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// UserCount returns the number of distinct users with live connections.
func (c *Connections) UserCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byUser)
}
