package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T, userID string) Connector {
	t.Helper()
	conn := NewConnector(context.Background(), userID, 8)
	t.Cleanup(conn.Close)
	return conn
}

func TestConnectionsRegisterUnregister(t *testing.T) {
	c := NewConnections()
	conn := newTestConn(t, "u1")

	c.Register(conn)
	got, ok := c.Get(conn.ID())
	require.True(t, ok)
	assert.Equal(t, conn.ID(), got.ID())
	assert.Equal(t, "u1", c.UserOf(conn.ID()))
	assert.True(t, c.IsUserConnected("u1"))

	userID, last := c.Unregister(conn.ID())
	assert.Equal(t, "u1", userID)
	assert.True(t, last)
	assert.False(t, c.IsUserConnected("u1"))

	_, ok = c.Get(conn.ID())
	assert.False(t, ok)
}

func TestConnectionsUnregisterIsIdempotent(t *testing.T) {
	c := NewConnections()
	conn := newTestConn(t, "u1")
	c.Register(conn)

	_, last := c.Unregister(conn.ID())
	assert.True(t, last)

	userID, last := c.Unregister(conn.ID())
	assert.Empty(t, userID)
	assert.False(t, last)
}

func TestConnectionsLastForUser(t *testing.T) {
	c := NewConnections()
	c1 := newTestConn(t, "u1")
	c2 := newTestConn(t, "u1")
	c.Register(c1)
	c.Register(c2)

	_, last := c.Unregister(c1.ID())
	assert.False(t, last, "user still has another connection")

	_, last = c.Unregister(c2.ID())
	assert.True(t, last)
}

func TestConnectionsAssociateUserLater(t *testing.T) {
	c := NewConnections()
	conn := newTestConn(t, "")
	c.Register(conn)
	assert.Empty(t, c.UserOf(conn.ID()))

	c.AssociateUser(conn.ID(), "u9")
	assert.Equal(t, "u9", c.UserOf(conn.ID()))
	assert.True(t, c.IsUserConnected("u9"))

	// Association of an unknown connection is dropped silently.
	c.AssociateUser("ghost", "u9")
	assert.Empty(t, c.UserOf("ghost"))
}

func TestConnectorSendAfterCloseFails(t *testing.T) {
	conn := NewConnector(context.Background(), "u1", 1)
	conn.Close()

	ok := conn.Send([]byte("x"), time.Millisecond)
	assert.False(t, ok)
}

func TestConnectorSendDropsWhenSaturated(t *testing.T) {
	conn := NewConnector(context.Background(), "u1", 1)
	defer conn.Close()

	require.True(t, conn.Send([]byte("a"), time.Millisecond))
	// Buffer full and nobody draining: the send must give up, not block.
	start := time.Now()
	ok := conn.Send([]byte("b"), 10*time.Millisecond)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestConnectorPreservesSendOrder(t *testing.T) {
	conn := NewConnector(context.Background(), "u1", 16)
	defer conn.Close()

	for i := byte('a'); i < 'f'; i++ {
		require.True(t, conn.Send([]byte{i}, time.Millisecond))
	}
	for i := byte('a'); i < 'f'; i++ {
		assert.Equal(t, []byte{i}, <-conn.Recv())
	}
}
