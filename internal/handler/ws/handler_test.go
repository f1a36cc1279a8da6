package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigal/im-gateway/internal/domain/envelope"
	"github.com/scigal/im-gateway/internal/domain/registry"
	"github.com/scigal/im-gateway/internal/router"
	"github.com/scigal/im-gateway/internal/service"
	"github.com/scigal/im-gateway/internal/storage"
)

type nopStore struct {
	mu    sync.Mutex
	saved int
}

func (s *nopStore) SaveMessage(context.Context, *storage.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved++
	return nil
}
func (s *nopStore) SaveCall(context.Context, *storage.CallRecord) error             { return nil }
func (s *nopStore) AddRoomMember(context.Context, string, string) error             { return nil }
func (s *nopStore) RemoveRoomMember(context.Context, string, string) error          { return nil }
func (s *nopStore) UpdatePresence(context.Context, string, string, time.Time) error { return nil }
func (s *nopStore) RecentMessages(context.Context, string, int) ([]*storage.MessageRecord, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *service.Gateway) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	conns := registry.NewConnections()
	rooms := registry.NewRooms()
	presence := registry.NewPresence()
	bcast := router.NewBroadcaster(conns, rooms, logger)
	signals := router.NewSignalRouter(conns, bcast, logger)

	gw := service.NewGateway(logger, conns, rooms, presence, bcast, signals, nil, &nopStore{}, nil, nil, 50)
	srv := httptest.NewServer(NewHandler(logger, gw))
	t.Cleanup(srv.Close)
	return srv, gw
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?userId=" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, env *envelope.Envelope) {
	t.Helper()
	raw, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func recvType(t *testing.T, conn *websocket.Conn, want envelope.Type) *envelope.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := envelope.Decode(raw)
		require.NoError(t, err)
		if env.Type == want {
			return env
		}
	}
}

func TestEndToEndRoomMessage(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")

	send(t, alice, &envelope.Envelope{Type: envelope.TypeJoin, Room: "general", From: "alice"})
	send(t, bob, &envelope.Envelope{Type: envelope.TypeJoin, Room: "general", From: "bob"})

	// The join has to land before the message routes, and joins are
	// acknowledged only implicitly. Presence traffic doubles as a sync
	// point: both sockets observe the other side come online.
	recvType(t, alice, envelope.TypePresence)
	recvType(t, bob, envelope.TypePresence)
	time.Sleep(50 * time.Millisecond)

	send(t, alice, &envelope.Envelope{
		Type: envelope.TypeMessage, Room: "general", From: "alice",
		Payload: json.RawMessage(`{"text":"hello"}`),
	})

	env := recvType(t, bob, envelope.TypeMessage)
	assert.Equal(t, "alice", env.From)
	assert.JSONEq(t, `{"text":"hello"}`, string(env.Payload))
}

func TestEndToEndDisconnectFreesRegistry(t *testing.T) {
	srv, gw := newTestServer(t)

	alice := dial(t, srv, "alice")
	send(t, alice, &envelope.Envelope{Type: envelope.TypeJoin, Room: "general", From: "alice"})
	require.Eventually(t, func() bool { return gw.Stats().Rooms == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		s := gw.Stats()
		return s.Connections == 0 && s.Rooms == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEndToEndMalformedFrameToleratedByServer(t *testing.T) {
	srv, gw := newTestServer(t)

	alice := dial(t, srv, "alice")
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"broken`)))

	send(t, alice, &envelope.Envelope{Type: envelope.TypeJoin, Room: "general", From: "alice"})
	require.Eventually(t, func() bool { return gw.Stats().Rooms == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, gw.Stats().Connections)
}
