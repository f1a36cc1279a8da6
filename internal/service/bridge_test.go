package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigal/im-gateway/internal/domain/envelope"
	"github.com/scigal/im-gateway/internal/domain/registry"
	"github.com/scigal/im-gateway/internal/relay"
	"github.com/scigal/im-gateway/internal/router"
)

// newInstance builds a full gateway bound to the shared in-memory channel,
// simulating one process of a multi-instance deployment.
func newInstance(t *testing.T, ps *gochannel.GoChannel, instanceID string) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	conns := registry.NewConnections()
	rooms := registry.NewRooms()
	presence := registry.NewPresence()
	bcast := router.NewBroadcaster(conns, rooms, logger)
	signals := router.NewSignalRouter(conns, bcast, logger)
	store := newMemStore()

	rl := relay.New(ps, ps, "scigal:messages", instanceID, logger)
	gw := NewGateway(logger, conns, rooms, presence, bcast, signals, rl, store, nil, nil, 50)

	ctx, cancel := context.WithCancel(context.Background())
	rl.Start(ctx)
	t.Cleanup(func() {
		rl.Stop(context.Background())
		cancel()
	})
	require.Eventually(t, rl.Connected, 2*time.Second, 10*time.Millisecond)

	return &fixture{gw: gw, store: store, rooms: rooms}
}

func TestMessageCrossesInstances(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ps.Close()

	nodeA := newInstance(t, ps, "node-a")
	nodeB := newInstance(t, ps, "node-b")

	alice := nodeA.gw.Connect(context.Background(), "alice")
	bob := nodeB.gw.Connect(context.Background(), "bob")
	nodeA.frame(t, alice.ID(), &envelope.Envelope{Type: envelope.TypeJoin, Room: "general", From: "alice"})
	nodeB.frame(t, bob.ID(), &envelope.Envelope{Type: envelope.TypeJoin, Room: "general", From: "bob"})

	nodeA.frame(t, alice.ID(), &envelope.Envelope{
		Type: envelope.TypeMessage, Room: "general", From: "alice",
		Payload: json.RawMessage(`{"text":"hello from a"}`),
	})

	got := recvEnvelope(t, bob, envelope.TypeMessage)
	assert.Equal(t, "alice", got.From)
	assert.Equal(t, "node-a", got.Origin)
	assert.JSONEq(t, `{"text":"hello from a"}`, string(got.Payload))

	// The local copy never makes a round trip through the relay: alice sees
	// exactly one delivery.
	first := recvEnvelope(t, alice, envelope.TypeMessage)
	assert.Empty(t, first.Origin)
	assertNoEnvelope(t, alice, envelope.TypeMessage)
}

func TestForeignMessageNotPersistedTwice(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ps.Close()

	nodeA := newInstance(t, ps, "node-a")
	nodeB := newInstance(t, ps, "node-b")

	alice := nodeA.gw.Connect(context.Background(), "alice")
	bob := nodeB.gw.Connect(context.Background(), "bob")
	nodeB.frame(t, bob.ID(), &envelope.Envelope{Type: envelope.TypeJoin, Room: "general", From: "bob"})

	nodeA.frame(t, alice.ID(), &envelope.Envelope{
		Type: envelope.TypeMessage, Room: "general", From: "alice",
		Payload: json.RawMessage(`{"text":"once"}`),
	})

	recvEnvelope(t, bob, envelope.TypeMessage)
	require.Eventually(t, func() bool { return nodeA.store.messageCount() == 1 },
		time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, nodeB.store.messageCount())
}

func TestSignalCrossesInstancesByRoom(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ps.Close()

	nodeA := newInstance(t, ps, "node-a")
	nodeB := newInstance(t, ps, "node-b")

	caller := nodeA.gw.Connect(context.Background(), "caller")
	callee := nodeB.gw.Connect(context.Background(), "callee")
	nodeB.frame(t, callee.ID(), &envelope.Envelope{Type: envelope.TypeJoin, Room: "call-7", From: "callee"})

	// The callee's connection id is unknown on node A, so the signal falls
	// back to room routing and still reaches the callee via the relay.
	nodeA.frame(t, caller.ID(), &envelope.Envelope{
		Type: envelope.TypeSignal, Room: "call-7", Target: callee.ID(), From: "caller",
		Payload: json.RawMessage(`{"candidate":"udp 1"}`),
	})

	got := recvEnvelope(t, callee, envelope.TypeSignal)
	assert.Equal(t, "caller", got.From)
	assert.JSONEq(t, `{"candidate":"udp 1"}`, string(got.Payload))
}

func TestPresenceCrossesInstances(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ps.Close()

	nodeA := newInstance(t, ps, "node-a")
	nodeB := newInstance(t, ps, "node-b")

	watcher := nodeB.gw.Connect(context.Background(), "watcher")

	alice := nodeA.gw.Connect(context.Background(), "alice")
	recvPresence(t, watcher, "alice", "online")

	nodeA.gw.Disconnect(alice.ID())
	recvPresence(t, watcher, "alice", "offline")
}

func TestShutdownRelaysOfflineToPeers(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ps.Close()

	nodeA := newInstance(t, ps, "node-a")
	nodeB := newInstance(t, ps, "node-b")

	watcher := nodeB.gw.Connect(context.Background(), "watcher")
	nodeA.gw.Connect(context.Background(), "alice")
	recvPresence(t, watcher, "alice", "online")

	// Graceful drain: the cascade runs while node A's relay is still up, so
	// remote watchers see the user go offline instead of sticking online.
	nodeA.gw.Shutdown()
	recvPresence(t, watcher, "alice", "offline")
}
