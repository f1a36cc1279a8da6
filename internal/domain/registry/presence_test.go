package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type transition struct {
	userID string
	status Status
}

type changeRecorder struct {
	mu  sync.Mutex
	got []transition
}

func (r *changeRecorder) record(userID string, status Status, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, transition{userID, status})
}

func (r *changeRecorder) transitions() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.got...)
}

func TestPresenceConnectDisconnect(t *testing.T) {
	rec := &changeRecorder{}
	p := NewPresence()
	p.SetOnChange(rec.record)

	p.Connected("u1")
	assert.Equal(t, StatusOnline, p.StatusOf("u1"))

	// A second connection for the same user does not re-emit online.
	p.Connected("u1")
	assert.Equal(t, []transition{{"u1", StatusOnline}}, rec.transitions())

	// First disconnect: still one connection left, stays online.
	p.Disconnected("u1")
	assert.Equal(t, StatusOnline, p.StatusOf("u1"))

	// Last disconnect: offline immediately, independent of TTL.
	p.Disconnected("u1")
	assert.Equal(t, StatusOffline, p.StatusOf("u1"))
	assert.Equal(t, []transition{{"u1", StatusOnline}, {"u1", StatusOffline}}, rec.transitions())
}

func TestPresenceUnknownUserIsOffline(t *testing.T) {
	p := NewPresence()
	assert.Equal(t, StatusOffline, p.StatusOf("nobody"))
}

func TestPresenceTTLExpiry(t *testing.T) {
	rec := &changeRecorder{}
	p := NewPresence(WithPresenceTTL(10 * time.Millisecond))
	p.SetOnChange(rec.record)

	p.Connected("u1")
	time.Sleep(20 * time.Millisecond)
	p.expire(time.Now())

	assert.Equal(t, StatusOffline, p.StatusOf("u1"))
	assert.Equal(t, []transition{{"u1", StatusOnline}, {"u1", StatusOffline}}, rec.transitions())
}

func TestPresenceHeartbeatRefreshesTTL(t *testing.T) {
	p := NewPresence(WithPresenceTTL(30 * time.Millisecond))
	p.Connected("u1")

	time.Sleep(20 * time.Millisecond)
	p.Heartbeat("u1")
	p.expire(time.Now())
	assert.Equal(t, StatusOnline, p.StatusOf("u1"), "heartbeat must push expiry out")
}

func TestPresenceHeartbeatRevivesExpiredUser(t *testing.T) {
	rec := &changeRecorder{}
	p := NewPresence(WithPresenceTTL(time.Nanosecond))
	p.SetOnChange(rec.record)

	p.Connected("u1")
	time.Sleep(time.Millisecond)
	p.expire(time.Now())
	assert.Equal(t, StatusOffline, p.StatusOf("u1"))

	// Connection is still up, only the heartbeat lapsed.
	p.Heartbeat("u1")
	assert.Equal(t, StatusOnline, p.StatusOf("u1"))
	assert.Equal(t, []transition{
		{"u1", StatusOnline},
		{"u1", StatusOffline},
		{"u1", StatusOnline},
	}, rec.transitions())
}

func TestPresenceExpireForgetsDisconnectedUsers(t *testing.T) {
	p := NewPresence()
	p.Connected("u1")
	p.Disconnected("u1")

	p.expire(time.Now())
	p.mu.Lock()
	_, ok := p.users["u1"]
	p.mu.Unlock()
	assert.False(t, ok, "offline user without connections is dropped")
}
