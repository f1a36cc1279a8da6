package registry

import (
	"context"
	"sync"
	"time"
)

// Status is the derived availability of a user, independent of which
// connection represents them.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	// StatusAway exists in the profile vocabulary but the tracker runs the
	// two-state model: transitions go straight between online and offline.
	StatusAway Status = "away"
)

// ChangeFunc observes presence transitions. It is invoked outside the
// tracker's lock and must not call back into the tracker synchronously.
type ChangeFunc func(userID string, status Status, lastSeen time.Time)

type presenceEntry struct {
	status   Status
	lastSeen time.Time
	conns    int
}

// Presence derives online/offline per user from connect, disconnect and
// heartbeat events. A user goes offline when their last connection closes or
// when the TTL elapses without a heartbeat, whichever happens first; the
// janitor goroutine enforces the latter.
type Presence struct {
	mu    sync.Mutex
	users map[string]*presenceEntry

	ttl   time.Duration
	sweep time.Duration

	onChange ChangeFunc

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

func NewPresence(opts ...PresenceOption) *Presence {
	p := &Presence{
		users: make(map[string]*presenceEntry),
		ttl:   5 * time.Minute,
		sweep: 30 * time.Second,
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetOnChange installs the transition observer. Must be called before Start.
func (p *Presence) SetOnChange(fn ChangeFunc) {
	p.onChange = fn
}

// Start launches the TTL janitor. Idempotent.
func (p *Presence) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go p.janitor(ctx)
	})
}

// Stop terminates the janitor. Idempotent.
func (p *Presence) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

// Connected records a new connection for the user. The first connection, or
// any connection while offline, transitions the user to online.
func (p *Presence) Connected(userID string) {
	if userID == "" {
		return
	}
	now := time.Now()

	p.mu.Lock()
	e, ok := p.users[userID]
	if !ok {
		e = &presenceEntry{status: StatusOffline}
		p.users[userID] = e
	}
	e.conns++
	e.lastSeen = now
	changed := e.status != StatusOnline
	e.status = StatusOnline
	p.mu.Unlock()

	if changed {
		p.emit(userID, StatusOnline, now)
	}
}

// Disconnected records a closed connection. The user's last connection going
// away transitions them offline immediately, without waiting for the TTL.
func (p *Presence) Disconnected(userID string) {
	if userID == "" {
		return
	}
	now := time.Now()

	p.mu.Lock()
	e, ok := p.users[userID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if e.conns > 0 {
		e.conns--
	}
	changed := e.conns == 0 && e.status != StatusOffline
	if changed {
		e.status = StatusOffline
		e.lastSeen = now
	}
	p.mu.Unlock()

	if changed {
		p.emit(userID, StatusOffline, now)
	}
}

// Heartbeat refreshes the user's TTL. A heartbeat from a user the janitor
// already expired brings them back online.
func (p *Presence) Heartbeat(userID string) {
	if userID == "" {
		return
	}
	now := time.Now()

	p.mu.Lock()
	e, ok := p.users[userID]
	if !ok {
		p.mu.Unlock()
		return
	}
	e.lastSeen = now
	changed := e.status != StatusOnline && e.conns > 0
	if changed {
		e.status = StatusOnline
	}
	p.mu.Unlock()

	if changed {
		p.emit(userID, StatusOnline, now)
	}
}

// StatusOf returns the tracked status; unknown users are offline.
func (p *Presence) StatusOf(userID string) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.users[userID]; ok {
		return e.status
	}
	return StatusOffline
}

func (p *Presence) emit(userID string, status Status, lastSeen time.Time) {
	if p.onChange != nil {
		p.onChange(userID, status, lastSeen)
	}
}

func (p *Presence) janitor(ctx context.Context) {
	ticker := time.NewTicker(p.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.expire(time.Now())
		}
	}
}

type expired struct {
	userID   string
	lastSeen time.Time
}

func (p *Presence) expire(now time.Time) {
	var out []expired

	p.mu.Lock()
	for userID, e := range p.users {
		if e.status == StatusOnline && now.Sub(e.lastSeen) > p.ttl {
			e.status = StatusOffline
			out = append(out, expired{userID: userID, lastSeen: e.lastSeen})
		}
		// Offline entries with no connections are forgotten entirely.
		if e.status == StatusOffline && e.conns == 0 {
			delete(p.users, userID)
		}
	}
	p.mu.Unlock()

	for _, x := range out {
		p.emit(x.userID, StatusOffline, x.lastSeen)
	}
}
