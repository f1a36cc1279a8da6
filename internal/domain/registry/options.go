package registry

import "time"

// PresenceOption configures the tracker.
type PresenceOption func(*Presence)

// WithPresenceTTL sets how long a user stays online without a heartbeat.
func WithPresenceTTL(d time.Duration) PresenceOption {
	return func(p *Presence) {
		p.ttl = d
	}
}

// WithSweepInterval sets how often the janitor scans for expired entries.
func WithSweepInterval(d time.Duration) PresenceOption {
	return func(p *Presence) {
		p.sweep = d
	}
}
