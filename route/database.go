package route

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const DefaultFailureTTL = 5 * time.Minute

// Database remembers routes that recently failed to connect so the
// selector can try healthy routes first. Entries expire after a TTL;
// a route is only postponed, never excluded, so it remains reachable
// as a last resort.
type Database struct {
	clock clock.Clock
	ttl   time.Duration

	mu     sync.Mutex
	failed map[string]time.Time
}

func NewDatabase(clk clock.Clock, ttl time.Duration) *Database {
	if ttl <= 0 {
		ttl = DefaultFailureTTL
	}
	return &Database{
		clock:  clk,
		ttl:    ttl,
		failed: make(map[string]time.Time),
	}
}

// Failed records a connection failure on the route.
func (d *Database) Failed(route Route) {
	d.mu.Lock()
	d.failed[route.key()] = d.clock.Now().Add(d.ttl)
	d.mu.Unlock()
}

// Connected clears a previous failure after the route connects.
func (d *Database) Connected(route Route) {
	d.mu.Lock()
	delete(d.failed, route.key())
	d.mu.Unlock()
}

// ShouldPostpone reports whether the route failed recently. Expired
// entries are pruned on access.
func (d *Database) ShouldPostpone(route Route) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := route.key()
	expiresAt, ok := d.failed[key]
	if !ok {
		return false
	}
	if !d.clock.Now().Before(expiresAt) {
		delete(d.failed, key)
		return false
	}
	return true
}
