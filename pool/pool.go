package pool

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"httpcore/route"
)

const (
	// DefaultMaxIdle caps how many idle connections the pool retains.
	DefaultMaxIdle = 5
	// DefaultKeepAlive is how long an idle connection stays reusable.
	DefaultKeepAlive = 5 * time.Minute

	sweepInterval = 30 * time.Second
)

// Pool caches connections keyed by address. HTTP/1 connections are
// removed on checkout and returned with [Pool.Recycle]; HTTP/2
// connections registered with [Pool.Share] stay in the pool and are
// handed to any number of concurrent callers.
type Pool struct {
	clock     clock.Clock
	logger    zerolog.Logger
	maxIdle   int
	keepAlive time.Duration

	mu     sync.Mutex
	conns  []*Connection
	closed bool

	done     chan struct{}
	sweeping sync.WaitGroup
}

func NewPool(clk clock.Clock, maxIdle int, keepAlive time.Duration, logger zerolog.Logger) *Pool {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	p := &Pool{
		clock:     clk,
		logger:    logger.With().Str("component", "pool").Logger(),
		maxIdle:   maxIdle,
		keepAlive: keepAlive,
		done:      make(chan struct{}),
	}

	p.sweeping.Add(1)
	go p.sweepLoop()

	return p
}

// Get returns a pooled connection to the address, or nil when none is
// available. An HTTP/2 connection is shared in place; an HTTP/1
// connection is checked out exclusively after a liveness probe.
// Requests that are safe to retry may reuse a stale socket and let
// the retry handle an IO failure, so they pass canReuseStale.
func (p *Pool) Get(address route.Address, canReuseStale bool) *Connection {
	for {
		conn := p.checkout(address)
		if conn == nil {
			return nil
		}
		if conn.IsMultiplexed() {
			return conn
		}

		if !canReuseStale && !conn.IsReadable() {
			p.logger.Debug().Str("address", address.Key()).Msg("discarding unreadable pooled connection")
			conn.Close()
			continue
		}
		return conn
	}
}

// checkout scans newest-first so recently used sockets, whose peers
// are least likely to have timed them out, are preferred.
func (p *Pool) checkout(address route.Address) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	for idx := len(p.conns) - 1; idx >= 0; idx-- {
		conn := p.conns[idx]
		if conn.IsClosed() {
			p.conns = append(p.conns[:idx], p.conns[idx+1:]...)
			continue
		}
		if !conn.Route().Address.Equal(address) {
			continue
		}

		if conn.IsMultiplexed() {
			conn.AllocateStream()
			return conn
		}

		p.conns = append(p.conns[:idx], p.conns[idx+1:]...)
		return conn
	}
	return nil
}

// Recycle returns a checked-out HTTP/1 connection to the pool. A
// multiplexed connection never left the pool, so only its stream slot
// is released.
func (p *Pool) Recycle(conn *Connection) {
	if conn.IsMultiplexed() {
		conn.ReleaseStream()
		return
	}
	if conn.IsClosed() {
		return
	}

	conn.incrementRecycleCount()
	conn.markIdle()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return
	}

	p.conns = append(p.conns, conn)

	var evicted []*Connection
	for idle := p.idleCountLocked(); idle > p.maxIdle; idle-- {
		evicted = append(evicted, p.evictOldestIdleLocked())
	}
	p.mu.Unlock()

	for _, old := range evicted {
		p.logger.Debug().Str("route", old.Route().Address.Key()).Msg("evicting connection over idle cap")
		old.Close()
	}
}

// Share registers a freshly established multiplexed connection and
// reserves the caller's stream slot on it.
func (p *Pool) Share(conn *Connection) {
	conn.AllocateStream()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.conns = append(p.conns, conn)
	p.mu.Unlock()
}

// idleCountLocked counts the non-multiplexed connections. Those are
// idle by construction: an HTTP/1 connection only sits in the pool
// between exchanges.
func (p *Pool) idleCountLocked() int {
	count := 0
	for _, conn := range p.conns {
		if !conn.IsMultiplexed() {
			count++
		}
	}
	return count
}

func (p *Pool) evictOldestIdleLocked() *Connection {
	now := p.clock.Now()

	oldest := -1
	var oldestIdle time.Duration
	for idx, conn := range p.conns {
		if conn.IsMultiplexed() {
			continue
		}
		if idle := conn.IdleDuration(now); idle >= oldestIdle {
			oldest, oldestIdle = idx, idle
		}
	}

	conn := p.conns[oldest]
	p.conns = append(p.conns[:oldest], p.conns[oldest+1:]...)
	return conn
}

func (p *Pool) sweepLoop() {
	defer p.sweeping.Done()

	ticker := p.clock.Ticker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.done:
			return
		}
	}
}

// sweep drops closed connections and closes those idle past the
// keep-alive duration.
func (p *Pool) sweep() {
	now := p.clock.Now()

	p.mu.Lock()
	var expired []*Connection
	kept := p.conns[:0]
	for _, conn := range p.conns {
		switch {
		case conn.IsClosed():
		case conn.IdleDuration(now) > p.keepAlive:
			expired = append(expired, conn)
		default:
			kept = append(kept, conn)
		}
	}
	p.conns = kept
	p.mu.Unlock()

	for _, conn := range expired {
		p.logger.Debug().Str("route", conn.Route().Address.Key()).Msg("evicting connection past keep-alive")
		conn.Close()
	}
}

// Len reports how many connections the pool tracks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close stops the sweeper and closes every pooled connection. Checked
// out connections are unaffected; they close when recycled.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	close(p.done)
	p.sweeping.Wait()

	for _, conn := range conns {
		conn.Close()
	}
	return nil
}
