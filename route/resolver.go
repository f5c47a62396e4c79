package route

import (
	"context"
	"maps"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var ErrHostNotFound = errors.New("host not found")

// Resolver maps a hostname to its addresses. Implementations back
// onto real DNS; tests use [MapResolver].
type Resolver interface {
	LookupIP(ctx context.Context, host string) ([]netip.Addr, error)
}

// MapResolver resolves from a fixed table.
type MapResolver struct {
	mu  sync.Mutex
	set map[string][]netip.Addr
}

var _ Resolver = (*MapResolver)(nil)

func NewMapResolver(set map[string][]netip.Addr) *MapResolver {
	if set == nil {
		set = make(map[string][]netip.Addr)
	}
	return &MapResolver{set: maps.Clone(set)}
}

func (m *MapResolver) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addrs, ok := m.set[host]
	if !ok {
		return nil, errors.Wrap(ErrHostNotFound, host)
	}
	return addrs, nil
}

func (m *MapResolver) Set(host string, addrs []netip.Addr) {
	if len(addrs) == 0 {
		return
	}
	m.mu.Lock()
	m.set[host] = addrs
	m.mu.Unlock()
}

func (m *MapResolver) Del(host string) {
	m.mu.Lock()
	delete(m.set, host)
	m.mu.Unlock()
}

const DefaultResolveTTL = time.Minute

// CachingResolver memoizes lookups for a TTL and collapses concurrent
// lookups of the same host into one underlying query.
type CachingResolver struct {
	resolver Resolver
	clock    clock.Clock
	ttl      time.Duration

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]resolved
}

type resolved struct {
	addrs     []netip.Addr
	expiresAt time.Time
}

var _ Resolver = (*CachingResolver)(nil)

func NewCachingResolver(resolver Resolver, clk clock.Clock, ttl time.Duration) *CachingResolver {
	if ttl <= 0 {
		ttl = DefaultResolveTTL
	}
	return &CachingResolver{
		resolver: resolver,
		clock:    clk,
		ttl:      ttl,
		entries:  make(map[string]resolved),
	}
}

func (c *CachingResolver) LookupIP(ctx context.Context, host string) ([]netip.Addr, error) {
	c.mu.Lock()
	entry, ok := c.entries[host]
	if ok && c.clock.Now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.addrs, nil
	}
	delete(c.entries, host)
	c.mu.Unlock()

	result, err, _ := c.group.Do(host, func() (any, error) {
		addrs, err := c.resolver.LookupIP(ctx, host)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[host] = resolved{addrs: addrs, expiresAt: c.clock.Now().Add(c.ttl)}
		c.mu.Unlock()
		return addrs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]netip.Addr), nil
}

// Forget drops a cached entry, typically after every address of a
// host failed.
func (c *CachingResolver) Forget(host string) {
	c.mu.Lock()
	delete(c.entries, host)
	c.mu.Unlock()
}
