package route

import (
	"context"
	"net/netip"

	"github.com/pkg/errors"

	"httpcore/transport"
	"httpcore/uri"
)

var ErrExhausted = errors.New("no more routes")

// Selector enumerates the routes to an address: every selected proxy
// crossed with that proxy's resolved socket addresses. Routes the
// database remembers as recently failed are postponed until all
// healthy routes have been handed out.
type Selector struct {
	address  Address
	target   uri.URI
	resolver Resolver
	proxies  ProxySelector
	db       *Database

	nextProxy int
	plan      []Proxy

	current     Proxy
	socketAddrs []transport.Addr
	nextSocket  int

	postponed []Route
}

// NewSelector plans the proxy hops for the address. An explicit proxy
// on the address is used alone; otherwise the proxy selector's choices
// are tried in order, with a direct connection as the final fallback.
func NewSelector(address Address, target uri.URI, resolver Resolver, proxies ProxySelector, db *Database) *Selector {
	s := &Selector{
		address:  address,
		target:   target,
		resolver: resolver,
		proxies:  proxies,
		db:       db,
	}

	if address.Proxy != nil {
		s.plan = []Proxy{*address.Proxy}
		return s
	}

	for _, proxy := range proxies.SelectProxies(target) {
		if proxy.Type != ProxyDirect {
			s.plan = append(s.plan, proxy)
		}
	}
	s.plan = append(s.plan, Direct)
	return s
}

// HasNext reports whether Next can still produce a route.
func (s *Selector) HasNext() bool {
	return s.nextSocket < len(s.socketAddrs) ||
		s.nextProxy < len(s.plan) ||
		len(s.postponed) > 0
}

// Next returns the next route to attempt. Healthy routes come first;
// routes the database postponed are drained last, and only once every
// other route is spent does Next return [ErrExhausted].
func (s *Selector) Next(ctx context.Context) (Route, error) {
	for {
		for s.nextSocket < len(s.socketAddrs) {
			route := Route{
				Address:    s.address,
				Proxy:      s.current,
				SocketAddr: s.socketAddrs[s.nextSocket],
			}
			s.nextSocket++

			if s.db != nil && s.db.ShouldPostpone(route) {
				s.postponed = append(s.postponed, route)
				continue
			}
			return route, nil
		}

		if s.nextProxy < len(s.plan) {
			proxy := s.plan[s.nextProxy]
			s.nextProxy++
			if err := s.resolveProxy(ctx, proxy); err != nil {
				return Route{}, err
			}
			continue
		}

		if len(s.postponed) > 0 {
			route := s.postponed[0]
			s.postponed = s.postponed[1:]
			return route, nil
		}

		return Route{}, errors.Wrapf(ErrExhausted, "%s", s.address.Key())
	}
}

// resolveProxy fills socketAddrs with the socket addresses behind the
// proxy. Direct and SOCKS hops dial the origin, so the origin host is
// resolved; an HTTP proxy is dialed itself, and the origin host
// travels to it by name.
func (s *Selector) resolveProxy(ctx context.Context, proxy Proxy) error {
	var host string
	var port uint16
	if proxy.Type == ProxyHTTP {
		host, port = proxy.Host, proxy.Port
	} else {
		host, port = s.address.Host, s.address.Port
	}
	if port == 0 {
		return errors.Errorf("no route to %s: invalid port %d", host, port)
	}

	s.current = proxy
	s.nextSocket = 0

	if ip, err := netip.ParseAddr(host); err == nil {
		s.socketAddrs = []transport.Addr{transport.AddrFrom(ip, port)}
		return nil
	}

	ips, err := s.resolver.LookupIP(ctx, host)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", host)
	}
	if len(ips) == 0 {
		return errors.Wrapf(ErrHostNotFound, "%s returned no addresses", host)
	}

	s.socketAddrs = s.socketAddrs[:0]
	for _, ip := range ips {
		s.socketAddrs = append(s.socketAddrs, transport.AddrFrom(ip, port))
	}
	return nil
}

// ConnectFailed records that the route could not be connected, so
// later selectors demote it and the proxy selector can react.
func (s *Selector) ConnectFailed(route Route, err error) {
	if route.Proxy.Type != ProxyDirect && s.address.Proxy == nil {
		s.proxies.ConnectFailed(s.target, route.Proxy, err)
	}
	if s.db != nil {
		s.db.Failed(route)
	}
}
