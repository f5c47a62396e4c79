// Package client executes HTTP requests: cache consultation, route
// selection, connection pooling, the wire exchange, and follow-ups are
// all driven from here. Every collaborator is injected; the package
// holds no global state.
package client

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"httpcore/cache"
	"httpcore/message"
	"httpcore/pool"
	"httpcore/route"
	"httpcore/transport"
	"httpcore/wire/http2"
)

// Version is reported in the default User-Agent.
const Version = "1.0.0"

// Options carries the tunable behavior of a Client. Collaborators that
// are optional live here too; nil disables the concern.
type Options struct {
	UserAgent string

	FollowRedirects          bool
	FollowSSLRedirects       bool
	RetryOnConnectionFailure bool

	// Proxy forces every request through one proxy, bypassing the
	// proxy selector.
	Proxy *route.Proxy

	ProxySelector route.ProxySelector
	Authenticator Authenticator
	Cookies       CookieJar
	Cache         cache.Cache

	// Interceptors observe and may rewrite each network exchange, in
	// order.
	Interceptors []Interceptor

	// NewSession upgrades a freshly dialed TLS socket to a framed
	// multiplexed session when the handshake negotiated one. Nil
	// keeps every connection on HTTP/1.1.
	NewSession func(conn transport.Conn) (http2.Session, error)

	MaxIdleConnections int
	KeepAlive          time.Duration
}

// DefaultOptions mirror what a browser-grade client would pick.
func DefaultOptions() Options {
	return Options{
		UserAgent:                "httpcore/" + Version,
		FollowRedirects:          true,
		FollowSSLRedirects:       true,
		RetryOnConnectionFailure: true,
		MaxIdleConnections:       pool.DefaultMaxIdle,
		KeepAlive:                pool.DefaultKeepAlive,
	}
}

// Client creates calls. It is safe for concurrent use; one instance
// with a shared pool and dispatcher is the intended shape.
type Client struct {
	dialer   transport.Dialer
	resolver route.Resolver

	proxies      route.ProxySelector
	auth         Authenticator
	cookies      CookieJar
	cache        cache.Cache
	interceptors []Interceptor

	pool       *pool.Pool
	dispatcher *Dispatcher
	routes     *route.Database

	logger zerolog.Logger
	clock  clock.Clock
	opts   Options
}

func New(
	dialer transport.Dialer,
	resolver route.Resolver,
	logger zerolog.Logger,
	clk clock.Clock,
	opts Options,
) *Client {
	logger = logger.With().Str("component", "client").Logger()

	return &Client{
		dialer:       dialer,
		resolver:     resolver,
		proxies:      opts.ProxySelector,
		auth:         opts.Authenticator,
		cookies:      opts.Cookies,
		cache:        opts.Cache,
		interceptors: opts.Interceptors,
		pool:         pool.NewPool(clk, opts.MaxIdleConnections, opts.KeepAlive, logger),
		dispatcher:   NewDispatcher(),
		routes:       route.NewDatabase(clk, 0),
		logger:       logger,
		clock:        clk,
		opts:         opts,
	}
}

// NewCall prepares a request for execution.
func (c *Client) NewCall(request *message.Request) *Call {
	return newCall(c, request)
}

// Dispatcher exposes the scheduler for cap tuning and tag
// cancellation.
func (c *Client) Dispatcher() *Dispatcher { return c.dispatcher }

// Pool exposes the connection cache.
func (c *Client) Pool() *pool.Pool { return c.pool }

// CancelTag cancels every call carrying the tag.
func (c *Client) CancelTag(tag any) {
	c.dispatcher.CancelTag(tag)
}

// Close shuts the connection pool down. Calls in flight fail as their
// sockets drop.
func (c *Client) Close() error {
	return c.pool.Close()
}
