// Package pool caches live connections keyed by their address so
// requests to the same origin reuse sockets. HTTP/1 connections are
// checked out exclusively; HTTP/2 connections are shared by many
// streams at once. A background sweep evicts connections past their
// keep-alive or above the idle cap.
package pool

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"httpcore/message"
	"httpcore/route"
	"httpcore/transport"
	"httpcore/wire/http2"
)

// ProbeTimeout bounds the liveness read on a pooled socket.
const ProbeTimeout = time.Millisecond

var ErrConnectionClosed = errors.New("connection is closed")

// Connection owns one socket together with the route it was dialed
// over and the negotiated protocol. At any instant an HTTP/1
// connection is owned by at most one engine; an HTTP/2 connection
// carries any number of concurrent streams.
type Connection struct {
	conn  transport.Conn
	route route.Route
	clock clock.Clock

	mu           sync.Mutex
	protocol     message.Protocol
	session      http2.Session
	owner        any
	streamCount  int
	recycleCount int
	idleSince    time.Time
	closed       bool
}

func NewConnection(conn transport.Conn, r route.Route, clk clock.Clock) *Connection {
	return &Connection{
		conn:      conn,
		route:     r,
		clock:     clk,
		protocol:  message.ProtocolHTTP11,
		idleSince: clk.Now(),
	}
}

func (c *Connection) Conn() transport.Conn { return c.conn }
func (c *Connection) Route() route.Route   { return c.route }

func (c *Connection) Protocol() message.Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocol
}

// SetProtocol records the protocol chosen during negotiation.
func (c *Connection) SetProtocol(p message.Protocol) {
	c.mu.Lock()
	c.protocol = p
	c.mu.Unlock()
}

// IsMultiplexed reports whether the connection carries concurrent
// streams, and therefore never leaves the pool on checkout.
func (c *Connection) IsMultiplexed() bool {
	return c.Protocol() == message.ProtocolHTTP2
}

// SetSession attaches the framed session negotiated on the socket and
// marks the connection multiplexed.
func (c *Connection) SetSession(s http2.Session) {
	c.mu.Lock()
	c.protocol = message.ProtocolHTTP2
	c.session = s
	c.mu.Unlock()
}

// Session returns the framed session, or nil for HTTP/1 connections.
func (c *Connection) Session() http2.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SetOwner attaches the engine the connection is checked out to.
// Multiplexed connections are shared and have no owner.
func (c *Connection) SetOwner(owner any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.protocol == message.ProtocolHTTP2 {
		return
	}
	c.owner = owner
}

func (c *Connection) Owner() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

func (c *Connection) ClearOwner() {
	c.mu.Lock()
	c.owner = nil
	c.mu.Unlock()
}

// CloseIfOwnedBy closes the connection if owner still holds it.
// Returns whether the connection was closed.
func (c *Connection) CloseIfOwnedBy(owner any) bool {
	c.mu.Lock()
	if c.owner != owner || c.closed {
		c.mu.Unlock()
		return false
	}
	c.owner = nil
	c.closed = true
	c.mu.Unlock()

	c.conn.Close()
	return true
}

// AllocateStream reserves one multiplexed stream slot.
func (c *Connection) AllocateStream() {
	c.mu.Lock()
	c.streamCount++
	c.mu.Unlock()
}

// ReleaseStream returns a multiplexed stream slot and refreshes the
// idle clock when the last stream completes.
func (c *Connection) ReleaseStream() {
	c.mu.Lock()
	c.streamCount--
	if c.streamCount == 0 {
		c.idleSince = c.clock.Now()
	}
	c.mu.Unlock()
}

func (c *Connection) StreamCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamCount
}

// RecycleCount returns how many exchanges the connection has carried.
func (c *Connection) RecycleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recycleCount
}

func (c *Connection) incrementRecycleCount() {
	c.mu.Lock()
	c.recycleCount++
	c.mu.Unlock()
}

// IdleDuration returns how long the connection has sat unused.
func (c *Connection) IdleDuration(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamCount > 0 || c.owner != nil {
		return 0
	}
	return now.Sub(c.idleSince)
}

func (c *Connection) markIdle() {
	c.mu.Lock()
	c.owner = nil
	c.idleSince = c.clock.Now()
	c.mu.Unlock()
}

func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close()
}

// IsReadable probes the socket with a short read. A timeout means the
// peer is quiet and the connection is reusable. Bytes arriving on an
// idle connection, or a read error, mean the peer has torn it down.
func (c *Connection) IsReadable() bool {
	if c.IsClosed() {
		return false
	}

	c.conn.SetReadDeadline(c.clock.Now().Add(ProbeTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	var one [1]byte
	_, err := c.conn.Read(one[:])
	return errors.Is(err, transport.ErrDeadlineExceeded)
}
