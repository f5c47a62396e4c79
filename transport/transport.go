// Package transport defines the socket contracts the client runs on.
// Actual TCP and TLS sockets live outside the library; tests and
// embedders provide implementations.
package transport

import (
	"context"
	"net/netip"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrConnClosed       = errors.New("connection is closed")
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// Addr is a resolved socket address.
type Addr struct {
	IP   netip.Addr
	Port uint16
}

func AddrFrom(ip netip.Addr, port uint16) Addr {
	return Addr{IP: ip, Port: port}
}

func (a Addr) IsValid() bool { return a.IP.IsValid() && a.Port != 0 }

func (a Addr) String() string {
	if a.IP.Is6() {
		return "[" + a.IP.String() + "]:" + strconv.Itoa(int(a.Port))
	}
	return a.IP.String() + ":" + strconv.Itoa(int(a.Port))
}

// Conn is one established byte stream. A zero deadline means no limit.
type Conn interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error

	LocalAddr() Addr
	RemoteAddr() Addr

	SetReadDeadline(t time.Time)
	SetWriteDeadline(t time.Time)
}

// Dialer opens connections. Implementations perform the TLS handshake
// themselves when the dialed scheme demands one.
type Dialer interface {
	Dial(ctx context.Context, addr Addr) (Conn, error)
}
