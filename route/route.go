// Package route enumerates the ways a request can reach its origin:
// the proxy choices crossed with each proxy's resolved socket
// addresses. Failed routes are demoted so healthy ones are tried
// first.
package route

import (
	"strconv"
	"strings"

	"httpcore/transport"
)

// Address identifies an origin server together with the connection
// configuration that must match for two requests to share a socket.
type Address struct {
	Host string
	Port uint16

	// UseTLS is derived from the request scheme. Connections to the
	// same host differ by TLS mode and must not be pooled together.
	UseTLS bool

	// Proxy is the explicitly requested proxy. Nil delegates the
	// choice to the client's proxy selector.
	Proxy *Proxy
}

func (a Address) Equal(other Address) bool {
	if a.Host != other.Host || a.Port != other.Port || a.UseTLS != other.UseTLS {
		return false
	}
	switch {
	case a.Proxy == nil && other.Proxy == nil:
		return true
	case a.Proxy == nil || other.Proxy == nil:
		return false
	}
	return *a.Proxy == *other.Proxy
}

// Key returns a map key with the same equality as Equal.
func (a Address) Key() string {
	var b strings.Builder
	if a.UseTLS {
		b.WriteString("tls|")
	} else {
		b.WriteString("tcp|")
	}
	b.WriteString(a.Host)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(int(a.Port)))
	if a.Proxy != nil {
		b.WriteByte('|')
		b.WriteString(a.Proxy.String())
	}
	return b.String()
}

// Route is one concrete connection attempt: the address, the chosen
// proxy, and the resolved socket address to dial.
type Route struct {
	Address    Address
	Proxy      Proxy
	SocketAddr transport.Addr
}

func (r Route) Equal(other Route) bool {
	return r.Address.Equal(other.Address) &&
		r.Proxy == other.Proxy &&
		r.SocketAddr == other.SocketAddr
}

func (r Route) key() string {
	return r.Address.Key() + "|" + r.Proxy.String() + "|" + r.SocketAddr.String()
}
