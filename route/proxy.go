package route

import (
	"strconv"

	"httpcore/uri"
)

type ProxyType uint8

const (
	// ProxyDirect connects straight to the origin.
	ProxyDirect ProxyType = iota
	// ProxyHTTP tunnels or forwards through an HTTP proxy.
	ProxyHTTP
	// ProxySOCKS relays through a SOCKS proxy. The origin host is
	// resolved locally.
	ProxySOCKS
)

func (t ProxyType) String() string {
	switch t {
	case ProxyDirect:
		return "direct"
	case ProxyHTTP:
		return "http"
	case ProxySOCKS:
		return "socks"
	}
	return "unknown"
}

// Proxy is one hop between the client and the origin. The zero value
// is a direct connection.
type Proxy struct {
	Type ProxyType

	// Host and Port locate the proxy itself. Unused for direct.
	Host string
	Port uint16
}

// Direct is the no-proxy hop every selector falls back to.
var Direct = Proxy{Type: ProxyDirect}

func (p Proxy) String() string {
	if p.Type == ProxyDirect {
		return "direct"
	}
	return p.Type.String() + "://" + p.Host + ":" + strconv.Itoa(int(p.Port))
}

// ProxySelector supplies proxy choices per target, in preference
// order. Implementations typically consult system configuration; the
// library itself never reads the environment.
type ProxySelector interface {
	SelectProxies(target uri.URI) []Proxy

	// ConnectFailed reports that a selected proxy was unreachable so
	// the selector can deprioritize it.
	ConnectFailed(target uri.URI, proxy Proxy, err error)
}
