package client

import (
	"github.com/pkg/errors"

	"httpcore/message"
	"httpcore/pool"
)

// Interceptor observes and may rewrite a network request before it
// reaches the wire, and the response before the engine sees it.
type Interceptor interface {
	Intercept(chain Chain) (*message.Response, error)
}

// Chain is an interceptor's view of the exchange in progress.
type Chain interface {
	Request() *message.Request
	Connection() *pool.Connection

	// Proceed passes the request down the chain. Every interceptor
	// must call it exactly once per invocation.
	Proceed(request *message.Request) (*message.Response, error)
}

type networkChain struct {
	engine  *Engine
	index   int
	request *message.Request

	calls int
}

var _ Chain = (*networkChain)(nil)

func (c *networkChain) Request() *message.Request { return c.request }

func (c *networkChain) Connection() *pool.Connection {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	return c.engine.conn
}

func (c *networkChain) Proceed(request *message.Request) (*message.Response, error) {
	c.calls++
	if c.calls > 1 {
		return nil, errors.Errorf(
			"proceed called more than once at chain index %d", c.index)
	}

	// The connection is already bound to an address; interceptors may
	// not steer the request elsewhere.
	if conn := c.Connection(); conn != nil {
		address := conn.Route().Address
		u := request.URL()
		if u.Host() != address.Host || u.EffectivePort() != address.Port {
			return nil, errors.Errorf(
				"interceptor must retain the same host and port: %s:%d",
				address.Host, address.Port)
		}
	}

	interceptors := c.engine.client.interceptors
	if c.index < len(interceptors) {
		next := &networkChain{engine: c.engine, index: c.index + 1, request: request}
		interceptor := interceptors[c.index]

		response, err := interceptor.Intercept(next)
		if err != nil {
			return nil, err
		}
		if next.calls != 1 {
			return nil, errors.Errorf(
				"interceptor %T must call proceed exactly once", interceptor)
		}
		if response == nil {
			return nil, errors.Errorf(
				"interceptor %T returned a nil response", interceptor)
		}
		return response, nil
	}

	return c.engine.exchange(request)
}
