package client

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"httpcore/message"
)

// Call is one request ready to be executed, at most once.
type Call struct {
	client  *Client
	request *message.Request

	// id correlates every log line of the call, follow-ups included.
	id string

	executed  atomic.Bool
	cancelled atomic.Bool

	// engine is swapped on recovery and follow-ups; Cancel reads it
	// through the pointer so late cancellation still lands.
	engine atomic.Pointer[Engine]
}

func newCall(client *Client, request *message.Request) *Call {
	return &Call{client: client, request: request, id: uuid.NewString()}
}

func (c *Call) logger() zerolog.Logger {
	return c.client.logger.With().Str("call", c.id).Logger()
}

func (c *Call) Request() *message.Request { return c.request }

// Execute runs the call on the calling goroutine and returns the
// final response. 4xx and 5xx responses are returned, not errors.
func (c *Call) Execute(ctx context.Context) (*message.Response, error) {
	if c.executed.Swap(true) {
		return nil, errors.New("call already executed")
	}

	c.client.dispatcher.executed(c)
	defer c.client.dispatcher.finishedSync(c)

	return c.getResponse(ctx)
}

// Enqueue schedules the call on the dispatcher and reports the outcome
// to callback from a worker goroutine.
func (c *Call) Enqueue(callback Callback) {
	if c.executed.Swap(true) {
		callback.OnFailure(c.request, errors.New("call already executed"))
		return
	}
	c.client.dispatcher.enqueue(&AsyncCall{call: c, callback: callback})
}

// Cancel interrupts the call. Idempotent; safe from any goroutine.
func (c *Call) Cancel() {
	if c.cancelled.Swap(true) {
		return
	}
	if engine := c.engine.Load(); engine != nil {
		engine.Cancel()
	}
}

func (c *Call) IsCancelled() bool { return c.cancelled.Load() }

// getResponse drives engines through send, read, recovery, and
// follow-ups until a final response or a terminal error.
func (c *Call) getResponse(ctx context.Context) (*message.Response, error) {
	logger := c.logger()
	u := c.request.URL()
	logger.Debug().
		Str("method", c.request.Method()).
		Str("url", u.Redacted()).
		Msg("executing call")

	engine := newEngine(c.client, c.request, false, false, nil, nil, nil)
	c.engine.Store(engine)

	followUps := 0
	for {
		if c.cancelled.Load() {
			engine.Close()
			return nil, ErrCancelled
		}

		err := engine.SendRequest(ctx)
		if err == nil {
			err = engine.ReadResponse()
		}
		if err != nil {
			if c.cancelled.Load() {
				engine.Close()
				return nil, errors.Wrap(ErrCancelled, err.Error())
			}
			next, ok := engine.Recover(err)
			if !ok {
				engine.Close()
				return nil, err
			}
			engine = next
			c.engine.Store(engine)
			continue
		}

		response := engine.Response()

		followUp, err := engine.FollowUpRequest()
		if err != nil {
			engine.Close()
			return nil, err
		}
		if followUp == nil {
			return response, nil
		}

		followUps++
		if followUps > MaxFollowUps {
			engine.Close()
			return nil, errors.Wrapf(ErrProtocol, "too many follow-ups: %d", followUps)
		}

		target := followUp.URL()
		logger.Debug().
			Int("follow_up", followUps).
			Int("code", response.Code()).
			Str("url", target.Redacted()).
			Msg("following up")

		// Settle this exchange; the follow-up engine reacquires the
		// connection through the pool.
		engine.Close()
		engine = newEngine(c.client, followUp, false, false, nil, nil, response)
		c.engine.Store(engine)
	}
}

// Callback receives the outcome of an asynchronous call.
type Callback interface {
	OnResponse(call *Call, response *message.Response)
	OnFailure(request *message.Request, err error)
}

// AsyncCall is a call waiting on, or running under, the dispatcher.
type AsyncCall struct {
	call     *Call
	callback Callback
}

func (ac *AsyncCall) host() string {
	u := ac.call.request.URL()
	return u.Host()
}

func (ac *AsyncCall) run() {
	defer ac.call.client.dispatcher.finished(ac)

	response, err := ac.call.getResponse(context.Background())
	if err != nil {
		ac.callback.OnFailure(ac.call.request, err)
		return
	}
	ac.callback.OnResponse(ac.call, response)
}
