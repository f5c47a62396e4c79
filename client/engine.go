package client

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"httpcore/cache"
	"httpcore/header"
	"httpcore/message"
	"httpcore/pool"
	"httpcore/route"
	"httpcore/uri"
	"httpcore/wire"
	"httpcore/wire/http1"
	"httpcore/wire/http2"
)

// MaxFollowUps bounds redirect and authentication chains.
const MaxFollowUps = 20

// Engine drives one request/response pair through its lifecycle. The
// user request is never mutated; a derived network request with
// default headers applied is what actually travels. A follow-up runs
// on a fresh engine.
type Engine struct {
	client *Client

	userRequest  *message.Request
	bufferBody   bool
	callerWrites bool

	selector *route.Selector

	mu        sync.Mutex
	conn      *pool.Connection
	transport wire.Transport

	route *route.Route

	strategy       *cache.Strategy
	networkRequest *message.Request
	cacheResponse  *message.Response
	userResponse   *message.Response
	priorResponse  *message.Response

	requestBodyOut io.WriteCloser
	bufferedBody   *wire.RetryableSink

	sentRequestMillis int64
	transparentGzip   bool

	cancelled atomic.Bool
}

var _ wire.Engine = (*Engine)(nil)

func newEngine(
	client *Client, request *message.Request,
	bufferBody, callerWrites bool,
	selector *route.Selector, requestBody *wire.RetryableSink,
	priorResponse *message.Response,
) *Engine {
	e := &Engine{
		client:            client,
		userRequest:       request,
		bufferBody:        bufferBody,
		callerWrites:      callerWrites,
		selector:          selector,
		priorResponse:     priorResponse,
		sentRequestMillis: -1,
	}
	if requestBody != nil {
		e.bufferedBody = requestBody
		e.requestBodyOut = requestBody
	}
	return e
}

// WritingRequestHeaders stamps the send time the first time request
// headers hit the wire.
func (e *Engine) WritingRequestHeaders() {
	if e.sentRequestMillis == -1 {
		e.sentRequestMillis = e.client.clock.Now().UnixMilli()
	}
}

func (e *Engine) Cancelled() bool { return e.cancelled.Load() }

// Cancel interrupts the exchange from any goroutine. In-flight reads
// observe the dropped socket as an IO error.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)

	e.mu.Lock()
	t := e.transport
	conn := e.conn
	e.mu.Unlock()

	if t != nil {
		_ = t.Disconnect(e)
	} else if conn != nil {
		_ = conn.Close()
	}
}

// Response returns the user-visible response once ReadResponse has
// completed.
func (e *Engine) Response() *message.Response { return e.userResponse }

// RequestBody exposes the sink a caller-driven body is written into.
func (e *Engine) RequestBody() io.WriteCloser { return e.requestBodyOut }

// SendRequest consults the cache and, when the network is required,
// establishes a connection and prepares the request for transmission.
// Idempotent.
func (e *Engine) SendRequest(ctx context.Context) error {
	if e.strategy != nil {
		return nil
	}

	networkRequest, err := e.prepareNetworkRequest(e.userRequest)
	if err != nil {
		return err
	}

	var candidate *message.Response
	if e.client.cache != nil {
		candidate, err = e.client.cache.Get(networkRequest)
		if err != nil {
			u := networkRequest.URL()
			e.client.logger.Warn().Err(err).
				Str("url", u.Redacted()).
				Msg("cache lookup failed")
		}
	}

	now := e.client.clock.Now().UnixMilli()
	e.strategy, err = cache.NewFactory(now, networkRequest, candidate).Get()
	if err != nil {
		return errors.Wrap(err, "computing cache strategy")
	}
	e.networkRequest = e.strategy.NetworkRequest
	e.cacheResponse = e.strategy.CacheResponse

	if e.client.cache != nil {
		e.client.cache.TrackResponse(e.strategy)
	}
	if candidate != nil && e.cacheResponse == nil {
		// The candidate wasn't usable after all.
		quietClose(candidate.Body())
	}

	if e.networkRequest != nil {
		if err := e.connectAndPrepare(ctx); err != nil {
			return err
		}
		return nil
	}

	// The network is off the table: answer from the cache or refuse.
	if e.cacheResponse != nil {
		userResponse, err := e.cacheResponse.NewBuilder().
			Request(e.userRequest).
			PriorResponse(stripBody(e.priorResponse)).
			CacheResponse(stripBody(e.cacheResponse)).
			Build()
		if err != nil {
			return err
		}
		e.userResponse, err = e.unzip(userResponse)
		return err
	}

	e.userResponse, err = message.NewResponseBuilder().
		Request(e.userRequest).
		Protocol(message.ProtocolHTTP11).
		Code(message.StatusGatewayTimeout).
		Message("Unsatisfiable Request (only-if-cached)").
		PriorResponse(stripBody(e.priorResponse)).
		Body(emptyBody()).
		Build()
	return err
}

func (e *Engine) connectAndPrepare(ctx context.Context) error {
	e.mu.Lock()
	connected := e.conn != nil
	e.mu.Unlock()

	if !connected {
		if err := e.connect(ctx); err != nil {
			return err
		}
	}
	e.newTransport()

	if !e.callerWrites || !message.PermitsRequestBody(e.networkRequest.Method()) {
		return nil
	}

	// The caller streams the body: emit headers now and hand back a
	// sink. A buffered sink stays replayable for recovery.
	if err := e.transport.WriteRequestHeaders(e.networkRequest); err != nil {
		return err
	}

	contentLength := message.ContentLength(e.networkRequest.Headers())
	if e.bufferBody {
		if e.bufferedBody == nil {
			e.bufferedBody = wire.NewRetryableSink(contentLength)
		}
		e.requestBodyOut = e.bufferedBody
		return nil
	}

	sink, err := e.transport.CreateRequestBody(e.networkRequest, contentLength)
	if err != nil {
		return err
	}
	e.requestBodyOut = sink
	return nil
}

// prepareNetworkRequest fills in the headers every request carries
// unless the caller set them explicitly.
func (e *Engine) prepareNetworkRequest(request *message.Request) (*message.Request, error) {
	u := request.URL()
	rb := request.NewBuilder()

	if body := request.Body(); body != nil && message.PermitsRequestBody(request.Method()) {
		if contentLength := body.ContentLength(); contentLength != -1 {
			rb.Header("Content-Length", strconv.FormatInt(contentLength, 10)).
				RemoveHeader("Transfer-Encoding")
		} else {
			rb.Header("Transfer-Encoding", "chunked").
				RemoveHeader("Content-Length")
		}
	}

	if _, ok := request.Header("Host"); !ok {
		rb.Header("Host", u.HostHeader())
	}
	if _, ok := request.Header("Connection"); !ok {
		rb.Header("Connection", "Keep-Alive")
	}
	if _, ok := request.Header("Accept-Encoding"); !ok {
		e.transparentGzip = true
		rb.Header("Accept-Encoding", "gzip")
	}
	if _, ok := request.Header("User-Agent"); !ok {
		rb.Header("User-Agent", e.client.opts.UserAgent)
	}
	if e.client.cookies != nil {
		if cookies := e.client.cookies.LoadForRequest(u); len(cookies) > 0 {
			rb.Header("Cookie", strings.Join(cookies, "; "))
		}
	}

	return rb.Build()
}

func (e *Engine) addressFor(request *message.Request) route.Address {
	u := request.URL()
	return route.Address{
		Host:   u.Host(),
		Port:   u.EffectivePort(),
		UseTLS: request.IsHTTPS(),
		Proxy:  e.client.opts.Proxy,
	}
}

// connect attaches a pooled connection or dials a new one over the
// next route. Dial failures come back as a RouteError so recovery can
// move on to the remaining routes.
func (e *Engine) connect(ctx context.Context) error {
	address := e.addressFor(e.networkRequest)

	if e.selector == nil {
		e.selector = route.NewSelector(
			address, e.networkRequest.URL(),
			e.client.resolver, e.client.proxies, e.client.routes,
		)
	}

	canReuseStale := e.networkRequest.Method() == "GET"
	if conn := e.client.pool.Get(address, canReuseStale); conn != nil {
		e.attach(conn)
		return nil
	}

	selected, err := e.selector.Next(ctx)
	if err != nil {
		return &RouteError{cause: err}
	}

	socket, err := e.client.dialer.Dial(ctx, selected.SocketAddr)
	if err != nil {
		e.selector.ConnectFailed(selected, err)
		return &RouteError{cause: errors.Wrapf(err, "dialing %s", selected.SocketAddr)}
	}

	conn := pool.NewConnection(socket, selected, e.client.clock)

	if address.UseTLS && e.client.opts.NewSession != nil {
		session, err := e.client.opts.NewSession(socket)
		if err != nil {
			quietClose(socket)
			e.selector.ConnectFailed(selected, err)
			return &RouteError{cause: errors.Wrap(err, "starting session")}
		}
		conn.SetSession(session)
		e.client.pool.Share(conn)
	}

	e.client.routes.Connected(selected)
	e.attach(conn)
	return nil
}

func (e *Engine) attach(conn *pool.Connection) {
	if !conn.IsMultiplexed() {
		conn.SetOwner(e)
	}
	selected := conn.Route()

	e.mu.Lock()
	e.conn = conn
	e.route = &selected
	e.mu.Unlock()
}

func (e *Engine) newTransport() {
	e.mu.Lock()
	defer e.mu.Unlock()

	conn := e.conn
	if conn.IsMultiplexed() {
		e.transport = http2.NewTransport(e, conn.Session(), e.onIdle)
		return
	}

	proxied := conn.Route().Proxy.Type == route.ProxyHTTP
	e.transport = http1.NewTransport(e, conn.Conn(), e.client.clock, proxied, e.onIdle)
}

// onIdle settles the connection once the exchange no longer needs it.
func (e *Engine) onIdle(reusable bool) {
	e.mu.Lock()
	conn := e.conn
	e.conn = nil
	e.mu.Unlock()

	if conn == nil {
		return
	}
	conn.ClearOwner()

	if reusable || conn.IsMultiplexed() {
		e.client.pool.Recycle(conn)
		return
	}
	quietClose(conn)
}

// ReadResponse completes the exchange: flushes the request, reads the
// network response, revalidates against the cache when applicable, and
// builds the user-visible response.
func (e *Engine) ReadResponse() error {
	if e.userResponse != nil {
		return nil
	}
	if e.networkRequest == nil {
		return errors.New("call SendRequest before ReadResponse")
	}

	var networkResponse *message.Response
	var err error
	if e.callerWrites {
		networkResponse, err = e.transmitCallerBody()
	} else {
		chain := &networkChain{engine: e, request: e.networkRequest}
		networkResponse, err = chain.Proceed(e.networkRequest)
	}
	if err != nil {
		return err
	}

	e.receiveCookies(networkResponse)

	if e.cacheResponse != nil {
		if validate(e.cacheResponse, networkResponse) {
			return e.applyConditionalHit(networkResponse)
		}
		quietClose(e.cacheResponse.Body())
	}

	userResponse, err := networkResponse.NewBuilder().
		Request(e.userRequest).
		PriorResponse(stripBody(e.priorResponse)).
		CacheResponse(stripBody(e.cacheResponse)).
		NetworkResponse(stripBody(networkResponse)).
		Build()
	if err != nil {
		return err
	}

	if message.HasBody(userResponse) {
		userResponse = e.cacheWritingResponse(userResponse)
		userResponse, err = e.unzip(userResponse)
		if err != nil {
			return err
		}
	}

	e.userResponse = userResponse
	return nil
}

// transmitCallerBody finishes a caller-driven request and reads the
// response, replaying the buffered body when one was captured.
func (e *Engine) transmitCallerBody() (*message.Response, error) {
	if e.sentRequestMillis == -1 {
		if err := e.transport.WriteRequestHeaders(e.networkRequest); err != nil {
			return nil, err
		}
	}

	if e.bufferedBody != nil {
		if err := e.bufferedBody.Close(); err != nil && !errors.Is(err, wire.ErrSinkClosed) {
			return nil, err
		}
		if err := e.transport.WriteRequestBody(e.bufferedBody); err != nil {
			return nil, err
		}
	} else if e.requestBodyOut != nil {
		if err := e.requestBodyOut.Close(); err != nil {
			return nil, err
		}
	}
	return e.readNetworkResponse()
}

// exchange is the terminal chain node: it writes the request over the
// transport and reads the network response.
func (e *Engine) exchange(request *message.Request) (*message.Response, error) {
	e.networkRequest = request

	if err := e.transport.WriteRequestHeaders(request); err != nil {
		return nil, err
	}

	if message.PermitsRequestBody(request.Method()) && request.Body() != nil {
		body := request.Body()
		sink, err := e.transport.CreateRequestBody(request, body.ContentLength())
		if err != nil {
			return nil, err
		}
		if err := body.WriteTo(sink); err != nil {
			return nil, errors.Wrap(err, "writing request body")
		}
		if err := sink.Close(); err != nil {
			return nil, err
		}
	}

	return e.readNetworkResponse()
}

func (e *Engine) readNetworkResponse() (*message.Response, error) {
	if err := e.transport.FinishRequest(); err != nil {
		return nil, err
	}

	builder, err := e.transport.ReadResponseHeaders()
	if err != nil {
		return nil, err
	}

	receivedMillis := e.client.clock.Now().UnixMilli()
	builder.
		Request(e.networkRequest).
		SentAtMillis(e.sentRequestMillis).
		ReceivedAtMillis(receivedMillis).
		Header(cache.SentMillisHeader, strconv.FormatInt(e.sentRequestMillis, 10)).
		Header(cache.ReceivedMillisHeader, strconv.FormatInt(receivedMillis, 10))

	response, err := builder.Build()
	if err != nil {
		return nil, err
	}

	code := response.Code()
	if (code == message.StatusNoContent || code == message.StatusResetContent) &&
		message.ContentLength(response.Headers()) > 0 {
		return nil, errors.Wrapf(ErrProtocol,
			"%d response carried Content-Length %d",
			code, message.ContentLength(response.Headers()))
	}

	source, err := e.transport.OpenResponseBody(response)
	if err != nil {
		return nil, err
	}
	if err := e.transport.ReleaseConnectionOnIdle(); err != nil {
		return nil, err
	}

	return response.NewBuilder().
		Body(message.NewResponseBody(message.ContentLength(response.Headers()), source)).
		Build()
}

func (e *Engine) receiveCookies(response *message.Response) {
	if e.client.cookies == nil {
		return
	}
	setCookies := response.Headers().Values("Set-Cookie")
	if len(setCookies) > 0 {
		e.client.cookies.SaveFromResponse(response.Request().URL(), setCookies)
	}
}

// applyConditionalHit serves the cached body under headers combined
// with the validating response.
// Reference: https://datatracker.ietf.org/doc/html/rfc7234#section-4.3.4
func (e *Engine) applyConditionalHit(networkResponse *message.Response) error {
	userResponse, err := e.cacheResponse.NewBuilder().
		Request(e.userRequest).
		PriorResponse(stripBody(e.priorResponse)).
		Headers(combine(e.cacheResponse.Headers(), networkResponse.Headers())).
		SentAtMillis(networkResponse.SentAtMillis()).
		ReceivedAtMillis(networkResponse.ReceivedAtMillis()).
		CacheResponse(stripBody(e.cacheResponse)).
		NetworkResponse(stripBody(networkResponse)).
		Build()
	if err != nil {
		return err
	}
	quietClose(networkResponse.Body())

	e.client.cache.TrackConditionalCacheHit()
	if err := e.client.cache.Update(e.cacheResponse, stripBody(userResponse)); err != nil {
		e.client.logger.Warn().Err(err).Msg("cache update failed")
	}

	e.userResponse, err = e.unzip(userResponse)
	return err
}

// validate reports whether the cached response is still good after a
// revalidation round trip.
func validate(cached, network *message.Response) bool {
	if network.Code() == message.StatusNotModified {
		return true
	}

	// The server failed to honor the conditional request. If its copy
	// is older than what we hold, ours wins.
	cachedModified, ok := headerDate(cached.Headers(), "Last-Modified")
	if !ok {
		return false
	}
	networkModified, ok := headerDate(network.Headers(), "Last-Modified")
	return ok && networkModified.Before(cachedModified)
}

// combine merges validating headers into cached ones: the network wins
// on end-to-end fields, except stale 1xx warnings are dropped and the
// network Content-Length is never copied. A cached Content-Length is
// kept only when the validating response carries none.
func combine(cachedHeaders, networkHeaders header.Headers) header.Headers {
	hb := header.NewBuilder()

	for idx := 0; idx < cachedHeaders.Size(); idx++ {
		name, value := cachedHeaders.Name(idx), cachedHeaders.Value(idx)
		if strings.EqualFold(name, "Warning") && strings.HasPrefix(value, "1") {
			continue
		}
		if _, updated := networkHeaders.Get(name); updated && isEndToEnd(name) {
			continue
		}
		hb.AddLenient(name, value)
	}

	for idx := 0; idx < networkHeaders.Size(); idx++ {
		name := networkHeaders.Name(idx)
		if strings.EqualFold(name, "Content-Length") {
			continue
		}
		if isEndToEnd(name) {
			hb.AddLenient(name, networkHeaders.Value(idx))
		}
	}

	return hb.Build()
}

// Reference: https://datatracker.ietf.org/doc/html/rfc2616#section-13.5.1
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

func isEndToEnd(name string) bool {
	_, hop := hopByHopHeaders[strings.ToLower(name)]
	return !hop
}

// FollowUpRequest derives the next request demanded by the response,
// or nil when the response is final.
func (e *Engine) FollowUpRequest() (*message.Request, error) {
	if e.userResponse == nil {
		return nil, errors.New("call ReadResponse before FollowUpRequest")
	}

	var proxy route.Proxy
	if e.route != nil {
		proxy = e.route.Proxy
	}

	switch code := e.userResponse.Code(); code {
	case message.StatusProxyAuthRequired:
		if proxy.Type != route.ProxyHTTP {
			return nil, errors.Wrap(ErrProtocol, "received 407 from a non-proxy connection")
		}
		if e.client.auth == nil {
			return nil, nil
		}
		return e.client.auth.AuthenticateProxy(proxy, e.userResponse)

	case message.StatusUnauthorized:
		if e.client.auth == nil {
			return nil, nil
		}
		return e.client.auth.Authenticate(proxy, e.userResponse)

	case message.StatusMultipleChoices, message.StatusMovedPermanently,
		message.StatusFound, message.StatusSeeOther,
		message.StatusTemporaryRedirect, message.StatusPermanentRedirect:
		return e.followRedirect(code)
	}

	return nil, nil
}

func (e *Engine) followRedirect(code int) (*message.Request, error) {
	if !e.client.opts.FollowRedirects {
		return nil, nil
	}

	location, ok := e.userResponse.Header("Location")
	if !ok {
		return nil, nil
	}
	ref, err := uri.Parse(location)
	if err != nil {
		return nil, nil
	}

	current := e.userResponse.Request().URL()
	resolver, err := uri.NewRefResolver(current)
	if err != nil {
		return nil, err
	}
	target := resolver.Resolve(ref)

	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, nil
	}
	if target.Scheme != current.Scheme && !e.client.opts.FollowSSLRedirects {
		return nil, nil
	}

	rb := e.userResponse.Request().NewBuilder().URL(target)

	method := e.userResponse.Request().Method()
	preserveMethod := (code == message.StatusTemporaryRedirect || code == message.StatusPermanentRedirect) &&
		(method == "GET" || method == "HEAD")
	if message.PermitsRequestBody(method) && !preserveMethod {
		rb.Method("GET", nil).
			RemoveHeader("Transfer-Encoding").
			RemoveHeader("Content-Length").
			RemoveHeader("Content-Type")
	}

	if target.Host() != current.Host() || target.EffectivePort() != current.EffectivePort() {
		rb.RemoveHeader("Authorization")
	}

	return rb.Build()
}

// Recover returns a fresh engine to retry the exchange on the next
// route, or false when the failure is final.
func (e *Engine) Recover(cause error) (*Engine, bool) {
	if !e.client.opts.RetryOnConnectionFailure {
		return nil, false
	}

	// A half-sent streaming body cannot be replayed.
	if e.requestBodyOut != nil && e.bufferedBody == nil {
		return nil, false
	}
	if !isRecoverable(cause) {
		return nil, false
	}

	e.mu.Lock()
	conn := e.conn
	selected := e.route
	e.mu.Unlock()

	var routeErr *RouteError
	connectFailure := errors.As(cause, &routeErr)

	// A failure on a previously recycled connection says nothing
	// about the route; it was probably a stale socket.
	if !connectFailure && selected != nil && conn != nil && conn.RecycleCount() == 0 {
		e.selector.ConnectFailed(*selected, cause)
	}

	if e.selector == nil || !e.selector.HasNext() {
		return nil, false
	}

	e.Close()
	return newEngine(
		e.client, e.userRequest,
		e.bufferBody, e.callerWrites,
		e.selector, e.bufferedBody, e.priorResponse,
	), true
}

// Close abandons whatever remains of the exchange. Safe on every exit
// path; a consumed response has already settled the connection.
func (e *Engine) Close() {
	if e.requestBodyOut != nil {
		quietClose(e.requestBodyOut)
	}

	if e.userResponse == nil {
		// Failed before a response; the socket state is unknown.
		e.mu.Lock()
		conn := e.conn
		e.conn = nil
		e.mu.Unlock()

		if conn != nil {
			conn.ClearOwner()
			quietClose(conn)
		}
		return
	}

	if body := e.userResponse.Body(); body != nil {
		quietClose(body)
	}
}

// unzip transparently decodes a gzip body the engine asked for itself.
func (e *Engine) unzip(response *message.Response) (*message.Response, error) {
	if !e.transparentGzip {
		return response, nil
	}
	encoding, ok := response.Header("Content-Encoding")
	if !ok || !strings.EqualFold(encoding, "gzip") {
		return response, nil
	}
	body := response.Body()
	if body == nil {
		return response, nil
	}

	return response.NewBuilder().
		RemoveHeader("Content-Encoding").
		RemoveHeader("Content-Length").
		Body(message.NewResponseBody(-1, newGzipSource(body))).
		Build()
}

func stripBody(response *message.Response) *message.Response {
	if response == nil || response.Body() == nil {
		return response
	}
	stripped, err := response.NewBuilder().Body(nil).Build()
	if err != nil {
		return response
	}
	return stripped
}

func emptyBody() *message.ResponseBody {
	return message.NewResponseBody(0, io.NopCloser(strings.NewReader("")))
}

func headerDate(h header.Headers, name string) (t time.Time, ok bool) {
	value, ok := h.Get(name)
	if !ok {
		return time.Time{}, false
	}
	parsed, err := header.ParseDate(value)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func quietClose(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
