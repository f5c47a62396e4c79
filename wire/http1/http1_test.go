package http1

import (
	"io"
	"net/netip"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"httpcore/message"
	"httpcore/transport"
	"httpcore/wire"
)

type fakeEngine struct {
	writingHeaders int
	cancelled      bool
}

func (e *fakeEngine) WritingRequestHeaders() { e.writingHeaders++ }
func (e *fakeEngine) Cancelled() bool        { return e.cancelled }

type TransportTestSuite struct {
	suite.Suite

	clock         clock.Clock
	local, remote *transport.PipeConn
	engine        *fakeEngine
	tr            *Transport

	released []bool
}

func TestTransportTestSuite(t *testing.T) {
	suite.Run(t, new(TransportTestSuite))
}

func (s *TransportTestSuite) SetupTest() {
	s.clock = clock.New()
	s.local, s.remote = transport.Pipe(
		transport.AddrFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), 1000),
		transport.AddrFrom(netip.AddrFrom4([4]byte{127, 0, 0, 2}), 2000),
		s.clock,
	)
	s.engine = &fakeEngine{}
	s.released = nil
	s.tr = NewTransport(s.engine, s.local, s.clock, false, func(reusable bool) {
		s.released = append(s.released, reusable)
	})
}

func (s *TransportTestSuite) TearDownTest() {
	s.local.Close()
	s.remote.Close()
	goleak.VerifyNone(s.T())
}

// startServer reads wantLen request bytes off the peer end, then
// plays back response. The captured request arrives on the channel.
func (s *TransportTestSuite) startServer(wantLen int, response string) <-chan string {
	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 0, wantLen)
		b := make([]byte, 512)
		for len(buf) < wantLen {
			n, err := s.remote.Read(b)
			if err != nil {
				break
			}
			buf = append(buf, b[:n]...)
		}
		got <- string(buf)

		if response != "" {
			s.remote.Write([]byte(response))
		}
	}()
	return got
}

func (s *TransportTestSuite) request(rawURL string) *message.Request {
	req, err := message.NewRequestBuilder().
		ParseURL(rawURL).
		Get().
		Header("Host", "origin.example").
		Build()
	s.Require().NoError(err)
	return req
}

func (s *TransportTestSuite) TestWriteRequestHeaders() {
	want := "GET /path?q=1 HTTP/1.1\r\nHost: origin.example\r\n\r\n"
	got := s.startServer(len(want), "")

	req := s.request("http://origin.example/path?q=1")
	s.Require().NoError(s.tr.WriteRequestHeaders(req))

	s.Equal(want, <-got)
	s.Equal(1, s.engine.writingHeaders)
}

func (s *TransportTestSuite) TestProxiedRequestUsesAbsoluteTarget() {
	s.tr = NewTransport(s.engine, s.local, s.clock, true, nil)

	want := "GET http://origin.example/path HTTP/1.1\r\nHost: origin.example\r\n\r\n"
	got := s.startServer(len(want), "")

	req := s.request("http://origin.example/path")
	s.Require().NoError(s.tr.WriteRequestHeaders(req))

	s.Equal(want, <-got)
}

func (s *TransportTestSuite) TestFixedLengthRequestBody() {
	want := "POST / HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"
	got := s.startServer(len(want), "")

	req, err := message.NewRequestBuilder().
		ParseURL("http://origin.example/").
		Post(message.BytesBody([]byte("hello"))).
		Header("Content-Length", "5").
		Build()
	s.Require().NoError(err)

	s.Require().NoError(s.tr.WriteRequestHeaders(req))

	sink, err := s.tr.CreateRequestBody(req, 5)
	s.Require().NoError(err)
	_, err = sink.Write([]byte("hello"))
	s.Require().NoError(err)
	s.Require().NoError(sink.Close())
	s.Require().NoError(s.tr.FinishRequest())

	s.Equal(want, <-got)
}

func (s *TransportTestSuite) TestFixedSinkEnforcesLength() {
	sink := &fixedSink{bw: s.tr.bw, remaining: 3}

	_, err := sink.Write([]byte("too long"))
	s.ErrorIs(err, wire.ErrContentOver)

	_, err = sink.Write([]byte("ok"))
	s.Require().NoError(err)
	s.ErrorIs(sink.Close(), wire.ErrContentShort)
}

func (s *TransportTestSuite) TestChunkedRequestBody() {
	want := "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n7\r\n, world\r\n0\r\n\r\n"
	got := s.startServer(len(want), "")

	req, err := message.NewRequestBuilder().
		ParseURL("http://origin.example/").
		Post(message.ReaderBody(-1, nil)).
		Header("Transfer-Encoding", "chunked").
		Build()
	s.Require().NoError(err)

	s.Require().NoError(s.tr.WriteRequestHeaders(req))

	sink, err := s.tr.CreateRequestBody(req, -1)
	s.Require().NoError(err)
	_, err = sink.Write([]byte("hello"))
	s.Require().NoError(err)
	_, err = sink.Write([]byte(", world"))
	s.Require().NoError(err)
	s.Require().NoError(sink.Close())
	s.Require().NoError(s.tr.FinishRequest())

	s.Equal(want, <-got)
}

func (s *TransportTestSuite) TestBodyWithoutFramingRejected() {
	req := s.request("http://origin.example/")

	_, err := s.tr.CreateRequestBody(req, -1)
	s.ErrorIs(err, ErrBodyRequired)
}

// exchange writes a header-only GET and returns the response builder
// for the canned wire bytes.
func (s *TransportTestSuite) exchange(response string) (*message.Request, *message.ResponseBuilder) {
	req := s.request("http://origin.example/")

	want := "GET / HTTP/1.1\r\nHost: origin.example\r\n\r\n"
	got := s.startServer(len(want), response)

	s.Require().NoError(s.tr.WriteRequestHeaders(req))
	s.Require().NoError(s.tr.FinishRequest())
	s.Equal(want, <-got)

	builder, err := s.tr.ReadResponseHeaders()
	s.Require().NoError(err)
	return req, builder
}

func (s *TransportTestSuite) TestReadResponseHeaders() {
	req, builder := s.exchange("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\nhello")

	res, err := builder.Request(req).Build()
	s.Require().NoError(err)

	s.Equal(200, res.Code())
	s.Equal("OK", res.Message())
	s.Equal(message.ProtocolHTTP11, res.Protocol())

	contentType, ok := res.Header("content-type")
	s.True(ok)
	s.Equal("text/plain", contentType)
}

func (s *TransportTestSuite) TestInterimResponsesSkipped() {
	req, builder := s.exchange("HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 204 No Content\r\n\r\n")

	res, err := builder.Request(req).Build()
	s.Require().NoError(err)
	s.Equal(204, res.Code())
}

func (s *TransportTestSuite) TestFixedLengthResponseBody() {
	s.Require().NoError(s.tr.ReleaseConnectionOnIdle())

	req, builder := s.exchange("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	res, err := builder.Request(req).Build()
	s.Require().NoError(err)

	body, err := s.tr.OpenResponseBody(res)
	s.Require().NoError(err)

	data, err := io.ReadAll(body)
	s.Require().NoError(err)
	s.Equal("hello", string(data))
	s.Require().NoError(body.Close())

	s.Equal([]bool{true}, s.released)
	s.True(s.tr.CanReuseConnection())
}

func (s *TransportTestSuite) TestChunkedResponseBody() {
	response := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5;ext=1\r\nhello\r\n7\r\n, world\r\n0\r\nX-Checksum: abc\r\n\r\n"
	req, builder := s.exchange(response)
	res, err := builder.Request(req).Build()
	s.Require().NoError(err)

	body, err := s.tr.OpenResponseBody(res)
	s.Require().NoError(err)

	data, err := io.ReadAll(body)
	s.Require().NoError(err)
	s.Equal("hello, world", string(data))
	s.Require().NoError(body.Close())

	s.True(s.tr.CanReuseConnection())
}

func (s *TransportTestSuite) TestUnknownLengthBodySpendsConnection() {
	req, builder := s.exchange("HTTP/1.1 200 OK\r\n\r\nall the way to close")
	res, err := builder.Request(req).Build()
	s.Require().NoError(err)

	body, err := s.tr.OpenResponseBody(res)
	s.Require().NoError(err)
	s.False(s.tr.CanReuseConnection())

	go s.remote.Close()

	data, err := io.ReadAll(body)
	s.Require().NoError(err)
	s.Equal("all the way to close", string(data))
	s.Require().NoError(body.Close())
}

func (s *TransportTestSuite) TestConnectionCloseResponse() {
	req, builder := s.exchange("HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 0\r\n\r\n")
	_, err := builder.Request(req).Build()
	s.Require().NoError(err)

	s.False(s.tr.CanReuseConnection())
}

func (s *TransportTestSuite) TestConnectionCloseRequest() {
	want := "GET / HTTP/1.1\r\nHost: origin.example\r\nConnection: close\r\n\r\n"
	got := s.startServer(len(want), "")

	req, err := message.NewRequestBuilder().
		ParseURL("http://origin.example/").
		Get().
		Header("Host", "origin.example").
		Header("Connection", "close").
		Build()
	s.Require().NoError(err)

	s.Require().NoError(s.tr.WriteRequestHeaders(req))
	s.Equal(want, <-got)

	s.False(s.tr.CanReuseConnection())
}

func (s *TransportTestSuite) TestHeadResponseHasNoBody() {
	req, err := message.NewRequestBuilder().
		ParseURL("http://origin.example/").
		Head().
		Build()
	s.Require().NoError(err)

	want := "HEAD / HTTP/1.1\r\n\r\n"
	got := s.startServer(len(want), "HTTP/1.1 200 OK\r\nContent-Length: 42\r\n\r\n")

	s.Require().NoError(s.tr.WriteRequestHeaders(req))
	s.Require().NoError(s.tr.FinishRequest())
	s.Equal(want, <-got)

	builder, err := s.tr.ReadResponseHeaders()
	s.Require().NoError(err)
	res, err := builder.Request(req).Build()
	s.Require().NoError(err)

	body, err := s.tr.OpenResponseBody(res)
	s.Require().NoError(err)

	data, err := io.ReadAll(body)
	s.Require().NoError(err)
	s.Empty(data)
	s.Require().NoError(body.Close())
}

func (s *TransportTestSuite) TestAbandonedBodyDiscardedWithinBudget() {
	s.Require().NoError(s.tr.ReleaseConnectionOnIdle())

	req, builder := s.exchange("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	res, err := builder.Request(req).Build()
	s.Require().NoError(err)

	body, err := s.tr.OpenResponseBody(res)
	s.Require().NoError(err)

	// Close without reading: the residue fits the discard budget.
	s.Require().NoError(body.Close())

	s.Equal([]bool{true}, s.released)
	s.True(s.tr.CanReuseConnection())
}

func (s *TransportTestSuite) TestTruncatedBodyBreaksConnection() {
	req, builder := s.exchange("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nshort")
	res, err := builder.Request(req).Build()
	s.Require().NoError(err)

	body, err := s.tr.OpenResponseBody(res)
	s.Require().NoError(err)

	go s.remote.Close()

	_, err = io.ReadAll(body)
	s.ErrorIs(err, io.ErrUnexpectedEOF)
	s.False(s.tr.CanReuseConnection())
}

func (s *TransportTestSuite) TestDisconnectClosesSocket() {
	s.Require().NoError(s.tr.Disconnect(s.engine))

	_, err := s.local.Read(make([]byte, 1))
	s.ErrorIs(err, transport.ErrConnClosed)
}
