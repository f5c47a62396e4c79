package client

import (
	"io"

	"httpcore/cache"
	"httpcore/message"
)

// cacheWritingResponse offers a response to the cache and, when the
// cache accepts, rewraps the body so bytes are copied into the cache
// entry as the application reads them.
func (e *Engine) cacheWritingResponse(userResponse *message.Response) *message.Response {
	c := e.client.cache
	if c == nil {
		return userResponse
	}

	if !cache.IsCacheable(userResponse, e.networkRequest) {
		if message.InvalidatesCache(e.networkRequest.Method()) {
			if err := c.Remove(e.networkRequest); err != nil {
				e.client.logger.Warn().Err(err).Msg("cache invalidation failed")
			}
		}
		return userResponse
	}

	cacheRequest, err := c.Put(stripBody(userResponse))
	if err != nil {
		e.client.logger.Warn().Err(err).Msg("cache store failed")
		return userResponse
	}
	if cacheRequest == nil {
		return userResponse
	}

	body := userResponse.Body()
	tee := &teeSource{
		source:    body,
		request:   cacheRequest,
		cacheBody: cacheRequest.Body(),
	}
	rewrapped, err := userResponse.NewBuilder().
		Body(message.NewResponseBody(body.ContentLength(), tee)).
		Build()
	if err != nil {
		tee.abort()
		return userResponse
	}
	return rewrapped
}

// teeSource copies response bytes into an in-progress cache write. A
// read error or an early close aborts the entry; EOF commits it. The
// wrapped source's own Close drains any unread remainder within the
// discard budget.
type teeSource struct {
	source    io.ReadCloser
	request   cache.CacheRequest
	cacheBody io.WriteCloser

	done bool
}

var _ io.ReadCloser = (*teeSource)(nil)

func (s *teeSource) Read(p []byte) (int, error) {
	n, err := s.source.Read(p)

	if n > 0 && s.cacheBody != nil {
		if _, werr := s.cacheBody.Write(p[:n]); werr != nil {
			s.abort()
		}
	}

	switch {
	case err == io.EOF:
		s.commit()
	case err != nil:
		s.abort()
	}
	return n, err
}

func (s *teeSource) Close() error {
	if !s.done {
		s.abort()
	}
	return s.source.Close()
}

func (s *teeSource) commit() {
	if s.done {
		return
	}
	s.done = true
	if s.cacheBody != nil {
		quietClose(s.cacheBody)
	}
}

func (s *teeSource) abort() {
	if s.done {
		return
	}
	s.done = true
	s.cacheBody = nil
	s.request.Abort()
}
