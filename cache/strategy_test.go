package cache

import (
	"testing"
	"time"

	"httpcore/header"
	"httpcore/message"

	"github.com/stretchr/testify/suite"
)

type StrategyTestSuite struct {
	suite.Suite

	now    time.Time
	served time.Time
}

func TestStrategyTestSuite(t *testing.T) {
	suite.Run(t, new(StrategyTestSuite))
}

func (s *StrategyTestSuite) SetupTest() {
	s.served = time.Date(2024, time.March, 4, 12, 0, 0, 0, time.UTC)
	s.now = s.served.Add(time.Minute)
}

func (s *StrategyTestSuite) request(headers ...string) *message.Request {
	b := message.NewRequestBuilder().ParseURL("http://example.com/a").Get()
	for i := 0; i+1 < len(headers); i += 2 {
		b.Header(headers[i], headers[i+1])
	}
	req, err := b.Build()
	s.Require().NoError(err)
	return req
}

// cached builds a stored response served at s.served over cleartext.
func (s *StrategyTestSuite) cached(req *message.Request, headers ...string) *message.Response {
	b := message.NewResponseBuilder().
		Request(req).
		Protocol(message.ProtocolHTTP11).
		Code(200).
		Message("OK").
		Header("Date", header.FormatDate(s.served)).
		SentAtMillis(s.served.UnixMilli()).
		ReceivedAtMillis(s.served.UnixMilli())
	for i := 0; i+1 < len(headers); i += 2 {
		b.AddHeader(headers[i], headers[i+1])
	}
	res, err := b.Build()
	s.Require().NoError(err)
	return res
}

func (s *StrategyTestSuite) get(req *message.Request, cached *message.Response) *Strategy {
	strategy, err := NewFactory(s.now.UnixMilli(), req, cached).Get()
	s.Require().NoError(err)
	return strategy
}

func (s *StrategyTestSuite) TestNoCachedResponse() {
	req := s.request()

	strategy := s.get(req, nil)

	s.Same(req, strategy.NetworkRequest)
	s.Nil(strategy.CacheResponse)
}

func (s *StrategyTestSuite) TestFreshResponseServedFromCache() {
	req := s.request()
	res := s.cached(req, "Cache-Control", "max-age=120")

	strategy := s.get(req, res)

	s.Nil(strategy.NetworkRequest)
	s.Require().NotNil(strategy.CacheResponse)
	_, warned := strategy.CacheResponse.Header("Warning")
	s.False(warned)
}

func (s *StrategyTestSuite) TestExpiredResponseRevalidatedWithETag() {
	req := s.request()
	res := s.cached(req,
		"Cache-Control", "max-age=30",
		"ETag", `"v1"`)

	strategy := s.get(req, res)

	s.Require().NotNil(strategy.NetworkRequest)
	s.Same(res, strategy.CacheResponse)
	etag, _ := strategy.NetworkRequest.Header("If-None-Match")
	s.Equal(`"v1"`, etag)
}

func (s *StrategyTestSuite) TestETagPreferredOverLastModified() {
	req := s.request()
	res := s.cached(req,
		"Cache-Control", "max-age=30",
		"ETag", `"v1"`,
		"Last-Modified", header.FormatDate(s.served.Add(-time.Hour)))

	strategy := s.get(req, res)

	s.Require().NotNil(strategy.NetworkRequest)
	_, hasIMS := strategy.NetworkRequest.Header("If-Modified-Since")
	s.False(hasIMS)
}

func (s *StrategyTestSuite) TestLastModifiedValidator() {
	req := s.request()
	lastModified := header.FormatDate(s.served.Add(-time.Hour))
	res := s.cached(req,
		"Cache-Control", "max-age=30",
		"Last-Modified", lastModified)

	strategy := s.get(req, res)

	s.Require().NotNil(strategy.NetworkRequest)
	s.Same(res, strategy.CacheResponse)
	ims, _ := strategy.NetworkRequest.Header("If-Modified-Since")
	s.Equal(lastModified, ims)
}

func (s *StrategyTestSuite) TestServedDateFallbackValidator() {
	req := s.request()
	res := s.cached(req, "Cache-Control", "max-age=30")

	strategy := s.get(req, res)

	s.Require().NotNil(strategy.NetworkRequest)
	s.Same(res, strategy.CacheResponse)
	ims, _ := strategy.NetworkRequest.Header("If-Modified-Since")
	s.Equal(header.FormatDate(s.served), ims)
}

func (s *StrategyTestSuite) TestStaleWithinMaxStaleGetsWarning() {
	req := s.request("Cache-Control", "max-stale=120")
	res := s.cached(req, "Cache-Control", "max-age=30")

	strategy := s.get(req, res)

	s.Nil(strategy.NetworkRequest)
	s.Require().NotNil(strategy.CacheResponse)
	warning, _ := strategy.CacheResponse.Header("Warning")
	s.Contains(warning, "110")
}

func (s *StrategyTestSuite) TestMustRevalidateDefeatsMaxStale() {
	req := s.request("Cache-Control", "max-stale=120")
	res := s.cached(req, "Cache-Control", "max-age=30, must-revalidate")

	strategy := s.get(req, res)

	s.NotNil(strategy.NetworkRequest)
	s.Same(res, strategy.CacheResponse)
}

func (s *StrategyTestSuite) TestHeuristicExpirationWarning() {
	s.now = s.served.Add(48 * time.Hour)
	req := s.request()
	res := s.cached(req,
		"Last-Modified", header.FormatDate(s.served.Add(-100*24*time.Hour)))

	strategy := s.get(req, res)

	s.Nil(strategy.NetworkRequest)
	s.Require().NotNil(strategy.CacheResponse)
	warnings := strategy.CacheResponse.Headers().Values("Warning")
	s.Require().Len(warnings, 1)
	s.Contains(warnings[0], "113")
}

func (s *StrategyTestSuite) TestHeuristicSkippedForQueryURLs() {
	req, err := message.NewRequestBuilder().
		ParseURL("http://example.com/a?page=2").Get().Build()
	s.Require().NoError(err)
	res := s.cached(req,
		"Last-Modified", header.FormatDate(s.served.Add(-100*24*time.Hour)))

	strategy := s.get(req, res)

	// No heuristic freshness means immediate revalidation.
	s.NotNil(strategy.NetworkRequest)
}

func (s *StrategyTestSuite) TestExpiresHeaderFreshness() {
	req := s.request()
	res := s.cached(req, "Expires", header.FormatDate(s.served.Add(time.Hour)))

	strategy := s.get(req, res)

	s.Nil(strategy.NetworkRequest)
	s.NotNil(strategy.CacheResponse)
}

func (s *StrategyTestSuite) TestRequestNoCacheBypassesCache() {
	req := s.request("Cache-Control", "no-cache")
	res := s.cached(req, "Cache-Control", "max-age=120")

	strategy := s.get(req, res)

	s.NotNil(strategy.NetworkRequest)
	s.Nil(strategy.CacheResponse)
}

func (s *StrategyTestSuite) TestResponseNoCacheForcesRevalidation() {
	req := s.request()
	res := s.cached(req, "Cache-Control", "max-age=120, no-cache")

	strategy := s.get(req, res)

	s.NotNil(strategy.NetworkRequest)
	s.Same(res, strategy.CacheResponse)
}

func (s *StrategyTestSuite) TestCallerConditionsBypassCache() {
	req := s.request("If-None-Match", `"mine"`)
	res := s.cached(req, "Cache-Control", "max-age=120")

	strategy := s.get(req, res)

	s.NotNil(strategy.NetworkRequest)
	s.Nil(strategy.CacheResponse)
}

func (s *StrategyTestSuite) TestRequestMaxAgeCapsFreshness() {
	req := s.request("Cache-Control", "max-age=30")
	res := s.cached(req, "Cache-Control", "max-age=3600", "ETag", `"v1"`)

	strategy := s.get(req, res)

	// One minute old with a 30 second cap: revalidate.
	s.NotNil(strategy.NetworkRequest)
	s.Same(res, strategy.CacheResponse)
}

func (s *StrategyTestSuite) TestMinFreshDemandsMoreThanRemains() {
	req := s.request("Cache-Control", "min-fresh=120")
	res := s.cached(req, "Cache-Control", "max-age=150", "ETag", `"v1"`)

	strategy := s.get(req, res)

	// 90 seconds of freshness remain, less than the 120 demanded.
	s.NotNil(strategy.NetworkRequest)
}

func (s *StrategyTestSuite) TestOnlyIfCachedUnsatisfiable() {
	req := s.request("Cache-Control", "only-if-cached")

	strategy := s.get(req, nil)

	s.Nil(strategy.NetworkRequest)
	s.Nil(strategy.CacheResponse)
}

func (s *StrategyTestSuite) TestOnlyIfCachedWithFreshResponse() {
	req := s.request("Cache-Control", "only-if-cached")
	res := s.cached(req, "Cache-Control", "max-age=120")

	strategy := s.get(req, res)

	s.Nil(strategy.NetworkRequest)
	s.NotNil(strategy.CacheResponse)
}

func (s *StrategyTestSuite) TestHTTPSWithoutHandshakeGoesToNetwork() {
	req, err := message.NewRequestBuilder().
		ParseURL("https://example.com/a").Get().Build()
	s.Require().NoError(err)
	res := s.cached(req, "Cache-Control", "max-age=120")

	strategy := s.get(req, res)

	s.NotNil(strategy.NetworkRequest)
	s.Nil(strategy.CacheResponse)
}

func (s *StrategyTestSuite) TestHTTPSWithHandshakeServedFromCache() {
	req, err := message.NewRequestBuilder().
		ParseURL("https://example.com/a").Get().Build()
	s.Require().NoError(err)
	base := s.cached(req, "Cache-Control", "max-age=120")
	res, err := base.NewBuilder().
		TLSHandshake(&message.Handshake{TLSVersion: "TLSv1.3"}).
		Build()
	s.Require().NoError(err)

	strategy := s.get(req, res)

	s.Nil(strategy.NetworkRequest)
	s.NotNil(strategy.CacheResponse)
}

func (s *StrategyTestSuite) TestAgeHeaderExtendsAge() {
	req := s.request()
	res := s.cached(req,
		"Cache-Control", "max-age=120",
		"Age", "90",
		"ETag", `"v1"`)

	strategy := s.get(req, res)

	// 90 seconds on arrival plus 60 resident exceeds the lifetime.
	s.NotNil(strategy.NetworkRequest)
	s.Same(res, strategy.CacheResponse)
}

func (s *StrategyTestSuite) TestTimingFromExtensionHeaders() {
	req := s.request()
	b := message.NewResponseBuilder().
		Request(req).
		Protocol(message.ProtocolHTTP11).
		Code(200).
		Header("Cache-Control", "max-age=120").
		Header(SentMillisHeader, "1709553600000").
		Header(ReceivedMillisHeader, "1709553600000")
	res, err := b.Build()
	s.Require().NoError(err)

	strategy := s.get(req, res)

	s.Nil(strategy.NetworkRequest)
	s.NotNil(strategy.CacheResponse)
}

type IsCacheableTestSuite struct {
	suite.Suite
}

func TestIsCacheableTestSuite(t *testing.T) {
	suite.Run(t, new(IsCacheableTestSuite))
}

func (s *IsCacheableTestSuite) response(code int, headers ...string) (*message.Response, *message.Request) {
	req, err := message.NewRequestBuilder().ParseURL("http://example.com/").Get().Build()
	s.Require().NoError(err)
	b := message.NewResponseBuilder().
		Request(req).
		Protocol(message.ProtocolHTTP11).
		Code(code)
	for i := 0; i+1 < len(headers); i += 2 {
		b.AddHeader(headers[i], headers[i+1])
	}
	res, err := b.Build()
	s.Require().NoError(err)
	return res, req
}

func (s *IsCacheableTestSuite) TestCacheableCodes() {
	for _, code := range []int{200, 203, 204, 300, 301, 404, 405, 410, 414, 501, 308} {
		res, req := s.response(code)
		s.True(IsCacheable(res, req), "code %d", code)
	}
}

func (s *IsCacheableTestSuite) TestUncacheableCodes() {
	for _, code := range []int{201, 206, 302, 303, 307, 400, 500, 503} {
		res, req := s.response(code)
		s.False(IsCacheable(res, req), "code %d", code)
	}
}

func (s *IsCacheableTestSuite) TestRedirectsCacheableWithExplicitHeaders() {
	tests := []struct {
		name    string
		headers []string
	}{
		{name: "expires", headers: []string{"Expires", "Thu, 01 Jan 2026 00:00:00 GMT"}},
		{name: "max-age", headers: []string{"Cache-Control", "max-age=60"}},
		{name: "public", headers: []string{"Cache-Control", "public"}},
		{name: "private", headers: []string{"Cache-Control", "private"}},
	}
	for _, test := range tests {
		s.Run(test.name, func() {
			for _, code := range []int{302, 307} {
				res, req := s.response(code, test.headers...)
				s.True(IsCacheable(res, req), "code %d", code)
			}
		})
	}
}

func (s *IsCacheableTestSuite) TestNoStoreForbidsStorage() {
	res, req := s.response(200, "Cache-Control", "no-store")
	s.False(IsCacheable(res, req))

	res, _ = s.response(200)
	reqNoStore, err := message.NewRequestBuilder().
		ParseURL("http://example.com/").
		Header("Cache-Control", "no-store").
		Get().Build()
	s.Require().NoError(err)
	s.False(IsCacheable(res, reqNoStore))
}
