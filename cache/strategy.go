package cache

import (
	"strconv"
	"strings"
	"time"

	"httpcore/header"
	"httpcore/message"
)

// Strategy is the outcome of matching a request against a cached
// response. Four shapes are possible: network only (nil CacheResponse),
// cache hit (nil NetworkRequest), conditional revalidation (both set),
// and unsatisfiable (both nil, the request was only-if-cached and the
// cache could not serve it).
type Strategy struct {
	// NetworkRequest is the request to send, or nil when the cache
	// answers alone.
	NetworkRequest *message.Request

	// CacheResponse is the stored response to return or validate, or
	// nil when the network answers alone.
	CacheResponse *message.Response
}

// IsCacheable reports whether response may be stored to serve a later
// request. Partial content is never cached.
// Reference: https://datatracker.ietf.org/doc/html/rfc7234#section-3
func IsCacheable(response *message.Response, request *message.Request) bool {
	responseCaching := ParseControl(response.Headers())

	switch response.Code() {
	case message.StatusOK,
		message.StatusNonAuthoritative,
		message.StatusNoContent,
		message.StatusMultipleChoices,
		message.StatusMovedPermanently,
		message.StatusNotFound,
		message.StatusMethodNotAllowed,
		message.StatusGone,
		message.StatusRequestURITooLong,
		message.StatusNotImplemented,
		message.StatusPermanentRedirect:
		// Cacheable unless headers forbid it.

	case message.StatusFound, message.StatusTemporaryRedirect:
		// Only cacheable with explicit freshness or scope headers.
		// s-maxage is not considered: this is a private cache.
		_, hasExpires := response.Header("Expires")
		if !hasExpires && responseCaching.MaxAgeSeconds == -1 &&
			!responseCaching.Public && !responseCaching.Private {
			return false
		}

	default:
		return false
	}

	return !responseCaching.NoStore && !ParseControl(request.Headers()).NoStore
}

// Factory computes a Strategy for one (now, request, cached response)
// triple. The result is deterministic in its inputs.
type Factory struct {
	nowMillis     int64
	request       *message.Request
	cacheResponse *message.Response

	// Timing and validator fields lifted from the cached response.
	servedDate         *time.Time
	servedDateString   string
	lastModified       *time.Time
	lastModifiedString string
	expires            *time.Time
	etag               string
	ageSeconds         int

	sentRequestMillis      int64
	receivedResponseMillis int64
}

func NewFactory(nowMillis int64, request *message.Request, cacheResponse *message.Response) *Factory {
	f := &Factory{
		nowMillis:     nowMillis,
		request:       request,
		cacheResponse: cacheResponse,
		ageSeconds:    -1,
	}
	if cacheResponse == nil {
		return f
	}

	f.sentRequestMillis = cacheResponse.SentAtMillis()
	f.receivedResponseMillis = cacheResponse.ReceivedAtMillis()

	headers := cacheResponse.Headers()
	for i := 0; i < headers.Size(); i++ {
		value := headers.Value(i)
		switch {
		case strings.EqualFold(headers.Name(i), "Date"):
			if t, err := header.ParseDate(value); err == nil {
				f.servedDate = &t
				f.servedDateString = value
			}
		case strings.EqualFold(headers.Name(i), "Expires"):
			if t, err := header.ParseDate(value); err == nil {
				f.expires = &t
			}
		case strings.EqualFold(headers.Name(i), "Last-Modified"):
			if t, err := header.ParseDate(value); err == nil {
				f.lastModified = &t
				f.lastModifiedString = value
			}
		case strings.EqualFold(headers.Name(i), "ETag"):
			f.etag = value
		case strings.EqualFold(headers.Name(i), "Age"):
			f.ageSeconds = parseSeconds(value, -1)
		case strings.EqualFold(headers.Name(i), SentMillisHeader):
			// Stores that persist only headers round-trip the
			// exchange timing through the extension fields.
			if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
				f.sentRequestMillis = ms
			}
		case strings.EqualFold(headers.Name(i), ReceivedMillisHeader):
			if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
				f.receivedResponseMillis = ms
			}
		}
	}

	return f
}

// Get computes the strategy.
func (f *Factory) Get() (*Strategy, error) {
	candidate, err := f.candidate()
	if err != nil {
		return nil, err
	}

	if candidate.NetworkRequest != nil && ParseControl(f.request.Headers()).OnlyIfCached {
		// Forbidden from using the network and the cache is
		// insufficient.
		return &Strategy{}, nil
	}

	return candidate, nil
}

// candidate assumes the request may use the network.
func (f *Factory) candidate() (*Strategy, error) {
	if f.cacheResponse == nil {
		return &Strategy{NetworkRequest: f.request}, nil
	}

	// A response received over TLS is only reusable when the
	// handshake survived storage.
	if f.request.IsHTTPS() && f.cacheResponse.TLSHandshake() == nil {
		return &Strategy{NetworkRequest: f.request}, nil
	}

	if !IsCacheable(f.cacheResponse, f.request) {
		return &Strategy{NetworkRequest: f.request}, nil
	}

	requestCaching := ParseControl(f.request.Headers())
	if requestCaching.NoCache || hasConditions(f.request) {
		return &Strategy{NetworkRequest: f.request}, nil
	}

	ageMillis := f.cacheResponseAge()
	freshMillis := f.computeFreshnessLifetime()

	if requestCaching.MaxAgeSeconds != -1 {
		freshMillis = min(freshMillis, int64(requestCaching.MaxAgeSeconds)*1000)
	}

	var minFreshMillis int64
	if requestCaching.MinFreshSeconds != -1 {
		minFreshMillis = int64(requestCaching.MinFreshSeconds) * 1000
	}

	var maxStaleMillis int64
	responseCaching := ParseControl(f.cacheResponse.Headers())
	if !responseCaching.MustRevalidate && requestCaching.MaxStaleSeconds != -1 {
		maxStaleMillis = int64(requestCaching.MaxStaleSeconds) * 1000
	}

	if !responseCaching.NoCache && ageMillis+minFreshMillis < freshMillis+maxStaleMillis {
		builder := f.cacheResponse.NewBuilder()
		if ageMillis+minFreshMillis >= freshMillis {
			builder.AddHeader("Warning", `110 httpcore "Response is stale"`)
		}
		if ageMillis > 24*int64(time.Hour/time.Millisecond) && f.isFreshnessLifetimeHeuristic() {
			builder.AddHeader("Warning", `113 httpcore "Heuristic expiration"`)
		}
		hit, err := builder.Build()
		if err != nil {
			return nil, err
		}
		return &Strategy{CacheResponse: hit}, nil
	}

	// Too stale to serve directly; try a conditional request with the
	// best validator available.
	conditionalBuilder := f.request.NewBuilder()
	switch {
	case f.etag != "":
		conditionalBuilder.Header("If-None-Match", f.etag)
	case f.lastModified != nil:
		conditionalBuilder.Header("If-Modified-Since", f.lastModifiedString)
	case f.servedDate != nil:
		conditionalBuilder.Header("If-Modified-Since", f.servedDateString)
	}

	conditional, err := conditionalBuilder.Build()
	if err != nil {
		return nil, err
	}
	if !hasConditions(conditional) {
		// No validator to revalidate with.
		return &Strategy{NetworkRequest: conditional}, nil
	}
	return &Strategy{NetworkRequest: conditional, CacheResponse: f.cacheResponse}, nil
}

// computeFreshnessLifetime returns how long the response stayed fresh
// counted from its served date, in milliseconds.
func (f *Factory) computeFreshnessLifetime() int64 {
	responseCaching := ParseControl(f.cacheResponse.Headers())
	if responseCaching.MaxAgeSeconds != -1 {
		return int64(responseCaching.MaxAgeSeconds) * 1000
	}

	if f.expires != nil {
		servedMillis := f.receivedResponseMillis
		if f.servedDate != nil {
			servedMillis = f.servedDate.UnixMilli()
		}
		delta := f.expires.UnixMilli() - servedMillis
		if delta > 0 {
			return delta
		}
		return 0
	}

	if f.lastModified != nil && f.cacheResponse.Request().URL().Query == nil {
		// A tenth of the document's age when served, as Firefox does.
		// Heuristic expiration is skipped for URLs with a query.
		servedMillis := f.sentRequestMillis
		if f.servedDate != nil {
			servedMillis = f.servedDate.UnixMilli()
		}
		delta := servedMillis - f.lastModified.UnixMilli()
		if delta > 0 {
			return delta / 10
		}
		return 0
	}

	return 0
}

// cacheResponseAge returns the response's current age in milliseconds.
// Reference: https://datatracker.ietf.org/doc/html/rfc7234#section-4.2.3
func (f *Factory) cacheResponseAge() int64 {
	var apparentReceivedAge int64
	if f.servedDate != nil {
		apparentReceivedAge = max(0, f.receivedResponseMillis-f.servedDate.UnixMilli())
	}

	receivedAge := apparentReceivedAge
	if f.ageSeconds != -1 {
		receivedAge = max(apparentReceivedAge, int64(f.ageSeconds)*1000)
	}

	responseDuration := f.receivedResponseMillis - f.sentRequestMillis
	residentDuration := f.nowMillis - f.receivedResponseMillis
	return receivedAge + responseDuration + residentDuration
}

// isFreshnessLifetimeHeuristic reports whether the freshness lifetime
// was estimated rather than declared. Heuristically served responses
// older than a day must carry a warning.
func (f *Factory) isFreshnessLifetimeHeuristic() bool {
	return ParseControl(f.cacheResponse.Headers()).MaxAgeSeconds == -1 && f.expires == nil
}

// hasConditions reports whether the request carries validators of its
// own. Conditions supplied by the caller bypass the cache entirely.
func hasConditions(request *message.Request) bool {
	_, ims := request.Header("If-Modified-Since")
	_, inm := request.Header("If-None-Match")
	return ims || inm
}
