package cache

import (
	"io"

	"httpcore/message"
)

// Extension headers stamped onto cached responses so a later strategy
// computation can reconstruct the exchange timing.
const (
	SentMillisHeader     = "X-HTTPCore-Sent-Millis"
	ReceivedMillisHeader = "X-HTTPCore-Received-Millis"
)

// Cache is the persistence layer contract. Implementations own their
// storage format and eviction; the engine only speaks in requests and
// responses.
type Cache interface {
	// Get returns the stored response for the request's URL, or nil.
	Get(request *message.Request) (*message.Response, error)

	// Put offers a response for storage. A nil CacheRequest declines
	// it; otherwise the caller streams the body into Body and either
	// lets it finish or calls Abort.
	Put(response *message.Response) (CacheRequest, error)

	// Remove drops any entry stored for the request's URL.
	Remove(request *message.Request) error

	// Update replaces the headers of a stored entry after a
	// conditional hit, keeping the cached body.
	Update(cached, fresh *message.Response) error

	// TrackResponse records what a computed strategy decided, for hit
	// rate accounting.
	TrackResponse(strategy *Strategy)

	// TrackConditionalCacheHit records a revalidation that came back
	// 304.
	TrackConditionalCacheHit()
}

// CacheRequest is an in-progress cache write.
type CacheRequest interface {
	// Body is the sink the response body is copied into.
	Body() io.WriteCloser

	// Abort discards everything written so far.
	Abort()
}
