package calendar

import "errors"

// Failure classes of a refresh cycle. None of them escape Refresh; they are
// logged and counted, and the published list stays valid.
var (
	// ErrCacheRead covers missing, expired or incompatible cache entries.
	ErrCacheRead = errors.New("cache read failed")
	// ErrNetworkFetch covers an unreachable backend or a non-success answer.
	ErrNetworkFetch = errors.New("network fetch failed")
	// ErrSerialization covers JSON encode/decode failures of cached data.
	ErrSerialization = errors.New("serialization failed")
)
