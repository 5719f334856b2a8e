package harvest

import (
	"errors"
	"fmt"
	"net/http"
)

// FetchErrorKind classifies a failed fetch for retry policy purposes.
type FetchErrorKind string

// Fetch failure kinds. Timeout is distinct from Network because the two feed
// different retry and rate-limiter feedback paths.
const (
	FetchNetwork   FetchErrorKind = "network"
	FetchTimeout   FetchErrorKind = "timeout"
	FetchHTTP      FetchErrorKind = "http_status"
	FetchMalformed FetchErrorKind = "malformed"
)

// FetchError is the typed failure returned by a Fetcher.
type FetchError struct {
	Kind   FetchErrorKind
	Key    WorkKey
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTP {
		return fmt.Sprintf("fetch %s: http status %d", e.Key, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.Key, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.Key, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RateLimited reports whether the failure was the remote throttling us.
func (e *FetchError) RateLimited() bool {
	return e.Kind == FetchHTTP && e.Status == http.StatusTooManyRequests
}

// Retryable reports whether the orchestrator may re-attempt the fetch.
// Network errors, timeouts, throttling, and server-side 5xx qualify;
// malformed payloads and other 4xx responses are terminal.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FetchNetwork, FetchTimeout:
		return true
	case FetchHTTP:
		return e.Status == http.StatusTooManyRequests || e.Status >= 500
	default:
		return false
	}
}

// NormalizationError reports a document that could not be reduced to the
// canonical model, attributed to the offending field.
type NormalizationError struct {
	Field  string
	Reason string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize: field %q: %s", e.Field, e.Reason)
}

// CacheError wraps a failed cache operation.
type CacheError struct {
	Op  string // "read", "write", "corrupt"
	Key WorkKey
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// TrackerError wraps a failed tracker persistence operation. An unwritable
// tracker is unrecoverable for the harvest as a whole.
type TrackerError struct {
	Op  string
	Err error
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("tracker %s: %v", e.Op, e.Err)
}

func (e *TrackerError) Unwrap() error { return e.Err }

// ErrCacheMiss is returned by Cache.Get when no entry exists for the key.
var ErrCacheMiss = errors.New("cache miss")
