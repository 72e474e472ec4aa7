package market

import (
	"errors"
	"fmt"
)

// ErrorKind classifies source fetch failures.
type ErrorKind string

const (
	// ErrTimeout: the source did not answer within the fetch timeout.
	ErrTimeout ErrorKind = "timeout"
	// ErrParse: the source answered with a malformed or unexpected payload.
	ErrParse ErrorKind = "parse"
	// ErrUnavailable: explicit non-2xx, empty result, or ineligible with no cache.
	ErrUnavailable ErrorKind = "unavailable"
)

// FetchError carries the failing source and a failure classification.
// Individual source errors are recovered locally by the chain; they are
// never fatal.
type FetchError struct {
	SourceID string
	Kind     ErrorKind
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("source %s: %s", e.SourceID, e.Kind)
	}
	return fmt.Sprintf("source %s: %s: %v", e.SourceID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewFetchError wraps err with source attribution and a kind.
func NewFetchError(sourceID string, kind ErrorKind, err error) *FetchError {
	return &FetchError{SourceID: sourceID, Kind: kind, Err: err}
}

// KindOf extracts the classification from an error chain,
// defaulting to unavailable.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ErrUnavailable
}

// ErrChainExhausted signals that every source in a category failed or was
// ineligible with an empty cache. The category's cycle is skipped, not retried.
var ErrChainExhausted = errors.New("market: all sources in chain exhausted")
