package indexer

import "errors"

var (
	// ErrUsage marks invalid caller input, detected before any I/O.
	ErrUsage = errors.New("usage error")
	// ErrSourceUnavailable marks transport or RPC failures of the event source.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrMalformedEvent marks a raw event that cannot be normalized.
	ErrMalformedEvent = errors.New("malformed event")
)
