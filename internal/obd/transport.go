package obd

import "context"

// LineHandler is the engine's ingestion entry point. The transport calls it
// for every received line, fragments included, and uses a non-nil result as
// the outcome of the oldest outstanding command.
type LineHandler func(line string) Data

// Transport is the half-duplex link to the adapter. Implementations send
// queued commands strictly one at a time, in issue order, and resolve each
// command's result exactly once (nil when no value arrived).
type Transport interface {
	// Start begins delivering received lines to handle.
	Start(handle LineHandler) error
	// Enqueue queues one command without blocking.
	Enqueue(cmd *QueuedCommand) error
	// WaitQueue blocks until every queued command has a resolved result.
	WaitQueue(ctx context.Context) error
	// Close stops the link and releases the underlying stream.
	Close() error
}
