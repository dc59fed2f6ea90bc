package obd

import (
	"context"
	"sync"
	"time"
)

// QueuedCommand is one outbound instruction handed to the transport.
type QueuedCommand struct {
	Text            string        // literal on-wire text, without terminator
	WaitForResponse bool          // block the queue until the reply prompt
	Timeout         time.Duration // 0 = no limit
	Result          *CommandResult
}

// NewQueuedCommand creates a command with a fresh, unresolved result.
func NewQueuedCommand(text string, waitForResponse bool, timeout time.Duration) *QueuedCommand {
	return &QueuedCommand{
		Text:            text,
		WaitForResponse: waitForResponse,
		Timeout:         timeout,
		Result:          NewCommandResult(),
	}
}

// CommandResult is a single-assignment future. The transport resolves it
// exactly once, with a decoded Data value, a raw reply line, or nil.
type CommandResult struct {
	mu       sync.Mutex
	value    any
	resolved bool
	done     chan struct{}
}

func NewCommandResult() *CommandResult {
	return &CommandResult{done: make(chan struct{})}
}

// Resolve stores v and wakes all waiters. It returns false, leaving the
// stored value untouched, if the result was already resolved.
func (r *CommandResult) Resolve(v any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved {
		return false
	}
	r.value = v
	r.resolved = true
	close(r.done)
	return true
}

// Resolved reports whether Resolve has been called.
func (r *CommandResult) Resolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

// Done is closed once the result is resolved.
func (r *CommandResult) Done() <-chan struct{} { return r.done }

// Value returns the stored value, or nil if unresolved.
func (r *CommandResult) Value() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Wait blocks until the result is resolved or ctx ends.
// A context deadline is reported as ErrTimeout.
func (r *CommandResult) Wait(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.Value(), nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// WaitTimeout blocks for at most d; d <= 0 waits indefinitely.
func (r *CommandResult) WaitTimeout(d time.Duration) (any, error) {
	if d <= 0 {
		return r.Wait(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return r.Wait(ctx)
}
