// Package adapter implements the transport side of an ELM327 session: a
// queued, strictly one-at-a-time command link over any byte stream, plus
// openers for serial and TCP adapters and an in-memory simulator.
package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/shaunagostinho/goobd/internal/obd"
)

// ErrLinkClosed is returned for any use of a closed link.
var ErrLinkClosed = errors.New("adapter: link closed")

// Prompt is sent by the adapter when it is ready for the next command.
const Prompt = '>'

// DefaultSettle is how long a link waits after a timed-out command for the
// adapter's late prompt before writing the next command.
const DefaultSettle = 250 * time.Millisecond

// LinkConfig configures a Link.
type LinkConfig struct {
	Logger obd.Logger
	Debug  bool
	// Settle overrides DefaultSettle. Negative disables the wait.
	Settle time.Duration
}

// Stats are running counters for a link.
type Stats struct {
	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`
	Timeouts uint64 `json:"timeouts"`
}

// Link implements obd.Transport over a byte stream. A send goroutine writes
// queued commands one at a time and, for commands that wait, holds the
// queue until the adapter's prompt or the command timeout. A read goroutine
// splits the stream into lines and hands each to the engine.
//
// After a timeout the link waits up to Settle for the adapter to catch up.
// Lines read in that window reach the engine but are not the outcome of any
// command, and a prompt read in it is consumed. A reply later than Settle
// can still be taken as the next command's outcome.
type Link struct {
	rwc    io.ReadWriteCloser
	log    obd.Logger
	debug  bool
	settle time.Duration

	mu      sync.Mutex
	queue   []*obd.QueuedCommand
	pending int
	idle    chan struct{} // closed while pending == 0
	current *obd.QueuedCommand
	outcome any
	handle  obd.LineHandler
	started bool
	closed  bool

	wake   chan struct{}
	prompt chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup

	sent     *atomic.Uint64
	received *atomic.Uint64
	timeouts *atomic.Uint64
}

// NewLink wraps rwc. Nothing is read or written until Start.
func NewLink(rwc io.ReadWriteCloser, cfg LinkConfig) *Link {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Settle == 0 {
		cfg.Settle = DefaultSettle
	}
	idle := make(chan struct{})
	close(idle)
	return &Link{
		rwc:      rwc,
		log:      cfg.Logger,
		debug:    cfg.Debug,
		settle:   cfg.Settle,
		idle:     idle,
		wake:     make(chan struct{}, 1),
		prompt:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		sent:     atomic.NewUint64(0),
		received: atomic.NewUint64(0),
		timeouts: atomic.NewUint64(0),
	}
}

func (l *Link) debugf(format string, v ...any) {
	if l.debug {
		l.log.Printf("[link] "+format, v...)
	}
}

// Start launches the read and send goroutines.
func (l *Link) Start(handle obd.LineHandler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if l.started {
		return errors.New("adapter: link already started")
	}
	l.started = true
	l.handle = handle

	l.wg.Add(1)
	go l.sendLoop()
	go l.readLoop()
	return nil
}

// Enqueue queues cmd. It never blocks.
func (l *Link) Enqueue(cmd *obd.QueuedCommand) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLinkClosed
	}
	l.queue = append(l.queue, cmd)
	l.pending++
	if l.pending == 1 {
		l.idle = make(chan struct{})
	}
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// WaitQueue blocks until no command is pending.
func (l *Link) WaitQueue(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	return nil
}

// Done is closed once the link is closed, including when the adapter
// stream ends on its own.
func (l *Link) Done() <-chan struct{} { return l.stop }

// Stats returns the link counters.
func (l *Link) Stats() Stats {
	return Stats{
		Sent:     l.sent.Load(),
		Received: l.received.Load(),
		Timeouts: l.timeouts.Load(),
	}
}

// Close stops the link, resolves every queued command with nil and closes
// the stream.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stop)
	err := l.rwc.Close()
	l.wg.Wait()

	l.mu.Lock()
	queued := l.queue
	l.queue = nil
	for range queued {
		l.release()
	}
	l.mu.Unlock()
	for _, cmd := range queued {
		cmd.Result.Resolve(nil)
	}
	return err
}

// release marks one command finished. Caller holds mu.
func (l *Link) release() {
	l.pending--
	if l.pending == 0 {
		close(l.idle)
	}
}

func (l *Link) next() *obd.QueuedCommand {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil
		}
		if len(l.queue) > 0 {
			cmd := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			if cmd.WaitForResponse {
				l.current = cmd
				l.outcome = nil
			}
			l.mu.Unlock()
			return cmd
		}
		l.mu.Unlock()

		select {
		case <-l.wake:
		case <-l.stop:
			return nil
		}
	}
}

func (l *Link) sendLoop() {
	defer l.wg.Done()
	for {
		cmd := l.next()
		if cmd == nil {
			return
		}
		l.run(cmd)
	}
}

func (l *Link) run(cmd *obd.QueuedCommand) {
	// A prompt left over from a fire-and-forget command must not end this one.
	select {
	case <-l.prompt:
	default:
	}

	l.debugf("write %q", cmd.Text)
	if _, err := io.WriteString(l.rwc, cmd.Text+"\r"); err != nil {
		l.log.Printf("[link] write %q failed: %v", cmd.Text, err)
		l.finish(cmd)
		return
	}
	l.sent.Inc()

	if !cmd.WaitForResponse {
		l.finish(cmd)
		return
	}

	var timeout <-chan time.Time
	if cmd.Timeout > 0 {
		t := time.NewTimer(cmd.Timeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-l.prompt:
	case <-timeout:
		l.timeouts.Inc()
		l.debugf("%q timed out after %v", cmd.Text, cmd.Timeout)
		l.finish(cmd)
		l.settleAfterTimeout()
		return
	case <-l.stop:
	}
	l.finish(cmd)
}

// settleAfterTimeout waits for the prompt that ends a timed-out command.
// current is nil by now, so lines read meanwhile are not attributed.
func (l *Link) settleAfterTimeout() {
	if l.settle <= 0 {
		return
	}
	t := time.NewTimer(l.settle)
	defer t.Stop()
	select {
	case <-l.prompt:
		l.debugf("late prompt consumed")
	case <-t.C:
	case <-l.stop:
	}
}

// finish resolves cmd with the outcome collected for it, if any.
func (l *Link) finish(cmd *obd.QueuedCommand) {
	l.mu.Lock()
	var v any
	if l.current == cmd {
		v = l.outcome
		l.current = nil
		l.outcome = nil
	}
	l.release()
	l.mu.Unlock()

	if !cmd.Result.Resolve(v) {
		l.log.Printf("[link] result for %q already resolved", cmd.Text)
	}
}

func (l *Link) readLoop() {
	scanner := bufio.NewScanner(l.rwc)
	scanner.Split(splitReply)
	for scanner.Scan() {
		tok := scanner.Text()
		if len(tok) == 1 && tok[0] == Prompt {
			select {
			case l.prompt <- struct{}{}:
			default:
			}
			continue
		}
		line := strings.Trim(tok, " \t\x00")
		if line == "" {
			continue
		}
		l.received.Inc()
		l.debugf("read %q", line)
		l.deliver(line)
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	l.log.Printf("[link] read failed: %v", err)
	l.Close()
}

func (l *Link) deliver(line string) {
	v := l.handle(line)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return
	}
	switch {
	case v != nil:
		l.outcome = v
	case !isData(l.outcome):
		l.outcome = line
	}
}

func isData(v any) bool {
	_, ok := v.(obd.Data)
	return ok
}

// splitReply is a bufio.SplitFunc that yields lines ended by CR or LF and
// the prompt character as its own token.
func splitReply(data []byte, atEOF bool) (int, []byte, error) {
	for i, b := range data {
		switch b {
		case '\r', '\n':
			return i + 1, data[:i], nil
		case Prompt:
			if i > 0 {
				return i, data[:i], nil
			}
			return 1, data[:1], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (s Stats) String() string {
	return fmt.Sprintf("sent=%d received=%d timeouts=%d", s.Sent, s.Received, s.Timeouts)
}
