package obd

import (
	"context"
	"errors"
	"sync"
)

type rpm struct{ Raw string }

func (*rpm) PID() int { return 0x0C }
func (r *rpm) Load(payload string) error {
	r.Raw = payload
	return nil
}

type speed struct{ Raw string }

func (*speed) PID() int { return 0x0D }
func (s *speed) Load(payload string) error {
	s.Raw = payload
	return nil
}

type vin struct{ Raw string }

func (*vin) PID() int           { return 0x02 }
func (*vin) ModeOverride() Mode { return ModeVehicleInformation }
func (v *vin) Load(payload string) error {
	v.Raw = payload
	return nil
}

type longPID struct{ Raw string }

func (*longPID) PID() int { return 0x1234 }
func (l *longPID) Load(payload string) error {
	l.Raw = payload
	return nil
}

type badPID struct{}

func (*badPID) PID() int                  { return 0x10000 }
func (*badPID) Load(payload string) error { return nil }

type rejecting struct{}

func (*rejecting) PID() int { return 0x05 }
func (*rejecting) Load(payload string) error {
	return errors.New("bad payload")
}

// scriptedTransport answers each command synchronously from reply and
// resolves its result the way a real link does: the last decoded value,
// else the last raw line, else nil.
type scriptedTransport struct {
	mu         sync.Mutex
	handle     LineHandler
	sent       []string
	reply      func(text string) []string
	startErr   error
	enqueueErr func(text string) error
	closed     bool
	closeErr   error
	held       []*QueuedCommand
	hold       bool
}

func (t *scriptedTransport) Start(handle LineHandler) error {
	if t.startErr != nil {
		return t.startErr
	}
	t.handle = handle
	return nil
}

func (t *scriptedTransport) Enqueue(cmd *QueuedCommand) error {
	t.mu.Lock()
	if t.enqueueErr != nil {
		if err := t.enqueueErr(cmd.Text); err != nil {
			t.mu.Unlock()
			return err
		}
	}
	t.sent = append(t.sent, cmd.Text)
	if t.hold {
		t.held = append(t.held, cmd)
		t.mu.Unlock()
		return nil
	}
	reply := t.reply
	t.mu.Unlock()

	var out any
	if reply != nil {
		for _, line := range reply(cmd.Text) {
			if v := t.handle(line); v != nil {
				out = v
			} else if _, isData := out.(Data); !isData {
				out = line
			}
		}
	}
	if !cmd.WaitForResponse {
		out = nil
	}
	cmd.Result.Resolve(out)
	return nil
}

func (t *scriptedTransport) WaitQueue(ctx context.Context) error {
	t.mu.Lock()
	held := append([]*QueuedCommand(nil), t.held...)
	t.mu.Unlock()
	for _, cmd := range held {
		select {
		case <-cmd.Result.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *scriptedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.closeErr
}

func (t *scriptedTransport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

// okReplies answers AT commands with OK and everything else with NO DATA.
func okReplies(text string) []string {
	if len(text) >= 2 && text[:2] == "AT" {
		return []string{"OK"}
	}
	return []string{"NO DATA"}
}

// newReadyDevice returns an initialized device on a scripted transport.
func newReadyDevice(tb interface {
	Helper()
	Fatalf(string, ...any)
}, reply func(string) []string) (*Device, *scriptedTransport) {
	tb.Helper()
	if reply == nil {
		reply = okReplies
	}
	tr := &scriptedTransport{reply: reply}
	d := NewDevice(tr, Options{Logger: NopLogger})
	if err := d.Initialize(context.Background()); err != nil {
		tb.Fatalf("initialize: %v", err)
	}
	return d, tr
}
