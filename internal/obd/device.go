package obd

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// State is the lifecycle state of a Device.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Options configures a Device.
type Options struct {
	Logger         Logger        // defaults to log.Default()
	Debug          bool          // log every command and dropped frame
	DefaultMode    Mode          // defaults to ModeShowCurrentData
	CommandTimeout time.Duration // per-command reply timeout, 0 = none
	Resolver       *Resolver     // shared cache; a private one is created if nil
	ModeLookup     ModeLookup    // used only when Resolver is nil
}

// Device is an ELM327 session. It owns the PID cache, the fragment buffer
// and the subscriber registries, and talks to the adapter through a
// Transport.
type Device struct {
	transport Transport
	log       Logger
	debug     bool
	timeout   time.Duration
	resolver  *Resolver
	events    *Dispatcher

	state *atomic.Int32
	mode  *atomic.Uint32

	fragMu sync.Mutex
	frags  Reassembler
}

// NewDevice creates an uninitialized session on t.
func NewDevice(t Transport, opts Options) *Device {
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}
	if opts.DefaultMode == ModeNone {
		opts.DefaultMode = ModeShowCurrentData
	}
	if opts.Resolver == nil {
		opts.Resolver = NewResolver(opts.ModeLookup)
	}
	return &Device{
		transport: t,
		log:       opts.Logger,
		debug:     opts.Debug,
		timeout:   opts.CommandTimeout,
		resolver:  opts.Resolver,
		events:    NewDispatcher(opts.Logger),
		state:     atomic.NewInt32(int32(StateUninitialized)),
		mode:      atomic.NewUint32(uint32(opts.DefaultMode)),
	}
}

func (d *Device) debugf(format string, v ...any) {
	if d.debug {
		d.log.Printf("[obd] "+format, v...)
	}
}

// State returns the current lifecycle state.
func (d *Device) State() State { return State(d.state.Load()) }

// Mode returns the default mode used for requests without an override.
func (d *Device) Mode() Mode { return Mode(d.mode.Load()) }

// SetMode changes the default mode. Cached overrides are unaffected.
func (d *Device) SetMode(m Mode) { d.mode.Store(uint32(m)) }

// Resolver returns the PID cache used by this device.
func (d *Device) Resolver() *Resolver { return d.resolver }

// Initialize starts the transport and sends the adapter setup sequence,
// then waits for the queue to drain. On failure the device moves to
// StateFailed and must not be reused.
func (d *Device) Initialize(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		if d.State() == StateDisposed {
			return ErrDisposed
		}
		return fmt.Errorf("%w: initialize from %s", ErrInvalidState, d.State())
	}
	d.debugf("initializing ...")

	if err := d.initialize(ctx); err != nil {
		d.log.Printf("[obd] failed to initialize the device: %v", err)
		d.state.CompareAndSwap(int32(StateInitializing), int32(StateFailed))
		return fmt.Errorf("obd: initialize: %w", err)
	}
	if !d.state.CompareAndSwap(int32(StateInitializing), int32(StateReady)) {
		return ErrDisposed
	}
	d.debugf("initialized")
	return nil
}

func (d *Device) initialize(ctx context.Context) error {
	if err := d.transport.Start(d.Process); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	for _, at := range initSequence {
		d.debugf("%s ...", at.Description)
		if _, err := d.send(at.Command, true); err != nil {
			return fmt.Errorf("%s: %w", at.Command, err)
		}
	}
	return d.transport.WaitQueue(ctx)
}

func (d *Device) checkReady() error {
	switch d.State() {
	case StateReady:
		return nil
	case StateDisposed:
		return ErrDisposed
	}
	return ErrNotReady
}

func (d *Device) send(text string, wait bool) (*CommandResult, error) {
	cmd := NewQueuedCommand(text, wait, d.timeout)
	d.debugf("sending %q", text)
	if err := d.transport.Enqueue(cmd); err != nil {
		return nil, fmt.Errorf("obd: enqueue %q: %w", text, err)
	}
	return cmd.Result, nil
}

// SendCommand queues text for the adapter. It never blocks; the returned
// result is resolved by the transport.
func (d *Device) SendCommand(text string, waitForResponse bool) (*CommandResult, error) {
	if err := d.checkReady(); err != nil {
		return nil, err
	}
	return d.send(text, waitForResponse)
}

// SendAT queues an AT command that waits for its reply.
func (d *Device) SendAT(cmd ATCommand) (*CommandResult, error) {
	return d.SendCommand(cmd.Command, true)
}

// SendCommandWithHeader sets the CAN header with ATSH, then sends command.
func (d *Device) SendCommandWithHeader(header, command string, waitForResponse bool) (*CommandResult, error) {
	if _, err := d.SendCommand(ATSetHeader.Command+" "+header, true); err != nil {
		return nil, err
	}
	return d.SendCommand(command, waitForResponse)
}

// Exec sends text and waits for its outcome: a decoded value, the last raw
// reply line, or nil.
func (d *Device) Exec(ctx context.Context, text string) (any, error) {
	res, err := d.SendCommand(text, true)
	if err != nil {
		return nil, err
	}
	return d.await(ctx, res)
}

func (d *Device) await(ctx context.Context, res *CommandResult) (any, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return res.Wait(ctx)
}

// RequestPID requests a raw PID. ModeNone uses the default mode.
func (d *Device) RequestPID(pid int, override Mode) (*CommandResult, error) {
	mode := override
	if mode == ModeNone {
		mode = d.Mode()
	}
	d.debugf("requesting PID %02X (mode %s) ...", pid, mode)
	return d.SendCommand(FormatPIDCommand(mode, pid), true)
}

// QueryPID requests a raw PID and waits for the decoded value.
func (d *Device) QueryPID(ctx context.Context, pid int, override Mode) (Data, error) {
	res, err := d.RequestPID(pid, override)
	if err != nil {
		return nil, err
	}
	v, err := d.await(ctx, res)
	if err != nil {
		return nil, err
	}
	data, ok := v.(Data)
	if !ok || data == nil || data.PID() != pid {
		return nil, ErrNoData
	}
	return data, nil
}

// RequestEntry requests the payload type described by e.
func (d *Device) RequestEntry(e Entry) (*CommandResult, error) {
	d.debugf("requesting type %s ...", e.Type)
	return d.RequestPID(e.PID, e.Mode)
}

// InitializePIDCache registers payload types up front so that replies for
// types never requested through this device are still decoded.
func (d *Device) InitializePIDCache(factories ...func() Data) error {
	for _, f := range factories {
		if _, err := d.resolver.Register(f); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeType registers fn for values of type t; a nil t receives all.
func (d *Device) SubscribeType(t reflect.Type, fn DataHandler) Subscription {
	return d.events.Subscribe(t, fn)
}

// SubscribeAll registers fn for every decoded value, after typed subscribers.
func (d *Device) SubscribeAll(fn DataHandler) Subscription {
	return d.events.Subscribe(nil, fn)
}

// OnRawData registers fn for every line received from the adapter.
func (d *Device) OnRawData(fn RawHandler) Subscription {
	return d.events.SubscribeRaw(fn)
}

// OnBusError registers fn for CAN ERROR replies.
func (d *Device) OnBusError(fn RawHandler) Subscription {
	return d.events.SubscribeBusError(fn)
}

// Unsubscribe detaches a callback. Unknown subscriptions are ignored.
func (d *Device) Unsubscribe(s Subscription) { d.events.Unsubscribe(s) }

// Dispose tears the session down: optionally sends ATPC (errors ignored),
// clears all subscribers and closes the transport. Disposal is terminal.
func (d *Device) Dispose(sendCloseProtocol bool) error {
	prev := State(d.state.Swap(int32(StateDisposed)))
	if prev == StateDisposed {
		return nil
	}
	if sendCloseProtocol && prev == StateReady {
		d.closeProtocol()
	}
	d.events.Clear()
	d.fragMu.Lock()
	d.frags.Reset()
	d.fragMu.Unlock()
	if err := d.transport.Close(); err != nil {
		return fmt.Errorf("obd: close transport: %w", err)
	}
	return nil
}

// Close disposes the device, sending ATPC first.
func (d *Device) Close() error { return d.Dispose(true) }

func (d *Device) closeProtocol() {
	defer func() {
		if r := recover(); r != nil {
			d.debugf("close protocol panicked: %v", r)
		}
	}()
	res, err := d.send(ATCloseProtocol.Command, true)
	if err != nil {
		d.debugf("close protocol: %v", err)
		return
	}
	timeout := d.timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	if _, err := res.WaitTimeout(timeout); err != nil && !errors.Is(err, ErrTimeout) {
		d.debugf("close protocol: %v", err)
	}
}

// Subscribe registers fn for decoded values of payload type PT.
func Subscribe[T any, PT interface {
	*T
	Data
}](d *Device, fn func(data PT, at time.Time)) Subscription {
	return d.events.Subscribe(TypeOf[T, PT](), func(data Data, at time.Time) {
		if v, ok := data.(PT); ok {
			fn(v, at)
		}
	})
}

// RequestData resolves PT's PID and mode and queues the request. Cache
// registration errors surface here on first use of a type.
func RequestData[T any, PT interface {
	*T
	Data
}](d *Device) (*CommandResult, error) {
	e, err := Register[T, PT](d.resolver)
	if err != nil {
		return nil, err
	}
	return d.RequestEntry(e)
}

// Query requests PT and waits for its decoded value.
func Query[T any, PT interface {
	*T
	Data
}](ctx context.Context, d *Device) (PT, error) {
	res, err := RequestData[T, PT](d)
	if err != nil {
		return nil, err
	}
	v, err := d.await(ctx, res)
	if err != nil {
		return nil, err
	}
	data, ok := v.(PT)
	if !ok {
		return nil, ErrNoData
	}
	return data, nil
}
