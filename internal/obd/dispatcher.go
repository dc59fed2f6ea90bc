package obd

import (
	"reflect"
	"sync"
	"time"
)

// DataHandler receives a decoded value and the arrival time of its line.
type DataHandler func(data Data, at time.Time)

// RawHandler receives every line delivered by the transport.
type RawHandler func(line string, at time.Time)

// Subscription identifies one registered callback. The zero value is never
// issued, so unsubscribing it is a harmless no-op.
type Subscription struct {
	id uint64
}

type handler[F any] struct {
	id uint64
	fn F
}

// handlerList is a copy-on-write, insertion-ordered callback list. Raising
// iterates a snapshot, so subscribe/unsubscribe during a fan-out only
// affects later fan-outs.
type handlerList[F any] struct {
	mu   sync.Mutex
	list []handler[F]
}

func (l *handlerList[F]) add(id uint64, fn F) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]handler[F], len(l.list), len(l.list)+1)
	copy(next, l.list)
	l.list = append(next, handler[F]{id: id, fn: fn})
}

func (l *handlerList[F]) remove(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, h := range l.list {
		if h.id != id {
			continue
		}
		next := make([]handler[F], 0, len(l.list)-1)
		next = append(next, l.list[:i]...)
		l.list = append(next, l.list[i+1:]...)
		return true
	}
	return false
}

func (l *handlerList[F]) snapshot() []handler[F] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.list
}

func (l *handlerList[F]) clear() {
	l.mu.Lock()
	l.list = nil
	l.mu.Unlock()
}

func (l *handlerList[F]) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.list)
}

// Dispatcher fans decoded values out to per-type subscribers, then to
// wildcard subscribers. Callback panics are recovered and logged so one
// failing subscriber never starves the rest.
type Dispatcher struct {
	log Logger

	mu       sync.Mutex
	nextID   uint64
	typed    map[reflect.Type]*handlerList[DataHandler]
	owner    map[uint64]reflect.Type
	wildcard handlerList[DataHandler]
	raw      handlerList[RawHandler]
	busErr   handlerList[RawHandler]
}

func NewDispatcher(log Logger) *Dispatcher {
	if log == nil {
		log = NopLogger
	}
	return &Dispatcher{
		log:   log,
		typed: make(map[reflect.Type]*handlerList[DataHandler]),
		owner: make(map[uint64]reflect.Type),
	}
}

func (d *Dispatcher) newID() uint64 {
	d.nextID++
	return d.nextID
}

// Subscribe registers fn for values of type t. A nil t subscribes to every
// decoded value.
func (d *Dispatcher) Subscribe(t reflect.Type, fn DataHandler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.newID()
	if t == nil {
		d.wildcard.add(id, fn)
		return Subscription{id}
	}
	l, ok := d.typed[t]
	if !ok {
		l = &handlerList[DataHandler]{}
		d.typed[t] = l
	}
	l.add(id, fn)
	d.owner[id] = t
	return Subscription{id}
}

// SubscribeRaw registers fn for every line received from the transport.
func (d *Dispatcher) SubscribeRaw(fn RawHandler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.newID()
	d.raw.add(id, fn)
	return Subscription{id}
}

// SubscribeBusError registers fn for CAN ERROR replies.
func (d *Dispatcher) SubscribeBusError(fn RawHandler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.newID()
	d.busErr.add(id, fn)
	return Subscription{id}
}

// Unsubscribe detaches the callback. Unknown subscriptions are ignored;
// the per-type list itself is kept.
func (d *Dispatcher) Unsubscribe(s Subscription) {
	if s.id == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.owner[s.id]; ok {
		d.typed[t].remove(s.id)
		delete(d.owner, s.id)
		return
	}
	if d.wildcard.remove(s.id) {
		return
	}
	if d.raw.remove(s.id) {
		return
	}
	d.busErr.remove(s.id)
}

// Raise delivers data to subscribers of t, then to wildcard subscribers.
func (d *Dispatcher) Raise(t reflect.Type, data Data, at time.Time) {
	d.mu.Lock()
	l := d.typed[t]
	d.mu.Unlock()
	if l != nil {
		for _, h := range l.snapshot() {
			d.callData(h.fn, data, at)
		}
	}
	for _, h := range d.wildcard.snapshot() {
		d.callData(h.fn, data, at)
	}
}

// RaiseRaw notifies raw-line observers.
func (d *Dispatcher) RaiseRaw(line string, at time.Time) {
	for _, h := range d.raw.snapshot() {
		d.callRaw(h.fn, line, at)
	}
}

// RaiseBusError notifies bus-error observers.
func (d *Dispatcher) RaiseBusError(line string, at time.Time) {
	for _, h := range d.busErr.snapshot() {
		d.callRaw(h.fn, line, at)
	}
}

// Clear detaches every callback. Per-type entries stay in place.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range d.typed {
		l.clear()
	}
	d.owner = make(map[uint64]reflect.Type)
	d.wildcard.clear()
	d.raw.clear()
	d.busErr.clear()
}

// Subscribers returns the number of callbacks for t (nil = wildcard).
func (d *Dispatcher) Subscribers(t reflect.Type) int {
	if t == nil {
		return d.wildcard.size()
	}
	d.mu.Lock()
	l := d.typed[t]
	d.mu.Unlock()
	if l == nil {
		return 0
	}
	return l.size()
}

func (d *Dispatcher) callData(fn DataHandler, data Data, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Printf("[obd] data handler panic: %v", r)
		}
	}()
	fn(data, at)
}

func (d *Dispatcher) callRaw(fn RawHandler, line string, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Printf("[obd] raw handler panic: %v", r)
		}
	}()
	fn(line, at)
}
