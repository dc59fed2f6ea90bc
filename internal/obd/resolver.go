package obd

import (
	"fmt"
	"reflect"
	"sync"
)

// Data is implemented by every payload type. PID returns the wire
// identifier (one byte, or two for long PIDs); Load decodes the hex
// payload that follows the mode and PID in a reply.
type Data interface {
	PID() int
	Load(payload string) error
}

// ModeOverrider is implemented by payload types that must always be
// requested under a fixed mode regardless of the device default.
type ModeOverrider interface {
	ModeOverride() Mode
}

// ModeLookup reports the mode override for a payload type, given a sample
// instance. It is called at most once per type.
type ModeLookup func(sample Data) (Mode, bool)

// LookupModeOverride is the default ModeLookup: it consults ModeOverrider.
func LookupModeOverride(sample Data) (Mode, bool) {
	if mo, ok := sample.(ModeOverrider); ok && mo.ModeOverride() != ModeNone {
		return mo.ModeOverride(), true
	}
	return ModeNone, false
}

// Entry is the cached descriptor of one payload type.
type Entry struct {
	Type reflect.Type
	PID  int
	Mode Mode // ModeNone if the type uses the device default
	New  func() Data
}

// Long reports whether the PID occupies two bytes on the wire.
func (e Entry) Long() bool { return e.PID > 0xFF }

// Resolver maps payload types to PID and mode and back. Entries are
// inserted once per type and never change afterwards. Each PID belongs to
// one type. A long PID also claims its low byte in aliases, which is only
// consulted when no type owns that byte as its real PID.
type Resolver struct {
	mu        sync.RWMutex
	byType    map[reflect.Type]Entry
	byPID     map[int]reflect.Type
	aliases   map[int]reflect.Type
	overrides map[Mode]int
	lookup    ModeLookup
}

// NewResolver creates an empty resolver. A nil lookup uses LookupModeOverride.
func NewResolver(lookup ModeLookup) *Resolver {
	if lookup == nil {
		lookup = LookupModeOverride
	}
	return &Resolver{
		byType:    make(map[reflect.Type]Entry),
		byPID:     make(map[int]reflect.Type),
		aliases:   make(map[int]reflect.Type),
		overrides: make(map[Mode]int),
		lookup:    lookup,
	}
}

// Register caches the type produced by factory. Registering a type again
// returns the first registration unchanged. A PID already owned by another
// type is rejected with ErrInvalidPID.
func (r *Resolver) Register(factory func() Data) (Entry, error) {
	if factory == nil {
		return Entry{}, fmt.Errorf("%w: nil factory", ErrInvalidPID)
	}
	sample := factory()
	if sample == nil {
		return Entry{}, fmt.Errorf("%w: factory returned nil", ErrInvalidPID)
	}
	t := reflect.TypeOf(sample)

	r.mu.RLock()
	e, ok := r.byType[t]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byType[t]; ok {
		return e, nil
	}

	pid := sample.PID()
	if pid < 0 || pid > 0xFFFF {
		return Entry{}, fmt.Errorf("%w: %s reports pid %d", ErrInvalidPID, t, pid)
	}
	mode, ok := r.lookup(sample)
	if !ok {
		mode = ModeNone
	}

	if owner, taken := r.byPID[pid]; taken {
		return Entry{}, fmt.Errorf("%w: %s pid %02X already owned by %s", ErrInvalidPID, t, pid, owner)
	}

	e = Entry{Type: t, PID: pid, Mode: mode, New: factory}
	r.byType[t] = e
	r.byPID[pid] = t
	if e.Long() {
		// First long PID wins the truncated key.
		short := pid & 0xFF
		if _, taken := r.aliases[short]; !taken {
			r.aliases[short] = t
		}
	}
	if mode != ModeNone {
		r.overrides[mode]++
	}
	return e, nil
}

// Lookup returns the entry for a registered type.
func (r *Resolver) Lookup(t reflect.Type) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byType[t]
	return e, ok
}

// ByPID returns the entry registered under a wire key. A type's own PID
// takes precedence over a long PID's truncated key.
func (r *Resolver) ByPID(pid int) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byPID[pid]
	if !ok {
		t, ok = r.aliases[pid]
	}
	if !ok {
		return Entry{}, false
	}
	return r.byType[t], true
}

// IsOverrideMode reports whether any registered type overrides its mode to m.
func (r *Resolver) IsOverrideMode(m Mode) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.overrides[m] > 0
}

// Len returns the number of registered types.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType)
}

// Register caches payload type PT on r and returns its entry.
func Register[T any, PT interface {
	*T
	Data
}](r *Resolver) (Entry, error) {
	return r.Register(func() Data { return PT(new(T)) })
}

// TypeOf returns the cache key of payload type PT.
func TypeOf[T any, PT interface {
	*T
	Data
}]() reflect.Type {
	return reflect.TypeOf(PT(nil))
}
