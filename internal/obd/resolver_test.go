package obd

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewResolver(nil)
	first, err := Register[vin](r)
	require.NoError(t, err)
	second, err := Register[vin](r)
	require.NoError(t, err)

	assert.Equal(t, first.PID, second.PID)
	assert.Equal(t, first.Mode, second.Mode)
	assert.Equal(t, ModeVehicleInformation, first.Mode)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterConcurrent(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	r := NewResolver(func(sample Data) (Mode, bool) {
		mu.Lock()
		calls++
		mu.Unlock()
		return LookupModeOverride(sample)
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Register[rpm](r)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	e, ok := r.Lookup(TypeOf[rpm]())
	require.True(t, ok)
	assert.Equal(t, 0x0C, e.PID)
	assert.Equal(t, ModeNone, e.Mode)
}

func TestRegisterByPID(t *testing.T) {
	r := NewResolver(nil)
	_, err := Register[speed](r)
	require.NoError(t, err)

	e, ok := r.ByPID(0x0D)
	require.True(t, ok)
	assert.Equal(t, TypeOf[speed](), e.Type)

	_, ok = r.ByPID(0x0C)
	assert.False(t, ok)
}

func TestRegisterLongPID(t *testing.T) {
	r := NewResolver(nil)
	e, err := Register[longPID](r)
	require.NoError(t, err)
	assert.True(t, e.Long())

	got, ok := r.ByPID(0x1234)
	require.True(t, ok)
	assert.Equal(t, e.Type, got.Type)

	// The truncated key is claimed while no short PID owns it.
	got, ok = r.ByPID(0x34)
	require.True(t, ok)
	assert.Equal(t, e.Type, got.Type)
}

func TestRegisterLongPIDKeepsShortOwner(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.Register(func() Data { return &shortAt34{} })
	require.NoError(t, err)
	_, err = Register[longPID](r)
	require.NoError(t, err)

	got, ok := r.ByPID(0x34)
	require.True(t, ok)
	assert.Equal(t, TypeOf[shortAt34](), got.Type)
}

type shortAt34 struct{}

func (*shortAt34) PID() int          { return 0x34 }
func (*shortAt34) Load(string) error { return nil }

type longAt0C struct{ Raw string }

func (*longAt0C) PID() int { return 0x010C }
func (l *longAt0C) Load(payload string) error {
	l.Raw = payload
	return nil
}

func TestShortPIDWinsOverTruncatedKey(t *testing.T) {
	long := func() Data { return &longAt0C{} }
	short := func() Data { return &rpm{} }

	for name, order := range map[string][]func() Data{
		"long first":  {long, short},
		"short first": {short, long},
	} {
		t.Run(name, func(t *testing.T) {
			d, _ := newReadyDevice(t, nil)
			require.NoError(t, d.InitializePIDCache(order...))

			got, ok := d.Resolver().ByPID(0x0C)
			require.True(t, ok)
			assert.Equal(t, TypeOf[rpm](), got.Type)

			out := d.Process("410C0FA0")
			require.IsType(t, &rpm{}, out)
			assert.Equal(t, "0FA0", out.(*rpm).Raw)

			out = d.Process("41010CABCD")
			require.IsType(t, &longAt0C{}, out)
			assert.Equal(t, "ABCD", out.(*longAt0C).Raw)
		})
	}
}

type vinAsCurrent struct{}

func (*vinAsCurrent) PID() int          { return 0x02 }
func (*vinAsCurrent) Load(string) error { return nil }

func TestRegisterDuplicatePID(t *testing.T) {
	r := NewResolver(nil)
	_, err := Register[vin](r)
	require.NoError(t, err)

	_, err = r.Register(func() Data { return &vinAsCurrent{} })
	assert.ErrorIs(t, err, ErrInvalidPID)
	assert.ErrorContains(t, err, "already owned")
	assert.Equal(t, 1, r.Len())

	got, ok := r.ByPID(0x02)
	require.True(t, ok)
	assert.Equal(t, TypeOf[vin](), got.Type)
}

func TestRegisterSharedTruncatedKey(t *testing.T) {
	r := NewResolver(nil)
	_, err := Register[longPID](r)
	require.NoError(t, err)
	// 0x5634 truncates to the same key as 0x1234; both keep their full PIDs.
	_, err = r.Register(func() Data { return &otherLong34{} })
	require.NoError(t, err)

	got, ok := r.ByPID(0x34)
	require.True(t, ok)
	assert.Equal(t, TypeOf[longPID](), got.Type)
	got, ok = r.ByPID(0x5634)
	require.True(t, ok)
	assert.Equal(t, TypeOf[otherLong34](), got.Type)
}

type otherLong34 struct{}

func (*otherLong34) PID() int          { return 0x5634 }
func (*otherLong34) Load(string) error { return nil }

func TestRegisterInvalidPID(t *testing.T) {
	r := NewResolver(nil)
	_, err := Register[badPID](r)
	assert.ErrorIs(t, err, ErrInvalidPID)
	assert.Equal(t, 0, r.Len())

	_, err = r.Register(nil)
	assert.ErrorIs(t, err, ErrInvalidPID)

	_, err = r.Register(func() Data { return nil })
	assert.ErrorIs(t, err, ErrInvalidPID)
}

func TestIsOverrideMode(t *testing.T) {
	r := NewResolver(nil)
	assert.False(t, r.IsOverrideMode(ModeVehicleInformation))

	_, err := Register[rpm](r)
	require.NoError(t, err)
	assert.False(t, r.IsOverrideMode(ModeShowCurrentData))

	_, err = Register[vin](r)
	require.NoError(t, err)
	assert.True(t, r.IsOverrideMode(ModeVehicleInformation))
}

func TestCustomModeLookup(t *testing.T) {
	r := NewResolver(func(sample Data) (Mode, bool) {
		if sample.PID() == 0x0D {
			return ModeFreezeFrame, true
		}
		return ModeNone, false
	})
	e, err := Register[speed](r)
	require.NoError(t, err)
	assert.Equal(t, ModeFreezeFrame, e.Mode)

	// The default lookup is bypassed entirely.
	e, err = Register[vin](r)
	require.NoError(t, err)
	assert.Equal(t, ModeNone, e.Mode)
}
