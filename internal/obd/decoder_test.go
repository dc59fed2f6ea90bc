package obd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cacheTypes(t *testing.T, d *Device) {
	t.Helper()
	require.NoError(t, d.InitializePIDCache(
		func() Data { return &rpm{} },
		func() Data { return &speed{} },
		func() Data { return &vin{} },
	))
}

func TestDecodeShortPID(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	cacheTypes(t, d)

	var got *rpm
	Subscribe[rpm](d, func(v *rpm, _ time.Time) { got = v })

	out := d.Process("410C0FA0")
	require.NotNil(t, got)
	assert.Equal(t, "0FA0", got.Raw)
	assert.Same(t, got, out)
}

func TestDecodeFragmented(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	cacheTypes(t, d)

	var got []*rpm
	Subscribe[rpm](d, func(v *rpm, _ time.Time) { got = append(got, v) })

	assert.Nil(t, d.Process("0:410C0FA0"))
	assert.Empty(t, got)
	out := d.Process("1:")
	require.Len(t, got, 1)
	assert.Equal(t, "0FA0", got[0].Raw)
	assert.NotNil(t, out)
}

func TestDecodeFirstHalfOnlyEmitsNothing(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	cacheTypes(t, d)

	calls := 0
	d.SubscribeAll(func(Data, time.Time) { calls++ })
	assert.Nil(t, d.Process("0:410C0FA0"))
	assert.Equal(t, 0, calls)
}

func TestDecodeDropsInactiveMode(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	cacheTypes(t, d)

	calls := 0
	d.SubscribeAll(func(Data, time.Time) { calls++ })

	// Mode 02 is neither the default nor any override.
	assert.Nil(t, d.Process("420C0FA0"))
	assert.Equal(t, 0, calls)
}

func TestDecodeOverrideMode(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	cacheTypes(t, d)

	var got *vin
	Subscribe[vin](d, func(v *vin, _ time.Time) { got = v })

	require.NotNil(t, d.Process("49020131"))
	require.NotNil(t, got)
	assert.Equal(t, "0131", got.Raw)
}

func TestDecodeCollisionGuard(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	cacheTypes(t, d)

	calls := 0
	d.SubscribeAll(func(Data, time.Time) { calls++ })

	// Mode 09 is accepted because vin overrides to it, but PID 0C
	// resolves to rpm, which lives under the default mode 01.
	assert.Nil(t, d.Process("490C0FA0"))
	// And the reverse: PID 02 under mode 01 resolves to vin (mode 09).
	assert.Nil(t, d.Process("41020131"))
	assert.Equal(t, 0, calls)
}

func TestDecodeBusError(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	cacheTypes(t, d)

	typed, bus := 0, 0
	d.SubscribeAll(func(Data, time.Time) { typed++ })
	d.OnBusError(func(string, time.Time) { bus++ })

	assert.Nil(t, d.Process("CAN ERROR"))
	assert.Nil(t, d.Process("can error"))
	assert.Equal(t, 2, bus)
	assert.Equal(t, 0, typed)
}

func TestDecodeNoise(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	cacheTypes(t, d)

	calls := 0
	d.SubscribeAll(func(Data, time.Time) { calls++ })

	for _, line := range []string{
		"",
		"OK",
		"410C",     // too short
		"ZZ0C0FA0", // bad mode
		"010C0FA0", // request echo, below 0x40
		"41FF00",   // unregistered PID
		"NO DATA",
		"ELM327 v1.5",
		"SEARCHING...",
	} {
		assert.Nil(t, d.Process(line), line)
	}
	assert.Equal(t, 0, calls)
}

func TestDecodeLoadFailureDropped(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	require.NoError(t, d.InitializePIDCache(func() Data { return &rejecting{} }))

	calls := 0
	d.SubscribeAll(func(Data, time.Time) { calls++ })
	assert.Nil(t, d.Process("410580"))
	assert.Equal(t, 0, calls)
}

func TestDecodeLongPID(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	require.NoError(t, d.InitializePIDCache(func() Data { return &longPID{} }))

	var got *longPID
	Subscribe[longPID](d, func(v *longPID, _ time.Time) { got = v })

	require.NotNil(t, d.Process("411234ABCD"))
	assert.Equal(t, "ABCD", got.Raw)

	// Matched through the truncated key: the payload starts after one byte.
	require.NotNil(t, d.Process("4134ABCD"))
	assert.Equal(t, "ABCD", got.Raw)
}

func TestRawObserversSeeFragmentsAndJoinedLine(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	cacheTypes(t, d)

	var raw []string
	d.OnRawData(func(l string, _ time.Time) { raw = append(raw, l) })

	d.Process("0:410C")
	assert.NotNil(t, d.Process("1:0FA0"))
	d.Process("CAN ERROR")
	assert.Equal(t, []string{"0:410C", "1:0FA0", "410C0FA0", "CAN ERROR"}, raw)
}

type supported struct{ Raw string }

func (*supported) PID() int { return 0x00 }
func (s *supported) Load(payload string) error {
	s.Raw = payload
	return nil
}

func TestDecodePIDZeroIsNotLong(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	cacheTypes(t, d)
	require.NoError(t, d.InitializePIDCache(func() Data { return &supported{} }))

	// "000C" is PID 00 followed by payload, not a two-byte PID 0x000C.
	out := d.Process("41000C0000FF")
	require.IsType(t, &supported{}, out)
	assert.Equal(t, "0C0000FF", out.(*supported).Raw)
}

func TestDecodeFollowsDefaultMode(t *testing.T) {
	d, _ := newReadyDevice(t, nil)
	cacheTypes(t, d)

	d.SetMode(ModeFreezeFrame)
	assert.Nil(t, d.Process("410C0FA0"))
	assert.NotNil(t, d.Process("420C0FA0"))
}
