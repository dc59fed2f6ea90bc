package pids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/goobd/internal/obd"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		data    Reading
		payload string
		want    any
	}{
		{&CalculatedEngineLoad{}, "FF", 100.0},
		{&EngineCoolantTemperature{}, "7B", 83},
		{&IntakeManifoldAbsolutePressure{}, "64", 100},
		{&EngineRPM{}, "0FA0", 1000},
		{&EngineRPM{}, "1AF8", 1726},
		{&VehicleSpeed{}, "32", 50},
		{&TimingAdvance{}, "94", 10.0},
		{&IntakeAirTemperature{}, "28", 0},
		{&MassAirFlow{}, "01F4", 5.0},
		{&ThrottlePosition{}, "00", 0.0},
		{&RunTimeSinceEngineStart{}, "0E10", 3600},
		{&FuelTankLevelInput{}, "FF", 100.0},
		{&ControlModuleVoltage{}, "3390", 13.2},
		{&AmbientAirTemperature{}, "3D", 21},
		{&FuelType{}, "01", "Gasoline"},
		{&FuelType{}, "FE", "Unknown (FE)"},
		{&PIDsSupported01To20{}, "80000001", []int{1, 32}},
	}
	for _, tt := range tests {
		t.Run(tt.data.Name()+"/"+tt.payload, func(t *testing.T) {
			require.NoError(t, tt.data.Load(tt.payload))
			assert.Equal(t, tt.want, tt.data.Value())
		})
	}
}

func TestDecodeIgnoresPadding(t *testing.T) {
	var r EngineRPM
	require.NoError(t, r.Load("0FA0555555"))
	assert.Equal(t, 1000, r.RPM)

	var s VehicleSpeed
	require.NoError(t, s.Load("32F"))
	assert.Equal(t, 50, s.KPH)
}

func TestDecodeErrors(t *testing.T) {
	var r EngineRPM
	assert.Error(t, r.Load("0F"))
	assert.Error(t, r.Load("ZZZZ"))
	assert.Error(t, r.Load(""))

	var v VehicleIdentificationNumber
	assert.Error(t, v.Load("01"))
}

func TestVIN(t *testing.T) {
	const vinHex = "3144344750303052353542313233343536" // 1D4GP00R55B123456

	var v VehicleIdentificationNumber
	require.NoError(t, v.Load("01"+vinHex))
	assert.Equal(t, "1D4GP00R55B123456", v.VIN)

	require.NoError(t, v.Load("010000"+vinHex))
	assert.Equal(t, "1D4GP00R55B123456", v.VIN)
	assert.Equal(t, obd.ModeVehicleInformation, v.ModeOverride())
}

func TestSupported(t *testing.T) {
	var p PIDsSupported01To20
	require.NoError(t, p.Load("BE3FB813"))
	assert.Equal(t, "BE3FB813", p.String())
	assert.Contains(t, p.Supported(), 0x0C)
	assert.Contains(t, p.Supported(), 0x0D)
	assert.NotContains(t, p.Supported(), 0x02)
}

func TestCatalog(t *testing.T) {
	names := Names()
	assert.Len(t, names, 16)
	assert.IsIncreasing(t, names)

	e, err := Lookup("rpm")
	require.NoError(t, err)
	assert.Equal(t, "rpm", e.Name)
	assert.IsType(t, &EngineRPM{}, e.New())

	_, err = Lookup("boost")
	assert.Error(t, err)

	r := obd.NewResolver(nil)
	for _, f := range Factories() {
		_, err := r.Register(f)
		require.NoError(t, err)
	}
	assert.Equal(t, 16, r.Len())
	assert.True(t, r.IsOverrideMode(obd.ModeVehicleInformation))

	// No two catalog types share a mode 01 PID.
	seen := map[int]string{}
	for _, n := range names {
		d := catalog[n].New()
		if _, ok := d.(obd.ModeOverrider); ok {
			continue
		}
		prev, dup := seen[d.PID()]
		assert.False(t, dup, "%s and %s share PID %02X", prev, n, d.PID())
		seen[d.PID()] = n
	}
}
