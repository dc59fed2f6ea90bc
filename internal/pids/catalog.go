package pids

import (
	"context"
	"fmt"
	"sort"

	"github.com/shaunagostinho/goobd/internal/obd"
)

// Entry describes one catalog payload type by its config name.
type Entry struct {
	Name  string
	New   func() obd.Data
	Query func(ctx context.Context, d *obd.Device) (Reading, error)
}

func entry[T any, PT interface {
	*T
	Reading
}]() Entry {
	var sample PT = new(T)
	return Entry{
		Name: sample.Name(),
		New:  func() obd.Data { return PT(new(T)) },
		Query: func(ctx context.Context, d *obd.Device) (Reading, error) {
			v, err := obd.Query[T, PT](ctx, d)
			if err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}

var catalog = func() map[string]Entry {
	m := make(map[string]Entry)
	for _, e := range []Entry{
		entry[PIDsSupported01To20](),
		entry[CalculatedEngineLoad](),
		entry[EngineCoolantTemperature](),
		entry[IntakeManifoldAbsolutePressure](),
		entry[EngineRPM](),
		entry[VehicleSpeed](),
		entry[TimingAdvance](),
		entry[IntakeAirTemperature](),
		entry[MassAirFlow](),
		entry[ThrottlePosition](),
		entry[RunTimeSinceEngineStart](),
		entry[FuelTankLevelInput](),
		entry[ControlModuleVoltage](),
		entry[AmbientAirTemperature](),
		entry[FuelType](),
		entry[VehicleIdentificationNumber](),
	} {
		m[e.Name] = e
	}
	return m
}()

// Lookup returns the catalog entry for a config name such as "rpm".
func Lookup(name string) (Entry, error) {
	e, ok := catalog[name]
	if !ok {
		return Entry{}, fmt.Errorf("pids: unknown parameter %q", name)
	}
	return e, nil
}

// Names returns all catalog names, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for n := range catalog {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Factories returns a constructor for every catalog type, for
// obd.Device.InitializePIDCache.
func Factories() []func() obd.Data {
	out := make([]func() obd.Data, 0, len(catalog))
	for _, n := range Names() {
		out = append(out, catalog[n].New)
	}
	return out
}
