package pids

import (
	"fmt"
)

// PIDsSupported01To20 is the bitmask of mode 01 PIDs 0x01-0x20 the ECU answers.
type PIDsSupported01To20 struct {
	Mask uint32
}

func (*PIDsSupported01To20) PID() int         { return 0x00 }
func (*PIDsSupported01To20) Name() string     { return "supported" }
func (*PIDsSupported01To20) Unit() string     { return "" }
func (p *PIDsSupported01To20) Value() any     { return p.Supported() }
func (p *PIDsSupported01To20) String() string { return fmt.Sprintf("%08X", p.Mask) }

func (p *PIDsSupported01To20) Load(payload string) error {
	b, err := decodeBytes(payload, 4)
	if err != nil {
		return err
	}
	p.Mask = uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return nil
}

// Supported returns the flagged PIDs; the most significant bit is PID 0x01.
func (p *PIDsSupported01To20) Supported() []int {
	var out []int
	for i := 0; i < 32; i++ {
		if p.Mask&(1<<(31-i)) != 0 {
			out = append(out, i+1)
		}
	}
	return out
}

// CalculatedEngineLoad is PID 0x04.
type CalculatedEngineLoad struct {
	Percent float64
}

func (*CalculatedEngineLoad) PID() int         { return 0x04 }
func (*CalculatedEngineLoad) Name() string     { return "load" }
func (*CalculatedEngineLoad) Unit() string     { return "%" }
func (c *CalculatedEngineLoad) Value() any     { return c.Percent }
func (c *CalculatedEngineLoad) String() string { return fmt.Sprintf("%.1f %%", c.Percent) }

func (c *CalculatedEngineLoad) Load(payload string) error {
	b, err := decodeBytes(payload, 1)
	if err != nil {
		return err
	}
	c.Percent = percent(b[0])
	return nil
}

// EngineCoolantTemperature is PID 0x05, A-40 °C.
type EngineCoolantTemperature struct {
	Celsius int
}

func (*EngineCoolantTemperature) PID() int         { return 0x05 }
func (*EngineCoolantTemperature) Name() string     { return "coolant" }
func (*EngineCoolantTemperature) Unit() string     { return "C" }
func (t *EngineCoolantTemperature) Value() any     { return t.Celsius }
func (t *EngineCoolantTemperature) String() string { return fmt.Sprintf("%d °C", t.Celsius) }

func (t *EngineCoolantTemperature) Load(payload string) error {
	b, err := decodeBytes(payload, 1)
	if err != nil {
		return err
	}
	t.Celsius = int(b[0]) - 40
	return nil
}

// IntakeManifoldAbsolutePressure is PID 0x0B, in kPa.
type IntakeManifoldAbsolutePressure struct {
	KPa int
}

func (*IntakeManifoldAbsolutePressure) PID() int         { return 0x0B }
func (*IntakeManifoldAbsolutePressure) Name() string     { return "map" }
func (*IntakeManifoldAbsolutePressure) Unit() string     { return "kPa" }
func (m *IntakeManifoldAbsolutePressure) Value() any     { return m.KPa }
func (m *IntakeManifoldAbsolutePressure) String() string { return fmt.Sprintf("%d kPa", m.KPa) }

func (m *IntakeManifoldAbsolutePressure) Load(payload string) error {
	b, err := decodeBytes(payload, 1)
	if err != nil {
		return err
	}
	m.KPa = int(b[0])
	return nil
}

// EngineRPM is PID 0x0C, (256A+B)/4.
type EngineRPM struct {
	RPM int
}

func (*EngineRPM) PID() int         { return 0x0C }
func (*EngineRPM) Name() string     { return "rpm" }
func (*EngineRPM) Unit() string     { return "rpm" }
func (r *EngineRPM) Value() any     { return r.RPM }
func (r *EngineRPM) String() string { return fmt.Sprintf("%d rpm", r.RPM) }

func (r *EngineRPM) Load(payload string) error {
	b, err := decodeBytes(payload, 2)
	if err != nil {
		return err
	}
	r.RPM = word(b) / 4
	return nil
}

// VehicleSpeed is PID 0x0D, in km/h.
type VehicleSpeed struct {
	KPH int
}

func (*VehicleSpeed) PID() int         { return 0x0D }
func (*VehicleSpeed) Name() string     { return "speed" }
func (*VehicleSpeed) Unit() string     { return "km/h" }
func (s *VehicleSpeed) Value() any     { return s.KPH }
func (s *VehicleSpeed) String() string { return fmt.Sprintf("%d km/h", s.KPH) }

func (s *VehicleSpeed) Load(payload string) error {
	b, err := decodeBytes(payload, 1)
	if err != nil {
		return err
	}
	s.KPH = int(b[0])
	return nil
}

// TimingAdvance is PID 0x0E, A/2-64 degrees before TDC.
type TimingAdvance struct {
	Degrees float64
}

func (*TimingAdvance) PID() int         { return 0x0E }
func (*TimingAdvance) Name() string     { return "advance" }
func (*TimingAdvance) Unit() string     { return "deg" }
func (a *TimingAdvance) Value() any     { return a.Degrees }
func (a *TimingAdvance) String() string { return fmt.Sprintf("%.1f°", a.Degrees) }

func (a *TimingAdvance) Load(payload string) error {
	b, err := decodeBytes(payload, 1)
	if err != nil {
		return err
	}
	a.Degrees = float64(b[0])/2 - 64
	return nil
}

// IntakeAirTemperature is PID 0x0F, A-40 °C.
type IntakeAirTemperature struct {
	Celsius int
}

func (*IntakeAirTemperature) PID() int         { return 0x0F }
func (*IntakeAirTemperature) Name() string     { return "iat" }
func (*IntakeAirTemperature) Unit() string     { return "C" }
func (t *IntakeAirTemperature) Value() any     { return t.Celsius }
func (t *IntakeAirTemperature) String() string { return fmt.Sprintf("%d °C", t.Celsius) }

func (t *IntakeAirTemperature) Load(payload string) error {
	b, err := decodeBytes(payload, 1)
	if err != nil {
		return err
	}
	t.Celsius = int(b[0]) - 40
	return nil
}

// MassAirFlow is PID 0x10, (256A+B)/100 g/s.
type MassAirFlow struct {
	GramsPerSec float64
}

func (*MassAirFlow) PID() int         { return 0x10 }
func (*MassAirFlow) Name() string     { return "maf" }
func (*MassAirFlow) Unit() string     { return "g/s" }
func (m *MassAirFlow) Value() any     { return m.GramsPerSec }
func (m *MassAirFlow) String() string { return fmt.Sprintf("%.2f g/s", m.GramsPerSec) }

func (m *MassAirFlow) Load(payload string) error {
	b, err := decodeBytes(payload, 2)
	if err != nil {
		return err
	}
	m.GramsPerSec = float64(word(b)) / 100
	return nil
}

// ThrottlePosition is PID 0x11.
type ThrottlePosition struct {
	Percent float64
}

func (*ThrottlePosition) PID() int         { return 0x11 }
func (*ThrottlePosition) Name() string     { return "tps" }
func (*ThrottlePosition) Unit() string     { return "%" }
func (t *ThrottlePosition) Value() any     { return t.Percent }
func (t *ThrottlePosition) String() string { return fmt.Sprintf("%.1f %%", t.Percent) }

func (t *ThrottlePosition) Load(payload string) error {
	b, err := decodeBytes(payload, 1)
	if err != nil {
		return err
	}
	t.Percent = percent(b[0])
	return nil
}

// RunTimeSinceEngineStart is PID 0x1F, in seconds.
type RunTimeSinceEngineStart struct {
	Seconds int
}

func (*RunTimeSinceEngineStart) PID() int         { return 0x1F }
func (*RunTimeSinceEngineStart) Name() string     { return "runtime" }
func (*RunTimeSinceEngineStart) Unit() string     { return "s" }
func (r *RunTimeSinceEngineStart) Value() any     { return r.Seconds }
func (r *RunTimeSinceEngineStart) String() string { return fmt.Sprintf("%d s", r.Seconds) }

func (r *RunTimeSinceEngineStart) Load(payload string) error {
	b, err := decodeBytes(payload, 2)
	if err != nil {
		return err
	}
	r.Seconds = word(b)
	return nil
}

// FuelTankLevelInput is PID 0x2F.
type FuelTankLevelInput struct {
	Percent float64
}

func (*FuelTankLevelInput) PID() int         { return 0x2F }
func (*FuelTankLevelInput) Name() string     { return "fuel" }
func (*FuelTankLevelInput) Unit() string     { return "%" }
func (f *FuelTankLevelInput) Value() any     { return f.Percent }
func (f *FuelTankLevelInput) String() string { return fmt.Sprintf("%.1f %%", f.Percent) }

func (f *FuelTankLevelInput) Load(payload string) error {
	b, err := decodeBytes(payload, 1)
	if err != nil {
		return err
	}
	f.Percent = percent(b[0])
	return nil
}

// ControlModuleVoltage is PID 0x42, (256A+B)/1000 V.
type ControlModuleVoltage struct {
	Volts float64
}

func (*ControlModuleVoltage) PID() int         { return 0x42 }
func (*ControlModuleVoltage) Name() string     { return "voltage" }
func (*ControlModuleVoltage) Unit() string     { return "V" }
func (v *ControlModuleVoltage) Value() any     { return v.Volts }
func (v *ControlModuleVoltage) String() string { return fmt.Sprintf("%.2f V", v.Volts) }

func (v *ControlModuleVoltage) Load(payload string) error {
	b, err := decodeBytes(payload, 2)
	if err != nil {
		return err
	}
	v.Volts = float64(word(b)) / 1000
	return nil
}

// AmbientAirTemperature is PID 0x46, A-40 °C.
type AmbientAirTemperature struct {
	Celsius int
}

func (*AmbientAirTemperature) PID() int         { return 0x46 }
func (*AmbientAirTemperature) Name() string     { return "ambient" }
func (*AmbientAirTemperature) Unit() string     { return "C" }
func (t *AmbientAirTemperature) Value() any     { return t.Celsius }
func (t *AmbientAirTemperature) String() string { return fmt.Sprintf("%d °C", t.Celsius) }

func (t *AmbientAirTemperature) Load(payload string) error {
	b, err := decodeBytes(payload, 1)
	if err != nil {
		return err
	}
	t.Celsius = int(b[0]) - 40
	return nil
}

var fuelTypes = []string{
	"Not available", "Gasoline", "Methanol", "Ethanol", "Diesel", "LPG", "CNG",
	"Propane", "Electric", "Bifuel running Gasoline", "Bifuel running Methanol",
	"Bifuel running Ethanol", "Bifuel running LPG", "Bifuel running CNG",
	"Bifuel running Propane", "Bifuel running Electricity",
	"Bifuel running electric and combustion engine", "Hybrid gasoline",
	"Hybrid Ethanol", "Hybrid Diesel", "Hybrid Electric",
	"Hybrid running electric and combustion engine", "Hybrid Regenerative",
	"Bifuel running diesel",
}

// FuelType is PID 0x51.
type FuelType struct {
	Code byte
}

func (*FuelType) PID() int     { return 0x51 }
func (*FuelType) Name() string { return "fueltype" }
func (*FuelType) Unit() string { return "" }
func (f *FuelType) Value() any { return f.String() }

func (f *FuelType) String() string {
	if int(f.Code) < len(fuelTypes) {
		return fuelTypes[f.Code]
	}
	return fmt.Sprintf("Unknown (%02X)", f.Code)
}

func (f *FuelType) Load(payload string) error {
	b, err := decodeBytes(payload, 1)
	if err != nil {
		return err
	}
	f.Code = b[0]
	return nil
}
