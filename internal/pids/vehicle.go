package pids

import (
	"strings"

	"github.com/shaunagostinho/goobd/internal/obd"
)

// VehicleIdentificationNumber is mode 09 PID 0x02. The adapter usually
// splits the reply over "0:"/"1:" lines. The first payload byte is the
// item count, followed by the 17 ASCII characters.
type VehicleIdentificationNumber struct {
	VIN string
}

func (*VehicleIdentificationNumber) PID() int               { return 0x02 }
func (*VehicleIdentificationNumber) ModeOverride() obd.Mode { return obd.ModeVehicleInformation }
func (*VehicleIdentificationNumber) Name() string           { return "vin" }
func (*VehicleIdentificationNumber) Unit() string           { return "" }
func (v *VehicleIdentificationNumber) Value() any           { return v.VIN }
func (v *VehicleIdentificationNumber) String() string       { return v.VIN }

func (v *VehicleIdentificationNumber) Load(payload string) error {
	b, err := decodeBytes(payload, 2)
	if err != nil {
		return err
	}
	// Drop the count byte and any NUL padding some ECUs prepend.
	v.VIN = strings.TrimLeft(string(b[1:]), "\x00")
	return nil
}
