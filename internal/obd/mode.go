package obd

import "fmt"

// Mode is an OBD-II diagnostic service selector. Replies echo mode + 0x40.
// The zero value means "no override": use the device's default mode.
type Mode byte

const (
	ModeNone                   Mode = 0x00
	ModeShowCurrentData        Mode = 0x01
	ModeFreezeFrame            Mode = 0x02
	ModeDiagnosticTroubleCodes Mode = 0x03
	ModeClearTroubleCodes      Mode = 0x04
	ModeOxygenSensorTest       Mode = 0x05
	ModeOnboardMonitoringTest  Mode = 0x06
	ModePendingTroubleCodes    Mode = 0x07
	ModeControlOperation       Mode = 0x08
	ModeVehicleInformation     Mode = 0x09
	ModePermanentTroubleCodes  Mode = 0x0A
)

// responseOffset is added by the ECU to the request mode in every reply.
const responseOffset = 0x40

func (m Mode) String() string { return fmt.Sprintf("%02X", byte(m)) }

// ATCommand is one entry of the adapter's AT vocabulary.
type ATCommand struct {
	Command     string
	Description string
}

var (
	ATResetDevice     = ATCommand{"ATZ", "Resetting device"}
	ATEchoOff         = ATCommand{"ATE0", "Turning echo off"}
	ATLinefeedsOff    = ATCommand{"ATL0", "Turning linefeeds off"}
	ATHeadersOff      = ATCommand{"ATH0", "Turning headers off"}
	ATPrintSpacesOff  = ATCommand{"ATS0", "Turning spaces off"}
	ATSetProtocolAuto = ATCommand{"ATSP0", "Setting the protocol to 'auto'"}
	ATCloseProtocol   = ATCommand{"ATPC", "Closing protocol"}
	ATSetHeader       = ATCommand{"ATSH", "Setting header"}
	ATReadVoltage     = ATCommand{"ATRV", "Reading battery voltage"}
	ATDescribeProtoNo = ATCommand{"ATDPN", "Describing protocol by number"}
	ATIdentify        = ATCommand{"ATI", "Identifying adapter"}
)

// initSequence is sent, in order, by Device.Initialize.
var initSequence = []ATCommand{
	ATResetDevice,
	ATEchoOff,
	ATLinefeedsOff,
	ATHeadersOff,
	ATPrintSpacesOff,
	ATSetProtocolAuto,
}

// BusErrorSentinel is the adapter's CAN bus error reply, matched case-insensitively.
const BusErrorSentinel = "CAN ERROR"

// FormatPIDCommand builds the on-wire request for pid under mode:
// uppercase hex, at least two zero-padded digits each, no separator.
func FormatPIDCommand(mode Mode, pid int) string {
	return fmt.Sprintf("%02X%02X", byte(mode), pid)
}
