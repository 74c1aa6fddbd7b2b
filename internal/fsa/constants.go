package fsa

import (
	"fmt"
	"math"
	"time"
)

// Protocol ports. These are fixed by the actuator firmware.
const (
	PortControl = 2333
	PortComm    = 2334
	PortFast    = 2335
)

// Network defaults.
const (
	// DefaultBroadcastAddress is the broadcast address of the robot LAN.
	DefaultBroadcastAddress = "192.168.137.255"

	// DefaultTimeout bounds every single receive of a blocking exchange.
	DefaultTimeout = 10 * time.Millisecond

	// DefaultLossThreshold is how long an endpoint may stay silent before it
	// is reported as lost.
	DefaultLossThreshold = time.Second

	// maxDatagramSize is the receive buffer size. Actuator replies fit well
	// inside it.
	maxDatagramSize = 1024
)

// ControlWord values written to /control_word.
type ControlWord int

const (
	ControlWordServoOff         ControlWord = 0x06
	ControlWordServoOn          ControlWord = 0x0F
	ControlWordClearFault       ControlWord = 0x86
	ControlWordCalibrateEncoder ControlWord = 0xA3
)

// Mode is the active control law of an actuator (mode_of_operation).
type Mode int

const (
	ModeNone     Mode = 0
	ModePosition Mode = 1
	ModeVelocity Mode = 3
	ModeCurrent  Mode = 4
	ModeTorque   Mode = 5
)

// String returns the lower-case mode name.
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModePosition:
		return "position"
	case ModeVelocity:
		return "velocity"
	case ModeCurrent:
		return "current"
	case ModeTorque:
		return "torque"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "none":
		return ModeNone, nil
	case "position":
		return ModePosition, nil
	case "velocity":
		return ModeVelocity, nil
	case "current":
		return ModeCurrent, nil
	case "torque":
		return ModeTorque, nil
	default:
		return ModeNone, fmt.Errorf("%w: %q", ErrUnsupportedMode, s)
	}
}

// Device types reported in discovery replies.
const (
	TypeActuator   = "Actuator"
	TypeAbsEncoder = "AbsEncoder"
	TypeCtrlBox    = "CtrlBox"
)

// faultNames maps bit positions of the error_code bitmask to fault names.
var faultNames = []string{
	"overvoltage",
	"undervoltage",
	"overcurrent",
	"motor_overtemperature",
	"driver_overtemperature",
	"encoder_fault",
	"phase_loss",
	"position_limit",
	"velocity_limit",
	"current_limit",
	"communication_lost",
	"calibration_fault",
	"hardware_fault",
}

// FaultCode is the error_code bitmask reported by an actuator.
type FaultCode uint32

// faultCodeOf accepts the bitmask in either its signed or its unsigned
// 32-bit JSON form, so a mask with bit 31 set decodes either way.
func faultCodeOf(v int64) (FaultCode, error) {
	if v < math.MinInt32 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: error_code %d does not fit 32 bits", ErrMalformed, v)
	}
	return FaultCode(uint32(v)), nil //nolint:gosec // range checked above
}

// Faults returns the names of every fault bit set in f, lowest bit first.
// Bits beyond the known enumeration are reported as "fault_bit_N".
func (f FaultCode) Faults() []string {
	var names []string
	for bit := 0; bit < 32; bit++ {
		if f&(1<<bit) == 0 {
			continue
		}
		if bit < len(faultNames) {
			names = append(names, faultNames[bit])
		} else {
			names = append(names, fmt.Sprintf("fault_bit_%d", bit))
		}
	}
	return names
}

// HasFault reports whether any fault bit is set.
func (f FaultCode) HasFault() bool {
	return f != 0
}
