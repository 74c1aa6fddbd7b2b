package fsa

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Opcode is the first byte of a fast-protocol frame.
type Opcode byte

// Fast-protocol opcodes.
const (
	OpEnable       Opcode = 0x01
	OpDisable      Opcode = 0x02
	OpClearFault   Opcode = 0x03
	OpModePosition Opcode = 0x04
	OpModeVelocity Opcode = 0x05
	OpModeTorque   Opcode = 0x06
	OpModeCurrent  Opcode = 0x07

	// Setpoints. Payload is big-endian float32 by default.
	OpPositionControl Opcode = 0x0A // position, velocity_ff, current_ff
	OpVelocityControl Opcode = 0x0B // velocity, current_ff
	OpTorqueControl   Opcode = 0x0C // torque
	OpCurrentControl  Opcode = 0x0D // current

	// Queries. The reply echoes the opcode as its first byte.
	OpGetPVC   Opcode = 0x1A // reply: f32 position, f32 velocity, f32 current
	OpGetError Opcode = 0x1B // reply: u32 error bitmask
)

// Reply frame sizes (echo byte included).
const (
	pvcFrameSize   = 1 + 3*4
	errorFrameSize = 1 + 4
)

// opcodeArity is the number of float32 values each outgoing frame carries.
var opcodeArity = map[Opcode]int{
	OpEnable:          0,
	OpDisable:         0,
	OpClearFault:      0,
	OpModePosition:    0,
	OpModeVelocity:    0,
	OpModeTorque:      0,
	OpModeCurrent:     0,
	OpPositionControl: 3,
	OpVelocityControl: 2,
	OpTorqueControl:   1,
	OpCurrentControl:  1,
	OpGetPVC:          0,
	OpGetError:        0,
}

// String returns the opcode as a hex literal.
func (o Opcode) String() string {
	return fmt.Sprintf("0x%02X", byte(o))
}

// ModeOpcode returns the mode-select opcode for m.
func ModeOpcode(m Mode) (Opcode, error) {
	switch m {
	case ModePosition:
		return OpModePosition, nil
	case ModeVelocity:
		return OpModeVelocity, nil
	case ModeTorque:
		return OpModeTorque, nil
	case ModeCurrent:
		return OpModeCurrent, nil
	default:
		return 0, fmt.Errorf("%w: %s has no fast opcode", ErrUnsupportedMode, m)
	}
}

// FrameCodec encodes and decodes fast-protocol frames.
//
// Byte order is chosen per opcode. Every opcode is big-endian unless
// overridden, which lets a deployment match firmware that reads a specific
// frame in little-endian order.
//
// A FrameCodec is immutable after construction and safe for concurrent use.
type FrameCodec struct {
	orders map[Opcode]binary.ByteOrder
}

// NewFrameCodec builds a codec with optional per-opcode byte order overrides.
func NewFrameCodec(overrides map[Opcode]binary.ByteOrder) *FrameCodec {
	orders := make(map[Opcode]binary.ByteOrder, len(overrides))
	for op, order := range overrides {
		orders[op] = order
	}
	return &FrameCodec{orders: orders}
}

// ByteOrder returns the byte order used for op.
func (c *FrameCodec) ByteOrder(op Opcode) binary.ByteOrder {
	if c != nil {
		if order, ok := c.orders[op]; ok {
			return order
		}
	}
	return binary.BigEndian
}

// Encode builds a frame for op carrying values as float32.
//
// Parameters:
//   - op: Outgoing opcode; its arity fixes how many values it carries
//   - values: Setpoint values in wire order (for 0x0A: position, velocity_ff, current_ff)
//
// Returns:
//   - []byte: The opcode byte followed by one float32 per value in op's byte order
//   - error: ErrInvalidFrame for an unknown opcode or a wrong value count
func (c *FrameCodec) Encode(op Opcode, values ...float64) ([]byte, error) {
	arity, ok := opcodeArity[op]
	if !ok {
		return nil, fmt.Errorf("%w: unknown opcode %s", ErrInvalidFrame, op)
	}
	if len(values) != arity {
		return nil, fmt.Errorf("%w: opcode %s takes %d values, got %d", ErrInvalidFrame, op, arity, len(values))
	}

	order := c.ByteOrder(op)
	buf := make([]byte, 1+4*arity)
	buf[0] = byte(op)
	for i, v := range values {
		order.PutUint32(buf[1+4*i:], math.Float32bits(float32(v)))
	}
	return buf, nil
}

// Decode parses an outgoing frame as produced by Encode. It is the inverse
// of Encode up to float32 precision.
//
// Parameters:
//   - data: The complete frame, opcode byte first
//
// Returns:
//   - Opcode: The frame's opcode
//   - []float64: The carried values in wire order, empty for zero-arity opcodes
//   - error: ErrMalformed for an unknown opcode or a length that does not match its arity
func (c *FrameCodec) Decode(data []byte) (Opcode, []float64, error) {
	if len(data) == 0 {
		return 0, nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	op := Opcode(data[0])
	arity, ok := opcodeArity[op]
	if !ok {
		return 0, nil, fmt.Errorf("%w: unknown opcode %s", ErrMalformed, op)
	}
	if want := 1 + 4*arity; len(data) != want {
		return 0, nil, fmt.Errorf("%w: opcode %s frame is %d bytes, want %d", ErrMalformed, op, len(data), want)
	}

	order := c.ByteOrder(op)
	values := make([]float64, arity)
	for i := range values {
		values[i] = float64(math.Float32frombits(order.Uint32(data[1+4*i:])))
	}
	return op, values, nil
}

// DecodePVC parses a 0x1A telemetry reply.
func (c *FrameCodec) DecodePVC(data []byte) (PVC, error) {
	if len(data) < pvcFrameSize {
		return PVC{}, fmt.Errorf("%w: telemetry frame is %d bytes, want %d", ErrMalformed, len(data), pvcFrameSize)
	}
	if Opcode(data[0]) != OpGetPVC {
		return PVC{}, fmt.Errorf("%w: telemetry frame echoes opcode %s", ErrMalformed, Opcode(data[0]))
	}

	order := c.ByteOrder(OpGetPVC)
	return PVC{
		Position: float64(math.Float32frombits(order.Uint32(data[1:5]))),
		Velocity: float64(math.Float32frombits(order.Uint32(data[5:9]))),
		Current:  float64(math.Float32frombits(order.Uint32(data[9:13]))),
	}, nil
}

// DecodeError parses a 0x1B error reply.
func (c *FrameCodec) DecodeError(data []byte) (FaultCode, error) {
	if len(data) < errorFrameSize {
		return 0, fmt.Errorf("%w: error frame is %d bytes, want %d", ErrMalformed, len(data), errorFrameSize)
	}
	if Opcode(data[0]) != OpGetError {
		return 0, fmt.Errorf("%w: error frame echoes opcode %s", ErrMalformed, Opcode(data[0]))
	}

	order := c.ByteOrder(OpGetError)
	return FaultCode(order.Uint32(data[1:5])), nil
}

// ParseByteOrder converts "big" or "little" into a binary.ByteOrder.
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "big", "big-endian", "be":
		return binary.BigEndian, nil
	case "little", "little-endian", "le":
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q", s)
	}
}

// OpcodeByName resolves a setpoint or query name used in configuration.
func OpcodeByName(name string) (Opcode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "position", "position_control":
		return OpPositionControl, nil
	case "velocity", "velocity_control":
		return OpVelocityControl, nil
	case "torque", "torque_control":
		return OpTorqueControl, nil
	case "current", "current_control":
		return OpCurrentControl, nil
	case "pvc", "get_pvc":
		return OpGetPVC, nil
	case "error", "get_error":
		return OpGetError, nil
	default:
		return 0, fmt.Errorf("%w: unknown opcode name %q", ErrInvalidFrame, name)
	}
}
