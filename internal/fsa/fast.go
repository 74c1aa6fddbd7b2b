package fsa

import (
	"context"
	"fmt"
)

// fastSend encodes and transmits a fire-and-forget frame.
func (c *Client) fastSend(addr string, op Opcode, values ...float64) error {
	frame, err := c.codec.Encode(op, values...)
	if err != nil {
		return err
	}
	return c.post(addr, PortFast, frame)
}

// FastEnable switches the servo on (0x01).
func (c *Client) FastEnable(addr string) error {
	return c.fastSend(addr, OpEnable)
}

// FastDisable switches the servo off (0x02).
func (c *Client) FastDisable(addr string) error {
	return c.fastSend(addr, OpDisable)
}

// FastClearFault clears latched faults (0x03).
func (c *Client) FastClearFault(addr string) error {
	return c.fastSend(addr, OpClearFault)
}

// FastSetMode selects position, velocity, torque or current mode (0x04-0x07).
func (c *Client) FastSetMode(addr string, mode Mode) error {
	op, err := ModeOpcode(mode)
	if err != nil {
		return err
	}
	if err := c.fastSend(addr, op); err != nil {
		return err
	}
	if ep := c.registry.lookup(addr); ep != nil {
		ep.setCommandMode(mode)
	}
	return nil
}

// FastPositionControl sends a position setpoint (0x0A).
func (c *Client) FastPositionControl(addr string, position, velocityFF, currentFF float64) error {
	return c.fastSend(addr, OpPositionControl, position, velocityFF, currentFF)
}

// FastVelocityControl sends a velocity setpoint (0x0B).
func (c *Client) FastVelocityControl(addr string, velocity, currentFF float64) error {
	return c.fastSend(addr, OpVelocityControl, velocity, currentFF)
}

// FastTorqueControl sends a torque setpoint (0x0C).
func (c *Client) FastTorqueControl(addr string, torque float64) error {
	return c.fastSend(addr, OpTorqueControl, torque)
}

// FastCurrentControl sends a current setpoint (0x0D).
func (c *Client) FastCurrentControl(addr string, current float64) error {
	return c.fastSend(addr, OpCurrentControl, current)
}

// FastGetPVC queries position, velocity and current over the binary
// protocol (0x1A).
func (c *Client) FastGetPVC(ctx context.Context, addr string) (PVC, error) {
	d, err := c.fastQuery(ctx, addr, OpGetPVC)
	if err != nil {
		return PVC{}, err
	}
	pvc, err := c.codec.DecodePVC(d.Data)
	if err != nil {
		c.logFailure(addr, OpGetPVC.String(), err)
		return PVC{}, fmt.Errorf("%s %s: %w", addr, OpGetPVC, err)
	}
	if ep := c.registry.lookup(addr); ep != nil {
		ep.applyPVC(pvc, d.At)
	}
	return pvc, nil
}

// FastGetError queries the fault bitmask over the binary protocol (0x1B).
func (c *Client) FastGetError(ctx context.Context, addr string) (ErrorReport, error) {
	d, err := c.fastQuery(ctx, addr, OpGetError)
	if err != nil {
		return ErrorReport{}, err
	}
	code, err := c.codec.DecodeError(d.Data)
	if err != nil {
		c.logFailure(addr, OpGetError.String(), err)
		return ErrorReport{}, fmt.Errorf("%s %s: %w", addr, OpGetError, err)
	}
	if ep := c.registry.lookup(addr); ep != nil {
		ep.applyFault(code, d.At)
	}
	report := newErrorReport(code)
	c.logFaults(addr, report)
	return report, nil
}

func (c *Client) fastQuery(ctx context.Context, addr string, op Opcode) (Datagram, error) {
	frame, err := c.codec.Encode(op)
	if err != nil {
		return Datagram{}, err
	}
	d, err := c.exchange(ctx, addr, PortFast, frame)
	if err != nil {
		c.logFailure(addr, op.String(), err)
		return Datagram{}, fmt.Errorf("%s %s: %w", addr, op, err)
	}
	return d, nil
}
