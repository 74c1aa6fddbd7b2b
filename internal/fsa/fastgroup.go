package fsa

import (
	"context"
	"fmt"
	"time"
)

// fastSendGroup encodes one frame per Active endpoint and sends (or queues)
// it. Fast setpoints have no reply: a slot succeeds once its frame is out.
func (g *Coordinator) fastSendGroup(name string, addrs []string, frame func(i int) (Opcode, []float64)) ([]Slot[Ack], error) {
	parts, err := g.registry.participants(addrs)
	if err != nil {
		return nil, err
	}

	out := make([]outgoing, len(parts))
	for i, p := range parts {
		op, values := frame(p.index)
		payload, err := g.codec.Encode(op, values...)
		out[i] = outgoing{part: p, payload: payload, err: err}
	}

	in, _ := g.exchangeGroup(context.Background(), name, PortFast, out, false)

	slots := make([]Slot[Ack], len(parts))
	for i, p := range parts {
		err := in[i].err
		if err != nil {
			err = fmt.Errorf("%s %s: %w", p.ep.addr, name, err)
		}
		slots[i] = slotFor(p.ep.addr, Ack{}, err)
	}
	return slots, nil
}

func fixedFrame(op Opcode) func(int) (Opcode, []float64) {
	return func(int) (Opcode, []float64) { return op, nil }
}

// FastEnableGroup sends 0x01 to every Active endpoint in addrs.
func (g *Coordinator) FastEnableGroup(addrs []string) ([]Slot[Ack], error) {
	return g.fastSendGroup("fast_enable", addrs, fixedFrame(OpEnable))
}

// FastDisableGroup sends 0x02 to every Active endpoint in addrs.
func (g *Coordinator) FastDisableGroup(addrs []string) ([]Slot[Ack], error) {
	return g.fastSendGroup("fast_disable", addrs, fixedFrame(OpDisable))
}

// FastClearFaultGroup sends 0x03 to every Active endpoint in addrs.
func (g *Coordinator) FastClearFaultGroup(addrs []string) ([]Slot[Ack], error) {
	return g.fastSendGroup("fast_clear_fault", addrs, fixedFrame(OpClearFault))
}

// FastSetModeGroup selects a control law per endpoint. Modes without a fast
// opcode fail validation before anything is sent.
func (g *Coordinator) FastSetModeGroup(addrs []string, modes []Mode) ([]Slot[Ack], error) {
	if err := checkLen(addrs, len(modes)); err != nil {
		return nil, err
	}
	ops := make([]Opcode, len(modes))
	for i, m := range modes {
		op, err := ModeOpcode(m)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}

	slots, err := g.fastSendGroup("fast_set_mode", addrs, func(i int) (Opcode, []float64) {
		return ops[i], nil
	})
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(addrs))
	for i, a := range addrs {
		index[a] = i
	}
	for _, s := range slots {
		if s.Result != Success {
			continue
		}
		if ep := g.registry.lookup(s.Address); ep != nil {
			ep.setCommandMode(modes[index[s.Address]])
		}
	}
	return slots, nil
}

// FastPositionControlGroup sends 0x0A position setpoints.
func (g *Coordinator) FastPositionControlGroup(addrs []string, positions, velocityFFs, currentFFs []float64) ([]Slot[Ack], error) {
	if err := checkLen(addrs, len(positions), len(velocityFFs), len(currentFFs)); err != nil {
		return nil, err
	}
	return g.fastSendGroup("fast_position_control", addrs, func(i int) (Opcode, []float64) {
		return OpPositionControl, []float64{positions[i], velocityFFs[i], currentFFs[i]}
	})
}

// FastVelocityControlGroup sends 0x0B velocity setpoints.
func (g *Coordinator) FastVelocityControlGroup(addrs []string, velocities, currentFFs []float64) ([]Slot[Ack], error) {
	if err := checkLen(addrs, len(velocities), len(currentFFs)); err != nil {
		return nil, err
	}
	return g.fastSendGroup("fast_velocity_control", addrs, func(i int) (Opcode, []float64) {
		return OpVelocityControl, []float64{velocities[i], currentFFs[i]}
	})
}

// FastTorqueControlGroup sends 0x0C torque setpoints.
func (g *Coordinator) FastTorqueControlGroup(addrs []string, torques []float64) ([]Slot[Ack], error) {
	if err := checkLen(addrs, len(torques)); err != nil {
		return nil, err
	}
	return g.fastSendGroup("fast_torque_control", addrs, func(i int) (Opcode, []float64) {
		return OpTorqueControl, []float64{torques[i]}
	})
}

// FastCurrentControlGroup sends 0x0D current setpoints.
func (g *Coordinator) FastCurrentControlGroup(addrs []string, currents []float64) ([]Slot[Ack], error) {
	if err := checkLen(addrs, len(currents)); err != nil {
		return nil, err
	}
	return g.fastSendGroup("fast_current_control", addrs, func(i int) (Opcode, []float64) {
		return OpCurrentControl, []float64{currents[i]}
	})
}

// fastQueryGroup broadcasts a query opcode and decodes each attributed reply.
// A silent endpoint keeps the zero value and a Timeout result.
func fastQueryGroup[T any](ctx context.Context, g *Coordinator, name string, addrs []string, op Opcode,
	decode func([]byte) (T, error), apply func(*Endpoint, T, time.Time), cached func(*Endpoint) T,
) ([]Slot[T], error) {
	parts, err := g.registry.participants(addrs)
	if err != nil {
		return nil, err
	}

	frame, err := g.codec.Encode(op)
	if err != nil {
		return nil, err
	}
	out := make([]outgoing, len(parts))
	for i, p := range parts {
		out[i] = outgoing{part: p, payload: frame}
	}

	in, fromCache := g.exchangeGroup(ctx, name, PortFast, out, true)

	slots := make([]Slot[T], len(parts))
	for i, p := range parts {
		ep := p.ep
		var zero T
		switch {
		case in[i].err != nil:
			slots[i] = slotFor(ep.addr, zero, fmt.Errorf("%s %s: %w", ep.addr, name, in[i].err))
		case fromCache:
			slots[i] = slotFor(ep.addr, cached(ep), nil)
		default:
			v, err := decode(in[i].data.Data)
			if err != nil {
				g.log.get().Error("group reply rejected", "op", name, "address", ep.addr, "error", err)
				slots[i] = slotFor(ep.addr, zero, fmt.Errorf("%s %s: %w", ep.addr, name, err))
				continue
			}
			apply(ep, v, in[i].data.At)
			slots[i] = slotFor(ep.addr, v, nil)
		}
	}
	return slots, nil
}

// FastGetPVCGroup queries position, velocity and current (0x1A) of every
// Active endpoint in addrs.
func (g *Coordinator) FastGetPVCGroup(ctx context.Context, addrs []string) ([]Slot[PVC], error) {
	return fastQueryGroup(ctx, g, "fast_get_pvc", addrs, OpGetPVC,
		g.codec.DecodePVC,
		func(ep *Endpoint, v PVC, at time.Time) { ep.applyPVC(v, at) },
		cachedPVC,
	)
}

// FastGetErrorGroup queries the fault bitmask (0x1B) of every Active
// endpoint in addrs.
func (g *Coordinator) FastGetErrorGroup(ctx context.Context, addrs []string) ([]Slot[ErrorReport], error) {
	return fastQueryGroup(ctx, g, "fast_get_error", addrs, OpGetError,
		func(data []byte) (ErrorReport, error) {
			code, err := g.codec.DecodeError(data)
			if err != nil {
				return ErrorReport{}, err
			}
			return newErrorReport(code), nil
		},
		func(ep *Endpoint, v ErrorReport, at time.Time) { ep.applyFault(v.Code, at) },
		func(ep *Endpoint) ErrorReport { return newErrorReport(ep.ErrorCode()) },
	)
}
