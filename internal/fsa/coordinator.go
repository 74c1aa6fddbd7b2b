package fsa

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Ack is the value of a group slot that carries no data beyond its Result.
type Ack struct{}

// Coordinator runs operations across many actuators at once.
//
// Without background loops, a group operation sends one request to every
// Active endpoint in the caller's order, then performs one receive per
// request sent and attributes each datagram to its slot by source address.
// Replies may arrive in any order. A datagram that cannot be attributed
// earns exactly one extra receive; if that also fails the datagram is
// abandoned and the slot is left to time out.
//
// With background loops, requests are queued for the send loop and results
// are read from the endpoint caches that the receive loop keeps current.
//
// Suspended endpoints get no request and no slot: the returned slice holds
// only the Active endpoints, in the caller's order.
type Coordinator struct {
	transport *Transport
	registry  *Registry
	codec     *FrameCodec
	sync      *Sync
	timeout   time.Duration

	log logSink
}

// NewCoordinator creates a Coordinator from cfg.
func NewCoordinator(cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		transport: cfg.Transport,
		registry:  cfg.Registry,
		codec:     cfg.Codec,
		sync:      cfg.Sync,
		timeout:   cfg.Timeout,
	}
}

// SetLogger sets the logger for per-slot failures.
func (g *Coordinator) SetLogger(logger Logger) {
	g.log.set(logger)
}

// outgoing is the request for one participating endpoint.
type outgoing struct {
	part    participant
	payload []byte
	err     error
}

// inbound is what came back for one participating endpoint.
type inbound struct {
	data    Datagram
	err     error
	pending bool
}

// exchangeGroup dispatches every request and, when collect is set and no
// receive loop is running, gathers the replies. fromCache reports that the
// receive loop owns the socket and results must come from the caches.
func (g *Coordinator) exchangeGroup(ctx context.Context, op string, port int, out []outgoing, collect bool) (in []inbound, fromCache bool) {
	in = make([]inbound, len(out))
	queued := g.sync.Sending()
	receive := collect && !g.sync.Receiving()

	run := func() error {
		expected := g.dispatch(op, port, out, in, queued)
		if receive && expected > 0 {
			g.collect(ctx, op, port, out, in, expected)
		}
		return nil
	}

	if receive {
		_ = g.transport.Exchange(run) //nolint:errcheck // run reports per slot
	} else {
		_ = run() //nolint:errcheck // run reports per slot
	}
	return in, collect && !receive
}

// dispatch sends or queues every request in order and returns how many
// went out.
func (g *Coordinator) dispatch(op string, port int, out []outgoing, in []inbound, queued bool) int {
	sent := 0
	for i, o := range out {
		ep := o.part.ep
		if o.err != nil {
			in[i].err = o.err
			continue
		}
		if queued {
			ep.enqueue(Frame{Port: port, Payload: o.payload})
		} else {
			if err := g.transport.Send(ep.addr, port, o.payload); err != nil {
				g.log.get().Error("group send failed", "op", op, "address", ep.addr, "error", err)
				in[i].err = err
				continue
			}
			ep.markSent(time.Now())
		}
		in[i].pending = true
		sent++
	}
	return sent
}

// collect performs expected receives and attributes each datagram to a
// pending slot by source address.
func (g *Coordinator) collect(ctx context.Context, op string, port int, out []outgoing, in []inbound, expected int) {
	index := make(map[string]int, len(out))
	for i, o := range out {
		if in[i].pending {
			index[o.part.ep.addr] = i
		}
	}

	logger := g.log.get()
	var abort error
	filled := 0

	for n := 0; n < expected && filled < expected; n++ {
		d, err := g.transport.Receive(ctx, g.timeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				logger.Warn("group receive timed out", "op", op, "received", filled, "expected", expected)
				continue
			}
			abort = err
			break
		}

		slot, ok := attribute(d, port, index, in)
		if !ok {
			logger.Warn("unattributable datagram, receiving once more", "op", op, "source", d.IP, "port", d.Port)
			d, err = g.transport.Receive(ctx, g.timeout)
			if err == nil {
				slot, ok = attribute(d, port, index, in)
			} else if !errors.Is(err, ErrTimeout) {
				abort = err
				break
			}
			if !ok {
				logger.Warn("abandoning unattributable reply", "op", op, "error", ErrAttribution)
				continue
			}
		}

		in[slot].data = d
		in[slot].pending = false
		filled++
	}

	missing := ErrTimeout
	if abort != nil {
		missing = abort
	}
	for i := range in {
		if in[i].pending {
			in[i].pending = false
			in[i].err = missing
		}
	}
}

// attribute maps d to the slot still waiting for a reply from its source.
func attribute(d Datagram, port int, index map[string]int, in []inbound) (int, bool) {
	if d.Port != port {
		return 0, false
	}
	slot, ok := index[d.IP]
	if !ok || !in[slot].pending {
		return 0, false
	}
	return slot, true
}

// jsonOp describes a descriptive-protocol group operation.
type jsonOp[T any] struct {
	name string
	port int

	// build returns the request for the endpoint at the caller's index.
	build func(index int) Request

	// decode extracts the slot value from an OK reply.
	decode func(*Reply) (T, error)

	// cached reads the slot value from the endpoint caches.
	cached func(*Endpoint) T

	// onSuccess runs for each successful slot.
	onSuccess func(index int, ep *Endpoint)
}

func runJSON[T any](ctx context.Context, g *Coordinator, addrs []string, op jsonOp[T]) ([]Slot[T], error) {
	parts, err := g.registry.participants(addrs)
	if err != nil {
		return nil, err
	}

	out := make([]outgoing, len(parts))
	for i, p := range parts {
		payload, err := op.build(p.index).Encode()
		out[i] = outgoing{part: p, payload: payload, err: err}
	}

	in, fromCache := g.exchangeGroup(ctx, op.name, op.port, out, true)

	slots := make([]Slot[T], len(parts))
	for i, p := range parts {
		ep := p.ep
		var zero T

		if in[i].err != nil {
			slots[i] = slotFor(ep.addr, zero, fmt.Errorf("%s %s: %w", ep.addr, op.name, in[i].err))
			continue
		}

		if fromCache {
			v := zero
			if op.cached != nil {
				v = op.cached(ep)
			}
			slots[i] = slotFor(ep.addr, v, nil)
			if op.onSuccess != nil {
				op.onSuccess(p.index, ep)
			}
			continue
		}

		reply, err := DecodeReply(in[i].data.Data)
		if err != nil {
			g.log.get().Error("group reply rejected", "op", op.name, "address", ep.addr, "error", err)
			slots[i] = slotFor(ep.addr, zero, fmt.Errorf("%s %s: %w", ep.addr, op.name, err))
			continue
		}
		ep.apply(reply.cacheUpdate(), in[i].data.At)

		v := zero
		if op.decode != nil {
			v, err = op.decode(reply)
		}
		if err != nil {
			slots[i] = slotFor(ep.addr, zero, fmt.Errorf("%s %s: %w", ep.addr, op.name, err))
			continue
		}
		slots[i] = slotFor(ep.addr, v, nil)
		if op.onSuccess != nil {
			op.onSuccess(p.index, ep)
		}
	}
	return slots, nil
}

// checkLen verifies every parameter array is aligned with addrs.
func checkLen(addrs []string, lengths ...int) error {
	for _, n := range lengths {
		if n != len(addrs) {
			return fmt.Errorf("%w: %d addresses, %d values", ErrParamLength, len(addrs), n)
		}
	}
	return nil
}

func decodeInto[T any](r *Reply) (T, error) {
	var v T
	err := r.Decode(&v)
	return v, err
}

func cachedPVC(ep *Endpoint) PVC {
	m := ep.Measured()
	return PVC{Position: m.Position, Velocity: m.Velocity, Current: m.Current}
}

func (g *Coordinator) controlWordGroup(ctx context.Context, name string, addrs []string, word ControlWord) ([]Slot[Ack], error) {
	return runJSON(ctx, g, addrs, jsonOp[Ack]{
		name: name,
		port: PortControl,
		build: func(int) Request {
			return Set(targetControlWord, map[string]any{"control_word": int(word)})
		},
	})
}

// EnableGroup switches the servo on for every Active endpoint in addrs.
func (g *Coordinator) EnableGroup(ctx context.Context, addrs []string) ([]Slot[Ack], error) {
	return g.controlWordGroup(ctx, "enable", addrs, ControlWordServoOn)
}

// DisableGroup switches the servo off for every Active endpoint in addrs.
func (g *Coordinator) DisableGroup(ctx context.Context, addrs []string) ([]Slot[Ack], error) {
	return g.controlWordGroup(ctx, "disable", addrs, ControlWordServoOff)
}

// ClearFaultGroup clears latched faults on every Active endpoint in addrs.
func (g *Coordinator) ClearFaultGroup(ctx context.Context, addrs []string) ([]Slot[Ack], error) {
	return g.controlWordGroup(ctx, "clear_fault", addrs, ControlWordClearFault)
}

// GetStateGroup reads the state value of each endpoint. From the caches,
// the last reported status word is used.
func (g *Coordinator) GetStateGroup(ctx context.Context, addrs []string) ([]Slot[int], error) {
	return runJSON(ctx, g, addrs, jsonOp[int]{
		name:  "get_state",
		port:  PortControl,
		build: func(int) Request { return Get(targetState) },
		decode: func(r *Reply) (int, error) {
			var out struct {
				State int `json:"state"`
			}
			err := r.Decode(&out)
			return out.State, err
		},
		cached: func(ep *Endpoint) int {
			return ep.Snapshot(time.Now()).StatusWord
		},
	})
}

// GetErrorGroup reads the fault bitmask of each endpoint.
//
// Parameters:
//   - ctx: Bounds the whole group exchange
//   - addrs: Registered addresses; Suspended ones are left out of the result
//
// Returns:
//   - []Slot[ErrorReport]: One slot per Active endpoint in addrs order. A
//     silent endpoint gets a Timeout slot and a bad reply a Fail slot
//   - error: ErrNotRegistered or ErrDuplicateAddress for a bad addrs list;
//     per-device failures never surface here
func (g *Coordinator) GetErrorGroup(ctx context.Context, addrs []string) ([]Slot[ErrorReport], error) {
	return runJSON(ctx, g, addrs, jsonOp[ErrorReport]{
		name:  "get_error",
		port:  PortControl,
		build: func(int) Request { return Get(targetErrorCode) },
		decode: func(r *Reply) (ErrorReport, error) {
			var out struct {
				ErrorCode int64 `json:"error_code"`
			}
			if err := r.Decode(&out); err != nil {
				return ErrorReport{}, err
			}
			code, err := faultCodeOf(out.ErrorCode)
			if err != nil {
				return ErrorReport{}, err
			}
			return newErrorReport(code), nil
		},
		cached: func(ep *Endpoint) ErrorReport {
			return newErrorReport(ep.ErrorCode())
		},
	})
}

// GetPVCGroup reads position, velocity and current of each endpoint.
func (g *Coordinator) GetPVCGroup(ctx context.Context, addrs []string) ([]Slot[PVC], error) {
	return runJSON(ctx, g, addrs, jsonOp[PVC]{
		name:   "get_pvc",
		port:   PortControl,
		build:  func(int) Request { return Measure("position", "velocity", "current") },
		decode: decodeInto[PVC],
		cached: cachedPVC,
	})
}

// SetModeOfOperationGroup selects a control law per endpoint. modes is
// aligned with addrs.
func (g *Coordinator) SetModeOfOperationGroup(ctx context.Context, addrs []string, modes []Mode) ([]Slot[Ack], error) {
	if err := checkLen(addrs, len(modes)); err != nil {
		return nil, err
	}
	return runJSON(ctx, g, addrs, jsonOp[Ack]{
		name: "set_mode_of_operation",
		port: PortControl,
		build: func(i int) Request {
			return Set(targetModeOfOperation, map[string]any{"mode_of_operation": int(modes[i])})
		},
		onSuccess: func(i int, ep *Endpoint) { ep.setCommandMode(modes[i]) },
	})
}

// SetHomeOffsetGroup writes a home offset per endpoint.
func (g *Coordinator) SetHomeOffsetGroup(ctx context.Context, addrs []string, offsets []float64) ([]Slot[Ack], error) {
	if err := checkLen(addrs, len(offsets)); err != nil {
		return nil, err
	}
	return runJSON(ctx, g, addrs, jsonOp[Ack]{
		name: "set_home_offset",
		port: PortControl,
		build: func(i int) Request {
			return Set(targetHomeOffset, map[string]any{"home_offset": offsets[i]})
		},
	})
}

func (g *Coordinator) setpointGroup(ctx context.Context, name, target string, addrs []string, fields func(i int) map[string]any) ([]Slot[PVC], error) {
	return runJSON(ctx, g, addrs, jsonOp[PVC]{
		name:   name,
		port:   PortControl,
		build:  func(i int) Request { return Control(target, true, fields(i)) },
		decode: decodeInto[PVC],
		cached: cachedPVC,
	})
}

// SetPositionControlGroup commands positions with feed-forward terms and
// returns each endpoint's echoed feedback.
//
// Parameters:
//   - ctx: Bounds the whole group exchange
//   - addrs: Registered addresses; Suspended ones receive nothing
//   - positions, velocityFFs, currentFFs: Per-address values aligned with addrs
//
// Returns:
//   - []Slot[PVC]: One slot per Active endpoint in addrs order, carrying the
//     echoed position, velocity and current. While the background loops
//     run, the frames are queued and slots carry the cached feedback
//   - error: ErrParamLength when a slice is not aligned with addrs, or an
//     addrs validation error
func (g *Coordinator) SetPositionControlGroup(ctx context.Context, addrs []string, positions, velocityFFs, currentFFs []float64) ([]Slot[PVC], error) {
	if err := checkLen(addrs, len(positions), len(velocityFFs), len(currentFFs)); err != nil {
		return nil, err
	}
	return g.setpointGroup(ctx, "set_position_control", targetPositionControl, addrs, func(i int) map[string]any {
		return map[string]any{
			"position":    positions[i],
			"velocity_ff": velocityFFs[i],
			"current_ff":  currentFFs[i],
		}
	})
}

// SetVelocityControlGroup commands velocities with current feed-forward.
func (g *Coordinator) SetVelocityControlGroup(ctx context.Context, addrs []string, velocities, currentFFs []float64) ([]Slot[PVC], error) {
	if err := checkLen(addrs, len(velocities), len(currentFFs)); err != nil {
		return nil, err
	}
	return g.setpointGroup(ctx, "set_velocity_control", targetVelocityControl, addrs, func(i int) map[string]any {
		return map[string]any{
			"velocity":   velocities[i],
			"current_ff": currentFFs[i],
		}
	})
}

// SetTorqueControlGroup commands torques through the current loop.
func (g *Coordinator) SetTorqueControlGroup(ctx context.Context, addrs []string, torques []float64) ([]Slot[PVC], error) {
	if err := checkLen(addrs, len(torques)); err != nil {
		return nil, err
	}
	return g.setpointGroup(ctx, "set_torque_control", targetCurrentControl, addrs, func(i int) map[string]any {
		return map[string]any{"current": torques[i]}
	})
}

// SetCurrentControlGroup commands currents.
func (g *Coordinator) SetCurrentControlGroup(ctx context.Context, addrs []string, currents []float64) ([]Slot[PVC], error) {
	if err := checkLen(addrs, len(currents)); err != nil {
		return nil, err
	}
	return g.setpointGroup(ctx, "set_current_control", targetCurrentControl, addrs, func(i int) map[string]any {
		return map[string]any{"current": currents[i]}
	})
}

// RebootCommGroup restarts the network module of every Active endpoint.
func (g *Coordinator) RebootCommGroup(ctx context.Context, addrs []string) ([]Slot[Ack], error) {
	return runJSON(ctx, g, addrs, jsonOp[Ack]{
		name:  "reboot_comm",
		port:  PortComm,
		build: func(int) Request { return Set(targetReboot, nil) },
	})
}
