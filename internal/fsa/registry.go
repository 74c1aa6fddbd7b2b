package fsa

import (
	"fmt"
	"net/netip"
	"sync"
	"time"
)

// Registry is the ordered set of known actuators.
//
// The registry is an explicit object: construct one at startup and hand it to
// the Client, Coordinator, Sync loops and reporters that need it. Iteration
// order is registration order, which keeps background sweeps stable.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The registry lock only guards membership. Per-endpoint data is guarded
//     by each Endpoint's own lock.
type Registry struct {
	mu            sync.RWMutex
	endpoints     map[string]*Endpoint
	order         []string
	lossThreshold time.Duration

	now func() time.Time
	log logSink
}

// NewRegistry creates an empty registry. A non-positive lossThreshold
// selects DefaultLossThreshold.
func NewRegistry(lossThreshold time.Duration) *Registry {
	if lossThreshold <= 0 {
		lossThreshold = DefaultLossThreshold
	}
	return &Registry{
		endpoints:     make(map[string]*Endpoint),
		lossThreshold: lossThreshold,
		now:           time.Now,
	}
}

// SetLogger sets the logger for registry events.
func (r *Registry) SetLogger(logger Logger) {
	r.log.set(logger)
}

// LossThreshold returns the silence duration after which endpoints are lost.
func (r *Registry) LossThreshold() time.Duration {
	return r.lossThreshold
}

// Register adds an actuator by IPv4 address. Registering an address that is
// already known returns the existing endpoint unchanged.
func (r *Registry) Register(addr string) (*Endpoint, error) {
	if err := validateAddress(addr); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ep, ok := r.endpoints[addr]; ok {
		return ep, nil
	}

	ep := newEndpoint(addr, r.lossThreshold, r.now())
	r.endpoints[addr] = ep
	r.order = append(r.order, addr)
	r.log.get().Debug("endpoint registered", "address", addr)
	return ep, nil
}

// Remove drops an actuator from the registry. Queued frames are discarded.
func (r *Registry) Remove(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.endpoints[addr]; !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, addr)
	}
	delete(r.endpoints, addr)
	for i, a := range r.order {
		if a == addr {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.get().Debug("endpoint removed", "address", addr)
	return nil
}

// Get returns the endpoint for addr.
func (r *Registry) Get(addr string) (*Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, ok := r.endpoints[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, addr)
	}
	return ep, nil
}

// lookup is Get without error construction, for the receive hot path.
func (r *Registry) lookup(addr string) *Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[addr]
}

// SetMode sets the communication flags of an endpoint.
//
//   - enabled: Active (true) or Suspended (false)
//   - blocking: setpoint calls wait for the reply
//   - fast: telemetry reads use the binary protocol
func (r *Registry) SetMode(addr string, enabled, blocking, fast bool) error {
	ep, err := r.Get(addr)
	if err != nil {
		return err
	}
	ep.setMode(enabled, blocking, fast)
	r.log.get().Debug("endpoint mode set",
		"address", addr,
		"enabled", enabled,
		"blocking", blocking,
		"fast", fast,
	)
	return nil
}

// Enqueue appends a frame to the endpoint's outgoing queue. The background
// send loop transmits it in FIFO order.
func (r *Registry) Enqueue(addr string, port int, payload []byte) error {
	ep, err := r.Get(addr)
	if err != nil {
		return err
	}
	ep.enqueue(Frame{Port: port, Payload: payload})
	return nil
}

// IsLost reports whether the endpoint has been silent past the loss threshold.
func (r *Registry) IsLost(addr string) (bool, error) {
	ep, err := r.Get(addr)
	if err != nil {
		return false, err
	}
	return ep.IsLost(r.now()), nil
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Endpoints returns all endpoints in registration order.
func (r *Registry) Endpoints() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Endpoint, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, r.endpoints[addr])
	}
	return out
}

// Snapshots returns a copy of every endpoint in registration order.
func (r *Registry) Snapshots() []Snapshot {
	now := r.now()
	eps := r.Endpoints()
	out := make([]Snapshot, len(eps))
	for i, ep := range eps {
		out[i] = ep.Snapshot(now)
	}
	return out
}

// Participants filters addrs down to the Active endpoints, preserving the
// caller's order. Every address must be registered and appear once.
func (r *Registry) Participants(addrs []string) ([]*Endpoint, error) {
	parts, err := r.participants(addrs)
	if err != nil {
		return nil, err
	}
	out := make([]*Endpoint, len(parts))
	for i, p := range parts {
		out[i] = p.ep
	}
	return out, nil
}

// participant is an Active endpoint plus its position in the caller's list,
// used to pick its per-slot parameters.
type participant struct {
	index int
	ep    *Endpoint
}

func (r *Registry) participants(addrs []string) ([]participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(addrs))
	parts := make([]participant, 0, len(addrs))
	for i, addr := range addrs {
		ep, ok := r.endpoints[addr]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotRegistered, addr)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAddress, addr)
		}
		seen[addr] = struct{}{}
		if ep.State() == StateActive {
			parts = append(parts, participant{index: i, ep: ep})
		}
	}
	return parts, nil
}

// validateAddress checks that addr is a dotted IPv4 address.
func validateAddress(addr string) error {
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}
