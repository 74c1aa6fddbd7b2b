package fsa

import (
	"sync"
	"time"
)

// State is the communication state of an endpoint. Only Active endpoints
// take part in group operations and background polling.
type State int

const (
	// StateSuspended excludes the endpoint from all traffic. New endpoints
	// start suspended until SetMode enables them.
	StateSuspended State = iota

	// StateActive includes the endpoint in group operations.
	StateActive
)

// String returns the state name.
func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "suspended"
}

// Frame is one queued outgoing datagram.
type Frame struct {
	Port    int
	Payload []byte
}

// Measured holds the most recent feedback reported by an actuator.
type Measured struct {
	Position       float64 `json:"position"`
	Velocity       float64 `json:"velocity"`
	Torque         float64 `json:"torque"`
	Current        float64 `json:"current"`
	CurrentID      float64 `json:"current_id"`
	PhaseCurrentIB float64 `json:"phase_current_ib"`
	PhaseCurrentIC float64 `json:"phase_current_ic"`
	Angle          float64 `json:"angle"`
}

// Snapshot is a point-in-time copy of an endpoint. Safe to keep and share.
type Snapshot struct {
	Address     string    `json:"address"`
	State       State     `json:"-"`
	Blocking    bool      `json:"blocking"`
	Fast        bool      `json:"fast"`
	Measured    Measured  `json:"measured"`
	Mode        Mode      `json:"mode_of_operation"`
	StatusWord  int       `json:"status_word"`
	ErrorCode   FaultCode `json:"error_code"`
	Queued      int       `json:"queued"`
	Registered  time.Time `json:"registered"`
	LastSend    time.Time `json:"last_send"`
	LastReceive time.Time `json:"last_receive"`
	Lost        bool      `json:"lost"`
}

// Endpoint is one registered actuator.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Fields are guarded by the
//     endpoint's own lock, so a slow reader of one actuator never blocks
//     updates to another.
type Endpoint struct {
	addr          string
	lossThreshold time.Duration

	mu          sync.RWMutex
	state       State
	blocking    bool
	fast        bool
	measured    Measured
	mode        Mode
	statusWord  int
	errorCode   FaultCode
	queue       []Frame
	registered  time.Time
	lastSend    time.Time
	lastReceive time.Time
}

func newEndpoint(addr string, lossThreshold time.Duration, now time.Time) *Endpoint {
	return &Endpoint{
		addr:          addr,
		lossThreshold: lossThreshold,
		blocking:      true,
		registered:    now,
	}
}

// Address returns the actuator's IPv4 address.
func (e *Endpoint) Address() string {
	return e.addr
}

// State returns the current communication state.
func (e *Endpoint) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Blocking reports whether setpoint calls wait for the actuator's reply.
func (e *Endpoint) Blocking() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.blocking
}

// Fast reports whether telemetry reads use the binary protocol.
func (e *Endpoint) Fast() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.fast
}

// Measured returns a copy of the cached feedback.
func (e *Endpoint) Measured() Measured {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.measured
}

// ErrorCode returns the cached fault bitmask.
func (e *Endpoint) ErrorCode() FaultCode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.errorCode
}

// IsLost reports whether the endpoint has been silent for longer than the
// loss threshold. An endpoint that never replied is measured from its
// registration time.
func (e *Endpoint) IsLost(now time.Time) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLostLocked(now)
}

func (e *Endpoint) isLostLocked(now time.Time) bool {
	ref := e.lastReceive
	if ref.IsZero() {
		ref = e.registered
	}
	return now.Sub(ref) > e.lossThreshold
}

// Snapshot returns a copy of the endpoint's state.
func (e *Endpoint) Snapshot(now time.Time) Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		Address:     e.addr,
		State:       e.state,
		Blocking:    e.blocking,
		Fast:        e.fast,
		Measured:    e.measured,
		Mode:        e.mode,
		StatusWord:  e.statusWord,
		ErrorCode:   e.errorCode,
		Queued:      len(e.queue),
		Registered:  e.registered,
		LastSend:    e.lastSend,
		LastReceive: e.lastReceive,
		Lost:        e.isLostLocked(now),
	}
}

func (e *Endpoint) setMode(enabled, blocking, fast bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enabled {
		e.state = StateActive
	} else {
		e.state = StateSuspended
	}
	e.blocking = blocking
	e.fast = fast
}

func (e *Endpoint) enqueue(f Frame) {
	e.mu.Lock()
	e.queue = append(e.queue, f)
	e.mu.Unlock()
}

// nextFrame returns the head of the queue without removing it.
func (e *Endpoint) nextFrame() (Frame, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.queue) == 0 {
		return Frame{}, false
	}
	return e.queue[0], true
}

// popFrame removes the head of the queue after it was sent.
func (e *Endpoint) popFrame(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return
	}
	e.queue[0] = Frame{}
	e.queue = e.queue[1:]
	e.lastSend = now
}

func (e *Endpoint) markSent(now time.Time) {
	e.mu.Lock()
	e.lastSend = now
	e.mu.Unlock()
}

// apply merges the fields present in u into the caches.
func (e *Endpoint) apply(u cacheUpdate, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastReceive = now
	m := &e.measured
	setIf(&m.Position, u.Position)
	setIf(&m.Velocity, u.Velocity)
	setIf(&m.Torque, u.Torque)
	setIf(&m.Current, u.Current)
	setIf(&m.CurrentID, u.CurrentID)
	setIf(&m.PhaseCurrentIB, u.PhaseCurrentIB)
	setIf(&m.PhaseCurrentIC, u.PhaseCurrentIC)
	setIf(&m.Angle, u.Angle)
	if u.StatusWord != nil {
		e.statusWord = *u.StatusWord
	}
	if u.ErrorCode != nil {
		e.errorCode = *u.ErrorCode
	}
	if u.Mode != nil {
		e.mode = Mode(*u.Mode)
	}
}

func (e *Endpoint) applyPVC(pvc PVC, now time.Time) {
	e.mu.Lock()
	e.lastReceive = now
	e.measured.Position = pvc.Position
	e.measured.Velocity = pvc.Velocity
	e.measured.Current = pvc.Current
	e.mu.Unlock()
}

func (e *Endpoint) applyFault(code FaultCode, now time.Time) {
	e.mu.Lock()
	e.lastReceive = now
	e.errorCode = code
	e.mu.Unlock()
}

func (e *Endpoint) setCommandMode(m Mode) {
	e.mu.Lock()
	e.mode = m
	e.mu.Unlock()
}

func setIf(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}
