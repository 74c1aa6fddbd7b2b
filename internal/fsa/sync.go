package fsa

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Background loop defaults.
const (
	DefaultIdleInterval   = 200 * time.Microsecond
	DefaultReceiveTimeout = 10 * time.Millisecond
	DefaultPollInterval   = 10 * time.Millisecond
	DefaultErrorPollEvery = 100
)

// SyncConfig selects which background loops run.
type SyncConfig struct {
	// SendEnabled drains endpoint queues onto the socket.
	SendEnabled bool

	// ReceiveEnabled reads every datagram and refreshes endpoint caches.
	// While it runs, blocking per-device exchanges are refused.
	ReceiveEnabled bool

	// PollEnabled queues a fast telemetry query to every Active endpoint each
	// PollInterval.
	PollEnabled bool

	// IdleInterval is how long the send loop sleeps after an empty sweep.
	// Default: 200µs.
	IdleInterval time.Duration

	// ReceiveTimeout bounds each receive of the receive loop. Default: 10ms.
	ReceiveTimeout time.Duration

	// PollInterval is the telemetry polling period. Default: 10ms.
	PollInterval time.Duration

	// ErrorPollEvery adds a fault query every Nth poll cycle. Default: 100.
	ErrorPollEvery int
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.IdleInterval <= 0 {
		c.IdleInterval = DefaultIdleInterval
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = DefaultReceiveTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ErrorPollEvery <= 0 {
		c.ErrorPollEvery = DefaultErrorPollEvery
	}
	return c
}

// Sync runs the background send, receive and poll loops.
//
// The loops are independent. Group operations consult Sending and Receiving
// to decide whether to queue requests and whether to read results from the
// caches instead of the socket.
//
// A nil *Sync is valid and reports no running loops.
type Sync struct {
	transport *Transport
	registry  *Registry
	codec     *FrameCodec
	cfg       SyncConfig

	sending   atomic.Bool
	receiving atomic.Bool
	started   atomic.Bool

	onUpdate atomic.Pointer[func(Snapshot)]

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	log logSink
}

// NewSync creates the background loops. A nil codec selects big-endian for
// every opcode. Call Start to run them.
func NewSync(transport *Transport, registry *Registry, codec *FrameCodec, cfg SyncConfig) *Sync {
	if codec == nil {
		codec = NewFrameCodec(nil)
	}
	return &Sync{
		transport: transport,
		registry:  registry,
		codec:     codec,
		cfg:       cfg.withDefaults(),
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for loop events.
func (s *Sync) SetLogger(logger Logger) {
	s.log.set(logger)
}

// SetOnUpdate registers fn to run after the receive loop refreshes an
// endpoint. fn runs on the receive goroutine and must not block.
func (s *Sync) SetOnUpdate(fn func(Snapshot)) {
	if fn == nil {
		s.onUpdate.Store(nil)
		return
	}
	s.onUpdate.Store(&fn)
}

// Sending reports whether the send loop is running.
func (s *Sync) Sending() bool {
	return s != nil && s.sending.Load()
}

// Receiving reports whether the receive loop is running.
func (s *Sync) Receiving() bool {
	return s != nil && s.receiving.Load()
}

// Start launches the enabled loops. They run until ctx is cancelled or Stop
// is called. A Sync can be started once.
func (s *Sync) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if s.cfg.SendEnabled {
		s.sending.Store(true)
		s.wg.Add(1)
		go s.sendLoop(ctx)
	}
	if s.cfg.ReceiveEnabled {
		s.receiving.Store(true)
		s.wg.Add(1)
		go s.receiveLoop(ctx)
	}
	if s.cfg.PollEnabled {
		s.wg.Add(1)
		go s.pollLoop(ctx)
	}

	s.log.get().Info("background loops started",
		"send", s.cfg.SendEnabled,
		"receive", s.cfg.ReceiveEnabled,
		"poll", s.cfg.PollEnabled,
	)
	return nil
}

// Stop signals every loop and waits for them to exit.
// Safe to call multiple times.
func (s *Sync) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.log.get().Info("background loops stopped")
	})
}

func (s *Sync) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.done:
		return true
	default:
		return false
	}
}

// sendLoop sweeps the registry in order and transmits at most one queued
// frame per endpoint per sweep. A frame leaves the queue only once sent.
func (s *Sync) sendLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.sending.Store(false)

	idle := time.NewTimer(s.cfg.IdleInterval)
	defer idle.Stop()

	for !s.stopping(ctx) {
		if s.sweep() > 0 {
			continue
		}
		idle.Reset(s.cfg.IdleInterval)
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-idle.C:
		}
	}
}

func (s *Sync) sweep() int {
	sent := 0
	for _, ep := range s.registry.Endpoints() {
		f, ok := ep.nextFrame()
		if !ok {
			continue
		}
		if err := s.transport.Send(ep.addr, f.Port, f.Payload); err != nil {
			s.log.get().Warn("queued send failed", "address", ep.addr, "port", f.Port, "error", err)
			continue
		}
		ep.popFrame(time.Now())
		sent++
	}
	return sent
}

// receiveLoop reads the shared socket and routes each datagram to its
// endpoint's caches by source port and address.
func (s *Sync) receiveLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.receiving.Store(false)

	for !s.stopping(ctx) {
		var d Datagram
		err := s.transport.Exchange(func() error {
			var err error
			d, err = s.transport.Receive(ctx, s.cfg.ReceiveTimeout)
			return err
		})
		switch {
		case err == nil:
			s.handle(d)
		case errors.Is(err, ErrTimeout):
		case errors.Is(err, ErrClosed):
			s.log.get().Warn("receive loop exiting, transport closed")
			return
		case ctx.Err() != nil:
			return
		default:
			s.log.get().Error("background receive failed", "error", err)
		}
	}
}

// handle applies one datagram to the caches of the endpoint it came from.
func (s *Sync) handle(d Datagram) {
	logger := s.log.get()
	ep := s.registry.lookup(d.IP)
	if ep == nil {
		logger.Debug("dropping datagram from unknown source", "source", d.IP, "port", d.Port)
		return
	}

	switch d.Port {
	case PortControl, PortComm:
		reply, err := DecodeReply(d.Data)
		if err != nil {
			logger.Warn("dropping reply", "address", d.IP, "port", d.Port, "error", err)
			return
		}
		ep.apply(reply.cacheUpdate(), d.At)

	case PortFast:
		if len(d.Data) == 0 {
			logger.Warn("dropping empty fast reply", "address", d.IP)
			return
		}
		switch Opcode(d.Data[0]) {
		case OpGetPVC:
			pvc, err := s.codec.DecodePVC(d.Data)
			if err != nil {
				logger.Warn("dropping fast reply", "address", d.IP, "op", OpGetPVC, "error", err)
				return
			}
			ep.applyPVC(pvc, d.At)
		case OpGetError:
			code, err := s.codec.DecodeError(d.Data)
			if err != nil {
				logger.Warn("dropping fast reply", "address", d.IP, "op", OpGetError, "error", err)
				return
			}
			ep.applyFault(code, d.At)
			if code != 0 {
				logger.Warn("actuator reported faults", "address", d.IP, "faults", code.Faults())
			}
		default:
			logger.Debug("dropping fast reply with unknown opcode", "address", d.IP, "op", Opcode(d.Data[0]))
			return
		}

	default:
		logger.Debug("dropping datagram from unknown port", "address", d.IP, "port", d.Port)
		return
	}

	if fn := s.onUpdate.Load(); fn != nil {
		(*fn)(ep.Snapshot(d.At))
	}
}

// pollLoop queues a telemetry query to every Active endpoint each cycle and
// a fault query every ErrorPollEvery cycles. Without a send loop the frames
// are sent directly.
func (s *Sync) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	pvc, err := s.codec.Encode(OpGetPVC)
	if err != nil {
		s.log.get().Error("poll loop disabled", "error", err)
		return
	}
	fault, err := s.codec.Encode(OpGetError)
	if err != nil {
		s.log.get().Error("poll loop disabled", "error", err)
		return
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	cycle := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			cycle++
			s.poll(pvc)
			if cycle%s.cfg.ErrorPollEvery == 0 {
				s.poll(fault)
			}
		}
	}
}

func (s *Sync) poll(frame []byte) {
	queued := s.Sending()
	for _, ep := range s.registry.Endpoints() {
		if ep.State() != StateActive {
			continue
		}
		if queued {
			ep.enqueue(Frame{Port: PortFast, Payload: frame})
			continue
		}
		if err := s.transport.Send(ep.addr, PortFast, frame); err != nil {
			s.log.get().Warn("poll send failed", "address", ep.addr, "error", err)
			continue
		}
		ep.markSent(time.Now())
	}
}
