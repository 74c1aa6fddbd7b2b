package fsa

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config wires the collaborators shared by Client and Coordinator.
type Config struct {
	// Transport is the shared UDP socket. Required.
	Transport *Transport

	// Registry holds the known actuators. A fresh registry is created when nil.
	Registry *Registry

	// Codec encodes fast frames. Nil selects big-endian for every opcode.
	Codec *FrameCodec

	// Sync reports which background loops own network I/O. Nil means no
	// background loops are used.
	Sync *Sync

	// Timeout bounds each receive. Default: DefaultTimeout.
	Timeout time.Duration
}

// Client is the per-device operation catalogue.
//
// Every blocking call is one send plus one bounded receive, with no retry.
// A reply counts only if it comes from the addressed actuator, parses, and
// carries status "OK". Callers decide whether to retry.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Exchanges on the shared socket
//     are serialised by the Transport.
type Client struct {
	transport *Transport
	registry  *Registry
	codec     *FrameCodec
	sync      *Sync
	timeout   time.Duration

	log logSink
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		transport: cfg.Transport,
		registry:  cfg.Registry,
		codec:     cfg.Codec,
		sync:      cfg.Sync,
		timeout:   cfg.Timeout,
	}
}

func (cfg Config) withDefaults() Config {
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(0)
	}
	if cfg.Codec == nil {
		cfg.Codec = NewFrameCodec(nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return cfg
}

// SetLogger sets the logger for failed exchanges.
func (c *Client) SetLogger(logger Logger) {
	c.log.set(logger)
}

// Registry returns the registry this client reads and updates.
func (c *Client) Registry() *Registry {
	return c.registry
}

// exchange sends payload to addr:port and waits for the first datagram from
// that same source. Datagrams from other sources are discarded until the
// window closes.
func (c *Client) exchange(ctx context.Context, addr string, port int, payload []byte) (Datagram, error) {
	if c.sync.Receiving() {
		return Datagram{}, ErrReceiveLoopActive
	}

	var reply Datagram
	err := c.transport.Exchange(func() error {
		if err := c.transport.Send(addr, port, payload); err != nil {
			return err
		}
		c.markSent(addr)

		deadline := time.Now().Add(c.timeout)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrTimeout
			}
			d, err := c.transport.Receive(ctx, remaining)
			if err != nil {
				return err
			}
			if d.IP == addr && d.Port == port {
				reply = d
				return nil
			}
			c.log.get().Debug("discarding datagram from unexpected source",
				"expected", addr,
				"source", d.IP,
				"port", d.Port,
			)
		}
	})
	return reply, err
}

// call performs one JSON request/response exchange. A successful reply also
// refreshes the endpoint caches when addr is registered.
func (c *Client) call(ctx context.Context, addr string, port int, req Request) (*Reply, error) {
	payload, err := req.Encode()
	if err != nil {
		return nil, err
	}

	d, err := c.exchange(ctx, addr, port, payload)
	if err != nil {
		c.logFailure(addr, req.Target, err)
		return nil, fmt.Errorf("%s %s: %w", addr, req.Target, err)
	}

	reply, err := DecodeReply(d.Data)
	if err != nil {
		c.logFailure(addr, req.Target, err)
		return nil, fmt.Errorf("%s %s: %w", addr, req.Target, err)
	}

	c.observe(addr, reply, d.At)
	return reply, nil
}

// post sends payload without waiting for any reply.
func (c *Client) post(addr string, port int, payload []byte) error {
	if err := c.transport.Send(addr, port, payload); err != nil {
		c.logFailure(addr, "send", err)
		return fmt.Errorf("%s: %w", addr, err)
	}
	c.markSent(addr)
	return nil
}

// callInto performs a call and decodes the reply body into v.
func (c *Client) callInto(ctx context.Context, addr string, port int, req Request, v any) error {
	reply, err := c.call(ctx, addr, port, req)
	if err != nil {
		return err
	}
	if err := reply.Decode(v); err != nil {
		c.logFailure(addr, req.Target, err)
		return fmt.Errorf("%s %s: %w", addr, req.Target, err)
	}
	return nil
}

// callOK performs a call where only the status matters.
func (c *Client) callOK(ctx context.Context, addr string, port int, req Request) error {
	_, err := c.call(ctx, addr, port, req)
	return err
}

func (c *Client) observe(addr string, reply *Reply, at time.Time) {
	if ep := c.registry.lookup(addr); ep != nil {
		ep.apply(reply.cacheUpdate(), at)
	}
}

func (c *Client) markSent(addr string) {
	if ep := c.registry.lookup(addr); ep != nil {
		ep.markSent(time.Now())
	}
}

func (c *Client) logFailure(addr, target string, err error) {
	logger := c.log.get()
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrReceiveLoopActive):
		logger.Warn("actuator exchange failed", "address", addr, "target", target, "error", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Debug("actuator exchange cancelled", "address", addr, "target", target)
	default:
		logger.Error("actuator exchange failed", "address", addr, "target", target, "error", err)
	}
}
