package fsa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// TransportConfig holds socket settings.
type TransportConfig struct {
	// LocalAddress is the UDP bind address. Default ":0" (any interface,
	// ephemeral port).
	LocalAddress string
}

// TransportStats holds operational counters.
type TransportStats struct {
	DatagramsTx  uint64
	DatagramsRx  uint64
	Timeouts     uint64
	ErrorsTotal  uint64
	LastActivity time.Time
}

// Datagram is one received UDP payload and its source.
type Datagram struct {
	Data []byte
	IP   string
	Port int
	At   time.Time
}

// Transport is the single UDP socket shared by every actuator.
//
// Thread Safety:
//   - Send and Receive are safe for concurrent use.
//   - Exchange serialises multi-datagram sequences so that two concurrent
//     request/response exchanges cannot consume each other's replies.
type Transport struct {
	conn net.PacketConn

	// exchangeMu is held for the whole of a request/response sequence.
	exchangeMu sync.Mutex

	closed atomic.Bool

	datagramsTx  atomic.Uint64
	datagramsRx  atomic.Uint64
	timeouts     atomic.Uint64
	errorsTotal  atomic.Uint64
	lastActivity atomic.Int64

	log logSink
}

// Listen opens a UDP socket for actuator traffic. Go enables SO_BROADCAST
// on UDP sockets by default, so the same socket carries discovery probes.
func Listen(cfg TransportConfig) (*Transport, error) {
	local := cfg.LocalAddress
	if local == "" {
		local = ":0"
	}
	conn, err := net.ListenPacket("udp4", local)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", local, err)
	}
	return NewTransport(conn), nil
}

// NewTransport wraps an existing packet connection.
// Tests use this to substitute an in-memory connection.
func NewTransport(conn net.PacketConn) *Transport {
	return &Transport{conn: conn}
}

// SetLogger sets the logger for transport errors.
func (t *Transport) SetLogger(logger Logger) {
	t.log.set(logger)
}

// LocalAddr returns the bound socket address.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Send transmits one datagram to ip:port.
func (t *Transport) Send(ip string, port int, payload []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	addr, err := udpAddr(ip, port)
	if err != nil {
		return err
	}
	if _, err := t.conn.WriteTo(payload, addr); err != nil {
		t.errorsTotal.Add(1)
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("sending to %s:%d: %w", ip, port, err)
	}
	t.datagramsTx.Add(1)
	t.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// Receive waits up to timeout (or the context deadline, whichever is
// sooner) for the next datagram from any source.
//
// Parameters:
//   - ctx: Its deadline shortens the window; cancellation ends the wait
//   - timeout: Longest wait for this one datagram
//
// Returns:
//   - Datagram: Payload, source IP and port, and arrival time
//   - error: ErrTimeout when the window closes without data, the context
//     error when ctx is done, and ErrClosed after Close
func (t *Transport) Receive(ctx context.Context, timeout time.Duration) (Datagram, error) {
	if err := ctx.Err(); err != nil {
		return Datagram{}, err
	}
	if t.closed.Load() {
		return Datagram{}, ErrClosed
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return Datagram{}, fmt.Errorf("setting read deadline: %w", err)
	}

	buf := make([]byte, maxDatagramSize)
	n, addr, err := t.conn.ReadFrom(buf)
	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Datagram{}, ctxErr
			}
			if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
				return Datagram{}, context.DeadlineExceeded
			}
			t.timeouts.Add(1)
			return Datagram{}, ErrTimeout
		case errors.Is(err, net.ErrClosed):
			return Datagram{}, ErrClosed
		default:
			t.errorsTotal.Add(1)
			return Datagram{}, fmt.Errorf("receiving: %w", err)
		}
	}

	now := time.Now()
	t.datagramsRx.Add(1)
	t.lastActivity.Store(now.UnixNano())

	ip, port := splitAddr(addr)
	return Datagram{Data: buf[:n], IP: ip, Port: port, At: now}, nil
}

// Exchange runs fn while holding the exchange lock. Every blocking
// request/response sequence runs inside an Exchange.
func (t *Transport) Exchange(fn func() error) error {
	t.exchangeMu.Lock()
	defer t.exchangeMu.Unlock()
	return fn()
}

// Close closes the socket. Pending receives return ErrClosed.
// Safe to call multiple times.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("closing socket: %w", err)
	}
	return nil
}

// Stats returns a copy of the transport counters.
func (t *Transport) Stats() TransportStats {
	s := TransportStats{
		DatagramsTx: t.datagramsTx.Load(),
		DatagramsRx: t.datagramsRx.Load(),
		Timeouts:    t.timeouts.Load(),
		ErrorsTotal: t.errorsTotal.Load(),
	}
	if ns := t.lastActivity.Load(); ns != 0 {
		s.LastActivity = time.Unix(0, ns)
	}
	return s
}

func udpAddr(ip string, port int) (*net.UDPAddr, error) {
	a, err := netip.ParseAddr(ip)
	if err != nil || !a.Is4() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: port %d", ErrInvalidAddress, port)
	}
	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(a, uint16(port))), nil
}

func splitAddr(addr net.Addr) (string, int) {
	if ua, ok := addr.(*net.UDPAddr); ok {
		ip := ua.IP
		if v4 := ip.To4(); v4 != nil {
			ip = v4
		}
		return ip.String(), ua.Port
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr) //nolint:errcheck // zero port on parse failure
	return host, port
}
