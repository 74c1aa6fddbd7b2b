package fsa

import (
	"net"
	"os"
	"sync"
	"testing"
	"time"
)

// sentDatagram is one WriteTo captured by fakeConn.
type sentDatagram struct {
	ip      string
	port    int
	payload []byte
}

type inboundDatagram struct {
	from *net.UDPAddr
	data []byte
}

// fakeConn is an in-memory net.PacketConn. Writes are recorded and handed
// to an optional responder, which may queue replies with deliver.
type fakeConn struct {
	mu       sync.Mutex
	sent     []sentDatagram
	deadline time.Time
	respond  func(c *fakeConn, d sentDatagram)

	inbox  chan inboundDatagram
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan inboundDatagram, 256),
		closed: make(chan struct{}),
	}
}

// onWrite installs a responder invoked after every write.
func (c *fakeConn) onWrite(fn func(c *fakeConn, d sentDatagram)) {
	c.mu.Lock()
	c.respond = fn
	c.mu.Unlock()
}

// deliver queues a datagram as if it arrived from ip:port.
func (c *fakeConn) deliver(ip string, port int, data []byte) {
	c.inbox <- inboundDatagram{
		from: &net.UDPAddr{IP: net.ParseIP(ip), Port: port},
		data: append([]byte(nil), data...),
	}
}

func (c *fakeConn) writes() []sentDatagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentDatagram, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.deadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case d := <-c.inbox:
		return copy(p, d.data), d.from, nil
	case <-timeout:
		return 0, nil, os.ErrDeadlineExceeded
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}

	ua := addr.(*net.UDPAddr)
	d := sentDatagram{ip: ua.IP.String(), port: ua.Port, payload: append([]byte(nil), p...)}

	c.mu.Lock()
	c.sent = append(c.sent, d)
	respond := c.respond
	c.mu.Unlock()

	if respond != nil {
		respond(c, d)
	}
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4zero, Port: 40000}
}

func (c *fakeConn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error {
	return nil
}

// testStack is a transport over a fakeConn plus a registry with the given
// addresses registered and Active.
type testStack struct {
	conn      *fakeConn
	transport *Transport
	registry  *Registry
}

func newTestStack(t *testing.T, addrs ...string) *testStack {
	t.Helper()

	conn := newFakeConn()
	tr := NewTransport(conn)
	t.Cleanup(func() { tr.Close() })

	reg := NewRegistry(0)
	for _, a := range addrs {
		if _, err := reg.Register(a); err != nil {
			t.Fatalf("Register(%q) error: %v", a, err)
		}
		if err := reg.SetMode(a, true, true, false); err != nil {
			t.Fatalf("SetMode(%q) error: %v", a, err)
		}
	}
	return &testStack{conn: conn, transport: tr, registry: reg}
}

func (s *testStack) config() Config {
	return Config{
		Transport: s.transport,
		Registry:  s.registry,
		Timeout:   20 * time.Millisecond,
	}
}

// okReply returns a JSON reply with status OK plus extra raw fields.
func okReply(fields string) []byte {
	if fields == "" {
		return []byte(`{"status":"OK"}`)
	}
	return []byte(`{"status":"OK",` + fields + `}`)
}
