package fsa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func discoveryResponder(c *fakeConn, d sentDatagram) {
	if string(d.payload) != discoveryProbe {
		return
	}
	c.deliver(addrA, PortComm, []byte(`{"type":"Actuator","serial_number":"A1"}`))
	c.deliver(addrC, PortComm, []byte(`{"type":"CtrlBox"}`))
	c.deliver(addrA, PortComm, []byte(`{"type":"Actuator","serial_number":"A1"}`))
	c.deliver(addrX, PortComm, []byte(`hello`))
}

func TestDiscover(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		want   []Found
	}{
		{
			name: "no filter",
			want: []Found{
				{Address: addrA, Type: TypeActuator, SerialNumber: "A1"},
				{Address: addrC, Type: TypeCtrlBox},
				{Address: addrX},
			},
		},
		{
			name:   "actuators only",
			filter: TypeActuator,
			want:   []Found{{Address: addrA, Type: TypeActuator, SerialNumber: "A1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStack(t)
			s.conn.onWrite(discoveryResponder)

			found, err := Discover(context.Background(), s.transport, DiscoveryConfig{
				Filter:  tt.filter,
				Timeout: 20 * time.Millisecond,
			}, nil)
			if err != nil {
				t.Fatalf("Discover() error: %v", err)
			}
			if diff := cmp.Diff(tt.want, found, cmpopts.IgnoreFields(Found{}, "Raw")); diff != "" {
				t.Errorf("Discover() mismatch (-want +got):\n%s", diff)
			}

			sent := s.conn.writes()
			if len(sent) != 1 {
				t.Fatalf("sent %d datagrams, want 1 probe", len(sent))
			}
			if sent[0].ip != DefaultBroadcastAddress || sent[0].port != PortComm {
				t.Errorf("probe sent to %s:%d", sent[0].ip, sent[0].port)
			}
		})
	}
}

func TestDiscoverNoResponders(t *testing.T) {
	s := newTestStack(t)

	_, err := Discover(context.Background(), s.transport, DiscoveryConfig{Timeout: 10 * time.Millisecond}, nil)
	if !errors.Is(err, ErrNoResponders) {
		t.Fatalf("Discover() error = %v, want ErrNoResponders", err)
	}
}

func TestDiscoverFilterMatchesNothing(t *testing.T) {
	s := newTestStack(t)
	s.conn.onWrite(discoveryResponder)

	_, err := Discover(context.Background(), s.transport, DiscoveryConfig{
		Filter:  TypeAbsEncoder,
		Timeout: 10 * time.Millisecond,
	}, nil)
	if !errors.Is(err, ErrNoResponders) {
		t.Fatalf("Discover() error = %v, want ErrNoResponders", err)
	}
}

func TestRegisterFound(t *testing.T) {
	reg := NewRegistry(0)
	eps, err := RegisterFound(reg, []Found{{Address: addrA}, {Address: addrC}})
	if err != nil {
		t.Fatalf("RegisterFound() error: %v", err)
	}
	if len(eps) != 2 || reg.Len() != 2 {
		t.Fatalf("registered %d endpoints, registry has %d, want 2", len(eps), reg.Len())
	}
	for _, ep := range eps {
		if ep.State() != StateSuspended {
			t.Errorf("%s state = %v, want suspended until enabled", ep.Address(), ep.State())
		}
	}
}
