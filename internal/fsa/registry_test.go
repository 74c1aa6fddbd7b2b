package fsa

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRegistryRegister(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr error
	}{
		{name: "ipv4", addr: "192.168.137.101"},
		{name: "empty", addr: "", wantErr: ErrInvalidAddress},
		{name: "hostname", addr: "actuator.local", wantErr: ErrInvalidAddress},
		{name: "ipv6", addr: "fe80::1", wantErr: ErrInvalidAddress},
		{name: "out of range octet", addr: "192.168.137.300", wantErr: ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(0)
			ep, err := reg.Register(tt.addr)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Register() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Register() unexpected error: %v", err)
			}
			if ep.Address() != tt.addr {
				t.Errorf("Address() = %q, want %q", ep.Address(), tt.addr)
			}
			if ep.State() != StateSuspended {
				t.Errorf("State() = %v, want suspended", ep.State())
			}
			if !ep.Blocking() {
				t.Error("Blocking() = false, want true for a new endpoint")
			}
		})
	}
}

func TestRegistryRegisterIdempotent(t *testing.T) {
	reg := NewRegistry(0)
	first, err := reg.Register("10.0.0.1")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := reg.SetMode("10.0.0.1", true, false, true); err != nil {
		t.Fatalf("SetMode() error: %v", err)
	}

	second, err := reg.Register("10.0.0.1")
	if err != nil {
		t.Fatalf("second Register() error: %v", err)
	}
	if first != second {
		t.Error("second Register() returned a different endpoint")
	}
	if second.State() != StateActive || second.Blocking() || !second.Fast() {
		t.Error("second Register() reset the endpoint's mode")
	}
	if reg.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reg.Len())
	}
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry(0)
	for _, a := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if _, err := reg.Register(a); err != nil {
			t.Fatalf("Register(%q) error: %v", a, err)
		}
	}

	if err := reg.Remove("10.0.0.2"); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if err := reg.Remove("10.0.0.2"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("second Remove() error = %v, want ErrNotRegistered", err)
	}

	var got []string
	for _, ep := range reg.Endpoints() {
		got = append(got, ep.Address())
	}
	if diff := cmp.Diff([]string{"10.0.0.1", "10.0.0.3"}, got); diff != "" {
		t.Errorf("Endpoints() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryUnknownAddress(t *testing.T) {
	reg := NewRegistry(0)

	if _, err := reg.Get("10.0.0.9"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Get() error = %v, want ErrNotRegistered", err)
	}
	if err := reg.SetMode("10.0.0.9", true, true, false); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("SetMode() error = %v, want ErrNotRegistered", err)
	}
	if err := reg.Enqueue("10.0.0.9", PortFast, []byte{0x01}); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Enqueue() error = %v, want ErrNotRegistered", err)
	}
	if _, err := reg.IsLost("10.0.0.9"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("IsLost() error = %v, want ErrNotRegistered", err)
	}
}

func TestRegistryParticipants(t *testing.T) {
	reg := NewRegistry(0)
	for _, a := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		if _, err := reg.Register(a); err != nil {
			t.Fatalf("Register(%q) error: %v", a, err)
		}
	}
	// 10.0.0.2 stays suspended.
	for _, a := range []string{"10.0.0.1", "10.0.0.3"} {
		if err := reg.SetMode(a, true, true, false); err != nil {
			t.Fatalf("SetMode(%q) error: %v", a, err)
		}
	}

	tests := []struct {
		name    string
		addrs   []string
		want    []string
		wantErr error
	}{
		{
			name:  "caller order kept",
			addrs: []string{"10.0.0.3", "10.0.0.1"},
			want:  []string{"10.0.0.3", "10.0.0.1"},
		},
		{
			name:  "suspended endpoint omitted",
			addrs: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"},
			want:  []string{"10.0.0.1", "10.0.0.3"},
		},
		{
			name:  "all suspended",
			addrs: []string{"10.0.0.2"},
			want:  []string{},
		},
		{
			name:    "duplicate address",
			addrs:   []string{"10.0.0.1", "10.0.0.1"},
			wantErr: ErrDuplicateAddress,
		},
		{
			name:    "unregistered address",
			addrs:   []string{"10.0.0.1", "10.0.0.8"},
			wantErr: ErrNotRegistered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eps, err := reg.Participants(tt.addrs)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Participants() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Participants() unexpected error: %v", err)
			}
			got := make([]string, len(eps))
			for i, ep := range eps {
				got[i] = ep.Address()
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Participants() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRegistryIsLost(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry(500 * time.Millisecond)
	reg.now = func() time.Time { return now }

	ep, err := reg.Register("10.0.0.1")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	lost, err := reg.IsLost("10.0.0.1")
	if err != nil {
		t.Fatalf("IsLost() error: %v", err)
	}
	if lost {
		t.Error("IsLost() = true right after registration")
	}

	now = now.Add(600 * time.Millisecond)
	if lost, _ := reg.IsLost("10.0.0.1"); !lost {
		t.Error("IsLost() = false after silence past the threshold")
	}

	ep.applyPVC(PVC{Position: 1}, now)
	if lost, _ := reg.IsLost("10.0.0.1"); lost {
		t.Error("IsLost() = true right after a reply")
	}

	now = now.Add(400 * time.Millisecond)
	if lost, _ := reg.IsLost("10.0.0.1"); lost {
		t.Error("IsLost() = true inside the threshold")
	}

	// Sending does not count as contact.
	ep.markSent(now)
	now = now.Add(200 * time.Millisecond)
	if lost, _ := reg.IsLost("10.0.0.1"); !lost {
		t.Error("IsLost() = false, a send must not refresh the receive timestamp")
	}
}

func TestEndpointApplyPartialUpdate(t *testing.T) {
	reg := NewRegistry(0)
	ep, err := reg.Register("10.0.0.1")
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	at := time.Now()

	ep.applyPVC(PVC{Position: 1, Velocity: 2, Current: 3}, at)

	reply, err := DecodeReply(okReply(`"velocity":7.5,"status_word":4,"error_code":5,"mode_of_operation":3`))
	if err != nil {
		t.Fatalf("DecodeReply() error: %v", err)
	}
	ep.apply(reply.cacheUpdate(), at)

	snap := ep.Snapshot(at)
	want := Measured{Position: 1, Velocity: 7.5, Current: 3}
	if diff := cmp.Diff(want, snap.Measured); diff != "" {
		t.Errorf("Measured mismatch (-want +got):\n%s", diff)
	}
	if snap.StatusWord != 4 {
		t.Errorf("StatusWord = %d, want 4", snap.StatusWord)
	}
	if snap.ErrorCode != 5 {
		t.Errorf("ErrorCode = %d, want 5", snap.ErrorCode)
	}
	if snap.Mode != ModeVelocity {
		t.Errorf("Mode = %v, want velocity", snap.Mode)
	}
	if !snap.LastReceive.Equal(at) {
		t.Errorf("LastReceive = %v, want %v", snap.LastReceive, at)
	}
}

func TestEndpointQueueFIFO(t *testing.T) {
	reg := NewRegistry(0)
	if _, err := reg.Register("10.0.0.1"); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	for _, b := range []byte{0x01, 0x02, 0x03} {
		if err := reg.Enqueue("10.0.0.1", PortFast, []byte{b}); err != nil {
			t.Fatalf("Enqueue() error: %v", err)
		}
	}

	ep, _ := reg.Get("10.0.0.1")
	var got []byte
	for {
		f, ok := ep.nextFrame()
		if !ok {
			break
		}
		got = append(got, f.Payload[0])
		ep.popFrame(time.Now())
	}
	if diff := cmp.Diff([]byte{0x01, 0x02, 0x03}, got); diff != "" {
		t.Errorf("dequeue order mismatch (-want +got):\n%s", diff)
	}
}

func TestFaultCodeFaults(t *testing.T) {
	tests := []struct {
		name string
		code FaultCode
		want []string
	}{
		{name: "none", code: 0, want: nil},
		{name: "lowest bit", code: 1, want: []string{"overvoltage"}},
		{name: "two bits", code: 0b101, want: []string{"overvoltage", "overcurrent"}},
		{name: "unknown bit", code: 1 << 20, want: []string{"fault_bit_20"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.code.Faults()); diff != "" {
				t.Errorf("Faults() mismatch (-want +got):\n%s", diff)
			}
			if tt.code.HasFault() != (tt.code != 0) {
				t.Errorf("HasFault() = %v", tt.code.HasFault())
			}
		})
	}
}

func TestResultOf(t *testing.T) {
	tests := []struct {
		err  error
		want Result
	}{
		{err: nil, want: Success},
		{err: ErrTimeout, want: Timeout},
		{err: errors.Join(errors.New("10.0.0.1 get_pvc"), ErrTimeout), want: Timeout},
		{err: ErrStatus, want: Fail},
		{err: ErrMalformed, want: Fail},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := ResultOf(tt.err); got != tt.want {
				t.Errorf("ResultOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
