package telemetry

import (
	"time"

	"github.com/nerrad567/fsanet/internal/fsa"
)

// HealthStatus is the daemon's overall condition.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// StateMessage is published retained to fsanet/state/fsa/{address}.
type StateMessage struct {
	fsa.Snapshot
	State     string    `json:"state"`
	Faults    []string  `json:"faults,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newStateMessage(s fsa.Snapshot, now time.Time) StateMessage {
	return StateMessage{
		Snapshot:  s,
		State:     s.State.String(),
		Faults:    s.ErrorCode.Faults(),
		Timestamp: now.UTC(),
	}
}

// HealthMessage is published retained to fsanet/health/fsa.
type HealthMessage struct {
	Service       string          `json:"service"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        HealthStatus    `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Actuators     ActuatorSummary `json:"actuators"`
	Transport     *TransportInfo  `json:"transport,omitempty"`
	Loops         LoopInfo        `json:"loops"`
}

// ActuatorSummary counts registry endpoints.
type ActuatorSummary struct {
	Registered int `json:"registered"`
	Active     int `json:"active"`
	Lost       int `json:"lost"`
	Faulted    int `json:"faulted"`
}

// TransportInfo mirrors fsa.TransportStats.
type TransportInfo struct {
	DatagramsTx  uint64     `json:"datagrams_tx"`
	DatagramsRx  uint64     `json:"datagrams_rx"`
	Timeouts     uint64     `json:"timeouts"`
	Errors       uint64     `json:"errors"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// LoopInfo reports which background loops are running.
type LoopInfo struct {
	Sending   bool `json:"sending"`
	Receiving bool `json:"receiving"`
}

// DiscoveryMessage is published to fsanet/discovery/fsa after each
// discovery broadcast.
type DiscoveryMessage struct {
	Timestamp time.Time   `json:"timestamp"`
	Found     []fsa.Found `json:"found"`
}

func summarise(snaps []fsa.Snapshot) ActuatorSummary {
	sum := ActuatorSummary{Registered: len(snaps)}
	for _, s := range snaps {
		if s.State == fsa.StateActive {
			sum.Active++
			if s.Lost {
				sum.Lost++
			}
		}
		if s.ErrorCode.HasFault() {
			sum.Faulted++
		}
	}
	return sum
}

func newTransportInfo(st fsa.TransportStats) *TransportInfo {
	info := &TransportInfo{
		DatagramsTx: st.DatagramsTx,
		DatagramsRx: st.DatagramsRx,
		Timeouts:    st.Timeouts,
		Errors:      st.ErrorsTotal,
	}
	if !st.LastActivity.IsZero() {
		at := st.LastActivity.UTC()
		info.LastActivity = &at
	}
	return info
}
