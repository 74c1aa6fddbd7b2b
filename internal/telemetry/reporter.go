package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/fsanet/internal/fsa"
	"github.com/nerrad567/fsanet/internal/infrastructure/influxdb"
	"github.com/nerrad567/fsanet/internal/infrastructure/mqtt"
	"github.com/nerrad567/fsanet/internal/inventory"
)

const (
	defaultInterval       = time.Second
	defaultHealthInterval = 30 * time.Second

	serviceName = "fsanet"
	publishQoS  = 1
)

// Publisher is the interface for publishing messages. It is typically
// implemented by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// HistoryWriter records telemetry samples. Implemented by *influxdb.Client.
type HistoryWriter interface {
	WriteActuatorTelemetry(s influxdb.ActuatorSample)
}

// Recorder stores sightings. Implemented by *inventory.SQLiteRepository.
type Recorder interface {
	Record(ctx context.Context, sightings []inventory.Sighting) error
}

// Snapshotter provides actuator snapshots. Implemented by *fsa.Registry.
type Snapshotter interface {
	Snapshots() []fsa.Snapshot
}

// StatsSource provides transport counters. Implemented by *fsa.Transport.
type StatsSource interface {
	Stats() fsa.TransportStats
}

// Logger is the logging subset the reporter uses.
type Logger interface {
	Error(msg string, args ...any)
}

// ReporterConfig holds the reporter's collaborators. Only Registry is
// required; nil sinks are skipped. Sync may be nil when no background
// loops run.
type ReporterConfig struct {
	Version        string
	Interval       time.Duration
	HealthInterval time.Duration

	Registry  Snapshotter
	Transport StatsSource
	Sync      *fsa.Sync

	Publisher Publisher
	History   HistoryWriter
	Inventory Recorder
}

// Reporter periodically publishes actuator state and daemon health.
type Reporter struct {
	cfg       ReporterConfig
	startTime time.Time
	now       func() time.Time

	// markMu guards mark, the time of the previous state publish. Actuators
	// that answered after it are recorded as seen.
	markMu sync.Mutex
	mark   time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewReporter creates a reporter. Call Start to begin publishing.
func NewReporter(cfg ReporterConfig) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	now := time.Now()
	return &Reporter{
		cfg:       cfg,
		startTime: now,
		now:       time.Now,
		mark:      now,
		done:      make(chan struct{}),
	}
}

// SetLogger sets the logger for publish failures.
func (r *Reporter) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// Start launches the report loop. It stops on ctx cancellation or Stop.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop ends the loop and publishes a final "stopping" health message.
// Safe to call multiple times.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		//nolint:errcheck // best effort during shutdown
		r.publishHealth(HealthStopping, "")
	})
}

// PublishStarting publishes a "starting" health message.
func (r *Reporter) PublishStarting() error {
	return r.publishHealth(HealthStarting, "daemon starting")
}

// PublishHealth publishes the current health immediately.
func (r *Reporter) PublishHealth() error {
	status, reason := r.determineStatus()
	return r.publishHealth(status, reason)
}

// PublishDiscovery publishes the result of a discovery broadcast.
func (r *Reporter) PublishDiscovery(found []fsa.Found) error {
	if !r.canPublish() {
		return nil
	}
	if found == nil {
		found = []fsa.Found{}
	}
	payload, err := json.Marshal(DiscoveryMessage{Timestamp: r.now().UTC(), Found: found})
	if err != nil {
		return fmt.Errorf("encoding discovery message: %w", err)
	}
	return r.cfg.Publisher.Publish(mqtt.Topics{}.Discovery(), payload, publishQoS, false)
}

// PublishStates publishes every actuator snapshot, writes history and
// records sightings. It returns the first publish error after trying every
// actuator.
func (r *Reporter) PublishStates(ctx context.Context) error {
	now := r.now()
	snaps := r.cfg.Registry.Snapshots()

	r.markMu.Lock()
	since := r.mark
	r.mark = now
	r.markMu.Unlock()

	var firstErr error
	publish := r.canPublish()

	for _, s := range snaps {
		if publish {
			if err := r.publishState(s, now); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if r.cfg.History != nil && s.State == fsa.StateActive {
			r.cfg.History.WriteActuatorTelemetry(sample(s, now))
		}
	}

	if seen := sightingsSince(snaps, since); r.cfg.Inventory != nil && len(seen) > 0 {
		if err := r.cfg.Inventory.Record(ctx, seen); err != nil {
			r.logError("failed to record sightings", err)
		}
	}
	return firstErr
}

func (r *Reporter) loop(ctx context.Context) {
	defer r.wg.Done()

	states := time.NewTicker(r.cfg.Interval)
	defer states.Stop()
	health := time.NewTicker(r.cfg.HealthInterval)
	defer health.Stop()

	if err := r.PublishHealth(); err != nil {
		r.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-states.C:
			if err := r.PublishStates(ctx); err != nil {
				r.logError("failed to publish actuator state", err)
			}
		case <-health.C:
			if err := r.PublishHealth(); err != nil {
				r.logError("failed to publish health", err)
			}
		}
	}
}

func (r *Reporter) publishState(s fsa.Snapshot, now time.Time) error {
	payload, err := json.Marshal(newStateMessage(s, now))
	if err != nil {
		return fmt.Errorf("encoding state for %s: %w", s.Address, err)
	}
	return r.cfg.Publisher.Publish(mqtt.Topics{}.State(s.Address), payload, publishQoS, true)
}

func (r *Reporter) determineStatus() (HealthStatus, string) {
	if !r.canPublish() {
		return HealthDegraded, "MQTT disconnected"
	}
	sum := summarise(r.cfg.Registry.Snapshots())
	if sum.Lost > 0 {
		return HealthDegraded, fmt.Sprintf("%d of %d active actuators lost", sum.Lost, sum.Active)
	}
	if sum.Faulted > 0 {
		return HealthDegraded, fmt.Sprintf("%d actuators reporting faults", sum.Faulted)
	}
	return HealthHealthy, ""
}

func (r *Reporter) publishHealth(status HealthStatus, reason string) error {
	if !r.canPublish() {
		return nil
	}

	msg := HealthMessage{
		Service:       serviceName,
		Timestamp:     r.now().UTC(),
		Status:        status,
		Reason:        reason,
		Version:       r.cfg.Version,
		UptimeSeconds: int64(r.now().Sub(r.startTime).Seconds()),
		Actuators:     summarise(r.cfg.Registry.Snapshots()),
		Loops: LoopInfo{
			Sending:   r.cfg.Sync.Sending(),
			Receiving: r.cfg.Sync.Receiving(),
		},
	}
	if r.cfg.Transport != nil {
		msg.Transport = newTransportInfo(r.cfg.Transport.Stats())
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding health message: %w", err)
	}
	return r.cfg.Publisher.Publish(mqtt.Topics{}.Health(), payload, publishQoS, true)
}

func (r *Reporter) canPublish() bool {
	return r.cfg.Publisher != nil && r.cfg.Publisher.IsConnected()
}

func (r *Reporter) logError(msg string, err error) {
	r.loggerMu.RLock()
	logger := r.logger
	r.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// sightingsSince returns a sighting for every actuator that answered after
// since.
func sightingsSince(snaps []fsa.Snapshot, since time.Time) []inventory.Sighting {
	var seen []inventory.Sighting
	for _, s := range snaps {
		if s.LastReceive.After(since) {
			seen = append(seen, inventory.Sighting{Address: s.Address, At: s.LastReceive})
		}
	}
	return seen
}

func sample(s fsa.Snapshot, at time.Time) influxdb.ActuatorSample {
	return influxdb.ActuatorSample{
		Address:   s.Address,
		Position:  s.Measured.Position,
		Velocity:  s.Measured.Velocity,
		Torque:    s.Measured.Torque,
		Current:   s.Measured.Current,
		ErrorCode: uint32(s.ErrorCode),
		Lost:      s.Lost,
		At:        at,
	}
}
