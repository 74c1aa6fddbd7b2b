package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementActuator is the measurement holding actuator feedback.
const MeasurementActuator = "actuator_telemetry"

// ActuatorSample is one actuator feedback reading.
type ActuatorSample struct {
	Address   string
	Position  float64
	Velocity  float64
	Torque    float64
	Current   float64
	ErrorCode uint32
	Lost      bool

	// At is the reading time. Zero means now.
	At time.Time
}

// WriteActuatorTelemetry queues one sample. No-op while disconnected.
func (c *Client) WriteActuatorTelemetry(s ActuatorSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(actuatorPoint(s))
}

func actuatorPoint(s ActuatorSample) *write.Point {
	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementActuator,
		map[string]string{"address": s.Address},
		map[string]interface{}{
			"position":   s.Position,
			"velocity":   s.Velocity,
			"torque":     s.Torque,
			"current":    s.Current,
			"error_code": int64(s.ErrorCode),
			"lost":       s.Lost,
		},
		at,
	)
}

// WritePoint queues a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
