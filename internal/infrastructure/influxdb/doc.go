// Package influxdb records actuator telemetry history in InfluxDB v2.
//
// It wraps influxdb-client-go with the non-blocking batching write API.
// Each sample becomes one point in the actuator_telemetry measurement,
// tagged by actuator address:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history not configured
//	}
//	defer client.Close()
//
//	client.WriteActuatorTelemetry(influxdb.ActuatorSample{Address: addr, Position: 1.2})
//
// Batching follows the batch_size and flush_interval config keys. Write
// failures are reported asynchronously through SetOnError.
package influxdb
