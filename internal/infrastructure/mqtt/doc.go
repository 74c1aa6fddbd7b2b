// Package mqtt connects the fsanet daemon to an MQTT broker.
//
// The daemon publishes retained actuator state, reporter health and
// discovery results, and listens for per-actuator mode commands. Topics
// follow a flat scheme built by Topics:
//
//	fsanet/state/fsa/{address}     retained actuator snapshot
//	fsanet/command/fsa/{address}   inbound mode command
//	fsanet/health/fsa              retained reporter health
//	fsanet/discovery/fsa           discovery broadcast results
//	fsanet/system/status           online/offline, also the LWT
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishRetained(mqtt.Topics{}.State(addr), payload)
package mqtt
