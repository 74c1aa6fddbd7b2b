// Package inventory keeps a durable record of the devices seen on the
// actuator network: their address, reported type and serial number, when
// they were first and last seen, and how often.
//
// Sightings come from discovery broadcasts and from the telemetry reporter,
// which records every actuator that answered during an interval. The
// record is informational; the live Registry remains the source of truth
// for which actuators are commanded.
package inventory
