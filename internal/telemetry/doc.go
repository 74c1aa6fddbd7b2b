// Package telemetry publishes what the fsanet daemon knows about its
// actuators.
//
// A Reporter runs two tickers. Every Interval it snapshots the Registry and
// publishes one retained state message per actuator, writes a history
// sample for each, and records the actuators that answered since the last
// tick in the inventory. Every HealthInterval it publishes a retained
// health summary. Each sink is optional.
//
// CommandHandler is the inbound side: mode commands arriving on
// fsanet/command/fsa/{address} set an actuator's enabled, blocking and
// fast flags.
package telemetry
