// Package fsa implements the UDP communication layer for networked smart
// actuators (FSA).
//
// Every actuator is addressed by its IPv4 address and listens on three fixed
// ports:
//
//   - 2333 (control): descriptive JSON requests for parameters, state and
//     closed-loop setpoints
//   - 2334 (comm): JSON network configuration, OTA triggers and the plaintext
//     discovery probe
//   - 2335 (fast): compact binary frames for high-rate setpoints and telemetry
//
// # Components
//
//   - Registry: ordered set of Endpoints keyed by address. Each Endpoint owns
//     its caches, flags and outgoing frame queue behind its own lock.
//   - Transport: the single shared UDP socket with bounded receives.
//   - Client: per-device operation catalogue (control, comm and fast ports).
//   - Coordinator: group variants that broadcast to many actuators and
//     attribute the replies back to their senders by source address.
//   - Sync: optional background loops that drain the outgoing queues, consume
//     every inbound datagram into the endpoint caches, and poll telemetry.
//   - Discover: the broadcast lookup of actuators on the LAN.
//
// # Results
//
// Operations return a plain error. ResultOf folds any error into the
// tri-state Result (Success, Fail, Timeout). Group operations never fail as a
// whole because of one device: each participating actuator gets its own Slot.
//
// # Usage
//
//	reg := fsa.NewRegistry(fsa.DefaultLossThreshold)
//	reg.Register("192.168.137.101")
//	_ = reg.SetMode("192.168.137.101", true, true, false)
//
//	tr, err := fsa.Listen(fsa.TransportConfig{})
//	if err != nil {
//	    return err
//	}
//	defer tr.Close()
//
//	client := fsa.NewClient(fsa.Config{Transport: tr, Registry: reg})
//	pvc, err := client.GetPVC(ctx, "192.168.137.101")
package fsa
