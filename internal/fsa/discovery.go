package fsa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// discoveryProbe is the plaintext broadcast every actuator answers.
const discoveryProbe = "Is any fourier smart server here?"

// Discovery defaults.
const (
	DefaultDiscoveryTimeout     = time.Second
	DefaultDiscoveryMaxDuration = 5 * time.Second
)

// DiscoveryConfig controls a broadcast lookup.
type DiscoveryConfig struct {
	// BroadcastAddress is where the probe is sent on the comm port.
	// Default: DefaultBroadcastAddress.
	BroadcastAddress string

	// Filter keeps only replies whose "type" matches (TypeActuator,
	// TypeAbsEncoder, TypeCtrlBox). Empty keeps all.
	Filter string

	// Timeout ends the lookup once no reply arrived for this long.
	// Default: 1s.
	Timeout time.Duration

	// MaxDuration bounds the whole lookup. Default: 5s.
	MaxDuration time.Duration
}

func (c DiscoveryConfig) withDefaults() DiscoveryConfig {
	if c.BroadcastAddress == "" {
		c.BroadcastAddress = DefaultBroadcastAddress
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultDiscoveryTimeout
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultDiscoveryMaxDuration
	}
	return c
}

// Found is one device that answered the discovery probe.
type Found struct {
	Address      string          `json:"address"`
	Type         string          `json:"type,omitempty"`
	SerialNumber string          `json:"serial_number,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// Discover broadcasts the probe and collects the distinct addresses that
// answer, in arrival order. It stops at the first receive timeout, or at
// MaxDuration on a busy network. ErrNoResponders is returned when nothing
// matched.
//
// Discover holds the transport's exchange lock for its whole duration and
// must not run while a background receive loop owns the socket.
//
// Parameters:
//   - ctx: Cancels the lookup early; collected results are discarded
//   - t: Transport whose socket sends the broadcast and receives replies
//   - cfg: Broadcast address, optional type filter and time bounds
//   - logger: Receives per-device debug lines; nil discards them
//
// Returns:
//   - []Found: One entry per distinct responding address, in arrival order
//   - error: ErrNoResponders when nothing matched, or the context or transport error
func Discover(ctx context.Context, t *Transport, cfg DiscoveryConfig, logger Logger) ([]Found, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.MaxDuration)
	defer cancel()

	var found []Found
	err := t.Exchange(func() error {
		if err := t.Send(cfg.BroadcastAddress, PortComm, []byte(discoveryProbe)); err != nil {
			return fmt.Errorf("sending discovery probe: %w", err)
		}
		logger.Info("discovery probe sent", "broadcast", cfg.BroadcastAddress, "filter", cfg.Filter)

		seen := make(map[string]struct{})
		for {
			d, err := t.Receive(ctx, cfg.Timeout)
			switch {
			case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
				return nil
			case err != nil:
				return err
			}

			if _, dup := seen[d.IP]; dup {
				continue
			}

			f, ok := parseFound(d, cfg.Filter)
			logger.Debug("discovery reply", "source", d.IP, "type", f.Type, "kept", ok)
			if !ok {
				continue
			}
			seen[d.IP] = struct{}{}
			found = append(found, f)
		}
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNoResponders
	}

	logger.Info("discovery finished", "found", len(found))
	return found, nil
}

// parseFound reads the reply type and applies the filter. Without a filter
// any reply counts, even one that is not JSON.
func parseFound(d Datagram, filter string) (Found, bool) {
	f := Found{Address: d.IP}

	var body struct {
		Type         string `json:"type"`
		SerialNumber string `json:"serial_number"`
	}
	if json.Unmarshal(d.Data, &body) == nil {
		f.Type = body.Type
		f.SerialNumber = body.SerialNumber
		f.Raw = json.RawMessage(d.Data)
	}
	if filter != "" && f.Type != filter {
		return f, false
	}
	return f, true
}

// RegisterFound adds every discovered device to the registry and returns
// the resulting endpoints in discovery order.
func RegisterFound(r *Registry, found []Found) ([]*Endpoint, error) {
	out := make([]*Endpoint, 0, len(found))
	for _, f := range found {
		ep, err := r.Register(f.Address)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}
