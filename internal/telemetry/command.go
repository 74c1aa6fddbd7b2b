package telemetry

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/fsanet/internal/fsa"
	"github.com/nerrad567/fsanet/internal/infrastructure/mqtt"
)

// ModeCommand changes an actuator's mode flags. Omitted fields keep their
// current value.
type ModeCommand struct {
	Enabled  *bool `json:"enabled,omitempty"`
	Blocking *bool `json:"blocking,omitempty"`
	Fast     *bool `json:"fast,omitempty"`
}

// CommandHandler applies mode commands to a registry.
type CommandHandler struct {
	registry *fsa.Registry
	logger   fsa.Logger
}

// NewCommandHandler creates a handler for registry. logger may be nil.
func NewCommandHandler(registry *fsa.Registry, logger fsa.Logger) *CommandHandler {
	return &CommandHandler{registry: registry, logger: logger}
}

// Handle matches mqtt.MessageHandler. The actuator address is the last
// topic segment; the actuator must already be registered.
func (h *CommandHandler) Handle(topic string, payload []byte) error {
	addr := mqtt.Topics{}.AddressFromTopic(topic)
	if addr == "" {
		return fmt.Errorf("not a command topic: %q", topic)
	}

	var cmd ModeCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decoding command for %s: %w", addr, err)
	}

	ep, err := h.registry.Get(addr)
	if err != nil {
		return err
	}
	enabled := pick(cmd.Enabled, ep.State() == fsa.StateActive)
	blocking := pick(cmd.Blocking, ep.Blocking())
	fast := pick(cmd.Fast, ep.Fast())

	if err := h.registry.SetMode(addr, enabled, blocking, fast); err != nil {
		return err
	}
	if h.logger != nil {
		h.logger.Info("actuator mode changed by command",
			"address", addr, "enabled", enabled, "blocking", blocking, "fast", fast)
	}
	return nil
}

func pick(v *bool, current bool) bool {
	if v == nil {
		return current
	}
	return *v
}
