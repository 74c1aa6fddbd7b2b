package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every fsanet topic.
const TopicPrefix = "fsanet"

// protocol is the address-space segment used for actuator topics.
const protocol = "fsa"

// Topics builds fsanet topic names. The scheme is flat:
// fsanet/{category}/fsa/{address}.
//
//	mqtt.Topics{}.State("192.168.137.101")
//	// fsanet/state/fsa/192.168.137.101
type Topics struct{}

// State is the retained per-actuator state topic.
func (Topics) State(address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, address)
}

// Command is the per-actuator mode command topic.
func (Topics) Command(address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, address)
}

// Health is the retained reporter health topic.
func (Topics) Health() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// Discovery carries the result of each discovery broadcast.
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, protocol)
}

// SystemStatus carries the daemon online/offline status and the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllStates matches every actuator state topic.
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, protocol)
}

// AllCommands matches every actuator command topic.
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocol)
}

// AddressFromTopic returns the trailing address segment of a state or
// command topic, or "" when topic is not one.
func (Topics) AddressFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[2] != protocol {
		return ""
	}
	if parts[1] != "state" && parts[1] != "command" {
		return ""
	}
	return parts[3]
}
