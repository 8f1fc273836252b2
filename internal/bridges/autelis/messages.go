package autelis

import (
	"fmt"
	"time"
)

// MQTT message types exchanged between the bridge and the host.

// CommandMessage is sent from the host to execute a node command.
// Topic: autelis/command/{node}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// NodeID is the target node. Taken from the topic when empty.
	NodeID string `json:"node_id"`

	// Command is the command name ("on", "off", "set_temperature", or the
	// host aliases DON, DOF, SET_TEMP).
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Example: {"value": 85} for set_temperature
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was sent to the appliance.
	AckAccepted AckStatus = "accepted"

	// AckQueued indicates the command waits for the running poll.
	AckQueued AckStatus = "queued"

	// AckDeferred indicates the command waits for its relay pair to settle.
	AckDeferred AckStatus = "deferred"

	// AckNoOp indicates the node already had the requested value.
	AckNoOp AckStatus = "noop"

	// AckConfirmed indicates a poll confirmed the new value.
	AckConfirmed AckStatus = "confirmed"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates no poll confirmed the command in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage acknowledges a command.
// Topic: autelis/ack/{node}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable  = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand     = "INVALID_COMMAND"
	ErrCodeInvalidParameters  = "INVALID_PARAMETERS"
	ErrCodeUnsupportedCommand = "UNSUPPORTED_COMMAND"
	ErrCodeProtocolError      = "PROTOCOL_ERROR"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeNotConfigured      = "NOT_CONFIGURED"
	ErrCodeBridgeError        = "BRIDGE_ERROR"
)

// StateMessage carries a node's appliance-confirmed state.
// Topic: autelis/state/{node}
// QoS: 1, Retained: Yes
type StateMessage struct {
	NodeID    string          `json:"node_id"`
	Class     CapabilityClass `json:"class"`
	Timestamp time.Time       `json:"timestamp"`
	State     map[string]any  `json:"state"`
}

// DiscoveryMessage announces a newly materialised node.
// Topic: autelis/discovery/{node}
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	Timestamp    time.Time       `json:"timestamp"`
	Bridge       string          `json:"bridge"`
	NodeID       string          `json:"node_id"`
	Class        CapabilityClass `json:"class"`
	Name         string          `json:"name"`
	PairKey      string          `json:"pair_key,omitempty"`
	Capabilities []string        `json:"capabilities"`
}

// ControllerMessage carries the appliance system status.
// Topic: autelis/controller
// QoS: 1, Retained: Yes
type ControllerMessage struct {
	Timestamp time.Time    `json:"timestamp"`
	Bridge    string       `json:"bridge"`
	Status    SystemStatus `json:"status"`
}

// HealthMessage reports bridge and appliance status.
// Topic: autelis/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string           `json:"bridge"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        HealthStatus     `json:"status"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Appliance     *ApplianceStatus `json:"appliance,omitempty"`
	NodesManaged  int              `json:"nodes_managed"`
	Reason        string           `json:"reason,omitempty"`
}

// ApplianceStatus describes reachability of the Autelis appliance.
type ApplianceStatus struct {
	Address             string     `json:"address"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
}

// RequestMessage is sent from the host for request/response operations.
// Topic: autelis/request/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state", "read_all" or "query".
	Action string `json:"action"`

	NodeID string `json:"node_id,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: autelis/response/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *AckError      `json:"error,omitempty"`
}

// Capabilities lists what a descriptor's node supports.
func Capabilities(d Descriptor) []string {
	switch d.Class {
	case ClassRelay, ClassPairedRelay:
		return []string{"on_off"}
	case ClassHeater:
		caps := []string{"on_off", "temperature_read"}
		if d.Settable {
			caps = append(caps, "setpoint")
		}
		return caps
	case ClassTempSensor:
		return []string{"temperature_read"}
	default:
		return nil
	}
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		NodeID:    cmd.NodeID,
		Status:    status,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	ack := NewAckMessage(cmd, status)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message for a node.
func NewStateMessage(id string, class CapabilityClass, value Value) StateMessage {
	return StateMessage{
		NodeID:    id,
		Class:     class,
		Timestamp: time.Now().UTC(),
		State:     value.Fields(class),
	}
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all bridge messages.
	TopicPrefix = "autelis"
)

// CommandTopic returns the MQTT topic for commands to a node.
// Example: autelis/command/spaht
func CommandTopic(node string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, node)
}

// AckTopic returns the MQTT topic for command acknowledgments.
func AckTopic(node string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, node)
}

// StateTopic returns the MQTT topic for node state.
func StateTopic(node string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, node)
}

// DiscoveryTopic returns the MQTT topic announcing a node.
func DiscoveryTopic(node string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefix, node)
}

// ControllerTopic returns the MQTT topic for the appliance system status.
func ControllerTopic() string {
	return TopicPrefix + "/controller"
}

// HealthTopic returns the MQTT topic for health status.
func HealthTopic() string {
	return TopicPrefix + "/health"
}

// RequestTopic returns the MQTT topic for requests.
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s", TopicPrefix, requestID)
}

// ResponseTopic returns the MQTT topic for responses.
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefix, requestID)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return TopicPrefix + "/command/+"
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
func RequestSubscribeTopic() string {
	return TopicPrefix + "/request/+"
}
