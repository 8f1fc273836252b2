package mqtt

import "fmt"

// TopicPrefix is the base of every topic the bridge uses.
const TopicPrefix = "autelis"

// Topics builds the connection-level topics owned by this package.
// Node, ack and request topics are built by the autelis bridge package.
type Topics struct{}

// SystemStatus returns the MQTT client presence topic.
//
// Example: autelis/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// Category returns the wildcard for one topic category.
//
// Example: autelis/state/+
func (Topics) Category(category string) string {
	return fmt.Sprintf("%s/%s/+", TopicPrefix, category)
}

// All returns the wildcard for every bridge topic.
func (Topics) All() string {
	return TopicPrefix + "/#"
}
