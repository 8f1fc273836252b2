package mqtt

import "errors"

// Sentinels returned by the broker client. Timeouts surface wrapped in the
// publish, subscribe or connect sentinel of the operation that timed out.
var (
	// ErrNotConnected means the broker session is down; the bridge drops
	// the publish and relies on retained state after reconnect.
	ErrNotConnected = errors.New("mqtt: broker not connected")

	// ErrConnectionFailed wraps the initial CONNECT failure.
	ErrConnectionFailed = errors.New("mqtt: broker connection failed")

	ErrPublishFailed     = errors.New("mqtt: publish failed")
	ErrSubscribeFailed   = errors.New("mqtt: subscribe failed")
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects QoS levels outside 0-2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic rejects an empty topic or filter.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
