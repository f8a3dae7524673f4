package mqtt

import "errors"

// Errors for broker operations. Check them with errors.Is; publish and
// subscribe failures wrap the broker's own error.
var (
	// ErrNotConnected is returned while the broker link is down. Requests to
	// driver hosts fail fast with it instead of waiting for a reply timeout.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when the initial connect fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when the broker does not accept a publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrPayloadTooLarge is returned, wrapped in ErrPublishFailed, for
	// payloads over the 1MB cap. Large poll replies hit it first.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrSubscribeFailed is returned when a subscription is refused.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe is refused.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned for QoS levels other than 0, 1 or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")

	// ErrInvalidTopicLevel is returned when a host name or client id cannot
	// be used as one topic level.
	ErrInvalidTopicLevel = errors.New("mqtt: invalid topic level")
)
