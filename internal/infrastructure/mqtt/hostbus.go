package mqtt

import (
	"encoding/json"
	"fmt"
)

// PubSub is the raw broker surface HostBus is built on.
// *Client satisfies it.
type PubSub interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
}

var _ PubSub = (*Client)(nil)

// ReplyHandler receives one reply addressed to this poller.
type ReplyHandler func(payload []byte) error

// HostStatusHandler receives a decoded driver host status.
type HostStatusHandler func(host string, status StatusMessage) error

// AnnouncementHandler receives the raw announcement of one driver host.
type AnnouncementHandler func(host string, payload []byte) error

// HostBus is the poller's side of the driver host topic layout:
//
//	graylogic/driverhost/{host}/request   requests, never retained
//	graylogic/poller/{client}/reply       replies to this poller
//	graylogic/driverhost/{host}/status    retained host status (LWT)
//	graylogic/discovery/host/{host}       retained host announcements
//
// Handlers get the host already taken from the topic. Empty retained
// payloads, which clear a status or announcement, are not delivered.
type HostBus struct {
	ps  PubSub
	qos byte
}

// NewHostBus builds a HostBus over ps using qos for every publish and
// subscription.
func NewHostBus(ps PubSub, qos byte) *HostBus {
	return &HostBus{ps: ps, qos: qos}
}

// HostBus returns a HostBus over this client at its configured QoS.
func (c *Client) HostBus() *HostBus {
	return NewHostBus(c, c.QoS())
}

// Request publishes payload on host's request topic. Requests are never
// retained so a host coming up later does not act on an old call.
func (b *HostBus) Request(host string, payload []byte) error {
	if !ValidTopicLevel(host) {
		return fmt.Errorf("%w: host %q", ErrInvalidTopicLevel, host)
	}
	return b.ps.Publish(Topics{}.HostRequest(host), payload, b.qos, false)
}

// ServeReplies subscribes handler to the reply topic of clientID.
func (b *HostBus) ServeReplies(clientID string, handler ReplyHandler) error {
	if !ValidTopicLevel(clientID) {
		return fmt.Errorf("%w: client id %q", ErrInvalidTopicLevel, clientID)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	return b.ps.Subscribe(Topics{}.PollerReply(clientID), b.qos, func(_ string, payload []byte) error {
		return handler(payload)
	})
}

// StopReplies unsubscribes from the reply topic of clientID.
func (b *HostBus) StopReplies(clientID string) error {
	return b.ps.Unsubscribe(Topics{}.PollerReply(clientID))
}

// WatchHostStatus subscribes handler to every driver host's status topic.
func (b *HostBus) WatchHostStatus(handler HostStatusHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	return b.ps.Subscribe(Topics{}.HostStatus("+"), b.qos, func(topic string, payload []byte) error {
		if len(payload) == 0 {
			return nil
		}
		host, ok := Topics{}.HostFromStatus(topic)
		if !ok {
			return fmt.Errorf("%w: status topic %q", ErrInvalidTopicLevel, topic)
		}
		var status StatusMessage
		if err := json.Unmarshal(payload, &status); err != nil {
			return fmt.Errorf("decoding status of %s: %w", host, err)
		}
		return handler(host, status)
	})
}

// UnwatchHostStatus drops the host status subscription.
func (b *HostBus) UnwatchHostStatus() error {
	return b.ps.Unsubscribe(Topics{}.HostStatus("+"))
}

// WatchAnnouncements subscribes handler to every host announcement. The
// broker replays the retained set on subscribe.
func (b *HostBus) WatchAnnouncements(handler AnnouncementHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	return b.ps.Subscribe(Topics{}.AllHostAnnouncements(), b.qos, func(topic string, payload []byte) error {
		if len(payload) == 0 {
			return nil
		}
		host, ok := Topics{}.HostFromAnnouncement(topic)
		if !ok {
			return fmt.Errorf("%w: announcement topic %q", ErrInvalidTopicLevel, topic)
		}
		return handler(host, payload)
	})
}

// UnwatchAnnouncements drops the announcement subscription.
func (b *HostBus) UnwatchAnnouncements() error {
	return b.ps.Unsubscribe(Topics{}.AllHostAnnouncements())
}
