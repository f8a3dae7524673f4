package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the poller's share of the Gray Logic bus.
const (
	TopicPrefix = "graylogic"

	// TopicPrefixHost is the base for per driver host topics.
	TopicPrefixHost = TopicPrefix + "/driverhost"

	// TopicPrefixPoller is the base for per poller topics.
	TopicPrefixPoller = TopicPrefix + "/poller"

	// TopicPrefixDiscovery is the base for host announcements.
	TopicPrefixDiscovery = TopicPrefix + "/discovery/host"
)

// Topics provides builders for the poller's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.HostRequest("hvac:13507")
//	// Returns: "graylogic/driverhost/hvac:13507/request"
type Topics struct{}

// HostRequest returns the topic a driver host reads admin requests from.
//
// Example: graylogic/driverhost/hvac:13507/request
func (Topics) HostRequest(host string) string {
	return fmt.Sprintf("%s/%s/request", TopicPrefixHost, host)
}

// HostStatus returns a driver host's retained online/offline status topic.
//
// Example: graylogic/driverhost/hvac:13507/status
func (Topics) HostStatus(host string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixHost, host)
}

// PollerReply returns the topic driver hosts answer this poller on.
//
// Example: graylogic/poller/graylogic-poller/reply
func (Topics) PollerReply(clientID string) string {
	return fmt.Sprintf("%s/%s/reply", TopicPrefixPoller, clientID)
}

// PollerStatus returns this poller's retained status topic (also its LWT).
//
// Example: graylogic/poller/graylogic-poller/status
func (Topics) PollerStatus(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixPoller, clientID)
}

// HostAnnouncement returns the topic a driver host announces its monikers on.
//
// Example: graylogic/discovery/host/hvac:13507
func (Topics) HostAnnouncement(host string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixDiscovery, host)
}

// AllHostAnnouncements matches every host announcement.
//
// Pattern: graylogic/discovery/host/+
func (Topics) AllHostAnnouncements() string {
	return TopicPrefixDiscovery + "/+"
}

// HostFromAnnouncement extracts the host from an announcement topic.
func (Topics) HostFromAnnouncement(topic string) (string, bool) {
	host, ok := strings.CutPrefix(topic, TopicPrefixDiscovery+"/")
	if !ok || !ValidTopicLevel(host) {
		return "", false
	}
	return host, true
}

// HostFromStatus extracts the host from a driver host status topic.
func (Topics) HostFromStatus(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefixHost+"/")
	if !ok {
		return "", false
	}
	host, ok := strings.CutSuffix(rest, "/status")
	if !ok || !ValidTopicLevel(host) {
		return "", false
	}
	return host, true
}

// ValidTopicLevel reports whether s can be used as a single topic level:
// non-empty with no separator or wildcard characters.
func ValidTopicLevel(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/+#\x00")
}

// Match reports whether topic matches an MQTT subscription filter that
// may use the + and # wildcards.
func Match(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
