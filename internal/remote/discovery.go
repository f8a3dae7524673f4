package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-poller/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// SourceDiscovery tags directory entries learned from host announcements.
const SourceDiscovery = "discovery"

// recordTimeout bounds one directory update from an announcement.
const recordTimeout = 5 * time.Second

// HostRecorder stores what a host announced. The directory registry
// implements it.
type HostRecorder interface {
	// SetHostMonikers makes host the owner of monikers, replacing whatever
	// the same source recorded for host before.
	SetHostMonikers(ctx context.Context, host string, monikers []string, source string) error
}

// Discovery keeps the moniker directory in step with host announcements on
// graylogic/discovery/host/{host}.
type Discovery struct {
	bus      *mqtt.HostBus
	recorder HostRecorder
	logger   Logger
}

// NewDiscovery creates a discovery subscriber feeding recorder.
func NewDiscovery(bus *mqtt.HostBus, recorder HostRecorder) *Discovery {
	return &Discovery{bus: bus, recorder: recorder, logger: noopLogger{}}
}

// SetLogger sets the logger. Must be called before Start.
func (d *Discovery) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.logger = logger
}

// Start subscribes to every host announcement. Announcements are
// retained, so the broker replays the current set on subscribe.
func (d *Discovery) Start() error {
	if err := d.bus.WatchAnnouncements(d.HandleAnnouncement); err != nil {
		return fmt.Errorf("subscribing to announcements: %w", err)
	}
	return nil
}

// Stop unsubscribes from announcements.
func (d *Discovery) Stop() error {
	if err := d.bus.UnwatchAnnouncements(); err != nil {
		return fmt.Errorf("unsubscribing from announcements: %w", err)
	}
	return nil
}

// HandleAnnouncement records one announcement from host, as taken from
// the announcement topic. Invalid monikers are skipped and logged.
func (d *Discovery) HandleAnnouncement(host string, payload []byte) error {
	if !mqtt.ValidTopicLevel(host) {
		return fmt.Errorf("%w: %q", ErrInvalidHost, host)
	}

	var ann Announcement
	if err := json.Unmarshal(payload, &ann); err != nil {
		return fmt.Errorf("decoding announcement from %s: %w", host, err)
	}
	if ann.Host != "" && ann.Host != host {
		d.logger.Warn("announcement host differs from topic, using topic", "topic_host", host, "payload_host", ann.Host)
	}

	monikers := make([]string, 0, len(ann.Monikers))
	for _, m := range ann.Monikers {
		if !pollengine.ValidMoniker(m) {
			d.logger.Warn("ignoring invalid moniker in announcement", "host", host, "moniker", m)
			continue
		}
		monikers = append(monikers, m)
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := d.recorder.SetHostMonikers(ctx, host, monikers, SourceDiscovery); err != nil {
		return fmt.Errorf("recording announcement from %s: %w", host, err)
	}

	d.logger.Debug("host announcement recorded", "host", host, "monikers", len(monikers))
	return nil
}
