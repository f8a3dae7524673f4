package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-poller/internal/pollengine"
)

// MeasurementFieldValues is the measurement holding polled field history.
const MeasurementFieldValues = "field_values"

var _ pollengine.ValueSink = (*Client)(nil)

// WriteFieldValue records one field reading.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - host: Driver host the value was polled from
//   - moniker: Driver moniker (e.g., "Kitchen")
//   - field: Field name (e.g., "Temperature")
//   - value: Numeric value; booleans are recorded as 0 or 1
//   - serial: Host-side change serial of the reading
//   - at: Time the poll reply arrived
func (c *Client) WriteFieldValue(host, moniker, field string, value float64, serial uint32, at time.Time) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(fieldPoint(host, moniker, field, value, serial, at))
}

// FieldsChanged records every numeric or boolean value in changes. String,
// list and time values and fields not in the ready state are skipped.
func (c *Client) FieldsChanged(changes []pollengine.FieldChange) {
	if !c.IsConnected() {
		return
	}

	now := time.Now()
	for _, ch := range changes {
		if ch.Reading.State != pollengine.FieldStateReady {
			continue
		}
		v, ok := ch.Reading.Value.Float64()
		if !ok {
			continue
		}
		c.writeAPI.WritePoint(fieldPoint(ch.Host, ch.Moniker, ch.Field.Name, v, ch.Reading.Serial, now))
	}
}

func fieldPoint(host, moniker, field string, value float64, serial uint32, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementFieldValues,
		map[string]string{
			"host":    host,
			"moniker": moniker,
			"field":   field,
		},
		map[string]interface{}{
			"value":  value,
			"serial": int64(serial),
		},
		at,
	)
}
