// Package influxdb records polled field values in InfluxDB.
//
// Client implements pollengine.ValueSink. Each changed numeric or boolean
// field becomes one point:
//
//	field_values,host=hvac:13507,moniker=Kitchen,field=Temperature value=21.5,serial=42i
//
// Writes go through the client's non-blocking write API and are batched
// according to config.yaml (influxdb.batch_size, influxdb.flush_interval).
// Write failures arrive asynchronously through SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	engine.SetValueSink(client)
package influxdb
