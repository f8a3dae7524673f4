// Package mqtt provides MQTT client connectivity for the Gray Logic poller.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS guarantees
//   - Subscriptions with wildcard support, restored on reconnect
//   - A retained status topic with a Last Will for offline detection
//
// # Architecture
//
// The poller reaches driver hosts through the same broker the rest of
// Gray Logic uses. Admin requests go to each host's request topic and the
// hosts answer on this poller's reply topic:
//
//	Poller ──request──▶ graylogic/driverhost/{host}/request ──▶ Driver host
//	Poller ◀──reply──── graylogic/poller/{client}/reply    ◀── Driver host
//
// Hosts announce the monikers they serve on graylogic/discovery/host/{host}
// and keep a retained status on graylogic/driverhost/{host}/status.
// HostBus owns this layout; Client itself only knows topics and payloads.
//
// # Security Considerations
//
//   - TLS should be enabled for production deployments (cfg.Broker.TLS=true)
//   - Request payloads carry the engine credential; restrict the request
//     topics with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	dialer := remote.NewDialer(client.HostBus(), cfg.Remote.ClientName)
package mqtt
