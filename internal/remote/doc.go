// Package remote connects the poll engine to driver hosts over MQTT.
//
// Dialer implements pollengine.Dialer. Each admin call is one JSON
// request published on the host's request topic and one reply on this
// poller's reply topic, matched by a UUID request id:
//
//	Engine ──Conn.Poll──▶ Dialer.call ──▶ graylogic/driverhost/{host}/request
//	                           ▲
//	                           └── reply by id ◀── graylogic/poller/{client}/reply
//
// A session starts with a hello carrying the engine credential; the host
// answers with a session token sent on every later request. A host that
// reports offline on its retained status topic breaks its sessions at
// once, so the poll loop reconnects without waiting for a call timeout.
//
// Discovery subscribes to host announcements and records which host
// serves which driver monikers in the directory.
package remote
