// Package api implements the poller's HTTP REST API and WebSocket server.
//
// This package provides:
//   - Field read, write and definition endpoints backed by the poll engine
//   - Host and driver state snapshots
//   - Moniker directory overrides (source "api")
//   - A journal of writes and directory edits, when an audit log is wired
//   - WebSocket field watch sessions, one FieldPollInfo per watched field
//   - Middleware stack (request ID, logging, recovery, body limit)
//   - Prometheus /metrics when metrics are enabled
//
// # Routes
//
//	GET    /api/v1/health
//	GET    /api/v1/hosts
//	GET    /api/v1/fields/{moniker}/{field}
//	PUT    /api/v1/fields/{moniker}/{field}        {"value": "21.5", "credential": "..."}
//	GET    /api/v1/fields/{moniker}/{field}/info
//	GET    /api/v1/drivers/{moniker}/state
//	GET    /api/v1/directory
//	PUT    /api/v1/directory/{moniker}             {"host": "hvac:13507"}
//	DELETE /api/v1/directory/{moniker}
//	GET    /api/v1/audit?action=&target=&limit=&offset=
//	GET    /api/v1/ws
//
// Field names containing '#' must be percent-encoded in the path.
//
// # WebSocket
//
// Clients send {"type":"subscribe","payload":{"fields":["Kitchen.Temperature"]}}
// and receive a field.changed event for each field straight away and then
// whenever its value or state changes. Sessions survive host reconnects:
// each watched field re-registers itself when its link goes stale.
package api
