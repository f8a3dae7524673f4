// Package directory maps driver monikers to the hosts that run them.
//
// The poll engine resolves a moniker every time it meets a new one, so
// Registry keeps the whole directory in memory and answers Resolve from
// the cache alone. Entries come from three sources:
//
//	config     static seeds from config.yaml (directory.hosts)
//	api        operator overrides through the HTTP API
//	discovery  host announcements on graylogic/discovery/host/{host}
//
// Config and api entries are pinned: a discovery announcement never
// replaces them. Between the two pinned sources the latest write wins, so
// seeds are reapplied on every start.
//
// The table behind the cache is driver_hosts, created by the embedded
// migrations.
package directory
