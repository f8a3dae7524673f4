// Package pollengine provides the field polling engine for Gray Logic.
//
// Wall panels, gateway sessions and WebSocket sessions all want near-real-time
// values for named driver fields (e.g. "Thermostat1.Temperature") exposed by
// remote driver hosts. Rather than each of them opening its own connection,
// they register interest with the Engine, which keeps one connection per host,
// bulk-polls only the fields somebody is actually reading, and caches the
// latest value per field.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                               Engine                                 │
//	│  registry (mu)  host → serverItem, moniker → serverItem              │
//	│  prune goroutine: stops and removes idle hosts                       │
//	│                                                                      │
//	│  ┌──────────────────────────── serverItem ───────────────────────┐   │
//	│  │ catalog (mu): driverItem → fieldItem (value, serial, access)  │   │
//	│  │ pending registrations (mu)                                    │   │
//	│  │ poll goroutine: connect → load catalog → merge → poll → prune │   │
//	│  │ poll list: owned by the poll goroutine, never locked          │   │
//	│  └───────────────────────────────────────────────────────────────┘   │
//	└──────────────────────────────────────────────────────────────────────┘
//	           ▲ RegisterField / QueryValue / ReadValue / WriteField
//	           │
//	   FieldPollInfo (one per widget or session subscription)
//
// # Generation ids
//
// Every registration hands back a FieldLink, a five-part tuple of generation
// ids (server, driver list, driver, field list, field). A link is valid only
// while all five match the current catalog. Losing contact with a host assigns
// it a new server id, so every outstanding link for that host becomes stale
// and QueryValue reports QueryLinkStale instead of returning an old value.
//
// Each cached field also carries a serial number that increases whenever its
// value or delivery state changes. Callers pass back the last serial they saw
// and get QueryNoChange when nothing happened.
//
// # Locking
//
// The engine registry lock is never held while a per-host lock is taken,
// except on the narrow create path, and neither lock is ever held across a
// call to the remote host. The poll goroutine builds its request from its own
// poll list, issues the call with no lock held, then takes the host lock only
// to store the results. Other goroutines that want a field polled append to
// the pending queue; the poll goroutine folds it into the poll list itself.
//
// # Usage
//
//	engine, err := pollengine.New(pollengine.DefaultConfig(), dialer, directory)
//	engine.SetLogger(log)
//	if err := engine.Start(ctx, credential, 0); err != nil {
//	    return err
//	}
//	defer engine.Stop()
//
//	info := pollengine.NewFieldPollInfo("Kitchen", "Temperature", pollengine.AccessRead)
//	if info.Update(engine) {
//	    render(info.Value(), info.State())
//	}
package pollengine
