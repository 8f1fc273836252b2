// Package autelis synchronises an Autelis Pool Control appliance with a
// home-automation host.
//
// The appliance exposes Jandy/Zodiac Aqualink equipment over a small HTTP
// interface: /status.xml for state and /set.cgi for writes. This package
// polls that interface and turns its equipment, temperature and system
// sections into long-lived nodes, and forwards host commands back.
//
// # Architecture
//
//	┌──────────────┐  MQTT   ┌───────────────────────────────┐  HTTP  ┌───────────┐
//	│     Host     │◄───────►│ Bridge ─ Gateway ─ Engine     │◄──────►│  Autelis  │
//	└──────────────┘         │            Registry ─ Catalog │        └───────────┘
//	                         └───────────────────────────────┘
//
// # Poll cycle
//
// The Engine runs one loop goroutine. Each tick moves it through
// IDLE → POLLING → DIFFING → PUSHING → IDLE:
//
//   - POLLING: Client.FetchStatus runs on a worker goroutine; commands that
//     arrive meanwhile are queued.
//   - DIFFING: every catalog entry with a value in the snapshot is upserted
//     into the Registry. Nodes appear the first time the appliance reports
//     them and are never removed.
//   - PUSHING: changed nodes are reported to the Host. This is the only
//     place node state is emitted.
//
// Three consecutive failed polls mark health degraded; polling continues.
//
// # Commands
//
// Equipment accepts only on/off; heaters with a setpoint also accept
// set_temperature. Commands sharing a lock key (spa/spaht, pump/poolht)
// are dispatched one at a time with a settle window between them, and each
// stays pending until a later poll confirms it or the command timeout
// elapses.
//
// # Temperature unit
//
// When the appliance switches between F and C, temperature pushes are held
// for that poll and every temperature node is pushed once the next poll
// reports the same unit.
package autelis
