// Package hub is the code distribution hub: it owns the authoritative module
// registry and the set of connected live clients.
//
// Files by concern:
//
//   - hub.go: Hub type, constructor, connection lifecycle (Attach/Serve/Detach).
//   - config.go: Config and package defaults.
//   - module.go: Module registry entries and read-only listings.
//   - bootstrap.go: replay of current modules to a freshly attached client.
//   - push.go: Push, Remove and Broadcast.
//   - reload.go: store resync and TTL expiry.
//   - inbound.go: observability-only handling of client messages.
//   - errors.go: error types and IsXxx helpers.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: Prometheus collectors.
//
// Every registry and connection-set mutation happens on the hub's event loop
// goroutine. Pushed source is compiled on the caller's goroutine before the
// loop is entered. Bootstrap compiles stale modules on the loop so that no
// broadcast can reach a new client ahead of its replay.
package hub
