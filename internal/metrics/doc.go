// Package metrics exposes the bridge on a Prometheus registry.
//
// The Collector is attached to the engine alongside the MQTT publisher, so
// gauges only move when the appliance confirms a change. The API server
// serves the registry at the configured metrics path.
package metrics
