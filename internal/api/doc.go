// Package api implements the HTTP REST API and WebSocket server for the
// Autelis bridge.
//
// This package provides:
//   - REST endpoints for node listing, commands, history and full reports
//   - A WebSocket hub that doubles as an engine Host for live pushes
//   - The Prometheus scrape endpoint
//   - Middleware (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API is a second host surface next to MQTT. Commands go through the
// same gateway the MQTT bridge uses and share its settle spacing. State
// never changes because of an API call; the hub only broadcasts what a
// poll confirmed.
//
// # Graceful Degradation
//
// History endpoints answer 503 when the database is disabled. The server
// runs without MQTT; /health then omits mqtt_connected.
package api
