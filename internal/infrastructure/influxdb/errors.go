package influxdb

import "errors"

// Sentinels returned by the history export client. Point writes are
// asynchronous; their failures reach the error callback, not the caller.
var (
	// ErrNotConnected is returned after Close.
	ErrNotConnected = errors.New("influxdb: client closed")

	// ErrConnectionFailed wraps a failed ping or unhealthy server at Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled means the influxdb section is switched off; callers skip
	// the exporter.
	ErrDisabled = errors.New("influxdb: export disabled")
)
