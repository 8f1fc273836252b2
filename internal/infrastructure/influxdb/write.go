package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementNodeState  = "pool_node_state"
	MeasurementController = "pool_controller"
	MeasurementPoll       = "pool_poll"
)

// WriteNodeState records a node's value. Tags are the node id and its
// capability class; fields are the class-relevant parts of the value.
//
//	client.WriteNodeState("spaht", "HEATER", map[string]any{"on": true, "setpoint": 102}, ts)
func (c *Client) WriteNodeState(nodeID, class string, fields map[string]any, ts time.Time) {
	if len(fields) == 0 {
		return
	}
	c.WritePointWithTime(MeasurementNodeState,
		map[string]string{
			"node_id": nodeID,
			"class":   class,
		},
		fields,
		ts,
	)
}

// WriteController records the appliance system status.
func (c *Client) WriteController(runState, opMode, lowBattery int, batteryVolts float64, ts time.Time) {
	c.WritePointWithTime(MeasurementController,
		nil,
		map[string]any{
			"runstate":      runState,
			"opmode":        opMode,
			"lowbat":        lowBattery,
			"battery_volts": batteryVolts,
		},
		ts,
	)
}

// WritePoll records one poll attempt.
func (c *Client) WritePoll(duration time.Duration, ok bool) {
	c.WritePoint(MeasurementPoll,
		nil,
		map[string]any{
			"duration_ms": float64(duration.Microseconds()) / 1000,
			"ok":          ok,
		},
	)
}

// WritePoint writes a custom point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	if tags == nil {
		tags = map[string]string{}
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
