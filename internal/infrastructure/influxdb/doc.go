// Package influxdb writes pool telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every node value the
// engine reports becomes a pool_node_state point, the appliance system
// status becomes a pool_controller point, and each poll attempt becomes a
// pool_poll point. Dashboards can then chart water temperature against
// heater state without touching the appliance.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteNodeState("pooltemp", "TEMP_SENSOR", map[string]any{"temperature": 82}, time.Now())
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Asynchronous write errors are delivered to the callback
// set with SetOnError. Connection and health check errors are returned
// directly.
package influxdb
