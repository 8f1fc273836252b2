package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
)

const namespace = "autelis"

// Collector exports engine activity and node values as Prometheus metrics.
//
// It is an autelis.Host for values and health, and an autelis.Observer for
// polls and command outcomes. Register it once per registry.
type Collector struct {
	polls        prometheus.Counter
	pollFailures prometheus.Counter
	pollDuration prometheus.Histogram
	commands     *prometheus.CounterVec

	nodes       prometheus.Gauge
	nodeState   *prometheus.GaugeVec
	setpoint    *prometheus.GaugeVec
	temperature *prometheus.GaugeVec

	healthy             prometheus.Gauge
	consecutiveFailures prometheus.Gauge
	lastSuccess         prometheus.Gauge

	runState     prometheus.Gauge
	lowBattery   prometheus.Gauge
	batteryVolts prometheus.Gauge
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Status polls attempted against the appliance.",
		}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Status polls that failed (transport, auth or parse).",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Time to fetch and parse status.xml.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_outcomes_total",
			Help:      "Command outcomes by node and outcome.",
		}, []string{"node", "outcome"}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes",
			Help:      "Nodes discovered since start.",
		}),
		nodeState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_state",
			Help:      "Node on/off state as reported by the appliance (1=on, 0=off).",
		}, []string{"node", "class"}),
		setpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heater_setpoint",
			Help:      "Heater setpoint in the appliance's current unit.",
		}, []string{"node", "unit"}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature",
			Help:      "Temperature reading in the appliance's current unit.",
		}, []string{"node", "unit"}),
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "appliance_healthy",
			Help:      "1 if the last polls succeeded, 0 once health is degraded.",
		}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_poll_failures",
			Help:      "Failed polls since the last success.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful poll.",
		}),
		runState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_runstate",
			Help:      "Controller run state from the system section.",
		}),
		lowBattery: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_low_battery",
			Help:      "1 if the controller reports a low battery.",
		}),
		batteryVolts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_battery_volts",
			Help:      "Controller backup battery voltage.",
		}),
	}

	for _, col := range c.collectors() {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.polls, c.pollFailures, c.pollDuration, c.commands,
		c.nodes, c.nodeState, c.setpoint, c.temperature,
		c.healthy, c.consecutiveFailures, c.lastSuccess,
		c.runState, c.lowBattery, c.batteryVolts,
	}
}

// PollCompleted counts the poll and records its duration.
func (c *Collector) PollCompleted(d time.Duration, err error) {
	c.polls.Inc()
	c.pollDuration.Observe(d.Seconds())
	if err != nil {
		c.pollFailures.Inc()
		c.consecutiveFailures.Inc()
		return
	}
	c.consecutiveFailures.Set(0)
	c.lastSuccess.SetToCurrentTime()
}

// CommandFinished counts a command outcome.
func (c *Collector) CommandFinished(nodeID, outcome string) {
	c.commands.WithLabelValues(nodeID, outcome).Inc()
}

// DeclareNode counts a newly discovered node.
func (c *Collector) DeclareNode(context.Context, string, autelis.CapabilityClass) error {
	c.nodes.Inc()
	return nil
}

// ReportNodeState updates the gauges relevant to the node's class.
func (c *Collector) ReportNodeState(_ context.Context, id string, class autelis.CapabilityClass, value autelis.Value) error {
	if class != autelis.ClassTempSensor {
		state := 0.0
		if value.State != 0 {
			state = 1
		}
		c.nodeState.WithLabelValues(id, string(class)).Set(state)
	}

	if class.HasTemperature() && value.Unit != "" {
		unit := string(value.Unit)
		// Drop the series for the other unit so a scale change leaves one series.
		c.temperature.DeletePartialMatch(prometheus.Labels{"node": id})
		c.setpoint.DeletePartialMatch(prometheus.Labels{"node": id})

		if class == autelis.ClassTempSensor || value.Temperature != 0 {
			c.temperature.WithLabelValues(id, unit).Set(float64(value.Temperature))
		}
		if class == autelis.ClassHeater && value.Setpoint != 0 {
			c.setpoint.WithLabelValues(id, unit).Set(float64(value.Setpoint))
		}
	}
	return nil
}

// ReportHealth updates the appliance health gauges.
func (c *Collector) ReportHealth(_ context.Context, h autelis.Health) error {
	healthy := 0.0
	if h.Status == autelis.HealthHealthy {
		healthy = 1
	}
	c.healthy.Set(healthy)
	return nil
}

// ReportController updates the controller gauges.
func (c *Collector) ReportController(_ context.Context, s autelis.SystemStatus) error {
	c.runState.Set(float64(s.RunState))
	c.lowBattery.Set(float64(s.LowBattery))
	c.batteryVolts.Set(s.BatteryVolts)
	return nil
}
