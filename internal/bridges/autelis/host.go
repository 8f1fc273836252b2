package autelis

import (
	"context"
	"errors"
	"time"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Host is the collaborator that receives node lifecycle and state events.
//
// Calls are made from the engine goroutine, so implementations should not
// block for long.
type Host interface {
	// DeclareNode is called once, the first time a node is materialised.
	DeclareNode(ctx context.Context, id string, class CapabilityClass) error

	// ReportNodeState is called when a node's appliance-confirmed value changes.
	ReportNodeState(ctx context.Context, id string, class CapabilityClass, value Value) error

	// ReportHealth is called when engine health changes.
	ReportHealth(ctx context.Context, health Health) error

	// ReportController is called when the controller system status changes.
	ReportController(ctx context.Context, status SystemStatus) error
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates repeated poll failures or a lost transport.
	HealthDegraded HealthStatus = "degraded"

	// HealthUnhealthy indicates the bridge is not operating correctly.
	HealthUnhealthy HealthStatus = "unhealthy"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// Health is the engine's view of appliance reachability.
type Health struct {
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastError           string       `json:"last_error,omitempty"`
	LastSuccess         time.Time    `json:"last_success,omitzero"`
	LastAttempt         time.Time    `json:"last_attempt,omitzero"`
}

// NopHost ignores every event. Embed it to implement part of Host.
type NopHost struct{}

func (NopHost) DeclareNode(context.Context, string, CapabilityClass) error { return nil }

func (NopHost) ReportNodeState(context.Context, string, CapabilityClass, Value) error { return nil }

func (NopHost) ReportHealth(context.Context, Health) error { return nil }

func (NopHost) ReportController(context.Context, SystemStatus) error { return nil }

// multiHost fans events out to several hosts.
type multiHost []Host

// Hosts combines hosts into one. Every host receives every event; the
// returned error joins the individual failures.
func Hosts(hosts ...Host) Host {
	var out multiHost
	for _, h := range hosts {
		if h == nil {
			continue
		}
		if m, ok := h.(multiHost); ok {
			out = append(out, m...)
			continue
		}
		out = append(out, h)
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multiHost) DeclareNode(ctx context.Context, id string, class CapabilityClass) error {
	var errs []error
	for _, h := range m {
		if err := h.DeclareNode(ctx, id, class); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiHost) ReportNodeState(ctx context.Context, id string, class CapabilityClass, value Value) error {
	var errs []error
	for _, h := range m {
		if err := h.ReportNodeState(ctx, id, class, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiHost) ReportHealth(ctx context.Context, health Health) error {
	var errs []error
	for _, h := range m {
		if err := h.ReportHealth(ctx, health); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiHost) ReportController(ctx context.Context, status SystemStatus) error {
	var errs []error
	for _, h := range m {
		if err := h.ReportController(ctx, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// multiObserver fans engine events out to several observers.
type multiObserver []Observer

// Observers combines observers into one. Nil entries are dropped.
func Observers(observers ...Observer) Observer {
	var out multiObserver
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func (m multiObserver) PollCompleted(d time.Duration, err error) {
	for _, o := range m {
		o.PollCompleted(d, err)
	}
}

func (m multiObserver) CommandFinished(nodeID, outcome string) {
	for _, o := range m {
		o.CommandFinished(nodeID, outcome)
	}
}
