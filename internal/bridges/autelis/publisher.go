package autelis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher is the MQTT Host: it publishes discovery, state and controller
// messages as retained topics and forwards health changes to the reporter.
type Publisher struct {
	bridgeID string
	mqtt     HealthPublisher
	catalog  *Catalog
	health   *HealthReporter
}

// NewPublisher creates an MQTT host.
func NewPublisher(bridgeID string, mqtt HealthPublisher, catalog *Catalog, health *HealthReporter) *Publisher {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Publisher{
		bridgeID: bridgeID,
		mqtt:     mqtt,
		catalog:  catalog,
		health:   health,
	}
}

// DeclareNode publishes a retained discovery message.
func (p *Publisher) DeclareNode(_ context.Context, id string, class CapabilityClass) error {
	desc, ok := p.catalog.Describe(id)
	if !ok {
		desc = Descriptor{ID: id, Class: class, Name: id}
	}

	msg := DiscoveryMessage{
		Timestamp:    time.Now().UTC(),
		Bridge:       p.bridgeID,
		NodeID:       id,
		Class:        class,
		Name:         desc.Name,
		PairKey:      desc.PairKey,
		Capabilities: Capabilities(desc),
	}
	return p.publishJSON(DiscoveryTopic(id), msg)
}

// ReportNodeState publishes a retained state message.
func (p *Publisher) ReportNodeState(_ context.Context, id string, class CapabilityClass, value Value) error {
	return p.publishJSON(StateTopic(id), NewStateMessage(id, class, value))
}

// ReportHealth republishes bridge health immediately.
func (p *Publisher) ReportHealth(context.Context, Health) error {
	if p.health == nil {
		return nil
	}
	return p.health.PublishNow()
}

// ReportController publishes the retained controller status.
func (p *Publisher) ReportController(_ context.Context, status SystemStatus) error {
	return p.publishJSON(ControllerTopic(), ControllerMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    p.bridgeID,
		Status:    status,
	})
}

func (p *Publisher) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	if err := p.mqtt.Publish(topic, payload, 1, true); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
