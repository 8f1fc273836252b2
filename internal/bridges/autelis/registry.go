package autelis

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Value is a node's last-known appliance-confirmed value.
// It is comparable; equal values mean nothing changed.
type Value struct {
	State       int      `json:"state"`
	Setpoint    int      `json:"setpoint"`
	Temperature int      `json:"temperature"`
	Unit        TempUnit `json:"unit,omitempty"`
}

// Fields returns the class-relevant parts of the value for publishing.
func (v Value) Fields(class CapabilityClass) map[string]any {
	switch class {
	case ClassRelay, ClassPairedRelay:
		return map[string]any{"on": v.State != 0, "state": v.State}
	case ClassHeater:
		return map[string]any{
			"on":          v.State != 0,
			"state":       v.State,
			"setpoint":    v.Setpoint,
			"temperature": v.Temperature,
			"unit":        string(v.Unit),
		}
	case ClassTempSensor:
		return map[string]any{"temperature": v.Temperature, "unit": string(v.Unit)}
	default:
		return map[string]any{}
	}
}

// Reading is one snapshot's partial observation of a node.
// Nil fields were not reported and leave the previous value untouched.
type Reading struct {
	State       *int
	Setpoint    *int
	Temperature *int
	Unit        TempUnit
}

func (v Value) apply(r Reading) Value {
	if r.State != nil {
		v.State = *r.State
	}
	if r.Setpoint != nil {
		v.Setpoint = *r.Setpoint
	}
	if r.Temperature != nil {
		v.Temperature = *r.Temperature
	}
	if r.Unit != "" {
		v.Unit = r.Unit
	}
	return v
}

// Node is a host-visible unit for one piece of equipment or reading.
type Node struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Class     CapabilityClass `json:"class"`
	PairKey   string          `json:"pair_key,omitempty"`
	Value     Value           `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UpsertResult reports what Upsert did.
type UpsertResult struct {
	Created bool
	Changed bool
}

// Registry holds every node the appliance has reported. Nodes are created
// lazily and never removed.
//
// Thread Safety: reads are safe from any goroutine. Upsert and Push are
// called only by the engine loop.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string

	host Host
}

// NewRegistry creates an empty registry that notifies host.
func NewRegistry(host Host) *Registry {
	if host == nil {
		host = NopHost{}
	}
	return &Registry{
		nodes: make(map[string]*Node),
		host:  host,
	}
}

// Upsert applies a reading to the node for desc, creating it on first sight.
// A newly created node is declared to the host and counts as changed.
func (r *Registry) Upsert(ctx context.Context, desc Descriptor, reading Reading, ts time.Time) (UpsertResult, error) {
	r.mu.Lock()
	node, exists := r.nodes[desc.ID]
	if !exists {
		node = &Node{
			ID:      desc.ID,
			Name:    desc.Name,
			Class:   desc.Class,
			PairKey: desc.PairKey,
		}
		node.Value = node.Value.apply(reading)
		node.UpdatedAt = ts
		r.nodes[desc.ID] = node
		r.order = append(r.order, desc.ID)
		r.mu.Unlock()

		err := r.host.DeclareNode(ctx, desc.ID, desc.Class)
		return UpsertResult{Created: true, Changed: true}, err
	}

	next := node.Value.apply(reading)
	changed := next != node.Value
	node.Value = next
	node.UpdatedAt = ts
	r.mu.Unlock()

	return UpsertResult{Changed: changed}, nil
}

// Get returns a copy of the node.
func (r *Registry) Get(id string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// List returns copies of all nodes in discovery order.
func (r *Registry) List() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Node, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.nodes[id])
	}
	return out
}

// Len returns the number of discovered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Push reports the current value of each listed node to the host.
// Unknown identifiers are skipped.
func (r *Registry) Push(ctx context.Context, ids []string) error {
	var errs []error
	for _, id := range ids {
		n, ok := r.Get(id)
		if !ok {
			continue
		}
		if err := r.host.ReportNodeState(ctx, n.ID, n.Class, n.Value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
