package autelis

import (
	"context"
	"fmt"
	"strings"
)

// Command is an externally issued control message.
type Command struct {
	// NodeID is the target node identifier.
	NodeID string

	// Verb is the raw command name as received from the host.
	Verb string

	// Value is required for SET_TEMPERATURE.
	Value *int
}

// ParseVerb maps host command names to the binary and setpoint semantics
// the appliance supports. Anything else is unsupported.
func ParseVerb(raw string) (Verb, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "don":
		return VerbOn, nil
	case "off", "dof":
		return VerbOff, nil
	case "set_temperature", "set_temp", "setpoint":
		return VerbSetTemperature, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCommand, raw)
	}
}

// Gateway validates host commands against node capability and hands them
// to the engine.
type Gateway struct {
	engine *Engine
}

// NewGateway creates a gateway over engine.
func NewGateway(engine *Engine) *Gateway {
	return &Gateway{engine: engine}
}

// Validate resolves a command into an engine request without submitting it.
// The appliance is never contacted.
func (g *Gateway) Validate(cmd Command) (Request, error) {
	desc, ok := g.engine.Catalog().Describe(cmd.NodeID)
	if !ok {
		return Request{}, fmt.Errorf("%w: %s", ErrNodeNotFound, cmd.NodeID)
	}
	if !desc.Class.Commandable() {
		return Request{}, fmt.Errorf("%w: %s is a %s", ErrUnsupportedCommand, desc.ID, desc.Class)
	}

	verb, err := ParseVerb(cmd.Verb)
	if err != nil {
		return Request{}, err
	}

	req := Request{
		NodeID:  desc.ID,
		Class:   desc.Class,
		Verb:    verb,
		Element: desc.ID,
		LockKey: desc.LockKey(),
	}

	switch verb {
	case VerbOn:
		req.Value = 1
	case VerbOff:
		req.Value = 0
	case VerbSetTemperature:
		if desc.Class != ClassHeater || !desc.Settable {
			return Request{}, fmt.Errorf("%w: %s has no adjustable setpoint", ErrUnsupportedCommand, desc.ID)
		}
		if cmd.Value == nil {
			return Request{}, fmt.Errorf("%w: set_temperature requires a value", ErrInvalidParameters)
		}
		req.Element = desc.SetpointKey
		req.Value = *cmd.Value
	}

	if _, ok := g.engine.Registry().Get(desc.ID); !ok {
		return Request{}, fmt.Errorf("%w: %s not reported by appliance", ErrNodeNotFound, desc.ID)
	}
	return req, nil
}

// Execute validates and submits a command. The receipt is returned
// synchronously; appliance confirmation arrives through
// Receipt.Command.Wait after a later poll.
func (g *Gateway) Execute(ctx context.Context, cmd Command) (Receipt, error) {
	req, err := g.Validate(cmd)
	if err != nil {
		return Receipt{}, err
	}
	return g.engine.Submit(ctx, req)
}
