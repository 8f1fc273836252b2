package autelis

import (
	"context"
	"errors"
	"testing"
)

func TestParseVerb(t *testing.T) {
	tests := []struct {
		raw     string
		want    Verb
		wantErr bool
	}{
		{"on", VerbOn, false},
		{"DON", VerbOn, false},
		{"off", VerbOff, false},
		{"DOF", VerbOff, false},
		{"set_temperature", VerbSetTemperature, false},
		{"SET_TEMP", VerbSetTemperature, false},
		{"dim", "", true},
		{"toggle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseVerb(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedCommand) {
					t.Errorf("ParseVerb(%q) error = %v, want ErrUnsupportedCommand", tt.raw, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("ParseVerb(%q) = %q, %v; want %q", tt.raw, got, err, tt.want)
			}
		})
	}
}

// discoveredGateway returns a gateway whose engine has seen one status.
func discoveredGateway(t *testing.T, client *fakeDeviceClient) *Gateway {
	t.Helper()
	e := newTestEngine(t, EngineOptions{Client: client})
	e.applySnapshot(context.Background(), snapshot(UnitFahrenheit,
		map[string]int{"pump": 0, "spaht": 0, "solarht": 0},
		map[string]int{"spasp": 100, "spatemp": 95, "pooltemp": 78, "poolsp": 80},
	))
	return NewGateway(e)
}

func TestGateway_Validate(t *testing.T) {
	client := newFakeDeviceClient(nil, nil)
	gw := discoveredGateway(t, client)

	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{"setpoint on sensor", Command{NodeID: "pooltemp", Verb: "SET_TEMPERATURE", Value: intPtr(85)}, ErrUnsupportedCommand},
		{"on for sensor", Command{NodeID: "pooltemp", Verb: "on"}, ErrUnsupportedCommand},
		{"dim relay", Command{NodeID: "pump", Verb: "dim"}, ErrUnsupportedCommand},
		{"setpoint on relay", Command{NodeID: "pump", Verb: "set_temperature", Value: intPtr(85)}, ErrUnsupportedCommand},
		{"setpoint on solar", Command{NodeID: "solarht", Verb: "set_temperature", Value: intPtr(85)}, ErrUnsupportedCommand},
		{"setpoint without value", Command{NodeID: "spaht", Verb: "set_temperature"}, ErrInvalidParameters},
		{"unknown node", Command{NodeID: "hottub", Verb: "on"}, ErrNodeNotFound},
		{"not yet reported", Command{NodeID: "aux7", Verb: "on"}, ErrNodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := gw.Validate(tt.cmd); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := len(client.getSends()); got != 0 {
		t.Errorf("appliance writes = %d, want 0", got)
	}
}

func TestGateway_ValidateSetpoint(t *testing.T) {
	gw := discoveredGateway(t, newFakeDeviceClient(nil, nil))

	req, err := gw.Validate(Command{NodeID: "spaht", Verb: "SET_TEMP", Value: intPtr(102)})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if req.Element != "spasp" || req.Value != 102 || req.LockKey != "spa" || req.Verb != VerbSetTemperature {
		t.Errorf("request = %+v", req)
	}
}

func TestGateway_ValidateRelay(t *testing.T) {
	gw := discoveredGateway(t, newFakeDeviceClient(nil, nil))

	req, err := gw.Validate(Command{NodeID: "pump", Verb: "DOF"})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if req.Element != "pump" || req.Value != 0 || req.LockKey != "pool" {
		t.Errorf("request = %+v", req)
	}
}

func TestGateway_ExecuteRejectsWithoutContactingAppliance(t *testing.T) {
	client := newFakeDeviceClient(nil, nil)
	gw := discoveredGateway(t, client)

	_, err := gw.Execute(context.Background(), Command{NodeID: "pooltemp", Verb: "SET_TEMPERATURE", Value: intPtr(85)})
	if !errors.Is(err, ErrUnsupportedCommand) {
		t.Fatalf("Execute() error = %v, want ErrUnsupportedCommand", err)
	}
	if got := len(client.getSends()); got != 0 {
		t.Errorf("appliance writes = %d, want 0", got)
	}
}
