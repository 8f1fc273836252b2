package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/config"
)

// applianceStub is a DeviceClient whose equipment follows SendCommand.
type applianceStub struct {
	mu        sync.Mutex
	equipment map[string]int
	temps     map[string]int
	sends     int
}

func (a *applianceStub) FetchStatus(context.Context) (*autelis.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return autelis.NewSnapshot(time.Now(), autelis.UnitFahrenheit, autelis.SystemStatus{RunState: 1},
		a.equipment, a.temps), nil
}

func (a *applianceStub) SendCommand(_ context.Context, name string, value int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends++
	if _, ok := a.temps[name]; ok {
		a.temps[name] = value
		return nil
	}
	a.equipment[name] = value
	return nil
}

// liveServer wires the API to a running engine, with the hub as its host.
func liveServer(t *testing.T) (*Server, *autelis.Engine, *applianceStub) {
	t.Helper()

	stub := &applianceStub{
		equipment: map[string]int{"pump": 0, "spaht": 0},
		temps:     map[string]int{"spasp": 100, "spatemp": 98, "pooltemp": 81},
	}
	hub := NewHub(testWSConfig(), testLogger())

	engine, err := autelis.NewEngine(autelis.EngineOptions{
		Client:         stub,
		Host:           hub,
		PollInterval:   30 * time.Millisecond,
		SettleWindow:   10 * time.Millisecond,
		CommandTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("engine Start() error: %v", err)
	}
	t.Cleanup(engine.Stop)

	srv, err := New(Deps{
		Config:      config.APIConfig{Host: "127.0.0.1"},
		WS:          testWSConfig(),
		Logger:      testLogger(),
		Nodes:       engine.Registry(),
		Status:      engine,
		Commands:    autelis.NewGateway(engine),
		Gatherer:    prometheus.NewRegistry(),
		Hub:         hub,
		CommandWait: 3 * time.Second,
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for _, id := range []string{"pump", "spaht", "pooltemp"} {
		for {
			if _, ok := engine.Registry().Get(id); ok {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("engine never reported %s", id)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	return srv, engine, stub
}

func TestLive_CommandConfirmedByPoll(t *testing.T) {
	srv, engine, stub := liveServer(t)
	router := srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/nodes/pump/command", `{"command":"on","wait":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp CommandResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "confirmed" || !resp.Confirmed {
		t.Errorf("resp = %+v", resp)
	}

	node, ok := engine.Registry().Get("pump")
	if !ok || node.Value.State != 1 {
		t.Errorf("pump = %+v, want on", node)
	}

	// Already on: answered without touching the appliance.
	w = do(t, router, http.MethodPost, "/api/v1/nodes/pump/command", `{"command":"on"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"noop"`) {
		t.Errorf("repeat command = %d %s", w.Code, w.Body.String())
	}
	stub.mu.Lock()
	sends := stub.sends
	stub.mu.Unlock()
	if sends != 1 {
		t.Errorf("appliance sends = %d, want 1", sends)
	}
}

func TestLive_SetpointOnSensorRejected(t *testing.T) {
	srv, _, stub := liveServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/nodes/pooltemp/command",
		`{"command":"set_temperature","value":85}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), ErrCodeUnsupported) {
		t.Errorf("body = %s", w.Body.String())
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if stub.sends != 0 {
		t.Errorf("appliance sends = %d, want 0", stub.sends)
	}
}

func TestLive_HeaterSetpoint(t *testing.T) {
	srv, engine, _ := liveServer(t)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/nodes/spaht/command",
		`{"command":"set_temperature","value":104,"wait":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	node, _ := engine.Registry().Get("spaht")
	if node.Value.Setpoint != 104 {
		t.Errorf("setpoint = %d, want 104", node.Value.Setpoint)
	}
}

func TestLive_HubReceivesConfirmedState(t *testing.T) {
	srv, _, _ := liveServer(t)
	client := newHubClient(srv.Hub(), ChannelNodeStateChanged)

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/nodes/pump/command", `{"command":"on"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-client.send:
			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			payload, _ := msg.Payload.(map[string]any)
			if payload["node_id"] != "pump" {
				continue
			}
			state, _ := payload["state"].(map[string]any)
			if state["on"] == true {
				return
			}
		case <-deadline:
			t.Fatal("no confirmed pump state broadcast")
		}
	}
}
