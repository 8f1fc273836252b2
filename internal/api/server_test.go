package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
	"github.com/nerrad567/autelis-bridge/internal/history"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/config"
	"github.com/nerrad567/autelis-bridge/internal/infrastructure/logging"
)

// ─── Test doubles ──────────────────────────────────────────────────

type fakeNodes struct {
	nodes map[string]autelis.Node
}

func (f *fakeNodes) List() []autelis.Node {
	out := make([]autelis.Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out
}

func (f *fakeNodes) Get(id string) (autelis.Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

type fakeStatus struct {
	mu          sync.Mutex
	health      autelis.Health
	fullReports int
}

func (f *fakeStatus) Health() autelis.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeStatus) NodeCount() int { return 3 }

func (f *fakeStatus) RequestFullReport() {
	f.mu.Lock()
	f.fullReports++
	f.mu.Unlock()
}

type fakeCommands struct {
	receipt autelis.Receipt
	err     error
	got     []autelis.Command
}

func (f *fakeCommands) Execute(_ context.Context, cmd autelis.Command) (autelis.Receipt, error) {
	f.got = append(f.got, cmd)
	return f.receipt, f.err
}

type fakeHistory struct {
	entries  []history.Entry
	commands []history.CommandEntry
	err      error
	limit    int
}

func (f *fakeHistory) GetHistory(_ context.Context, _ string, limit int) ([]history.Entry, error) {
	f.limit = limit
	return f.entries, f.err
}

func (f *fakeHistory) GetCommands(_ context.Context, _ string, limit int) ([]history.CommandEntry, error) {
	f.limit = limit
	return f.commands, f.err
}

type fakeMQTT struct{ connected bool }

func (f fakeMQTT) IsConnected() bool { return f.connected }

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error", Format: "text"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
}

type testDeps struct {
	nodes    *fakeNodes
	status   *fakeStatus
	commands *fakeCommands
	history  *fakeHistory
}

// testServer creates a Server over fakes seeded with three nodes.
func testServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	deps := &testDeps{
		nodes: &fakeNodes{nodes: map[string]autelis.Node{
			"pump": {ID: "pump", Name: "Pool", Class: autelis.ClassPairedRelay, PairKey: "pool",
				Value: autelis.Value{State: 1}, UpdatedAt: now},
			"spaht": {ID: "spaht", Name: "Spa Heater", Class: autelis.ClassHeater, PairKey: "spa",
				Value: autelis.Value{State: 0, Setpoint: 102, Temperature: 99, Unit: autelis.UnitFahrenheit}, UpdatedAt: now},
			"pooltemp": {ID: "pooltemp", Name: "Pool Temperature", Class: autelis.ClassTempSensor,
				Value: autelis.Value{Temperature: 82, Unit: autelis.UnitFahrenheit}, UpdatedAt: now},
		}},
		status:   &fakeStatus{health: autelis.Health{Status: autelis.HealthHealthy}},
		commands: &fakeCommands{},
		history:  &fakeHistory{},
	}

	srv, err := New(Deps{
		Config:      config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:          testWSConfig(),
		Metrics:     config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logger:      testLogger(),
		Nodes:       deps.nodes,
		Status:      deps.status,
		Commands:    deps.commands,
		History:     deps.history,
		MQTT:        fakeMQTT{connected: true},
		Gatherer:    prometheus.NewRegistry(),
		CommandWait: 50 * time.Millisecond,
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, deps
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Nodes: &fakeNodes{}, Status: &fakeStatus{}, Commands: &fakeCommands{}}},
		{"no nodes", Deps{Logger: testLogger(), Status: &fakeStatus{}, Commands: &fakeCommands{}}},
		{"no commands", Deps{Logger: testLogger(), Nodes: &fakeNodes{}, Status: &fakeStatus{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

// ─── Health & system ───────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp := decode(t, w)
	if resp["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v", resp["version"])
	}
	if resp["mqtt_connected"] != true {
		t.Errorf("mqtt_connected = %v", resp["mqtt_connected"])
	}
	if resp["nodes"] != float64(3) {
		t.Errorf("nodes = %v, want 3", resp["nodes"])
	}
}

func TestHealth_DegradedIs503(t *testing.T) {
	srv, deps := testServer(t)
	deps.status.health = autelis.Health{Status: autelis.HealthDegraded, ConsecutiveFailures: 3, LastError: "unreachable"}

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestSystemMetrics(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/system", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var m SystemMetrics
	if err := json.NewDecoder(w.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Nodes.Total != 3 || m.Nodes.ByClass["HEATER"] != 1 {
		t.Errorf("nodes = %+v", m.Nodes)
	}
	if m.MQTT == nil || !m.MQTT.Connected {
		t.Errorf("mqtt = %+v", m.MQTT)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("goroutines not reported")
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "autelis_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	srv.gatherer = reg

	w := do(t, srv.buildRouter(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "autelis_test_total 1") {
		t.Errorf("body missing counter:\n%s", w.Body.String())
	}
}

func TestPrometheusEndpoint_Disabled(t *testing.T) {
	srv, _ := testServer(t)
	srv.metricsCfg.Enabled = false

	w := do(t, srv.buildRouter(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestQuery(t *testing.T) {
	srv, deps := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/query", "")
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
	if deps.status.fullReports != 1 {
		t.Errorf("full reports = %d, want 1", deps.status.fullReports)
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("X-Request-ID = %q, want a UUID", id)
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"http://pool.local"}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/nodes", nil)
	req.Header.Set("Origin", "http://pool.local")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://pool.local" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/nodes", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Allow-Origin = %q", got)
	}
}

func TestRecovery(t *testing.T) {
	srv, _ := testServer(t)
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := do(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestNotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Nodes ─────────────────────────────────────────────────────────

func TestListNodes(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nodes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Nodes []NodeResponse `json:"nodes"`
		Count int            `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 3 {
		t.Fatalf("count = %d, want 3", resp.Count)
	}
	if resp.Nodes[0].ID != "pooltemp" || resp.Nodes[2].ID != "spaht" {
		t.Errorf("nodes not sorted by id: %s, %s, %s", resp.Nodes[0].ID, resp.Nodes[1].ID, resp.Nodes[2].ID)
	}
}

func TestListNodes_FilterByClass(t *testing.T) {
	srv, _ := testServer(t)
	resp := decode(t, do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nodes?class=HEATER", ""))
	if resp["count"] != float64(1) {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

func TestGetNode(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nodes/spaht", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	state, ok := resp["state"].(map[string]any)
	if !ok {
		t.Fatalf("state missing: %v", resp)
	}
	if state["setpoint"] != float64(102) || state["on"] != false {
		t.Errorf("state = %v", state)
	}
	if resp["class"] != "HEATER" {
		t.Errorf("class = %v", resp["class"])
	}
}

func TestGetNode_NotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nodes/aux9", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Commands ──────────────────────────────────────────────────────

func TestNodeCommand_Accepted(t *testing.T) {
	srv, deps := testServer(t)
	deps.commands.receipt = autelis.Receipt{Status: autelis.ReceiptDispatched, Command: &autelis.PendingCommand{}}

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/nodes/spaht/command",
		`{"command":"set_temperature","value":104}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["status"] != "dispatched" || resp["confirmed"] != false {
		t.Errorf("resp = %v", resp)
	}

	if len(deps.commands.got) != 1 {
		t.Fatalf("executed %d commands, want 1", len(deps.commands.got))
	}
	got := deps.commands.got[0]
	if got.NodeID != "spaht" || got.Verb != "set_temperature" || got.Value == nil || *got.Value != 104 {
		t.Errorf("command = %+v", got)
	}
}

func TestNodeCommand_NoOpIsConfirmed(t *testing.T) {
	srv, deps := testServer(t)
	deps.commands.receipt = autelis.Receipt{Status: autelis.ReceiptNoOp, Command: &autelis.PendingCommand{}}

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/nodes/pump/command", `{"command":"on","wait":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp := decode(t, w); resp["confirmed"] != true {
		t.Errorf("confirmed = %v", resp["confirmed"])
	}
}

func TestNodeCommand_WaitTimesOut(t *testing.T) {
	srv, deps := testServer(t)
	// A command that never completes.
	deps.commands.receipt = autelis.Receipt{Status: autelis.ReceiptDispatched, Command: &autelis.PendingCommand{}}

	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/nodes/pump/command", `{"command":"off","wait":true}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
}

func TestNodeCommand_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
	}{
		{"invalid json", `{`, nil, http.StatusBadRequest},
		{"missing command", `{}`, nil, http.StatusBadRequest},
		{"unknown node", `{"command":"on"}`, fmt.Errorf("%w: nope", autelis.ErrNodeNotFound), http.StatusNotFound},
		{"unsupported", `{"command":"set_temperature","value":85}`, autelis.ErrUnsupportedCommand, http.StatusBadRequest},
		{"missing value", `{"command":"set_temperature"}`, autelis.ErrInvalidParameters, http.StatusBadRequest},
		{"not running", `{"command":"on"}`, autelis.ErrNotRunning, http.StatusServiceUnavailable},
		{"appliance down", `{"command":"on"}`, fmt.Errorf("dispatch pump: %w", autelis.ErrConnectivity), http.StatusBadGateway},
		{"other", `{"command":"on"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, deps := testServer(t)
			deps.commands.err = tt.err

			w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/nodes/pooltemp/command", tt.body)
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

// ─── History ───────────────────────────────────────────────────────

func TestNodeHistory(t *testing.T) {
	srv, deps := testServer(t)
	deps.history.entries = []history.Entry{
		{ID: 2, NodeID: "pump", Class: autelis.ClassPairedRelay, Value: autelis.Value{State: 1}},
		{ID: 1, NodeID: "pump", Class: autelis.ClassPairedRelay, Value: autelis.Value{State: 0}},
	}

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nodes/pump/history?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode(t, w); resp["count"] != float64(2) {
		t.Errorf("count = %v, want 2", resp["count"])
	}
	if deps.history.limit != 10 {
		t.Errorf("limit = %d, want 10", deps.history.limit)
	}
}

func TestNodeCommands(t *testing.T) {
	srv, deps := testServer(t)
	deps.history.commands = []history.CommandEntry{{ID: 1, NodeID: "pump", Outcome: "confirmed"}}

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nodes/pump/commands", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if deps.history.limit != defaultHistoryLimit {
		t.Errorf("limit = %d, want default", deps.history.limit)
	}
}

func TestNodeHistory_Errors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		setup    func(*Server, *testDeps)
		wantCode int
	}{
		{"bad limit", "/api/v1/nodes/pump/history?limit=abc", nil, http.StatusBadRequest},
		{"limit too large", "/api/v1/nodes/pump/history?limit=500", nil, http.StatusBadRequest},
		{"unknown node", "/api/v1/nodes/aux9/history", nil, http.StatusNotFound},
		{"store error", "/api/v1/nodes/pump/history", func(_ *Server, d *testDeps) {
			d.history.err = errors.New("disk full")
		}, http.StatusInternalServerError},
		{"disabled", "/api/v1/nodes/pump/history", func(s *Server, _ *testDeps) {
			s.history = nil
		}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, deps := testServer(t)
			if tt.setup != nil {
				tt.setup(srv, deps)
			}
			w := do(t, srv.buildRouter(), http.MethodGet, tt.target, "")
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}

func TestParseHistoryLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", defaultHistoryLimit, false},
		{"1", 1, false},
		{"200", 200, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"201", 0, true},
		{"x", 0, true},
	}
	for _, tt := range tests {
		got, err := parseHistoryLimit(tt.raw)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseHistoryLimit(%q) = %d, %v", tt.raw, got, err)
		}
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	srv, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first, _ := testServer(t)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { first.Close() })

	second, _ := testServer(t)
	var port int
	if _, err := fmt.Sscanf(first.Addr()[strings.LastIndex(first.Addr(), ":")+1:], "%d", &port); err != nil {
		t.Fatalf("parse port: %v", err)
	}
	second.cfg.Port = port
	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Error("Start() on a bound port should fail")
	}
}

func TestCloseBeforeStart(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ChannelNodeStateChanged}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write: %v", err)
	}

	var ack WSMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	if err := srv.Hub().ReportNodeState(context.Background(), "pump", autelis.ClassPairedRelay, autelis.Value{State: 1}); err != nil {
		t.Fatalf("ReportNodeState: %v", err)
	}

	var event WSMessage
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelNodeStateChanged {
		t.Errorf("event = %+v", event)
	}
	payload, _ := event.Payload.(map[string]any)
	if payload["node_id"] != "pump" {
		t.Errorf("payload = %v", event.Payload)
	}
}

func TestWebSocket_PingAndUnknown(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var pong WSMessage
	if err := conn.ReadJSON(&pong); err != nil || pong.Type != WSTypePong {
		t.Fatalf("pong = %+v, err = %v", pong, err)
	}

	if err := conn.WriteJSON(WSMessage{Type: "dance", ID: "d"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errMsg WSMessage
	if err := conn.ReadJSON(&errMsg); err != nil || errMsg.Type != WSTypeError {
		t.Fatalf("error msg = %+v, err = %v", errMsg, err)
	}
}

func newHubClient(hub *Hub, channels ...string) *WSClient {
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		client.subscriptions[ch] = struct{}{}
	}
	hub.Register(client)
	return client
}

func receive(t *testing.T, client *WSClient) (WSMessage, bool) {
	t.Helper()
	select {
	case data := <-client.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg, true
	case <-time.After(100 * time.Millisecond):
		return WSMessage{}, false
	}
}

func TestHub_HostEvents(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx := context.Background()

	all := newHubClient(hub, channelAll)
	health := newHubClient(hub, ChannelBridgeHealth)

	_ = hub.DeclareNode(ctx, "aux1", autelis.ClassRelay)
	_ = hub.ReportHealth(ctx, autelis.Health{Status: autelis.HealthDegraded})
	_ = hub.ReportController(ctx, autelis.SystemStatus{RunState: 1, BatteryVolts: 14.6})

	var got []string
	for {
		msg, ok := receive(t, all)
		if !ok {
			break
		}
		got = append(got, msg.EventType)
	}
	want := []string{ChannelNodeDeclared, ChannelBridgeHealth, ChannelControllerState}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("wildcard client got %v, want %v", got, want)
	}

	msg, ok := receive(t, health)
	if !ok || msg.EventType != ChannelBridgeHealth {
		t.Errorf("health client got %+v", msg)
	}
	if _, ok := receive(t, health); ok {
		t.Error("health client received an unsubscribed event")
	}
}

func TestHub_ClientCountAndClose(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := newHubClient(hub)
	if hub.ClientCount() != 1 {
		t.Errorf("count = %d, want 1", hub.ClientCount())
	}
	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("count = %d, want 0", hub.ClientCount())
	}

	other := newHubClient(hub)
	cancel()
	<-done
	if hub.ClientCount() != 0 {
		t.Errorf("count after Run exit = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-other.send; ok {
		t.Error("send channel should be closed")
	}
	other.trySend([]byte("late"))
}
