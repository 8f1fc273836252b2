package autelis

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeDeviceClient implements DeviceClient for testing.
// Without a script it serves a live status that SendCommand can update.
type fakeDeviceClient struct {
	mu sync.Mutex

	unit      TempUnit
	system    SystemStatus
	equipment map[string]int
	temps     map[string]int
	script    []*Snapshot

	applySends bool
	fetchErr   error
	sendErr    error
	sendDelay  time.Duration

	gate    chan struct{}
	started chan int

	fetchTimes []time.Time
	sends      []sentCommand
}

type sentCommand struct {
	Name  string
	Value int
	At    time.Time
}

func newFakeDeviceClient(equipment, temps map[string]int) *fakeDeviceClient {
	if equipment == nil {
		equipment = map[string]int{}
	}
	if temps == nil {
		temps = map[string]int{}
	}
	return &fakeDeviceClient{
		unit:       UnitFahrenheit,
		equipment:  equipment,
		temps:      temps,
		applySends: true,
	}
}

func (f *fakeDeviceClient) FetchStatus(ctx context.Context) (*Snapshot, error) {
	f.mu.Lock()
	f.fetchTimes = append(f.fetchTimes, time.Now())
	n := len(f.fetchTimes)
	gate := f.gate
	started := f.started
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- n:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if len(f.script) > 0 {
		s := f.script[0]
		if len(f.script) > 1 {
			f.script = f.script[1:]
		}
		return s, nil
	}
	return NewSnapshot(time.Now(), f.unit, f.system, f.equipment, f.temps), nil
}

func (f *fakeDeviceClient) SendCommand(ctx context.Context, name string, value int) error {
	f.mu.Lock()
	delay := f.sendDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.sends = append(f.sends, sentCommand{Name: name, Value: value, At: time.Now()})
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.applySends {
		if _, ok := f.equipment[name]; ok {
			f.equipment[name] = value
		} else {
			f.temps[name] = value
		}
	}
	return nil
}

func (f *fakeDeviceClient) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetchTimes)
}

func (f *fakeDeviceClient) getFetchTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.fetchTimes...)
}

func (f *fakeDeviceClient) getSends() []sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCommand(nil), f.sends...)
}

func (f *fakeDeviceClient) setGate(gate chan struct{}, started chan int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = gate
	f.started = started
}

// recordingHost implements Host and records every call.
type recordingHost struct {
	mu         sync.Mutex
	declared   []string
	reports    []hostReport
	health     []Health
	controller []SystemStatus
}

type hostReport struct {
	ID    string
	Class CapabilityClass
	Value Value
}

func (h *recordingHost) DeclareNode(_ context.Context, id string, _ CapabilityClass) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.declared = append(h.declared, id)
	return nil
}

func (h *recordingHost) ReportNodeState(_ context.Context, id string, class CapabilityClass, value Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, hostReport{ID: id, Class: class, Value: value})
	return nil
}

func (h *recordingHost) ReportHealth(_ context.Context, health Health) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.health = append(h.health, health)
	return nil
}

func (h *recordingHost) ReportController(_ context.Context, status SystemStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controller = append(h.controller, status)
	return nil
}

func (h *recordingHost) getDeclared() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.declared...)
}

func (h *recordingHost) getReports() []hostReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hostReport(nil), h.reports...)
}

func (h *recordingHost) getHealth() []Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Health(nil), h.health...)
}

func (h *recordingHost) reportsFor(id string) []hostReport {
	var out []hostReport
	for _, r := range h.getReports() {
		if r.ID == id {
			out = append(out, r)
		}
	}
	return out
}

// waitFor polls cond until it returns true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startEngine creates and starts an engine, stopping it on cleanup.
func startEngine(t *testing.T, opts EngineOptions) *Engine {
	t.Helper()
	e, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func intPtr(v int) *int {
	return &v
}
