package autelis

import (
	"context"
	"testing"
	"time"
)

func TestRegistry_UpsertDeclaresOnce(t *testing.T) {
	host := &recordingHost{}
	r := NewRegistry(host)
	d, _ := DefaultCatalog().Describe("aux1")
	ctx := context.Background()

	res, err := r.Upsert(ctx, d, Reading{State: intPtr(0)}, time.Now())
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !res.Created || !res.Changed {
		t.Errorf("first Upsert() = %+v, want created and changed", res)
	}

	res, _ = r.Upsert(ctx, d, Reading{State: intPtr(0)}, time.Now())
	if res.Created || res.Changed {
		t.Errorf("same-value Upsert() = %+v, want no change", res)
	}

	res, _ = r.Upsert(ctx, d, Reading{State: intPtr(1)}, time.Now())
	if res.Created || !res.Changed {
		t.Errorf("new-value Upsert() = %+v, want changed", res)
	}

	if got := host.getDeclared(); len(got) != 1 || got[0] != "aux1" {
		t.Errorf("declared = %v, want [aux1]", got)
	}
	if len(host.getReports()) != 0 {
		t.Error("Upsert() should not report state; Push does")
	}
}

func TestRegistry_PartialReadingKeepsFields(t *testing.T) {
	r := NewRegistry(nil)
	d, _ := DefaultCatalog().Describe("spaht")
	ctx := context.Background()

	r.Upsert(ctx, d, Reading{State: intPtr(1), Setpoint: intPtr(102), Temperature: intPtr(99), Unit: UnitFahrenheit}, time.Now())
	r.Upsert(ctx, d, Reading{Temperature: intPtr(100), Unit: UnitFahrenheit}, time.Now())

	n, ok := r.Get("spaht")
	if !ok {
		t.Fatal("Get(spaht) not found")
	}
	want := Value{State: 1, Setpoint: 102, Temperature: 100, Unit: UnitFahrenheit}
	if n.Value != want {
		t.Errorf("Value = %+v, want %+v", n.Value, want)
	}
}

func TestRegistry_ListInDiscoveryOrder(t *testing.T) {
	r := NewRegistry(nil)
	c := DefaultCatalog()
	ctx := context.Background()

	for _, id := range []string{"spa", "aux4", "pump"} {
		d, _ := c.Describe(id)
		r.Upsert(ctx, d, Reading{State: intPtr(0)}, time.Now())
	}

	nodes := r.List()
	if len(nodes) != 3 || r.Len() != 3 {
		t.Fatalf("List() len = %d, Len() = %d", len(nodes), r.Len())
	}
	for i, want := range []string{"spa", "aux4", "pump"} {
		if nodes[i].ID != want {
			t.Errorf("nodes[%d] = %s, want %s", i, nodes[i].ID, want)
		}
	}
}

func TestRegistry_Push(t *testing.T) {
	host := &recordingHost{}
	r := NewRegistry(host)
	d, _ := DefaultCatalog().Describe("pump")
	ctx := context.Background()
	r.Upsert(ctx, d, Reading{State: intPtr(1)}, time.Now())

	if err := r.Push(ctx, []string{"pump", "unknown"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	reports := host.getReports()
	if len(reports) != 1 || reports[0].ID != "pump" || reports[0].Value.State != 1 {
		t.Errorf("reports = %+v", reports)
	}
}

func TestValue_Fields(t *testing.T) {
	v := Value{State: 1, Setpoint: 85, Temperature: 80, Unit: UnitFahrenheit}

	relay := v.Fields(ClassRelay)
	if relay["on"] != true || len(relay) != 2 {
		t.Errorf("relay fields = %v", relay)
	}

	sensor := v.Fields(ClassTempSensor)
	if sensor["temperature"] != 80 || sensor["unit"] != "F" {
		t.Errorf("sensor fields = %v", sensor)
	}
	if _, ok := sensor["on"]; ok {
		t.Error("sensor fields should not include on")
	}
}
