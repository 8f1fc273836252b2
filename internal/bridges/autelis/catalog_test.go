package autelis

import (
	"testing"
	"time"
)

func TestDefaultCatalog_Entries(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		id       string
		class    CapabilityClass
		pairKey  string
		solar    bool
		settable bool
	}{
		{"pump", ClassPairedRelay, "pool", false, false},
		{"spa", ClassPairedRelay, "spa", false, false},
		{"aux1", ClassRelay, "", false, false},
		{"aux23", ClassRelay, "", false, false},
		{"extraaux", ClassRelay, "", false, false},
		{"poolht", ClassHeater, "pool", false, true},
		{"poolht2", ClassHeater, "pool", false, true},
		{"spaht", ClassHeater, "spa", false, true},
		{"solarht", ClassHeater, "", true, false},
		{"airtemp", ClassTempSensor, "", false, false},
		{"solartemp", ClassTempSensor, "", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			d, ok := c.Describe(tt.id)
			if !ok {
				t.Fatalf("Describe(%q) not found", tt.id)
			}
			if d.Class != tt.class {
				t.Errorf("Class = %s, want %s", d.Class, tt.class)
			}
			if d.PairKey != tt.pairKey {
				t.Errorf("PairKey = %q, want %q", d.PairKey, tt.pairKey)
			}
			if d.Solar != tt.solar {
				t.Errorf("Solar = %v, want %v", d.Solar, tt.solar)
			}
			if d.Settable != tt.settable {
				t.Errorf("Settable = %v, want %v", d.Settable, tt.settable)
			}
		})
	}

	if _, ok := c.Describe("aux24"); ok {
		t.Error("Describe(aux24) found, want absent")
	}
}

func TestDescriptor_LockKey(t *testing.T) {
	c := DefaultCatalog()

	spa, _ := c.Describe("spa")
	spaht, _ := c.Describe("spaht")
	if spa.LockKey() != spaht.LockKey() {
		t.Errorf("spa and spaht lock keys differ: %q vs %q", spa.LockKey(), spaht.LockKey())
	}

	aux, _ := c.Describe("aux3")
	if aux.LockKey() != "aux3" {
		t.Errorf("aux3 LockKey() = %q, want aux3", aux.LockKey())
	}
}

func TestNewCatalog_RejectsDuplicates(t *testing.T) {
	_, err := NewCatalog(
		Descriptor{ID: "aux1", Class: ClassRelay},
		Descriptor{ID: "aux1", Class: ClassRelay},
	)
	if err == nil {
		t.Fatal("NewCatalog() expected error for duplicate id")
	}
}

func TestDescriptor_Read(t *testing.T) {
	c := DefaultCatalog()
	snap := NewSnapshot(time.Now(), UnitFahrenheit, SystemStatus{},
		map[string]int{"pump": 1, "spaht": 0},
		map[string]int{"spasp": 102, "spatemp": 99, "airtemp": 65},
	)

	t.Run("relay", func(t *testing.T) {
		d, _ := c.Describe("pump")
		r, ok := d.Read(snap)
		if !ok || r.State == nil || *r.State != 1 {
			t.Fatalf("Read(pump) = %+v, %v", r, ok)
		}
	})

	t.Run("heater with setpoint and temperature", func(t *testing.T) {
		d, _ := c.Describe("spaht")
		r, ok := d.Read(snap)
		if !ok {
			t.Fatal("Read(spaht) not ok")
		}
		v := Value{}.apply(r)
		want := Value{State: 0, Setpoint: 102, Temperature: 99, Unit: UnitFahrenheit}
		if v != want {
			t.Errorf("value = %+v, want %+v", v, want)
		}
	})

	t.Run("sensor", func(t *testing.T) {
		d, _ := c.Describe("airtemp")
		r, ok := d.Read(snap)
		if !ok || *r.Temperature != 65 || r.Unit != UnitFahrenheit {
			t.Fatalf("Read(airtemp) = %+v, %v", r, ok)
		}
	})

	t.Run("absent identifier", func(t *testing.T) {
		d, _ := c.Describe("poolht")
		if _, ok := d.Read(snap); ok {
			t.Error("Read(poolht) ok, want absent")
		}
	})
}
