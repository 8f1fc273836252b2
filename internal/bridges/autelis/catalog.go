package autelis

import (
	"fmt"
	"strconv"
)

// CapabilityClass describes what a node can report and which commands it accepts.
type CapabilityClass string

const (
	// ClassRelay is a binary circuit (aux, cleaner, waterfall).
	ClassRelay CapabilityClass = "RELAY"

	// ClassPairedRelay is a binary circuit sharing a relay pair with a heater.
	ClassPairedRelay CapabilityClass = "PAIRED_RELAY"

	// ClassHeater is a heat source with optional setpoint.
	ClassHeater CapabilityClass = "HEATER"

	// ClassTempSensor is a read-only temperature reading.
	ClassTempSensor CapabilityClass = "TEMP_SENSOR"
)

// Commandable reports whether nodes of this class accept any command.
func (c CapabilityClass) Commandable() bool {
	return c == ClassRelay || c == ClassPairedRelay || c == ClassHeater
}

// HasTemperature reports whether node values of this class carry a
// temperature in the appliance's current unit.
func (c CapabilityClass) HasTemperature() bool {
	return c == ClassHeater || c == ClassTempSensor
}

// Descriptor is the static description of one piece of equipment.
type Descriptor struct {
	// ID is the appliance element name (e.g. "spaht").
	ID string

	// Class is the capability class.
	Class CapabilityClass

	// Name is the default display name.
	Name string

	// PairKey groups controls that must not be commanded back-to-back.
	// Empty for unpaired equipment.
	PairKey string

	// Solar marks identifiers dropped when ignoresolar is configured.
	Solar bool

	// SetpointKey is the temp element holding this heater's setpoint readout.
	SetpointKey string

	// Settable is true when SET_TEMPERATURE writes to SetpointKey.
	Settable bool

	// TemperatureKey is the temp element holding the associated reading.
	TemperatureKey string
}

// LockKey is the key under which at most one command may be in flight.
func (d Descriptor) LockKey() string {
	if d.PairKey != "" {
		return d.PairKey
	}
	return d.ID
}

// Read extracts this descriptor's reading from a snapshot.
// It returns false when the snapshot holds no value for the identifier.
func (d Descriptor) Read(s *Snapshot) (Reading, bool) {
	if s == nil {
		return Reading{}, false
	}

	var r Reading
	switch d.Class {
	case ClassRelay, ClassPairedRelay:
		v, ok := s.Equipment(d.ID)
		if !ok {
			return Reading{}, false
		}
		r.State = &v

	case ClassHeater:
		v, ok := s.Equipment(d.ID)
		if !ok {
			return Reading{}, false
		}
		r.State = &v
		if d.SetpointKey != "" {
			if sp, ok := s.Temp(d.SetpointKey); ok {
				r.Setpoint = &sp
			}
		}
		if d.TemperatureKey != "" {
			if t, ok := s.Temp(d.TemperatureKey); ok {
				r.Temperature = &t
			}
		}
		r.Unit = s.Unit

	case ClassTempSensor:
		t, ok := s.Temp(d.TemperatureKey)
		if !ok {
			return Reading{}, false
		}
		r.Temperature = &t
		r.Unit = s.Unit

	default:
		return Reading{}, false
	}
	return r, true
}

// Catalog is the read-only table of known equipment.
type Catalog struct {
	byID  map[string]Descriptor
	order []string
}

// NewCatalog builds a catalog from descriptors. Identifiers must be unique.
func NewCatalog(descs ...Descriptor) (*Catalog, error) {
	c := &Catalog{
		byID:  make(map[string]Descriptor, len(descs)),
		order: make([]string, 0, len(descs)),
	}
	for _, d := range descs {
		if d.ID == "" {
			return nil, fmt.Errorf("catalog: descriptor with empty id")
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate id %q", d.ID)
		}
		c.byID[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	return c, nil
}

// Describe returns the descriptor for an identifier.
func (c *Catalog) Describe(id string) (Descriptor, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// Descriptors returns every descriptor in catalog order.
func (c *Catalog) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len returns the number of descriptors.
func (c *Catalog) Len() int {
	return len(c.order)
}

// auxCircuits is the number of numbered aux relays an Aqualink panel exposes.
const auxCircuits = 23

// DefaultCatalog returns the equipment table for the Autelis Pool Control.
// The appliance reports the main pool circuit as "pump".
func DefaultCatalog() *Catalog {
	descs := []Descriptor{
		{ID: "pump", Class: ClassPairedRelay, Name: "Pool", PairKey: "pool"},
		{ID: "pumplo", Class: ClassRelay, Name: "Pump Low"},
		{ID: "spa", Class: ClassPairedRelay, Name: "Spa", PairKey: "spa"},
		{ID: "waterfall", Class: ClassRelay, Name: "Waterfall"},
		{ID: "cleaner", Class: ClassRelay, Name: "Cleaner"},
	}
	for i := 1; i <= auxCircuits; i++ {
		n := strconv.Itoa(i)
		descs = append(descs, Descriptor{ID: "aux" + n, Class: ClassRelay, Name: "Aux " + n})
	}
	descs = append(descs,
		Descriptor{ID: "extraaux", Class: ClassRelay, Name: "Extra Aux"},
		Descriptor{ID: "poolht", Class: ClassHeater, Name: "Pool Heater", PairKey: "pool",
			SetpointKey: "poolsp", Settable: true, TemperatureKey: "pooltemp"},
		Descriptor{ID: "poolht2", Class: ClassHeater, Name: "Pool Heater 2", PairKey: "pool",
			SetpointKey: "poolsp2", Settable: true, TemperatureKey: "pooltemp"},
		Descriptor{ID: "spaht", Class: ClassHeater, Name: "Spa Heater", PairKey: "spa",
			SetpointKey: "spasp", Settable: true, TemperatureKey: "spatemp"},
		Descriptor{ID: "solarht", Class: ClassHeater, Name: "Solar Heat", Solar: true,
			SetpointKey: "poolsp", TemperatureKey: "solartemp"},
		Descriptor{ID: "pooltemp", Class: ClassTempSensor, Name: "Pool Temperature", TemperatureKey: "pooltemp"},
		Descriptor{ID: "spatemp", Class: ClassTempSensor, Name: "Spa Temperature", TemperatureKey: "spatemp"},
		Descriptor{ID: "airtemp", Class: ClassTempSensor, Name: "Air Temperature", TemperatureKey: "airtemp"},
		Descriptor{ID: "solartemp", Class: ClassTempSensor, Name: "Solar Temperature", Solar: true,
			TemperatureKey: "solartemp"},
	)

	c, err := NewCatalog(descs...)
	if err != nil {
		panic(err)
	}
	return c
}
