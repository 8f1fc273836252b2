package autelis

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TempUnit is the temperature scale the appliance is reporting in.
type TempUnit string

const (
	UnitFahrenheit TempUnit = "F"
	UnitCelsius    TempUnit = "C"
)

// batteryVoltsPerCount converts the raw vbat reading to volts.
const batteryVoltsPerCount = 0.01464

// SystemStatus is the controller-level state reported under <system>.
type SystemStatus struct {
	RunState     int     `json:"runstate"`
	OpMode       int     `json:"opmode"`
	LowBattery   int     `json:"lowbat"`
	BatteryVolts float64 `json:"battery_volts"`
}

// Snapshot is one poll's normalised read of appliance state.
// It is never mutated after parsing.
type Snapshot struct {
	Taken        time.Time
	Unit         TempUnit
	SolarPresent bool
	System       SystemStatus

	equipment map[string]int
	temps     map[string]int
}

// NewSnapshot builds a snapshot from already-normalised maps.
// The maps are copied.
func NewSnapshot(taken time.Time, unit TempUnit, system SystemStatus, equipment, temps map[string]int) *Snapshot {
	s := &Snapshot{
		Taken:     taken,
		Unit:      unit,
		System:    system,
		equipment: make(map[string]int, len(equipment)),
		temps:     make(map[string]int, len(temps)),
	}
	for k, v := range equipment {
		s.equipment[k] = v
	}
	for k, v := range temps {
		s.temps[k] = v
	}
	_, s.SolarPresent = s.equipment["solarht"]
	return s
}

// Equipment returns the reported value of an <equipment> element.
func (s *Snapshot) Equipment(id string) (int, bool) {
	v, ok := s.equipment[id]
	return v, ok
}

// Temp returns the reported value of a <temp> element.
func (s *Snapshot) Temp(id string) (int, bool) {
	v, ok := s.temps[id]
	return v, ok
}

// EquipmentIDs returns the identifiers with a non-empty equipment value.
func (s *Snapshot) EquipmentIDs() []string {
	ids := make([]string, 0, len(s.equipment))
	for id := range s.equipment {
		ids = append(ids, id)
	}
	return ids
}

// xmlElement captures any child element with its text.
type xmlElement struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type xmlSection struct {
	Elements []xmlElement `xml:",any"`
}

// xmlStatus accepts any root element; the appliance wraps sections in <response>.
type xmlStatus struct {
	System    *xmlSection `xml:"system"`
	Equipment *xmlSection `xml:"equipment"`
	Temp      *xmlSection `xml:"temp"`
}

// ParseStatus decodes a status.xml document into a Snapshot.
// Blank elements are treated as equipment that is not installed.
func ParseStatus(data []byte, taken time.Time) (*Snapshot, error) {
	var doc xmlStatus
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode status: %v", ErrProtocol, err)
	}
	if doc.System == nil || doc.Equipment == nil || doc.Temp == nil {
		return nil, fmt.Errorf("%w: status missing system, equipment or temp section", ErrProtocol)
	}

	system, err := parseSystem(doc.System)
	if err != nil {
		return nil, err
	}

	equipment, err := parseIntSection("equipment", doc.Equipment, nil)
	if err != nil {
		return nil, err
	}

	var unit TempUnit
	temps, err := parseIntSection("temp", doc.Temp, func(name, value string) bool {
		if name != "tempunits" {
			return false
		}
		unit = TempUnit(strings.ToUpper(value))
		return true
	})
	if err != nil {
		return nil, err
	}

	switch unit {
	case UnitFahrenheit, UnitCelsius:
	case "":
		return nil, fmt.Errorf("%w: tempunits not reported", ErrProtocol)
	default:
		return nil, fmt.Errorf("%w: unknown tempunits %q", ErrProtocol, unit)
	}

	return NewSnapshot(taken, unit, system, equipment, temps), nil
}

// parseIntSection collects the non-blank children of a section as integers.
// special, if set, may claim an element before integer parsing.
func parseIntSection(section string, sec *xmlSection, special func(name, value string) bool) (map[string]int, error) {
	out := make(map[string]int, len(sec.Elements))
	for _, el := range sec.Elements {
		name := el.XMLName.Local
		value := strings.TrimSpace(el.Value)
		if value == "" {
			continue
		}
		if special != nil && special(name, value) {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s value %q is not an integer", ErrProtocol, section, name, value)
		}
		out[name] = n
	}
	return out, nil
}

func parseSystem(sec *xmlSection) (SystemStatus, error) {
	var st SystemStatus
	for _, el := range sec.Elements {
		value := strings.TrimSpace(el.Value)
		if value == "" {
			continue
		}
		var err error
		switch el.XMLName.Local {
		case "runstate":
			st.RunState, err = strconv.Atoi(value)
		case "opmode":
			st.OpMode, err = strconv.Atoi(value)
		case "lowbat":
			st.LowBattery, err = strconv.Atoi(value)
		case "vbat":
			var raw float64
			raw, err = strconv.ParseFloat(value, 64)
			st.BatteryVolts = raw * batteryVoltsPerCount
		default:
			continue
		}
		if err != nil {
			return SystemStatus{}, fmt.Errorf("%w: system/%s value %q: %v", ErrProtocol, el.XMLName.Local, value, err)
		}
	}
	return st, nil
}
