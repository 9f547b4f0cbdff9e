package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type (
	Tire int
	Zone int
)

const (
	LF Tire = iota
	RF
	LR
	RR
)

// Zones within a tire: left edge, center, right edge as seen from the driver
// (simulator columns CL/CM/CR). In a right turn the L edge faces the outside
// of the turn, in a left turn the R edge does.
const (
	ZoneL Zone = iota
	ZoneC
	ZoneR
)

const (
	NumTires = 4
	NumZones = 3
)

var (
	Tires     = []Tire{LF, RF, LR, RR}
	Zones     = []Zone{ZoneL, ZoneC, ZoneR}
	tireNames = [NumTires]string{"LF", "RF", "LR", "RR"}
	zoneNames = [NumZones]string{"L", "C", "R"}
)

func (t Tire) String() string {
	if t < 0 || int(t) >= NumTires {
		return fmt.Sprintf("Tire(%d)", int(t))
	}
	return tireNames[t]
}

func (t Tire) IsFront() bool { return t == LF || t == RF }
func (t Tire) IsRear() bool  { return t == LR || t == RR }
func (t Tire) IsLeft() bool  { return t == LF || t == LR }
func (t Tire) IsRight() bool { return t == RF || t == RR }

func (z Zone) String() string {
	if z < 0 || int(z) >= NumZones {
		return fmt.Sprintf("Zone(%d)", int(z))
	}
	return zoneNames[z]
}

func ParseTire(s string) (Tire, bool) {
	for i, n := range tireNames {
		if n == s {
			return Tire(i), true
		}
	}
	return 0, false
}

// ParseZone accepts L/C/R and the simulator's M for the middle wear column.
func ParseZone(s string) (Zone, bool) {
	switch s {
	case "L":
		return ZoneL, true
	case "C", "M":
		return ZoneC, true
	case "R":
		return ZoneR, true
	}
	return 0, false
}

// ZoneKey is the flat key used in pattern stores and model file names, e.g. "LF_L"
func ZoneKey(t Tire, z Zone) string {
	return t.String() + "_" + z.String()
}

func ParseZoneKey(key string) (Tire, Zone, bool) {
	if len(key) != 4 || key[2] != '_' {
		return 0, 0, false
	}
	t, ok := ParseTire(key[:2])
	if !ok {
		return 0, 0, false
	}
	z, ok := ParseZone(key[3:])
	if !ok {
		return 0, 0, false
	}
	return t, z, true
}

// ZoneValues holds one value per tire and zone (temperatures, wear, deltas).
// It serializes as {"LF":{"L":..,"C":..,"R":..},...}.
type ZoneValues [NumTires][NumZones]float64

func UniformZones(v float64) ZoneValues {
	var ret ZoneValues
	for t := range ret {
		for z := range ret[t] {
			ret[t][z] = v
		}
	}
	return ret
}

func (v ZoneValues) Get(t Tire, z Zone) float64 {
	return v[t][z]
}

func (v *ZoneValues) Set(t Tire, z Zone, val float64) {
	v[t][z] = val
}

func (v ZoneValues) TireAvg(t Tire) float64 {
	return (v[t][ZoneL] + v[t][ZoneC] + v[t][ZoneR]) / NumZones
}

func (v ZoneValues) Avg() float64 {
	sum := 0.0
	for t := range v {
		for z := range v[t] {
			sum += v[t][z]
		}
	}
	return sum / (NumTires * NumZones)
}

// HasAny reports whether at least one zone holds a positive value.
func (v ZoneValues) HasAny() bool {
	for t := range v {
		for z := range v[t] {
			if v[t][z] > 0 {
				return true
			}
		}
	}
	return false
}

func (v ZoneValues) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for t := range v {
		if t > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:{", tireNames[t])
		for z := range v[t] {
			if z > 0 {
				buf.WriteByte(',')
			}
			val, err := json.Marshal(v[t][z])
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&buf, "%q:%s", zoneNames[z], val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON leaves unknown or missing entries at zero.
func (v *ZoneValues) UnmarshalJSON(data []byte) error {
	raw := map[string]map[string]float64{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = ZoneValues{}
	for tk, zones := range raw {
		t, ok := ParseTire(tk)
		if !ok {
			continue
		}
		for zk, val := range zones {
			if z, ok := ParseZone(zk); ok {
				v[t][z] = val
			}
		}
	}
	return nil
}

// TireValues holds one value per tire (average wear, shock deflection).
// It serializes as {"LF":..,"RF":..,"LR":..,"RR":..}.
type TireValues [NumTires]float64

func (v TireValues) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, NumTires)
	for t := range v {
		m[tireNames[t]] = v[t]
	}
	return json.Marshal(m)
}

func (v *TireValues) UnmarshalJSON(data []byte) error {
	raw := map[string]float64{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = TireValues{}
	for k, val := range raw {
		if t, ok := ParseTire(k); ok {
			v[t] = val
		}
	}
	return nil
}
