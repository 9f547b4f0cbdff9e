// Package physics estimates tire temperatures from live telemetry with a
// discretized heat balance. It needs no history and is always available.
package physics

import (
	"math"

	"github.com/mpapenbr/iracelog-tiretemp/log"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
)

const (
	AmbientBase  = 70.0 // °F
	MaxTemp      = 300.0
	defTrackTemp = 75.0
	maxDt        = 2.0
	smoothing    = 0.3
	transferLatG = 0.1
	transferPed  = 0.5
)

// Coefficients of the heat balance. All rates are °F per second unless noted.
type Coefficients struct {
	TrackTempInfluence float64 // °F base shift per °F track temp above 75
	ThrottleHeat       float64 // at full throttle, rear tires
	BrakeHeat          float64 // at full brake, front tires
	LateralHeat        float64 // per g lateral
	SpeedHeat          float64 // per 100 km/h
	StintHeatRate      float64 // °F per minute of stint
	CoolingRate        float64
	SpeedCooling       float64 // per 100 km/h
}

func DefaultCoefficients() Coefficients {
	return Coefficients{
		TrackTempInfluence: 0.4,
		ThrottleHeat:       3.5,
		BrakeHeat:          5.0,
		LateralHeat:        2.5,
		SpeedHeat:          0.02,
		StintHeatRate:      0.05,
		CoolingRate:        0.8,
		SpeedCooling:       0.015,
	}
}

type Option func(*Model)

func WithCoefficients(c Coefficients) Option {
	return func(m *Model) {
		m.coeff = c
	}
}

func WithLogger(l *log.Logger) Option {
	return func(m *Model) {
		m.log = l
	}
}

// Model is stateful: each Predict integrates the time since the previous call.
// Not safe for concurrent use.
type Model struct {
	coeff  Coefficients
	temps  model.ZoneValues
	seeded bool
	lastTS float64
	log    *log.Logger
}

func New(opts ...Option) *Model {
	ret := &Model{
		coeff: DefaultCoefficients(),
		temps: model.UniformZones(AmbientBase),
		log:   log.Default().Named("physics"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Predict advances the simulation to tel.Timestamp and returns the new state.
// The first call after New or Reset only records the timestamp.
func (m *Model) Predict(tel *model.Telemetry) model.ZoneValues {
	if tel == nil {
		return m.temps
	}
	if !m.seeded {
		m.seeded = true
		m.lastTS = tel.Timestamp
		return m.temps
	}
	dt := tel.Timestamp - m.lastTS
	if dt <= 0 || dt > maxDt || math.IsNaN(dt) {
		dt = 1.0
	}
	m.lastTS = tel.Timestamp

	in := tel.Inputs
	lat := finite(tel.GForces.Lateral)
	throttle := finite(in.Throttle)
	brake := finite(in.Brake)
	speed := finite(in.Speed)
	trackTemp := finite(tel.Environment.TrackTemp)
	if trackTemp == 0 {
		trackTemp = defTrackTemp
	}
	base := AmbientBase + (trackTemp-defTrackTemp)*m.coeff.TrackTempInfluence
	stintHeat := finite(tel.StintTime) / 60.0 * m.coeff.StintHeatRate
	cooling := (m.coeff.CoolingRate + speed/100.0*m.coeff.SpeedCooling) * dt

	for _, t := range model.Tires {
		load := LoadFactor(t, lat, throttle, brake, finite(tel.Loads[t]))
		for _, z := range model.Zones {
			cur := m.temps[t][z]
			heat := 0.0
			if t.IsRear() {
				heat += throttle * m.coeff.ThrottleHeat * dt
			}
			if t.IsFront() {
				heat += brake * m.coeff.BrakeHeat * dt
			}
			heat += ZoneLateralFactor(t, z, lat) * m.coeff.LateralHeat * dt
			heat += speed / 100.0 * m.coeff.SpeedHeat * dt
			heat *= load
			heat += stintHeat * dt / 60.0

			next := clamp(cur+heat-cooling, base, MaxTemp)
			m.temps[t][z] = smoothing*next + (1-smoothing)*cur
		}
	}
	return m.temps
}

// Reset sets every zone to baseTemp and forces a re-seed on the next Predict.
func (m *Model) Reset(baseTemp float64) {
	m.temps = model.UniformZones(baseTemp)
	m.seeded = false
	m.lastTS = 0
	m.log.Debug("reset", log.Float64("baseTemp", baseTemp))
}

// Calibrate overwrites the state with every positive ground truth value.
func (m *Model) Calibrate(actual model.ZoneValues) {
	for _, t := range model.Tires {
		for _, z := range model.Zones {
			if v := actual[t][z]; v > 0 && !math.IsInf(v, 0) {
				m.temps[t][z] = v
			}
		}
	}
	m.log.Debug("calibrated", log.Float64("avg", m.temps.Avg()))
}

func (m *Model) Temps() model.ZoneValues {
	return m.temps
}

func (m *Model) AverageTemps() model.TireValues {
	var ret model.TireValues
	for _, t := range model.Tires {
		ret[t] = m.temps.TireAvg(t)
	}
	return ret
}

// Estimate makes the model usable as a prediction layer. Physics always has
// full confidence in its own output.
func (m *Model) Estimate(tel *model.Telemetry) model.Estimate {
	return model.AbsoluteEstimate(m.Predict(tel), 1.0)
}

// LoadFactor combines shock deflection, lateral and longitudinal weight
// transfer into a heat multiplier in [0.5, 2.0].
// lat is signed, positive values are right turns.
func LoadFactor(t model.Tire, lat, throttle, brake, shockDefl float64) float64 {
	fromShock := 1.0 + shockDefl*0.5

	lateral := 1.0
	if outside, ok := outsideTire(t, lat); ok {
		if outside {
			lateral += math.Abs(lat) * 0.3
		} else {
			lateral -= math.Abs(lat) * 0.2
		}
	}

	long := 1.0
	if throttle > transferPed {
		if t.IsRear() {
			long += throttle * 0.2
		} else {
			long -= throttle * 0.1
		}
	}
	if brake > transferPed {
		if t.IsFront() {
			long += brake * 0.3
		} else {
			long -= brake * 0.15
		}
	}
	return clamp(fromShock*lateral*long, 0.5, 2.0)
}

// ZoneLateralFactor scales |lat| per zone. The outer edge of the outside tire
// heats most, the inner edge of the inside tire a bit more than its other
// zones, the centre leads on straights.
func ZoneLateralFactor(t model.Tire, z model.Zone, lat float64) float64 {
	base := math.Abs(lat)
	outside, cornering := outsideTire(t, lat)
	if !cornering {
		if z == model.ZoneC {
			return base
		}
		return base * 0.8
	}
	outerEdge, innerEdge := model.ZoneL, model.ZoneR
	if lat < 0 {
		outerEdge, innerEdge = model.ZoneR, model.ZoneL
	}
	if outside {
		switch z {
		case outerEdge:
			return base * 1.3
		case model.ZoneC:
			return base
		default:
			return base * 0.7
		}
	}
	if z == innerEdge {
		return base * 1.2
	}
	return base * 0.8
}

// outsideTire reports whether t is on the outside of the turn. ok is false
// when driving straight.
func outsideTire(t model.Tire, lat float64) (outside, ok bool) {
	switch {
	case lat > transferLatG:
		return t.IsRight(), true
	case lat < -transferLatG:
		return t.IsLeft(), true
	}
	return false, false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
