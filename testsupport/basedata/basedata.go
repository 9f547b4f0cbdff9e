// Package basedata provides synthetic sessions and telemetry for tests.
package basedata

import (
	"time"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/telemetry"
)

const (
	SampleCar   = "car_x"
	SampleTrack = "track_y"
)

func TestTime() time.Time {
	t, _ := time.Parse(time.RFC3339, "2024-04-28T11:10:12Z")
	return t
}

type SessionParam struct {
	Car           string
	Track         string
	Start         time.Time
	Laps          int     // laps per stint
	SamplesPerLap int     // 1 Hz samples per lap
	Stints        int     // each stint ends with a pit entry
	PitTemp       float64 // ground truth for all zones at pit entry
	Cornering     bool    // add a long right hander at 25% of each lap
}

func DefaultSessionParam() SessionParam {
	return SessionParam{
		Car:           SampleCar,
		Track:         SampleTrack,
		Start:         TestTime(),
		Laps:          5,
		SamplesPerLap: 40,
		Stints:        1,
		PitTemp:       190,
	}
}

// SampleSession builds a sealed session with constant driving and one pit
// entry at the end of every stint.
func SampleSession(p SessionParam) *model.Session {
	s := &model.Session{
		SessionID:  p.Start.Format("20060102_150405"),
		Car:        p.Car,
		Track:      p.Track,
		StartTime:  p.Start,
		Telemetry:  make([]model.TelemetrySample, 0),
		PitEntries: make([]model.PitEntry, 0),
	}
	sessionTime := 0.0
	lap := 1
	for stint := range max(p.Stints, 1) {
		stintStart := sessionTime
		firstLap := lap
		for range p.Laps {
			for i := range p.SamplesPerLap {
				pct := float64(i) / float64(p.SamplesPerLap)
				smp := ConstantSample(lap, pct, sessionTime-stintStart)
				smp.Timestamp = float64(p.Start.Unix()) + sessionTime
				if p.Cornering && pct >= 0.25 && pct < 0.25+10.0/float64(p.SamplesPerLap) {
					smp.GForces.Lateral = 1.6
					smp.Inputs.Speed = 120
				}
				s.Telemetry = append(s.Telemetry, smp)
				sessionTime++
			}
			lap++
		}
		if p.Stints > 0 {
			stintLaps := lap - firstLap
			s.PitEntries = append(s.PitEntries, model.PitEntry{
				PitEntryTime:  p.Start.Add(time.Duration(sessionTime) * time.Second),
				SessionTime:   sessionTime,
				StintDuration: sessionTime - stintStart,
				TotalLaps:     lap - 1,
				StintLaps:     stintLaps,
				AvgLapTime:    (sessionTime - stintStart) / float64(stintLaps),
				Temps:         model.UniformZones(p.PitTemp + float64(stint)),
				Wear:          model.UniformZones(0.95),
			})
		}
	}
	s.Seal(p.Start.Add(time.Duration(sessionTime) * time.Second))
	return s
}

// ConstantSample is moderate straight line driving.
func ConstantSample(lap int, pct, stintTime float64) model.TelemetrySample {
	return model.TelemetrySample{
		LapNum:      lap,
		LapPct:      pct,
		StintTime:   stintTime,
		Inputs:      model.Inputs{Throttle: 0.6, Brake: 0.05, Speed: 160},
		GForces:     model.GForces{Lateral: 0.3, Longitudinal: 0.1, Vertical: 1},
		Environment: model.Environment{TrackTemp: 85, AirTemp: 72},
		TireWear:    model.TireValues{0.02, 0.03, 0.01, 0.02},
	}
}

// ConstantSnapshot is a simulator snapshot with moderate throttle and speed.
func ConstantSnapshot(sessionTime float64, lap int) telemetry.Snapshot {
	return telemetry.Snapshot{
		telemetry.KeySessionTime: sessionTime,
		telemetry.KeySessionNum:  0,
		telemetry.KeyLap:         lap,
		telemetry.KeyLapDistPct:  0.5,
		telemetry.KeyOnPitRoad:   false,
		telemetry.KeyThrottle:    0.6,
		telemetry.KeyBrake:       0.0,
		telemetry.KeySpeed:       40.0, // m/s
		telemetry.KeyLatAccel:    2.0,  // m/s²
		telemetry.KeyTrackTemp:   85.0,
		telemetry.KeyAirTemp:     72.0,
	}
}

// WithActualTemps adds ground truth temperatures for all zones to src.
func WithActualTemps(src telemetry.Snapshot, temps model.ZoneValues) telemetry.Snapshot {
	for _, t := range model.Tires {
		for _, z := range model.Zones {
			src[telemetry.TempKey(t, z)] = temps.Get(t, z)
		}
	}
	return src
}

// SessionInfoYaml describes a session where car index 1 is the player.
const SessionInfoYaml = `
WeekendInfo:
  TrackDisplayName: Track Y
DriverInfo:
  DriverCarIdx: 1
  Drivers:
  - CarIdx: 1
    CarScreenName: Car X
`
