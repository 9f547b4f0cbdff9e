package model

import (
	"math"
	"time"
)

type (
	Inputs struct {
		Throttle float64 `json:"throttle"`
		Brake    float64 `json:"brake"`
		Clutch   float64 `json:"clutch"`
		Steering float64 `json:"steering"`
		Speed    float64 `json:"speed"` // km/h
	}
	GForces struct {
		Lateral      float64 `json:"lateral"` // positive = right turn
		Longitudinal float64 `json:"longitudinal"`
		Vertical     float64 `json:"vertical"`
	}
	Environment struct {
		TrackTemp float64 `json:"track_temp"` // °F
		AirTemp   float64 `json:"air_temp"`   // °F
	}

	// TelemetrySample is one 1 Hz observation stored with a session.
	TelemetrySample struct {
		Timestamp   float64     `json:"timestamp"` // unix seconds
		LapNum      int         `json:"lap_num"`
		LapPct      float64     `json:"lap_pct"`
		StintTime   float64     `json:"stint_time"` // seconds since stint start
		Inputs      Inputs      `json:"inputs"`
		Loads       TireValues  `json:"loads"` // shock deflection
		GForces     GForces     `json:"g_forces"`
		Environment Environment `json:"environment"`
		TireWear    TireValues  `json:"tire_wear"` // 0 = new, 1 = worn
	}

	// Telemetry is the per tick input of the prediction layers.
	Telemetry struct {
		TelemetrySample
		SessionTime float64
		SessionNum  int
		OnPitRoad   bool
	}

	// PitEntry is recorded when the car moves from track onto pit road.
	// Temps and Wear are the only ground truth the system ever sees.
	PitEntry struct {
		PitEntryTime  time.Time  `json:"pit_entry_time"`
		SessionTime   float64    `json:"session_time"`
		StintDuration float64    `json:"stint_duration"`
		TotalLaps     int        `json:"total_laps"`
		StintLaps     int        `json:"stint_laps"`
		AvgLapTime    float64    `json:"avg_lap_time"`
		Temps         ZoneValues `json:"temps"`
		Wear          ZoneValues `json:"wear"`
	}

	SessionMeta struct {
		TotalSamples   int  `json:"total_samples"`
		PitEntries     int  `json:"pit_entries"`
		HasGroundTruth bool `json:"has_ground_truth"`
	}

	Session struct {
		SessionID  string            `json:"session_id"`
		Car        string            `json:"car"`
		Track      string            `json:"track"`
		StartTime  time.Time         `json:"start_time"`
		EndTime    time.Time         `json:"end_time"`
		Duration   float64           `json:"duration"` // seconds
		Telemetry  []TelemetrySample `json:"telemetry"`
		PitEntries []PitEntry        `json:"pit_entries"`
		Metadata   SessionMeta       `json:"metadata"`
	}
)

// Combo is the key of track specific data, e.g. "mx5@okayama"
func Combo(car, track string) string {
	return car + "@" + track
}

// Seal stamps end time, duration and summary metadata.
func (s *Session) Seal(end time.Time) {
	s.EndTime = end
	s.Duration = end.Sub(s.StartTime).Seconds()
	s.Metadata = SessionMeta{
		TotalSamples:   len(s.Telemetry),
		PitEntries:     len(s.PitEntries),
		HasGroundTruth: len(s.PitEntries) > 0,
	}
}

// SamplesOnLap returns the samples recorded while lapNum was the current lap.
func (s *Session) SamplesOnLap(lapNum int) []TelemetrySample {
	ret := make([]TelemetrySample, 0)
	for i := range s.Telemetry {
		if s.Telemetry[i].LapNum == lapNum {
			ret = append(ret, s.Telemetry[i])
		}
	}
	return ret
}

// LapAverage condenses a group of samples (usually one lap).
type LapAverage struct {
	StintTime    float64
	Throttle     float64
	Brake        float64
	Speed        float64
	LateralAbs   float64
	Longitudinal float64
	Environment  Environment // taken from the last sample
	TireWear     TireValues  // taken from the last sample
}

func AverageSamples(samples []TelemetrySample) LapAverage {
	var ret LapAverage
	if len(samples) == 0 {
		return ret
	}
	n := float64(len(samples))
	for i := range samples {
		s := &samples[i]
		ret.StintTime += s.StintTime
		ret.Throttle += s.Inputs.Throttle
		ret.Brake += s.Inputs.Brake
		ret.Speed += s.Inputs.Speed
		ret.LateralAbs += math.Abs(s.GForces.Lateral)
		ret.Longitudinal += s.GForces.Longitudinal
	}
	ret.StintTime /= n
	ret.Throttle /= n
	ret.Brake /= n
	ret.Speed /= n
	ret.LateralAbs /= n
	ret.Longitudinal /= n
	last := samples[len(samples)-1]
	ret.Environment = last.Environment
	ret.TireWear = last.TireWear
	return ret
}
