package trainer

import (
	"math"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/storage"
)

const NumFeatures = 15

// FeatureNames is stored with each model file.
var FeatureNames = [NumFeatures]string{
	"lap_num", "stint_time", "track_temp", "air_temp",
	"avg_throttle", "avg_brake", "avg_speed", "avg_lateral_g", "avg_long_g",
	"LF_wear", "RF_wear", "LR_wear", "RR_wear",
	"stint_minutes", "laps_per_minute",
}

type Features [NumFeatures]float64

const (
	missingWear     = 1.0
	minStintMinutes = 0.1
)

// BuildFeatures is used for training rows and live predictions alike.
// A nil wear reads as fully worn.
func BuildFeatures(lap int, stintTime float64, avg model.LapAverage, wear *model.TireValues) Features {
	stintMinutes := stintTime / 60.0
	ret := Features{
		float64(lap),
		stintTime,
		avg.Environment.TrackTemp,
		avg.Environment.AirTemp,
		avg.Throttle,
		avg.Brake,
		avg.Speed,
		avg.LateralAbs,
		avg.Longitudinal,
	}
	for i, t := range model.Tires {
		ret[9+i] = missingWear
		if wear != nil {
			ret[9+i] = wear[t]
		}
	}
	ret[13] = stintMinutes
	ret[14] = float64(lap) / math.Max(stintMinutes, minStintMinutes)
	return ret
}

// FromPitEntry averages the samples of the last lap before pe.
func FromPitEntry(s *model.Session, pe *model.PitEntry) (Features, bool) {
	samples := s.SamplesOnLap(pe.TotalLaps)
	if len(samples) == 0 {
		return Features{}, false
	}
	avg := model.AverageSamples(samples)
	return BuildFeatures(pe.TotalLaps, pe.StintDuration, avg, &avg.TireWear), true
}

// FromSynthesized rebuilds the training row of a distilled sample.
func FromSynthesized(smp *storage.SynthesizedSample) Features {
	avg := model.LapAverage{
		Throttle:     smp.AvgThrottle,
		Brake:        smp.AvgBrake,
		Speed:        smp.AvgSpeed,
		LateralAbs:   smp.AvgLateralG,
		Longitudinal: smp.AvgLongitudinalG,
		Environment:  model.Environment{TrackTemp: smp.TrackTemp, AirTemp: smp.AirTemp},
	}
	return BuildFeatures(smp.Lap, smp.StintTime, avg, &smp.TireWear)
}

// FromTelemetry builds the live feature vector of a single tick.
func FromTelemetry(tel *model.Telemetry) Features {
	if tel == nil {
		return BuildFeatures(0, 0, model.LapAverage{}, nil)
	}
	avg := model.AverageSamples([]model.TelemetrySample{tel.TelemetrySample})
	return BuildFeatures(tel.LapNum, tel.StintTime, avg, &tel.TireWear)
}
