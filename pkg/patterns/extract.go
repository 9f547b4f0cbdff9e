package patterns

import (
	"math"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
)

const (
	CornerLateralG    = 1.0
	MinCornerSamples  = 5
	MinCornerTraceLen = 100
)

// ExtractCar collects stint progression and optimal range observations from
// the pit entries of s. Sessions without pit entries contribute nothing.
func ExtractCar(s *model.Session) (CarObservation, bool) {
	if s == nil || len(s.PitEntries) == 0 {
		return CarObservation{}, false
	}
	ret := CarObservation{
		StintProgression: make([]ProgressionPoint, 0, len(s.PitEntries)),
		OptimalRanges:    map[string][]float64{},
	}
	for _, pe := range s.PitEntries {
		if pe.StintDuration <= 0 || !pe.Temps.HasAny() {
			continue
		}
		ret.StintProgression = append(ret.StintProgression,
			ProgressionPoint{StintTime: pe.StintDuration, Temps: pe.Temps})
		for _, t := range model.Tires {
			for _, z := range model.Zones {
				v := pe.Temps.Get(t, z)
				if v >= OptimalMin && v <= OptimalMax {
					key := model.ZoneKey(t, z)
					ret.OptimalRanges[key] = append(ret.OptimalRanges[key], v)
				}
			}
		}
	}
	return ret, true
}

// ExtractTrack collects stint curves and detected corners. It needs both
// telemetry and pit entries.
func ExtractTrack(s *model.Session) (TrackObservation, bool) {
	if s == nil || len(s.Telemetry) == 0 || len(s.PitEntries) == 0 {
		return TrackObservation{}, false
	}
	ret := TrackObservation{
		StintCurves: make([]ProgressionPoint, 0, len(s.PitEntries)),
		Corners:     DetectCorners(s.Telemetry),
	}
	for _, pe := range s.PitEntries {
		if pe.StintDuration > 0 && pe.Temps.HasAny() {
			ret.StintCurves = append(ret.StintCurves,
				ProgressionPoint{StintTime: pe.StintDuration, Temps: pe.Temps})
		}
	}
	return ret, true
}

// DetectCorners finds runs of samples with |lateral g| above CornerLateralG.
// A run longer than MinCornerSamples is a corner. A single sample below the
// threshold ends the run, so one physical corner may be reported twice.
func DetectCorners(samples []model.TelemetrySample) []Corner {
	ret := make([]Corner, 0)
	if len(samples) < MinCornerTraceLen {
		return ret
	}
	var run []model.TelemetrySample
	finish := func() {
		if len(run) > MinCornerSamples {
			sumG, sumSpeed := 0.0, 0.0
			for i := range run {
				sumG += math.Abs(run[i].GForces.Lateral)
				sumSpeed += run[i].Inputs.Speed
			}
			n := float64(len(run))
			ret = append(ret, Corner{
				LapPct:      run[0].LapPct,
				AvgLateralG: sumG / n,
				AvgSpeed:    sumSpeed / n,
				Duration:    len(run),
			})
		}
		run = nil
	}
	for i := range samples {
		if math.Abs(samples[i].GForces.Lateral) > CornerLateralG {
			run = append(run, samples[i])
			continue
		}
		if run != nil {
			finish()
		}
	}
	// a corner still open at the end of the trace is not recorded
	return ret
}
