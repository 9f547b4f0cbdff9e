package patterns

import (
	"math"
	"slices"

	"github.com/samber/lo"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
)

const (
	MaxProgressionPoints = 50
	MaxOptimalPerZone    = 100
	MaxStintCurves       = 30
	CornerMergeDistance  = 0.05

	OptimalMin = 180.0
	OptimalMax = 220.0

	carSessionsForFullConfidence   = 10.0
	trackSessionsForFullConfidence = 5.0
)

type (
	// ProgressionPoint relates stint duration to the ground truth at pit entry.
	ProgressionPoint struct {
		StintTime float64          `json:"stint_time"`
		Temps     model.ZoneValues `json:"temps"`
	}

	// Corner is a merged high lateral g section of a track.
	Corner struct {
		LapPct      float64 `json:"lap_pct"`
		AvgLateralG float64 `json:"avg_lateral_g"`
		AvgSpeed    float64 `json:"avg_speed"`
		Duration    int     `json:"duration"` // samples
		Count       int     `json:"count"`
	}

	// CarPattern is keyed by car. Values are immutable snapshots: merges
	// return a new pattern with an incremented Version.
	CarPattern struct {
		Version          int                  `json:"version"`
		StintProgression []ProgressionPoint   `json:"stint_progression"`
		OptimalRanges    map[string][]float64 `json:"optimal_ranges"`
		TotalSessions    int                  `json:"total_sessions"`
		Confidence       float64              `json:"confidence"`
	}

	// TrackPattern is keyed by car@track.
	TrackPattern struct {
		Version       int                `json:"version"`
		StintCurves   []ProgressionPoint `json:"stint_curves"`
		Corners       []Corner           `json:"corner_patterns"`
		TotalSessions int                `json:"total_sessions"`
		Confidence    float64            `json:"confidence"`
	}

	// CarObservation is what one session contributes to a CarPattern.
	CarObservation struct {
		StintProgression []ProgressionPoint
		OptimalRanges    map[string][]float64
	}

	// TrackObservation is what one session contributes to a TrackPattern.
	TrackObservation struct {
		StintCurves []ProgressionPoint
		Corners     []Corner
	}
)

// MergeCar folds obs into p. p is not modified.
func MergeCar(p CarPattern, obs CarObservation) CarPattern {
	ret := CarPattern{
		Version:          p.Version + 1,
		StintProgression: keepLast(concat(p.StintProgression, obs.StintProgression), MaxProgressionPoints),
		OptimalRanges:    make(map[string][]float64, len(p.OptimalRanges)),
		TotalSessions:    p.TotalSessions + 1,
	}
	for k, v := range p.OptimalRanges {
		ret.OptimalRanges[k] = slices.Clone(v)
	}
	for k, v := range obs.OptimalRanges {
		ret.OptimalRanges[k] = keepLast(concat(ret.OptimalRanges[k], v), MaxOptimalPerZone)
	}
	ret.Confidence = math.Min(float64(ret.TotalSessions)/carSessionsForFullConfidence, 1.0)
	return ret
}

// MergeTrack folds obs into p. p is not modified.
func MergeTrack(p TrackPattern, obs TrackObservation) TrackPattern {
	ret := TrackPattern{
		Version:       p.Version + 1,
		StintCurves:   keepLast(concat(p.StintCurves, obs.StintCurves), MaxStintCurves),
		Corners:       MergeCorners(p.Corners, obs.Corners),
		TotalSessions: p.TotalSessions + 1,
	}
	ret.Confidence = math.Min(float64(ret.TotalSessions)/trackSessionsForFullConfidence, 1.0)
	return ret
}

// MergeCorners combines observations closer than CornerMergeDistance (lap
// fraction) to a known corner by a count weighted running average. Others
// are appended and can absorb later observations of the same batch.
func MergeCorners(existing, observed []Corner) []Corner {
	ret := slices.Clone(existing)
	if ret == nil {
		ret = make([]Corner, 0, len(observed))
	}
	for _, c := range observed {
		idx := slices.IndexFunc(ret, func(e Corner) bool {
			return math.Abs(e.LapPct-c.LapPct) < CornerMergeDistance
		})
		if idx < 0 {
			c.Count = 1
			ret = append(ret, c)
			continue
		}
		e := &ret[idx]
		n := float64(max(e.Count, 1))
		e.AvgLateralG = (e.AvgLateralG*n + c.AvgLateralG) / (n + 1)
		e.AvgSpeed = (e.AvgSpeed*n + c.AvgSpeed) / (n + 1)
		e.Count = int(n) + 1
	}
	return ret
}

// NearestProgression returns the point whose stint time is closest to stintTime.
func NearestProgression(points []ProgressionPoint, stintTime float64) (ProgressionPoint, bool) {
	if len(points) == 0 {
		return ProgressionPoint{}, false
	}
	return lo.MinBy(points, func(a, b ProgressionPoint) bool {
		return math.Abs(a.StintTime-stintTime) < math.Abs(b.StintTime-stintTime)
	}), true
}

func concat[T any](a, b []T) []T {
	ret := make([]T, 0, len(a)+len(b))
	ret = append(ret, a...)
	return append(ret, b...)
}

func keepLast[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
