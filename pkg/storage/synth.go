package storage

import (
	"errors"
	"io/fs"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
)

const DefaultSynthCap = 100

type (
	// SynthesizedSample is one lap averaged feature/target pair distilled from
	// a deleted raw session.
	SynthesizedSample struct {
		Lap              int              `json:"lap"`
		StintLaps        int              `json:"stint_laps"`
		StintTime        float64          `json:"stint_time"`
		TrackTemp        float64          `json:"track_temp"`
		AirTemp          float64          `json:"air_temp"`
		AvgThrottle      float64          `json:"avg_throttle"`
		AvgBrake         float64          `json:"avg_brake"`
		AvgSpeed         float64          `json:"avg_speed"`
		AvgLateralG      float64          `json:"avg_lateral_g"`
		AvgLongitudinalG float64          `json:"avg_longitudinal_g"`
		TireWear         model.TireValues `json:"tire_wear"`
		TargetTemps      model.ZoneValues `json:"target_temps"`
	}

	// SynthCombo holds the distilled samples of one car@track combination.
	SynthCombo struct {
		Samples             []SynthesizedSample `json:"synthetic_samples"`
		TotalSourceSessions int                 `json:"total_source_sessions"`
		Confidence          float64             `json:"confidence"`
		LastUpdated         time.Time           `json:"last_updated"`
	}

	// SynthStore is keyed by car@track.
	SynthStore map[string]SynthCombo
)

// Synthesize extracts up to three samples per pit entry: the first lap of the
// stint, the mid stint lap and the last lap before the pit.
func Synthesize(s *model.Session) []SynthesizedSample {
	ret := make([]SynthesizedSample, 0)
	if s == nil || len(s.Telemetry) == 0 || len(s.PitEntries) == 0 {
		return ret
	}
	for i := range s.PitEntries {
		pe := &s.PitEntries[i]
		if pe.TotalLaps <= 0 {
			continue
		}
		last := pe.TotalLaps
		first := 1
		if pe.StintLaps > 0 && pe.StintLaps <= last {
			first = last - pe.StintLaps + 1
		}
		laps := lo.Uniq([]int{first, (first + last) / 2, last})
		for _, lap := range laps {
			samples := s.SamplesOnLap(lap)
			if len(samples) == 0 {
				continue
			}
			avg := model.AverageSamples(samples)
			ret = append(ret, SynthesizedSample{
				Lap:              lap,
				StintLaps:        lap - first + 1,
				StintTime:        avg.StintTime,
				TrackTemp:        avg.Environment.TrackTemp,
				AirTemp:          avg.Environment.AirTemp,
				AvgThrottle:      avg.Throttle,
				AvgBrake:         avg.Brake,
				AvgSpeed:         avg.Speed,
				AvgLateralG:      avg.LateralAbs,
				AvgLongitudinalG: avg.Longitudinal,
				TireWear:         avg.TireWear,
				TargetTemps:      pe.Temps,
			})
		}
	}
	return ret
}

// MergeSynthesized returns a new combo with samples added from one more source
// session. The result never holds more than limit samples.
func MergeSynthesized(c SynthCombo, samples []SynthesizedSample, limit int, now time.Time) SynthCombo {
	merged := make([]SynthesizedSample, 0, len(c.Samples)+len(samples))
	merged = append(merged, c.Samples...)
	merged = append(merged, samples...)
	ret := SynthCombo{
		Samples:             SelectRepresentative(merged, limit),
		TotalSourceSessions: c.TotalSourceSessions + 1,
		LastUpdated:         now,
	}
	ret.Confidence = math.Min(float64(ret.TotalSourceSessions)/10.0, 1.0)
	return ret
}

// SelectRepresentative keeps limit samples evenly spaced by stint time.
func SelectRepresentative(samples []SynthesizedSample, limit int) []SynthesizedSample {
	if limit <= 0 || len(samples) <= limit {
		return samples
	}
	sorted := make([]SynthesizedSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StintTime < sorted[j].StintTime })
	step := float64(len(sorted)) / float64(limit)
	ret := make([]SynthesizedSample, limit)
	for i := range ret {
		ret[i] = sorted[int(float64(i)*step)]
	}
	return ret
}

// LoadSynthStore reads the store; a missing file yields an empty store.
func LoadSynthStore(afs afero.Fs, path string) (SynthStore, error) {
	ret := SynthStore{}
	if err := ReadJSON(afs, path, &ret); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return SynthStore{}, nil
		}
		return SynthStore{}, err
	}
	return ret, nil
}

func SaveSynthStore(afs afero.Fs, path string, store SynthStore) error {
	return WriteJSON(afs, path, store)
}

// ForCar collects the samples of all combos of car, ordered by combo key.
func (s SynthStore) ForCar(car string) []SynthesizedSample {
	prefix := SanitizeName(car) + "@"
	keys := lo.Filter(lo.Keys(s), func(k string, _ int) bool {
		return strings.HasPrefix(k, prefix)
	})
	sort.Strings(keys)
	ret := make([]SynthesizedSample, 0)
	for _, k := range keys {
		ret = append(ret, s[k].Samples...)
	}
	return ret
}
