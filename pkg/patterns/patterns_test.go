//nolint:funlen // test tables
package patterns

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/storage"
	"github.com/mpapenbr/iracelog-tiretemp/testsupport/basedata"
)

func TestMergeCorners(t *testing.T) {
	observed := []Corner{
		{LapPct: 0.10, AvgLateralG: 1.2, AvgSpeed: 100, Duration: 8},
		{LapPct: 0.12, AvgLateralG: 1.6, AvgSpeed: 120, Duration: 6},
		{LapPct: 0.50, AvgLateralG: 2.0, AvgSpeed: 90, Duration: 12},
	}
	got := MergeCorners(nil, observed)
	require.Len(t, got, 2)
	assert.Equal(t, 0.10, got[0].LapPct)
	assert.Equal(t, 2, got[0].Count)
	assert.InDelta(t, 1.4, got[0].AvgLateralG, 1e-9)
	assert.InDelta(t, 110.0, got[0].AvgSpeed, 1e-9)
	assert.Equal(t, 0.50, got[1].LapPct)
	assert.Equal(t, 1, got[1].Count)

	// existing corners are not modified
	again := MergeCorners(got, []Corner{{LapPct: 0.11, AvgLateralG: 1.4, AvgSpeed: 110}})
	assert.Equal(t, 2, got[0].Count)
	assert.Equal(t, 3, again[0].Count)
	assert.InDelta(t, 1.4, again[0].AvgLateralG, 1e-9)
}

func cornerTrace(n int, lateral map[int]float64) []model.TelemetrySample {
	ret := make([]model.TelemetrySample, n)
	for i := range ret {
		ret[i] = basedata.ConstantSample(1, float64(i)/float64(n), float64(i))
		if v, ok := lateral[i]; ok {
			ret[i].GForces.Lateral = v
		}
	}
	return ret
}

func TestDetectCorners(t *testing.T) {
	span := func(from, to int, v float64) map[int]float64 {
		ret := map[int]float64{}
		for i := from; i <= to; i++ {
			ret[i] = v
		}
		return ret
	}
	tests := []struct {
		name    string
		samples []model.TelemetrySample
		want    int
	}{
		{"single corner", cornerTrace(120, span(10, 19, 1.5)), 1},
		{"left hander", cornerTrace(120, span(10, 19, -1.5)), 1},
		{"too short", cornerTrace(120, span(10, 14, 1.5)), 0},
		{"short trace", cornerTrace(99, span(10, 19, 1.5)), 0},
		{"open at end", cornerTrace(120, span(110, 119, 1.5)), 0},
		{
			"single sample gap splits",
			cornerTrace(120, func() map[int]float64 {
				m := span(10, 25, 1.5)
				m[17] = 0.5
				return m
			}()),
			2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectCorners(tt.samples)
			assert.Len(t, got, tt.want)
			for _, c := range got {
				assert.InDelta(t, 1.5, c.AvgLateralG, 1e-9)
				assert.Greater(t, c.Duration, MinCornerSamples)
			}
		})
	}
}

func TestMergeCar(t *testing.T) {
	var p CarPattern
	for i := range 12 {
		obs := CarObservation{
			StintProgression: []ProgressionPoint{
				{StintTime: float64(i*10 + 1), Temps: model.UniformZones(190)},
				{StintTime: float64(i*10 + 2), Temps: model.UniformZones(191)},
				{StintTime: float64(i*10 + 3), Temps: model.UniformZones(192)},
				{StintTime: float64(i*10 + 4), Temps: model.UniformZones(193)},
				{StintTime: float64(i*10 + 5), Temps: model.UniformZones(194)},
			},
			OptimalRanges: map[string][]float64{"LF_L": make([]float64, 10)},
		}
		prev := p
		p = MergeCar(p, obs)
		assert.Equal(t, prev.Version+1, p.Version)
		assert.Equal(t, prev.TotalSessions+1, p.TotalSessions)
	}
	assert.Len(t, p.StintProgression, MaxProgressionPoints)
	assert.Equal(t, 115.0, p.StintProgression[MaxProgressionPoints-1].StintTime)
	assert.Len(t, p.OptimalRanges["LF_L"], MaxOptimalPerZone)
	assert.Equal(t, 1.0, p.Confidence)
}

func TestMergeTrack_Confidence(t *testing.T) {
	var p TrackPattern
	p = MergeTrack(p, TrackObservation{})
	assert.InDelta(t, 0.2, p.Confidence, 1e-9)
	for range 40 {
		p = MergeTrack(p, TrackObservation{
			StintCurves: []ProgressionPoint{{StintTime: 10}},
		})
	}
	assert.Equal(t, 1.0, p.Confidence)
	assert.Len(t, p.StintCurves, MaxStintCurves)
	assert.Empty(t, p.Corners)
}

func TestExtractCar(t *testing.T) {
	p := basedata.DefaultSessionParam()
	p.Stints = 2
	obs, ok := ExtractCar(basedata.SampleSession(p))
	require.True(t, ok)
	require.Len(t, obs.StintProgression, 2)
	assert.Equal(t, 200.0, obs.StintProgression[0].StintTime)
	assert.Len(t, obs.OptimalRanges, model.NumTires*model.NumZones)
	assert.Equal(t, []float64{190, 191}, obs.OptimalRanges["RR_C"])

	p.Stints = 0
	_, ok = ExtractCar(basedata.SampleSession(p))
	assert.False(t, ok)
	_, ok = ExtractTrack(basedata.SampleSession(p))
	assert.False(t, ok)
}

func newLearner(t *testing.T) (*Learner, *storage.SessionRepo, afero.Fs) {
	t.Helper()
	afs := afero.NewMemMapFs()
	layout := storage.Layout{Root: "/data"}
	require.NoError(t, layout.EnsureDirs(afs))
	repo := storage.NewSessionRepo(afs, layout)
	return New(afs, layout, repo), repo, afs
}

func TestLearner(t *testing.T) {
	l, repo, afs := newLearner(t)
	p := basedata.DefaultSessionParam()
	p.Cornering = true
	path, err := repo.Save(basedata.SampleSession(p))
	require.NoError(t, err)

	require.True(t, l.LearnFromSession(context.Background(), path))

	tp, ok := l.TrackPattern(basedata.SampleCar, basedata.SampleTrack)
	require.True(t, ok)
	require.Len(t, tp.Corners, 1, "one corner per lap, merged")
	assert.Equal(t, 5, tp.Corners[0].Count)
	assert.InDelta(t, 1.6, tp.Corners[0].AvgLateralG, 1e-9)
	assert.InDelta(t, 0.25, tp.Corners[0].LapPct, 1e-9)

	stats := l.Stats()
	assert.Equal(t, 1, stats.Cars)
	assert.Equal(t, 1, stats.TrackCombos)
	assert.Equal(t, Summary{Sessions: 1, Confidence: 0.1}, stats.CarDetails[basedata.SampleCar])
	assert.Equal(t, []string{basedata.SampleCar}, l.Cars())

	tel := &model.Telemetry{TelemetrySample: basedata.ConstantSample(3, 0.26, 100)}
	tel.GForces.Lateral = 1.2
	est := l.Adjustment(basedata.SampleCar, basedata.SampleTrack, tel)
	assert.True(t, est.Relative)
	assert.InDelta(t, 0.15, est.Confidence, 1e-9)
	assert.InDelta(t, 0.1, est.Values.Get(model.LF, model.ZoneL), 1e-9)
	// right hander: outer edge of the right front
	assert.InDelta(t, 0.1+3.2*0.2, est.Values.Get(model.RF, model.ZoneL), 1e-9)

	// left hander heats the left front
	tel.GForces.Lateral = -1.2
	est = l.Adjustment(basedata.SampleCar, basedata.SampleTrack, tel)
	assert.InDelta(t, 0.1+3.2*0.2, est.Values.Get(model.LF, model.ZoneR), 1e-9)
	assert.InDelta(t, 0.1, est.Values.Get(model.RF, model.ZoneL), 1e-9)

	// stores survive a restart
	reloaded := New(afs, storage.Layout{Root: "/data"}, repo)
	if diff := cmp.Diff(l.Stats(), reloaded.Stats()); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestAdjustment_Unknown(t *testing.T) {
	l, _, _ := newLearner(t)
	est := l.Adjustment("nope", "nowhere", &model.Telemetry{})
	assert.Equal(t, 0.0, est.Confidence)
	assert.Equal(t, model.ZoneValues{}, est.Values)
	assert.Equal(t, 0.0, l.Adjustment("nope", "nowhere", nil).Confidence)
}

func TestLearner_NoPitEntries(t *testing.T) {
	l, repo, _ := newLearner(t)
	p := basedata.DefaultSessionParam()
	p.Stints = 0
	path, err := repo.Save(basedata.SampleSession(p))
	require.NoError(t, err)
	assert.True(t, l.LearnFromSession(context.Background(), path))
	assert.Equal(t, 0, l.Stats().Cars)
	assert.Equal(t, 0, l.Stats().TrackCombos)

	assert.False(t, l.LearnFromSession(context.Background(), "/data/sessions/missing.json.gz"))
}

func TestLearner_CorruptStore(t *testing.T) {
	afs := afero.NewMemMapFs()
	layout := storage.Layout{Root: "/data"}
	require.NoError(t, layout.EnsureDirs(afs))
	require.NoError(t, afero.WriteFile(afs,
		filepath.Join(layout.Calibrations(), CarPatternsFile), []byte("{trunc"), 0o644))
	l := New(afs, layout, storage.NewSessionRepo(afs, layout))
	assert.Equal(t, 0, l.Stats().Cars)
}
