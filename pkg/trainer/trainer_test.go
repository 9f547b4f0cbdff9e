//nolint:funlen // test setup
package trainer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/storage"
	"github.com/mpapenbr/iracelog-tiretemp/testsupport/basedata"
)

func newManager(t *testing.T) *storage.Manager {
	t.Helper()
	m, err := storage.NewManager(afero.NewMemMapFs(), storage.Layout{Root: "/data"})
	require.NoError(t, err)
	return m
}

// saveSessions stores n sessions with stints pit entries each.
func saveSessions(t *testing.T, m *storage.Manager, n, stints int, mutate func(i int, s *model.Session)) {
	t.Helper()
	for i := range n {
		p := basedata.DefaultSessionParam()
		p.Start = basedata.TestTime().Add(time.Duration(i) * time.Hour)
		p.Laps = 2
		p.SamplesPerLap = 10
		p.Stints = stints
		s := basedata.SampleSession(p)
		if mutate != nil {
			mutate(i, s)
		}
		_, err := m.Sessions().Save(s)
		require.NoError(t, err)
	}
}

func TestTrainModels_InsufficientData(t *testing.T) {
	m := newManager(t)
	saveSessions(t, m, 7, 7, nil)
	tr := New(m)

	res := tr.TrainModels(context.Background(), basedata.SampleCar, false)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonInsufficientData, res.Reason)
	assert.Equal(t, 49, res.Samples)
	assert.ErrorIs(t, res.Err(), ErrInsufficientData)
	assert.Equal(t, 0, tr.ModelStats(basedata.SampleCar).TotalModels)
}

func TestTrainModels(t *testing.T) {
	m := newManager(t)
	// one missing target leaves LF_L with 49 valid rows
	saveSessions(t, m, 5, 10, func(i int, s *model.Session) {
		if i == 0 {
			s.PitEntries[0].Temps.Set(model.LF, model.ZoneL, 0)
		}
	})
	tr := New(m)
	ctx := context.Background()

	res := tr.TrainModels(ctx, basedata.SampleCar, false)
	require.True(t, res.Success)
	require.NoError(t, res.Err())
	assert.Equal(t, 50, res.Samples)
	assert.Equal(t, 11, res.ModelsTrained)
	assert.Equal(t, 11, res.ModelsImproved)
	assert.NotContains(t, res.Metrics, "LF_L")
	assert.Equal(t, 50, res.Metrics["RR_C"].Samples)
	assert.NotEmpty(t, res.RunID)

	exists, err := afero.Exists(m.Fs(), ModelPath(m.Layout(), basedata.SampleCar, model.LF, model.ZoneL))
	require.NoError(t, err)
	assert.False(t, exists)

	// same data, same seed: validation error is not lower
	again := tr.TrainModels(ctx, basedata.SampleCar, false)
	assert.Equal(t, 11, again.ModelsTrained)
	assert.Equal(t, 0, again.ModelsImproved)

	forced := tr.TrainModels(ctx, basedata.SampleCar, true)
	assert.Equal(t, 11, forced.ModelsImproved)

	stats := tr.ModelStats(basedata.SampleCar)
	assert.Equal(t, 11, stats.TotalModels)
	assert.GreaterOrEqual(t, stats.AvgMAE, 0.0)
	assert.Equal(t, 50, stats.Models["RF_R"].Samples)
}

func TestLoadModels_ToleratesBrokenFiles(t *testing.T) {
	m := newManager(t)
	saveSessions(t, m, 5, 10, nil)
	tr := New(m)
	require.True(t, tr.TrainModels(context.Background(), basedata.SampleCar, false).Success)

	corrupt := ModelPath(m.Layout(), basedata.SampleCar, model.RF, model.ZoneC)
	require.NoError(t, afero.WriteFile(m.Fs(), corrupt, []byte("garbage"), 0o644))
	empty := ModelPath(m.Layout(), basedata.SampleCar, model.LR, model.ZoneR)
	require.NoError(t, afero.WriteFile(m.Fs(), empty, nil, 0o644))

	models := tr.LoadModels(basedata.SampleCar)
	assert.Equal(t, 10, models.Len())

	s := basedata.SampleSession(basedata.DefaultSessionParam())
	x, ok := FromPitEntry(s, &s.PitEntries[0])
	require.True(t, ok)
	est := models.Predict(&x)
	assert.False(t, est.Relative)
	assert.Equal(t, 0.0, est.Values.Get(model.RF, model.ZoneC))
	assert.Equal(t, 0.0, est.ZoneConfidence.Get(model.RF, model.ZoneC))
	assert.InDelta(t, 194.5, est.Values.Get(model.RR, model.ZoneC), 10)
	assert.GreaterOrEqual(t, est.Confidence, 0.0)
	assert.LessOrEqual(t, est.Confidence, 1.0)

	none := tr.LoadModels("other_car")
	assert.Equal(t, 0, none.Len())
	assert.Equal(t, 0.0, none.Predict(&x).Confidence)
}

func TestReadModelFile_Version(t *testing.T) {
	afs := afero.NewMemMapFs()
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{"current", FormatVersion, false},
		{"minor bump", "v1.3.0", false},
		{"major bump", "v2.0.0", true},
		{"invalid", "1.0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mf := &ModelFile{FormatVersion: tt.version, Features: FeatureNames[:]}
			require.NoError(t, WriteModelFile(afs, "/m.model.json.gz", mf))
			_, err := ReadModelFile(afs, "/m.model.json.gz")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrModelFormat)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadDataset_SynthesizedFirst(t *testing.T) {
	m := newManager(t)
	saveSessions(t, m, 1, 2, nil)
	store := storage.SynthStore{
		model.Combo(basedata.SampleCar, basedata.SampleTrack): storage.SynthCombo{
			Samples: []storage.SynthesizedSample{
				{Lap: 1, StintTime: 60, TargetTemps: model.UniformZones(170)},
				{Lap: 2, StintTime: 120, TargetTemps: model.UniformZones(175)},
			},
		},
		model.Combo("other", basedata.SampleTrack): storage.SynthCombo{
			Samples: []storage.SynthesizedSample{{Lap: 1, TargetTemps: model.UniformZones(100)}},
		},
	}
	require.NoError(t, storage.SaveSynthStore(m.Fs(), m.Layout().SynthesizedPath(), store))

	ds := New(m).LoadDataset(basedata.SampleCar)
	require.Len(t, ds.X, 4)
	assert.Equal(t, 170.0, ds.Y[0].Get(model.LF, model.ZoneL))
	assert.Equal(t, 190.0, ds.Y[2].Get(model.LF, model.ZoneL))
	assert.Equal(t, 191.0, ds.Y[3].Get(model.LF, model.ZoneL))
	assert.Equal(t, 120.0, ds.X[1][1])
}

func TestBuildFeatures(t *testing.T) {
	avg := model.LapAverage{Throttle: 0.5, Speed: 150, LateralAbs: 1.1}
	x := BuildFeatures(3, 0, avg, nil)
	assert.Equal(t, 3.0, x[0])
	assert.Equal(t, 1.0, x[9], "missing wear reads as worn")
	assert.Equal(t, 1.0, x[12])
	assert.InDelta(t, 30.0, x[14], 1e-9, "stint minutes are floored")

	wear := model.TireValues{0.1, 0.2, 0.3, 0.4}
	x = BuildFeatures(6, 180, avg, &wear)
	assert.Equal(t, 0.4, x[12])
	assert.Equal(t, 3.0, x[13])
	assert.Equal(t, 2.0, x[14])

	tel := &model.Telemetry{TelemetrySample: basedata.ConstantSample(4, 0.5, 120)}
	x = FromTelemetry(tel)
	assert.Equal(t, 4.0, x[0])
	assert.Equal(t, 160.0, x[6])
	assert.Equal(t, 0.02, x[9])
	assert.Equal(t, NumFeatures, len(FromTelemetry(nil)))
}

func TestFit_SingleSplit(t *testing.T) {
	x := make([]Features, 10)
	y := make([]float64, 10)
	for i := range x {
		x[i][0] = float64(i)
		y[i] = float64(i)
	}
	p := DefaultParams()
	p.Trees = 1
	p.LearningRate = 1
	p.Subsample = 1
	e := Fit(x, y, p)
	require.Len(t, e.Trees, 1)
	// 10 rows, leaves of at least 4: one split into 5|5
	assert.Len(t, e.Trees[0].Nodes, 3)
	assert.InDelta(t, 2.0, e.Predict(&x[3]), 1e-9)
	assert.InDelta(t, 7.0, e.Predict(&x[8]), 1e-9)
}

func TestFit_Linear(t *testing.T) {
	x := make([]Features, 200)
	y := make([]float64, 200)
	for i := range x {
		x[i][0] = float64(i)
		x[i][1] = float64(i % 7)
		y[i] = 2 * float64(i)
	}
	e := Fit(x, y, DefaultParams())
	mae, r2 := evaluate(e, x, y)
	assert.Less(t, mae, 5.0)
	assert.Greater(t, r2, 0.99)

	// seeded: equal input, equal ensemble
	other := Fit(x, y, DefaultParams())
	for i := range x {
		assert.Equal(t, e.Predict(&x[i]), other.Predict(&x[i]))
	}
	assert.Equal(t, 0.0, Fit(nil, nil, DefaultParams()).Predict(&x[0]))
}

func TestMetrics(t *testing.T) {
	assert.InDelta(t, 1.0, MAE([]float64{1, 2, 3}, []float64{2, 3, 4}), 1e-9)
	assert.Equal(t, 0.0, MAE(nil, nil))
	assert.InDelta(t, 1.0, R2([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-9)
	r2 := R2([]float64{5, 5}, []float64{5, 5})
	assert.False(t, math.IsNaN(r2))
	assert.Equal(t, 0.0, R2([]float64{1}, []float64{2}))
}
