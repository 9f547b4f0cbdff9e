//nolint:funlen // test setup
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
	"github.com/mpapenbr/iracelog-tiretemp/testsupport/basedata"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Mazda MX-5 Cup", "mazda_mx_5_cup"},
		{"  Spa--Francorchamps ", "spa_francorchamps"},
		{"Okayama (Full)", "okayama_full"},
		{"car_x", "car_x"},
		{"***", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}

func TestSessionFileName(t *testing.T) {
	name := SessionFileName("Mazda MX-5", "Lime Rock", "20240428_111012")
	assert.Equal(t, "mazda_mx_5--lime_rock--20240428_111012.json.gz", name)

	car, track, id, ok := ParseSessionFileName("/data/sessions/" + name)
	assert.True(t, ok)
	assert.Equal(t, "mazda_mx_5", car)
	assert.Equal(t, "lime_rock", track)
	assert.Equal(t, "20240428_111012", id)

	_, _, _, ok = ParseSessionFileName("foo.json.gz")
	assert.False(t, ok)
	_, _, _, ok = ParseSessionFileName("a--b--c.json")
	assert.False(t, ok)
}

func TestSessionRepo_RoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	layout := Layout{Root: "/data"}
	repo := NewSessionRepo(fs, layout)

	s := basedata.SampleSession(basedata.DefaultSessionParam())
	path, err := repo.Save(s)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", SessionsDir, "car_x--track_y--20240428_111012.json.gz"), path)

	got, err := repo.Load(path)
	require.NoError(t, err)
	assert.Len(t, got.Telemetry, got.Metadata.TotalSamples)
	assert.Len(t, got.PitEntries, got.Metadata.PitEntries)
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	_, err = repo.Save(nil)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionRepo_TruncatedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	repo := NewSessionRepo(fs, Layout{Root: "/data"})
	path := filepath.Join(repo.Dir(), "car_x--track_y--1.json.gz")
	require.NoError(t, afero.WriteFile(fs, path, []byte{}, 0o644))
	_, err := repo.Load(path)
	assert.ErrorIs(t, err, ErrEmptyFile)

	require.NoError(t, afero.WriteFile(fs, path, []byte{0x1f, 0x8b, 0x08}, 0o644))
	_, err = repo.Load(path)
	assert.Error(t, err)
}

type fixture struct {
	fs  afero.Fs
	mgr *Manager
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{fs: afero.NewMemMapFs(), now: basedata.TestTime().Add(365 * day)}
	mgr, err := NewManager(f.fs, Layout{Root: "/data"}, WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)
	f.mgr = mgr
	return f
}

// addSessions stores n sessions for car@track, the i-th one being i+ageDays days old.
func (f *fixture) addSessions(t *testing.T, car, track string, n, ageDays int) {
	t.Helper()
	for i := range n {
		p := basedata.DefaultSessionParam()
		p.Car, p.Track = car, track
		p.Start = basedata.TestTime().Add(time.Duration(i) * time.Hour)
		path, err := f.mgr.Sessions().Save(basedata.SampleSession(p))
		require.NoError(t, err)
		mtime := f.now.Add(-time.Duration(ageDays+i) * day)
		require.NoError(t, f.fs.Chtimes(path, mtime, mtime))
	}
}

func (f *fixture) countCombo(t *testing.T, combo string) int {
	t.Helper()
	files, err := f.mgr.Sessions().List()
	require.NoError(t, err)
	return len(GroupByCombo(files)[combo])
}

func TestManager_CleanupRetainsMinSessions(t *testing.T) {
	tests := []struct {
		name      string
		available int
		ageDays   int
		want      int
	}{
		{"more than min, all old", 6, 40, 3},
		{"exactly min", 3, 40, 3},
		{"fewer than min", 2, 40, 2},
		{"more than min, all recent", 6, 1, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addSessions(t, "car_x", "track_y", tt.available, tt.ageDays)
			f.addSessions(t, "car_z", "track_y", 1, 100)

			res := f.mgr.CheckAndCleanup(context.Background(), true)
			assert.True(t, res.Cleaned)
			assert.Equal(t, tt.want, f.countCombo(t, "car_x@track_y"))
			assert.Equal(t, 1, f.countCombo(t, "car_z@track_y"))
			assert.Equal(t, tt.available-tt.want, res.DeletedSessions)
			assert.Equal(t, tt.want+1, res.Stats.SessionCount)
		})
	}
}

func TestManager_CleanupKeepsNewest(t *testing.T) {
	f := newFixture(t)
	f.addSessions(t, "car_x", "track_y", 5, 40)
	f.mgr.CheckAndCleanup(context.Background(), true)

	files, err := f.mgr.Sessions().List()
	require.NoError(t, err)
	ids := make([]string, 0, len(files))
	for _, fi := range files {
		ids = append(ids, fi.SessionID)
	}
	// the session with i=0 has the newest mtime
	assert.Equal(t, []string{"20240428_111012", "20240428_121012", "20240428_131012"}, ids)
}

func TestManager_SynthesizesBeforeDelete(t *testing.T) {
	f := newFixture(t)
	f.addSessions(t, "car_x", "track_y", 5, 40)
	res := f.mgr.CheckAndCleanup(context.Background(), true)
	assert.Equal(t, 2, res.SynthesizedSessions)

	store := f.mgr.Synthesized()
	combo, ok := store["car_x@track_y"]
	require.True(t, ok)
	assert.Equal(t, 2, combo.TotalSourceSessions)
	assert.InDelta(t, 0.2, combo.Confidence, 1e-9)
	// one pit entry with 5 laps: laps 1, 3 and 5
	assert.Len(t, combo.Samples, 6)
	assert.Len(t, store.ForCar("car_x"), 6)
	assert.Empty(t, store.ForCar("car"))
}

func TestManager_CorruptSessionIsKept(t *testing.T) {
	f := newFixture(t)
	f.addSessions(t, "car_x", "track_y", 3, 40)
	bad := filepath.Join(f.mgr.Sessions().Dir(), "car_x--track_y--19990101_000000.json.gz")
	require.NoError(t, afero.WriteFile(f.fs, bad, []byte("garbage"), 0o644))
	old := f.now.Add(-400 * day)
	require.NoError(t, f.fs.Chtimes(bad, old, old))

	res := f.mgr.CheckAndCleanup(context.Background(), true)
	assert.Equal(t, 1, res.SkippedSessions)
	assert.Equal(t, 0, res.DeletedSessions)
	exists, err := afero.Exists(f.fs, bad)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestManager_CleanupModels(t *testing.T) {
	f := newFixture(t)
	models := f.mgr.Layout().Models()
	for i, age := range []int{10, 59, 61, 200} {
		path := filepath.Join(models, fmt.Sprintf("car_x_LF_%d%s", i, ModelSuffix))
		require.NoError(t, afero.WriteFile(f.fs, path, []byte("x"), 0o644))
		mtime := f.now.Add(-time.Duration(age) * day)
		require.NoError(t, f.fs.Chtimes(path, mtime, mtime))
	}
	res := f.mgr.CheckAndCleanup(context.Background(), true)
	assert.Equal(t, 2, res.DeletedModels)
	assert.Equal(t, 2, f.mgr.Stats().ModelCount)
}

func TestManager_UnderThreshold(t *testing.T) {
	f := newFixture(t)
	f.addSessions(t, "car_x", "track_y", 5, 40)
	res := f.mgr.CheckAndCleanup(context.Background(), false)
	assert.False(t, res.Cleaned)
	assert.Equal(t, "under_threshold", res.Reason)
	assert.Equal(t, 5, res.Stats.SessionCount)
}

func TestManager_ThresholdTriggersCleanup(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := basedata.TestTime().Add(365 * day)
	limits := DefaultLimits()
	limits.WarnBytes = 10
	limits.MaxTotalBytes = 100
	mgr, err := NewManager(fs, Layout{Root: "/data"},
		WithLimits(limits), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	_, err = mgr.Sessions().Save(basedata.SampleSession(basedata.DefaultSessionParam()))
	require.NoError(t, err)

	stats := mgr.Stats()
	assert.True(t, stats.NeedsCleanup)
	assert.Greater(t, stats.UsagePercent, 10.0)
	assert.True(t, mgr.CheckAndCleanup(context.Background(), false).Cleaned)
}

func TestManager_RecentSessions(t *testing.T) {
	f := newFixture(t)
	f.addSessions(t, "car_x", "track_y", 3, 1)
	f.addSessions(t, "car_z", "other", 2, 1)

	assert.Len(t, f.mgr.RecentSessions("", "", 10), 5)
	assert.Len(t, f.mgr.RecentSessions("car_x", "", 10), 3)
	assert.Len(t, f.mgr.RecentSessions("", "other", 10), 2)
	assert.Len(t, f.mgr.RecentSessions("", "", 2), 2)
}

func TestSelectRepresentative(t *testing.T) {
	samples := make([]SynthesizedSample, 0, 250)
	for i := range 250 {
		samples = append(samples, SynthesizedSample{StintTime: float64(249 - i)})
	}
	got := SelectRepresentative(samples, 100)
	assert.Len(t, got, 100)
	assert.Equal(t, 0.0, got[0].StintTime)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].StintTime, got[i-1].StintTime)
	}
	assert.Len(t, SelectRepresentative(samples[:10], 100), 10)
}

func TestMergeSynthesized_NeverExceedsCap(t *testing.T) {
	var combo SynthCombo
	s := basedata.SampleSession(basedata.DefaultSessionParam())
	p := basedata.DefaultSessionParam()
	p.Stints = 4
	multi := basedata.SampleSession(p)
	now := basedata.TestTime()
	for i := range 60 {
		src := s
		if i%2 == 0 {
			src = multi
		}
		combo = MergeSynthesized(combo, Synthesize(src), DefaultSynthCap, now)
		assert.LessOrEqual(t, len(combo.Samples), DefaultSynthCap)
	}
	assert.Equal(t, 60, combo.TotalSourceSessions)
	assert.Equal(t, 1.0, combo.Confidence)
}

func TestSynthesize(t *testing.T) {
	p := basedata.DefaultSessionParam()
	p.Stints = 2
	s := basedata.SampleSession(p)
	got := Synthesize(s)
	// two stints of 5 laps: laps 1,3,5 and 6,8,10
	assert.Len(t, got, 6)
	assert.Equal(t, []int{1, 3, 5, 6, 8, 10}, []int{got[0].Lap, got[1].Lap, got[2].Lap, got[3].Lap, got[4].Lap, got[5].Lap})
	assert.Equal(t, 1, got[3].StintLaps)
	assert.Equal(t, 190.0, got[0].TargetTemps.Get(model.LF, model.ZoneL))
	assert.Equal(t, 191.0, got[3].TargetTemps.Get(model.LF, model.ZoneL))
	assert.Equal(t, 85.0, got[0].TrackTemp)

	p.Stints = 0
	assert.Empty(t, Synthesize(basedata.SampleSession(p)))
}
