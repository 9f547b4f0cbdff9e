//nolint:funlen // test tables
package physics

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
)

func moderateTick(ts float64) *model.Telemetry {
	tel := &model.Telemetry{}
	tel.Timestamp = ts
	tel.StintTime = ts
	tel.Inputs = model.Inputs{Throttle: 0.6, Speed: 150}
	tel.GForces = model.GForces{Lateral: 0.8}
	tel.Environment = model.Environment{TrackTemp: 75, AirTemp: 70}
	return tel
}

func TestModel_SeedReturnsBaseline(t *testing.T) {
	m := New()
	m.Predict(moderateTick(1))
	m.Predict(moderateTick(2))

	m.Reset(70)
	got := m.Predict(moderateTick(3))
	if diff := cmp.Diff(model.UniformZones(70), got); diff != "" {
		t.Errorf("Predict() after Reset mismatch (-want +got):\n%s", diff)
	}
}

func TestModel_ConvergesWithinBounds(t *testing.T) {
	m := New()
	var prev model.ZoneValues
	for i := range 5000 {
		prev = m.Predict(moderateTick(float64(i)))
		base := AmbientBase
		for _, tire := range model.Tires {
			for _, z := range model.Zones {
				v := prev.Get(tire, z)
				if v < base-1e-9 || v > MaxTemp {
					t.Fatalf("tick %d %s out of bounds: %v", i, model.ZoneKey(tire, z), v)
				}
			}
		}
	}
	next := m.Predict(moderateTick(5000))
	opt := cmpopts.EquateApprox(0, 1e-3)
	if diff := cmp.Diff(prev, next, opt); diff != "" {
		t.Errorf("not converged (-prev +next):\n%s", diff)
	}
}

func TestModel_HeatsOuterEdgeOfOutsideTire(t *testing.T) {
	m := New()
	for i := range 30 {
		m.Predict(moderateTick(float64(i)))
	}
	temps := m.Temps()
	// right turn: RF is outside, its L edge faces the outside
	assert.Greater(t, temps.Get(model.RF, model.ZoneL), temps.Get(model.RF, model.ZoneR))
	assert.Greater(t, temps.Get(model.RF, model.ZoneL), temps.Get(model.LF, model.ZoneL))
	// throttle heats the rears
	assert.Greater(t, temps.TireAvg(model.RR), temps.TireAvg(model.RF))
}

func TestModel_DtGuard(t *testing.T) {
	a, b := New(), New()
	a.Predict(moderateTick(0))
	b.Predict(moderateTick(0))
	a.Predict(moderateTick(1))
	// a clock jump of 100s counts as a regular one second tick
	b.Predict(moderateTick(100))
	assert.InDelta(t, a.Temps().Get(model.LR, model.ZoneC), b.Temps().Get(model.LR, model.ZoneC), 0.05)
}

func TestModel_Calibrate(t *testing.T) {
	m := New()
	actual := model.ZoneValues{}
	actual.Set(model.LF, model.ZoneL, 185.5)
	actual.Set(model.RR, model.ZoneR, 201)
	m.Calibrate(actual)

	temps := m.Temps()
	assert.Equal(t, 185.5, temps.Get(model.LF, model.ZoneL))
	assert.Equal(t, 201.0, temps.Get(model.RR, model.ZoneR))
	assert.Equal(t, AmbientBase, temps.Get(model.LF, model.ZoneC), "zero values are ignored")

	avg := m.AverageTemps()
	assert.InDelta(t, (185.5+70+70)/3, avg[model.LF], 1e-9)
}

func TestLoadFactor(t *testing.T) {
	tests := []struct {
		name     string
		tire     model.Tire
		lat      float64
		throttle float64
		brake    float64
		shock    float64
		want     float64
	}{
		{"neutral", model.LF, 0, 0, 0, 0, 1.0},
		{"right turn outside", model.RF, 1.0, 0, 0, 0, 1.3},
		{"right turn inside", model.LF, 1.0, 0, 0, 0, 0.8},
		{"left turn outside", model.LR, -1.0, 0, 0, 0, 1.3},
		{"below transfer threshold", model.RF, 0.05, 0, 0, 0, 1.0},
		{"throttle rear", model.RR, 0, 1.0, 0, 0, 1.2},
		{"throttle front", model.LF, 0, 1.0, 0, 0, 0.9},
		{"brake front", model.RF, 0, 0, 1.0, 0, 1.3},
		{"brake rear", model.LR, 0, 0, 1.0, 0, 0.85},
		{"shock", model.LF, 0, 0, 0, 0.2, 1.1},
		{"upper clamp", model.RF, 4.0, 0, 1.0, 1.0, 2.0},
		{"lower clamp", model.LF, 3.0, 1.0, 0, 0, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LoadFactor(tt.tire, tt.lat, tt.throttle, tt.brake, tt.shock)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestZoneLateralFactor(t *testing.T) {
	tests := []struct {
		name string
		tire model.Tire
		zone model.Zone
		lat  float64
		want float64
	}{
		{"straight centre", model.LF, model.ZoneC, 0.05, 0.05},
		{"straight edge", model.LF, model.ZoneL, 0.05, 0.04},
		{"right outside outer", model.RF, model.ZoneL, 1, 1.3},
		{"right outside centre", model.RR, model.ZoneC, 1, 1.0},
		{"right outside inner", model.RF, model.ZoneR, 1, 0.7},
		{"right inside inner", model.LF, model.ZoneR, 1, 1.2},
		{"right inside other", model.LF, model.ZoneL, 1, 0.8},
		{"left outside outer", model.LF, model.ZoneR, -1, 1.3},
		{"left outside inner", model.LR, model.ZoneL, -1, 0.7},
		{"left inside inner", model.RF, model.ZoneL, -1, 1.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ZoneLateralFactor(tt.tire, tt.zone, tt.lat), 1e-9)
		})
	}
}

func TestModel_NilTelemetry(t *testing.T) {
	m := New()
	assert.Equal(t, model.UniformZones(AmbientBase), m.Predict(nil))
}
