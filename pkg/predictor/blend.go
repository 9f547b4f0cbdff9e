package predictor

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
)

const (
	PhysicsWeight = 0.3
	PatternWeight = 0.2
	MLWeight      = 0.3

	MinTemp = 60.0
	MaxTemp = 300.0

	// EmptyTemp is reported for every zone when a prediction fails.
	EmptyTemp = 70.0

	freshnessHorizon = 1200.0 // seconds
	calibratedBonus  = 0.1

	trendWindow = 5
	trendFast   = 5.0
	trendSlow   = 2.0

	overheatTemp    = 230.0
	overheatCeiling = 250.0
	coldTemp        = 150.0
	imbalanceTemp   = 15.0
)

// Trend names
const (
	TrendUnknown     = "unknown"
	TrendHeatingFast = "heating_fast"
	TrendHeating     = "heating"
	TrendStable      = "stable"
	TrendCooling     = "cooling"
	TrendCoolingFast = "cooling_fast"
)

type Trend struct {
	Trend  string  `json:"trend"`
	Rate   float64 `json:"rate"` // °F per sample
	Symbol string  `json:"symbol"`
}

func (t Trend) Heating() bool {
	return t.Trend == TrendHeating || t.Trend == TrendHeatingFast
}

// Blend combines the physics temperatures with the pattern and model layers.
// Each layer is weighted per zone by its base weight times its zone
// confidence; physics always takes part. Results are clamped and rounded
// to 0.1°F.
func Blend(phys model.ZoneValues, layers ...Layer) model.ZoneValues {
	var ret model.ZoneValues
	for _, t := range model.Tires {
		for _, z := range model.Zones {
			p := phys.Get(t, z)
			sum := p * PhysicsWeight
			weight := PhysicsWeight
			used := false
			for _, l := range layers {
				w := l.Weight * l.Estimate.ZoneConfidence.Get(t, z)
				if w <= 0 || math.IsNaN(w) {
					continue
				}
				v := l.Estimate.Values.Get(t, z)
				if l.Estimate.Relative {
					v += p
				}
				sum += v * w
				weight += w
				used = true
			}
			if !used {
				ret.Set(t, z, round1(clamp(p, MinTemp, MaxTemp)))
				continue
			}
			ret.Set(t, z, round1(clamp(sum/weight, MinTemp, MaxTemp)))
		}
	}
	return ret
}

// Layer is an estimate together with its base blend weight.
type Layer struct {
	Weight   float64
	Estimate model.Estimate
}

// Confidence weighs layer confidence (70%), stint freshness (20%) and
// whether ground truth was seen in this session (10%).
func Confidence(patternConf, mlConf, stintTime float64, calibrated bool) float64 {
	modelConf := (patternConf + mlConf) / 2
	fresh := math.Max(0, 1-stintTime/freshnessHorizon)
	actual := 0.0
	if calibrated {
		actual = calibratedBonus
	}
	return clamp(modelConf*0.7+fresh*0.2+actual*0.1, 0, 1)
}

// ClassifyTrend compares the mean of the last trendWindow values of series
// with the mean of the window before.
func ClassifyTrend(series []float64) Trend {
	if len(series) < 2*trendWindow {
		return Trend{Trend: TrendUnknown, Symbol: "?"}
	}
	n := len(series)
	recent := stat.Mean(series[n-trendWindow:], nil)
	older := stat.Mean(series[n-2*trendWindow:n-trendWindow], nil)
	rate := (recent - older) / trendWindow
	ret := Trend{Rate: round1(rate)}
	switch {
	case rate > trendFast:
		ret.Trend, ret.Symbol = TrendHeatingFast, "⬆⬆"
	case rate > trendSlow:
		ret.Trend, ret.Symbol = TrendHeating, "⬆"
	case rate < -trendFast:
		ret.Trend, ret.Symbol = TrendCoolingFast, "⬇⬇"
	case rate < -trendSlow:
		ret.Trend, ret.Symbol = TrendCooling, "⬇"
	default:
		ret.Trend, ret.Symbol = TrendStable, "→"
	}
	return ret
}

// Advice derives driver hints from the blended temperatures.
func Advice(temps model.ZoneValues, trends map[string]Trend) []string {
	ret := make([]string, 0)
	lf := temps.TireAvg(model.LF)
	rf := temps.TireAvg(model.RF)
	if lf > overheatTemp || rf > overheatTemp {
		if lfTrend := trends[model.LF.String()]; lfTrend.Heating() {
			laps := max(1, int((overheatCeiling-lf)/math.Max(lfTrend.Rate, 1)))
			ret = append(ret, fmt.Sprintf("Fronts overheating - pit in %d-%d laps", laps, laps+2))
		}
	}
	if temps.Avg() < coldTemp {
		ret = append(ret, "Tires cold - push harder to build temp")
	}
	if math.Abs(lf-rf) > imbalanceTemp {
		ret = append(ret, "Front temp imbalance - check setup")
	}
	return ret
}

func round1(v float64) float64 {
	return decimal.NewFromFloat(v).Round(1).InexactFloat64()
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}
