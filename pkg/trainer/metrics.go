package trainer

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type Metrics struct {
	TrainMAE float64 `json:"train_mae"`
	ValMAE   float64 `json:"val_mae"`
	TrainR2  float64 `json:"train_r2"`
	ValR2    float64 `json:"val_r2"`
	Samples  int     `json:"n_samples"`
}

// MAE is the mean absolute error. Empty input yields 0.
func MAE(pred, actual []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	return floats.Distance(pred, actual, 1) / float64(len(actual))
}

// R2 is the coefficient of determination. A constant target yields 0
// instead of NaN so the value survives JSON encoding.
func R2(pred, actual []float64) float64 {
	if len(actual) < 2 {
		return 0
	}
	ret := stat.RSquaredFrom(pred, actual, nil)
	if math.IsNaN(ret) || math.IsInf(ret, 0) {
		return 0
	}
	return ret
}

func evaluate(e *Ensemble, x []Features, y []float64) (mae, r2 float64) {
	pred := make([]float64, len(x))
	for i := range x {
		pred[i] = e.Predict(&x[i])
	}
	return MAE(pred, y), R2(pred, y)
}
