// Package trainer fits one boosted regression tree ensemble per tire zone
// from the pit entry ground truth of past sessions.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/iracelog-tiretemp/log"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/storage"
)

const (
	DefaultMinSamples      = 50
	DefaultValidationSplit = 0.2

	ReasonInsufficientData = "insufficient_data"
)

type Option func(*Trainer)

func WithParams(p Params) Option {
	return func(t *Trainer) {
		t.params = p
	}
}

// WithMinSamples sets the number of rows needed overall and per zone.
func WithMinSamples(n int) Option {
	return func(t *Trainer) {
		t.minSamples = n
	}
}

func WithValidationSplit(f float64) Option {
	return func(t *Trainer) {
		t.valSplit = f
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Trainer) {
		t.now = now
	}
}

func WithLogger(l *log.Logger) Option {
	return func(t *Trainer) {
		t.log = l
	}
}

type (
	TrainResult struct {
		Car            string             `json:"car"`
		Success        bool               `json:"success"`
		Reason         string             `json:"reason,omitempty"`
		RunID          string             `json:"run_id,omitempty"`
		Samples        int                `json:"samples"`
		ModelsTrained  int                `json:"models_trained"`
		ModelsImproved int                `json:"models_improved"`
		Metrics        map[string]Metrics `json:"metrics,omitempty"`
		Duration       time.Duration      `json:"duration"`
	}

	ZoneStats struct {
		ValMAE  float64 `json:"val_mae"`
		ValR2   float64 `json:"val_r2"`
		Samples int     `json:"n_samples"`
	}
	ModelStats struct {
		Car         string               `json:"car"`
		Models      map[string]ZoneStats `json:"models"`
		TotalModels int                  `json:"total_models"`
		AvgMAE      float64              `json:"avg_mae"`
	}

	// Dataset rows are ordered oldest first.
	Dataset struct {
		X []Features
		Y []model.ZoneValues
	}
)

// Err maps an unsuccessful result to ErrInsufficientData.
func (r TrainResult) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%s: %d samples: %w", r.Car, r.Samples, ErrInsufficientData)
}

// Trainer reads sessions and synthesized samples through the storage
// manager and writes model files into its models directory.
type Trainer struct {
	store      *storage.Manager
	params     Params
	minSamples int
	valSplit   float64
	now        func() time.Time
	log        *log.Logger

	tracer trace.Tracer
	runs   metric.Int64Counter
}

func New(store *storage.Manager, opts ...Option) *Trainer {
	ret := &Trainer{
		store:      store,
		params:     DefaultParams(),
		minSamples: DefaultMinSamples,
		valSplit:   DefaultValidationSplit,
		now:        time.Now,
		log:        log.Default().Named("trainer"),
		tracer:     otel.Tracer("itt.trainer"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.runs, _ = otel.Meter("itt.trainer").Int64Counter("itt.trainer.runs",
		metric.WithDescription("model training runs"))
	return ret
}

// TrainModels fits all zones of car. Insufficient data is reported in the
// result, never as an error.
//
//nolint:funlen // sequential steps
func (t *Trainer) TrainModels(ctx context.Context, car string, force bool) (ret TrainResult) {
	ctx, span := t.tracer.Start(ctx, "train models")
	defer span.End()
	start := time.Now()
	car = storage.SanitizeName(car)
	ret = TrainResult{Car: car, RunID: uuid.NewString(), Metrics: map[string]Metrics{}}
	span.SetAttributes(attribute.String("car", car), attribute.String("runId", ret.RunID))
	defer func() {
		ret.Duration = time.Since(start)
		t.runs.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", ret.Success)))
	}()

	ds := t.LoadDataset(car)
	ret.Samples = len(ds.X)
	if ret.Samples < t.minSamples {
		t.log.Warn("Insufficient data",
			log.String("car", car), log.Int("samples", ret.Samples))
		ret.Reason = ReasonInsufficientData
		return ret
	}
	ret.Success = true
	trainedAt := t.now()
	for _, tire := range model.Tires {
		for _, z := range model.Zones {
			key := model.ZoneKey(tire, z)
			x, y := ds.Zone(tire, z)
			if len(y) < t.minSamples {
				t.log.Debug("Skipping zone", log.String("zone", key), log.Int("valid", len(y)))
				continue
			}
			mf, ok := t.fitZone(x, y)
			if !ok {
				continue
			}
			mf.Car = car
			mf.ModelKey = key
			mf.RunID = ret.RunID
			mf.TrainedAt = trainedAt
			ret.ModelsTrained++
			ret.Metrics[key] = mf.Metrics

			path := ModelPath(t.store.Layout(), car, tire, z)
			if !force && !t.isBetter(path, mf.Metrics) {
				continue
			}
			if err := WriteModelFile(t.store.Fs(), path, mf); err != nil {
				t.log.Error("could not save model", log.String("zone", key), log.ErrorField(err))
				continue
			}
			ret.ModelsImproved++
		}
	}
	span.SetAttributes(
		attribute.Int("trained", ret.ModelsTrained),
		attribute.Int("improved", ret.ModelsImproved))
	t.log.Info("Training complete",
		log.String("car", car),
		log.String("runId", ret.RunID),
		log.Int("samples", ret.Samples),
		log.Int("trained", ret.ModelsTrained),
		log.Int("improved", ret.ModelsImproved),
		log.Duration("took", time.Since(start)))
	return ret
}

// LoadDataset builds one row per pit entry of every readable session of car,
// preceded by the synthesized samples of deleted sessions.
func (t *Trainer) LoadDataset(car string) Dataset {
	car = storage.SanitizeName(car)
	ret := Dataset{X: make([]Features, 0), Y: make([]model.ZoneValues, 0)}
	synth := t.store.Synthesized().ForCar(car)
	for i := range synth {
		ret.X = append(ret.X, FromSynthesized(&synth[i]))
		ret.Y = append(ret.Y, synth[i].TargetTemps)
	}
	files, err := t.store.Sessions().ListCar(car)
	if err != nil {
		t.log.Error("could not list sessions", log.ErrorField(err))
		return ret
	}
	slices.Reverse(files)
	for _, f := range files {
		s, err := t.store.Sessions().Load(f.Path)
		if err != nil {
			t.log.Error("Error loading session, skipping",
				log.String("file", f.Path), log.ErrorField(err))
			continue
		}
		for i := range s.PitEntries {
			pe := &s.PitEntries[i]
			if !pe.Temps.HasAny() {
				continue
			}
			if x, ok := FromPitEntry(s, pe); ok {
				ret.X = append(ret.X, x)
				ret.Y = append(ret.Y, pe.Temps)
			}
		}
	}
	t.log.Debug("Loaded training data",
		log.String("car", car), log.Int("sessions", len(files)), log.Int("rows", len(ret.X)))
	return ret
}

// Zone returns the rows with a valid (positive) target for the zone.
func (d Dataset) Zone(t model.Tire, z model.Zone) (x []Features, y []float64) {
	x = make([]Features, 0, len(d.X))
	y = make([]float64, 0, len(d.Y))
	for i := range d.Y {
		if v := d.Y[i].Get(t, z); v > 0 {
			x = append(x, d.X[i])
			y = append(y, v)
		}
	}
	return x, y
}

// fitZone trains on the oldest rows and validates on the newest.
func (t *Trainer) fitZone(x []Features, y []float64) (*ModelFile, bool) {
	n := len(y)
	if n < 2 {
		return nil, false
	}
	split := min(max(int(float64(n)*(1-t.valSplit)), 1), n-1)
	e := Fit(x[:split], y[:split], t.params)
	trainMAE, trainR2 := evaluate(e, x[:split], y[:split])
	valMAE, valR2 := evaluate(e, x[split:], y[split:])
	return &ModelFile{
		FormatVersion: FormatVersion,
		Params:        t.params,
		Features:      FeatureNames[:],
		Metrics: Metrics{
			TrainMAE: trainMAE,
			ValMAE:   valMAE,
			TrainR2:  trainR2,
			ValR2:    valR2,
			Samples:  n,
		},
		Model: *e,
	}, true
}

// isBetter reports whether a model with m should replace the one at path.
// Missing or unreadable models are always replaced.
func (t *Trainer) isBetter(path string, m Metrics) bool {
	old, err := ReadModelFile(t.store.Fs(), path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			t.log.Warn("Replacing unreadable model", log.String("file", path), log.ErrorField(err))
		}
		return true
	}
	return m.ValMAE < old.Metrics.ValMAE
}

// LoadModels reads the zone models of car. Missing, truncated or foreign
// files are skipped.
func (t *Trainer) LoadModels(car string) Models {
	ret := Models{}
	for _, tire := range model.Tires {
		for _, z := range model.Zones {
			path := ModelPath(t.store.Layout(), car, tire, z)
			mf, err := ReadModelFile(t.store.Fs(), path)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					t.log.Error("Error loading model", log.String("file", path), log.ErrorField(err))
				}
				continue
			}
			ret.set(tire, z, mf)
		}
	}
	t.log.Info("Loaded models", log.String("car", car), log.Int("models", ret.Len()))
	return ret
}

func (t *Trainer) ModelStats(car string) ModelStats {
	ret := ModelStats{Car: storage.SanitizeName(car), Models: map[string]ZoneStats{}}
	models := t.LoadModels(car)
	sum := 0.0
	for _, tire := range model.Tires {
		for _, z := range model.Zones {
			mf, ok := models.Get(tire, z)
			if !ok {
				continue
			}
			ret.Models[model.ZoneKey(tire, z)] = ZoneStats{
				ValMAE:  mf.Metrics.ValMAE,
				ValR2:   mf.Metrics.ValR2,
				Samples: mf.Metrics.Samples,
			}
			sum += mf.Metrics.ValMAE
		}
	}
	ret.TotalModels = len(ret.Models)
	if ret.TotalModels > 0 {
		ret.AvgMAE = sum / float64(ret.TotalModels)
	}
	return ret
}
