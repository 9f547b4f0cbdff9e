// Package predictor blends physics, learned patterns and trained models into
// one live tire temperature prediction and drives learning between sessions.
package predictor

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/iracelog-tiretemp/log"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/collector"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/patterns"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/physics"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/storage"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/telemetry"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/trainer"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/worker"
)

const (
	DefaultHistoryLength   = 30
	DefaultShutdownTimeout = 5 * time.Second
	latencyWindow          = 100
)

type (
	LayerConfidence struct {
		Pattern float64 `json:"pattern"`
		ML      float64 `json:"ml"`
	}
	Prediction struct {
		Temps      model.ZoneValues `json:"temps"`
		Confidence float64          `json:"confidence"`
		Trends     map[string]Trend `json:"trends"`
		Advice     []string         `json:"advice"`
		Layers     LayerConfidence  `json:"layers"`
	}

	ModelInfo struct {
		Car    string `json:"car,omitempty"`
		Loaded int    `json:"loaded"`
	}
	Performance struct {
		Predictions     int64   `json:"predictions"`
		AvgLatencyMs    float64 `json:"avg_latency_ms"`
		PendingTraining int     `json:"pending_training"`
	}
	Stats struct {
		Session     collector.Stats   `json:"session"`
		Storage     storage.Stats     `json:"storage"`
		Patterns    patterns.Stats    `json:"patterns"`
		Models      ModelInfo         `json:"models"`
		Performance Performance       `json:"performance"`
		// Calibration holds the last ground truth of the active session.
		Calibration *model.ZoneValues `json:"calibration,omitempty"`
	}
)

// EmptyPrediction is returned when a prediction fails.
func EmptyPrediction() Prediction {
	ret := Prediction{
		Temps:  model.UniformZones(EmptyTemp),
		Trends: map[string]Trend{},
		Advice: []string{},
	}
	for _, t := range model.Tires {
		ret.Trends[t.String()] = Trend{Trend: TrendUnknown, Symbol: "?"}
	}
	return ret
}

type Option func(*Predictor)

func WithClock(now func() time.Time) Option {
	return func(p *Predictor) {
		p.now = now
	}
}

func WithLogger(l *log.Logger) Option {
	return func(p *Predictor) {
		p.log = l
	}
}

func WithHistoryLength(n int) Option {
	return func(p *Predictor) {
		p.historyLen = n
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(p *Predictor) {
		p.shutdownTimeout = d
	}
}

// WithTrainingYield sets the pause between two background training jobs.
func WithTrainingYield(d time.Duration) Option {
	return func(p *Predictor) {
		p.trainingYield = d
	}
}

func WithCollectorOptions(opts ...collector.Option) Option {
	return func(p *Predictor) {
		p.collectorOpts = append(p.collectorOpts, opts...)
	}
}

func WithPhysicsOptions(opts ...physics.Option) Option {
	return func(p *Predictor) {
		p.physicsOpts = append(p.physicsOpts, opts...)
	}
}

func WithTrainerOptions(opts ...trainer.Option) Option {
	return func(p *Predictor) {
		p.trainerOpts = append(p.trainerOpts, opts...)
	}
}

// Predictor is the coordinator. Predict is called from a single telemetry
// loop; model training runs on a background worker.
type Predictor struct {
	store     *storage.Manager
	collector *collector.Collector
	physics   *physics.Model
	patterns  *patterns.Learner
	trainer   *trainer.Trainer
	training  *worker.Queue[string]

	now             func() time.Time
	log             *log.Logger
	historyLen      int
	shutdownTimeout time.Duration
	trainingYield   time.Duration
	collectorOpts   []collector.Option
	physicsOpts     []physics.Option
	trainerOpts     []trainer.Option

	mu          sync.Mutex
	car         string
	track       string
	models      trainer.Models
	stint       telemetry.StintClock
	history     [model.NumTires][model.NumZones]*ring[float64]
	calibrated  bool
	lastActual  model.ZoneValues
	latencies   *ring[time.Duration]
	predictions int64

	tracer   trace.Tracer
	duration metric.Float64Histogram
}

func New(store *storage.Manager, opts ...Option) *Predictor {
	ret := &Predictor{
		store:           store,
		now:             time.Now,
		log:             log.Default().Named("predictor"),
		historyLen:      DefaultHistoryLength,
		shutdownTimeout: DefaultShutdownTimeout,
		trainingYield:   worker.DefaultYield,
		models:          trainer.Models{},
		latencies:       newRing[time.Duration](latencyWindow),
		tracer:          otel.Tracer("itt.predictor"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.collector = collector.New(store.Sessions(),
		append([]collector.Option{
			collector.WithClock(ret.now),
			collector.WithLogger(ret.log.Named("collector")),
		}, ret.collectorOpts...)...)
	ret.physics = physics.New(ret.physicsOpts...)
	ret.patterns = patterns.New(store.Fs(), store.Layout(), store.Sessions())
	ret.trainer = trainer.New(store, ret.trainerOpts...)
	ret.training = worker.New("training", ret.train,
		worker.WithYield[string](ret.trainingYield))
	for t := range ret.history {
		for z := range ret.history[t] {
			ret.history[t][z] = newRing[float64](ret.historyLen)
		}
	}
	ret.duration, _ = otel.Meter("itt.predictor").Float64Histogram("itt.predict.duration",
		metric.WithDescription("duration of a single prediction"),
		metric.WithUnit("s"))
	return ret
}

// StartSession ends an active session, resets the physics state and loads
// the trained models of car.
func (p *Predictor) StartSession(car, track string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.car != "" {
		p.endSession(context.Background())
	}
	p.collector.StartSession(car, track)
	stats := p.collector.Stats()
	p.car, p.track = stats.Car, stats.Track
	p.models = p.trainer.LoadModels(p.car)
	p.physics.Reset(physics.AmbientBase)
	p.stint.Reset()
	p.calibrated = false
	p.lastActual = model.ZoneValues{}
	for t := range p.history {
		for z := range p.history[t] {
			p.history[t][z].Clear()
		}
	}
	p.log.Info("Started prediction session",
		log.String("car", p.car),
		log.String("track", p.track),
		log.Int("models", p.models.Len()))
}

// EndSession persists the recorded session, learns patterns from it and
// queues model training. It returns the session file, if any.
func (p *Predictor) EndSession(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endSession(ctx)
}

func (p *Predictor) endSession(ctx context.Context) string {
	if p.car == "" {
		return ""
	}
	ctx, span := p.tracer.Start(ctx, "end session")
	defer span.End()
	span.SetAttributes(attribute.String("car", p.car), attribute.String("track", p.track))

	path, err := p.collector.EndSession()
	if err != nil {
		p.log.Error("Error saving session", log.ErrorField(err))
	}
	if path != "" {
		p.patterns.LearnFromSession(ctx, path)
		if p.training.Enqueue(p.car) {
			p.log.Info("Queued training", log.String("car", p.car))
		}
	}
	if p.store.Stats().NeedsCleanup {
		p.log.Info("Storage cleanup needed")
		p.store.CheckAndCleanup(ctx, false)
	}
	p.car, p.track = "", ""
	p.models = trainer.Models{}
	p.log.Info("Session ended", log.String("file", path))
	return path
}

// Predict runs one tick. It never fails: errors yield EmptyPrediction.
func (p *Predictor) Predict(src telemetry.Source) (ret Prediction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Error in prediction", log.Any("recovered", r))
			ret = EmptyPrediction()
		}
		took := time.Since(start)
		p.latencies.Push(took)
		p.predictions++
		p.duration.Record(context.Background(), took.Seconds())
	}()

	p.collector.CollectSample(src)

	tel := telemetry.Extract(src, p.now())
	tel.StintTime = p.stint.Observe(tel.SessionTime, tel.LapNum, tel.OnPitRoad)

	phys := p.physics.Predict(&tel)
	var pattern model.Estimate
	if p.car != "" {
		pattern = p.patterns.Adjustment(p.car, p.track, &tel)
	}
	var ml model.Estimate
	if p.models.Len() > 0 {
		x := trainer.FromTelemetry(&tel)
		ml = p.models.Predict(&x)
	}

	ret.Temps = Blend(phys,
		Layer{Weight: PatternWeight, Estimate: pattern},
		Layer{Weight: MLWeight, Estimate: ml})
	ret.Layers = LayerConfidence{Pattern: pattern.Confidence, ML: ml.Confidence}
	ret.Confidence = Confidence(pattern.Confidence, ml.Confidence, tel.StintTime, p.calibrated)
	ret.Trends = p.trends()
	ret.Advice = Advice(ret.Temps, ret.Trends)
	p.pushHistory(ret.Temps)
	return ret
}

// CalibrateWithActual takes ground truth temperatures, usually read on pit
// road, and moves the physics state onto them.
func (p *Predictor) CalibrateWithActual(actual model.ZoneValues) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastActual = actual
	p.calibrated = true
	p.physics.Calibrate(actual)
	p.log.Debug("Calibrated with actual temps", log.Float64("avg", actual.Avg()))
}

// TrainNow runs training for car synchronously.
func (p *Predictor) TrainNow(ctx context.Context, car string, force bool) trainer.TrainResult {
	return p.trainer.TrainModels(ctx, car, force)
}

func (p *Predictor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	ret := Stats{
		Session:  p.collector.Stats(),
		Storage:  p.store.Stats(),
		Patterns: p.patterns.Stats(),
		Models:   ModelInfo{Car: p.car, Loaded: p.models.Len()},
		Performance: Performance{
			Predictions:     p.predictions,
			PendingTraining: p.training.Len(),
		},
	}
	if p.calibrated {
		actual := p.lastActual
		ret.Calibration = &actual
	}
	if lat := p.latencies.Values(); len(lat) > 0 {
		var sum time.Duration
		for _, d := range lat {
			sum += d
		}
		ret.Performance.AvgLatencyMs = float64(sum.Microseconds()) / 1000.0 / float64(len(lat))
	}
	return ret
}

// Shutdown ends an active session and stops the training worker. Training
// still running after the timeout is abandoned.
func (p *Predictor) Shutdown(ctx context.Context) {
	p.EndSession(ctx)
	if !p.training.Stop(p.shutdownTimeout) {
		p.log.Warn("Training did not finish before shutdown")
	}
}

func (p *Predictor) train(ctx context.Context, car string) {
	res := p.trainer.TrainModels(ctx, car, false)
	if !res.Success {
		p.log.Info("Training skipped", log.String("car", car), log.String("reason", res.Reason))
	}
}

// trends uses the history before the current tick. The series of a tire is
// the mean over its zones at each point in time.
func (p *Predictor) trends() map[string]Trend {
	ret := make(map[string]Trend, model.NumTires)
	for _, t := range model.Tires {
		var series []float64
		for _, z := range model.Zones {
			vals := p.history[t][z].Values()
			if series == nil {
				series = make([]float64, len(vals))
			}
			for i := range series {
				if i < len(vals) {
					series[i] += vals[i] / model.NumZones
				}
			}
		}
		ret[t.String()] = ClassifyTrend(series)
	}
	return ret
}

func (p *Predictor) pushHistory(temps model.ZoneValues) {
	for _, t := range model.Tires {
		for _, z := range model.Zones {
			if v := temps.Get(t, z); v > 0 {
				p.history[t][z].Push(v)
			}
		}
	}
}
