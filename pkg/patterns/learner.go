// Package patterns learns per car and per car@track temperature corrections
// from completed sessions.
package patterns

import (
	"context"
	"errors"
	"io/fs"
	"maps"
	"math"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/iracelog-tiretemp/log"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/storage"
)

const (
	CarPatternsFile   = "car_class_patterns.json"
	TrackPatternsFile = "track_specific.json"

	referenceTemp     = 180.0
	progressionScale  = 0.1
	cornerWindow      = 0.02
	cornerMinLateralG = 0.5
	cornerHeatPerG    = 2.0
	maxCornerHeat     = 6.0
	turnLateralG      = 0.1
)

type (
	CarStore   map[string]CarPattern
	TrackStore map[string]TrackPattern

	Summary struct {
		Sessions   int     `json:"sessions"`
		Confidence float64 `json:"confidence"`
	}
	Stats struct {
		Cars         int                `json:"cars"`
		TrackCombos  int                `json:"track_combos"`
		CarDetails   map[string]Summary `json:"car_details"`
		TrackDetails map[string]Summary `json:"track_details"`
	}
)

type Option func(*Learner)

func WithLogger(l *log.Logger) Option {
	return func(p *Learner) {
		p.log = l
	}
}

// Learner owns the pattern stores in the calibrations directory.
// Reads are served from memory, every learn call rewrites both files.
type Learner struct {
	fs        afero.Fs
	sessions  *storage.SessionRepo
	carPath   string
	trackPath string
	log       *log.Logger
	tracer    trace.Tracer

	mu    sync.RWMutex
	cars  CarStore
	track TrackStore
}

// New loads existing stores. Unreadable stores are logged and start empty.
func New(afs afero.Fs, layout storage.Layout, sessions *storage.SessionRepo, opts ...Option) *Learner {
	ret := &Learner{
		fs:        afs,
		sessions:  sessions,
		carPath:   filepath.Join(layout.Calibrations(), CarPatternsFile),
		trackPath: filepath.Join(layout.Calibrations(), TrackPatternsFile),
		log:       log.Default().Named("patterns"),
		tracer:    otel.Tracer("itt.patterns"),
		cars:      CarStore{},
		track:     TrackStore{},
	}
	for _, opt := range opts {
		opt(ret)
	}
	if err := readStore(afs, ret.carPath, &ret.cars); err != nil {
		ret.log.Warn("could not load car patterns", log.ErrorField(err))
		ret.cars = CarStore{}
	}
	if err := readStore(afs, ret.trackPath, &ret.track); err != nil {
		ret.log.Warn("could not load track patterns", log.ErrorField(err))
		ret.track = TrackStore{}
	}
	return ret
}

// LearnFromSession merges the session at path into both stores and persists
// them. It returns false if the session could not be read or stored.
func (p *Learner) LearnFromSession(ctx context.Context, path string) bool {
	_, span := p.tracer.Start(ctx, "learn from session")
	defer span.End()
	span.SetAttributes(attribute.String("file", filepath.Base(path)))

	s, err := p.sessions.Load(path)
	if err != nil {
		p.log.Error("Error loading session", log.String("file", path), log.ErrorField(err))
		return false
	}
	carObs, carOk := ExtractCar(s)
	trackObs, trackOk := ExtractTrack(s)

	p.mu.Lock()
	defer p.mu.Unlock()
	cars := p.cars
	tracks := p.track
	if carOk {
		cars = maps.Clone(p.cars)
		cars[s.Car] = MergeCar(p.cars[s.Car], carObs)
	}
	combo := model.Combo(s.Car, s.Track)
	if trackOk {
		tracks = maps.Clone(p.track)
		tracks[combo] = MergeTrack(p.track[combo], trackObs)
	}
	if err := storage.WriteJSON(p.fs, p.carPath, cars); err != nil {
		p.log.Error("could not store car patterns", log.ErrorField(err))
		return false
	}
	if err := storage.WriteJSON(p.fs, p.trackPath, tracks); err != nil {
		p.log.Error("could not store track patterns", log.ErrorField(err))
		return false
	}
	p.cars = cars
	p.track = tracks
	span.SetAttributes(attribute.Bool("car", carOk), attribute.Bool("track", trackOk))
	p.log.Info("Learned patterns",
		log.String("car", s.Car),
		log.String("track", s.Track),
		log.Bool("carPattern", carOk),
		log.Bool("trackPattern", trackOk))
	return true
}

// Adjustment returns per zone deltas to the physics temperatures. Each part
// is weighted by its own confidence; the overall confidence is their mean.
func (p *Learner) Adjustment(car, track string, tel *model.Telemetry) model.Estimate {
	p.mu.RLock()
	cp, hasCar := p.cars[car]
	tp, hasTrack := p.track[model.Combo(car, track)]
	p.mu.RUnlock()

	var deltas model.ZoneValues
	carConf, trackConf := 0.0, 0.0
	if hasCar {
		carConf = cp.Confidence
		if adj, ok := carAdjustment(cp, tel); ok {
			addScaled(&deltas, adj, carConf)
		}
	}
	if hasTrack {
		trackConf = tp.Confidence
		if adj, ok := trackAdjustment(tp, tel); ok {
			addScaled(&deltas, adj, trackConf)
		}
	}
	return model.DeltaEstimate(deltas, (carConf+trackConf)/2)
}

func (p *Learner) CarPattern(car string) (CarPattern, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ret, ok := p.cars[car]
	return ret, ok
}

func (p *Learner) TrackPattern(car, track string) (TrackPattern, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ret, ok := p.track[model.Combo(car, track)]
	return ret, ok
}

func (p *Learner) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ret := Stats{
		Cars:         len(p.cars),
		TrackCombos:  len(p.track),
		CarDetails:   make(map[string]Summary, len(p.cars)),
		TrackDetails: make(map[string]Summary, len(p.track)),
	}
	for k, v := range p.cars {
		ret.CarDetails[k] = Summary{Sessions: v.TotalSessions, Confidence: v.Confidence}
	}
	for k, v := range p.track {
		ret.TrackDetails[k] = Summary{Sessions: v.TotalSessions, Confidence: v.Confidence}
	}
	return ret
}

// Cars lists the cars with a car pattern, sorted.
func (p *Learner) Cars() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ret := make([]string, 0, len(p.cars))
	for k := range p.cars {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func carAdjustment(cp CarPattern, tel *model.Telemetry) (model.ZoneValues, bool) {
	var ret model.ZoneValues
	if tel == nil || tel.StintTime <= 0 {
		return ret, false
	}
	ref, ok := NearestProgression(cp.StintProgression, tel.StintTime)
	if !ok {
		return ret, false
	}
	for _, t := range model.Tires {
		for _, z := range model.Zones {
			if v := ref.Temps.Get(t, z); v > 0 {
				ret.Set(t, z, (v-referenceTemp)*progressionScale)
			}
		}
	}
	return ret, true
}

// trackAdjustment heats the outer edge of the loaded front tire while the
// car is in a known corner. The turn direction comes from the live lateral g.
func trackAdjustment(tp TrackPattern, tel *model.Telemetry) (model.ZoneValues, bool) {
	var ret model.ZoneValues
	if tel == nil {
		return ret, false
	}
	var corner *Corner
	for i := range tp.Corners {
		if math.Abs(tp.Corners[i].LapPct-tel.LapPct) < cornerWindow {
			corner = &tp.Corners[i]
			break
		}
	}
	if corner == nil || corner.AvgLateralG <= cornerMinLateralG {
		return ret, false
	}
	heat := math.Min(cornerHeatPerG*corner.AvgLateralG, maxCornerHeat)
	switch lat := tel.GForces.Lateral; {
	case lat > turnLateralG:
		ret.Set(model.RF, model.ZoneL, heat)
	case lat < -turnLateralG:
		ret.Set(model.LF, model.ZoneR, heat)
	default:
		return ret, false
	}
	return ret, true
}

func addScaled(dst *model.ZoneValues, src model.ZoneValues, w float64) {
	for t := range dst {
		for z := range dst[t] {
			dst[t][z] += src[t][z] * w
		}
	}
}

func readStore(afs afero.Fs, path string, v any) error {
	err := storage.ReadJSON(afs, path, v)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
