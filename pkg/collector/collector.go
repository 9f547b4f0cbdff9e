// Package collector records 1 Hz telemetry samples and the ground truth at
// pit entry for later training.
package collector

import (
	"fmt"
	"time"

	"github.com/mpapenbr/iracelog-tiretemp/log"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/storage"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/telemetry"
)

const (
	DefaultSampleInterval = time.Second
	DefaultFlushSize      = 60
)

type Option func(*Collector)

func WithSampleInterval(d time.Duration) Option {
	return func(c *Collector) {
		c.interval = d
	}
}

// WithFlushSize sets the number of buffered samples moved into the session at once.
func WithFlushSize(n int) Option {
	return func(c *Collector) {
		c.flushSize = n
	}
}

// WithClock replaces the wall clock, e.g. to replay recordings in simulated time.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

func WithLogger(l *log.Logger) Option {
	return func(c *Collector) {
		c.log = l
	}
}

type Stats struct {
	Active     bool    `json:"active"`
	Car        string  `json:"car,omitempty"`
	Track      string  `json:"track,omitempty"`
	Duration   float64 `json:"duration,omitempty"` // seconds
	Samples    int     `json:"samples,omitempty"`
	PitEntries int     `json:"pit_entries,omitempty"`
}

// Collector is driven from the telemetry loop. Not safe for concurrent use.
type Collector struct {
	repo      *storage.SessionRepo
	interval  time.Duration
	flushSize int
	now       func() time.Time
	log       *log.Logger

	session     *model.Session
	buffer      []model.TelemetrySample
	lastSample  time.Time
	lastPitRoad bool
	stint       telemetry.StintClock
}

func New(repo *storage.SessionRepo, opts ...Option) *Collector {
	ret := &Collector{
		repo:      repo,
		interval:  DefaultSampleInterval,
		flushSize: DefaultFlushSize,
		now:       time.Now,
		log:       log.Default().Named("collector"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (c *Collector) Active() bool {
	return c.session != nil
}

// ShouldSample rate limits sampling to one call per interval.
func (c *Collector) ShouldSample() bool {
	now := c.now()
	if c.lastSample.IsZero() || now.Sub(c.lastSample) >= c.interval {
		c.lastSample = now
		return true
	}
	return false
}

// StartSession begins a new recording. An active session is ended first.
func (c *Collector) StartSession(car, track string) {
	if c.Active() {
		if _, err := c.EndSession(); err != nil {
			c.log.Error("could not end previous session", log.ErrorField(err))
		}
	}
	start := c.now()
	c.session = &model.Session{
		SessionID:  start.Format("20060102_150405"),
		Car:        storage.SanitizeName(car),
		Track:      storage.SanitizeName(track),
		StartTime:  start,
		Telemetry:  make([]model.TelemetrySample, 0),
		PitEntries: make([]model.PitEntry, 0),
	}
	c.buffer = make([]model.TelemetrySample, 0, c.flushSize)
	c.lastSample = time.Time{}
	c.lastPitRoad = false
	c.stint.Reset()
	c.log.Info("Started session",
		log.String("car", c.session.Car),
		log.String("track", c.session.Track),
		log.String("sessionId", c.session.SessionID))
}

// CollectSample records one sample if a session is active and the sample
// interval has passed. Errors are logged and the tick is skipped.
func (c *Collector) CollectSample(src telemetry.Source) {
	if !c.Active() || !c.ShouldSample() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Error collecting sample", log.Any("recovered", r))
		}
	}()
	now := c.now()
	tel := telemetry.Extract(src, now)

	if tel.OnPitRoad && !c.lastPitRoad {
		c.recordPitEntry(src, &tel, now)
	}
	c.lastPitRoad = tel.OnPitRoad

	sample := tel.TelemetrySample
	sample.Timestamp = float64(now.UnixNano()) / float64(time.Second)
	sample.StintTime = c.stint.Observe(tel.SessionTime, tel.LapNum, tel.OnPitRoad)
	c.buffer = append(c.buffer, sample)
	if len(c.buffer) >= c.flushSize {
		c.flush()
	}
}

// EndSession persists the active session and returns the file path.
// Without an active session it returns an empty path.
func (c *Collector) EndSession() (string, error) {
	if !c.Active() {
		return "", nil
	}
	c.flush()
	s := c.session
	s.Seal(c.now())
	c.session = nil
	c.buffer = nil

	path, err := c.repo.Save(s)
	if err != nil {
		return "", fmt.Errorf("end session: %w", err)
	}
	c.log.Info("Session ended",
		log.String("file", path),
		log.Int("samples", s.Metadata.TotalSamples),
		log.Int("pitEntries", s.Metadata.PitEntries))
	return path, nil
}

func (c *Collector) Stats() Stats {
	if !c.Active() {
		return Stats{Active: false}
	}
	return Stats{
		Active:     true,
		Car:        c.session.Car,
		Track:      c.session.Track,
		Duration:   c.now().Sub(c.session.StartTime).Seconds(),
		Samples:    len(c.session.Telemetry) + len(c.buffer),
		PitEntries: len(c.session.PitEntries),
	}
}

func (c *Collector) recordPitEntry(src telemetry.Source, tel *model.Telemetry, now time.Time) {
	stintDuration := c.stint.Elapsed(tel.SessionTime)
	stintLaps := c.stint.Laps(tel.LapNum)
	avgLap := 0.0
	if stintLaps > 0 {
		avgLap = stintDuration / float64(stintLaps)
	}
	c.session.PitEntries = append(c.session.PitEntries, model.PitEntry{
		PitEntryTime:  now,
		SessionTime:   tel.SessionTime,
		StintDuration: stintDuration,
		TotalLaps:     tel.LapNum,
		StintLaps:     stintLaps,
		AvgLapTime:    avgLap,
		Temps:         telemetry.ActualTemps(src),
		Wear:          telemetry.ActualWear(src),
	})
	c.log.Info("Recorded pit entry", log.Int("lap", tel.LapNum), log.Float64("stint", stintDuration))
}

func (c *Collector) flush() {
	if c.session == nil || len(c.buffer) == 0 {
		return
	}
	c.session.Telemetry = append(c.session.Telemetry, c.buffer...)
	c.buffer = c.buffer[:0]
}
