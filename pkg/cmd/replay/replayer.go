package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mpapenbr/iracelog-tiretemp/log"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/predictor"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/telemetry"
)

// simClock derives the current time from the recorded session time, so rate
// limits and stint timing behave as during the live session.
type simClock struct {
	start  time.Time
	offset time.Duration
}

func newSimClock(start time.Time) *simClock {
	return &simClock{start: start}
}

func (c *simClock) Now() time.Time {
	return c.start.Add(c.offset)
}

func (c *simClock) observe(src telemetry.Source) {
	if st := telemetry.Float(src, telemetry.KeySessionTime, -1); st >= 0 {
		c.offset = time.Duration(st * float64(time.Second))
	}
}

type Stats struct {
	Lines       int
	Invalid     int
	Predictions int
	Calibrated  int
}

// Replayer feeds recorded snapshots, one JSON document per line, into a
// predictor.
type Replayer struct {
	pred       *predictor.Predictor
	tracker    *telemetry.Tracker
	clock      *simClock
	out        io.Writer
	printEvery int
	log        *log.Logger
	stats      Stats
}

func NewReplayer(pred *predictor.Predictor, clock *simClock, out io.Writer, printEvery int) *Replayer {
	return &Replayer{
		pred:       pred,
		tracker:    telemetry.NewTracker(pred),
		clock:      clock,
		out:        out,
		printEvery: printEvery,
		log:        log.Default().Named("replay"),
	}
}

func (r *Replayer) Stats() Stats {
	return r.stats
}

// Process handles one line. Invalid lines are counted and skipped.
func (r *Replayer) Process(ctx context.Context, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	r.stats.Lines++
	snap, err := telemetry.ParseJSONSnapshot(line)
	if err != nil {
		r.stats.Invalid++
		r.log.Debug("skipping invalid line", log.Int("line", r.stats.Lines), log.ErrorField(err))
		return
	}
	r.clock.observe(snap)
	r.tracker.Sync(ctx, snap)
	if _, ok := r.tracker.CalibrateOnPitRoad(snap); ok {
		r.stats.Calibrated++
	}
	pred := r.pred.Predict(snap)
	r.stats.Predictions++
	if r.printEvery > 0 && r.stats.Predictions%r.printEvery == 0 {
		r.print(snap, &pred)
	}
}

// Run processes lines until src is exhausted or ctx is done.
func (r *Replayer) Run(ctx context.Context, src *lineSource) error {
	for {
		line, err := src.Next(ctx)
		if line != "" {
			r.Process(ctx, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (r *Replayer) print(src telemetry.Source, pred *predictor.Prediction) {
	var b strings.Builder
	fmt.Fprintf(&b, "lap %3d", telemetry.Int(src, telemetry.KeyLap, 0))
	for _, t := range model.Tires {
		tr := pred.Trends[t.String()]
		fmt.Fprintf(&b, "  %s %5.1f/%5.1f/%5.1f %s", t,
			pred.Temps.Get(t, model.ZoneL),
			pred.Temps.Get(t, model.ZoneC),
			pred.Temps.Get(t, model.ZoneR),
			tr.Symbol)
	}
	fmt.Fprintf(&b, "  conf %.2f", pred.Confidence)
	for _, a := range pred.Advice {
		fmt.Fprintf(&b, "  [%s]", a)
	}
	fmt.Fprintln(r.out, b.String())
}

// lineSource reads lines from a recording. If a watcher is set, reaching the
// end of the file waits for the recorder to append more data.
type lineSource struct {
	r       *bufio.Reader
	watcher *fsnotify.Watcher
	partial strings.Builder
}

func newLineSource(r io.Reader, watcher *fsnotify.Watcher) *lineSource {
	return &lineSource{r: bufio.NewReader(r), watcher: watcher}
}

// Next returns the next complete line. A trailing line without newline is
// returned together with io.EOF when not following.
func (s *lineSource) Next(ctx context.Context) (string, error) {
	for {
		chunk, err := s.r.ReadString('\n')
		s.partial.WriteString(chunk)
		if err == nil {
			return s.take(), nil
		}
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		if s.watcher == nil {
			return s.take(), io.EOF
		}
		if err := s.wait(ctx); err != nil {
			return "", err
		}
	}
}

func (s *lineSource) take() string {
	ret := s.partial.String()
	s.partial.Reset()
	return ret
}

func (s *lineSource) wait(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-s.watcher.Events:
			if !ok {
				return io.EOF
			}
			if event.Has(fsnotify.Write) {
				return nil
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return io.EOF
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return io.EOF
			}
			return err
		}
	}
}
