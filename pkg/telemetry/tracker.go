package telemetry

import (
	"context"

	"github.com/mpapenbr/iracelog-tiretemp/log"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
)

// SessionSink receives session lifecycle events detected by a Tracker.
type SessionSink interface {
	StartSession(car, track string)
	EndSession(ctx context.Context) string
	CalibrateWithActual(actual model.ZoneValues)
}

type TrackerOption func(*Tracker)

func WithTrackerLogger(l *log.Logger) TrackerOption {
	return func(t *Tracker) {
		t.log = l
	}
}

// Tracker watches SessionNum and starts/ends sessions on the sink. The car is
// taken from SessionInfo by PlayerCarIdx, the track from WeekendInfo.
type Tracker struct {
	sink       SessionSink
	sessionNum int
	car        string
	track      string
	log        *log.Logger
}

func NewTracker(sink SessionSink, opts ...TrackerOption) *Tracker {
	ret := &Tracker{
		sink:       sink,
		sessionNum: -1,
		log:        log.Default().Named("tracker"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Sync checks for a session change. It returns true if a new session was
// started on the sink.
func (t *Tracker) Sync(ctx context.Context, src Source) bool {
	num := Int(src, KeySessionNum, -1)
	if num == t.sessionNum {
		return false
	}
	if t.sessionNum >= 0 {
		t.log.Info("session ended", log.Int("sessionNum", t.sessionNum))
		t.sink.EndSession(ctx)
	}
	t.sessionNum = num
	if num < 0 {
		return false
	}
	info, err := SessionInfoFrom(src)
	if err != nil {
		t.log.Warn("no session info, session not started", log.ErrorField(err))
		return false
	}
	car, ok := info.CarName(Int(src, KeyPlayerCarIdx, -1))
	if !ok {
		t.log.Warn("player car not found in session info")
		return false
	}
	t.car = car
	t.track = info.TrackName()
	t.sink.StartSession(t.car, t.track)
	t.log.Info("session started",
		log.Int("sessionNum", num),
		log.String("car", t.car),
		log.String("track", t.track))
	return true
}

// CalibrateOnPitRoad forwards live ground truth while the car is on pit road.
// It reports whether calibration took place.
func (t *Tracker) CalibrateOnPitRoad(src Source) (model.ZoneValues, bool) {
	if !Bool(src, KeyOnPitRoad) {
		return model.ZoneValues{}, false
	}
	actual := ActualTemps(src)
	if !actual.HasAny() {
		return actual, false
	}
	t.sink.CalibrateWithActual(actual)
	return actual, true
}

func (t *Tracker) Current() (car, track string) {
	return t.car, t.track
}
