package telemetry

import (
	"time"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
)

// simulator variable names
const (
	KeyOnPitRoad    = "OnPitRoad"
	KeyLap          = "Lap"
	KeyLapDistPct   = "LapDistPct"
	KeySessionTime  = "SessionTime"
	KeySessionNum   = "SessionNum"
	KeyThrottle     = "Throttle"
	KeyBrake        = "Brake"
	KeyClutch       = "Clutch"
	KeySteering     = "SteeringWheelAngle"
	KeySpeed        = "Speed"
	KeyLatAccel     = "LatAccel"
	KeyLongAccel    = "LongAccel"
	KeyVertAccel    = "VertAccel"
	KeyTrackTemp    = "TrackTempCrew"
	KeyAirTemp      = "AirTemp"
	KeyPlayerCarIdx = "PlayerCarIdx"
	KeySessionInfo  = "SessionInfo"
)

const (
	DefaultTrackTemp = 75.0 // °F
	DefaultAirTemp   = 70.0 // °F

	standardGravity = 9.80665
	msToKmh         = 3.6
)

// per wheel variable suffixes for the L/C/R columns
var (
	tempSuffixes = [model.NumZones]string{"tempCL", "tempCM", "tempCR"}
	wearSuffixes = [model.NumZones]string{"wearL", "wearM", "wearR"}
)

func ShockKey(t model.Tire) string             { return t.String() + "shockDefl" }
func TempKey(t model.Tire, z model.Zone) string { return t.String() + tempSuffixes[z] }
func WearKey(t model.Tire, z model.Zone) string { return t.String() + wearSuffixes[z] }

// Extract converts a snapshot into the model representation used by all
// prediction layers. Accelerations are converted to g, speed to km/h.
// Timestamp is the simulator session time, falling back to now if the
// snapshot carries none. StintTime is left to the caller (see StintClock).
func Extract(src Source, now time.Time) model.Telemetry {
	var ret model.Telemetry
	ret.SessionTime = Float(src, KeySessionTime, 0)
	ret.SessionNum = Int(src, KeySessionNum, -1)
	ret.OnPitRoad = Bool(src, KeyOnPitRoad)
	if ret.SessionTime > 0 {
		ret.Timestamp = ret.SessionTime
	} else {
		ret.Timestamp = float64(now.UnixNano()) / float64(time.Second)
	}
	ret.LapNum = Int(src, KeyLap, 0)
	ret.LapPct = Float(src, KeyLapDistPct, 0)
	ret.Inputs = model.Inputs{
		Throttle: Float(src, KeyThrottle, 0),
		Brake:    Float(src, KeyBrake, 0),
		Clutch:   Float(src, KeyClutch, 0),
		Steering: Float(src, KeySteering, 0),
		Speed:    Float(src, KeySpeed, 0) * msToKmh,
	}
	ret.GForces = model.GForces{
		Lateral:      Float(src, KeyLatAccel, 0) / standardGravity,
		Longitudinal: Float(src, KeyLongAccel, 0) / standardGravity,
		Vertical:     Float(src, KeyVertAccel, 0) / standardGravity,
	}
	ret.Environment = model.Environment{
		TrackTemp: FloatOr(src, KeyTrackTemp, DefaultTrackTemp),
		AirTemp:   FloatOr(src, KeyAirTemp, DefaultAirTemp),
	}
	for _, t := range model.Tires {
		ret.Loads[t] = Float(src, ShockKey(t), 0)
		ret.TireWear[t] = AverageWear(src, t)
	}
	return ret
}

// AverageWear is the mean over the three wear columns of tire t.
func AverageWear(src Source, t model.Tire) float64 {
	sum := 0.0
	for _, z := range model.Zones {
		sum += Float(src, WearKey(t, z), 0)
	}
	return sum / model.NumZones
}

// ActualTemps reads the ground truth zone temperatures. Some car classes only
// report them on pit road, elsewhere they read as zero.
func ActualTemps(src Source) model.ZoneValues {
	var ret model.ZoneValues
	for _, t := range model.Tires {
		for _, z := range model.Zones {
			ret[t][z] = Float(src, TempKey(t, z), 0)
		}
	}
	return ret
}

func ActualWear(src Source) model.ZoneValues {
	var ret model.ZoneValues
	for _, t := range model.Tires {
		for _, z := range model.Zones {
			ret[t][z] = Float(src, WearKey(t, z), 0)
		}
	}
	return ret
}
