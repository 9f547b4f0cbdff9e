// Package telemetry adapts simulator snapshots to the prediction core.
//
// A Source is a frozen point-in-time key/value view of the simulator state.
// Values are scalars, arrays indexed by car, or the session info document.
// Missing or malformed values never fail: readers fall back to defaults.
package telemetry

import (
	"errors"
	"math"
	"strconv"
)

var ErrKeyNotFound = errors.New("key not found")

type Source interface {
	// Get returns the raw value stored under key.
	Get(key string) (any, bool)
}

// Snapshot is an in-memory Source, mainly used by tests and by callers that
// already decoded the simulator buffer.
type Snapshot map[string]any

func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

// Float reads key as float64. Non-finite values count as missing.
func Float(src Source, key string, def float64) float64 {
	if src == nil {
		return def
	}
	raw, ok := src.Get(key)
	if !ok {
		return def
	}
	v, ok := toFloat(raw)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

// FloatOr works like Float but also treats zero as missing, mirroring the
// simulator convention that unset channels read as 0.
func FloatOr(src Source, key string, def float64) float64 {
	v := Float(src, key, def)
	if v == 0 {
		return def
	}
	return v
}

func Int(src Source, key string, def int) int {
	v := Float(src, key, math.NaN())
	if math.IsNaN(v) {
		return def
	}
	return int(v)
}

func Bool(src Source, key string) bool {
	if src == nil {
		return false
	}
	raw, ok := src.Get(key)
	if !ok {
		return false
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	f, ok := toFloat(raw)
	return ok && f != 0
}

// FloatAt reads element idx of an array valued key.
func FloatAt(src Source, key string, idx int, def float64) float64 {
	if src == nil {
		return def
	}
	if is, ok := src.(indexedSource); ok {
		raw, ok := is.GetAt(key, idx)
		if !ok {
			return def
		}
		if v, ok := toFloat(raw); ok {
			return v
		}
		return def
	}
	raw, ok := src.Get(key)
	if !ok {
		return def
	}
	switch arr := raw.(type) {
	case []any:
		if idx >= 0 && idx < len(arr) {
			if v, ok := toFloat(arr[idx]); ok {
				return v
			}
		}
	case []float64:
		if idx >= 0 && idx < len(arr) {
			return arr[idx]
		}
	case []float32:
		if idx >= 0 && idx < len(arr) {
			return float64(arr[idx])
		}
	case []int:
		if idx >= 0 && idx < len(arr) {
			return float64(arr[idx])
		}
	}
	return def
}

// indexedSource is implemented by sources that resolve array elements
// themselves (e.g. JSONSnapshot via path expressions).
type indexedSource interface {
	GetAt(key string, idx int) (any, bool)
}

//nolint:cyclop // type switch
func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint32:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
