package telemetry

import (
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// JSONSnapshot is a Source backed by one JSON document, as written by
// telemetry recorders (one document per line).
type JSONSnapshot struct {
	doc any
}

func ParseJSONSnapshot(data string) (*JSONSnapshot, error) {
	doc, err := oj.ParseString(data)
	if err != nil {
		return nil, err
	}
	return &JSONSnapshot{doc: doc}, nil
}

func (s *JSONSnapshot) Get(key string) (any, bool) {
	res := jp.C(key).Get(s.doc)
	if len(res) == 0 {
		return nil, false
	}
	return res[0], true
}

// GetAt resolves key[idx] for per car arrays like CarIdxLap.
func (s *JSONSnapshot) GetAt(key string, idx int) (any, bool) {
	res := jp.C(key).N(idx).Get(s.doc)
	if len(res) == 0 {
		return nil, false
	}
	return res[0], true
}

// Lookup evaluates an arbitrary JSONPath expression against the snapshot.
func (s *JSONSnapshot) Lookup(path string) ([]any, error) {
	x, err := jp.ParseString(path)
	if err != nil {
		return nil, err
	}
	return x.Get(s.doc), nil
}
