package trainer

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/mod/semver"

	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/storage"
)

// FormatVersion is written to every model file. Files with another major
// version are rejected on load.
const FormatVersion = "v1.0.0"

var (
	ErrInsufficientData = errors.New("insufficient training data")
	ErrModelFormat      = errors.New("unsupported model format")
)

// ModelFile is the persisted regressor of one car, tire and zone.
type ModelFile struct {
	FormatVersion string    `json:"format_version"`
	Car           string    `json:"car"`
	ModelKey      string    `json:"model_key"`
	RunID         string    `json:"run_id"`
	TrainedAt     time.Time `json:"trained_at"`
	Params        Params    `json:"params"`
	Features      []string  `json:"features"`
	Metrics       Metrics   `json:"metrics"`
	Model         Ensemble  `json:"model"`
}

func ModelFileName(car string, t model.Tire, z model.Zone) string {
	return fmt.Sprintf("%s_%s%s", storage.SanitizeName(car), model.ZoneKey(t, z), storage.ModelSuffix)
}

func ModelPath(layout storage.Layout, car string, t model.Tire, z model.Zone) string {
	return filepath.Join(layout.Models(), ModelFileName(car, t, z))
}

func WriteModelFile(afs afero.Fs, path string, m *ModelFile) error {
	return storage.WriteGzipJSON(afs, path, m)
}

// ReadModelFile decodes and validates a model file. Truncated files report
// storage.ErrEmptyFile or a decode error.
func ReadModelFile(afs afero.Fs, path string) (*ModelFile, error) {
	var ret ModelFile
	if err := storage.ReadGzipJSON(afs, path, &ret); err != nil {
		return nil, err
	}
	if !semver.IsValid(ret.FormatVersion) ||
		semver.Major(ret.FormatVersion) != semver.Major(FormatVersion) {
		return nil, fmt.Errorf("%s: version %q: %w", filepath.Base(path), ret.FormatVersion, ErrModelFormat)
	}
	if len(ret.Features) != NumFeatures {
		return nil, fmt.Errorf("%s: %d features: %w", filepath.Base(path), len(ret.Features), ErrModelFormat)
	}
	return &ret, nil
}

// Confidence derives from the validation error: 50°F MAE or worse is 0.
func (m *ModelFile) Confidence() float64 {
	return max(0, 1-m.Metrics.ValMAE/maeForZeroConfidence)
}

const maeForZeroConfidence = 50.0

// Models holds the loaded models of one car keyed by tire and zone.
type Models map[model.Tire]map[model.Zone]*ModelFile

func (m Models) Get(t model.Tire, z model.Zone) (*ModelFile, bool) {
	ret, ok := m[t][z]
	return ret, ok
}

func (m Models) set(t model.Tire, z model.Zone, f *ModelFile) {
	if m[t] == nil {
		m[t] = map[model.Zone]*ModelFile{}
	}
	m[t][z] = f
}

func (m Models) Len() int {
	ret := 0
	for _, zones := range m {
		ret += len(zones)
	}
	return ret
}

// Predict returns absolute temperatures with per zone confidence. Zones
// without a model report 0 for both. The overall confidence is the mean over
// the loaded zones.
func (m Models) Predict(x *Features) model.Estimate {
	var ret model.Estimate
	sum, used := 0.0, 0
	for _, t := range model.Tires {
		for _, z := range model.Zones {
			f, ok := m.Get(t, z)
			if !ok {
				continue
			}
			c := f.Confidence()
			ret.Values.Set(t, z, f.Model.Predict(x))
			ret.ZoneConfidence.Set(t, z, c)
			sum += c
			used++
		}
	}
	if used > 0 {
		ret.Confidence = sum / float64(used)
	}
	return ret
}
