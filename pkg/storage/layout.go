package storage

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	SessionsDir     = "sessions"
	ModelsDir       = "models"
	CalibrationsDir = "calibrations"

	SessionSuffix   = ".json.gz"
	ModelSuffix     = ".model.json.gz"
	JSONSuffix      = ".json"
	SynthesizedFile = "synthesized_training_data.json"

	nameSep = "--"
)

// Layout resolves the directories below the data root.
type Layout struct {
	Root string
}

func (l Layout) Sessions() string     { return filepath.Join(l.Root, SessionsDir) }
func (l Layout) Models() string       { return filepath.Join(l.Root, ModelsDir) }
func (l Layout) Calibrations() string { return filepath.Join(l.Root, CalibrationsDir) }

func (l Layout) SynthesizedPath() string {
	return filepath.Join(l.Calibrations(), SynthesizedFile)
}

// EnsureDirs creates all data directories. Failing here is fatal for callers.
func (l Layout) EnsureDirs(fs afero.Fs) error {
	for _, d := range []string{l.Sessions(), l.Models(), l.Calibrations()} {
		if err := fs.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// SanitizeName converts car and track names into file name safe ids:
// lower case, every run of other characters than [a-z0-9] becomes "_".
func SanitizeName(name string) string {
	var sb strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && sb.Len() > 0 {
				sb.WriteByte('_')
			}
			pendingSep = false
			sb.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if sb.Len() == 0 {
		return "unknown"
	}
	return sb.String()
}

// SessionFileName returns <car>--<track>--<sessionID>.json.gz
func SessionFileName(car, track, sessionID string) string {
	return SanitizeName(car) + nameSep + SanitizeName(track) + nameSep + sessionID + SessionSuffix
}

// ParseSessionFileName splits a name created by SessionFileName.
func ParseSessionFileName(name string) (car, track, sessionID string, ok bool) {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, SessionSuffix) {
		return "", "", "", false
	}
	parts := strings.Split(strings.TrimSuffix(base, SessionSuffix), nameSep)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
