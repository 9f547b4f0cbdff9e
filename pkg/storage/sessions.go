package storage

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/afero"

	"github.com/mpapenbr/iracelog-tiretemp/log"
	"github.com/mpapenbr/iracelog-tiretemp/pkg/model"
)

// SessionFile describes one persisted session without loading it.
type SessionFile struct {
	Path      string
	Car       string
	Track     string
	SessionID string
	ModTime   time.Time
	Size      int64
}

func (f SessionFile) Combo() string {
	return model.Combo(f.Car, f.Track)
}

type SessionRepoOption func(*SessionRepo)

func WithSessionRepoLogger(l *log.Logger) SessionRepoOption {
	return func(r *SessionRepo) {
		r.log = l
	}
}

// SessionRepo reads and writes session files below the sessions directory.
type SessionRepo struct {
	fs  afero.Fs
	dir string
	log *log.Logger
}

func NewSessionRepo(fs afero.Fs, layout Layout, opts ...SessionRepoOption) *SessionRepo {
	ret := &SessionRepo{
		fs:  fs,
		dir: layout.Sessions(),
		log: log.Default().Named("storage"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (r *SessionRepo) Dir() string { return r.dir }

// Save persists s as gzip compressed JSON and returns the file path.
func (r *SessionRepo) Save(s *model.Session) (string, error) {
	if s == nil {
		return "", ErrNoSession
	}
	path := filepath.Join(r.dir, SessionFileName(s.Car, s.Track, s.SessionID))
	if err := WriteGzipJSON(r.fs, path, s); err != nil {
		return "", fmt.Errorf("save session %s: %w", s.SessionID, err)
	}
	if fi, err := r.fs.Stat(path); err == nil {
		r.log.Info("Saved session",
			log.String("file", filepath.Base(path)),
			log.Float64("sizeKB", float64(fi.Size())/1024))
	}
	return path, nil
}

func (r *SessionRepo) Load(path string) (*model.Session, error) {
	ret := &model.Session{}
	if err := ReadGzipJSON(r.fs, path, ret); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return ret, nil
}

// List returns all well named session files, newest (by mtime) first.
func (r *SessionRepo) List() ([]SessionFile, error) {
	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		return nil, err
	}
	ret := make([]SessionFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		car, track, id, ok := ParseSessionFileName(e.Name())
		if !ok {
			continue
		}
		ret = append(ret, SessionFile{
			Path:      filepath.Join(r.dir, e.Name()),
			Car:       car,
			Track:     track,
			SessionID: id,
			ModTime:   e.ModTime(),
			Size:      e.Size(),
		})
	}
	sortNewestFirst(ret)
	return ret, nil
}

// ListCar returns the session files of car, newest first.
func (r *SessionRepo) ListCar(car string) ([]SessionFile, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	id := SanitizeName(car)
	return lo.Filter(all, func(f SessionFile, _ int) bool { return f.Car == id }), nil
}

// Recent returns up to limit session files, optionally filtered by car and
// track (empty means any). Filters match substrings of the sanitized ids.
func (r *SessionRepo) Recent(car, track string, limit int) ([]SessionFile, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	ret := lo.Filter(all, func(f SessionFile, _ int) bool {
		if car != "" && !strings.Contains(f.Car, SanitizeName(car)) {
			return false
		}
		if track != "" && !strings.Contains(f.Track, SanitizeName(track)) {
			return false
		}
		return true
	})
	if limit > 0 && len(ret) > limit {
		ret = ret[:limit]
	}
	return ret, nil
}

// GroupByCombo groups files by car@track keeping the newest first order.
func GroupByCombo(files []SessionFile) map[string][]SessionFile {
	return lo.GroupBy(files, func(f SessionFile) string { return f.Combo() })
}

func sortNewestFirst(files []SessionFile) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].SessionID > files[j].SessionID
		}
		return files[i].ModTime.After(files[j].ModTime)
	})
}
