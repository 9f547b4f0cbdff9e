package storage

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/iracelog-tiretemp/log"
)

const (
	mb  = 1024 * 1024
	day = 24 * time.Hour
)

type Limits struct {
	MaxTotalBytes       int64
	WarnBytes           int64
	MinSessionsPerCombo int
	SessionRetention    time.Duration
	ModelRetention      time.Duration
	SynthCap            int
}

func DefaultLimits() Limits {
	return Limits{
		MaxTotalBytes:       100 * mb,
		WarnBytes:           80 * mb,
		MinSessionsPerCombo: 3,
		SessionRetention:    30 * day,
		ModelRetention:      60 * day,
		SynthCap:            DefaultSynthCap,
	}
}

type (
	Stats struct {
		TotalBytes     int64   `json:"total_bytes"`
		TotalMB        float64 `json:"total_mb"`
		SessionsMB     float64 `json:"sessions_mb"`
		ModelsMB       float64 `json:"models_mb"`
		CalibrationsMB float64 `json:"calibrations_mb"`
		SessionCount   int     `json:"session_count"`
		ModelCount     int     `json:"model_count"`
		UsagePercent   float64 `json:"usage_percent"`
		NeedsCleanup   bool    `json:"needs_cleanup"`
	}
	CleanupResult struct {
		Cleaned             bool    `json:"cleaned"`
		Reason              string  `json:"reason,omitempty"`
		BeforeMB            float64 `json:"before_mb"`
		AfterMB             float64 `json:"after_mb"`
		FreedMB             float64 `json:"freed_mb"`
		FreedBytes          int64   `json:"freed_bytes"`
		SynthesizedSessions int     `json:"synthesized_sessions"`
		DeletedSessions     int     `json:"deleted_sessions"`
		SkippedSessions     int     `json:"skipped_sessions"`
		DeletedModels       int     `json:"deleted_models"`
		Stats               Stats   `json:"stats"`
	}
)

type ManagerOption func(*Manager)

func WithLimits(l Limits) ManagerOption {
	return func(m *Manager) {
		m.limits = l
	}
}

func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

func WithManagerLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = l
	}
}

// Manager keeps the data directory below its size ceiling by distilling old
// sessions into synthesized samples before they are deleted.
type Manager struct {
	fs       afero.Fs
	layout   Layout
	sessions *SessionRepo
	limits   Limits
	now      func() time.Time
	log      *log.Logger
	mu       sync.Mutex // serializes cleanup runs and synth store updates

	tracer       trace.Tracer
	cleanupRuns  metric.Int64Counter
	freedCounter metric.Int64Counter
}

// NewManager creates the data directories. An error here is fatal.
func NewManager(fs afero.Fs, layout Layout, opts ...ManagerOption) (*Manager, error) {
	ret := &Manager{
		fs:     fs,
		layout: layout,
		limits: DefaultLimits(),
		now:    time.Now,
		log:    log.Default().Named("storage"),
		tracer: otel.Tracer("itt.storage"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if err := layout.EnsureDirs(fs); err != nil {
		return nil, err
	}
	ret.sessions = NewSessionRepo(fs, layout, WithSessionRepoLogger(ret.log))

	meter := otel.Meter("itt.storage")
	ret.cleanupRuns, _ = meter.Int64Counter("itt.storage.cleanup",
		metric.WithDescription("storage cleanup runs"))
	ret.freedCounter, _ = meter.Int64Counter("itt.storage.freed",
		metric.WithDescription("bytes freed by storage cleanup"),
		metric.WithUnit("By"))
	return ret, nil
}

func (m *Manager) Fs() afero.Fs            { return m.fs }
func (m *Manager) Layout() Layout          { return m.layout }
func (m *Manager) Sessions() *SessionRepo  { return m.sessions }
func (m *Manager) Limits() Limits          { return m.limits }
func (m *Manager) Clock() func() time.Time { return m.now }

// Stats sums the sizes of session, model and calibration files.
// Unreadable directories count as empty.
func (m *Manager) Stats() Stats {
	var ret Stats
	sessions, sessionCount := m.dirUsage(m.layout.Sessions(), SessionSuffix)
	models, modelCount := m.dirUsage(m.layout.Models(), ModelSuffix)
	calibrations, _ := m.dirUsage(m.layout.Calibrations(), JSONSuffix)

	ret.TotalBytes = sessions + models + calibrations
	ret.TotalMB = float64(ret.TotalBytes) / mb
	ret.SessionsMB = float64(sessions) / mb
	ret.ModelsMB = float64(models) / mb
	ret.CalibrationsMB = float64(calibrations) / mb
	ret.SessionCount = sessionCount
	ret.ModelCount = modelCount
	if m.limits.MaxTotalBytes > 0 {
		ret.UsagePercent = float64(ret.TotalBytes) / float64(m.limits.MaxTotalBytes) * 100
	}
	ret.NeedsCleanup = ret.TotalBytes > m.limits.WarnBytes
	return ret
}

// CheckAndCleanup runs the retention policy if forced or above the warning
// threshold. Errors on single files are logged and the file is left alone.
func (m *Manager) CheckAndCleanup(ctx context.Context, force bool) CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.Stats()
	if !force && !stats.NeedsCleanup {
		return CleanupResult{Cleaned: false, Reason: "under_threshold", Stats: stats}
	}
	ctx, span := m.tracer.Start(ctx, "check and cleanup")
	defer span.End()

	m.log.Info("Starting cleanup", log.Float64("usageMB", stats.TotalMB), log.Bool("force", force))
	ret := CleanupResult{Cleaned: true, BeforeMB: stats.TotalMB}
	ret.SynthesizedSessions, ret.DeletedSessions, ret.SkippedSessions = m.cleanupSessions(ctx)
	ret.DeletedModels = m.cleanupModels()

	after := m.Stats()
	ret.AfterMB = after.TotalMB
	ret.FreedBytes = stats.TotalBytes - after.TotalBytes
	ret.FreedMB = float64(ret.FreedBytes) / mb
	ret.Stats = after

	attrs := metric.WithAttributes(attribute.Bool("force", force))
	m.cleanupRuns.Add(ctx, 1, attrs)
	if ret.FreedBytes > 0 {
		m.freedCounter.Add(ctx, ret.FreedBytes, attrs)
	}
	span.SetAttributes(
		attribute.Int("deletedSessions", ret.DeletedSessions),
		attribute.Int("deletedModels", ret.DeletedModels),
		attribute.Int64("freedBytes", ret.FreedBytes))
	m.log.Info("Cleanup complete",
		log.Float64("freedMB", ret.FreedMB),
		log.Int("synthesized", ret.SynthesizedSessions),
		log.Int("deletedSessions", ret.DeletedSessions),
		log.Int("deletedModels", ret.DeletedModels))
	return ret
}

// RecentSessions returns up to limit session files, newest first.
func (m *Manager) RecentSessions(car, track string, limit int) []SessionFile {
	ret, err := m.sessions.Recent(car, track, limit)
	if err != nil {
		m.log.Error("could not list sessions", log.ErrorField(err))
		return []SessionFile{}
	}
	return ret
}

// Synthesized returns the current synthesized sample store.
func (m *Manager) Synthesized() SynthStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	store, err := LoadSynthStore(m.fs, m.layout.SynthesizedPath())
	if err != nil {
		m.log.Error("could not read synthesized store", log.ErrorField(err))
		return SynthStore{}
	}
	return store
}

func (m *Manager) cleanupSessions(ctx context.Context) (synthesized, deleted, skipped int) {
	files, err := m.sessions.List()
	if err != nil {
		m.log.Error("could not list sessions", log.ErrorField(err))
		return 0, 0, 0
	}
	now := m.now()
	for combo, group := range GroupByCombo(files) {
		if len(group) <= m.limits.MinSessionsPerCombo {
			continue
		}
		// group is newest first, the head is kept untouched
		for _, f := range group[m.limits.MinSessionsPerCombo:] {
			if now.Sub(f.ModTime) <= m.limits.SessionRetention {
				continue
			}
			if err := m.synthesize(ctx, f, combo); err != nil {
				m.log.Error("Error synthesizing session, keeping it",
					log.String("file", filepath.Base(f.Path)), log.ErrorField(err))
				skipped++
				continue
			}
			synthesized++
			if err := m.fs.Remove(f.Path); err != nil {
				m.log.Error("could not delete session",
					log.String("file", filepath.Base(f.Path)), log.ErrorField(err))
				continue
			}
			deleted++
			m.log.Debug("Deleted old session", log.String("file", filepath.Base(f.Path)))
		}
	}
	return synthesized, deleted, skipped
}

func (m *Manager) synthesize(ctx context.Context, f SessionFile, combo string) error {
	_, span := m.tracer.Start(ctx, "synthesize session")
	defer span.End()
	span.SetAttributes(attribute.String("combo", combo))

	s, err := m.sessions.Load(f.Path)
	if err != nil {
		return err
	}
	path := m.layout.SynthesizedPath()
	store, err := LoadSynthStore(m.fs, path)
	if err != nil {
		return err
	}
	store[combo] = MergeSynthesized(store[combo], Synthesize(s), m.limits.SynthCap, m.now())
	return SaveSynthStore(m.fs, path, store)
}

func (m *Manager) cleanupModels() int {
	entries, err := afero.ReadDir(m.fs, m.layout.Models())
	if err != nil {
		m.log.Error("could not list models", log.ErrorField(err))
		return 0
	}
	now := m.now()
	deleted := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ModelSuffix) {
			continue
		}
		if now.Sub(e.ModTime()) <= m.limits.ModelRetention {
			continue
		}
		if err := m.fs.Remove(filepath.Join(m.layout.Models(), e.Name())); err != nil {
			m.log.Error("could not delete model", log.String("file", e.Name()), log.ErrorField(err))
			continue
		}
		deleted++
		m.log.Debug("Deleted old model", log.String("file", e.Name()))
	}
	return deleted
}

func (m *Manager) dirUsage(dir, suffix string) (size int64, count int) {
	entries, err := afero.ReadDir(m.fs, dir)
	if err != nil {
		return 0, 0
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		size += e.Size()
		count++
	}
	return size, count
}
