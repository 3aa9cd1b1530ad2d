package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coco/internal/logging"
	"github.com/fyrsmithlabs/coco/internal/state"
)

const instrumentationName = "github.com/fyrsmithlabs/coco/internal/checkpoint"

const (
	snapshotPrefix = "snapshot-pre-"
	snapshotSuffix = ".json"

	dirPerm  = 0o755
	filePerm = 0o644
)

var (
	// ErrNoSnapshot indicates no snapshot exists for the requested phase.
	ErrNoSnapshot = errors.New("no snapshot found")
)

// Config configures snapshot retention.
type Config struct {
	// MaxPerPhase is the number of snapshot files kept per phase (default 5).
	MaxPerPhase int `koanf:"max_per_phase"`
}

// DefaultConfig returns the standard retention settings.
func DefaultConfig() *Config {
	return &Config{MaxPerPhase: 5}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.MaxPerPhase <= 0 {
		c.MaxPerPhase = 5
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.MaxPerPhase < 1 {
		return fmt.Errorf("max_per_phase must be positive, got %d", c.MaxPerPhase)
	}
	return nil
}

// Manager writes, lists, and restores pre-phase snapshot files under
// <project>/.coco/checkpoints/.
type Manager struct {
	dir    string
	config *Config
	logger *logging.Logger

	tracer      trace.Tracer
	meter       metric.Meter
	saveCounter metric.Int64Counter
	pruneCount  metric.Int64Counter
}

// NewManager creates a manager rooted at the project directory.
func NewManager(projectPath string, cfg *Config, logger *logging.Logger) (*Manager, error) {
	if projectPath == "" {
		return nil, errors.New("project path is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}

	m := &Manager{
		dir:    filepath.Join(state.CocoDir(projectPath), "checkpoints"),
		config: cfg,
		logger: logger.Named("checkpoint"),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	m.initMetrics()
	return m, nil
}

func (m *Manager) initMetrics() {
	var err error

	m.saveCounter, err = m.meter.Int64Counter(
		"coco.checkpoint.saves_total",
		metric.WithDescription("Total number of pre-phase snapshots saved"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create save counter", zap.Error(err))
	}

	m.pruneCount, err = m.meter.Int64Counter(
		"coco.checkpoint.pruned_total",
		metric.WithDescription("Total number of snapshot files pruned by retention"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		m.logger.Warn(context.Background(), "failed to create prune counter", zap.Error(err))
	}
}

// Dir returns the checkpoint directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Save persists a snapshot to a phase-and-timestamp scoped file and prunes
// that phase's older files beyond the retention limit. Prune failures are
// logged and swallowed; they never fail the save.
func (m *Manager) Save(ctx context.Context, snap *Snapshot) (string, error) {
	ctx, span := m.tracer.Start(ctx, "checkpoint.save")
	defer span.End()

	if snap == nil || snap.State == nil {
		return "", errors.New("snapshot state is nil")
	}
	if !snap.Phase.Valid() {
		return "", fmt.Errorf("invalid snapshot phase %q", snap.Phase)
	}
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}

	span.SetAttributes(
		attribute.String("phase", snap.Phase.String()),
		attribute.Int64("taken_at_ms", snap.TakenAt.UnixMilli()),
	)

	if err := os.MkdirAll(m.dir, dirPerm); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("creating checkpoint directory %s: %w", m.dir, err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}

	// Bump the embedded millis on name collision so two snapshots taken
	// within the same millisecond both survive, in order.
	millis := snap.TakenAt.UnixMilli()
	path := m.fileName(snap.Phase, millis)
	for i := 0; i < 1000; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		millis++
		path = m.fileName(snap.Phase, millis)
	}

	if err := os.WriteFile(path, data, filePerm); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("writing snapshot %s: %w", path, err)
	}

	if m.saveCounter != nil {
		m.saveCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("phase", snap.Phase.String()),
		))
	}

	m.logger.Debug(ctx, "saved pre-phase snapshot",
		zap.String("phase", snap.Phase.String()),
		zap.String("path", path),
	)

	m.prune(ctx, snap.Phase)
	return path, nil
}

// List returns the snapshot entries for one phase (or all phases when phase
// is empty), newest first by embedded timestamp.
func (m *Manager) List(ctx context.Context, phase state.Phase) ([]Entry, error) {
	_, span := m.tracer.Start(ctx, "checkpoint.list")
	defer span.End()

	entries, err := m.scan()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if phase != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Phase == phase {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TakenAt.After(entries[j].TakenAt)
	})

	span.SetAttributes(attribute.Int("result_count", len(entries)))
	return entries, nil
}

// Latest returns the newest snapshot entry for a phase.
func (m *Manager) Latest(ctx context.Context, phase state.Phase) (*Entry, error) {
	entries, err := m.List(ctx, phase)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: phase %s", ErrNoSnapshot, phase)
	}
	return &entries[0], nil
}

// Restore reads a snapshot file back into memory.
func (m *Manager) Restore(ctx context.Context, path string) (*Snapshot, error) {
	_, span := m.tracer.Start(ctx, "checkpoint.restore")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoSnapshot, path)
		}
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// prune removes the oldest snapshot files of a phase beyond the retention
// limit. Best-effort: errors are logged, never returned.
func (m *Manager) prune(ctx context.Context, phase state.Phase) {
	entries, err := m.List(ctx, phase)
	if err != nil {
		m.logger.Warn(ctx, "snapshot prune scan failed",
			zap.String("phase", phase.String()),
			zap.Error(err),
		)
		return
	}

	if len(entries) <= m.config.MaxPerPhase {
		return
	}

	for _, e := range entries[m.config.MaxPerPhase:] {
		if err := os.Remove(e.Path); err != nil {
			m.logger.Warn(ctx, "snapshot prune failed",
				zap.String("path", e.Path),
				zap.Error(err),
			)
			continue
		}
		if m.pruneCount != nil {
			m.pruneCount.Add(ctx, 1, metric.WithAttributes(
				attribute.String("phase", phase.String()),
			))
		}
		m.logger.Debug(ctx, "pruned snapshot", zap.String("path", e.Path))
	}
}

func (m *Manager) fileName(phase state.Phase, millis int64) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s%s-%d%s", snapshotPrefix, phase, millis, snapshotSuffix))
}

// scan reads the checkpoint directory and parses well-formed snapshot file
// names. Unrelated files are ignored.
func (m *Manager) scan() ([]Entry, error) {
	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoint directory %s: %w", m.dir, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		phase, takenAt, ok := parseFileName(de.Name())
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Path:    filepath.Join(m.dir, de.Name()),
			Phase:   phase,
			TakenAt: takenAt,
		})
	}
	return entries, nil
}

// parseFileName extracts phase and timestamp from
// snapshot-pre-<phase>-<epochMillis>.json.
func parseFileName(name string) (state.Phase, time.Time, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return "", time.Time{}, false
	}
	core := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)

	idx := strings.LastIndex(core, "-")
	if idx <= 0 || idx == len(core)-1 {
		return "", time.Time{}, false
	}

	phase, err := state.ParsePhase(core[:idx])
	if err != nil {
		return "", time.Time{}, false
	}
	millis, err := strconv.ParseInt(core[idx+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return phase, time.UnixMilli(millis).UTC(), true
}
