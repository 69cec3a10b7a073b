package runtime

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/studycast/internal/eventstore"
	"github.com/loqalabs/studycast/internal/tts"
	"github.com/robfig/cron/v3"
)

// orphanAge is how old a leftover segment must be before the sweep removes it.
const orphanAge = time.Hour

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Warn(msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}

func newScheduler(ctx context.Context, pruneSchedule, sweepSchedule, tempDir string, events *eventstore.Store, logger *slog.Logger) (*cron.Cron, error) {
	logger = logger.With(slog.String("component", "maintenance"))
	c := cron.New(cron.WithSeconds(), cron.WithLogger(cronLogger{log: logger}))

	if pruneSchedule != "" {
		if _, err := c.AddFunc(pruneSchedule, func() {
			if err := events.Prune(ctx); err != nil {
				logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}); err != nil {
			return nil, err
		}
	}
	if sweepSchedule != "" {
		if _, err := c.AddFunc(sweepSchedule, func() {
			removed, err := sweepSegments(tempDir, orphanAge, time.Now())
			if err != nil {
				logger.Warn("segment sweep failed", slog.String("error", err.Error()))
			}
			if removed > 0 {
				logger.Info("removed orphaned segments", slog.Int("count", removed))
			}
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// sweepSegments deletes segment and track files in dir last modified before
// now-age. These are left behind only when the process dies mid-run.
func sweepSegments(dir string, age time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	cutoff := now.Add(-age)
	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasPrefix(name, tts.SegmentPrefix) || strings.HasPrefix(name, "track-") || strings.HasPrefix(name, "concat-")) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
