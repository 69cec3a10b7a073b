package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/studycast/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.StartRun(ctx, "run", "doc"); err != nil {
		t.Fatalf("ephemeral start run: %v", err)
	}
	runs, err := es.ListRuns(ctx, "doc", 10)
	if err != nil || len(runs) != 0 {
		t.Fatalf("expected nothing recorded, got %v %v", runs, err)
	}
}

func TestRunTimeline(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	ctx := context.Background()

	if err := es.StartRun(ctx, "run-1", "doc-1"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	for _, stage := range []string{"script", "chunks", "synthesis", "assembly"} {
		if err := es.AppendEvent(ctx, Event{RunID: "run-1", Stage: stage, Payload: []byte(stage)}); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}
	if err := es.FinishRun(ctx, "run-1", StatusFailed, "synthesized 2 of 3 chunks"); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	events, err := es.ListRunEvents(ctx, "run-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 4 || events[0].Stage != "script" || events[3].Stage != "assembly" {
		t.Fatalf("unexpected events %+v", events)
	}
	if string(events[1].Payload) != "chunks" {
		t.Fatalf("unexpected payload: %s", events[1].Payload)
	}

	runs, err := es.ListRuns(ctx, "doc-1", 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != StatusFailed || runs[0].Error == "" || runs[0].FinishedAt.IsZero() {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestPruneByDaysAndRuns(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.StartRun(ctx, "old-run", "doc"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RunID: "old-run", Stage: "script"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.StartRun(ctx, "new-run", "doc"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListRunEvents(ctx, "old-run", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old run pruned")
	}
	runs, _ := es.ListRuns(ctx, "doc", 10)
	if len(runs) != 1 || runs[0].ID != "new-run" {
		t.Fatalf("expected only new run, got %+v", runs)
	}
}
