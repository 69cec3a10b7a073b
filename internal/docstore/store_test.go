package docstore

import (
	"context"
	"errors"
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

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), config.DocumentsConfig{Path: filepath.Join(t.TempDir(), "docs.db")}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateGetList(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	now := base
	s.clock = func() time.Time { return now }

	first, err := s.Create(ctx, "Biology.pdf", "Cells are small.")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	now = base.Add(time.Minute)
	second, err := s.Create(ctx, "Physics.pdf", "Energy is conserved.")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Biology.pdf" || got.ExtractedText != "Cells are small." || !got.CreatedAt.Equal(base) {
		t.Fatalf("unexpected document %+v", got)
	}
	if got.HasPodcast() {
		t.Fatal("new document must not have a podcast")
	}

	docs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", docs)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Create(ctx, "  ", "x"); err == nil {
		t.Fatal("expected empty name to be rejected")
	}
}

func TestAttachReplacesAndClearRemoves(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	doc, err := s.Create(ctx, "Notes.pdf", "text")
	if err != nil {
		t.Fatal(err)
	}
	generated := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

	old, err := s.AttachPodcast(ctx, doc.ID, Podcast{Script: "One.", GeneratedAt: generated, TrackURI: "file:///a.wav", Duration: 1500 * time.Millisecond})
	if err != nil || old != "" {
		t.Fatalf("first attach: old=%q err=%v", old, err)
	}
	old, err = s.AttachPodcast(ctx, doc.ID, Podcast{Script: "Two.", GeneratedAt: generated, TrackURI: "file:///b.wav", Duration: 2 * time.Second})
	if err != nil || old != "file:///a.wav" {
		t.Fatalf("second attach: old=%q err=%v", old, err)
	}
	got, _ := s.Get(ctx, doc.ID)
	if got.Script != "Two." || got.TrackURI != "file:///b.wav" || got.TrackDuration != 2*time.Second || !got.ScriptGeneratedAt.Equal(generated) {
		t.Fatalf("unexpected podcast fields %+v", got)
	}

	old, err = s.ClearPodcast(ctx, doc.ID)
	if err != nil || old != "file:///b.wav" {
		t.Fatalf("clear: old=%q err=%v", old, err)
	}
	got, _ = s.Get(ctx, doc.ID)
	if got.Script != "" || got.TrackURI != "" || !got.ScriptGeneratedAt.IsZero() {
		t.Fatalf("expected cleared podcast, got %+v", got)
	}

	if _, err := s.ClearPodcast(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteReturnsTrack(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	doc, _ := s.Create(ctx, "Notes.pdf", "text")
	_, _ = s.AttachPodcast(ctx, doc.ID, Podcast{Script: "x.", TrackURI: "file:///x.wav"})

	uri, err := s.Delete(ctx, doc.ID)
	if err != nil || uri != "file:///x.wav" {
		t.Fatalf("delete: uri=%q err=%v", uri, err)
	}
	if _, err := s.Get(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted document gone, got %v", err)
	}
	if _, err := s.Delete(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
