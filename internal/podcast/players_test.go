package podcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loqalabs/studycast/internal/playback"
)

func TestPlayersLoadAndReload(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.createDoc(t)
	ctx := context.Background()
	players := NewPlayers(f.docs, f.store, playback.Options{Interval: 10 * time.Millisecond}, newLogger())
	t.Cleanup(players.Close)

	if _, err := players.Open(ctx, doc.ID); !errors.Is(err, ErrNoPodcast) {
		t.Fatalf("expected ErrNoPodcast, got %v", err)
	}

	if _, err := f.pipeline.Run(ctx, Request{DocumentID: doc.ID}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	ctrl, err := players.Open(ctx, doc.ID)
	if err != nil {
		t.Fatalf("open player: %v", err)
	}
	snap := ctrl.Snapshot()
	if snap.State != playback.Ready || snap.Duration <= 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	first := snap.Generation
	if err := ctrl.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}

	again, err := players.Open(ctx, doc.ID)
	if err != nil || again != ctrl {
		t.Fatalf("expected same controller, got %v", err)
	}
	if again.Snapshot().State != playback.Playing {
		t.Fatal("reopening the same track must not reload it")
	}

	if _, err := f.pipeline.Run(ctx, Request{DocumentID: doc.ID}, nil); err != nil {
		t.Fatalf("second run: %v", err)
	}
	reloaded, err := players.Open(ctx, doc.ID)
	if err != nil {
		t.Fatalf("reopen after regeneration: %v", err)
	}
	snap = reloaded.Snapshot()
	if snap.State != playback.Ready || snap.Generation == first {
		t.Fatalf("expected fresh session for new track, got %+v", snap)
	}

	players.Release(doc.ID)
	if _, ok := players.Get(doc.ID); ok {
		t.Fatal("expected session released")
	}
}

func TestRegenerationReleasesPlayingSession(t *testing.T) {
	f := newFixture(t, nil)
	doc := f.createDoc(t)
	ctx := context.Background()
	players := NewPlayers(f.docs, f.store, playback.Options{Interval: 5 * time.Millisecond}, newLogger())
	t.Cleanup(players.Close)
	f.pipeline.OnTrackChange(players.Release)

	first, err := f.pipeline.Run(ctx, Request{DocumentID: doc.ID}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	ctrl, err := players.Open(ctx, doc.ID)
	if err != nil {
		t.Fatalf("open player: %v", err)
	}
	updates, cancel := ctrl.Subscribe(64)
	defer cancel()
	if err := ctrl.Play(); err != nil {
		t.Fatalf("play: %v", err)
	}

	if _, err := f.pipeline.Run(ctx, Request{DocumentID: doc.ID}, nil); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if _, ok := players.Get(doc.ID); ok {
		t.Fatal("expected session for the replaced track to be released")
	}
	if state := ctrl.Snapshot().State; state == playback.Playing {
		t.Fatalf("replaced session still %s", state)
	}
	if _, _, err := f.store.Open(ctx, first.TrackURI); err == nil {
		t.Fatal("expected replaced track to be deleted")
	}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("progress channel still open after the track was replaced")
		}
	}
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrBusy, "A podcast is already being generated for this document."},
		{context.DeadlineExceeded, "Podcast generation took too long and was stopped."},
		{errors.New("boom"), "Something went wrong while generating the podcast. Please try again."},
	}
	for _, tc := range cases {
		if got := UserMessage(tc.err); got != tc.want {
			t.Fatalf("UserMessage(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if UserMessage(nil) != "" {
		t.Fatal("expected empty message for nil")
	}
}
