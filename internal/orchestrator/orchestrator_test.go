package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/studycast/internal/chunker"
	"github.com/loqalabs/studycast/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeSynth struct {
	dir      string
	delay    func(index int) time.Duration
	fail     map[int]bool
	inFlight atomic.Int32
	peak     atomic.Int32

	mu    sync.Mutex
	order []int
}

func (f *fakeSynth) Synthesize(ctx context.Context, index int, text, voice string) (tts.AudioSegment, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay != nil {
		select {
		case <-time.After(f.delay(index)):
		case <-ctx.Done():
			return tts.AudioSegment{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.order = append(f.order, index)
	f.mu.Unlock()
	if f.fail[index] {
		return tts.AudioSegment{}, &tts.SynthesisError{Index: index, Err: errors.New("boom")}
	}
	path := filepath.Join(f.dir, fmt.Sprintf("seg-%d.wav", index))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return tts.AudioSegment{}, err
	}
	return tts.AudioSegment{Index: index, Path: path, Format: tts.FormatWAV}, nil
}

func chunksOf(texts ...string) []chunker.Chunk {
	out := make([]chunker.Chunk, len(texts))
	for i, t := range texts {
		out[i] = chunker.Chunk{Index: i, Text: t}
	}
	return out
}

func TestSynthesizeAllPreservesOrder(t *testing.T) {
	const n = 6
	synth := &fakeSynth{
		dir: t.TempDir(),
		// later chunks finish first
		delay: func(index int) time.Duration { return time.Duration(n-index) * 15 * time.Millisecond },
	}
	o := New(synth, Options{Concurrency: n}, newLogger())

	segs, err := o.SynthesizeAll(context.Background(), chunksOf("a.", "b.", "c.", "d.", "e.", "f."), "")
	if err != nil {
		t.Fatalf("synthesize all: %v", err)
	}
	if len(segs) != n {
		t.Fatalf("expected %d segments, got %d", n, len(segs))
	}
	for i, seg := range segs {
		if seg.Index != i {
			t.Fatalf("slot %d holds segment %d", i, seg.Index)
		}
		data, err := os.ReadFile(seg.Path)
		if err != nil {
			t.Fatal(err)
		}
		if want := string(rune('a'+i)) + "."; string(data) != want {
			t.Fatalf("slot %d holds %q, want %q", i, data, want)
		}
	}
	if synth.order[0] == 0 {
		t.Fatalf("expected completion order to differ from chunk order, got %v", synth.order)
	}
}

func TestSynthesizeAllPartialFailure(t *testing.T) {
	dir := t.TempDir()
	synth := &fakeSynth{dir: dir, fail: map[int]bool{2: true}}
	o := New(synth, Options{Concurrency: 3}, newLogger())

	segs, err := o.SynthesizeAll(context.Background(), chunksOf("a.", "b.", "c."), "")
	if segs != nil {
		t.Fatalf("expected no segments, got %v", segs)
	}
	var partial *PartialFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialFailure, got %v", err)
	}
	if len(partial.Missing) != 1 || partial.Missing[0] != 2 {
		t.Fatalf("expected missing [2], got %v", partial.Missing)
	}
	var synthErr *tts.SynthesisError
	if !errors.As(err, &synthErr) || synthErr.Index != 2 {
		t.Fatalf("expected cause for chunk 2, got %v", err)
	}
	if len(synth.order) != 3 {
		t.Fatalf("expected all chunks dispatched, got %v", synth.order)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected successful segments removed, found %d files", len(entries))
	}
}

func TestSynthesizeAllRespectsConcurrency(t *testing.T) {
	synth := &fakeSynth{
		dir:   t.TempDir(),
		delay: func(int) time.Duration { return 10 * time.Millisecond },
	}
	o := New(synth, Options{Concurrency: 2}, newLogger())
	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("sentence %d.", i)
	}
	if _, err := o.SynthesizeAll(context.Background(), chunksOf(texts...), ""); err != nil {
		t.Fatalf("synthesize all: %v", err)
	}
	if peak := synth.peak.Load(); peak > 2 {
		t.Fatalf("expected at most 2 concurrent calls, saw %d", peak)
	}
}

func TestSynthesizeAllEmpty(t *testing.T) {
	o := New(&fakeSynth{dir: t.TempDir()}, Options{Concurrency: 4}, newLogger())
	segs, err := o.SynthesizeAll(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 0 {
		t.Fatalf("expected no segments, got %d", len(segs))
	}
}

func TestSynthesizeAllCancelled(t *testing.T) {
	dir := t.TempDir()
	synth := &fakeSynth{
		dir:   dir,
		delay: func(int) time.Duration { return time.Second },
	}
	o := New(synth, Options{Concurrency: 2}, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := o.SynthesizeAll(ctx, chunksOf("a.", "b.", "c.", "d."), "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("cancellation did not stop in-flight calls")
	}
}

func TestSynthesizeAllChunkTimeout(t *testing.T) {
	synth := &fakeSynth{
		dir:   t.TempDir(),
		delay: func(index int) time.Duration { return time.Duration(index) * 200 * time.Millisecond },
	}
	o := New(synth, Options{Concurrency: 2, ChunkTimeout: 100 * time.Millisecond}, newLogger())
	_, err := o.SynthesizeAll(context.Background(), chunksOf("a.", "b."), "")
	var partial *PartialFailure
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialFailure, got %v", err)
	}
	if len(partial.Missing) != 1 || partial.Missing[0] != 1 {
		t.Fatalf("expected chunk 1 to time out, got %v", partial.Missing)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
}
