package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/studycast/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func makeSegments(t *testing.T, sampleRate int, texts ...string) []tts.AudioSegment {
	t.Helper()
	s := tts.NewSpeechSynthesizer(tts.NewMockSynth(sampleRate, 1), t.TempDir(), "", newLogger())
	segs := make([]tts.AudioSegment, len(texts))
	for i, text := range texts {
		seg, err := s.Synthesize(context.Background(), i, text, "")
		if err != nil {
			t.Fatalf("synthesize segment %d: %v", i, err)
		}
		segs[i] = seg
	}
	return segs
}

func TestWAVAssemblerConcatenatesInOrder(t *testing.T) {
	// 20ms per byte: 100ms, 200ms, 300ms
	segs := makeSegments(t, 8000, "abcde", "abcdefghij", "abcdefghijklmno")
	out := filepath.Join(t.TempDir(), "track.wav")

	track, err := NewWAVAssembler(time.Second, newLogger()).Assemble(context.Background(), segs, out)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if !track.Playable {
		t.Fatal("expected playable track")
	}
	if track.Duration < 590*time.Millisecond || track.Duration > 610*time.Millisecond {
		t.Fatalf("expected about 600ms, got %v", track.Duration)
	}
	want := []time.Duration{0, 100 * time.Millisecond, 300 * time.Millisecond}
	for i, off := range track.Offsets {
		if off != want[i] {
			t.Fatalf("offset %d: expected %v, got %v", i, want[i], off)
		}
	}
	for _, seg := range segs {
		if _, err := os.Stat(seg.Path); !os.IsNotExist(err) {
			t.Fatalf("expected segment %s removed", seg.Path)
		}
	}
	res, err := WAVProber{}.Probe(context.Background(), out)
	if err != nil || res.Duration <= 0 {
		t.Fatalf("probe mismatch: %+v %v", res, err)
	}
}

func TestWAVAssemblerNoSegments(t *testing.T) {
	_, err := NewWAVAssembler(time.Second, newLogger()).Assemble(context.Background(), nil, filepath.Join(t.TempDir(), "x.wav"))
	var asmErr *AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("expected AssemblyError, got %v", err)
	}
	if !errors.Is(err, ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
}

func TestWAVAssemblerUnreadableSegmentFails(t *testing.T) {
	segs := makeSegments(t, 8000, "one.", "two.", "three.")
	if err := os.WriteFile(segs[1].Path, []byte("not audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "track.wav")
	_, err := NewWAVAssembler(time.Second, newLogger()).Assemble(context.Background(), segs, out)
	var asmErr *AssemblyError
	if !errors.As(err, &asmErr) {
		t.Fatalf("expected AssemblyError, got %v", err)
	}
	if asmErr.Index != 1 {
		t.Fatalf("expected failure on segment 1, got %d", asmErr.Index)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatal("expected no output track")
	}
	if _, err := os.Stat(segs[0].Path); err != nil {
		t.Fatal("segments must survive a failed assembly")
	}
}

func TestWAVAssemblerRejectsMixedFormats(t *testing.T) {
	segs := append(makeSegments(t, 8000, "one."), makeSegments(t, 16000, "two.")...)
	_, err := NewWAVAssembler(time.Second, newLogger()).Assemble(context.Background(), segs, filepath.Join(t.TempDir(), "t.wav"))
	var asmErr *AssemblyError
	if !errors.As(err, &asmErr) || asmErr.Index != 1 {
		t.Fatalf("expected format error on segment 1, got %v", err)
	}
}

type stubProber struct {
	calls   int
	readyAt int
}

func (p *stubProber) Probe(context.Context, string) (ProbeResult, error) {
	p.calls++
	if p.calls < p.readyAt {
		return ProbeResult{}, nil
	}
	return ProbeResult{Duration: time.Second, Playable: true}, nil
}

func TestVerifyWaitsForMetadata(t *testing.T) {
	p := &stubProber{readyAt: 3}
	res, err := Verify(context.Background(), p, "x", time.Second)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Duration != time.Second || p.calls != 3 {
		t.Fatalf("unexpected result %+v after %d calls", res, p.calls)
	}
}

func TestVerifyTimesOut(t *testing.T) {
	p := &stubProber{readyAt: 1 << 30}
	if _, err := Verify(context.Background(), p, "x", 120*time.Millisecond); err == nil {
		t.Fatal("expected verification timeout")
	}
}

func TestFFmpegAssembler(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not available")
	}
	segs := makeSegments(t, 8000, "abcde", "abcdefghij")
	out := filepath.Join(t.TempDir(), "track.wav")
	track, err := NewFFmpegAssembler("ffmpeg", "ffprobe", 2*time.Second, newLogger()).Assemble(context.Background(), segs, out)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if track.Duration < 250*time.Millisecond || track.Duration > 350*time.Millisecond {
		t.Fatalf("unexpected duration %v", track.Duration)
	}
	if len(track.Offsets) != 2 || track.Offsets[1] <= 0 {
		t.Fatalf("unexpected offsets %v", track.Offsets)
	}
}
