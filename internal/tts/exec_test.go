package tts

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func newExecSpeech(t *testing.T, command string) *SpeechSynthesizer {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	backend, err := NewExecSynth(command, 8000, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	return NewSpeechSynthesizer(backend, t.TempDir(), "en-US-Studio-O", newLogger())
}

func TestExecSynthWritesSegment(t *testing.T) {
	s := newExecSpeech(t, `sh -c 'cat >/dev/null; echo "{\"pcm_base64\":\"AAABAAIA\"}"; echo "{\"pcm_base64\":\"AwA=\",\"final\":true}"'`)
	seg, err := s.Synthesize(context.Background(), 2, "Cells divide.", "")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if seg.Index != 2 || seg.Format != FormatWAV || seg.SampleRate != 8000 || seg.Bytes <= 44 {
		t.Fatalf("unexpected segment %+v", seg)
	}
}

func TestExecSynthFailures(t *testing.T) {
	cases := map[string]struct {
		command string
		check   func(error) bool
	}{
		"error frame": {
			`sh -c 'cat >/dev/null; echo "{\"error\":\"voice not found\"}"'`,
			func(err error) bool { return strings.Contains(err.Error(), "voice not found") },
		},
		"exit status": {
			`sh -c 'cat >/dev/null; echo quota exhausted >&2; exit 3'`,
			func(err error) bool { return strings.Contains(err.Error(), "quota exhausted") },
		},
		"no audio": {
			`sh -c 'cat >/dev/null'`,
			func(err error) bool { return errors.Is(err, ErrEmptyAudio) },
		},
		"bad frame": {
			`sh -c 'cat >/dev/null; echo not-json'`,
			func(err error) bool { return strings.Contains(err.Error(), "decode tts frame") },
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s := newExecSpeech(t, tc.command)
			_, err := s.Synthesize(context.Background(), 0, "Text.", "")
			var synthErr *SynthesisError
			if !errors.As(err, &synthErr) {
				t.Fatalf("expected SynthesisError, got %v", err)
			}
			if !tc.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}

func TestNewExecSynthRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecSynth("   ", 8000, 1); err == nil {
		t.Fatal("expected error for empty command")
	}
}
