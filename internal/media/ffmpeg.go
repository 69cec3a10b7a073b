package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/studycast/internal/tts"
)

// FFprobe reads container duration with the ffprobe binary.
type FFprobe struct {
	Path string
}

func (p FFprobe) Probe(ctx context.Context, path string) (ProbeResult, error) {
	bin := p.Path
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "format=duration:stream=codec_type",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe failed: %w; out=%s", err, strings.TrimSpace(stderr.String()))
	}
	var (
		hasAudio bool
		duration time.Duration
	)
	for _, line := range strings.Fields(stdout.String()) {
		if line == "audio" {
			hasAudio = true
			continue
		}
		if secs, err := strconv.ParseFloat(line, 64); err == nil {
			duration = time.Duration(secs * float64(time.Second))
		}
	}
	if !hasAudio {
		return ProbeResult{}, errors.New("no audio stream")
	}
	return ProbeResult{Duration: duration, Playable: duration > 0}, nil
}

// FFmpegAssembler concatenates encoded segments with the ffmpeg concat demuxer.
type FFmpegAssembler struct {
	ffmpegPath    string
	prober        Prober
	verifyTimeout time.Duration
	logger        *slog.Logger
}

func NewFFmpegAssembler(ffmpegPath, ffprobePath string, verifyTimeout time.Duration, logger *slog.Logger) *FFmpegAssembler {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegAssembler{
		ffmpegPath:    ffmpegPath,
		prober:        FFprobe{Path: ffprobePath},
		verifyTimeout: verifyTimeout,
		logger:        logger.With(slog.String("component", "ffmpeg-assembler")),
	}
}

// AssertReady checks that the ffmpeg binary can be found.
func (a *FFmpegAssembler) AssertReady() error {
	if _, err := exec.LookPath(a.ffmpegPath); err != nil {
		return fmt.Errorf("missing required binary %q in PATH: %w", a.ffmpegPath, err)
	}
	return nil
}

func (a *FFmpegAssembler) Assemble(ctx context.Context, segments []tts.AudioSegment, out string) (AssembledTrack, error) {
	if len(segments) == 0 {
		return AssembledTrack{}, &AssemblyError{Stage: "compose", Index: -1, Err: ErrNoSegments}
	}

	offsets := make([]time.Duration, len(segments))
	var elapsed time.Duration
	for i, seg := range segments {
		res, err := a.prober.Probe(ctx, seg.Path)
		if err != nil {
			return AssembledTrack{}, &AssemblyError{Stage: "read", Index: i, Err: err}
		}
		if res.Duration <= 0 {
			return AssembledTrack{}, &AssemblyError{Stage: "read", Index: i, Err: errors.New("segment has no audio")}
		}
		offsets[i] = elapsed
		elapsed += res.Duration
	}

	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return AssembledTrack{}, &AssemblyError{Stage: "export", Index: -1, Err: err}
		}
	}
	listPath := filepath.Join(filepath.Dir(out), "concat-"+uuid.NewString()+".txt")
	if err := writeConcatList(listPath, segments); err != nil {
		return AssembledTrack{}, &AssemblyError{Stage: "export", Index: -1, Err: err}
	}
	defer os.Remove(listPath)

	cmd := exec.CommandContext(ctx, a.ffmpegPath, "-y", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", out)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(out)
		return AssembledTrack{}, &AssemblyError{Stage: "export", Index: -1,
			Err: fmt.Errorf("ffmpeg concat failed: %w; out=%s", err, strings.TrimSpace(string(output)))}
	}

	probe, err := Verify(ctx, a.prober, out, a.verifyTimeout)
	if err != nil {
		os.Remove(out)
		return AssembledTrack{}, &AssemblyError{Stage: "verify", Index: -1, Err: err}
	}

	if err := tts.RemoveSegments(segments); err != nil {
		a.logger.Warn("failed to remove consumed segments", slog.String("error", err.Error()))
	}
	a.logger.Info("track assembled",
		slog.String("path", out),
		slog.Int("segments", len(segments)),
		slog.Duration("duration", probe.Duration))
	return AssembledTrack{
		Path:     out,
		Format:   strings.TrimPrefix(filepath.Ext(out), "."),
		Duration: probe.Duration,
		Playable: probe.Playable,
		Offsets:  offsets,
	}, nil
}

func writeConcatList(path string, segments []tts.AudioSegment) error {
	var b strings.Builder
	for _, seg := range segments {
		abs, err := filepath.Abs(seg.Path)
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
