package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/studycast/internal/tts"
)

type WAVProber struct{}

func (WAVProber) Probe(_ context.Context, path string) (ProbeResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ProbeResult{}, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return ProbeResult{}, errors.New("not a valid wav file")
	}
	if err := dec.FwdToPCM(); err != nil {
		return ProbeResult{}, fmt.Errorf("locate pcm chunk: %w", err)
	}
	bytesPerSec := int64(dec.SampleRate) * int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if bytesPerSec <= 0 {
		return ProbeResult{}, errors.New("wav header has no sample format")
	}
	d := time.Duration(dec.PCMLen()) * time.Second / time.Duration(bytesPerSec)
	return ProbeResult{Duration: d, Playable: d > 0}, nil
}

// WAVAssembler concatenates PCM wav segments sharing one sample format.
type WAVAssembler struct {
	prober        Prober
	verifyTimeout time.Duration
	logger        *slog.Logger
}

func NewWAVAssembler(verifyTimeout time.Duration, logger *slog.Logger) *WAVAssembler {
	return &WAVAssembler{
		prober:        WAVProber{},
		verifyTimeout: verifyTimeout,
		logger:        logger.With(slog.String("component", "wav-assembler")),
	}
}

type wavFormat struct {
	sampleRate int
	channels   int
	bitDepth   int
}

func (a *WAVAssembler) Assemble(ctx context.Context, segments []tts.AudioSegment, out string) (AssembledTrack, error) {
	if len(segments) == 0 {
		return AssembledTrack{}, &AssemblyError{Stage: "compose", Index: -1, Err: ErrNoSegments}
	}

	buffers := make([]*audio.IntBuffer, len(segments))
	offsets := make([]time.Duration, len(segments))
	var (
		format  wavFormat
		elapsed time.Duration
	)
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return AssembledTrack{}, err
		}
		buf, segFormat, err := readWAV(seg.Path)
		if err != nil {
			return AssembledTrack{}, &AssemblyError{Stage: "read", Index: i, Err: err}
		}
		if i == 0 {
			format = segFormat
		} else if segFormat != format {
			return AssembledTrack{}, &AssemblyError{Stage: "read", Index: i,
				Err: fmt.Errorf("format %+v differs from first segment %+v", segFormat, format)}
		}
		buffers[i] = buf
		offsets[i] = elapsed
		frames := len(buf.Data) / format.channels
		elapsed += time.Duration(frames) * time.Second / time.Duration(format.sampleRate)
	}

	if err := writeWAV(out, format, buffers); err != nil {
		os.Remove(out)
		return AssembledTrack{}, &AssemblyError{Stage: "export", Index: -1, Err: err}
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
		Format:   tts.FormatWAV,
		Duration: probe.Duration,
		Playable: probe.Playable,
		Offsets:  offsets,
	}, nil
}

func readWAV(path string) (*audio.IntBuffer, wavFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wavFormat{}, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, wavFormat{}, errors.New("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, wavFormat{}, fmt.Errorf("decode pcm: %w", err)
	}
	if len(buf.Data) == 0 {
		return nil, wavFormat{}, errors.New("segment has no audio")
	}
	format := wavFormat{sampleRate: int(dec.SampleRate), channels: int(dec.NumChans), bitDepth: int(dec.BitDepth)}
	if format.sampleRate <= 0 || format.channels <= 0 {
		return nil, wavFormat{}, errors.New("segment has no sample format")
	}
	return buf, format, nil
}

func writeWAV(path string, format wavFormat, buffers []*audio.IntBuffer) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	enc := wav.NewEncoder(f, format.sampleRate, format.bitDepth, format.channels, 1)
	for _, buf := range buffers {
		if err := enc.Write(buf); err != nil {
			f.Close()
			return fmt.Errorf("write wav: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return f.Close()
}
