package tts

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// SegmentPrefix names every temporary segment file so maintenance can find orphans.
const SegmentPrefix = "segment-"

// SpeechSynthesizer turns one chunk of text into a uniquely named audio file.
// It holds no per-call state and is safe for concurrent use.
type SpeechSynthesizer struct {
	backend Synthesizer
	dir     string
	voice   string
	logger  *slog.Logger
}

func NewSpeechSynthesizer(backend Synthesizer, dir, defaultVoice string, logger *slog.Logger) *SpeechSynthesizer {
	return &SpeechSynthesizer{
		backend: backend,
		dir:     dir,
		voice:   defaultVoice,
		logger:  logger.With(slog.String("component", "speech-synthesizer")),
	}
}

// Synthesize calls the backend for text and writes the result under the temp dir.
// Failures are returned as *SynthesisError carrying index.
func (s *SpeechSynthesizer) Synthesize(ctx context.Context, index int, text, voice string) (AudioSegment, error) {
	if voice == "" {
		voice = s.voice
	}
	collected, err := s.collect(ctx, SynthRequest{Text: text, Voice: voice})
	if err != nil {
		return AudioSegment{}, &SynthesisError{Index: index, Err: err}
	}
	seg, err := s.write(index, collected)
	if err != nil {
		return AudioSegment{}, &SynthesisError{Index: index, Err: err}
	}
	s.logger.Debug("segment synthesized",
		slog.Int("index", index),
		slog.String("path", seg.Path),
		slog.Int64("bytes", seg.Bytes))
	return seg, nil
}

func (s *SpeechSynthesizer) collect(ctx context.Context, req SynthRequest) (SynthChunk, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	chunks, errs := s.backend.Synthesize(ctx, req)
	var out SynthChunk
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				break
			}
			if out.Format == "" {
				out = SynthChunk{Format: chunk.Format, SampleRate: chunk.SampleRate, Channels: chunk.Channels}
			} else if chunk.Format != out.Format {
				return SynthChunk{}, fmt.Errorf("mixed audio formats %s and %s", out.Format, chunk.Format)
			}
			out.Audio = append(out.Audio, chunk.Audio...)
		case err, ok := <-errs:
			if ok && err != nil {
				return SynthChunk{}, err
			}
			errs = nil
		case <-ctx.Done():
			return SynthChunk{}, ctx.Err()
		}
		if chunks == nil && errs == nil {
			break
		}
	}
	if len(out.Audio) == 0 {
		return SynthChunk{}, ErrEmptyAudio
	}
	return out, nil
}

func (s *SpeechSynthesizer) write(index int, chunk SynthChunk) (AudioSegment, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return AudioSegment{}, fmt.Errorf("create temp dir: %w", err)
	}
	ext := chunk.Format
	if ext == FormatPCM {
		ext = FormatWAV
	}
	path := filepath.Join(s.dir, SegmentPrefix+uuid.NewString()+"."+ext)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return AudioSegment{}, fmt.Errorf("create segment file: %w", err)
	}

	switch chunk.Format {
	case FormatPCM:
		err = writePCMToWav(file, chunk.Audio, chunk.SampleRate, chunk.Channels)
	case FormatWAV, FormatMP3:
		_, err = file.Write(chunk.Audio)
	default:
		err = fmt.Errorf("unsupported audio format %q", chunk.Format)
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return AudioSegment{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return AudioSegment{}, err
	}
	return AudioSegment{
		Index:      index,
		Path:       path,
		Format:     ext,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Bytes:      info.Size(),
	}, nil
}

// RemoveSegments deletes the files behind segs, ignoring ones already gone.
func RemoveSegments(segs []AudioSegment) error {
	var errs []error
	for _, seg := range segs {
		if seg.Path == "" {
			continue
		}
		if err := os.Remove(seg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writePCMToWav(w io.WriteSeeker, pcm []byte, sampleRate int, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}, SourceBitDepth: 16}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
