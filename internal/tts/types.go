package tts

import (
	"context"
	"fmt"
)

// Audio payload formats a backend can produce.
const (
	FormatPCM = "pcm" // raw signed 16-bit little endian
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk carries part of the synthesized audio. Encoded formats (wav, mp3)
// arrive as a single final chunk.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	Format     string
	SampleRate int
	Channels   int
	Audio      []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// AudioSegment references the temporary file holding one synthesized chunk.
type AudioSegment struct {
	Index      int
	Path       string
	Format     string
	SampleRate int
	Channels   int
	Bytes      int64
}

// SynthesisError reports a failed synthesis for one chunk.
type SynthesisError struct {
	Index int
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize chunk %d: %v", e.Index, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
