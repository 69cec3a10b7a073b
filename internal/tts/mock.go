package tts

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

type mockSynth struct {
	sampleRate int
	channels   int
	delay      time.Duration
}

// NewMockSynth produces a sine tone whose length grows with the text, 20ms per byte.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels, delay: 20 * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(m.delay):
		}
		duration := time.Duration(len(req.Text)) * 20 * time.Millisecond
		chunks <- SynthChunk{
			SessionID:  req.SessionID,
			Sequence:   0,
			Format:     FormatPCM,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			Audio:      tone(duration, m.sampleRate, m.channels, 440),
			Final:      true,
		}
	}()
	return chunks, errs
}

func tone(d time.Duration, sampleRate, channels int, freq float64) []byte {
	frames := int(d.Seconds() * float64(sampleRate))
	out := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)) * 8000)
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(out[(i*channels+c)*2:], uint16(v))
		}
	}
	return out
}
