// Package media concatenates synthesized segments into one track and
// verifies the result can be played.
package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loqalabs/studycast/internal/tts"
)

// ErrNoSegments is returned when there is nothing to assemble.
var ErrNoSegments = errors.New("no segments")

// AssembledTrack is the single audio file produced from all segments.
type AssembledTrack struct {
	Path     string
	Format   string
	Duration time.Duration
	Playable bool
	// Offsets[i] is where segment i starts in the track.
	Offsets []time.Duration
}

// ProbeResult is what a prober learned about an audio file.
type ProbeResult struct {
	Duration time.Duration
	Playable bool
}

// Prober inspects an audio file.
type Prober interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
}

// Assembler concatenates segments in the given order into out.
type Assembler interface {
	Assemble(ctx context.Context, segments []tts.AudioSegment, out string) (AssembledTrack, error)
}

// AssemblyError describes why a track could not be produced. Index is the
// offending segment or -1 when the failure is not tied to one.
type AssemblyError struct {
	Stage string
	Index int
	Err   error
}

func (e *AssemblyError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("assemble %s segment %d: %v", e.Stage, e.Index, e.Err)
	}
	return fmt.Sprintf("assemble %s: %v", e.Stage, e.Err)
}

func (e *AssemblyError) Unwrap() error { return e.Err }

// Verify polls prober until path reports a positive duration and playable
// status or the timeout elapses.
func Verify(ctx context.Context, prober Prober, path string, timeout time.Duration) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	var lastErr error
	for {
		res, err := prober.Probe(ctx, path)
		if err == nil && res.Duration > 0 && res.Playable {
			return res, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("track not playable (duration %v)", res.Duration)
		}
		select {
		case <-ctx.Done():
			return ProbeResult{}, fmt.Errorf("verify %s: %w", path, lastErr)
		case <-ticker.C:
		}
	}
}
