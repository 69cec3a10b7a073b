// Package orchestrator fans chunk synthesis out over a bounded pool and
// gathers the segments back in chunk order.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/loqalabs/studycast/internal/chunker"
	"github.com/loqalabs/studycast/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// Synthesizer produces the audio segment for one chunk.
type Synthesizer interface {
	Synthesize(ctx context.Context, index int, text, voice string) (tts.AudioSegment, error)
}

// PartialFailure is returned when fewer segments than chunks were produced.
type PartialFailure struct {
	Total   int
	Missing []int
	Causes  map[int]error
}

func (e *PartialFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "synthesized %d of %d chunks, missing %v", e.Total-len(e.Missing), e.Total, e.Missing)
	if len(e.Missing) > 0 {
		if cause := e.Causes[e.Missing[0]]; cause != nil {
			fmt.Fprintf(&b, ": %v", cause)
		}
	}
	return b.String()
}

// Unwrap exposes the per-chunk causes in index order.
func (e *PartialFailure) Unwrap() []error {
	out := make([]error, 0, len(e.Missing))
	for _, idx := range e.Missing {
		if cause := e.Causes[idx]; cause != nil {
			out = append(out, cause)
		}
	}
	return out
}

type Options struct {
	Concurrency  int
	ChunkTimeout time.Duration
}

type Orchestrator struct {
	synth  Synthesizer
	opts   Options
	logger *slog.Logger
	chunks metric.Int64Counter
}

func New(synth Synthesizer, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	meter := otel.Meter("github.com/loqalabs/studycast/internal/orchestrator")
	counter, err := meter.Int64Counter("studycast.chunks.synthesized",
		metric.WithDescription("Chunks sent to speech synthesis, by result"))
	if err != nil {
		logger.Warn("failed to create chunk counter", slog.String("error", err.Error()))
	}
	return &Orchestrator{
		synth:  synth,
		opts:   opts,
		logger: logger.With(slog.String("component", "orchestrator")),
		chunks: counter,
	}
}

// SynthesizeAll synthesizes every chunk and returns exactly len(chunks)
// segments in chunk order. It waits for every dispatched call before
// returning. If any chunk fails the segments that did succeed are removed
// and a *PartialFailure naming the missing indices is returned.
func (o *Orchestrator) SynthesizeAll(ctx context.Context, chunks []chunker.Chunk, voice string) ([]tts.AudioSegment, error) {
	segments := make([]tts.AudioSegment, len(chunks))
	failures := make([]error, len(chunks))
	if len(chunks) == 0 {
		return segments, nil
	}

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			failures[i] = err
			continue
		}
		g.Go(func() error {
			callCtx := ctx
			if o.opts.ChunkTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, o.opts.ChunkTimeout)
				defer cancel()
			}
			seg, err := o.synth.Synthesize(callCtx, i, c.Text, voice)
			if err != nil {
				failures[i] = err
				o.record(ctx, "error")
				return nil
			}
			seg.Index = i
			segments[i] = seg
			o.record(ctx, "ok")
			return nil
		})
	}
	_ = g.Wait()

	var missing []int
	causes := map[int]error{}
	var done []tts.AudioSegment
	for i, err := range failures {
		if err != nil {
			missing = append(missing, i)
			causes[i] = err
			continue
		}
		done = append(done, segments[i])
	}
	if len(missing) == 0 {
		return segments, nil
	}

	if err := tts.RemoveSegments(done); err != nil {
		o.logger.Warn("failed to remove segments after partial failure", slog.String("error", err.Error()))
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("synthesize chunks: %w", err)
	}
	sort.Ints(missing)
	failure := &PartialFailure{Total: len(chunks), Missing: missing, Causes: causes}
	o.logger.Warn("chunk synthesis incomplete",
		slog.Int("total", len(chunks)),
		slog.Any("missing", missing))
	return nil, failure
}

func (o *Orchestrator) record(ctx context.Context, result string) {
	if o.chunks == nil {
		return
	}
	o.chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
