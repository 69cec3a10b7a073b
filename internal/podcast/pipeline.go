// Package podcast runs the document to podcast pipeline and exposes it over
// the bus and to playback sessions.
package podcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/studycast/internal/chunker"
	"github.com/loqalabs/studycast/internal/docstore"
	"github.com/loqalabs/studycast/internal/eventstore"
	"github.com/loqalabs/studycast/internal/media"
	"github.com/loqalabs/studycast/internal/protocol"
	"github.com/loqalabs/studycast/internal/script"
	"github.com/loqalabs/studycast/internal/storage"
	"github.com/loqalabs/studycast/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrBusy is returned when a run for the same document is already active.
var ErrBusy = errors.New("podcast generation already running for document")

// Stages reported while a run progresses.
const (
	StageScript    = "script"
	StageChunks    = "chunks"
	StageSynthesis = "synthesis"
	StageAssembly  = "assembly"
	StageStore     = "store"
	StageDone      = "done"
	StageFailed    = "failed"
)

// ScriptWriter produces the narration for a document.
type ScriptWriter interface {
	Podcast(ctx context.Context, documentID, source string) (script.Script, error)
}

// ChunkSynthesizer turns ordered chunks into ordered audio segments.
type ChunkSynthesizer interface {
	SynthesizeAll(ctx context.Context, chunks []chunker.Chunk, voice string) ([]tts.AudioSegment, error)
}

type Options struct {
	MaxChunkSize int
	TempDir      string
	RunTimeout   time.Duration
}

type Request struct {
	DocumentID string
	Voice      string
	RunID      string
}

type Result struct {
	RunID      string
	DocumentID string
	Script     script.Script
	TrackURI   string
	Duration   time.Duration
	Chunks     int
}

// ProgressFunc receives stage updates. It is called synchronously from the
// run's goroutine.
type ProgressFunc func(protocol.PodcastStatus)

type Pipeline struct {
	docs      *docstore.Store
	events    *eventstore.Store
	scripts   ScriptWriter
	synth     ChunkSynthesizer
	assembler media.Assembler
	store     storage.Store
	opts      Options
	logger    *slog.Logger
	clock     func() time.Time

	tracer   trace.Tracer
	duration metric.Float64Histogram
	runs     metric.Int64Counter

	onChange []func(documentID string)

	mu     sync.Mutex
	active map[string]string
}

func NewPipeline(docs *docstore.Store, events *eventstore.Store, scripts ScriptWriter, synth ChunkSynthesizer,
	assembler media.Assembler, store storage.Store, opts Options, logger *slog.Logger) *Pipeline {
	if opts.MaxChunkSize <= 0 {
		opts.MaxChunkSize = 4500
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	logger = logger.With(slog.String("component", "podcast-pipeline"))

	meter := otel.Meter("github.com/loqalabs/studycast/internal/podcast")
	duration, err := meter.Float64Histogram("studycast.pipeline.duration",
		metric.WithDescription("Podcast pipeline run duration"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("failed to create duration histogram", slogError(err))
	}
	runs, err := meter.Int64Counter("studycast.pipeline.runs",
		metric.WithDescription("Podcast pipeline runs, by outcome"))
	if err != nil {
		logger.Warn("failed to create run counter", slogError(err))
	}

	return &Pipeline{
		docs:      docs,
		events:    events,
		scripts:   scripts,
		synth:     synth,
		assembler: assembler,
		store:     store,
		opts:      opts,
		logger:    logger,
		clock:     time.Now,
		tracer:    otel.Tracer("github.com/loqalabs/studycast/internal/podcast"),
		duration:  duration,
		runs:      runs,
		active:    map[string]string{},
	}
}

// OnTrackChange registers fn to run whenever a document's track is replaced
// or removed, before the old object is deleted. Register before the first
// Run.
func (p *Pipeline) OnTrackChange(fn func(documentID string)) {
	p.onChange = append(p.onChange, fn)
}

func (p *Pipeline) trackChanged(documentID string) {
	for _, fn := range p.onChange {
		fn(documentID)
	}
}

// Running reports the run id active for documentID, if any.
func (p *Pipeline) Running(documentID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.active[documentID]
	return id, ok
}

func (p *Pipeline) acquire(documentID, runID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.active[documentID]; busy {
		return false
	}
	p.active[documentID] = runID
	return true
}

func (p *Pipeline) release(documentID string) {
	p.mu.Lock()
	delete(p.active, documentID)
	p.mu.Unlock()
}

// Run generates a script for the document, synthesizes it chunk by chunk,
// assembles one track, stores it and attaches it to the document, replacing
// any previous podcast. Nothing is attached unless every stage succeeds.
func (p *Pipeline) Run(ctx context.Context, req Request, progress ProgressFunc) (Result, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if !p.acquire(req.DocumentID, req.RunID) {
		return Result{}, ErrBusy
	}
	defer p.release(req.DocumentID)

	if p.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RunTimeout)
		defer cancel()
	}

	ctx, span := p.tracer.Start(ctx, "podcast.run", trace.WithAttributes(
		attribute.String("document.id", req.DocumentID),
		attribute.String("run.id", req.RunID)))
	defer span.End()

	start := p.clock()
	logger := p.logger.With(slog.String("document_id", req.DocumentID), slog.String("run_id", req.RunID))
	r := &run{p: p, req: req, progress: progress, logger: logger, traceID: span.SpanContext().TraceID().String()}

	if err := p.events.StartRun(ctx, req.RunID, req.DocumentID); err != nil {
		logger.Warn("failed to record run start", slogError(err))
	}

	res, err := r.execute(ctx)

	outcome := "succeeded"
	status := eventstore.StatusSucceeded
	errMsg := ""
	if err != nil {
		outcome = "failed"
		status = eventstore.StatusFailed
		errMsg = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, errMsg)
		r.emit(ctx, StageFailed, UserMessage(err), 0, 0)
		logger.Warn("podcast run failed", slogError(err))
	} else {
		r.emit(ctx, StageDone, res.TrackURI, res.Chunks, res.Chunks)
		logger.Info("podcast run finished",
			slog.String("track_uri", res.TrackURI),
			slog.Duration("duration", res.Duration),
			slog.Int("chunks", res.Chunks))
	}
	// the run context may be the reason we failed
	finishCtx := context.WithoutCancel(ctx)
	if ferr := p.events.FinishRun(finishCtx, req.RunID, status, errMsg); ferr != nil {
		logger.Warn("failed to record run finish", slogError(ferr))
	}
	p.record(finishCtx, outcome, p.clock().Sub(start))
	return res, err
}

func (p *Pipeline) record(ctx context.Context, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if p.runs != nil {
		p.runs.Add(ctx, 1, attrs)
	}
	if p.duration != nil {
		p.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

type run struct {
	p        *Pipeline
	req      Request
	progress ProgressFunc
	logger   *slog.Logger
	traceID  string
}

func (r *run) execute(ctx context.Context) (Result, error) {
	p := r.p
	doc, err := p.docs.Get(ctx, r.req.DocumentID)
	if err != nil {
		return Result{}, fmt.Errorf("load document: %w", err)
	}

	r.emit(ctx, StageScript, "", 0, 0)
	scr, err := r.generateScript(ctx, doc)
	if err != nil {
		return Result{}, err
	}

	chunks := chunker.Split(scr.Text, p.opts.MaxChunkSize)
	r.emit(ctx, StageChunks, "", 0, len(chunks))

	r.emit(ctx, StageSynthesis, "", 0, len(chunks))
	segments, err := r.synthesize(ctx, chunks)
	if err != nil {
		return Result{}, err
	}

	r.emit(ctx, StageAssembly, "", len(segments), len(chunks))
	track, err := r.assemble(ctx, segments)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(track.Path)

	r.emit(ctx, StageStore, "", len(chunks), len(chunks))
	key := fmt.Sprintf("%s/%s%s", doc.ID, r.req.RunID, filepath.Ext(track.Path))
	uri, err := p.store.Put(ctx, key, track.Path)
	if err != nil {
		return Result{}, fmt.Errorf("store track: %w", err)
	}

	old, err := p.docs.AttachPodcast(ctx, doc.ID, docstore.Podcast{
		Script:      scr.Text,
		GeneratedAt: scr.GeneratedAt,
		TrackURI:    uri,
		Duration:    track.Duration,
	})
	if err != nil {
		if derr := p.store.Delete(context.WithoutCancel(ctx), uri); derr != nil {
			r.logger.Warn("failed to delete unattached track", slogError(derr))
		}
		return Result{}, fmt.Errorf("attach podcast: %w", err)
	}
	p.trackChanged(doc.ID)
	if old != "" {
		if err := p.store.Delete(ctx, old); err != nil && !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("failed to delete replaced track", slog.String("uri", old), slogError(err))
		}
	}

	return Result{
		RunID:      r.req.RunID,
		DocumentID: doc.ID,
		Script:     scr,
		TrackURI:   uri,
		Duration:   track.Duration,
		Chunks:     len(chunks),
	}, nil
}

func (r *run) generateScript(ctx context.Context, doc docstore.Document) (script.Script, error) {
	ctx, span := r.p.tracer.Start(ctx, "podcast.generate_script")
	defer span.End()
	scr, err := r.p.scripts.Podcast(ctx, doc.ID, doc.ExtractedText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return script.Script{}, err
	}
	span.SetAttributes(attribute.Int("script.bytes", len(scr.Text)))
	return scr, nil
}

func (r *run) synthesize(ctx context.Context, chunks []chunker.Chunk) ([]tts.AudioSegment, error) {
	ctx, span := r.p.tracer.Start(ctx, "podcast.synthesize_all", trace.WithAttributes(
		attribute.Int("chunks", len(chunks))))
	defer span.End()
	segments, err := r.p.synth.SynthesizeAll(ctx, chunks, r.req.Voice)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return segments, nil
}

func (r *run) assemble(ctx context.Context, segments []tts.AudioSegment) (media.AssembledTrack, error) {
	ctx, span := r.p.tracer.Start(ctx, "podcast.assemble", trace.WithAttributes(
		attribute.Int("segments", len(segments))))
	defer span.End()

	format := tts.FormatWAV
	if len(segments) > 0 && segments[0].Format == tts.FormatMP3 {
		format = tts.FormatMP3
	}
	if err := os.MkdirAll(r.p.opts.TempDir, 0o755); err != nil {
		return media.AssembledTrack{}, fmt.Errorf("create temp dir: %w", err)
	}
	out := filepath.Join(r.p.opts.TempDir, fmt.Sprintf("track-%s.%s", r.req.RunID, format))

	track, err := r.p.assembler.Assemble(ctx, segments, out)
	if err != nil {
		// assemblers only consume segments on success
		if rerr := tts.RemoveSegments(segments); rerr != nil {
			r.logger.Warn("failed to remove segments", slogError(rerr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return media.AssembledTrack{}, err
	}
	span.SetAttributes(attribute.Float64("track.seconds", track.Duration.Seconds()))
	return track, nil
}

func (r *run) emit(ctx context.Context, stage, detail string, completed, total int) {
	status := protocol.PodcastStatus{
		RunID:      r.req.RunID,
		DocumentID: r.req.DocumentID,
		Stage:      stage,
		Detail:     detail,
		Completed:  completed,
		Total:      total,
		Timestamp:  r.p.clock().UTC(),
	}
	evt := eventstore.Event{RunID: r.req.RunID, TraceID: r.traceID, Stage: stage, Detail: detail}
	if err := r.p.events.AppendEvent(context.WithoutCancel(ctx), evt); err != nil {
		r.logger.Warn("failed to record run event", slog.String("stage", stage), slogError(err))
	}
	if r.progress != nil {
		r.progress(status)
	}
}

// DeletePodcast removes the document's script and track.
func (p *Pipeline) DeletePodcast(ctx context.Context, documentID string) error {
	if _, busy := p.Running(documentID); busy {
		return ErrBusy
	}
	old, err := p.docs.ClearPodcast(ctx, documentID)
	if err != nil {
		return fmt.Errorf("clear podcast: %w", err)
	}
	p.trackChanged(documentID)
	p.deleteObject(ctx, old)
	return nil
}

// DeleteDocument removes the document together with its stored track.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID string) error {
	if _, busy := p.Running(documentID); busy {
		return ErrBusy
	}
	old, err := p.docs.Delete(ctx, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	p.trackChanged(documentID)
	p.deleteObject(ctx, old)
	return nil
}

func (p *Pipeline) deleteObject(ctx context.Context, uri string) {
	if uri == "" {
		return
	}
	if err := p.store.Delete(ctx, uri); err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Warn("failed to delete stored track", slog.String("uri", uri), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
