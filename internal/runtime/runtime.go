package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loqalabs/studycast/internal/bus"
	"github.com/loqalabs/studycast/internal/config"
	"github.com/loqalabs/studycast/internal/docstore"
	"github.com/loqalabs/studycast/internal/eventstore"
	"github.com/loqalabs/studycast/internal/httpapi"
	"github.com/loqalabs/studycast/internal/llm"
	"github.com/loqalabs/studycast/internal/natsserver"
	"github.com/loqalabs/studycast/internal/orchestrator"
	"github.com/loqalabs/studycast/internal/playback"
	"github.com/loqalabs/studycast/internal/podcast"
	"github.com/loqalabs/studycast/internal/script"
	"github.com/loqalabs/studycast/internal/storage"
	"github.com/loqalabs/studycast/internal/tts"
)

type Runtime struct {
	cfg         config.Config
	version     string
	logger      *slog.Logger
	servers     []*http.Server
	tracerClose func(context.Context) error
	service     *podcast.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start builds every component from config, serves until ctx is cancelled
// and then shuts everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	defer r.closeTelemetry()

	docs, err := docstore.Open(ctx, r.cfg.Documents, r.logger)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer docs.Close()

	events, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer events.Close()
	if err := events.Ensure(); err != nil {
		return err
	}

	store, err := storage.New(ctx, r.cfg.Storage, r.logger)
	if err != nil {
		return fmt.Errorf("open track storage: %w", err)
	}

	backend, err := newGenerator(r.cfg.LLM)
	if err != nil {
		return fmt.Errorf("create llm backend: %w", err)
	}
	scripts := script.NewGenerator(backend, llm.OptionsFromConfig(r.cfg.LLM), r.logger)

	synthTimeout := millis(r.cfg.Pipeline.SynthesisTimeoutMS)
	synthBackend, err := newSynthesizer(r.cfg.TTS, synthTimeout)
	if err != nil {
		return fmt.Errorf("create tts backend: %w", err)
	}
	speech := tts.NewSpeechSynthesizer(synthBackend, r.cfg.Pipeline.TempDir, r.cfg.TTS.Voice, r.logger)
	orch := orchestrator.New(speech, orchestrator.Options{
		Concurrency:  r.cfg.Pipeline.Concurrency,
		ChunkTimeout: synthTimeout,
	}, r.logger)

	assembler, prober, err := newAssembler(r.cfg.Assembler, r.logger)
	if err != nil {
		return fmt.Errorf("create assembler: %w", err)
	}

	pipeline := podcast.NewPipeline(docs, events, scripts, orch, assembler, store, podcast.Options{
		MaxChunkSize: r.cfg.Pipeline.MaxChunkSize,
		TempDir:      r.cfg.Pipeline.TempDir,
		RunTimeout:   millis(r.cfg.Pipeline.RunTimeoutMS),
	}, r.logger)

	players := podcast.NewPlayers(docs, store, playback.Options{
		Interval: millis(r.cfg.Playback.ProgressIntervalMS),
		Skip:     time.Duration(r.cfg.Playback.SkipSeconds * float64(time.Second)),
		Rates:    r.cfg.Playback.Rates,
		Prober:   prober,
	}, r.logger)
	defer players.Close()
	pipeline.OnTrackChange(players.Release)

	if r.cfg.Bus.Enabled {
		stopBus, err := r.startBus(ctx, pipeline)
		if err != nil {
			return err
		}
		defer stopBus()
	}

	if removed, err := sweepSegments(r.cfg.Pipeline.TempDir, orphanAge, time.Now()); err != nil {
		r.logger.Warn("initial segment sweep failed", slog.String("error", err.Error()))
	} else if removed > 0 {
		r.logger.Info("removed orphaned segments", slog.Int("count", removed))
	}
	scheduler, err := newScheduler(ctx, r.cfg.EventStore.PruneSchedule, r.cfg.Pipeline.SweepSchedule,
		r.cfg.Pipeline.TempDir, events, r.logger)
	if err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	gin.SetMode(gin.ReleaseMode)
	api := httpapi.NewServer(httpapi.Deps{
		Docs:     docs,
		Events:   events,
		Pipeline: pipeline,
		Players:  players,
		Study:    scripts,
		Store:    store,
		Metrics:  metricsHandler,
		Ready:    r.healthy,
	}, r.logger)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.serve(&http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	})
	if bind := r.cfg.Telemetry.PrometheusBind; bind != "" && metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		r.serve(&http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range r.servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) serve(srv *http.Server) {
	r.servers = append(r.servers, srv)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("addr", srv.Addr), slog.String("error", err.Error()))
		}
	}()
}

// startBus starts the embedded broker when configured, connects and begins
// consuming podcast requests. The returned func undoes all of it.
func (r *Runtime) startBus(ctx context.Context, pipeline *podcast.Pipeline) (func(), error) {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return nil, fmt.Errorf("start embedded nats: %w", err)
	}
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}

	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		embedded.Shutdown()
		return nil, err
	}

	svc := podcast.NewService(ctx, client, pipeline, r.logger)
	if err := svc.Start(); err != nil {
		client.Close()
		embedded.Shutdown()
		return nil, fmt.Errorf("start podcast service: %w", err)
	}
	r.service = svc

	return func() {
		svc.Close()
		client.Close()
		embedded.Shutdown()
	}, nil
}

func (r *Runtime) healthy() bool {
	if !r.ready.Load() {
		return false
	}
	return r.service == nil || r.service.Healthy()
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}
