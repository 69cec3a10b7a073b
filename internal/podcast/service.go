package podcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/studycast/internal/bus"
	"github.com/loqalabs/studycast/internal/protocol"
	"github.com/nats-io/nats.go"
)

const queueGroup = "studycast-podcast"

// Service consumes podcast requests from the bus, runs the pipeline and
// publishes status and result messages.
type Service struct {
	bus      *bus.Client
	pipeline *Pipeline
	sub      *nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
	logger   *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, pipeline *Pipeline, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:      busClient,
		pipeline: pipeline,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "podcast-service")),
	}
}

func (s *Service) Start() error {
	sub, err := s.bus.QueueSubscribe(protocol.SubjectPodcastRequest, queueGroup, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("listening for podcast requests", slog.String("subject", protocol.SubjectPodcastRequest))
	return nil
}

func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil && s.bus.Healthy() }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.PodcastRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode podcast request", slogError(err))
		return
	}
	if req.DocumentID == "" {
		s.logger.Warn("podcast request without document id")
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	// Drain delivers asynchronously, so requests can still arrive while
	// Close waits.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("dropping podcast request after close", slog.String("run_id", req.RunID))
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		res, err := s.pipeline.Run(s.ctx, Request{DocumentID: req.DocumentID, Voice: req.Voice, RunID: req.RunID}, s.publishStatus)
		result := protocol.PodcastResult{
			RunID:      req.RunID,
			DocumentID: req.DocumentID,
			OK:         err == nil,
			Timestamp:  time.Now().UTC(),
		}
		if err != nil {
			result.Error = UserMessage(err)
		} else {
			result.TrackURI = res.TrackURI
			result.DurationSeconds = res.Duration.Seconds()
		}
		if err := s.bus.PublishJSON(protocol.SubjectPodcastDone, result); err != nil {
			s.logger.Warn("failed to publish podcast result", slogError(err))
		}
	}()
}

func (s *Service) publishStatus(status protocol.PodcastStatus) {
	if err := s.bus.PublishJSON(protocol.SubjectPodcastStatus, status); err != nil {
		s.logger.Warn("failed to publish podcast status", slogError(err))
	}
}
