package podcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/loqalabs/studycast/internal/docstore"
	"github.com/loqalabs/studycast/internal/media"
	"github.com/loqalabs/studycast/internal/playback"
	"github.com/loqalabs/studycast/internal/storage"
)

// ErrNoPodcast is returned when playback is requested for a document
// without an attached track.
var ErrNoPodcast = errors.New("document has no podcast")

// Players keeps one playback session per document.
type Players struct {
	docs   *docstore.Store
	store  storage.Store
	opts   playback.Options
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	ctrl    *playback.Controller
	uri     string
	cleanup func()
}

func NewPlayers(docs *docstore.Store, store storage.Store, opts playback.Options, logger *slog.Logger) *Players {
	return &Players{
		docs:     docs,
		store:    store,
		opts:     opts,
		logger:   logger.With(slog.String("component", "players")),
		sessions: map[string]*session{},
	}
}

// Open returns the document's controller, loading the document's current
// track when it differs from the one already loaded.
func (p *Players) Open(ctx context.Context, documentID string) (*playback.Controller, error) {
	doc, err := p.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.HasPodcast() {
		return nil, ErrNoPodcast
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[documentID]
	if !ok {
		s = &session{ctrl: playback.NewController(p.opts, p.logger.With(slog.String("document_id", documentID)))}
		p.sessions[documentID] = s
	}
	if s.uri == doc.TrackURI {
		return s.ctrl, nil
	}

	path, cleanup, err := p.store.LocalPath(ctx, doc.TrackURI)
	if err != nil {
		return nil, err
	}
	loadErr := s.ctrl.Load(ctx, media.AssembledTrack{Path: path, Duration: doc.TrackDuration})
	if s.cleanup != nil {
		s.cleanup()
	}
	if loadErr != nil {
		cleanup()
		s.uri, s.cleanup = "", nil
		return nil, loadErr
	}
	s.uri, s.cleanup = doc.TrackURI, cleanup
	return s.ctrl, nil
}

// Get returns the existing session for the document without loading.
func (p *Players) Get(documentID string) (*playback.Controller, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[documentID]
	if !ok {
		return nil, false
	}
	return s.ctrl, true
}

// Release tears down the document's session, if any.
func (p *Players) Release(documentID string) {
	p.mu.Lock()
	s, ok := p.sessions[documentID]
	delete(p.sessions, documentID)
	p.mu.Unlock()
	if ok {
		s.close()
	}
}

func (p *Players) Close() {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = map[string]*session{}
	p.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

func (s *session) close() {
	s.ctrl.Close()
	if s.cleanup != nil {
		s.cleanup()
	}
}
