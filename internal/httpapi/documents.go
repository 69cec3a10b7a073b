package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loqalabs/studycast/internal/docstore"
	"github.com/loqalabs/studycast/internal/eventstore"
	"github.com/loqalabs/studycast/internal/podcast"
	"github.com/loqalabs/studycast/internal/storage"
)

type documentView struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	TextBytes         int        `json:"text_bytes"`
	HasPodcast        bool       `json:"has_podcast"`
	Script            string     `json:"script,omitempty"`
	ScriptGeneratedAt *time.Time `json:"script_generated_at,omitempty"`
	TrackURI          string     `json:"track_uri,omitempty"`
	DurationSeconds   float64    `json:"duration_seconds,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func viewDocument(d docstore.Document, withScript bool) documentView {
	v := documentView{
		ID:              d.ID,
		Name:            d.Name,
		TextBytes:       len(d.ExtractedText),
		HasPodcast:      d.HasPodcast(),
		TrackURI:        d.TrackURI,
		DurationSeconds: d.TrackDuration.Seconds(),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if withScript {
		v.Script = d.Script
	}
	if !d.ScriptGeneratedAt.IsZero() {
		t := d.ScriptGeneratedAt
		v.ScriptGeneratedAt = &t
	}
	return v
}

func (s *Server) listDocuments(c *gin.Context) {
	docs, err := s.deps.Docs.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]documentView, 0, len(docs))
	for _, d := range docs {
		out = append(out, viewDocument(d, false))
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

type createDocumentRequest struct {
	Name string `json:"name" binding:"required"`
	Text string `json:"text" binding:"required"`
}

func (s *Server) createDocument(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text must not be blank"})
		return
	}
	doc, err := s.deps.Docs.Create(c.Request.Context(), req.Name, req.Text)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewDocument(doc, false))
}

func (s *Server) getDocument(c *gin.Context) {
	doc, err := s.deps.Docs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewDocument(doc, true))
}

func (s *Server) deleteDocument(c *gin.Context) {
	if err := s.deps.Pipeline.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) summary(c *gin.Context) {
	doc, err := s.deps.Docs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	text, err := s.deps.Study.Summary(c.Request.Context(), doc.ExtractedText)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": doc.ID, "summary": text})
}

type questionView struct {
	Question      string   `json:"question"`
	Answers       []string `json:"answers"`
	CorrectAnswer string   `json:"correct_answer"`
}

func (s *Server) questions(c *gin.Context) {
	doc, err := s.deps.Docs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	qs, err := s.deps.Study.Questions(c.Request.Context(), doc.ExtractedText)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]questionView, 0, len(qs))
	for _, q := range qs {
		out = append(out, questionView{Question: q.Question, Answers: q.Answers(nil), CorrectAnswer: q.CorrectAnswer})
	}
	c.JSON(http.StatusOK, gin.H{"document_id": doc.ID, "questions": out})
}

type podcastRequest struct {
	Voice string `json:"voice"`
}

// generatePodcast runs the pipeline synchronously; the bus offers the
// asynchronous variant.
func (s *Server) generatePodcast(c *gin.Context) {
	var req podcastRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	res, err := s.deps.Pipeline.Run(c.Request.Context(), podcast.Request{DocumentID: c.Param("id"), Voice: req.Voice}, nil)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run_id":           res.RunID,
		"document_id":      res.DocumentID,
		"track_uri":        res.TrackURI,
		"duration_seconds": res.Duration.Seconds(),
		"chunks":           res.Chunks,
	})
}

func (s *Server) deletePodcast(c *gin.Context) {
	if err := s.deps.Pipeline.DeletePodcast(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) podcastAudio(c *gin.Context) {
	doc, err := s.deps.Docs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if !doc.HasPodcast() {
		s.fail(c, podcast.ErrNoPodcast)
		return
	}
	rc, size, err := s.deps.Store.Open(c.Request.Context(), doc.TrackURI)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, size, storage.ContentType(doc.TrackURI), rc, map[string]string{
		"Content-Disposition": "inline",
	})
}

type runView struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s *Server) listRuns(c *gin.Context) {
	runs, err := s.deps.Events.ListRuns(c.Request.Context(), c.Param("id"), 20)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]runView, 0, len(runs))
	for _, r := range runs {
		v := runView{ID: r.ID, Status: r.Status, Error: r.Error, StartedAt: r.StartedAt}
		if !r.FinishedAt.IsZero() {
			t := r.FinishedAt
			v.FinishedAt = &t
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

type eventView struct {
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) listRunEvents(c *gin.Context) {
	events, err := s.deps.Events.ListRunEvents(c.Request.Context(), c.Param("run"), 100)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventViewOf(e))
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func eventViewOf(e eventstore.Event) eventView {
	return eventView{Stage: e.Stage, Detail: e.Detail, TraceID: e.TraceID, CreatedAt: e.CreatedAt}
}
