package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loqalabs/studycast/internal/config"
	"github.com/loqalabs/studycast/internal/docstore"
	"github.com/loqalabs/studycast/internal/eventstore"
	"github.com/loqalabs/studycast/internal/llm"
	"github.com/loqalabs/studycast/internal/media"
	"github.com/loqalabs/studycast/internal/orchestrator"
	"github.com/loqalabs/studycast/internal/playback"
	"github.com/loqalabs/studycast/internal/podcast"
	"github.com/loqalabs/studycast/internal/script"
	"github.com/loqalabs/studycast/internal/storage"
	"github.com/loqalabs/studycast/internal/tts"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	logger := newLogger()

	docs, err := docstore.Open(ctx, config.DocumentsConfig{Path: filepath.Join(root, "docs.db")}, logger)
	if err != nil {
		t.Fatalf("open docstore: %v", err)
	}
	t.Cleanup(func() { docs.Close() })
	events, err := eventstore.Open(ctx, config.EventStoreConfig{Path: filepath.Join(root, "events.db"), RetentionMode: "session"}, logger)
	if err != nil {
		t.Fatalf("open eventstore: %v", err)
	}
	t.Cleanup(func() { events.Close() })
	store, err := storage.NewLocal(filepath.Join(root, "tracks"), logger)
	if err != nil {
		t.Fatal(err)
	}

	tempDir := filepath.Join(root, "tmp")
	synth := tts.NewSpeechSynthesizer(tts.NewMockSynth(8000, 1), tempDir, "en-US-Studio-O", logger)
	orch := orchestrator.New(synth, orchestrator.Options{Concurrency: 2}, logger)
	gen := script.NewGenerator(llm.NewMockGenerator(), llm.Request{}, logger)
	pipeline := podcast.NewPipeline(docs, events, gen, orch, media.NewWAVAssembler(time.Second, logger), store,
		podcast.Options{MaxChunkSize: 120, TempDir: tempDir}, logger)
	players := podcast.NewPlayers(docs, store, playback.Options{Interval: 10 * time.Millisecond}, logger)
	t.Cleanup(players.Close)
	pipeline.OnTrackChange(players.Release)

	srv := NewServer(Deps{
		Docs:     docs,
		Events:   events,
		Pipeline: pipeline,
		Players:  players,
		Study:    gen,
		Store:    store,
	}, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 && resp.Header.Get("Content-Type") != "" && bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp, out
}

func createDoc(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, body := do(t, ts, http.MethodPost, "/api/v1/documents", map[string]string{
		"name": "history.pdf",
		"text": "The printing press spread ideas quickly. Books became cheaper. Literacy rose across Europe.",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create document: %d %v", resp.StatusCode, body)
	}
	return body["id"].(string)
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		resp, _ := do(t, ts, http.MethodGet, path, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s returned %d", path, resp.StatusCode)
		}
	}
}

func TestDocumentLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, body := do(t, ts, http.MethodPost, "/api/v1/documents", map[string]string{"name": "empty.pdf"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing text, got %d %v", resp.StatusCode, body)
	}

	id := createDoc(t, ts)
	resp, body = do(t, ts, http.MethodGet, "/api/v1/documents/"+id, nil)
	if resp.StatusCode != http.StatusOK || body["has_podcast"] != false {
		t.Fatalf("unexpected document %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, ts, http.MethodGet, "/api/v1/documents", nil)
	if resp.StatusCode != http.StatusOK || len(body["documents"].([]any)) != 1 {
		t.Fatalf("unexpected list %v", body)
	}

	resp, _ = do(t, ts, http.MethodDelete, "/api/v1/documents/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete returned %d", resp.StatusCode)
	}
	resp, body = do(t, ts, http.MethodGet, "/api/v1/documents/"+id, nil)
	if resp.StatusCode != http.StatusNotFound || body["error"] != "The document could not be found." {
		t.Fatalf("expected 404, got %d %v", resp.StatusCode, body)
	}
}

func TestStudyArtifacts(t *testing.T) {
	ts := newTestServer(t)
	id := createDoc(t, ts)

	resp, body := do(t, ts, http.MethodPost, "/api/v1/documents/"+id+"/summary", nil)
	if resp.StatusCode != http.StatusOK || body["summary"] == "" {
		t.Fatalf("summary: %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, ts, http.MethodPost, "/api/v1/documents/"+id+"/questions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("questions: %d %v", resp.StatusCode, body)
	}
	qs := body["questions"].([]any)
	if len(qs) != script.QuestionCount {
		t.Fatalf("expected %d questions, got %d", script.QuestionCount, len(qs))
	}
	if answers := qs[0].(map[string]any)["answers"].([]any); len(answers) != 4 {
		t.Fatalf("expected four answers, got %v", answers)
	}
}

func TestPodcastAndPlayer(t *testing.T) {
	ts := newTestServer(t)
	id := createDoc(t, ts)
	base := "/api/v1/documents/" + id

	resp, body := do(t, ts, http.MethodGet, base+"/podcast/audio", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before generation, got %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, ts, http.MethodPost, base+"/podcast", map[string]string{"voice": "en-US-Studio-O"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: %d %v", resp.StatusCode, body)
	}
	if body["duration_seconds"].(float64) <= 0 {
		t.Fatalf("expected positive duration %v", body)
	}

	audio, err := ts.Client().Get(ts.URL + base + "/podcast/audio")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(audio.Body)
	audio.Body.Close()
	if audio.StatusCode != http.StatusOK || audio.Header.Get("Content-Type") != "audio/wav" || len(data) < 44 {
		t.Fatalf("unexpected audio response %d %s %d bytes", audio.StatusCode, audio.Header.Get("Content-Type"), len(data))
	}

	resp, body = do(t, ts, http.MethodGet, base+"/runs", nil)
	if resp.StatusCode != http.StatusOK || len(body["runs"].([]any)) != 1 {
		t.Fatalf("unexpected runs %v", body)
	}

	resp, _ = do(t, ts, http.MethodGet, base+"/player", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before player open, got %d", resp.StatusCode)
	}
	resp, body = do(t, ts, http.MethodPost, base+"/player", nil)
	if resp.StatusCode != http.StatusOK || body["state"] != "ready" {
		t.Fatalf("open player: %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, ts, http.MethodPost, base+"/player/seek", map[string]float64{"fraction": 0.5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seek: %d %v", resp.StatusCode, body)
	}
	half := body["duration_seconds"].(float64) / 2
	if diff := body["position_seconds"].(float64) - half; diff > 0.01 || diff < -0.01 {
		t.Fatalf("expected position near %v, got %v", half, body["position_seconds"])
	}

	resp, body = do(t, ts, http.MethodPost, base+"/player/rate", nil)
	if resp.StatusCode != http.StatusOK || body["rate"].(float64) != 1.5 {
		t.Fatalf("cycle rate: %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, ts, http.MethodPost, base+"/player/rate", map[string]float64{"rate": 3})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected unsupported rate 400, got %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, ts, http.MethodPost, base+"/player/volume", map[string]float64{"volume": 1.7})
	if resp.StatusCode != http.StatusOK || body["volume"].(float64) != 1 {
		t.Fatalf("volume: %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, ts, http.MethodPost, base+"/player/play", nil)
	if resp.StatusCode != http.StatusOK || body["state"] != "playing" {
		t.Fatalf("play: %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, ts, http.MethodPost, base+"/player/pause", nil)
	if resp.StatusCode != http.StatusOK || body["state"] != "paused" {
		t.Fatalf("pause: %d %v", resp.StatusCode, body)
	}

	resp, _ = do(t, ts, http.MethodDelete, base+"/podcast", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete podcast: %d", resp.StatusCode)
	}
	resp, _ = do(t, ts, http.MethodGet, base+"/player", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected player released with podcast, got %d", resp.StatusCode)
	}
	resp, body = do(t, ts, http.MethodPost, base+"/player", nil)
	if resp.StatusCode != http.StatusNotFound || body["error"] != "This document does not have a podcast yet." {
		t.Fatalf("expected no podcast, got %d %v", resp.StatusCode, body)
	}
}
