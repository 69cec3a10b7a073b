package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Pipeline.Concurrency != 4 {
		t.Fatalf("expected default concurrency 4, got %d", cfg.Pipeline.Concurrency)
	}
	if len(cfg.Playback.Rates) != 5 {
		t.Fatalf("expected five default rates, got %v", cfg.Playback.Rates)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STUDYCAST_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("STUDYCAST_BUS_USERNAME", "alice")
	t.Setenv("STUDYCAST_BUS_PASSWORD", "secret")
	t.Setenv("STUDYCAST_BUS_TLS_INSECURE", "true")
	t.Setenv("STUDYCAST_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("STUDYCAST_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("STUDYCAST_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("STUDYCAST_PIPELINE_MAX_CHUNK_SIZE", "1200")
	t.Setenv("STUDYCAST_PIPELINE_CONCURRENCY", "8")
	t.Setenv("STUDYCAST_TTS_VOICE", "en-GB-Neural2-A")
	t.Setenv("STUDYCAST_LLM_TEMPERATURE", "0.2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.Pipeline.MaxChunkSize != 1200 {
		t.Fatalf("expected max chunk size override, got %d", cfg.Pipeline.MaxChunkSize)
	}
	if cfg.Pipeline.Concurrency != 8 {
		t.Fatalf("expected concurrency override, got %d", cfg.Pipeline.Concurrency)
	}
	if cfg.TTS.Voice != "en-GB-Neural2-A" {
		t.Fatalf("expected voice override, got %s", cfg.TTS.Voice)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Fatalf("expected temperature override, got %v", cfg.LLM.Temperature)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "studycast.yaml")
	data := []byte(`runtime_name: test-runtime
pipeline:
  max_chunk_size: 300
  concurrency: 2
assembler:
  mode: ffmpeg
playback:
  rates: [1, 2]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "test-runtime" {
		t.Fatalf("unexpected runtime name %q", cfg.RuntimeName)
	}
	if cfg.Pipeline.MaxChunkSize != 300 || cfg.Pipeline.Concurrency != 2 {
		t.Fatalf("unexpected pipeline config %+v", cfg.Pipeline)
	}
	if cfg.Assembler.Mode != "ffmpeg" {
		t.Fatalf("expected ffmpeg assembler, got %s", cfg.Assembler.Mode)
	}
	if len(cfg.Playback.Rates) != 2 {
		t.Fatalf("expected rates from file, got %v", cfg.Playback.Rates)
	}
	// untouched sections keep defaults
	if cfg.TTS.Voice != "en-US-Studio-O" {
		t.Fatalf("expected default voice, got %s", cfg.TTS.Voice)
	}
}

func TestValidateRejectsMismatchedEncoding(t *testing.T) {
	t.Setenv("STUDYCAST_TTS_MODE", "google")
	t.Setenv("STUDYCAST_TTS_ENCODING", "MP3")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for mp3 encoding with wav assembler")
	}
}

func TestValidateRejectsBadConcurrency(t *testing.T) {
	t.Setenv("STUDYCAST_PIPELINE_CONCURRENCY", "0")
	if _, err := Load(""); err == nil {
		t.Fatal("expected concurrency validation error")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("STUDYCAST_TEST_DOTENV=loaded\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("STUDYCAST_TEST_DOTENV") })
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("STUDYCAST_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("expected dotenv value, got %q", got)
	}
}
