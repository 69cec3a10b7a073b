package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Documents   DocumentsConfig  `yaml:"documents"`
	Storage     StorageConfig    `yaml:"storage"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Assembler   AssemblerConfig  `yaml:"assembler"`
	Playback    PlaybackConfig   `yaml:"playback"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	PruneSchedule string `yaml:"prune_schedule"`
}

type DocumentsConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig selects where assembled tracks live once verified.
type StorageConfig struct {
	Mode      string      `yaml:"mode"` // local, minio
	Directory string      `yaml:"directory"`
	Prefix    string      `yaml:"prefix"`
	MinIO     MinIOConfig `yaml:"minio"`
}

type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec, gemini, openai
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode         string  `yaml:"mode"` // mock, exec, google
	Endpoint     string  `yaml:"endpoint"`
	Command      string  `yaml:"command"`
	APIKey       string  `yaml:"api_key"`
	Voice        string  `yaml:"voice"`
	LanguageCode string  `yaml:"language_code"`
	Encoding     string  `yaml:"encoding"` // LINEAR16, MP3
	SpeakingRate float64 `yaml:"speaking_rate"`
	SampleRate   int     `yaml:"sample_rate"`
	Channels     int     `yaml:"channels"`
}

type PipelineConfig struct {
	MaxChunkSize       int    `yaml:"max_chunk_size"`
	Concurrency        int    `yaml:"concurrency"`
	TempDir            string `yaml:"temp_dir"`
	SynthesisTimeoutMS int    `yaml:"synthesis_timeout_ms"`
	RunTimeoutMS       int    `yaml:"run_timeout_ms"`
	SweepSchedule      string `yaml:"sweep_schedule"`
}

type AssemblerConfig struct {
	Mode            string `yaml:"mode"` // wav, ffmpeg
	FFmpegPath      string `yaml:"ffmpeg_path"`
	FFprobePath     string `yaml:"ffprobe_path"`
	VerifyTimeoutMS int    `yaml:"verify_timeout_ms"`
}

type PlaybackConfig struct {
	ProgressIntervalMS int       `yaml:"progress_interval_ms"`
	SkipSeconds        float64   `yaml:"skip_seconds"`
	Rates              []float64 `yaml:"rates"`
}

func Default() Config {
	return Config{
		RuntimeName: "studycast",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/studycast-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
			PruneSchedule: "0 0 3 * * *",
		},
		Documents: DocumentsConfig{
			Path: "./data/studycast-documents.db",
		},
		Storage: StorageConfig{
			Mode:      "local",
			Directory: "./data/tracks",
			Prefix:    "podcasts",
			MinIO: MinIOConfig{
				Endpoint: "localhost:9000",
				Bucket:   "studycast",
			},
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   4096,
			Temperature: 0.7,
			TimeoutMS:   120000,
		},
		TTS: TTSConfig{
			Mode:         "mock",
			Endpoint:     "https://texttospeech.googleapis.com/v1/text:synthesize",
			Voice:        "en-US-Studio-O",
			LanguageCode: "en-US",
			Encoding:     "LINEAR16",
			SpeakingRate: 1.0,
			SampleRate:   24000,
			Channels:     1,
		},
		Pipeline: PipelineConfig{
			MaxChunkSize:       4500,
			Concurrency:        4,
			TempDir:            "./data/segments",
			SynthesisTimeoutMS: 45000,
			RunTimeoutMS:       600000,
			SweepSchedule:      "0 */15 * * * *",
		},
		Assembler: AssemblerConfig{
			Mode:            "wav",
			FFmpegPath:      "ffmpeg",
			FFprobePath:     "ffprobe",
			VerifyTimeoutMS: 5000,
		},
		Playback: PlaybackConfig{
			ProgressIntervalMS: 100,
			SkipSeconds:        10,
			Rates:              []float64{0.5, 0.75, 1.0, 1.5, 2.0},
		},
	}
}

// LoadDotEnv reads .env style files into the process environment. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "STUDYCAST_RUNTIME_NAME")
	overrideString(&cfg.Environment, "STUDYCAST_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "STUDYCAST_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "STUDYCAST_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "STUDYCAST_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "STUDYCAST_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "STUDYCAST_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "STUDYCAST_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Enabled, "STUDYCAST_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "STUDYCAST_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "STUDYCAST_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "STUDYCAST_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "STUDYCAST_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "STUDYCAST_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "STUDYCAST_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "STUDYCAST_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "STUDYCAST_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "STUDYCAST_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "STUDYCAST_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "STUDYCAST_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "STUDYCAST_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "STUDYCAST_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "STUDYCAST_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Documents.Path, "STUDYCAST_DOCUMENTS_PATH")
	overrideString(&cfg.Storage.Mode, "STUDYCAST_STORAGE_MODE")
	overrideString(&cfg.Storage.Directory, "STUDYCAST_STORAGE_DIRECTORY")
	overrideString(&cfg.Storage.MinIO.Endpoint, "STUDYCAST_MINIO_ENDPOINT")
	overrideString(&cfg.Storage.MinIO.Bucket, "STUDYCAST_MINIO_BUCKET")
	overrideString(&cfg.Storage.MinIO.AccessKeyID, "STUDYCAST_MINIO_ACCESS_KEY")
	overrideString(&cfg.Storage.MinIO.SecretAccessKey, "STUDYCAST_MINIO_SECRET_KEY")
	overrideBool(&cfg.Storage.MinIO.UseSSL, "STUDYCAST_MINIO_USE_SSL")
	overrideString(&cfg.LLM.Mode, "STUDYCAST_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "STUDYCAST_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "STUDYCAST_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "STUDYCAST_LLM_MODEL")
	overrideString(&cfg.LLM.APIKey, "STUDYCAST_LLM_API_KEY")
	overrideInt(&cfg.LLM.MaxTokens, "STUDYCAST_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "STUDYCAST_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "STUDYCAST_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "STUDYCAST_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "STUDYCAST_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Command, "STUDYCAST_TTS_COMMAND")
	overrideString(&cfg.TTS.APIKey, "STUDYCAST_TTS_API_KEY")
	overrideString(&cfg.TTS.Voice, "STUDYCAST_TTS_VOICE")
	overrideString(&cfg.TTS.LanguageCode, "STUDYCAST_TTS_LANGUAGE_CODE")
	overrideString(&cfg.TTS.Encoding, "STUDYCAST_TTS_ENCODING")
	overrideInt(&cfg.TTS.SampleRate, "STUDYCAST_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "STUDYCAST_TTS_CHANNELS")
	overrideInt(&cfg.Pipeline.MaxChunkSize, "STUDYCAST_PIPELINE_MAX_CHUNK_SIZE")
	overrideInt(&cfg.Pipeline.Concurrency, "STUDYCAST_PIPELINE_CONCURRENCY")
	overrideString(&cfg.Pipeline.TempDir, "STUDYCAST_PIPELINE_TEMP_DIR")
	overrideInt(&cfg.Pipeline.SynthesisTimeoutMS, "STUDYCAST_PIPELINE_SYNTHESIS_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.RunTimeoutMS, "STUDYCAST_PIPELINE_RUN_TIMEOUT_MS")
	overrideString(&cfg.Assembler.Mode, "STUDYCAST_ASSEMBLER_MODE")
	overrideString(&cfg.Assembler.FFmpegPath, "STUDYCAST_ASSEMBLER_FFMPEG_PATH")
	overrideString(&cfg.Assembler.FFprobePath, "STUDYCAST_ASSEMBLER_FFPROBE_PATH")
	overrideInt(&cfg.Assembler.VerifyTimeoutMS, "STUDYCAST_ASSEMBLER_VERIFY_TIMEOUT_MS")
	overrideInt(&cfg.Playback.ProgressIntervalMS, "STUDYCAST_PLAYBACK_PROGRESS_INTERVAL_MS")
	overrideFloat(&cfg.Playback.SkipSeconds, "STUDYCAST_PLAYBACK_SKIP_SECONDS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Documents.Path == "" {
		return errors.New("documents.path must not be empty")
	}
	switch cfg.Storage.Mode {
	case "local":
		if cfg.Storage.Directory == "" {
			return errors.New("storage.directory must be set when mode=local")
		}
	case "minio":
		if cfg.Storage.MinIO.Endpoint == "" || cfg.Storage.MinIO.Bucket == "" {
			return errors.New("storage.minio.endpoint and storage.minio.bucket must be set when mode=minio")
		}
	default:
		return errors.New("storage.mode must be one of local|minio")
	}
	switch cfg.LLM.Mode {
	case "mock":
	case "ollama", "gemini":
		if cfg.LLM.Endpoint == "" {
			return fmt.Errorf("llm.endpoint must be set when mode=%s", cfg.LLM.Mode)
		}
	case "openai":
		if cfg.LLM.APIKey == "" {
			return errors.New("llm.api_key must be set when mode=openai")
		}
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec|gemini|openai")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	case "google":
		if cfg.TTS.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=google")
		}
	default:
		return errors.New("tts.mode must be one of mock|exec|google")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.Pipeline.MaxChunkSize <= 0 {
		return errors.New("pipeline.max_chunk_size must be positive")
	}
	if cfg.Pipeline.Concurrency <= 0 {
		return errors.New("pipeline.concurrency must be >= 1")
	}
	if cfg.Pipeline.TempDir == "" {
		return errors.New("pipeline.temp_dir must not be empty")
	}
	switch cfg.Assembler.Mode {
	case "wav":
		if cfg.TTS.Mode == "google" && !strings.EqualFold(cfg.TTS.Encoding, "LINEAR16") {
			return errors.New("assembler.mode=wav requires tts.encoding=LINEAR16")
		}
	case "ffmpeg":
		if cfg.Assembler.FFmpegPath == "" || cfg.Assembler.FFprobePath == "" {
			return errors.New("assembler.ffmpeg_path and assembler.ffprobe_path must be set when mode=ffmpeg")
		}
	default:
		return errors.New("assembler.mode must be one of wav|ffmpeg")
	}
	if cfg.Assembler.VerifyTimeoutMS <= 0 {
		return errors.New("assembler.verify_timeout_ms must be positive")
	}
	if cfg.Playback.ProgressIntervalMS <= 0 || cfg.Playback.ProgressIntervalMS >= 1000 {
		return errors.New("playback.progress_interval_ms must be between 1 and 999")
	}
	if len(cfg.Playback.Rates) == 0 {
		return errors.New("playback.rates must not be empty")
	}
	for _, r := range cfg.Playback.Rates {
		if r <= 0 {
			return errors.New("playback.rates must be positive")
		}
	}
	return nil
}
