package runtime

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/studycast/internal/config"
	"github.com/loqalabs/studycast/internal/llm"
	"github.com/loqalabs/studycast/internal/media"
	"github.com/loqalabs/studycast/internal/tts"
)

func newGenerator(cfg config.LLMConfig) (llm.Generator, error) {
	switch cfg.Mode {
	case "mock":
		return llm.NewMockGenerator(), nil
	case "ollama":
		return llm.NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return llm.NewExecGenerator(cfg.Command)
	case "gemini":
		return llm.NewGeminiGenerator(cfg.Endpoint, cfg.Model, cfg.APIKey, millis(cfg.TimeoutMS)), nil
	case "openai":
		return llm.NewOpenAIGenerator(cfg.APIKey, cfg.Endpoint, cfg.Model), nil
	}
	return nil, fmt.Errorf("unknown llm mode %q", cfg.Mode)
}

func newSynthesizer(cfg config.TTSConfig, timeout time.Duration) (tts.Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return tts.NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return tts.NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "google":
		return tts.NewGoogleSynth(tts.GoogleOptions{
			Endpoint:     cfg.Endpoint,
			APIKey:       cfg.APIKey,
			LanguageCode: cfg.LanguageCode,
			Voice:        cfg.Voice,
			Encoding:     cfg.Encoding,
			SpeakingRate: cfg.SpeakingRate,
			SampleRate:   cfg.SampleRate,
			Timeout:      timeout,
		}), nil
	}
	return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
}

// newAssembler returns the assembler and the prober playback should use for
// the tracks it produces.
func newAssembler(cfg config.AssemblerConfig, logger *slog.Logger) (media.Assembler, media.Prober, error) {
	verify := millis(cfg.VerifyTimeoutMS)
	switch cfg.Mode {
	case "", "wav":
		return media.NewWAVAssembler(verify, logger), media.WAVProber{}, nil
	case "ffmpeg":
		a := media.NewFFmpegAssembler(cfg.FFmpegPath, cfg.FFprobePath, verify, logger)
		if err := a.AssertReady(); err != nil {
			return nil, nil, err
		}
		return a, media.FFprobe{Path: cfg.FFprobePath}, nil
	}
	return nil, nil, fmt.Errorf("unknown assembler mode %q", cfg.Mode)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
