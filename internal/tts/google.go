package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrEmptyAudio is returned when the endpoint answers without an audio payload.
var ErrEmptyAudio = errors.New("empty audio payload")

type googleSynth struct {
	endpoint     string
	apiKey       string
	languageCode string
	voice        string
	encoding     string
	speakingRate float64
	sampleRate   int
	client       *http.Client
}

// GoogleOptions configures the text:synthesize REST backend.
type GoogleOptions struct {
	Endpoint     string
	APIKey       string
	LanguageCode string
	Voice        string
	Encoding     string
	SpeakingRate float64
	SampleRate   int
	Timeout      time.Duration
}

func NewGoogleSynth(opts GoogleOptions) Synthesizer {
	encoding := strings.ToUpper(opts.Encoding)
	if encoding == "" {
		encoding = "LINEAR16"
	}
	return &googleSynth{
		endpoint:     opts.Endpoint,
		apiKey:       opts.APIKey,
		languageCode: opts.LanguageCode,
		voice:        opts.Voice,
		encoding:     encoding,
		speakingRate: opts.SpeakingRate,
		sampleRate:   opts.SampleRate,
		client:       &http.Client{Timeout: opts.Timeout},
	}
}

type googleRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name,omitempty"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding   string  `json:"audioEncoding"`
		SpeakingRate    float64 `json:"speakingRate,omitempty"`
		SampleRateHertz int     `json:"sampleRateHertz,omitempty"`
	} `json:"audioConfig"`
}

type googleResponse struct {
	AudioContent string `json:"audioContent"`
}

func (g *googleSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		audio, err := g.call(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		format := FormatWAV
		if g.encoding == "MP3" {
			format = FormatMP3
		}
		chunks <- SynthChunk{
			SessionID:  req.SessionID,
			Format:     format,
			SampleRate: g.sampleRate,
			Channels:   1,
			Audio:      audio,
			Final:      true,
		}
	}()
	return chunks, errs
}

func (g *googleSynth) call(ctx context.Context, req SynthRequest) ([]byte, error) {
	var payload googleRequest
	payload.Input.Text = req.Text
	payload.Voice.LanguageCode = g.languageCode
	payload.Voice.Name = g.voice
	if req.Voice != "" {
		payload.Voice.Name = req.Voice
	}
	payload.AudioConfig.AudioEncoding = g.encoding
	payload.AudioConfig.SpeakingRate = g.speakingRate
	if g.encoding == "LINEAR16" {
		payload.AudioConfig.SampleRateHertz = g.sampleRate
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	target := g.endpoint
	if g.apiKey != "" {
		target += "?key=" + url.QueryEscape(g.apiKey)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts endpoint returned status %s", resp.Status)
	}
	var decoded googleResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("decode tts response: %w", err)
	}
	if decoded.AudioContent == "" {
		return nil, ErrEmptyAudio
	}
	audio, err := base64.StdEncoding.DecodeString(decoded.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decode audio content: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return audio, nil
}
