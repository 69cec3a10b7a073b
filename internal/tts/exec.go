package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// execSynth runs an external command per chunk. The command reads one JSON
// request on stdin and writes newline delimited JSON frames of base64 PCM.
type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execFrame struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
	Error     string `json:"error,omitempty"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("tts command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if err := e.run(ctx, req, chunks); err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

func (e *execSynth) run(ctx context.Context, req SynthRequest, out chan<- SynthChunk) error {
	input, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start tts command: %w", err)
	}
	// every early return below must still reap the process
	fail := func(err error) error {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	sequence, total := 0, 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frame execFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			return fail(fmt.Errorf("decode tts frame: %w", err))
		}
		if frame.Error != "" {
			return fail(fmt.Errorf("tts command: %s", frame.Error))
		}
		pcm, err := base64.StdEncoding.DecodeString(frame.PCMBase64)
		if err != nil {
			return fail(fmt.Errorf("decode tts audio: %w", err))
		}
		total += len(pcm)
		select {
		case out <- SynthChunk{
			SessionID:  req.SessionID,
			Sequence:   sequence,
			Format:     FormatPCM,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
			Audio:      pcm,
			Final:      frame.Final,
		}:
		case <-ctx.Done():
			return fail(ctx.Err())
		}
		sequence++
	}
	if err := scanner.Err(); err != nil {
		return fail(err)
	}
	if err := cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("tts command %s failed: %w: %s", e.cmd[0], err, msg)
		}
		return fmt.Errorf("tts command %s failed: %w", e.cmd[0], err)
	}
	if total == 0 {
		return ErrEmptyAudio
	}
	return nil
}
