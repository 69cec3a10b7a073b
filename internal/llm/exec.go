package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// execGenerator runs an external command once per request. The request is
// written to stdin as JSON and a single JSON reply is read from stdout.
type execGenerator struct {
	cmd []string
}

type execPayload struct {
	Task        string  `json:"task"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type execReply struct {
	Content          string `json:"content"`
	Error            string `json:"error,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func NewExecGenerator(command string) (Generator, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse llm command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("llm command empty")
	}
	return &execGenerator{cmd: args}, nil
}

func (g *execGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	input, err := json.Marshal(execPayload{
		Task:        req.Task,
		Prompt:      req.Prompt,
		System:      req.System,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, g.cmd[0], g.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("llm command %s failed: %w: %s", g.cmd[0], err, truncate(msg, 200))
		}
		return fmt.Errorf("llm command %s failed: %w", g.cmd[0], err)
	}

	var reply execReply
	if err := json.Unmarshal(output, &reply); err != nil {
		return fmt.Errorf("decode llm command reply: %w", err)
	}
	if reply.Error != "" {
		return fmt.Errorf("llm command: %s", reply.Error)
	}
	if strings.TrimSpace(reply.Content) == "" {
		return ErrEmptyCandidates
	}

	return consumer(Chunk{
		SessionID:        req.SessionID,
		Content:          reply.Content,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		Latency:          time.Since(start),
		TraceID:          req.TraceID,
	})
}
