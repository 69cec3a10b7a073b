// Package script asks a language model for study artifacts and cleans the
// output for downstream use.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
	"unicode"

	"github.com/loqalabs/studycast/internal/llm"
)

type Task string

const (
	TaskSummary   Task = "summary"
	TaskQuestions Task = "questions"
	TaskPodcast   Task = "podcast"
)

// QuestionCount is how many exam questions are requested per document.
const QuestionCount = 10

var (
	ErrEmptySource   = errors.New("source text is empty")
	ErrEmptyResponse = errors.New("empty response")
)

// GenerationError wraps any failure of a text generation call.
type GenerationError struct {
	Task Task
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate %s: %v", e.Task, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Script is the narration text produced for one document. It is never
// edited; regeneration produces a new Script.
type Script struct {
	DocumentID  string
	Text        string
	GeneratedAt time.Time
}

type Question struct {
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correctAnswer"`
	IncorrectAnswers []string `json:"incorrectAnswers"`
}

// Answers returns the correct and incorrect answers in shuffled order.
func (q Question) Answers(rng *rand.Rand) []string {
	out := append([]string{q.CorrectAnswer}, q.IncorrectAnswers...)
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

type Generator struct {
	backend  llm.Generator
	defaults llm.Request
	clock    func() time.Time
	logger   *slog.Logger
}

func NewGenerator(backend llm.Generator, defaults llm.Request, logger *slog.Logger) *Generator {
	return &Generator{
		backend:  backend,
		defaults: defaults,
		clock:    time.Now,
		logger:   logger.With(slog.String("component", "script-generator")),
	}
}

// Podcast generates a narration script for source.
func (g *Generator) Podcast(ctx context.Context, documentID, source string) (Script, error) {
	text, err := g.generate(ctx, TaskPodcast, source)
	if err != nil {
		return Script{}, err
	}
	return Script{DocumentID: documentID, Text: text, GeneratedAt: g.clock().UTC()}, nil
}

func (g *Generator) Summary(ctx context.Context, source string) (string, error) {
	return g.generate(ctx, TaskSummary, source)
}

// Questions generates a multiple choice exam and parses it.
func (g *Generator) Questions(ctx context.Context, source string) ([]Question, error) {
	text, err := g.generate(ctx, TaskQuestions, source)
	if err != nil {
		return nil, err
	}
	questions, err := ParseQuestions(text)
	if err != nil {
		return nil, &GenerationError{Task: TaskQuestions, Err: err}
	}
	return questions, nil
}

func (g *Generator) generate(ctx context.Context, task Task, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", &GenerationError{Task: task, Err: ErrEmptySource}
	}
	req := g.defaults
	req.Task = string(task)
	req.Prompt = Prompt(task, source)

	start := time.Now()
	raw, err := llm.Collect(ctx, g.backend, req)
	if err != nil {
		return "", &GenerationError{Task: task, Err: err}
	}
	text := Clean(raw)
	if text == "" {
		return "", &GenerationError{Task: task, Err: ErrEmptyResponse}
	}
	g.logger.Info("text generated",
		slog.String("task", string(task)),
		slog.Int("chars", len(text)),
		slog.Duration("latency", time.Since(start)))
	return text, nil
}

// Clean removes bold markers and a wrapping code fence.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	return strings.TrimSpace(StripFence(text))
}

// StripFence removes a surrounding ``` or ```lang fence if present.
func StripFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return text
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	} else {
		t = ""
	}
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

// ParseQuestions decodes an exam response. Every question needs a text, a
// correct answer and exactly three incorrect answers.
func ParseQuestions(text string) ([]Question, error) {
	var questions []Question
	if err := json.Unmarshal([]byte(StripFence(text)), &questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrEmptyResponse
	}
	for i, q := range questions {
		if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.CorrectAnswer) == "" {
			return nil, fmt.Errorf("question %d is incomplete", i)
		}
		if len(q.IncorrectAnswers) != 3 {
			return nil, fmt.Errorf("question %d has %d incorrect answers", i, len(q.IncorrectAnswers))
		}
	}
	return questions, nil
}

// IsArabic reports whether text contains any Arabic script letter.
func IsArabic(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Arabic, r) {
			return true
		}
	}
	return false
}
