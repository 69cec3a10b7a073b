package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	var content string
	switch req.Task {
	case "questions":
		content = mockQuestions()
	case "summary":
		content = "**Summary**: " + firstSentences(req.Prompt, 2)
	default:
		content = "Welcome to this study podcast. " + firstSentences(req.Prompt, 4) + " Thanks for listening."
	}
	return consumer(Chunk{
		SessionID: req.SessionID,
		Content:   content,
		Partial:   false,
		Latency:   20 * time.Millisecond,
		TraceID:   req.TraceID,
	})
}

func firstSentences(text string, n int) string {
	parts := strings.Split(strings.Join(strings.Fields(text), " "), ".")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p+".")
		if len(out) == n {
			break
		}
	}
	return strings.Join(out, " ")
}

func mockQuestions() string {
	type item struct {
		Question         string   `json:"question"`
		CorrectAnswer    string   `json:"correctAnswer"`
		IncorrectAnswers []string `json:"incorrectAnswers"`
	}
	items := make([]item, 10)
	for i := range items {
		items[i] = item{
			Question:         fmt.Sprintf("Mock question %d?", i+1),
			CorrectAnswer:    "right",
			IncorrectAnswers: []string{"wrong a", "wrong b", "wrong c"},
		}
	}
	data, _ := json.Marshal(items)
	return "```json\n" + string(data) + "\n```"
}
