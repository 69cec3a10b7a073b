// Package chunker partitions a narration script into sentence-aligned chunks
// small enough for a single speech synthesis request.
package chunker

import "strings"

// Chunk is one zero-indexed slice of a script.
type Chunk struct {
	Index int
	Text  string
}

// Split partitions script on '.' terminators and packs whole sentences into
// chunks of at most maxChunkSize bytes. A sentence longer than the bound is
// emitted intact as its own chunk. Sentences inside a chunk are joined by a
// single space; surrounding whitespace of each sentence is dropped.
func Split(script string, maxChunkSize int) []Chunk {
	if maxChunkSize <= 0 {
		maxChunkSize = 1
	}
	var (
		chunks  []Chunk
		current strings.Builder
	)
	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: current.String()})
		current.Reset()
	}
	for _, sentence := range Sentences(script) {
		if current.Len() > 0 && current.Len()+1+len(sentence) > maxChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	flush()
	return chunks
}

// Sentences returns the trimmed, non-empty sentences of text in order. Each
// keeps its terminating periods, so an ellipsis stays with the sentence it
// ends. Periods with no sentence before them are dropped; trailing text
// without one is kept as is.
func Sentences(text string) []string {
	var out []string
	rest := text
	for {
		i := strings.IndexByte(rest, '.')
		if i < 0 {
			break
		}
		end := i + 1
		for end < len(rest) && rest[end] == '.' {
			end++
		}
		dots := rest[i:end]
		switch s := strings.TrimSpace(rest[:i]); {
		case s != "":
			out = append(out, s+dots)
		case len(out) > 0:
			out[len(out)-1] += dots
		}
		rest = rest[end:]
	}
	if s := strings.TrimSpace(rest); s != "" {
		out = append(out, s)
	}
	return out
}

// Texts returns the chunk texts in index order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
