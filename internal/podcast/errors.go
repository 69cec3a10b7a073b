package podcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/studycast/internal/docstore"
	"github.com/loqalabs/studycast/internal/media"
	"github.com/loqalabs/studycast/internal/orchestrator"
	"github.com/loqalabs/studycast/internal/playback"
	"github.com/loqalabs/studycast/internal/script"
	"github.com/loqalabs/studycast/internal/tts"
)

// UserMessage turns a pipeline or playback error into a sentence fit to show
// the person who asked for the podcast.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		partial  *orchestrator.PartialFailure
		gen      *script.GenerationError
		synth    *tts.SynthesisError
		assembly *media.AssemblyError
		play     *playback.PlaybackError
	)
	switch {
	case errors.Is(err, ErrBusy):
		return "A podcast is already being generated for this document."
	case errors.Is(err, ErrNoPodcast):
		return "This document does not have a podcast yet."
	case errors.Is(err, docstore.ErrNotFound):
		return "The document could not be found."
	case errors.Is(err, script.ErrEmptySource):
		return "The document has no text to turn into a podcast."
	case errors.As(err, &partial):
		return fmt.Sprintf("Audio could not be generated for %d of %d parts of the script. Please try again.",
			len(partial.Missing), partial.Total)
	case errors.As(err, &gen):
		return "The podcast script could not be generated. Please try again."
	case errors.As(err, &synth):
		return "The podcast audio could not be generated. Please try again."
	case errors.As(err, &assembly):
		if errors.Is(err, media.ErrNoSegments) {
			return "The generated script contained nothing to narrate."
		}
		return "The audio parts could not be combined into a podcast. Please try again."
	case errors.As(err, &play):
		return "The podcast audio could not be played."
	case errors.Is(err, context.DeadlineExceeded):
		return "Podcast generation took too long and was stopped."
	case errors.Is(err, context.Canceled):
		return "Podcast generation was cancelled."
	}
	return "Something went wrong while generating the podcast. Please try again."
}
