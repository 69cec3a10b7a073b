// Package protocol defines the JSON messages exchanged on the bus.
package protocol

import "time"

// PodcastRequest asks a worker to build a podcast for a stored document.
type PodcastRequest struct {
	DocumentID string `json:"document_id"`
	Voice      string `json:"voice,omitempty"`
	RunID      string `json:"run_id,omitempty"`
}

// PodcastStatus reports progress of a run as it moves through the stages.
type PodcastStatus struct {
	RunID      string    `json:"run_id"`
	DocumentID string    `json:"document_id"`
	Stage      string    `json:"stage"`
	Detail     string    `json:"detail,omitempty"`
	Completed  int       `json:"completed,omitempty"`
	Total      int       `json:"total,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PodcastResult is published once per run, success or failure.
type PodcastResult struct {
	RunID           string    `json:"run_id"`
	DocumentID      string    `json:"document_id"`
	OK              bool      `json:"ok"`
	TrackURI        string    `json:"track_uri,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	SubjectPodcastRequest = "podcast.request"
	SubjectPodcastStatus  = "podcast.status"
	SubjectPodcastDone    = "podcast.done"
)
