package publisher

import (
	"context"
	"time"
)

// CompletionEvent is emitted downstream when a transcription reaches a
// terminal status.
type CompletionEvent struct {
	HistoryID       string    `json:"history_id"`
	TranscriptionID string    `json:"transcription_id"`
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	FileName        string    `json:"file_name"`
	Model           string    `json:"model"`
	Language        string    `json:"language"`
	Status          string    `json:"status"`
	ChunkCount      int       `json:"chunk_count"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Sender delivers completion events to downstream consumers. Delivery is
// best-effort; a failed publish never fails the transcription.
type Sender interface {
	Publish(ctx context.Context, ev CompletionEvent) error
	Close() error
}
