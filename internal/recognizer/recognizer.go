package recognizer

import (
	"context"

	"github.com/transkriptor/backend/internal/transcript"
)

// Callback receives recognition events on the driver's own goroutine.
type Callback func(transcript.Event)

// StartParams describes one submitted job to a driver.
type StartParams struct {
	AudioPath        string
	ContentURL       string
	Language         string
	Channels         int
	BitsPerSample    int
	SamplesPerSecond int
	Diarization      bool
	Temperature      float64
	Filename         string
}

// StreamingDriver runs a recognition job to completion, emitting every event
// through the callback. Run is the single-channel entry point; RunAdvanced
// recognizes each channel of a multi-channel input simultaneously. Drivers
// emit their own terminal event on success; a returned error means the
// dispatcher owns emitting the final error event.
type StreamingDriver interface {
	Run(ctx context.Context, params StartParams, emit Callback) error
	RunAdvanced(ctx context.Context, params StartParams, emit Callback) error
}

// BatchDriver transcribes audio that is durably reachable by URL
// (params.ContentURL) and emits progress events ending in transcribed_batch.
type BatchDriver interface {
	RunBatch(ctx context.Context, params StartParams, emit Callback) error
}

// LiveResult is one recognized segment from a real-time stream.
type LiveResult struct {
	SpeakerID string  `json:"speaker"`
	Text      string  `json:"text"`
	Offset    float64 `json:"offset"`
	Duration  float64 `json:"duration"`
	Timestamp float64 `json:"timestamp"`
}

// LiveReceiver is invoked from the recognizer's receive goroutine.
type LiveReceiver interface {
	OnResult(res LiveResult)
	OnError(err error)
}

// LiveStream is the inbound audio sink of a live session.
type LiveStream interface {
	Write(audio []byte) error
	Close() error
}

// LiveTranscriber opens a continuous recognition connection for the live
// session registry.
type LiveTranscriber interface {
	StartLive(ctx context.Context, sessionKey, language string, receiver LiveReceiver) (LiveStream, error)
	// Available reports whether credentials for the backend are configured.
	Available() bool
}

// Analyzer produces a free-text analysis of a finished transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcriptText, customPrompt string) (string, error)
}
