package transcript

import "time"

type EventType string

const (
	EventTranscribing    EventType = "transcribing"
	EventTranscribed     EventType = "transcribed"
	EventTranscript      EventType = "transcript"
	EventTranscribedBatch EventType = "transcribed_batch"
	EventClosing         EventType = "closing"
	EventSessionStopped  EventType = "session_stopped"
	EventError           EventType = "error"
)

// Terminal reports whether the event ends an outbound stream.
func (t EventType) Terminal() bool {
	switch t {
	case EventClosing, EventSessionStopped, EventError, EventTranscribedBatch:
		return true
	}
	return false
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

type Model string

const (
	ModelLLM           Model = "llm"
	ModelWhisper       Model = "whisper"
	ModelMSFT          Model = "msft"
	ModelAzureSpeechSDK Model = "azure_speech_sdk"
)

type HistoryType string

const (
	HistoryTypeTranscription     HistoryType = "transcription"
	HistoryTypeLiveTranscription HistoryType = "live_transcription"
	HistoryTypeTest              HistoryType = "test"
)

// Event is one recognition event as delivered to the client stream.
// Offset and Duration are in 100-nanosecond ticks.
type Event struct {
	Type      EventType     `json:"event_type"`
	Session   string        `json:"session,omitempty"`
	Offset    int64         `json:"offset,omitempty"`
	Duration  int64         `json:"duration,omitempty"`
	Text      string        `json:"text,omitempty"`
	SpeakerID string        `json:"speaker_id,omitempty"`
	ResultID  string        `json:"result_id,omitempty"`
	Filename  string        `json:"filename,omitempty"`
	Language  string        `json:"language,omitempty"`
	Message   string        `json:"message,omitempty"`
	Results   []BatchResult `json:"results,omitempty"`
}

// BatchResult is one recognized segment in a transcribed_batch payload.
type BatchResult struct {
	Text      string `json:"text"`
	Offset    int64  `json:"offset"`
	Duration  int64  `json:"duration"`
	SpeakerID string `json:"speaker_id,omitempty"`
	Language  string `json:"language,omitempty"`
}

// Chunk is an immutable fragment of recognized speech. Chunks are only ever
// appended to their parent Transcription; arrival order is preserved as-is,
// Offset and Duration carry the authoritative temporal ordering.
type Chunk struct {
	EventType EventType `json:"event_type"`
	Session   string    `json:"session,omitempty"`
	Offset    int64     `json:"offset"`
	Duration  int64     `json:"duration"`
	Text      string    `json:"text"`
	SpeakerID string    `json:"speaker_id,omitempty"`
	ResultID  string    `json:"result_id,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Language  string    `json:"language,omitempty"`
}

// Transcription is one submitted audio job and its accumulated output.
// ID is empty until the history store persists it for the first time.
type Transcription struct {
	ID               string    `json:"id,omitempty"`
	FileName         string    `json:"file_name"`
	FileNameOriginal string    `json:"file_name_original"`
	Chunks           []Chunk   `json:"transcript_chunks"`
	Language         string    `json:"language"`
	Model            Model     `json:"model"`
	Temperature      float64   `json:"temperature"`
	Diarization      string    `json:"diarization"`
	Combine          string    `json:"combine"`
	Analysis         string    `json:"analysis,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	Status           Status    `json:"status"`
}

// History groups the transcriptions of one user/session pairing.
type History struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	SessionID      string          `json:"session_id"`
	Type           HistoryType     `json:"type"`
	Transcriptions []Transcription `json:"transcriptions"`
	Timestamp      time.Time       `json:"timestamp"`
	Visible        bool            `json:"visible"`
}
