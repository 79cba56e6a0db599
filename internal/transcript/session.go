package transcript

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrMissingModel = errors.New("transcription session requires a model name")

// Session tracks one in-flight transcription job: the accumulated chunks and
// the status state machine. Status only moves forward: pending to completed,
// pending to failed; failed is terminal. Chunks keep arriving even after the
// status is terminal (a legacy full-transcript event completes the status
// while segment events may still follow) and are accepted by design.
type Session struct {
	mu  sync.Mutex
	rec *Transcription
}

// NewSession wraps a transcription record in pending state. A record without
// a model name is rejected here, before any worker is started.
func NewSession(rec *Transcription) (*Session, error) {
	if rec.Model == "" {
		return nil, ErrMissingModel
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	return &Session{rec: rec}, nil
}

// Apply folds one recognition event into the session state.
func (s *Session) Apply(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case EventTranscribed:
		filename := ev.Filename
		if filename == "" {
			filename = s.rec.FileName
		}
		s.rec.Chunks = append(s.rec.Chunks, Chunk{
			EventType: EventTranscribed,
			Session:   ev.Session,
			Offset:    ev.Offset,
			Duration:  ev.Duration,
			Text:      ev.Text,
			SpeakerID: ev.SpeakerID,
			ResultID:  ev.ResultID,
			Filename:  filename,
			Language:  s.rec.Language,
		})
	case EventTranscript:
		// Legacy event carrying the whole transcript at once.
		s.rec.Chunks = append(s.rec.Chunks, Chunk{
			EventType: EventTranscribed,
			Text:      ev.Text,
			Filename:  s.rec.FileName,
			Language:  s.rec.Language,
		})
		if s.rec.Status != StatusFailed {
			s.rec.Status = StatusCompleted
		}
	case EventTranscribedBatch:
		for _, res := range ev.Results {
			s.rec.Chunks = append(s.rec.Chunks, Chunk{
				EventType: EventTranscribed,
				Offset:    res.Offset,
				Duration:  res.Duration,
				Text:      res.Text,
				SpeakerID: res.SpeakerID,
				Filename:  s.rec.FileName,
				Language:  s.rec.Language,
			})
		}
		if s.rec.Status == StatusPending {
			s.rec.Status = StatusCompleted
		}
	case EventClosing, EventSessionStopped:
		if s.rec.Status == StatusPending {
			s.rec.Status = StatusCompleted
		}
	case EventError:
		if s.rec.Status == StatusFailed {
			slog.Debug("session already failed; ignoring repeated error event")
			return
		}
		s.rec.Status = StatusFailed
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec.Status
}

// Snapshot returns a copy of the record safe to hand to the history store.
func (s *Session) Snapshot() Transcription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *s.rec
	out.Chunks = make([]Chunk, len(s.rec.Chunks))
	copy(out.Chunks, s.rec.Chunks)
	return out
}

// SetID records the store-assigned identifier so later updates target the
// same row.
func (s *Session) SetID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.ID = id
}
