package transcript

import (
	"fmt"
	"testing"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(&Transcription{
		FileName: "meeting.wav",
		Language: "cs-CZ",
		Model:    ModelLLM,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return s
}

func TestNewSession_MissingModel(t *testing.T) {
	_, err := NewSession(&Transcription{FileName: "meeting.wav"})
	if err != ErrMissingModel {
		t.Fatalf("expected ErrMissingModel, got %v", err)
	}
}

func TestApply_TranscribedAppendsChunk(t *testing.T) {
	s := newTestSession(t)
	s.Apply(Event{Type: EventTranscribed, Text: "dobrý den", Offset: 100, Duration: 200, SpeakerID: "Guest-1"})
	s.Apply(Event{Type: EventTranscribed, Text: "na shledanou", Offset: 300, Duration: 150})

	snap := s.Snapshot()
	if snap.Status != StatusPending {
		t.Fatalf("expected status pending, got %s", snap.Status)
	}
	if len(snap.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(snap.Chunks))
	}
	if snap.Chunks[0].Text != "dobrý den" || snap.Chunks[1].Text != "na shledanou" {
		t.Fatalf("chunks out of order: %+v", snap.Chunks)
	}
	if snap.Chunks[0].Filename != "meeting.wav" {
		t.Fatalf("expected filename backfilled from record, got %q", snap.Chunks[0].Filename)
	}
}

func TestApply_LegacyTranscriptCompletes(t *testing.T) {
	s := newTestSession(t)
	s.Apply(Event{Type: EventTranscript, Text: "celý přepis"})

	if got := s.Status(); got != StatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	// Late segments after the legacy event are still accepted.
	s.Apply(Event{Type: EventTranscribed, Text: "dovětek"})
	snap := s.Snapshot()
	if len(snap.Chunks) != 2 {
		t.Fatalf("expected late chunk appended, got %d chunks", len(snap.Chunks))
	}
	if snap.Status != StatusCompleted {
		t.Fatalf("late chunk must not change status, got %s", snap.Status)
	}
}

func TestApply_ClosingIsIdempotentTerminal(t *testing.T) {
	s := newTestSession(t)
	s.Apply(Event{Type: EventClosing})
	if got := s.Status(); got != StatusCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	s.Apply(Event{Type: EventSessionStopped})
	if got := s.Status(); got != StatusCompleted {
		t.Fatalf("expected completed after repeated terminal event, got %s", got)
	}
}

func TestApply_ErrorOverridesAndIsTerminal(t *testing.T) {
	s := newTestSession(t)
	s.Apply(Event{Type: EventTranscribed, Text: "a"})
	s.Apply(Event{Type: EventError, Message: "backend exploded"})
	if got := s.Status(); got != StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	// No later event may change a failed status.
	s.Apply(Event{Type: EventClosing})
	s.Apply(Event{Type: EventTranscript, Text: "late full text"})
	s.Apply(Event{Type: EventError})
	if got := s.Status(); got != StatusFailed {
		t.Fatalf("failed must be terminal, got %s", got)
	}
}

func TestApply_StatusIsMonotonic(t *testing.T) {
	sequences := [][]EventType{
		{EventTranscribing, EventTranscribed, EventClosing, EventTranscribed, EventSessionStopped},
		{EventTranscript, EventTranscribed, EventClosing},
		{EventError, EventClosing, EventTranscript},
	}
	rank := map[Status]int{StatusPending: 0, StatusCompleted: 1, StatusFailed: 1}

	for i, seq := range sequences {
		s := newTestSession(t)
		prev := rank[s.Status()]
		for _, et := range seq {
			s.Apply(Event{Type: et, Text: "x"})
			cur := rank[s.Status()]
			if cur < prev {
				t.Fatalf("sequence %d: status regressed after %s", i, et)
			}
			prev = cur
		}
	}
}

func TestApply_BatchResultsAppendAndComplete(t *testing.T) {
	s := newTestSession(t)
	s.Apply(Event{Type: EventTranscribedBatch, Results: []BatchResult{
		{Text: "první", Offset: 0, Duration: 10_000_000, SpeakerID: "1"},
		{Text: "druhý", Offset: 10_000_000, Duration: 8_000_000, SpeakerID: "2"},
	}})

	rec := s.Snapshot()
	if rec.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", rec.Status)
	}
	if len(rec.Chunks) != 2 || rec.Chunks[0].Text != "první" || rec.Chunks[1].SpeakerID != "2" {
		t.Fatalf("batch results not folded into chunks: %+v", rec.Chunks)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	s := newTestSession(t)
	for i := 0; i < 4; i++ {
		s.Apply(Event{Type: EventTranscribed, Text: fmt.Sprintf("chunk %d", i)})
	}
	snap := s.Snapshot()
	snap.Chunks[0].Text = "mutated"
	if s.Snapshot().Chunks[0].Text == "mutated" {
		t.Fatal("snapshot must not alias the session's chunk slice")
	}
}
