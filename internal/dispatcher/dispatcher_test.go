package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	externalhistory "github.com/transkriptor/backend/external/history"
	"github.com/transkriptor/backend/internal/audio"
	"github.com/transkriptor/backend/internal/observability"
	"github.com/transkriptor/backend/internal/publisher"
	"github.com/transkriptor/backend/internal/recognizer"
	"github.com/transkriptor/backend/internal/transcript"
)

// promauto registers on the global registry; one instance per test binary.
var (
	testMetrics     *observability.Metrics
	testMetricsOnce sync.Once
)

func metricsForTest() *observability.Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = observability.NewMetrics()
	})
	return testMetrics
}

type fakeInspector struct {
	info audio.Info
}

func (f *fakeInspector) Inspect(string) (audio.Info, error) {
	return f.info, nil
}

type fakeConverter struct {
	toWAVCalls  int
	toMonoCalls int
}

func (f *fakeConverter) ToWAV(_ context.Context, path string) (string, error) {
	f.toWAVCalls++
	return path, nil
}

func (f *fakeConverter) ToMono(_ context.Context, path string) (string, error) {
	f.toMonoCalls++
	return path, nil
}

type fakeDriver struct {
	mu          sync.Mutex
	events      []transcript.Event
	err         error
	runs        int
	advancedRun bool
}

func (f *fakeDriver) Run(_ context.Context, _ recognizer.StartParams, emit recognizer.Callback) error {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	for _, ev := range f.events {
		emit(ev)
	}
	if f.err != nil {
		return f.err
	}
	emit(transcript.Event{Type: transcript.EventClosing})
	return nil
}

func (f *fakeDriver) RunAdvanced(ctx context.Context, params recognizer.StartParams, emit recognizer.Callback) error {
	f.mu.Lock()
	f.advancedRun = true
	f.mu.Unlock()
	return f.Run(ctx, params, emit)
}

func (f *fakeDriver) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fakeBatchDriver struct{}

func (fakeBatchDriver) RunBatch(_ context.Context, _ recognizer.StartParams, emit recognizer.Callback) error {
	emit(transcript.Event{Type: transcript.EventTranscribedBatch})
	return nil
}

type nopSender struct{}

func (nopSender) Publish(context.Context, publisher.CompletionEvent) error { return nil }
func (nopSender) Close() error                                             { return nil }

func newTestDispatcher(llm *fakeDriver) (*Dispatcher, *externalhistory.MemoryStore) {
	store := externalhistory.NewMemoryStore()
	d := New(Deps{
		Speech:          &fakeDriver{},
		LLM:             llm,
		Batch:           fakeBatchDriver{},
		Inspector:       &fakeInspector{info: audio.Info{Filetype: "wav", Channels: 1, BitsPerSample: 16, SamplesPerSecond: 16000}},
		Converter:       &fakeConverter{},
		Store:           store,
		Sender:          nopSender{},
		Metrics:         metricsForTest(),
		SignedURLTTL:    24 * time.Hour,
		DefaultLanguage: "cs-CZ",
	})
	return d, store
}

func drainUntilTerminal(t *testing.T, job *Job) []transcript.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var events []transcript.Event
	for {
		ev, err := job.Bridge.Next(ctx)
		if err != nil {
			t.Fatalf("bridge drain failed: %v", err)
		}
		events = append(events, ev)
		if ev.Type.Terminal() {
			return events
		}
	}
}

func TestSubmitEndToEndPersistsHistory(t *testing.T) {
	llm := &fakeDriver{events: []transcript.Event{
		{Type: transcript.EventTranscribed, Text: "dobrý den", Offset: 0, Duration: 10_000_000},
		{Type: transcript.EventTranscribed, Text: "na shledanou", Offset: 10_000_000, Duration: 8_000_000},
	}}
	d, store := newTestDispatcher(llm)

	job, err := d.Submit(context.Background(), SubmitParams{
		AudioPath: "/tmp/audio.wav",
		Filename:  "audio.wav",
		Language:  "cs-CZ",
		Model:     "llm",
		UserID:    "U",
		SessionID: "S",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	events := drainUntilTerminal(t, job)
	if events[len(events)-1].Type != transcript.EventClosing {
		t.Errorf("terminal event = %q, want closing", events[len(events)-1].Type)
	}
	job.Wait()

	if job.Session.Status() != transcript.StatusCompleted {
		t.Errorf("session status = %q, want completed", job.Session.Status())
	}

	histories, err := store.GetSessionHistory(context.Background(), "S", false)
	if err != nil {
		t.Fatalf("GetSessionHistory failed: %v", err)
	}
	if len(histories) != 1 {
		t.Fatalf("got %d histories for session S, want 1", len(histories))
	}
	h := histories[0]
	if h.UserID != "U" {
		t.Errorf("history user = %q, want U", h.UserID)
	}
	if len(h.Transcriptions) != 1 {
		t.Fatalf("got %d transcriptions, want 1", len(h.Transcriptions))
	}
	rec := h.Transcriptions[0]
	if rec.Status != transcript.StatusCompleted {
		t.Errorf("persisted status = %q, want completed", rec.Status)
	}
	if len(rec.Chunks) != 2 || rec.Chunks[0].Text != "dobrý den" || rec.Chunks[1].Text != "na shledanou" {
		t.Errorf("persisted chunks do not match emitted events: %+v", rec.Chunks)
	}
}

func TestSubmitReusesExistingSessionHistory(t *testing.T) {
	llm := &fakeDriver{}
	d, store := newTestDispatcher(llm)

	for i := 0; i < 2; i++ {
		job, err := d.Submit(context.Background(), SubmitParams{
			AudioPath: "/tmp/audio.wav",
			Filename:  "audio.wav",
			Model:     "llm",
			UserID:    "U",
			SessionID: "S",
		})
		if err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		drainUntilTerminal(t, job)
		job.Wait()
	}

	histories, _ := store.GetSessionHistory(context.Background(), "S", false)
	if len(histories) != 1 {
		t.Fatalf("got %d histories, want the second submission to reuse the first", len(histories))
	}
	if len(histories[0].Transcriptions) != 2 {
		t.Errorf("got %d transcriptions under the shared history, want 2", len(histories[0].Transcriptions))
	}
}

func TestSubmitInvalidModelRejectsImmediately(t *testing.T) {
	llm := &fakeDriver{}
	d, store := newTestDispatcher(llm)

	_, err := d.Submit(context.Background(), SubmitParams{
		AudioPath: "/tmp/audio.wav",
		Model:     "bogus",
		UserID:    "U",
		SessionID: "S",
	})
	if !errors.Is(err, ErrInvalidModel) {
		t.Fatalf("err = %v, want ErrInvalidModel", err)
	}

	if llm.runCount() != 0 {
		t.Error("worker was started for an invalid model")
	}
	histories, _ := store.GetSessionHistory(context.Background(), "S", false)
	if len(histories) != 0 {
		t.Errorf("history record created for a rejected submission: %+v", histories)
	}
}

func TestSubmitWhisperWithoutBlobStorageFails(t *testing.T) {
	d, _ := newTestDispatcher(&fakeDriver{})

	_, err := d.Submit(context.Background(), SubmitParams{
		AudioPath: "/tmp/audio.wav",
		Model:     "whisper",
	})
	if !errors.Is(err, ErrNoBlobStorage) {
		t.Fatalf("err = %v, want ErrNoBlobStorage", err)
	}
}

func TestSubmitDriverErrorEmitsTerminalErrorEvent(t *testing.T) {
	llm := &fakeDriver{
		events: []transcript.Event{{Type: transcript.EventTranscribed, Text: "část"}},
		err:    errors.New("backend exploded"),
	}
	d, store := newTestDispatcher(llm)

	job, err := d.Submit(context.Background(), SubmitParams{
		AudioPath: "/tmp/audio.wav",
		Model:     "llm",
		UserID:    "U",
		SessionID: "S",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	events := drainUntilTerminal(t, job)
	last := events[len(events)-1]
	if last.Type != transcript.EventError || last.Message == "" {
		t.Errorf("terminal event = %+v, want error with message", last)
	}
	job.Wait()

	histories, _ := store.GetSessionHistory(context.Background(), "S", false)
	if len(histories) != 1 || len(histories[0].Transcriptions) != 1 {
		t.Fatalf("unexpected history layout: %+v", histories)
	}
	if got := histories[0].Transcriptions[0].Status; got != transcript.StatusFailed {
		t.Errorf("persisted status = %q, want failed", got)
	}
}

func TestSubmitAdvancedEntryPointForMultiChannelLLM(t *testing.T) {
	llm := &fakeDriver{}
	d, _ := newTestDispatcher(llm)
	d.deps.Inspector = &fakeInspector{info: audio.Info{Filetype: "wav", Channels: 2, BitsPerSample: 16, SamplesPerSecond: 44100}}

	job, err := d.Submit(context.Background(), SubmitParams{
		AudioPath: "/tmp/stereo.wav",
		Model:     "llm",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	drainUntilTerminal(t, job)
	job.Wait()

	if !llm.advancedRun {
		t.Error("stereo input was not routed to the advanced entry point")
	}
}
