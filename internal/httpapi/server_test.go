package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	externalhistory "github.com/transkriptor/backend/external/history"
	"github.com/transkriptor/backend/internal/audio"
	"github.com/transkriptor/backend/internal/config"
	"github.com/transkriptor/backend/internal/dispatcher"
	"github.com/transkriptor/backend/internal/live"
	"github.com/transkriptor/backend/internal/observability"
	"github.com/transkriptor/backend/internal/publisher"
	"github.com/transkriptor/backend/internal/recognizer"
	"github.com/transkriptor/backend/internal/transcript"
)

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

type fakeInspector struct{}

func (fakeInspector) Inspect(string) (audio.Info, error) {
	return audio.Info{Filetype: "wav", Channels: 1, BitsPerSample: 16, SamplesPerSecond: 16000}, nil
}

type fakeConverter struct{}

func (fakeConverter) ToWAV(_ context.Context, path string) (string, error)  { return path, nil }
func (fakeConverter) ToMono(_ context.Context, path string) (string, error) { return path, nil }

type fakeDriver struct{}

func (fakeDriver) Run(_ context.Context, _ recognizer.StartParams, emit recognizer.Callback) error {
	emit(transcript.Event{Type: transcript.EventTranscribed, Text: "ahoj"})
	emit(transcript.Event{Type: transcript.EventClosing})
	return nil
}

func (d fakeDriver) RunAdvanced(ctx context.Context, p recognizer.StartParams, emit recognizer.Callback) error {
	return d.Run(ctx, p, emit)
}

type fakeBatch struct{}

func (fakeBatch) RunBatch(_ context.Context, _ recognizer.StartParams, emit recognizer.Callback) error {
	emit(transcript.Event{Type: transcript.EventTranscribedBatch})
	return nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(_ context.Context, text, _ string) (string, error) {
	return "analysis of " + strings.TrimSpace(text), nil
}

type nopSender struct{}

func (nopSender) Publish(context.Context, publisher.CompletionEvent) error { return nil }
func (nopSender) Close() error                                             { return nil }

type offlineTranscriber struct{}

func (offlineTranscriber) StartLive(context.Context, string, string, recognizer.LiveReceiver) (recognizer.LiveStream, error) {
	return nil, nil
}
func (offlineTranscriber) Available() bool { return false }

func newTestServer(t *testing.T) (*Server, *externalhistory.MemoryStore, string) {
	t.Helper()
	dataDir := t.TempDir()
	cfg := &config.Config{
		Env:                  "development",
		ServerPort:           8080,
		DataDir:              dataDir,
		DefaultLanguage:      "cs-CZ",
		SignedURLTTLHours:    24,
		BatchPollIntervalSec: 5,
	}
	store := externalhistory.NewMemoryStore()
	metrics := metricsForTest()
	d := dispatcher.New(dispatcher.Deps{
		Speech:          fakeDriver{},
		LLM:             fakeDriver{},
		Batch:           fakeBatch{},
		Inspector:       fakeInspector{},
		Converter:       fakeConverter{},
		Store:           store,
		Sender:          nopSender{},
		Metrics:         metrics,
		SignedURLTTL:    24 * time.Hour,
		DefaultLanguage: "cs-CZ",
	})
	registry := live.NewRegistry(offlineTranscriber{}, metrics, "cs-CZ")
	return NewServer(cfg, d, store, registry, fakeAnalyzer{}, nil), store, dataDir
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	app := s.App()

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSubmitUnknownFileReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)
	app := s.App()

	body, _ := json.Marshal(map[string]any{"filename": "missing.wav", "model": "llm"})
	req := httptest.NewRequest("POST", "/submit", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmitInvalidModelReturns400(t *testing.T) {
	s, store, dataDir := newTestServer(t)
	app := s.App()
	if err := os.WriteFile(filepath.Join(dataDir, "a.wav"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]any{
		"filename": "a.wav", "model": "bogus", "user_id": "U", "session_id": "S",
	})
	req := httptest.NewRequest("POST", "/submit", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	histories, _ := store.GetSessionHistory(context.Background(), "S", false)
	if len(histories) != 0 {
		t.Errorf("rejected submission created history: %+v", histories)
	}
}

func TestSubmitStreamsEventsUntilTerminal(t *testing.T) {
	s, _, dataDir := newTestServer(t)
	app := s.App()
	if err := os.WriteFile(filepath.Join(dataDir, "a.wav"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]any{"filename": "a.wav", "model": "llm"})
	req := httptest.NewRequest("POST", "/submit", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); !strings.HasPrefix(got, "text/event-stream") {
		t.Errorf("content type = %q, want text/event-stream", got)
	}

	payload, _ := io.ReadAll(resp.Body)
	text := string(payload)
	if !strings.Contains(text, `"event_type":"transcribed"`) {
		t.Errorf("stream missing transcribed event: %s", text)
	}
	if !strings.Contains(text, `"event_type":"closing"`) {
		t.Errorf("stream missing terminal closing event: %s", text)
	}
}

func TestHistoryLifecycle(t *testing.T) {
	s, _, _ := newTestServer(t)
	app := s.App()

	body, _ := json.Marshal(map[string]any{"user_id": "U", "session_id": "S"})
	req := httptest.NewRequest("POST", "/history", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if resp.StatusCode != 201 {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created transcript.History
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/history/"+created.ID, nil))
	if resp.StatusCode != 200 {
		t.Errorf("get status = %d, want 200", resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/history/00000000-0000-0000-0000-000000000000", nil))
	if resp.StatusCode != 404 {
		t.Errorf("get of unknown id status = %d, want 404", resp.StatusCode)
	}

	vis, _ := json.Marshal(map[string]any{"visible": false})
	req = httptest.NewRequest("PATCH", "/history/"+created.ID+"/visibility", bytes.NewReader(vis))
	req.Header.Set("Content-Type", "application/json")
	resp, _ = app.Test(req)
	if resp.StatusCode != 200 {
		t.Errorf("visibility status = %d, want 200", resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/history?visible_only=true", nil))
	var listing struct {
		Histories []transcript.History `json:"histories"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&listing)
	if len(listing.Histories) != 0 {
		t.Errorf("hidden history still listed: %+v", listing.Histories)
	}
}

func TestLoadFilesWithoutBlobStorageReturns503(t *testing.T) {
	s, _, _ := newTestServer(t)
	app := s.App()

	resp, err := app.Test(httptest.NewRequest("GET", "/loadfiles", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestLivePushAndStatus(t *testing.T) {
	s, _, _ := newTestServer(t)
	app := s.App()

	req := httptest.NewRequest("POST", "/live/room-1/push", bytes.NewReader(make([]byte, 16000)))
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("push status = %d, want 200", resp.StatusCode)
	}
	var pushed live.PushResult
	if err := json.NewDecoder(resp.Body).Decode(&pushed); err != nil {
		t.Fatalf("decode push response: %v", err)
	}
	if !pushed.Mock || len(pushed.Results) == 0 {
		t.Errorf("push result = %+v, want mock results", pushed)
	}

	resp, _ = app.Test(httptest.NewRequest("GET", "/live/status", nil))
	var status struct {
		Sessions []string `json:"sessions"`
		Count    int      `json:"count"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&status)
	if status.Count != 1 || len(status.Sessions) != 1 {
		t.Errorf("status = %+v, want one active session", status)
	}
}

func TestLiveSavePersistsHistory(t *testing.T) {
	s, store, _ := newTestServer(t)
	app := s.App()

	req := httptest.NewRequest("POST", "/live/room-2/push", bytes.NewReader(make([]byte, 32000)))
	req.Header.Set("Content-Type", "application/octet-stream")
	if _, err := app.Test(req, 5000); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	body, _ := json.Marshal(map[string]any{"user_id": "U"})
	req = httptest.NewRequest("POST", "/live/room-2/save", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if resp.StatusCode != 201 {
		t.Fatalf("save status = %d, want 201", resp.StatusCode)
	}

	histories, _ := store.GetSessionHistory(context.Background(), "room-2", false)
	if len(histories) != 1 {
		t.Fatalf("got %d histories, want 1", len(histories))
	}
	h := histories[0]
	if h.Type != transcript.HistoryTypeLiveTranscription {
		t.Errorf("history type = %q, want live_transcription", h.Type)
	}
	if len(h.Transcriptions) != 1 {
		t.Fatalf("got %d transcriptions, want 1", len(h.Transcriptions))
	}
	rec := h.Transcriptions[0]
	if rec.Model != transcript.ModelAzureSpeechSDK {
		t.Errorf("model = %q, want azure_speech_sdk", rec.Model)
	}
	if rec.Status != transcript.StatusCompleted || len(rec.Chunks) == 0 {
		t.Errorf("unexpected saved transcription: %+v", rec)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	app := s.App()

	body, _ := json.Marshal(map[string]any{"text": "dobrý den"})
	req := httptest.NewRequest("POST", "/analyze", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Analysis string `json:"analysis"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.Analysis != "analysis of dobrý den" {
		t.Errorf("analysis = %q", out.Analysis)
	}
}
