package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/transkriptor/backend/internal/audio"
	"github.com/transkriptor/backend/internal/history"
	"github.com/transkriptor/backend/internal/observability"
	"github.com/transkriptor/backend/internal/publisher"
	"github.com/transkriptor/backend/internal/recognizer"
	"github.com/transkriptor/backend/internal/storage"
	"github.com/transkriptor/backend/internal/transcript"
)

var (
	ErrInvalidModel = errors.New("unknown transcription model")
	// ErrNoBlobStorage rejects whisper submissions when no object storage is
	// configured; batch recognition needs a URL-reachable input.
	ErrNoBlobStorage = errors.New("blob storage is required for batch transcription")
)

const persistTimeout = 30 * time.Second

// SubmitParams is one transcription submission. Diarization and Combine are
// string-encoded booleans as the clients send them.
type SubmitParams struct {
	AudioPath   string
	Filename    string
	Language    string
	Model       string
	Temperature float64
	Diarization string
	Combine     string
	UserID      string
	SessionID   string
}

// Job is one running submission. The caller drains Job.Bridge until a
// terminal event, then calls Wait to join the worker.
type Job struct {
	Bridge    *transcript.Bridge
	Session   *transcript.Session
	HistoryID string

	done chan struct{}
}

func (j *Job) Wait() {
	<-j.done
}

// Deps are the dispatcher's collaborators. Blobs may be nil when object
// storage is not configured; everything else is required.
type Deps struct {
	Speech    recognizer.StreamingDriver
	LLM       recognizer.StreamingDriver
	Batch     recognizer.BatchDriver
	Inspector audio.Inspector
	Converter audio.Converter
	Blobs     storage.BlobStore
	Store     history.Store
	Sender    publisher.Sender
	Metrics   *observability.Metrics

	SignedURLTTL    time.Duration
	DefaultLanguage string
}

// Dispatcher selects one backend driver per submission and runs it on its
// own goroutine, relaying every event through the bridge and mirroring it
// into the session.
type Dispatcher struct {
	deps Deps
}

func New(deps Deps) *Dispatcher {
	return &Dispatcher{deps: deps}
}

// Submit validates the submission, resolves history attachment, and starts
// the worker. Validation failures return before any worker or history record
// is created.
func (d *Dispatcher) Submit(ctx context.Context, params SubmitParams) (*Job, error) {
	model := transcript.Model(params.Model)
	switch model {
	case transcript.ModelMSFT, transcript.ModelLLM, transcript.ModelWhisper:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidModel, params.Model)
	}
	if model == transcript.ModelWhisper && d.deps.Blobs == nil {
		return nil, ErrNoBlobStorage
	}

	language := params.Language
	if language == "" {
		language = d.deps.DefaultLanguage
	}

	session, err := transcript.NewSession(&transcript.Transcription{
		FileName:         params.AudioPath,
		FileNameOriginal: params.Filename,
		Language:         language,
		Model:            model,
		Temperature:      params.Temperature,
		Diarization:      params.Diarization,
		Combine:          params.Combine,
	})
	if err != nil {
		return nil, err
	}

	info, err := d.deps.Inspector.Inspect(params.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("inspect audio: %w", err)
	}

	run, err := d.selectRunner(ctx, model, params, info, language)
	if err != nil {
		return nil, err
	}

	historyID, err := d.attachHistory(ctx, params, session)
	if err != nil {
		return nil, err
	}

	job := &Job{
		Bridge:    transcript.NewBridge(),
		Session:   session,
		HistoryID: historyID,
		done:      make(chan struct{}),
	}

	emit := func(ev transcript.Event) {
		session.Apply(ev)
		d.deps.Metrics.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()
		job.Bridge.Emit(ev)
	}

	d.deps.Metrics.SessionsStarted.WithLabelValues(string(model)).Inc()
	start := time.Now()
	go func() {
		defer close(job.done)
		if err := run(ctx, emit); err != nil {
			slog.Error("transcription worker failed",
				"model", model, "filename", params.Filename, "error", err)
			emit(transcript.Event{
				Type:     transcript.EventError,
				Message:  err.Error(),
				Filename: params.Filename,
			})
		}
		d.finish(job, params, model, language, time.Since(start))
	}()
	return job, nil
}

type runner func(ctx context.Context, emit recognizer.Callback) error

func (d *Dispatcher) selectRunner(ctx context.Context, model transcript.Model, params SubmitParams, info audio.Info, language string) (runner, error) {
	start := recognizer.StartParams{
		AudioPath:        params.AudioPath,
		Language:         language,
		Channels:         info.Channels,
		BitsPerSample:    info.BitsPerSample,
		SamplesPerSecond: info.SamplesPerSecond,
		Diarization:      parseBool(params.Diarization),
		Temperature:      params.Temperature,
		Filename:         params.Filename,
	}

	switch model {
	case transcript.ModelMSFT:
		path := params.AudioPath
		if info.Filetype != "wav" {
			converted, err := d.deps.Converter.ToWAV(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("convert to wav: %w", err)
			}
			path = converted
			redo, err := d.deps.Inspector.Inspect(path)
			if err != nil {
				return nil, fmt.Errorf("inspect converted audio: %w", err)
			}
			info = redo
		}
		// The advanced entry point recognizes every channel simultaneously;
		// without combine, stereo is folded down to mono first.
		if info.Channels > 1 && parseBool(params.Combine) {
			start.AudioPath = path
			start.Channels = info.Channels
			start.SamplesPerSecond = info.SamplesPerSecond
			return func(ctx context.Context, emit recognizer.Callback) error {
				return d.deps.Speech.RunAdvanced(ctx, start, emit)
			}, nil
		}
		if info.Channels > 1 {
			mono, err := d.deps.Converter.ToMono(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("convert to mono: %w", err)
			}
			path = mono
			redo, err := d.deps.Inspector.Inspect(path)
			if err != nil {
				return nil, fmt.Errorf("inspect converted audio: %w", err)
			}
			info = redo
		}
		start.AudioPath = path
		start.Channels = info.Channels
		start.SamplesPerSecond = info.SamplesPerSecond
		return func(ctx context.Context, emit recognizer.Callback) error {
			return d.deps.Speech.Run(ctx, start, emit)
		}, nil

	case transcript.ModelLLM:
		// Entry point chosen on the original channel count; the endpoint
		// accepts any container format, so no conversion.
		if info.Channels > 1 {
			return func(ctx context.Context, emit recognizer.Callback) error {
				return d.deps.LLM.RunAdvanced(ctx, start, emit)
			}, nil
		}
		return func(ctx context.Context, emit recognizer.Callback) error {
			return d.deps.LLM.Run(ctx, start, emit)
		}, nil

	case transcript.ModelWhisper:
		path := params.AudioPath
		if info.Filetype != "wav" {
			converted, err := d.deps.Converter.ToWAV(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("convert to wav: %w", err)
			}
			path = converted
		}
		blobName := fmt.Sprintf("batch/%d_%s", time.Now().UnixNano(), params.Filename)
		signedURL, err := d.deps.Blobs.Upload(ctx, path, blobName, d.deps.SignedURLTTL)
		if err != nil {
			return nil, fmt.Errorf("upload audio for batch transcription: %w", err)
		}
		start.AudioPath = path
		start.ContentURL = signedURL
		return func(ctx context.Context, emit recognizer.Callback) error {
			return d.deps.Batch.RunBatch(ctx, start, emit)
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidModel, model)
}

// attachHistory resolves or creates the history record for a submission that
// carries both identifiers, and registers the pending transcription under it.
func (d *Dispatcher) attachHistory(ctx context.Context, params SubmitParams, session *transcript.Session) (string, error) {
	if params.UserID == "" || params.SessionID == "" {
		return "", nil
	}

	existing, err := d.deps.Store.GetSessionHistory(ctx, params.SessionID, false)
	if err != nil {
		return "", fmt.Errorf("resolve session history: %w", err)
	}
	var historyID string
	if len(existing) > 0 {
		historyID = existing[len(existing)-1].ID
	} else {
		h, err := d.deps.Store.CreateHistory(ctx, params.UserID, params.SessionID, transcript.HistoryTypeTranscription)
		if err != nil {
			return "", fmt.Errorf("create history: %w", err)
		}
		historyID = h.ID
	}

	rec := session.Snapshot()
	ok, err := d.deps.Store.AddTranscription(ctx, historyID, &rec)
	if err != nil {
		return "", fmt.Errorf("register transcription: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("history %s disappeared before transcription could be registered", historyID)
	}
	session.SetID(rec.ID)
	return historyID, nil
}

// finish persists the terminal state and publishes the completion event. The
// client already saw the terminal event; failures here are logged, never
// propagated.
func (d *Dispatcher) finish(job *Job, params SubmitParams, model transcript.Model, language string, elapsed time.Duration) {
	rec := job.Session.Snapshot()
	d.deps.Metrics.SessionDuration.WithLabelValues(string(model)).Observe(elapsed.Seconds())
	if rec.Status == transcript.StatusFailed {
		d.deps.Metrics.SessionsFailed.WithLabelValues(string(model)).Inc()
	} else {
		d.deps.Metrics.SessionsCompleted.WithLabelValues(string(model)).Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if job.HistoryID != "" {
		rec.Timestamp = time.Now()
		ok, err := d.deps.Store.UpdateTranscription(ctx, job.HistoryID, rec)
		if err != nil || !ok {
			slog.Error("failed to persist finished transcription",
				"history_id", job.HistoryID, "transcription_id", rec.ID, "ok", ok, "error", err)
		}
	}

	ev := publisher.CompletionEvent{
		HistoryID:       job.HistoryID,
		TranscriptionID: rec.ID,
		SessionID:       params.SessionID,
		UserID:          params.UserID,
		FileName:        rec.FileNameOriginal,
		Model:           string(model),
		Language:        language,
		Status:          string(rec.Status),
		ChunkCount:      len(rec.Chunks),
		FinishedAt:      time.Now(),
	}
	if err := d.deps.Sender.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish completion event", "session_id", params.SessionID, "error", err)
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}
