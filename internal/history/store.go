package history

import (
	"context"
	"errors"
	"time"

	"github.com/transkriptor/backend/internal/transcript"
)

var (
	// ErrMissingID marks an update attempted before the transcription was
	// ever persisted; no write is attempted.
	ErrMissingID = errors.New("transcription has no assigned id")
	// ErrConflict is returned by an implementation when a preconditioned
	// write lost the race against a concurrent writer.
	ErrConflict = errors.New("optimistic concurrency precondition failed")
)

const (
	conflictRetryAttempts = 3
	conflictBackoffBase   = 100 * time.Millisecond
)

// Store is the durable record of sessions and their transcriptions. Read
// paths never fail on absence: a missing id yields (nil, nil) or (false, nil).
type Store interface {
	CreateHistory(ctx context.Context, userID, sessionID string, historyType transcript.HistoryType) (*transcript.History, error)

	// AddTranscription assigns a fresh id into rec and persists it under the
	// given history. Returns false when the history does not exist.
	AddTranscription(ctx context.Context, historyID string, rec *transcript.Transcription) (bool, error)

	// UpdateTranscription rewrites status, chunks and timestamp of an already
	// persisted transcription. rec.ID must be assigned; a concurrent-writer
	// conflict is retried with exponential backoff before giving up.
	UpdateTranscription(ctx context.Context, historyID string, rec transcript.Transcription) (bool, error)

	GetHistoryByID(ctx context.Context, id string) (*transcript.History, error)

	// GetAllHistory returns shallow records (transcriptions not populated),
	// newest first, truncated to limit.
	GetAllHistory(ctx context.Context, visibleOnly bool, limit int) ([]transcript.History, error)

	// GetUserHistory and GetSessionHistory return fully populated records,
	// sorted ascending by creation time.
	GetUserHistory(ctx context.Context, userID string, visibleOnly bool) ([]transcript.History, error)
	GetSessionHistory(ctx context.Context, sessionID string, visibleOnly bool) ([]transcript.History, error)

	ToggleVisibility(ctx context.Context, id string, visible bool) (bool, error)

	AttachAnalysis(ctx context.Context, historyID string, transcriptionIndex int, analysis string) (bool, error)
}

// WithConflictRetry runs fn up to three attempts total, sleeping with a
// doubling backoff (base 100ms) between attempts that fail with ErrConflict.
// Any other error aborts immediately.
func WithConflictRetry(ctx context.Context, fn func() error) error {
	backoff := conflictBackoffBase
	var err error
	for attempt := 0; attempt < conflictRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = fn()
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}
