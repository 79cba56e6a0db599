package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transkriptor/backend/internal/history"
	"github.com/transkriptor/backend/internal/transcript"
)

// MemoryStore is the degraded-mode implementation used when the durable
// backend is not configured or failed to initialize. It honors the identical
// operation contracts, including version-token concurrency checks, but loses
// everything on process restart.
type MemoryStore struct {
	mu        sync.Mutex
	histories map[string]*memHistory
	seq       int64

	// beforeWrite, when set, runs between the version read and the
	// preconditioned write of UpdateTranscription. Test seam for forcing
	// concurrency conflicts.
	beforeWrite func(transcriptionID string)
}

type memHistory struct {
	rec            transcript.History
	seq            int64
	transcriptions []*memTranscription
}

type memTranscription struct {
	rec     transcript.Transcription
	version int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{histories: make(map[string]*memHistory)}
}

func (s *MemoryStore) CreateHistory(_ context.Context, userID, sessionID string, historyType transcript.HistoryType) (*transcript.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	h := &memHistory{
		rec: transcript.History{
			ID:        uuid.NewString(),
			UserID:    userID,
			SessionID: sessionID,
			Type:      historyType,
			Timestamp: time.Now(),
			Visible:   true,
		},
		seq: s.seq,
	}
	s.histories[h.rec.ID] = h
	out := h.rec
	return &out, nil
}

func (s *MemoryStore) AddTranscription(_ context.Context, historyID string, rec *transcript.Transcription) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[historyID]
	if !ok {
		return false, nil
	}
	rec.ID = uuid.NewString()
	stored := *rec
	stored.Chunks = append([]transcript.Chunk(nil), rec.Chunks...)
	h.transcriptions = append(h.transcriptions, &memTranscription{rec: stored, version: 1})
	return true, nil
}

func (s *MemoryStore) UpdateTranscription(ctx context.Context, historyID string, rec transcript.Transcription) (bool, error) {
	if rec.ID == "" {
		return false, history.ErrMissingID
	}

	err := history.WithConflictRetry(ctx, func() error {
		s.mu.Lock()
		cur := s.findTranscriptionLocked(historyID, rec.ID)
		if cur == nil {
			s.mu.Unlock()
			return errNotFound
		}
		version := cur.version
		s.mu.Unlock()

		if s.beforeWrite != nil {
			s.beforeWrite(rec.ID)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		cur = s.findTranscriptionLocked(historyID, rec.ID)
		if cur == nil {
			return errNotFound
		}
		if cur.version != version {
			return history.ErrConflict
		}
		cur.rec.Status = rec.Status
		cur.rec.Chunks = append([]transcript.Chunk(nil), rec.Chunks...)
		cur.rec.Timestamp = rec.Timestamp
		cur.version++
		return nil
	})
	if err != nil {
		if err == errNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) findTranscriptionLocked(historyID, id string) *memTranscription {
	h, ok := s.histories[historyID]
	if !ok {
		return nil
	}
	for _, t := range h.transcriptions {
		if t.rec.ID == id {
			return t
		}
	}
	return nil
}

func (s *MemoryStore) GetHistoryByID(_ context.Context, id string) (*transcript.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[id]
	if !ok {
		return nil, nil
	}
	out := copyPopulated(h)
	return &out, nil
}

func (s *MemoryStore) GetAllHistory(_ context.Context, visibleOnly bool, limit int) ([]transcript.History, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sortedLocked()
	// Newest first; transcriptions intentionally not populated.
	out := make([]transcript.History, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		h := all[i]
		if visibleOnly && !h.rec.Visible {
			continue
		}
		out = append(out, h.rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) GetUserHistory(_ context.Context, userID string, visibleOnly bool) ([]transcript.History, error) {
	return s.filtered(func(h *memHistory) bool { return h.rec.UserID == userID }, visibleOnly), nil
}

func (s *MemoryStore) GetSessionHistory(_ context.Context, sessionID string, visibleOnly bool) ([]transcript.History, error) {
	return s.filtered(func(h *memHistory) bool { return h.rec.SessionID == sessionID }, visibleOnly), nil
}

func (s *MemoryStore) filtered(match func(*memHistory) bool, visibleOnly bool) []transcript.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []transcript.History
	for _, h := range s.sortedLocked() {
		if !match(h) {
			continue
		}
		if visibleOnly && !h.rec.Visible {
			continue
		}
		out = append(out, copyPopulated(h))
	}
	return out
}

func (s *MemoryStore) sortedLocked() []*memHistory {
	all := make([]*memHistory, 0, len(s.histories))
	for _, h := range s.histories {
		all = append(all, h)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	return all
}

func (s *MemoryStore) ToggleVisibility(_ context.Context, id string, visible bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[id]
	if !ok {
		return false, nil
	}
	h.rec.Visible = visible
	return true, nil
}

func (s *MemoryStore) AttachAnalysis(_ context.Context, historyID string, transcriptionIndex int, analysis string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histories[historyID]
	if !ok {
		return false, nil
	}
	if transcriptionIndex < 0 || transcriptionIndex >= len(h.transcriptions) {
		return false, nil
	}
	h.transcriptions[transcriptionIndex].rec.Analysis = analysis
	return true, nil
}

func copyPopulated(h *memHistory) transcript.History {
	out := h.rec
	out.Transcriptions = make([]transcript.Transcription, 0, len(h.transcriptions))
	for _, t := range h.transcriptions {
		rec := t.rec
		rec.Chunks = append([]transcript.Chunk(nil), t.rec.Chunks...)
		out.Transcriptions = append(out.Transcriptions, rec)
	}
	return out
}

type notFoundError struct{}

func (notFoundError) Error() string { return "history entry not found" }

var errNotFound = notFoundError{}
