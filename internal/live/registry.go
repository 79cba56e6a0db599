package live

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/transkriptor/backend/internal/observability"
	"github.com/transkriptor/backend/internal/recognizer"
)

const (
	// pushWait bounds how long a push lingers for fresh results before
	// returning; recognition keeps running either way.
	pushWait = 500 * time.Millisecond
	// freshWindow is how far back a push reports results.
	freshWindow = 5 * time.Second
	// retention prunes anything older from the buffer.
	retention = 30 * time.Second
)

// PushResult is what one audio push reports back: results produced recently,
// and whether they come from the real recognizer or the deterministic mock.
type PushResult struct {
	Results []recognizer.LiveResult `json:"results"`
	Mock    bool                    `json:"mock"`
}

// Registry owns every concurrent live session for the process lifetime,
// keyed by a caller-chosen identifier. Nothing here is durable.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	transcriber recognizer.LiveTranscriber
	metrics     *observability.Metrics
	language    string
}

func NewRegistry(transcriber recognizer.LiveTranscriber, metrics *observability.Metrics, defaultLanguage string) *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		transcriber: transcriber,
		metrics:     metrics,
		language:    defaultLanguage,
	}
}

// Session is one live recognition connection plus its result buffer. In mock
// mode there is no connection and pushes synthesize deterministic results.
type Session struct {
	key  string
	mock bool

	mu      sync.Mutex
	stream  recognizer.LiveStream
	buffer  []timedResult
	notify  chan struct{}
	counter int
	offset  float64
}

type timedResult struct {
	res     recognizer.LiveResult
	addedAt time.Time
}

// OnResult implements recognizer.LiveReceiver.
func (s *Session) OnResult(res recognizer.LiveResult) {
	s.mu.Lock()
	s.buffer = append(s.buffer, timedResult{res: res, addedAt: time.Now()})
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// OnError implements recognizer.LiveReceiver. Recognition errors end up in
// the logs; the session stays registered so the client can stop it cleanly.
func (s *Session) OnError(err error) {
	slog.Error("live recognition error", "session_key", s.key, "error", err)
}

// GetOrCreate returns the session for the key, starting a recognizer
// connection the first time the key is seen. Without credentials the session
// runs in mock mode. The connection lives until Cleanup, not until the
// creating request finishes.
func (r *Registry) GetOrCreate(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[key]; ok {
		return sess
	}

	sess := &Session{
		key:    key,
		notify: make(chan struct{}, 1),
	}
	if r.transcriber != nil && r.transcriber.Available() {
		stream, err := r.transcriber.StartLive(context.Background(), key, r.language, sess)
		if err != nil {
			slog.Warn("live recognizer failed to start, session degraded to mock",
				"session_key", key, "error", err)
			sess.mock = true
		} else {
			sess.stream = stream
		}
	} else {
		slog.Info("live recognizer credentials absent, session runs in mock mode", "session_key", key)
		sess.mock = true
	}

	r.sessions[key] = sess
	r.metrics.LiveSessionsActive.Set(float64(len(r.sessions)))
	slog.Info("live session created", "session_key", key, "mock", sess.mock)
	return sess
}

// PushAudio forwards one audio chunk into the session's recognizer, waits
// briefly for fresh results and returns everything produced within the
// recent window. The buffer is pruned of anything past retention.
func (r *Registry) PushAudio(ctx context.Context, key string, audio []byte) (PushResult, error) {
	sess := r.GetOrCreate(key)
	r.metrics.LiveAudioBytes.Add(float64(len(audio)))
	mark := time.Now()

	if sess.mock {
		sess.appendMockResult(key, audio)
	} else if err := sess.writeAudio(audio); err != nil {
		return PushResult{Mock: sess.mock}, fmt.Errorf("push audio to live session %s: %w", key, err)
	}

	deadline := time.NewTimer(pushWait)
	defer deadline.Stop()
	for {
		if results := sess.freshResults(mark.Add(-freshWindow)); len(results) > 0 {
			return PushResult{Results: results, Mock: sess.mock}, nil
		}
		select {
		case <-ctx.Done():
			return PushResult{Mock: sess.mock}, ctx.Err()
		case <-deadline.C:
			return PushResult{Results: sess.freshResults(mark.Add(-freshWindow)), Mock: sess.mock}, nil
		case <-sess.notify:
		}
	}
}

// DrainResults returns and clears everything buffered since the last drain.
func (r *Registry) DrainResults(key string) []recognizer.LiveResult {
	r.mu.Lock()
	sess, ok := r.sessions[key]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]recognizer.LiveResult, 0, len(sess.buffer))
	for _, tr := range sess.buffer {
		out = append(out, tr.res)
	}
	sess.buffer = nil
	r.metrics.LiveResultsServed.Add(float64(len(out)))
	return out
}

// Cleanup stops the session's recognizer and removes it. Unknown keys are a
// logged no-op.
func (r *Registry) Cleanup(key string) {
	r.mu.Lock()
	sess, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.metrics.LiveSessionsActive.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	if !ok {
		slog.Debug("cleanup of unknown live session", "session_key", key)
		return
	}
	if sess.stream != nil {
		if err := sess.stream.Close(); err != nil {
			slog.Warn("failed to close live stream", "session_key", key, "error", err)
		}
	}
	slog.Info("live session cleaned up", "session_key", key)
}

// ActiveKeys lists the currently registered session keys.
func (r *Registry) ActiveKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	return keys
}

func (s *Session) writeAudio(audio []byte) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return fmt.Errorf("session has no active stream")
	}
	return stream.Write(audio)
}

// freshResults copies out buffered results newer than cutoff and prunes the
// buffer of anything past retention.
func (s *Session) freshResults(cutoff time.Time) []recognizer.LiveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruneBefore := time.Now().Add(-retention)
	kept := s.buffer[:0]
	var out []recognizer.LiveResult
	for _, tr := range s.buffer {
		if tr.addedAt.Before(pruneBefore) {
			continue
		}
		kept = append(kept, tr)
		if !tr.addedAt.Before(cutoff) {
			out = append(out, tr.res)
		}
	}
	s.buffer = kept
	return out
}

// appendMockResult synthesizes one deterministic result so the protocol can
// be exercised end-to-end without credentials. The speaker label derives
// from a hash of the session key.
func (s *Session) appendMockResult(key string, audio []byte) {
	h := fnv.New32a()
	h.Write([]byte(key))
	speaker := fmt.Sprintf("Mluvčí %d", h.Sum32()%3+1)

	// 16kHz 16-bit mono is what callers push; close enough for mock timing.
	chunkSeconds := float64(len(audio)) / 32000

	s.mu.Lock()
	s.counter++
	res := recognizer.LiveResult{
		SpeakerID: speaker,
		Text:      fmt.Sprintf("Ukázkový rozpoznaný segment %d.", s.counter),
		Offset:    s.offset,
		Duration:  chunkSeconds,
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	}
	s.offset += chunkSeconds
	s.buffer = append(s.buffer, timedResult{res: res, addedAt: time.Now()})
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}
