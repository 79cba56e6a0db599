package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/transkriptor/backend/internal/recognizer"
	"github.com/transkriptor/backend/internal/transcript"
)

func (s *Server) registerLiveRoutes(app *fiber.App) {
	lv := app.Group("/live")
	lv.Get("/status", s.handleLiveStatus)
	lv.Post("/:key/push", s.handleLivePush)
	lv.Post("/:key/save", s.handleLiveSave)
	lv.Post("/:key/cleanup", s.handleLiveCleanup)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/transcribe", websocket.New(s.handleWSTranscribe))
}

// handleLivePush feeds one raw audio chunk into the session and reports
// recently produced results.
func (s *Server) handleLivePush(c *fiber.Ctx) error {
	key := c.Params("key")
	audio := c.Body()
	if len(audio) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "empty audio payload"})
	}

	res, err := s.registry.PushAudio(c.Context(), key, audio)
	if err != nil {
		slog.Error("live push failed", "session_key", key, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to push audio"})
	}
	return c.JSON(res)
}

type liveSaveRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	SessionID string `json:"session_id"`
}

// handleLiveSave drains the session's buffered results and persists them as
// one completed transcription under a live_transcription history.
func (s *Server) handleLiveSave(c *fiber.Ctx) error {
	key := c.Params("key")
	var req liveSaveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = key
	}

	results := s.registry.DrainResults(key)
	if len(results) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no live results to save"})
	}

	h, err := s.store.CreateHistory(c.Context(), req.UserID, sessionID, transcript.HistoryTypeLiveTranscription)
	if err != nil {
		slog.Error("failed to create live history", "session_key", key, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create history"})
	}

	rec := transcript.Transcription{
		FileName:         key,
		FileNameOriginal: key,
		Language:         s.cfg.DefaultLanguage,
		Model:            transcript.ModelAzureSpeechSDK,
		Status:           transcript.StatusCompleted,
		Timestamp:        time.Now(),
		Chunks:           liveResultsToChunks(key, results),
	}
	ok, err := s.store.AddTranscription(c.Context(), h.ID, &rec)
	if err != nil || !ok {
		slog.Error("failed to persist live transcription", "history_id", h.ID, "ok", ok, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to persist live transcription"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"history_id":       h.ID,
		"transcription_id": rec.ID,
		"chunks":           len(rec.Chunks),
	})
}

func (s *Server) handleLiveCleanup(c *fiber.Ctx) error {
	key := c.Params("key")
	s.registry.Cleanup(key)
	return c.JSON(fiber.Map{"cleaned": key})
}

func (s *Server) handleLiveStatus(c *fiber.Ctx) error {
	keys := s.registry.ActiveKeys()
	return c.JSON(fiber.Map{
		"sessions": keys,
		"count":    len(keys),
	})
}

type wsControlMessage struct {
	Type string `json:"type"`
}

// handleWSTranscribe is the bidirectional live path: binary frames are audio
// chunks, text frames are control messages ("stop"), and the server pushes
// transcription results as they accumulate.
func (s *Server) handleWSTranscribe(conn *websocket.Conn) {
	key := conn.Query("session")
	if key == "" {
		key = uuid.NewString()
	}
	ctx := context.Background()
	defer s.registry.Cleanup(key)

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			slog.Info("websocket closed", "session_key", key, "error", err)
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			if _, err := s.registry.PushAudio(ctx, key, payload); err != nil {
				slog.Error("websocket audio push failed", "session_key", key, "error", err)
				_ = conn.WriteJSON(fiber.Map{"type": "error", "message": "failed to process audio"})
				continue
			}
			if results := s.registry.DrainResults(key); len(results) > 0 {
				if err := conn.WriteJSON(fiber.Map{"type": "transcription", "results": results}); err != nil {
					return
				}
			}
		case websocket.TextMessage:
			var msg wsControlMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				_ = conn.WriteJSON(fiber.Map{"type": "error", "message": "invalid control message"})
				continue
			}
			if msg.Type == "stop" {
				if results := s.registry.DrainResults(key); len(results) > 0 {
					_ = conn.WriteJSON(fiber.Map{"type": "transcription", "results": results})
				}
				return
			}
		}
	}
}

// liveResultsToChunks converts second-based live results to the tick-based
// chunk layout the stores persist.
func liveResultsToChunks(key string, results []recognizer.LiveResult) []transcript.Chunk {
	chunks := make([]transcript.Chunk, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, transcript.Chunk{
			EventType: transcript.EventTranscribed,
			Session:   key,
			Offset:    int64(r.Offset * 1e7),
			Duration:  int64(r.Duration * 1e7),
			Text:      r.Text,
			SpeakerID: r.SpeakerID,
		})
	}
	return chunks
}
