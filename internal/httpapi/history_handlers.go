package httpapi

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/transkriptor/backend/internal/transcript"
)

type createHistoryRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	SessionID string `json:"session_id" validate:"required"`
	Type      string `json:"type"`
}

func (s *Server) handleCreateHistory(c *fiber.Ctx) error {
	var req createHistoryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	historyType := transcript.HistoryType(req.Type)
	if req.Type == "" {
		historyType = transcript.HistoryTypeTranscription
	}

	h, err := s.store.CreateHistory(c.Context(), req.UserID, req.SessionID, historyType)
	if err != nil {
		slog.Error("failed to create history", "user_id", req.UserID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to create history"})
	}
	return c.Status(fiber.StatusCreated).JSON(h)
}

func (s *Server) handleListHistory(c *fiber.Ctx) error {
	visibleOnly := c.QueryBool("visible_only", true)
	limit := c.QueryInt("limit", 100)

	list, err := s.store.GetAllHistory(c.Context(), visibleOnly, limit)
	if err != nil {
		slog.Error("failed to list history", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list history"})
	}
	return c.JSON(fiber.Map{"histories": list})
}

func (s *Server) handleUserHistory(c *fiber.Ctx) error {
	list, err := s.store.GetUserHistory(c.Context(), c.Params("userID"), c.QueryBool("visible_only", true))
	if err != nil {
		slog.Error("failed to list user history", "user_id", c.Params("userID"), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list user history"})
	}
	return c.JSON(fiber.Map{"histories": list})
}

func (s *Server) handleSessionHistory(c *fiber.Ctx) error {
	list, err := s.store.GetSessionHistory(c.Context(), c.Params("sessionID"), c.QueryBool("visible_only", true))
	if err != nil {
		slog.Error("failed to list session history", "session_id", c.Params("sessionID"), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list session history"})
	}
	return c.JSON(fiber.Map{"histories": list})
}

func (s *Server) handleGetHistory(c *fiber.Ctx) error {
	h, err := s.store.GetHistoryByID(c.Context(), c.Params("id"))
	if err != nil {
		slog.Error("failed to load history", "id", c.Params("id"), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load history"})
	}
	if h == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "history not found"})
	}
	return c.JSON(h)
}

func (s *Server) handleGetTranscriptions(c *fiber.Ctx) error {
	h, err := s.store.GetHistoryByID(c.Context(), c.Params("id"))
	if err != nil {
		slog.Error("failed to load history", "id", c.Params("id"), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load history"})
	}
	if h == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "history not found"})
	}
	return c.JSON(fiber.Map{"transcriptions": h.Transcriptions})
}

type visibilityRequest struct {
	Visible *bool `json:"visible" validate:"required"`
}

func (s *Server) handleToggleVisibility(c *fiber.Ctx) error {
	var req visibilityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ok, err := s.store.ToggleVisibility(c.Context(), c.Params("id"), *req.Visible)
	if err != nil {
		slog.Error("failed to toggle visibility", "id", c.Params("id"), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to toggle visibility"})
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "history not found"})
	}
	return c.JSON(fiber.Map{"id": c.Params("id"), "visible": *req.Visible})
}

type attachAnalysisRequest struct {
	TranscriptionIndex int    `json:"transcription_index"`
	CustomPrompt       string `json:"custom_prompt"`
}

// handleAttachAnalysis runs the analyzer over one stored transcription and
// persists the result onto it.
func (s *Server) handleAttachAnalysis(c *fiber.Ctx) error {
	var req attachAnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	h, err := s.store.GetHistoryByID(c.Context(), c.Params("id"))
	if err != nil {
		slog.Error("failed to load history", "id", c.Params("id"), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load history"})
	}
	if h == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "history not found"})
	}
	if req.TranscriptionIndex < 0 || req.TranscriptionIndex >= len(h.Transcriptions) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "transcription index out of range"})
	}

	var sb strings.Builder
	for _, chunk := range h.Transcriptions[req.TranscriptionIndex].Chunks {
		sb.WriteString(chunk.Text)
		sb.WriteString("\n")
	}
	analysis, err := s.analyzer.Analyze(c.Context(), sb.String(), req.CustomPrompt)
	if err != nil {
		slog.Error("analysis failed", "id", c.Params("id"), "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "analysis failed"})
	}

	ok, err := s.store.AttachAnalysis(c.Context(), c.Params("id"), req.TranscriptionIndex, analysis)
	if err != nil || !ok {
		slog.Error("failed to attach analysis", "id", c.Params("id"), "ok", ok, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to attach analysis"})
	}
	return c.JSON(fiber.Map{"analysis": analysis})
}
