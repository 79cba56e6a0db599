package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/transkriptor/backend/internal/dispatcher"
	"github.com/valyala/fasthttp"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"env":    s.cfg.Env,
	})
}

func (s *Server) handleUpload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "multipart field 'file' is required",
		})
	}
	name := filepath.Base(file.Filename)
	dest := filepath.Join(s.cfg.DataDir, name)
	if err := c.SaveFile(file, dest); err != nil {
		slog.Error("failed to save upload", "filename", name, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to store uploaded file",
		})
	}
	return c.JSON(fiber.Map{
		"filename": name,
		"size":     file.Size,
	})
}

func (s *Server) handleLoadFiles(c *fiber.Ctx) error {
	if s.blobs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "blob storage is not configured",
		})
	}
	files, err := s.blobs.List(c.Context())
	if err != nil {
		slog.Error("failed to list blobs", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "failed to list blob storage",
		})
	}
	return c.JSON(fiber.Map{"files": files})
}

type uploadFromBlobRequest struct {
	BlobName string `json:"blob_name" form:"blob_name" validate:"required"`
}

func (s *Server) handleUploadFromBlob(c *fiber.Ctx) error {
	if s.blobs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "blob storage is not configured",
		})
	}
	var req uploadFromBlobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	name := filepath.Base(req.BlobName)
	dest := filepath.Join(s.cfg.DataDir, name)
	if err := s.blobs.Download(c.Context(), req.BlobName, dest); err != nil {
		slog.Error("failed to download blob", "blob_name", req.BlobName, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "failed to download blob",
		})
	}
	return c.JSON(fiber.Map{"filename": name})
}

type submitRequest struct {
	Filename    string  `json:"filename" form:"filename" validate:"required"`
	Language    string  `json:"language" form:"language"`
	Model       string  `json:"model" form:"model" validate:"required"`
	Temperature float64 `json:"temperature" form:"temperature"`
	Diarization string  `json:"diarization" form:"diarization"`
	Combine     string  `json:"combine" form:"combine"`
	UserID      string  `json:"user_id" form:"user_id"`
	SessionID   string  `json:"session_id" form:"session_id"`
}

// handleSubmit starts a transcription job and streams its events back as
// server-sent events. Validation failures return before any worker starts;
// later failures arrive as a terminal error event on the stream.
func (s *Server) handleSubmit(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	name := filepath.Base(req.Filename)
	audioPath := filepath.Join(s.cfg.DataDir, name)
	if _, err := os.Stat(audioPath); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("audio file %q not found", name),
		})
	}

	// The job context outlives this handler; the stream writer cancels it
	// when the client goes away so abandoned workers stop early.
	jobCtx, cancel := context.WithCancel(context.Background())
	job, err := s.dispatcher.Submit(jobCtx, dispatcher.SubmitParams{
		AudioPath:   audioPath,
		Filename:    name,
		Language:    req.Language,
		Model:       req.Model,
		Temperature: req.Temperature,
		Diarization: req.Diarization,
		Combine:     req.Combine,
		UserID:      req.UserID,
		SessionID:   req.SessionID,
	})
	if err != nil {
		cancel()
		switch {
		case errors.Is(err, dispatcher.ErrInvalidModel):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, dispatcher.ErrNoBlobStorage):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		default:
			slog.Error("submission failed", "filename", name, "model", req.Model, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		for {
			ev, err := job.Bridge.Next(jobCtx)
			if err != nil {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				slog.Error("failed to encode event", "error", err)
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				// Client is gone; the deferred cancel stops the worker.
				return
			}
			if ev.Type.Terminal() {
				break
			}
		}
		job.Wait()
	}))
	return nil
}

type analyzeRequest struct {
	Text         string `json:"text" validate:"required"`
	CustomPrompt string `json:"custom_prompt"`
}

func (s *Server) handleAnalyze(c *fiber.Ctx) error {
	var req analyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := s.validate.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	analysis, err := s.analyzer.Analyze(c.Context(), req.Text, req.CustomPrompt)
	if err != nil {
		slog.Error("analysis failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "analysis failed"})
	}
	return c.JSON(fiber.Map{"analysis": analysis})
}
