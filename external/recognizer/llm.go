package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transkriptor/backend/internal/recognizer"
	"github.com/transkriptor/backend/internal/transcript"
)

const llmRequestTimeout = 10 * time.Minute

type LLMConfig struct {
	APIURL string
	APIKey string
	Model  string
}

// LLMDriver posts whole files to an OpenAI-compatible transcription endpoint
// and replays the returned segments as recognition events.
type LLMDriver struct {
	cfg    LLMConfig
	client *http.Client
}

func NewLLMDriver(cfg LLMConfig) *LLMDriver {
	return &LLMDriver{
		cfg:    cfg,
		client: &http.Client{Timeout: llmRequestTimeout},
	}
}

type llmSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type llmTranscription struct {
	Text     string       `json:"text"`
	Segments []llmSegment `json:"segments"`
}

func (d *LLMDriver) Run(ctx context.Context, params recognizer.StartParams, emit recognizer.Callback) error {
	res, err := d.transcribeFile(ctx, params)
	if err != nil {
		return err
	}
	language := params.Language
	segments := res.Segments
	if len(segments) == 0 && res.Text != "" {
		segments = []llmSegment{{Text: res.Text}}
	}
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		emit(transcript.Event{
			Type:     transcript.EventTranscribed,
			Text:     text,
			Offset:   secondsToTicks(seg.Start),
			Duration: secondsToTicks(seg.End - seg.Start),
			ResultID: uuid.NewString(),
			Filename: params.Filename,
			Language: language,
		})
	}
	emit(transcript.Event{Type: transcript.EventClosing, Filename: params.Filename})
	return nil
}

// RunAdvanced is the same request; the endpoint accepts multi-channel audio
// directly and channel separation adds nothing here.
func (d *LLMDriver) RunAdvanced(ctx context.Context, params recognizer.StartParams, emit recognizer.Callback) error {
	return d.Run(ctx, params, emit)
}

func (d *LLMDriver) transcribeFile(ctx context.Context, params recognizer.StartParams) (*llmTranscription, error) {
	f, err := os.Open(params.AudioPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(params.AudioPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	_ = mw.WriteField("model", d.cfg.Model)
	_ = mw.WriteField("response_format", "verbose_json")
	_ = mw.WriteField("temperature", strconv.FormatFloat(params.Temperature, 'f', -1, 64))
	if params.Language != "" {
		// The endpoint wants a bare ISO 639-1 code, not a BCP 47 tag.
		_ = mw.WriteField("language", strings.SplitN(params.Language, "-", 2)[0])
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.APIURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcription endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out llmTranscription
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}
	return &out, nil
}

const defaultAnalysisPrompt = "Summarize the key points of the following transcript and list any decisions or action items."

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// LLMAnalyzer runs post-hoc transcript analysis against the chat endpoint of
// the same API the transcription driver talks to.
type LLMAnalyzer struct {
	cfg    LLMConfig
	client *http.Client
}

func NewLLMAnalyzer(cfg LLMConfig) *LLMAnalyzer {
	return &LLMAnalyzer{
		cfg:    cfg,
		client: &http.Client{Timeout: llmRequestTimeout},
	}
}

func (a *LLMAnalyzer) Analyze(ctx context.Context, transcriptText, customPrompt string) (string, error) {
	prompt := customPrompt
	if prompt == "" {
		prompt = defaultAnalysisPrompt
	}
	payload, err := json.Marshal(chatRequest{
		Model: "gpt-4o",
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: transcriptText},
		},
	})
	if err != nil {
		return "", err
	}

	url := strings.Replace(a.cfg.APIURL, "audio/transcriptions", "chat/completions", 1)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("analysis endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode analysis response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("analysis endpoint returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func secondsToTicks(s float64) int64 {
	return int64(s * 1e7)
}
