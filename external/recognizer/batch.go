package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/transkriptor/backend/internal/recognizer"
	"github.com/transkriptor/backend/internal/transcript"
)

type BatchConfig struct {
	Endpoint     string
	APIKey       string
	PollInterval time.Duration
}

// BatchDriver submits a transcription job for audio reachable by URL and
// polls until the service finishes, then replays the recognized phrases as
// one transcribed_batch event.
type BatchDriver struct {
	cfg    BatchConfig
	client *http.Client
}

func NewBatchDriver(cfg BatchConfig) *BatchDriver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &BatchDriver{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type batchJob struct {
	Self   string `json:"self"`
	Status string `json:"status"`
	Links  struct {
		Files string `json:"files"`
	} `json:"links"`
	Properties struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"properties"`
}

type batchFileList struct {
	Values []struct {
		Kind  string `json:"kind"`
		Links struct {
			ContentURL string `json:"contentUrl"`
		} `json:"links"`
	} `json:"values"`
}

type batchResultFile struct {
	RecognizedPhrases []struct {
		OffsetInTicks   float64 `json:"offsetInTicks"`
		DurationInTicks float64 `json:"durationInTicks"`
		Speaker         int     `json:"speaker"`
		Locale          string  `json:"locale"`
		NBest           []struct {
			Display string `json:"display"`
		} `json:"nBest"`
	} `json:"recognizedPhrases"`
}

func (d *BatchDriver) RunBatch(ctx context.Context, params recognizer.StartParams, emit recognizer.Callback) error {
	jobURL, err := d.submit(ctx, params)
	if err != nil {
		return err
	}
	slog.Info("batch transcription submitted", "job", jobURL, "filename", params.Filename)

	job, err := d.waitForCompletion(ctx, jobURL, params, emit)
	if err != nil {
		return err
	}
	results, err := d.fetchResults(ctx, job)
	if err != nil {
		return err
	}

	emit(transcript.Event{
		Type:     transcript.EventTranscribedBatch,
		Filename: params.Filename,
		Language: params.Language,
		Results:  results,
	})
	return nil
}

func (d *BatchDriver) submit(ctx context.Context, params recognizer.StartParams) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"contentUrls": []string{params.ContentURL},
		"locale":      params.Language,
		"displayName": params.Filename,
		"properties": map[string]any{
			"diarizationEnabled": params.Diarization,
			"wordLevelTimestampsEnabled": true,
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	d.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("batch submit returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var job batchJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return "", fmt.Errorf("decode batch submit response: %w", err)
	}
	if job.Self == "" {
		return "", fmt.Errorf("batch submit response has no job url")
	}
	return job.Self, nil
}

func (d *BatchDriver) waitForCompletion(ctx context.Context, jobURL string, params recognizer.StartParams, emit recognizer.Callback) (*batchJob, error) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		job, err := d.getJob(ctx, jobURL)
		if err != nil {
			return nil, err
		}
		switch job.Status {
		case "Succeeded":
			return job, nil
		case "Failed":
			msg := job.Properties.Error.Message
			if msg == "" {
				msg = "batch transcription failed"
			}
			return nil, fmt.Errorf("%s", msg)
		default:
			emit(transcript.Event{
				Type:     transcript.EventTranscribing,
				Text:     job.Status,
				Filename: params.Filename,
			})
		}
	}
}

func (d *BatchDriver) getJob(ctx context.Context, jobURL string) (*batchJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
	if err != nil {
		return nil, err
	}
	d.authorize(req)
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch status returned %d", resp.StatusCode)
	}
	var job batchJob
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode batch status: %w", err)
	}
	return &job, nil
}

func (d *BatchDriver) fetchResults(ctx context.Context, job *batchJob) ([]transcript.BatchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.Links.Files, nil)
	if err != nil {
		return nil, err
	}
	d.authorize(req)
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch files listing returned %d", resp.StatusCode)
	}
	var files batchFileList
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode batch files listing: %w", err)
	}

	var results []transcript.BatchResult
	for _, f := range files.Values {
		if f.Kind != "Transcription" {
			continue
		}
		fileResults, err := d.fetchResultFile(ctx, f.Links.ContentURL)
		if err != nil {
			return nil, err
		}
		results = append(results, fileResults...)
	}
	return results, nil
}

func (d *BatchDriver) fetchResultFile(ctx context.Context, url string) ([]transcript.BatchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("batch result file returned %d", resp.StatusCode)
	}
	var file batchResultFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode batch result file: %w", err)
	}
	var out []transcript.BatchResult
	for _, p := range file.RecognizedPhrases {
		if len(p.NBest) == 0 {
			continue
		}
		out = append(out, transcript.BatchResult{
			Text:      p.NBest[0].Display,
			Offset:    int64(p.OffsetInTicks),
			Duration:  int64(p.DurationInTicks),
			SpeakerID: fmt.Sprintf("%d", p.Speaker),
			Language:  p.Locale,
		})
	}
	return out, nil
}

func (d *BatchDriver) authorize(req *http.Request) {
	req.Header.Set("Ocp-Apim-Subscription-Key", d.cfg.APIKey)
}
