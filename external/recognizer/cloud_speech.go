package recognizer

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/google/uuid"
	"github.com/transkriptor/backend/internal/recognizer"
	"github.com/transkriptor/backend/internal/transcript"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	speechAPIEndpointPort = 443
	// Streaming requests cap audio payloads at 25600 bytes.
	maxAudioChunkBytes = 25600
)

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
	DefaultLanguage string
}

// CloudSpeechDriver streams audio files through Cloud Speech v2 and also
// carries the continuous connections of live sessions.
type CloudSpeechDriver struct {
	cfg CloudSpeechConfig
}

func NewCloudSpeechDriver(cfg CloudSpeechConfig) *CloudSpeechDriver {
	cfg.Location = strings.TrimSpace(cfg.Location)
	cfg.Model = strings.TrimSpace(cfg.Model)
	return &CloudSpeechDriver{cfg: cfg}
}

func (d *CloudSpeechDriver) Available() bool {
	return d.cfg.ProjectID != "" && d.cfg.CredentialsJSON != ""
}

func (d *CloudSpeechDriver) newClient(ctx context.Context) (*speech.Client, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(d.cfg.CredentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}
	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if d.cfg.Location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", d.cfg.Location, speechAPIEndpointPort)))
	}
	return speech.NewClient(ctx, opts...)
}

func (d *CloudSpeechDriver) recognizerName() string {
	return fmt.Sprintf("projects/%s/locations/%s/recognizers/_", d.cfg.ProjectID, d.cfg.Location)
}

func (d *CloudSpeechDriver) streamingConfig(language string, sampleRate, channels int, diarization bool) *speechpb.StreamingRecognitionConfig {
	if language == "" {
		language = d.cfg.DefaultLanguage
	}
	features := &speechpb.RecognitionFeatures{}
	if diarization {
		features.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			MinSpeakerCount: 1,
			MaxSpeakerCount: 6,
		}
	}
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Model:         d.cfg.Model,
			LanguageCodes: []string{language},
			DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
				ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
					Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
					SampleRateHertz:   int32(sampleRate),
					AudioChannelCount: int32(channels),
				},
			},
			Features: features,
		},
		StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
	}
}

// Run recognizes a single-channel file and emits the closing event itself on
// success.
func (d *CloudSpeechDriver) Run(ctx context.Context, params recognizer.StartParams, emit recognizer.Callback) error {
	pcm, err := loadPCM(params.AudioPath)
	if err != nil {
		return err
	}
	client, err := d.newClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := d.streamPCM(ctx, client, pcm, params, 1, "", emit); err != nil {
		return err
	}
	emit(transcript.Event{Type: transcript.EventClosing, Filename: params.Filename})
	return nil
}

// RunAdvanced deinterleaves the channels of a stereo-or-wider file and
// recognizes each one on its own stream, labelling results by channel.
func (d *CloudSpeechDriver) RunAdvanced(ctx context.Context, params recognizer.StartParams, emit recognizer.Callback) error {
	pcm, err := loadPCM(params.AudioPath)
	if err != nil {
		return err
	}
	channels := params.Channels
	if channels < 1 {
		channels = 1
	}
	client, err := d.newClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	perChannel := deinterleavePCM16(pcm, channels)
	var wg sync.WaitGroup
	errs := make([]error, channels)
	for ch := 0; ch < channels; ch++ {
		wg.Add(1)
		go func(ch int) {
			defer wg.Done()
			speaker := fmt.Sprintf("%d", ch+1)
			errs[ch] = d.streamPCM(ctx, client, perChannel[ch], params, 1, speaker, emit)
		}(ch)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	emit(transcript.Event{Type: transcript.EventClosing, Filename: params.Filename})
	return nil
}

func (d *CloudSpeechDriver) streamPCM(ctx context.Context, client *speech.Client, pcm []byte, params recognizer.StartParams, channels int, speaker string, emit recognizer.Callback) error {
	language := params.Language
	if language == "" {
		language = d.cfg.DefaultLanguage
	}
	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		return err
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		Recognizer: d.recognizerName(),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: d.streamingConfig(language, params.SamplesPerSecond, channels, params.Diarization),
		},
	}); err != nil {
		_ = stream.CloseSend()
		return err
	}

	recvDone := make(chan error, 1)
	go func() {
		var lastEndTicks int64
		for {
			resp, err := stream.Recv()
			if err != nil {
				if err == io.EOF {
					recvDone <- nil
				} else {
					recvDone <- err
				}
				return
			}
			for _, result := range resp.GetResults() {
				if len(result.GetAlternatives()) == 0 {
					continue
				}
				text := result.GetAlternatives()[0].GetTranscript()
				endTicks := result.GetResultEndOffset().AsDuration().Nanoseconds() / 100
				if !result.GetIsFinal() {
					emit(transcript.Event{
						Type:      transcript.EventTranscribing,
						Text:      text,
						Offset:    lastEndTicks,
						SpeakerID: speaker,
						Filename:  params.Filename,
						Language:  language,
					})
					continue
				}
				emit(transcript.Event{
					Type:      transcript.EventTranscribed,
					Text:      text,
					Offset:    lastEndTicks,
					Duration:  endTicks - lastEndTicks,
					SpeakerID: speaker,
					ResultID:  uuid.NewString(),
					Filename:  params.Filename,
					Language:  language,
				})
				lastEndTicks = endTicks
			}
		}
	}()

	for off := 0; off < len(pcm); off += maxAudioChunkBytes {
		end := off + maxAudioChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := ctx.Err(); err != nil {
			_ = stream.CloseSend()
			<-recvDone
			return err
		}
		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: pcm[off:end]},
		}); err != nil {
			_ = stream.CloseSend()
			<-recvDone
			return err
		}
	}
	if err := stream.CloseSend(); err != nil {
		<-recvDone
		return err
	}
	return <-recvDone
}

// StartLive opens the continuous connection carrying one live session. The
// stream reconnects transparently when the backend aborts a long-lived
// connection.
func (d *CloudSpeechDriver) StartLive(ctx context.Context, sessionKey, language string, receiver recognizer.LiveReceiver) (recognizer.LiveStream, error) {
	slog.Info("starting live recognition stream", "session_key", sessionKey, "location", d.cfg.Location, "language", language)
	client, err := d.newClient(ctx)
	if err != nil {
		return nil, err
	}

	sendConfig := func(s speechpb.Speech_StreamingRecognizeClient) error {
		return s.Send(&speechpb.StreamingRecognizeRequest{
			Recognizer: d.recognizerName(),
			StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
				StreamingConfig: d.streamingConfig(language, 16000, 1, true),
			},
		})
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := sendConfig(stream); err != nil {
		_ = stream.CloseSend()
		_ = client.Close()
		return nil, err
	}

	w := &liveStream{
		stream:   stream,
		receiver: receiver,
		newStreamFn: func() (speechpb.Speech_StreamingRecognizeClient, error) {
			next, err := client.StreamingRecognize(ctx)
			if err != nil {
				return nil, err
			}
			if err := sendConfig(next); err != nil {
				_ = next.CloseSend()
				return nil, err
			}
			return next, nil
		},
		closeFn: func() error {
			return client.Close()
		},
	}
	w.startReceiver(stream)
	return w, nil
}

type liveStream struct {
	mu          sync.Mutex
	closed      bool
	stream      speechpb.Speech_StreamingRecognizeClient
	receiver    recognizer.LiveReceiver
	newStreamFn func() (speechpb.Speech_StreamingRecognizeClient, error)
	closeFn     func() error
}

func (w *liveStream) Write(audio []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return io.ErrClosedPipe
	}
	req := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: audio},
	}
	if err := w.stream.Send(req); err != nil {
		if !isReconnectableStreamError(err) {
			return err
		}
		slog.Warn("live stream send failed with reconnectable error; reconnecting", "error", err)
		if err := w.reconnectLocked(); err != nil {
			return fmt.Errorf("reconnect stream: %w", err)
		}
		return w.stream.Send(req)
	}
	return nil
}

func (w *liveStream) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.stream.CloseSend(); err != nil {
		_ = w.closeFn()
		return err
	}
	return w.closeFn()
}

func (w *liveStream) reconnectLocked() error {
	_ = w.stream.CloseSend()
	next, err := w.newStreamFn()
	if err != nil {
		slog.Error("failed to reconnect live stream", "error", err)
		return err
	}
	w.stream = next
	w.startReceiver(next)
	slog.Info("live stream reconnected")
	return nil
}

func (w *liveStream) startReceiver(stream speechpb.Speech_StreamingRecognizeClient) {
	go func() {
		var lastEndSec float64
		for {
			resp, err := stream.Recv()
			if err != nil {
				if err == io.EOF || strings.Contains(err.Error(), "context canceled") {
					slog.Info("live receive loop stopped", "reason", err.Error())
					return
				}
				if isReconnectableStreamError(err) {
					slog.Warn("live receive loop ended with reconnectable abort", "error", err)
					return
				}
				w.receiver.OnError(err)
				return
			}
			for _, result := range resp.GetResults() {
				if !result.GetIsFinal() || len(result.GetAlternatives()) == 0 {
					continue
				}
				alt := result.GetAlternatives()[0]
				endSec := result.GetResultEndOffset().AsDuration().Seconds()
				speaker := ""
				if words := alt.GetWords(); len(words) > 0 {
					speaker = words[0].GetSpeakerLabel()
				}
				w.receiver.OnResult(recognizer.LiveResult{
					SpeakerID: speaker,
					Text:      alt.GetTranscript(),
					Offset:    lastEndSec,
					Duration:  endSec - lastEndSec,
					Timestamp: float64(time.Now().UnixMilli()) / 1000,
				})
				lastEndSec = endSec
			}
		}
	}()
}

func isReconnectableStreamError(err error) bool {
	if err == io.EOF || strings.Contains(strings.ToLower(err.Error()), "eof") {
		return true
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Aborted {
		return false
	}
	msg := strings.ToLower(st.Message())
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}

// loadPCM returns the raw sample payload of a WAV file, or the file as-is
// when no RIFF header is present.
func loadPCM(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 12 || !bytes.Equal(raw[0:4], []byte("RIFF")) || !bytes.Equal(raw[8:12], []byte("WAVE")) {
		return raw, nil
	}
	off := 12
	for off+8 <= len(raw) {
		id := string(raw[off : off+4])
		size := int(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := off + 8
		if id == "data" {
			end := body + size
			if end > len(raw) {
				end = len(raw)
			}
			return raw[body:end], nil
		}
		off = body + size
		if size%2 == 1 {
			off++
		}
	}
	return nil, fmt.Errorf("wav file %s has no data chunk", path)
}

// deinterleavePCM16 splits interleaved 16-bit samples into one buffer per
// channel.
func deinterleavePCM16(pcm []byte, channels int) [][]byte {
	if channels <= 1 {
		return [][]byte{pcm}
	}
	frame := 2 * channels
	frames := len(pcm) / frame
	out := make([][]byte, channels)
	for ch := range out {
		out[ch] = make([]byte, 0, frames*2)
	}
	for f := 0; f < frames; f++ {
		base := f * frame
		for ch := 0; ch < channels; ch++ {
			out[ch] = append(out[ch], pcm[base+2*ch], pcm[base+2*ch+1])
		}
	}
	return out
}
