package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/transkriptor/backend/internal/audio"
)

// FFmpegConverter shells out to ffmpeg for format normalization. Converted
// files are written next to the input with a suffixed name; inputs are left
// untouched.
type FFmpegConverter struct {
	binary string
}

func NewFFmpegConverter() audio.Converter {
	return &FFmpegConverter{binary: "ffmpeg"}
}

func (c *FFmpegConverter) ToWAV(ctx context.Context, path string) (string, error) {
	out := replaceExt(path, "_converted.wav")
	err := c.run(ctx,
		"-y", "-i", path,
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		out,
	)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (c *FFmpegConverter) ToMono(ctx context.Context, path string) (string, error) {
	out := replaceExt(path, "_mono.wav")
	err := c.run(ctx,
		"-y", "-i", path,
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", "16000",
		out,
	)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (c *FFmpegConverter) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		slog.Error("ffmpeg failed", "args", strings.Join(args, " "), "output", tail(string(output), 512))
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func replaceExt(path, suffix string) string {
	if i := strings.LastIndex(path, "."); i > strings.LastIndex(path, "/") {
		return path[:i] + suffix
	}
	return path + suffix
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
