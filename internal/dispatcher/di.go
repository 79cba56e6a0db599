package dispatcher

import (
	"log/slog"
	"time"

	"github.com/samber/do/v2"
	"github.com/transkriptor/backend/internal/audio"
	"github.com/transkriptor/backend/internal/config"
	"github.com/transkriptor/backend/internal/history"
	"github.com/transkriptor/backend/internal/observability"
	"github.com/transkriptor/backend/internal/publisher"
	"github.com/transkriptor/backend/internal/recognizer"
	"github.com/transkriptor/backend/internal/storage"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Dispatcher, error) {
		cfg := do.MustInvoke[*config.Config](i)

		// Blob storage is optional; whisper submissions are rejected at
		// submit time when it is absent.
		blobs, err := do.Invoke[storage.BlobStore](i)
		if err != nil {
			slog.Warn("blob storage unavailable, batch transcription disabled", "error", err)
			blobs = nil
		}

		return New(Deps{
			Speech:          do.MustInvokeNamed[recognizer.StreamingDriver](i, "driver.speech"),
			LLM:             do.MustInvokeNamed[recognizer.StreamingDriver](i, "driver.llm"),
			Batch:           do.MustInvoke[recognizer.BatchDriver](i),
			Inspector:       do.MustInvoke[audio.Inspector](i),
			Converter:       do.MustInvoke[audio.Converter](i),
			Blobs:           blobs,
			Store:           do.MustInvoke[history.Store](i),
			Sender:          do.MustInvoke[publisher.Sender](i),
			Metrics:         do.MustInvoke[*observability.Metrics](i),
			SignedURLTTL:    time.Duration(cfg.SignedURLTTLHours) * time.Hour,
			DefaultLanguage: cfg.DefaultLanguage,
		}), nil
	})
}
