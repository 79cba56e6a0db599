package live

import (
	"github.com/samber/do/v2"
	"github.com/transkriptor/backend/internal/config"
	"github.com/transkriptor/backend/internal/observability"
	"github.com/transkriptor/backend/internal/recognizer"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Registry, error) {
		cfg := do.MustInvoke[*config.Config](i)
		transcriber := do.MustInvoke[recognizer.LiveTranscriber](i)
		metrics := do.MustInvoke[*observability.Metrics](i)
		return NewRegistry(transcriber, metrics, cfg.DefaultLanguage), nil
	})
}
