package audio

import (
	"github.com/samber/do/v2"
	"github.com/transkriptor/backend/internal/audio"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(do.Injector) (audio.Inspector, error) {
		return NewWAVInspector(), nil
	})
	do.Provide(injector, func(do.Injector) (audio.Converter, error) {
		return NewFFmpegConverter(), nil
	})
}
