package publisher

import (
	"github.com/samber/do/v2"
	"github.com/transkriptor/backend/internal/config"
	"github.com/transkriptor/backend/internal/observability"
	"github.com/transkriptor/backend/internal/publisher"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (publisher.Sender, error) {
		cfg := do.MustInvoke[*config.Config](i)
		metrics := do.MustInvoke[*observability.Metrics](i)
		return NewKafkaSender(KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, metrics), nil
	})
}
