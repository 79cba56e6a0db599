package recognizer

import (
	"time"

	"github.com/samber/do/v2"
	"github.com/transkriptor/backend/internal/config"
	"github.com/transkriptor/backend/internal/recognizer"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*CloudSpeechDriver, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewCloudSpeechDriver(CloudSpeechConfig{
			ProjectID:       cfg.GoogleCloudProjectID,
			CredentialsJSON: cfg.GoogleCloudCredentialsJSON,
			Location:        cfg.GoogleCloudSpeechLocation,
			Model:           cfg.GoogleCloudSpeechModel,
			DefaultLanguage: cfg.DefaultLanguage,
		}), nil
	})
	do.Provide(injector, func(i do.Injector) (*LLMDriver, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewLLMDriver(LLMConfig{
			APIURL: cfg.LLMAPIURL,
			APIKey: cfg.LLMAPIKey,
			Model:  cfg.LLMModel,
		}), nil
	})
	do.Provide(injector, func(i do.Injector) (*BatchDriver, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewBatchDriver(BatchConfig{
			Endpoint:     cfg.BatchAPIEndpoint,
			APIKey:       cfg.BatchAPIKey,
			PollInterval: time.Duration(cfg.BatchPollIntervalSec) * time.Second,
		}), nil
	})
	do.ProvideNamed(injector, "driver.speech", func(i do.Injector) (recognizer.StreamingDriver, error) {
		return do.MustInvoke[*CloudSpeechDriver](i), nil
	})
	do.ProvideNamed(injector, "driver.llm", func(i do.Injector) (recognizer.StreamingDriver, error) {
		return do.MustInvoke[*LLMDriver](i), nil
	})
	do.Provide(injector, func(i do.Injector) (recognizer.BatchDriver, error) {
		return do.MustInvoke[*BatchDriver](i), nil
	})
	do.Provide(injector, func(i do.Injector) (recognizer.Analyzer, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return NewLLMAnalyzer(LLMConfig{
			APIURL: cfg.LLMAPIURL,
			APIKey: cfg.LLMAPIKey,
		}), nil
	})
	do.Provide(injector, func(i do.Injector) (recognizer.LiveTranscriber, error) {
		return do.MustInvoke[*CloudSpeechDriver](i), nil
	})
}
