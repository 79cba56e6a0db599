package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/transkriptor/backend/internal/config"
)

type envConfig struct {
	Env                        string   `env:"ENV" envDefault:"production"`
	ServerPort                 int      `env:"SERVER_PORT" envDefault:"8080"`
	DataDir                    string   `env:"DATA_DIR" envDefault:"./data"`
	DefaultLanguage            string   `env:"DEFAULT_TRANSCRIBE_LANGUAGE" envDefault:"cs-CZ"`
	DatabaseURL                string   `env:"DATABASE_URL"`
	GoogleCloudProjectID       string   `env:"GOOGLE_CLOUD_PROJECT_ID"`
	GoogleCloudCredentialsJSON string   `env:"GOOGLE_CLOUD_CREDENTIALS_JSON"`
	GoogleCloudSpeechLocation  string   `env:"GOOGLE_CLOUD_SPEECH_LOCATION" envDefault:"europe-west4"`
	GoogleCloudSpeechModel     string   `env:"GOOGLE_CLOUD_SPEECH_MODEL" envDefault:"chirp_3"`
	LLMAPIURL                  string   `env:"LLM_API_URL" envDefault:"https://api.openai.com/v1/audio/transcriptions"`
	LLMAPIKey                  string   `env:"LLM_API_KEY"`
	LLMModel                   string   `env:"LLM_MODEL" envDefault:"gpt-4o-transcribe"`
	BatchAPIEndpoint           string   `env:"BATCH_API_ENDPOINT"`
	BatchAPIKey                string   `env:"BATCH_API_KEY"`
	BatchPollIntervalSec       int      `env:"BATCH_POLL_INTERVAL_SEC" envDefault:"5"`
	StorageURL                 string   `env:"STORAGE_URL"`
	StorageKey                 string   `env:"STORAGE_SERVICE_KEY"`
	StorageBucket              string   `env:"STORAGE_BUCKET" envDefault:"data"`
	SignedURLTTLHours          int      `env:"SIGNED_URL_TTL_HOURS" envDefault:"24"`
	KafkaBrokers               []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic                 string   `env:"KAFKA_TOPIC" envDefault:"transcriptions.completed"`
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		ServerPort:                 raw.ServerPort,
		DataDir:                    raw.DataDir,
		DefaultLanguage:            raw.DefaultLanguage,
		DatabaseURL:                raw.DatabaseURL,
		GoogleCloudProjectID:       raw.GoogleCloudProjectID,
		GoogleCloudCredentialsJSON: raw.GoogleCloudCredentialsJSON,
		GoogleCloudSpeechLocation:  raw.GoogleCloudSpeechLocation,
		GoogleCloudSpeechModel:     raw.GoogleCloudSpeechModel,
		LLMAPIURL:                  raw.LLMAPIURL,
		LLMAPIKey:                  raw.LLMAPIKey,
		LLMModel:                   raw.LLMModel,
		BatchAPIEndpoint:           raw.BatchAPIEndpoint,
		BatchAPIKey:                raw.BatchAPIKey,
		BatchPollIntervalSec:       raw.BatchPollIntervalSec,
		StorageURL:                 raw.StorageURL,
		StorageKey:                 raw.StorageKey,
		StorageBucket:              raw.StorageBucket,
		SignedURLTTLHours:          raw.SignedURLTTLHours,
		KafkaBrokers:               raw.KafkaBrokers,
		KafkaTopic:                 raw.KafkaTopic,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
