package config

import (
	"fmt"
)

type Config struct {
	Env                        string
	ServerPort                 int
	DataDir                    string
	DefaultLanguage            string
	DatabaseURL                string
	GoogleCloudProjectID       string
	GoogleCloudCredentialsJSON string
	GoogleCloudSpeechLocation  string
	GoogleCloudSpeechModel     string
	LLMAPIURL                  string
	LLMAPIKey                  string
	LLMModel                   string
	BatchAPIEndpoint           string
	BatchAPIKey                string
	BatchPollIntervalSec       int
	StorageURL                 string
	StorageKey                 string
	StorageBucket              string
	SignedURLTTLHours          int
	KafkaBrokers               []string
	KafkaTopic                 string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("SERVER_PORT must be a valid port, got %d", c.ServerPort)
	}
	if c.SignedURLTTLHours <= 0 {
		return fmt.Errorf("SIGNED_URL_TTL_HOURS must be positive, got %d", c.SignedURLTTLHours)
	}
	if c.BatchPollIntervalSec <= 0 {
		return fmt.Errorf("BATCH_POLL_INTERVAL_SEC must be positive, got %d", c.BatchPollIntervalSec)
	}
	if c.GoogleCloudProjectID != "" && c.GoogleCloudCredentialsJSON == "" {
		return fmt.Errorf("GOOGLE_CLOUD_CREDENTIALS_JSON is required when GOOGLE_CLOUD_PROJECT_ID is set")
	}
	if c.StorageURL != "" && c.StorageKey == "" {
		return fmt.Errorf("STORAGE_SERVICE_KEY is required when STORAGE_URL is set")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DEFAULT_TRANSCRIBE_LANGUAGE", value: c.DefaultLanguage},
		{name: "DATA_DIR", value: c.DataDir},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// HasDatabase reports whether the durable history store can be used.
// When false the process falls back to the volatile in-memory store.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasSpeechCredentials() bool {
	return c.GoogleCloudProjectID != "" && c.GoogleCloudCredentialsJSON != ""
}

func (c *Config) HasBlobStorage() bool {
	return c.StorageURL != "" && c.StorageKey != ""
}

func (c *Config) HasKafka() bool {
	return len(c.KafkaBrokers) > 0
}
