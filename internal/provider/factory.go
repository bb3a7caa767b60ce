package provider

import (
	"context"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
)

// Defaults applied when the matching variable is unset.
const (
	defaultOllamaHost  = "http://localhost:11434"
	defaultOllamaModel = "llama3.1"
	defaultOpenAIModel = "gpt-4o"
	defaultAzureAPI    = "2024-02-01"
	defaultGeminiModel = "gemini-1.5-pro"
	defaultMaxTokens   = 4096
	defaultTemperature = 0.3
)

// ConfigFromEnv reads the chat model configuration from the process
// environment. MODEL_PROVIDER picks the backend (default ollama); each
// backend reads its own native credential variables:
//
//	ollama  OLLAMA_HOST, OLLAMA_MODEL
//	openai  OPENAI_API_KEY, OPENAI_MODEL, OPENAI_BASE_URL
//	azure   AZURE_OPENAI_API_KEY, AZURE_OPENAI_ENDPOINT, AZURE_OPENAI_DEPLOYMENT, AZURE_OPENAI_API_VERSION
//	ark     ARK_API_KEY, ARK_MODEL, ARK_BASE_URL
//	gemini  GOOGLE_API_KEY, GEMINI_MODEL
//
// MODEL_MAX_TOKENS and MODEL_TEMPERATURE apply to all of them. Unparseable
// numbers fall back to the defaults.
func ConfigFromEnv() *Config {
	return configFrom(os.Getenv)
}

// configFrom builds a Config from an arbitrary variable lookup.
func configFrom(getenv func(string) string) *Config {
	e := envReader(getenv)
	return &Config{
		Backend: Backend(e.str("MODEL_PROVIDER", string(BackendOllama))),
		Ollama: ProviderOllama{
			Host:  e.str("OLLAMA_HOST", defaultOllamaHost),
			Model: e.str("OLLAMA_MODEL", defaultOllamaModel),
		},
		OpenAI: ProviderOpenAI{
			APIKey:  e.str("OPENAI_API_KEY", ""),
			Model:   e.str("OPENAI_MODEL", defaultOpenAIModel),
			BaseURL: e.str("OPENAI_BASE_URL", ""),
		},
		AzureOpenAI: ProviderAzureOpenAI{
			APIKey:     e.str("AZURE_OPENAI_API_KEY", ""),
			Endpoint:   e.str("AZURE_OPENAI_ENDPOINT", ""),
			Deployment: e.str("AZURE_OPENAI_DEPLOYMENT", ""),
			APIVersion: e.str("AZURE_OPENAI_API_VERSION", defaultAzureAPI),
		},
		Ark: ProviderArk{
			APIKey:  e.str("ARK_API_KEY", ""),
			Model:   e.str("ARK_MODEL", ""),
			BaseURL: e.str("ARK_BASE_URL", ""),
		},
		Gemini: ProviderGemini{
			APIKey: e.str("GOOGLE_API_KEY", ""),
			Model:  e.str("GEMINI_MODEL", defaultGeminiModel),
		},
		Tuning: SharedTuning{
			MaxTokens:   e.integer("MODEL_MAX_TOKENS", defaultMaxTokens),
			Temperature: e.float32("MODEL_TEMPERATURE", defaultTemperature),
		},
	}
}

// New validates cfg and constructs the chat model of its backend.
func New(ctx context.Context, cfg *Config) (model.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	build := map[Backend]func(context.Context, *Config) (model.BaseChatModel, error){
		BackendOllama: newOllama,
		BackendOpenAI: newOpenAI,
		BackendAzure:  newAzure,
		BackendArk:    newArk,
		BackendGemini: newGemini,
	}
	return build[cfg.Backend](ctx, cfg)
}

type envReader func(string) string

func (e envReader) str(key, fallback string) string {
	if v := e(key); v != "" {
		return v
	}
	return fallback
}

func (e envReader) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(e(key)); err == nil {
		return n
	}
	return fallback
}

func (e envReader) float32(key string, fallback float32) float32 {
	if f, err := strconv.ParseFloat(e(key), 32); err == nil {
		return float32(f)
	}
	return fallback
}
