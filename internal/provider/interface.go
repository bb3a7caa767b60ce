// Package provider selects and constructs the chat model that answers
// questions over a context's retrieved passages.
// Supported backends: Ollama, OpenAI, Azure OpenAI, Volcengine Ark, Google Gemini.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Backends lists every valid Backend value.
var Backends = []Backend{BackendOllama, BackendOpenAI, BackendAzure, BackendArk, BackendGemini}

// ProviderOllama holds Ollama settings.
type ProviderOllama struct {
	// Host is the Ollama base URL, e.g. http://localhost:11434.
	Host string
	// Model is the Ollama model tag, e.g. "llama3.1".
	Model string
}

// ProviderOpenAI holds OpenAI settings.
type ProviderOpenAI struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint for OpenAI-compatible servers.
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI settings.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	// APIVersion is the REST API version, e.g. "2024-02-01".
	APIVersion string
}

// ProviderArk holds Volcengine Ark settings.
type ProviderArk struct {
	APIKey string
	// Model is the Ark endpoint or model ID.
	Model   string
	BaseURL string
}

// ProviderGemini holds Google Gemini settings.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// SharedTuning holds generation settings common to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens the model may generate per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds all provider-level configuration. Only the block matching
// Backend is read.
type Config struct {
	Backend     Backend
	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini
	Tuning      SharedTuning
}

// setting pairs a required value with the environment variable that
// supplies it.
type setting struct {
	env   string
	value string
}

// required lists the settings the selected backend cannot start without.
func (c *Config) required() ([]setting, error) {
	switch c.Backend {
	case BackendOllama:
		return []setting{{"OLLAMA_MODEL", c.Ollama.Model}}, nil
	case BackendOpenAI:
		return []setting{
			{"OPENAI_API_KEY", c.OpenAI.APIKey},
			{"OPENAI_MODEL", c.OpenAI.Model},
		}, nil
	case BackendAzure:
		return []setting{
			{"AZURE_OPENAI_API_KEY", c.AzureOpenAI.APIKey},
			{"AZURE_OPENAI_ENDPOINT", c.AzureOpenAI.Endpoint},
			{"AZURE_OPENAI_DEPLOYMENT", c.AzureOpenAI.Deployment},
		}, nil
	case BackendArk:
		return []setting{
			{"ARK_API_KEY", c.Ark.APIKey},
			{"ARK_MODEL", c.Ark.Model},
		}, nil
	case BackendGemini:
		return []setting{
			{"GOOGLE_API_KEY", c.Gemini.APIKey},
			{"GEMINI_MODEL", c.Gemini.Model},
		}, nil
	}
	return nil, fmt.Errorf("provider: unknown backend %q, valid values: %s", c.Backend, backendList())
}

// Validate reports every missing setting of the selected backend at once,
// naming the environment variables that supply them.
func (c *Config) Validate() error {
	reqs, err := c.required()
	if err != nil {
		return err
	}
	var missing []string
	for _, r := range reqs {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("provider: %s backend needs %s", c.Backend, strings.Join(missing, ", "))
	}
	return nil
}

// ModelName returns the model (or deployment) the selected backend will use.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	}
	return ""
}

func backendList() string {
	names := make([]string, len(Backends))
	for i, b := range Backends {
		names[i] = string(b)
	}
	return strings.Join(names, ", ")
}
