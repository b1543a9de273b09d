package llm

import (
	"strings"
	"time"
)

const (
	DialectOpenAI    = "openai"
	DialectAzure     = "azure"
	DialectAnthropic = "anthropic"
	DialectGemini    = "gemini"
	DialectOllama    = "ollama"

	DefaultTimeout = 30 * time.Second
)

// Parameters are the default generation parameters sent with every prompt.
// Unset sampling parameters are left to the vendor; an explicit 0 is sent.
type Parameters struct {
	MaxTokens   int      `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Temperature *float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	TopP        *float64 `json:"top_p,omitempty" mapstructure:"top_p"`
}

type RateLimit struct {
	RequestsPerSecond float64 `json:"requestsPerSecond" mapstructure:"requestsPerSecond"`
	Burst             int     `json:"burst" mapstructure:"burst"`
}

// ProviderConfig is the static connection info of a single provider.
type ProviderConfig struct {
	Name           string `json:"name" mapstructure:"name" validate:"required"`
	Endpoint       string `json:"apiEndpoint" mapstructure:"apiEndpoint" validate:"required,url"`
	KeyEnvVariable string `json:"keyEnvVariable" mapstructure:"keyEnvVariable"`

	Dialect    string            `json:"dialect,omitempty" mapstructure:"dialect" validate:"omitempty,oneof=openai azure anthropic gemini ollama"`
	Model      string            `json:"model,omitempty" mapstructure:"model"`
	Parameters Parameters        `json:"parameters" mapstructure:"parameters"`
	TimeoutMS  int               `json:"timeoutMs,omitempty" mapstructure:"timeoutMs" validate:"gte=0"`
	Headers    map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	RateLimit  RateLimit         `json:"rateLimit" mapstructure:"rateLimit"`
	Priority   int               `json:"priority,omitempty" mapstructure:"priority"`
	Tags       []string          `json:"tags,omitempty" mapstructure:"tags"`

	// USD per token
	CostPerPromptToken     float64 `json:"costPerPromptToken,omitempty" mapstructure:"costPerPromptToken" validate:"gte=0"`
	CostPerCompletionToken float64 `json:"costPerCompletionToken,omitempty" mapstructure:"costPerCompletionToken" validate:"gte=0"`

	// set by the loader
	Category string `json:"-" mapstructure:"-"`
	APIKey   string `json:"-" mapstructure:"-"`
}

// Timeout returns the configured per-call timeout.
func (c ProviderConfig) Timeout() time.Duration {
	if c.TimeoutMS > 0 {
		return time.Duration(c.TimeoutMS) * time.Millisecond
	}
	return DefaultTimeout
}

func (c ProviderConfig) DialectName() string {
	if c.Dialect == "" {
		return DialectOpenAI
	}
	return strings.ToLower(c.Dialect)
}

// RequiresKey reports whether calls must carry an API key.
func (c ProviderConfig) RequiresKey() bool {
	return c.DialectName() != DialectOllama || c.KeyEnvVariable != ""
}

// HasTag matches tags case-insensitively.
func (c ProviderConfig) HasTag(tag string) bool {
	if tag == "" {
		return false
	}
	for _, t := range c.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Cost prices a completion at the provider's declared rates.
func (c ProviderConfig) Cost(promptTokens, completionTokens int) (promptCost, completionCost float64) {
	return float64(promptTokens) * c.CostPerPromptToken, float64(completionTokens) * c.CostPerCompletionToken
}
