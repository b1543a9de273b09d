package llm

import (
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"
)

type authStyle int

const (
	authNone authStyle = iota
	authBearer
	authHeader
	authQuery
)

// dialect describes one vendor wire format. Everything that differed between
// the per-vendor handlers lives here as data.
type dialect struct {
	name string

	auth      authStyle
	authField string // header or query parameter name

	defaultHeaders map[string]string
	build          func(cfg ProviderConfig, prompt string) interface{}

	// gjson paths into the vendor response
	textPath             string
	promptTokensPath     string
	completionTokensPath string
	modelPath            string
	idPath               string
	finishPath           string
	errorPath            string
}

var dialects = map[string]dialect{
	DialectOpenAI: {
		name:                 DialectOpenAI,
		auth:                 authBearer,
		build:                buildChatBody,
		textPath:             "choices.0.message.content",
		promptTokensPath:     "usage.prompt_tokens",
		completionTokensPath: "usage.completion_tokens",
		modelPath:            "model",
		idPath:               "id",
		finishPath:           "choices.0.finish_reason",
		errorPath:            "error.message",
	},
	DialectAzure: {
		name:                 DialectAzure,
		auth:                 authHeader,
		authField:            "api-key",
		build:                buildChatBody,
		textPath:             "choices.0.message.content",
		promptTokensPath:     "usage.prompt_tokens",
		completionTokensPath: "usage.completion_tokens",
		modelPath:            "model",
		idPath:               "id",
		finishPath:           "choices.0.finish_reason",
		errorPath:            "error.message",
	},
	DialectAnthropic: {
		name:                 DialectAnthropic,
		auth:                 authHeader,
		authField:            "x-api-key",
		defaultHeaders:       map[string]string{"anthropic-version": "2023-06-01"},
		build:                buildAnthropicBody,
		textPath:             "content.0.text",
		promptTokensPath:     "usage.input_tokens",
		completionTokensPath: "usage.output_tokens",
		modelPath:            "model",
		idPath:               "id",
		finishPath:           "stop_reason",
		errorPath:            "error.message",
	},
	DialectGemini: {
		name:                 DialectGemini,
		auth:                 authQuery,
		authField:            "key",
		build:                buildGeminiBody,
		textPath:             "candidates.0.content.parts.0.text",
		promptTokensPath:     "usageMetadata.promptTokenCount",
		completionTokensPath: "usageMetadata.candidatesTokenCount",
		modelPath:            "modelVersion",
		idPath:               "responseId",
		finishPath:           "candidates.0.finishReason",
		errorPath:            "error.message",
	},
	DialectOllama: {
		name:                 DialectOllama,
		auth:                 authBearer,
		build:                buildOllamaBody,
		textPath:             "response",
		promptTokensPath:     "prompt_eval_count",
		completionTokensPath: "eval_count",
		modelPath:            "model",
		finishPath:           "done_reason",
		errorPath:            "error",
	},
}

func lookupDialect(name string) (dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("unknown dialect %q", name)
	}
	return d, nil
}

// target resolves the URL and headers for one call.
func (d dialect) target(cfg ProviderConfig) (string, map[string]string, error) {
	headers := make(map[string]string, len(d.defaultHeaders)+len(cfg.Headers)+1)
	for k, v := range d.defaultHeaders {
		headers[k] = v
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	endpoint := cfg.Endpoint
	if cfg.APIKey == "" {
		return endpoint, headers, nil
	}

	switch d.auth {
	case authBearer:
		headers["Authorization"] = "Bearer " + cfg.APIKey
	case authHeader:
		headers[d.authField] = cfg.APIKey
	case authQuery:
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", nil, fmt.Errorf("invalid endpoint: %w", err)
		}
		q := u.Query()
		q.Set(d.authField, cfg.APIKey)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	return endpoint, headers, nil
}

// parse normalizes a 2xx vendor body.
func (d dialect) parse(body []byte) (*Completion, bool, error) {
	if !gjson.ValidBytes(body) {
		return nil, false, fmt.Errorf("response is not valid JSON")
	}

	text := gjson.GetBytes(body, d.textPath)
	if !text.Exists() {
		if msg := gjson.GetBytes(body, d.errorPath); msg.Exists() {
			return nil, false, fmt.Errorf("%s", msg.String())
		}
		return nil, false, fmt.Errorf("response has no %s", d.textPath)
	}

	c := &Completion{
		Text:     text.String(),
		Model:    gjson.GetBytes(body, d.modelPath).String(),
		Metadata: make(map[string]interface{}),
	}

	if d.idPath != "" {
		if id := gjson.GetBytes(body, d.idPath); id.Exists() {
			c.Metadata["id"] = id.String()
		}
	}
	if finish := gjson.GetBytes(body, d.finishPath); finish.Exists() {
		c.Metadata["finish_reason"] = finish.String()
	}

	prompt := gjson.GetBytes(body, d.promptTokensPath)
	completion := gjson.GetBytes(body, d.completionTokensPath)
	c.Usage.Prompt = int(prompt.Int())
	c.Usage.Completion = int(completion.Int())

	return c, prompt.Exists() && completion.Exists(), nil
}

// errorMessage pulls a human readable message out of a vendor error body.
func (d dialect) errorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, d.errorPath); msg.Exists() && msg.String() != "" {
			return msg.String()
		}
	}
	if len(body) > 512 {
		return string(body[:512])
	}
	return string(body)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatBody struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
}

func buildChatBody(cfg ProviderConfig, prompt string) interface{} {
	return chatBody{
		Model:       cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   cfg.Parameters.MaxTokens,
		Temperature: cfg.Parameters.Temperature,
		TopP:        cfg.Parameters.TopP,
	}
}

const anthropicDefaultMaxTokens = 1024

func buildAnthropicBody(cfg ProviderConfig, prompt string) interface{} {
	body := chatBody{
		Model:       cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   cfg.Parameters.MaxTokens,
		Temperature: cfg.Parameters.Temperature,
		TopP:        cfg.Parameters.TopP,
	}
	// required by the messages API
	if body.MaxTokens == 0 {
		body.MaxTokens = anthropicDefaultMaxTokens
	}
	return body
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
}

type geminiBody struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

func buildGeminiBody(cfg ProviderConfig, prompt string) interface{} {
	body := geminiBody{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	if cfg.Parameters != (Parameters{}) {
		body.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: cfg.Parameters.MaxTokens,
			Temperature:     cfg.Parameters.Temperature,
			TopP:            cfg.Parameters.TopP,
		}
	}
	return body
}

type ollamaOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

type ollamaBody struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options *ollamaOptions `json:"options,omitempty"`
}

func buildOllamaBody(cfg ProviderConfig, prompt string) interface{} {
	body := ollamaBody{Model: cfg.Model, Prompt: prompt}
	if cfg.Parameters != (Parameters{}) {
		body.Options = &ollamaOptions{
			NumPredict:  cfg.Parameters.MaxTokens,
			Temperature: cfg.Parameters.Temperature,
			TopP:        cfg.Parameters.TopP,
		}
	}
	return body
}
