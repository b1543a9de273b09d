package api

import "time"

type TokenUsage struct {
	Prompt     int  `json:"prompt"`
	Completion int  `json:"completion"`
	Total      int  `json:"total"`
	Estimated  bool `json:"estimated,omitempty"`
}

// NewTokenUsage keeps Total equal to Prompt + Completion.
func NewTokenUsage(prompt, completion int, estimated bool) TokenUsage {
	return TokenUsage{
		Prompt:     prompt,
		Completion: completion,
		Total:      prompt + completion,
		Estimated:  estimated,
	}
}

type Costs struct {
	PromptCost     float64 `json:"promptCost"`
	CompletionCost float64 `json:"completionCost"`
	TotalCost      float64 `json:"totalCost"`
	Currency       string  `json:"currency"`
}

// NewCosts keeps TotalCost equal to PromptCost + CompletionCost.
func NewCosts(promptCost, completionCost float64) Costs {
	return Costs{
		PromptCost:     promptCost,
		CompletionCost: completionCost,
		TotalCost:      promptCost + completionCost,
		Currency:       "USD",
	}
}

type Attempt struct {
	Provider   string `json:"provider"`
	Attempt    int    `json:"attempt"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
}

type Timing struct {
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	DurationMS  int64     `json:"durationMs"`
	Attempts    []Attempt `json:"attempts"`
}

type Transition struct {
	State    string    `json:"state"`
	Provider string    `json:"provider,omitempty"`
	At       time.Time `json:"at"`
}

type RoutingMetadata struct {
	Model            string                 `json:"model,omitempty"`
	Priority         Priority               `json:"priority"`
	States           []Transition           `json:"states"`
	ProviderMetadata map[string]interface{} `json:"providerMetadata,omitempty"`
}

// RoutingResponse is one-to-one with a completed RoutingRequest.
type RoutingResponse struct {
	RequestID     string          `json:"requestId"`
	Result        string          `json:"result"`
	LLMUsed       string          `json:"llmUsed"`
	FallbacksUsed []string        `json:"fallbacksUsed,omitempty"`
	Timing        Timing          `json:"timing"`
	TokenUsage    TokenUsage      `json:"tokenUsage"`
	Costs         Costs           `json:"costs"`
	Metadata      RoutingMetadata `json:"metadata"`
}

// ProxyResponse is returned by the per-provider endpoints.
type ProxyResponse struct {
	Provider string                 `json:"provider"`
	Model    string                 `json:"model,omitempty"`
	Text     string                 `json:"text"`
	Usage    TokenUsage             `json:"usage"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
