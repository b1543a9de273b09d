package api

// ProxyRequest is the body accepted by the per-provider endpoints.
type ProxyRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Scope is contextual metadata used to bias provider selection.
type Scope struct {
	Topic       string `json:"topic,omitempty"`
	Personality string `json:"personality,omitempty"`
}

// Analysis describes the prompt as classified by the caller.
type Analysis struct {
	TaskType       string `json:"taskType,omitempty"`
	Complexity     string `json:"complexity,omitempty" binding:"omitempty,oneof=low medium high"`
	RequiresVision bool   `json:"requiresVision,omitempty"`
}

// RoutingRequest represents one inbound generation request.
type RoutingRequest struct {
	// caller assigned, generated when empty
	ID       string    `json:"id,omitempty" binding:"omitempty,max=128"`
	Prompt   string    `json:"prompt" binding:"required,notblank"`
	Scope    *Scope    `json:"scope,omitempty"`
	Analysis *Analysis `json:"analysis,omitempty"`
	ForceLLM string    `json:"forceLLM,omitempty"`

	// nil means the router default
	MaxRetries *int `json:"maxRetries,omitempty" binding:"omitempty,min=0,max=10"`
	// per attempt, in milliseconds
	Timeout  *int     `json:"timeout,omitempty" binding:"omitempty,min=1"`
	Priority Priority `json:"priority,omitempty" binding:"omitempty,oneof=low normal high"`

	UserID string `json:"userId,omitempty"`
}
